package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"overlaystudy/identifier"
	"overlaystudy/overlay"
)

var buildProtocol string
var buildNodes int

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build an overlay in-process and print its topology",
	Run: func(cmd *cobra.Command, args []string) {
		ov, space, err := buildOverlay(buildProtocol, buildNodes)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		fmt.Printf("built %s overlay with %d nodes (m=%d bits)\n", ov.Kind(), ov.NodeCount(), space.M)
		for _, id := range ov.Nodes() {
			fmt.Printf("  node %d\n", id)
		}
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringVar(&buildProtocol, "protocol", "chord", "overlay protocol (chord or pastry)")
	buildCmd.Flags().IntVar(&buildNodes, "nodes", 8, "number of nodes to place in the overlay")
}

// buildOverlay builds an overlay of the given protocol over `nodes`
// in-memory node ids (spec §6 default config, node id = HashFn("node-"+i)
// per DESIGN.md's open-question decision).
func buildOverlay(protocol string, nodes int) (*overlay.Overlay, identifier.Space, error) {
	if nodes < 1 {
		return nil, identifier.Space{}, fmt.Errorf("cmd: --nodes must be >= 1")
	}

	cfg := overlay.DefaultConfig(nodes)
	space := identifier.NewSpace(uint(cfg.M))

	ids := make([]identifier.Identifier, nodes)
	for i := 0; i < nodes; i++ {
		ids[i] = identifier.HashFn(space, identifier.Normalize(fmt.Sprintf("node-%d", i)))
	}

	switch protocol {
	case "chord":
		ov, err := overlay.NewChord(cfg, ids)
		return ov, space, err
	case "pastry":
		ov, err := overlay.NewPastry(cfg, ids)
		return ov, space, err
	default:
		return nil, space, fmt.Errorf("cmd: unknown protocol %q (want chord or pastry)", protocol)
	}
}
