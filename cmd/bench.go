package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"overlaystudy/workload"
)

var benchProtocol string
var benchNodes int
var benchOps int
var benchConcurrency int

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Drive a generated workload against an overlay and report hop stats",
	Run: func(cmd *cobra.Command, args []string) {
		ov, _, err := buildOverlay(benchProtocol, benchNodes)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}

		keys := make([]string, benchOps)
		for i := range keys {
			keys[i] = fmt.Sprintf("record-%d", i)
		}
		gen := workload.NewUniformGenerator(keys, []workload.OperationTag{
			workload.OpInsert,
			workload.OpLookup,
			workload.OpUpdate,
			workload.OpDelete,
		}, benchOps, 1)

		stats := workload.NewStats()
		from := ov.Nodes()[0]

		ctx := context.Background()
		var runErr error
		if benchConcurrency > 1 {
			runErr = workload.RunConcurrent(ctx, ov, from, gen, stats.Observe, benchConcurrency)
		} else {
			runErr = workload.Run(ctx, ov, from, gen, stats.Observe)
		}
		if runErr != nil {
			fmt.Println("Error:", runErr)
			return
		}

		fmt.Printf("%s overlay, %d nodes, %d ops, concurrency=%d\n", ov.Kind(), ov.NodeCount(), benchOps, benchConcurrency)
		for _, s := range stats.Summaries() {
			fmt.Printf("  %-7s %-7s count=%-5d min=%-3d max=%-3d mean=%.2f\n", s.Protocol, s.Op, s.Count, s.Min, s.Max, s.Mean)
		}
	},
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().StringVar(&benchProtocol, "protocol", "chord", "overlay protocol (chord or pastry)")
	benchCmd.Flags().IntVar(&benchNodes, "nodes", 8, "number of nodes to place in the overlay")
	benchCmd.Flags().IntVar(&benchOps, "ops", 100, "number of operations to generate")
	benchCmd.Flags().IntVar(&benchConcurrency, "concurrency", 1, "number of concurrent workers issuing operations")
}
