package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "overlaystudy",
	Short: "Compare Chord and Pastry overlay routing",
	Long:  `overlaystudy builds an in-process Chord or Pastry overlay and drives it with a generated workload, reporting routing hop counts.`,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
