package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sijosaju/multistream-downloader/internal/config"
	"github.com/Sijosaju/multistream-downloader/internal/rl"
)

var rlCmd = &cobra.Command{
	Use:   "rl",
	Short: "Inspect or manage the persisted Q-table",
}

var rlStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the Q-table's decision/update counts and current exploration rate",
	Run: func(cmd *cobra.Command, args []string) {
		controller := rl.Load(config.DefaultStreams)
		stats := controller.StatsSnapshot()
		fmt.Printf("decisions:        %d\n", stats.Decisions)
		fmt.Printf("updates:          %d\n", stats.Updates)
		fmt.Printf("exploration rate: %.3f\n", stats.ExplorationRate)
		fmt.Printf("states observed:  %d\n", stats.States)
		fmt.Printf("connections:      %d\n", stats.Connections)
	},
}

var rlResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the Q-table and persist the empty table",
	Run: func(cmd *cobra.Command, args []string) {
		controller := rl.Load(config.DefaultStreams)
		controller.Reset()
		if err := controller.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "error saving q-table: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("q-table reset")
	},
}

var rlSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Force a Q-table persist (normally done automatically every few updates)",
	Run: func(cmd *cobra.Command, args []string) {
		controller := rl.Load(config.DefaultStreams)
		if err := controller.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "error saving q-table: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("q-table saved")
	},
}

func init() {
	rlCmd.AddCommand(rlStatsCmd)
	rlCmd.AddCommand(rlResetCmd)
	rlCmd.AddCommand(rlSaveCmd)
}
