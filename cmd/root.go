package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sijosaju/multistream-downloader/internal/config"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "msdl",
	Short:   "A multi-stream HTTP downloader with an adaptive, RL-tuned worker pool",
	Long:    `msdl splits a download across parallel range requests and, in adaptive mode, lets a Q-learning controller resize the connection pool as network conditions change.`,
	Version: Version,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		if err := config.EnsureDirs(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not create app directories: %v\n", err)
		}
	})
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rlCmd)
	rootCmd.SetVersionTemplate("msdl version {{.Version}}\n")
}
