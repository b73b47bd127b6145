package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Sijosaju/multistream-downloader/internal/coordinator"
	"github.com/Sijosaju/multistream-downloader/internal/job"
	"github.com/Sijosaju/multistream-downloader/internal/rl"
)

// runHeadless drives one download to completion, printing coarse
// progress to stderr every 10%. Grounded on the teacher's
// cmd/get.go runHeadless, adapted from its bubbletea message loop to
// this repo's job.ProgressHook callback.
func runHeadless(ctx context.Context, co *coordinator.Coordinator, req coordinator.Request) error {
	startTime := time.Now()
	lastDecile := int64(-1)

	co.OnProgress(func(downloaded, total int64) {
		if total <= 0 {
			return
		}
		decile := downloaded * 10 / total
		if decile == lastDecile {
			return
		}
		lastDecile = decile
		speed := float64(downloaded) / time.Since(startTime).Seconds()
		fmt.Fprintf(os.Stderr, "  %d%% (%s) - %s/s\n", decile*10,
			humanize.Bytes(uint64(downloaded)), humanize.Bytes(uint64(speed)))
	})

	j, err := co.DownloadRequest(ctx, req)
	if err != nil {
		return err
	}

	elapsed := j.Elapsed()
	speed := float64(j.TotalSize) / elapsed.Seconds()
	fmt.Fprintf(os.Stderr, "Complete: %s in %s (%s/s) -> %s\n",
		humanize.Bytes(uint64(j.TotalSize)), elapsed.Round(time.Millisecond),
		humanize.Bytes(uint64(speed)), j.OutputPath)
	return nil
}

var getCmd = &cobra.Command{
	Use:   "get [url]",
	Short: "Download a file, optionally with adaptive RL-controlled concurrency",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		url := args[0]
		outPath, _ := cmd.Flags().GetString("output")
		streams, _ := cmd.Flags().GetInt("streams")
		adaptive, _ := cmd.Flags().GetBool("adaptive")

		mode := job.ModeStatic
		if adaptive {
			mode = job.ModeAdaptive
		}

		var controller *rl.Controller
		if adaptive {
			controller = rl.Load(streams)
		}
		co := coordinator.New(controller)

		req := coordinator.Request{
			ID:         strconv.FormatInt(time.Now().UnixMilli(), 10),
			URL:        url,
			Mode:       mode,
			NumStreams: streams,
			OutputDir:  outPath,
		}

		if err := runHeadless(context.Background(), co, req); err != nil {
			fmt.Fprintf(os.Stderr, "download failed: %v\n", err)
			os.Exit(1)
		}

		if adaptive {
			if err := controller.Save(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: could not persist q-table: %v\n", err)
			}
		}
	},
}

func init() {
	getCmd.Flags().StringP("output", "o", "", "output directory (defaults to ~/Downloads/MultiStreamDownloader)")
	getCmd.Flags().IntP("streams", "s", 8, "number of parallel streams (fixed in static mode, initial in adaptive mode)")
	getCmd.Flags().BoolP("adaptive", "a", false, "enable the RL-controlled adaptive worker pool")
}
