package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sijosaju/multistream-downloader/internal/api"
	"github.com/Sijosaju/multistream-downloader/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API surface (spec.md §6) for a GUI or browser extension to drive",
	Run: func(cmd *cobra.Command, args []string) {
		isMaster, err := AcquireLock()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error acquiring lock: %v\n", err)
			os.Exit(1)
		}
		if !isMaster {
			fmt.Fprintln(os.Stderr, "msdl serve is already running")
			os.Exit(1)
		}
		defer ReleaseLock()

		port, _ := cmd.Flags().GetInt("port")

		manager, err := api.NewManager(config.GetHistoryDBPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening history store: %v\n", err)
			os.Exit(1)
		}
		defer manager.Close()

		server := api.NewServer(manager)
		addr := fmt.Sprintf("127.0.0.1:%d", port)

		httpSrv := &http.Server{Addr: addr, Handler: server.Handler()}
		go func() {
			fmt.Printf("msdl %s listening on %s\n", Version, addr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		fmt.Println("\nshutting down...")
		_ = httpSrv.Close()
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
}
