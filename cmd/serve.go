package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/tapedeck/internal/library"
	"github.com/audiolibrelab/tapedeck/internal/server"
	"github.com/audiolibrelab/tapedeck/internal/session"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the TapeDeck web server to control recording over HTTP.
This allows you to start, stop and name recordings from your phone or any
device on the same network. /ws streams session state and library changes.

The server will display the local network URL for easy access from mobile devices.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetString("port")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ctrl, store := newController(cfg)
		defer ctrl.Close()
		defer stopActiveRecording(ctrl)

		lib := library.New(store, cfg.Storage.Extension)
		srv := server.New(ctrl, lib, port)

		if err := store.EnsureDir(); err != nil {
			slog.Warn("Library updates disabled", "error", err)
		} else {
			w, err := library.NewWatcher(lib, 0, srv.BroadcastRecordings)
			if err != nil {
				return fmt.Errorf("failed to create library watcher: %w", err)
			}
			if err := w.Start(); err != nil {
				slog.Warn("Library updates disabled", "error", err)
			}
			defer w.Stop()
		}

		slog.Info("TapeDeck web server starting", "port", port, "config", cfgFile, "storage", store.Dir())

		// Start server (this blocks)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server (overrides server.port)")
}

// stopActiveRecording asks the recorder to halt so ffmpeg does not outlive the server
func stopActiveRecording(ctrl *session.Controller) {
	snap, err := ctrl.Snapshot(context.Background())
	if err != nil || snap.State != session.StateRecording {
		return
	}
	slog.Info("Stopping recording before exit", "file", snap.Filename)
	if err := ctrl.Stop(context.Background()); err != nil {
		slog.Error("Failed to stop recording", "error", err)
	}
}
