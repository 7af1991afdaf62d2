package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [file-or-title]",
	Short: "Play a recording",
	Long: `Play a recording with the first available of ffplay, mpv or vlc.
The argument is a filename or a title; the newest match wins. Without an
argument the newest named recording is played.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := ""
		if len(args) == 1 {
			query = args[0]
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := playRecording(ctx, query); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}

		return nil
	},
}
