package cmd

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/audiolibrelab/tapedeck/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long: `List the capture devices available for the configured input format
(pulse via pactl, alsa via arecord). With --check the configured
recorder.input_device is validated against the list.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		check, _ := cmd.Flags().GetBool("check")
		format := cfg.Recorder.InputFormat

		lister := audio.NewSourceLister(nil)

		if check {
			if err := lister.ValidateSource(cmd.Context(), format, cfg.Recorder.InputDevice); err != nil {
				return fmt.Errorf("input device check failed: %w", err)
			}
			fmt.Printf("Input device %q is available (%s)\n", cfg.Recorder.InputDevice, format)
			return nil
		}

		sources, err := lister.ListSources(cmd.Context(), format)
		if err != nil {
			return fmt.Errorf("failed to get %s sources: %w", format, err)
		}
		slog.Debug("Listed sources", "format", format, "count", len(sources))

		fmt.Printf("Audio Sources (%s, %s)\n", format, runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")

		for i, source := range sources {
			marker := " "
			if source.Name == cfg.Recorder.InputDevice {
				marker = "*"
			}
			fmt.Printf(" %s %d. %s\n", marker, i+1, source.Name)
			if source.Description != "" {
				fmt.Printf("      %s\n", source.Description)
			}
		}

		fmt.Printf("\nUsage:\n")
		fmt.Printf("  • Configure in recorder.input_device (currently %q)\n", cfg.Recorder.InputDevice)
		fmt.Printf("  • \"default\" always follows the system default input\n\n")

		return nil
	},
}

func init() {
	sourcesCmd.Flags().Bool("check", false, "validate the configured input device")
}
