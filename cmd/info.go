package cmd

import (
	"fmt"

	"github.com/audiolibrelab/tapedeck/internal/library"
	"github.com/audiolibrelab/tapedeck/internal/storage"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration and storage details",
	Long:  `Display the resolved configuration with inheritance indicators, the storage directory and how many recordings it holds. Shows which values are inherited from the base configuration vs profile-specific.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		inherit := func(field string) string {
			if cfg.Inheritance == nil {
				return getInheritanceIndicator("")
			}
			return getInheritanceIndicator(cfg.Inheritance.Fields[field])
		}

		profileName := cfg.Profile
		if profileName == "" {
			profileName = "(none)"
		}

		fmt.Printf("=== RESOLVED CONFIGURATION ===\n")
		fmt.Printf("config_file: %s\n", cfgFile)
		fmt.Printf("profile: %s\n", profileName)

		fmt.Printf("\n[Storage]\n")
		fmt.Printf("directory: %s %s\n", cfg.Storage.Directory, inherit("storage.directory"))
		fmt.Printf("extension: %s %s\n", cfg.Storage.Extension, inherit("storage.extension"))

		fmt.Printf("\n[Recorder]\n")
		fmt.Printf("binary: %s %s\n", cfg.Recorder.Binary, inherit("recorder.binary"))
		fmt.Printf("input_format: %s %s\n", cfg.Recorder.InputFormat, inherit("recorder.input_format"))
		fmt.Printf("input_device: %s %s\n", cfg.Recorder.InputDevice, inherit("recorder.input_device"))
		fmt.Printf("sample_rate: %d %s\n", cfg.Recorder.SampleRate, inherit("recorder.sample_rate"))
		fmt.Printf("channels: %d %s\n", cfg.Recorder.Channels, inherit("recorder.channels"))
		fmt.Printf("codec: %s %s\n", cfg.Recorder.Codec, inherit("recorder.codec"))
		fmt.Printf("stop_timeout: %s %s\n", cfg.Recorder.StopTimeout, inherit("recorder.stop_timeout"))

		fmt.Printf("\n[Session]\n")
		fmt.Printf("operation_timeout: %s\n", cfg.Session.OperationTimeout)
		fmt.Printf("subscriber_buffer: %d\n", cfg.Session.SubscriberBuffer)

		lib := library.New(storage.New(nil, cfg.Storage.Directory), cfg.Storage.Extension)
		recordings, err := lib.List()
		if err != nil {
			return err
		}

		unnamed := 0
		for _, r := range recordings {
			if r.Temporary {
				unnamed++
			}
		}

		fmt.Printf("\n=== STORAGE ===\n")
		fmt.Printf("recordings: %d\n", len(recordings))
		fmt.Printf("unnamed: %d\n", unnamed)

		return nil
	},
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[unknown]"
	}
}
