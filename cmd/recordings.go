package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/audiolibrelab/tapedeck/internal/library"
	"github.com/audiolibrelab/tapedeck/internal/storage"

	"github.com/spf13/cobra"
)

var recordingsCmd = &cobra.Command{
	Use:     "recordings",
	Aliases: []string{"ls"},
	Short:   "List recordings in the storage directory",
	Long: `List recordings newest first with their title and tags. Recordings still
at a temporary name are marked; name them with 'tapedeck rename'.

With --watch the list is printed again whenever the directory changes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		asJSON, _ := cmd.Flags().GetBool("json")

		store := storage.New(nil, cfg.Storage.Directory)
		lib := library.New(store, cfg.Storage.Extension)

		show := func(recordings []library.Recording) {
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				enc.Encode(recordings)
				return
			}
			printRecordings(lib.Dir(), recordings)
		}

		recordings, err := lib.List()
		if err != nil {
			return err
		}
		show(recordings)

		if !watch {
			return nil
		}

		if err := store.EnsureDir(); err != nil {
			return err
		}

		w, err := library.NewWatcher(lib, 0, show)
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return err
		}
		defer w.Stop()

		fmt.Fprintln(os.Stderr, "Watching for changes - press Ctrl+C to stop")
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		return nil
	},
}

func init() {
	recordingsCmd.Flags().BoolP("watch", "w", false, "keep listing as recordings change")
	recordingsCmd.Flags().Bool("json", false, "print JSON instead of a table")
}

func printRecordings(dir string, recordings []library.Recording) {
	fmt.Printf("Recordings in %s (%d)\n", dir, len(recordings))

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODIFIED\tTITLE\tTAGS\tSIZE\tFILE")
	for _, r := range recordings {
		title, tags := r.Title, strings.Join(r.Tags, ", ")
		if r.Temporary {
			title, tags = "(unnamed)", ""
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ModTime.Format("2006-01-02 15:04"), title, tags, formatSize(r.Size), r.Name)
	}
	tw.Flush()
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
