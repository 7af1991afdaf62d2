package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/audiolibrelab/tapedeck/internal/audio"
	"github.com/audiolibrelab/tapedeck/internal/config"
	"github.com/audiolibrelab/tapedeck/internal/naming"
	"github.com/audiolibrelab/tapedeck/internal/session"
	"github.com/audiolibrelab/tapedeck/internal/storage"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a sample and name it",
	Long: `Start capturing from the configured input. Press Enter or Ctrl+C to stop,
then enter a title and comma separated tags. If the name is already taken
you are asked again; the recording stays at its temporary name until a
rename succeeds.

Use --title and --tags to name the sample without prompting.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		tags, _ := cmd.Flags().GetString("tags")
		titleSet := cmd.Flags().Changed("title")

		finalName, err := recordSample(cmd.Context(), stdinLines(), title, tags, titleSet)
		if err != nil {
			return err
		}

		// Execute pipeline if specified
		return executePipeline(finalName, 'r')
	},
}

func init() {
	recordCmd.Flags().String("title", "", "sample title (skips the prompt)")
	recordCmd.Flags().String("tags", "", "comma separated tags, used with --title")
}

// newController wires the storage directory, the ffmpeg recorder and a session controller
func newController(c *config.Config) (*session.Controller, *storage.Store) {
	store := storage.New(afero.NewOsFs(), c.Storage.Directory)
	rec := audio.NewFFmpegRecorder(c)

	ctrl := session.NewController(session.Options{
		Store:            store,
		Recorder:         rec,
		Extension:        c.Storage.Extension,
		OperationTimeout: c.Session.OperationTimeout,
		SubscriberBuffer: c.Session.SubscriberBuffer,
	})
	rec.SetEventSink(ctrl)

	return ctrl, store
}

// recordSample runs one interactive session and returns the final filename
func recordSample(parent context.Context, lines <-chan string, title, tags string, named bool) (string, error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stopSignals := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	ctrl, _ := newController(cfg)
	defer ctrl.Close()

	updates, cancel := ctrl.Subscribe()
	defer cancel()

	if err := ctrl.Start(ctx); err != nil {
		return "", err
	}

	snap, err := ctrl.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	fmt.Printf("Recording to %s - press Enter or Ctrl+C to stop...\n", ctrl.Path(snap.Filename))

	if err := waitForStopRequest(ctx, lines, updates); err != nil {
		return "", err
	}
	// Ctrl+C from here on exits; the capture stays at its temporary name
	stopSignals()

	snap, err = ctrl.Snapshot(context.Background())
	if err != nil {
		return "", err
	}
	if snap.State == session.StateRecording {
		slog.Info("Stopping recording...")
		if err := ctrl.Stop(context.Background()); err != nil {
			return "", fmt.Errorf("failed to stop recording: %w", err)
		}

		snap, err = waitForStopped(updates)
		if err != nil {
			return "", err
		}
	}
	fmt.Printf("Recording stopped: %s\n", ctrl.Path(snap.Filename))

	for {
		if !named {
			title, tags, err = promptName(lines, ctrl.Extension())
			if err != nil {
				return "", fmt.Errorf("%w (recording kept at %s)", err, ctrl.Path(snap.Filename))
			}
		}

		err := ctrl.Rename(context.Background(), title, tags)
		if err == nil {
			break
		}
		if !errors.Is(err, session.ErrRenameConflict) || named {
			return "", fmt.Errorf("%w (recording kept at %s)", err, ctrl.Path(snap.Filename))
		}
		fmt.Printf("Could not use that name: %v\n", err)
	}

	final, err := ctrl.Session(context.Background())
	if err != nil {
		return "", err
	}
	if final == nil {
		return "", session.ErrNoActiveSession
	}
	fmt.Printf("Saved %s (title: %s, tags: %s)\n", ctrl.Path(final.Name), final.Title, strings.Join(final.Tags, ", "))
	return final.Name, nil
}

// waitForStopRequest returns when the user asks to stop, or fails if capture dies first
func waitForStopRequest(ctx context.Context, lines <-chan string, updates <-chan session.Snapshot) error {
	for {
		select {
		case _, ok := <-lines:
			if ok {
				return nil
			}
			// stdin closed, only a signal can stop us now
			lines = nil
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				return session.ErrClosed
			}
			switch snap.State {
			case session.StateError:
				return fmt.Errorf("recording failed: %s", snap.Error)
			case session.StateStopped:
				// capture ended on its own
				return nil
			}
		}
	}
}

// waitForStopped blocks until the recorder acknowledges the stop
func waitForStopped(updates <-chan session.Snapshot) (session.Snapshot, error) {
	for snap := range updates {
		switch snap.State {
		case session.StateStopped:
			return snap, nil
		case session.StateError:
			return snap, fmt.Errorf("recording failed: %s (partial capture kept at %s)", snap.Error, snap.Filename)
		}
	}
	return session.Snapshot{}, session.ErrClosed
}

// promptName asks for a title and tags, showing the resulting filename
func promptName(lines <-chan string, extension string) (string, string, error) {
	fmt.Print("Title: ")
	title, ok := <-lines
	if !ok {
		return "", "", errors.New("no title entered")
	}

	fmt.Print("Tags (comma separated): ")
	tags, ok := <-lines
	if !ok {
		return "", "", errors.New("no tags entered")
	}

	fmt.Printf("Saving as %s\n", naming.GeneratePreviewFilename(title, tags, extension))
	return title, tags, nil
}

// stdinLines is shared so consecutive sessions do not race for input
var stdinLines = sync.OnceValue(func() <-chan string { return readLines(os.Stdin) })

// readLines delivers input lines until EOF, then closes the channel
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- strings.TrimRight(scanner.Text(), "\r")
		}
	}()
	return lines
}
