package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/audiolibrelab/tapedeck/internal/library"
	"github.com/audiolibrelab/tapedeck/internal/play"
	"github.com/audiolibrelab/tapedeck/internal/storage"
)

// executePipeline runs the steps after startStep on the named recording
func executePipeline(filename string, startStep rune) error {
	if pipeline == "" {
		return nil
	}

	steps := []rune(strings.ToLower(pipeline))

	// Find the starting position in the pipeline
	startIndex := -1
	for i, step := range steps {
		if step == startStep {
			startIndex = i
			break
		}
	}

	if startIndex == -1 {
		return fmt.Errorf("step '%c' not found in pipeline '%s'", startStep, pipeline)
	}

	for i := startIndex + 1; i < len(steps); i++ {
		step := steps[i]
		fmt.Printf("Pipeline: executing step '%c'...\n", step)

		var err error
		filename, err = runStep(step, filename)
		if err != nil {
			return err
		}
	}

	return nil
}

// runStep executes one pipeline step and returns the recording later steps act on
func runStep(step rune, filename string) (string, error) {
	switch step {
	case 'r':
		name, err := recordSample(context.Background(), stdinLines(), "", "", false)
		if err != nil {
			return "", fmt.Errorf("pipeline record failed: %w", err)
		}
		fmt.Println("Pipeline: recording completed")
		return name, nil

	case 'p':
		if err := playRecording(context.Background(), filename); err != nil {
			return "", fmt.Errorf("pipeline play failed: %w", err)
		}
		fmt.Println("Pipeline: playback completed")
		return filename, nil

	default:
		return "", fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, p=play)", step)
	}
}

// playRecording plays query from the library, or the newest named recording when empty
func playRecording(ctx context.Context, query string) error {
	store := storage.New(nil, cfg.Storage.Directory)
	lib := library.New(store, cfg.Storage.Extension)

	var rec library.Recording
	if query != "" {
		found, err := lib.Find(query)
		if err != nil {
			return err
		}
		rec = found
	} else {
		recordings, err := lib.List()
		if err != nil {
			return err
		}
		for _, r := range recordings {
			if !r.Temporary {
				rec = r
				break
			}
		}
		if rec.Name == "" {
			return fmt.Errorf("no recordings in %s: %w", lib.Dir(), library.ErrNotFound)
		}
	}

	return play.New(store.Fs()).Play(ctx, rec.Path)
}

func validatePipeline() error {
	if pipeline == "" {
		return nil
	}

	validSteps := map[rune]bool{
		'r': true, // record
		'p': true, // play
	}

	steps := []rune(strings.ToLower(pipeline))
	for _, step := range steps {
		if !validSteps[step] {
			return fmt.Errorf("invalid pipeline step: '%c' (valid: r=record, p=play)", step)
		}
	}

	return nil
}
