package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Source is one capture device ffmpeg can read from
type Source struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CommandRunner runs an external command and returns its stdout
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// SourceLister lists capture sources for an ffmpeg input format
type SourceLister struct {
	run CommandRunner
}

// NewSourceLister creates a lister. A nil runner executes real commands.
func NewSourceLister(run CommandRunner) *SourceLister {
	if run == nil {
		run = execRunner
	}
	return &SourceLister{run: run}
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ListSources returns available sources for the given input format
func (l *SourceLister) ListSources(ctx context.Context, inputFormat string) ([]Source, error) {
	switch strings.ToLower(inputFormat) {
	case "pulse":
		output, err := l.run(ctx, "pactl", "list", "short", "sources")
		if err != nil {
			return nil, fmt.Errorf("failed to list PulseAudio sources: %w", err)
		}
		return parsePactlSources(string(output)), nil
	case "alsa":
		output, err := l.run(ctx, "arecord", "-L")
		if err != nil {
			return nil, fmt.Errorf("failed to list ALSA devices: %w", err)
		}
		return parseArecordDevices(string(output)), nil
	default:
		return nil, fmt.Errorf("listing sources is not supported for input format %q (supported: pulse, alsa)", inputFormat)
	}
}

// ValidateSource checks that a configured device is present
func (l *SourceLister) ValidateSource(ctx context.Context, inputFormat, device string) error {
	if device == "" {
		return fmt.Errorf("no input device configured")
	}
	if device == "default" {
		return nil
	}

	sources, err := l.ListSources(ctx, inputFormat)
	if err != nil {
		return err
	}

	var matches int
	for _, source := range sources {
		if source.Name == device {
			matches++
		}
	}

	switch matches {
	case 0:
		return fmt.Errorf("source not found: %s", device)
	case 1:
		return nil
	default:
		slog.Debug("Source listed more than once", "source", device, "count", matches)
		return fmt.Errorf("duplicate sources detected for '%s' (%d entries)", device, matches)
	}
}

// parsePactlSources reads `pactl list short sources`:
// index, name, driver, sample spec and state separated by tabs
func parsePactlSources(output string) []Source {
	var sources []Source
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			fields = strings.Fields(line)
		}
		if len(fields) < 2 {
			continue
		}
		source := Source{Name: fields[1]}
		if len(fields) > 3 {
			source.Description = fields[3]
		}
		sources = append(sources, source)
	}
	return sources
}

// parseArecordDevices reads `arecord -L`: device names start at column 0,
// their descriptions follow on indented lines
func parseArecordDevices(output string) []Source {
	var sources []Source
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(sources) > 0 && sources[len(sources)-1].Description == "" {
				sources[len(sources)-1].Description = strings.TrimSpace(line)
			}
			continue
		}
		sources = append(sources, Source{Name: strings.TrimSpace(line)})
	}
	return sources
}
