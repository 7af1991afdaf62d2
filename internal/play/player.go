package play

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// preferred players, first found wins
var players = []string{"ffplay", "mpv", "vlc", "aplay"}

// Player plays finished recordings through an external audio player
type Player struct {
	fs       afero.Fs
	lookPath func(string) (string, error)
	command  func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// New creates a player reading files from fsys. A nil fsys uses the OS filesystem.
func New(fsys afero.Fs) *Player {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Player{
		fs:       fsys,
		lookPath: exec.LookPath,
		command:  exec.CommandContext,
	}
}

// Play blocks until playback of audioFile finishes or ctx is cancelled
func (p *Player) Play(ctx context.Context, audioFile string) error {
	if _, err := p.fs.Stat(audioFile); err != nil {
		return fmt.Errorf("audio file not found: %s", audioFile)
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	args, err := playerArgs(player, audioFile)
	if err != nil {
		return err
	}

	slog.Info("Playing recording", "file", audioFile, "player", player)

	if err := p.command(ctx, player, args...).Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	slog.Debug("Playback completed", "file", audioFile)
	return nil
}

func (p *Player) findAudioPlayer() (string, error) {
	for _, player := range players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}

func playerArgs(player, audioFile string) ([]string, error) {
	switch player {
	case "mpv":
		return []string{"--no-video", audioFile}, nil
	case "ffplay":
		return []string{"-nodisp", "-autoexit", "-loglevel", "error", audioFile}, nil
	case "vlc":
		return []string{"--intf", "dummy", "--play-and-exit", audioFile}, nil
	case "aplay":
		// aplay only handles WAV
		if !strings.EqualFold(filepath.Ext(audioFile), ".wav") {
			return nil, fmt.Errorf("aplay requires WAV format, got %s", filepath.Ext(audioFile))
		}
		return []string{audioFile}, nil
	default:
		return nil, fmt.Errorf("unsupported player: %s", player)
	}
}
