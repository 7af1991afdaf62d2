package play

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func onlyOnPath(names ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, n := range names {
			if n == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", exec.ErrNotFound
	}
}

func TestFindAudioPlayer_Preference(t *testing.T) {
	p := New(afero.NewMemMapFs())

	p.lookPath = onlyOnPath("vlc", "ffplay")
	player, err := p.findAudioPlayer()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if player != "ffplay" {
		t.Errorf("Expected ffplay preferred over vlc, got %s", player)
	}

	p.lookPath = onlyOnPath()
	if _, err := p.findAudioPlayer(); err == nil {
		t.Error("Expected error when no player is installed")
	}
}

func TestPlayerArgs(t *testing.T) {
	tests := []struct {
		player  string
		file    string
		want    string
		wantErr bool
	}{
		{"mpv", "/rec/Kick--drum.aac", "--no-video /rec/Kick--drum.aac", false},
		{"ffplay", "/rec/Kick--drum.aac", "-nodisp -autoexit -loglevel error /rec/Kick--drum.aac", false},
		{"vlc", "/rec/Kick--drum.aac", "--intf dummy --play-and-exit /rec/Kick--drum.aac", false},
		{"aplay", "/rec/Kick--drum.wav", "/rec/Kick--drum.wav", false},
		{"aplay", "/rec/Kick--drum.aac", "", true},
		{"winamp", "/rec/Kick--drum.aac", "", true},
	}

	for _, tt := range tests {
		args, err := playerArgs(tt.player, tt.file)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.player)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: expected no error, got: %v", tt.player, err)
			continue
		}
		if got := strings.Join(args, " "); got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.player, tt.want, got)
		}
	}
}

func TestPlay_MissingFile(t *testing.T) {
	p := New(afero.NewMemMapFs())

	err := p.Play(context.Background(), "/rec/missing.aac")
	if err == nil || !strings.Contains(err.Error(), "audio file not found") {
		t.Errorf("Expected file not found error, got: %v", err)
	}
}

func TestPlay_RunsPlayer(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/rec/Kick--drum.aac", []byte("audio"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	var gotName string
	var gotArgs []string
	p := New(fsys)
	p.lookPath = onlyOnPath("mpv")
	p.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		gotName, gotArgs = name, args
		return exec.CommandContext(ctx, "true")
	}

	if err := p.Play(context.Background(), "/rec/Kick--drum.aac"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if gotName != "mpv" || gotArgs[len(gotArgs)-1] != "/rec/Kick--drum.aac" {
		t.Errorf("Expected mpv on the recording, got %s %v", gotName, gotArgs)
	}
}

func TestPlay_PlayerFailure(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/rec/Kick--drum.aac", []byte("audio"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	p := New(fsys)
	p.lookPath = onlyOnPath("mpv")
	p.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "false")
	}

	err := p.Play(context.Background(), "/rec/Kick--drum.aac")
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Errorf("Expected wrapped exit error, got: %v", err)
	}
}
