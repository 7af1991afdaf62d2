package audio

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const pactlOutput = "0\talsa_output.pci.monitor\tmodule-alsa-card.c\ts16le 2ch 44100Hz\tSUSPENDED\n" +
	"1\talsa_input.usb-Scarlett\tmodule-alsa-card.c\ts32le 2ch 48000Hz\tRUNNING\n"

const arecordOutput = `null
    Discard all samples (playback) or generate zero samples (capture)
default
    Default ALSA Output
hw:CARD=USB,DEV=0
    Scarlett 2i2 USB, USB Audio
    Direct hardware device without any conversions
`

// mockRunner returns canned output instead of running commands
func mockRunner(output string, err error) CommandRunner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(output), err
	}
}

func TestListSources_Pulse(t *testing.T) {
	lister := NewSourceLister(mockRunner(pactlOutput, nil))

	sources, err := lister.ListSources(context.Background(), "pulse")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("Expected 2 sources, got %d: %v", len(sources), sources)
	}
	if sources[1].Name != "alsa_input.usb-Scarlett" {
		t.Errorf("Expected alsa_input.usb-Scarlett, got: %s", sources[1].Name)
	}
	if sources[1].Description != "s32le 2ch 48000Hz" {
		t.Errorf("Unexpected description: %q", sources[1].Description)
	}
}

func TestListSources_Alsa(t *testing.T) {
	lister := NewSourceLister(mockRunner(arecordOutput, nil))

	sources, err := lister.ListSources(context.Background(), "alsa")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(sources) != 3 {
		t.Fatalf("Expected 3 sources, got %d: %v", len(sources), sources)
	}
	if sources[2].Name != "hw:CARD=USB,DEV=0" || sources[2].Description != "Scarlett 2i2 USB, USB Audio" {
		t.Errorf("Unexpected source: %+v", sources[2])
	}
}

func TestListSources_Unsupported(t *testing.T) {
	lister := NewSourceLister(mockRunner("", nil))

	_, err := lister.ListSources(context.Background(), "avfoundation")
	if err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Errorf("Expected unsupported error, got: %v", err)
	}
}

func TestListSources_CommandFailure(t *testing.T) {
	lister := NewSourceLister(mockRunner("", errors.New("pactl: not found")))

	if _, err := lister.ListSources(context.Background(), "pulse"); err == nil {
		t.Error("Expected error when pactl fails")
	}
}

func TestValidateSource(t *testing.T) {
	lister := NewSourceLister(mockRunner(pactlOutput, nil))
	ctx := context.Background()

	if err := lister.ValidateSource(ctx, "pulse", "alsa_input.usb-Scarlett"); err != nil {
		t.Errorf("Expected valid source, got: %v", err)
	}
	if err := lister.ValidateSource(ctx, "pulse", "default"); err != nil {
		t.Errorf("Expected default to always validate, got: %v", err)
	}

	err := lister.ValidateSource(ctx, "pulse", "missing")
	if err == nil || !strings.Contains(err.Error(), "source not found") {
		t.Errorf("Expected 'source not found' error, got: %v", err)
	}

	if err := lister.ValidateSource(ctx, "pulse", ""); err == nil {
		t.Error("Expected error for empty device")
	}
}

func TestValidateSource_Duplicates(t *testing.T) {
	dup := pactlOutput + "2\talsa_input.usb-Scarlett\tmodule-alsa-card.c\ts32le 2ch 48000Hz\tIDLE\n"
	lister := NewSourceLister(mockRunner(dup, nil))

	err := lister.ValidateSource(context.Background(), "pulse", "alsa_input.usb-Scarlett")
	if err == nil || !strings.Contains(err.Error(), "duplicate sources detected") {
		t.Errorf("Expected 'duplicate sources detected' error, got: %v", err)
	}
}
