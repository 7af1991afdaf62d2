package library

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/tapedeck/internal/naming"
	"github.com/audiolibrelab/tapedeck/internal/storage"
)

// ErrNotFound is returned when no recording matches a lookup
var ErrNotFound = errors.New("recording not found")

// Recording is one file in the storage directory
type Recording struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Title   string    `json:"title,omitempty"`
	Tags    []string  `json:"tags,omitempty"`

	// Temporary marks a recording still at its session identity
	Temporary bool `json:"temporary"`
}

// Library lists the recordings kept in a Store
type Library struct {
	store     *storage.Store
	extension string
}

// New creates a library over store, listing files with the given extension
func New(store *storage.Store, extension string) *Library {
	return &Library{store: store, extension: extension}
}

// Dir returns the directory the library reads
func (l *Library) Dir() string {
	return l.store.Dir()
}

// List returns every recording, newest first
func (l *Library) List() ([]Recording, error) {
	entries, err := l.store.List(l.extension)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}

	recordings := make([]Recording, 0, len(entries))
	for _, e := range entries {
		recordings = append(recordings, l.describe(e))
	}
	return recordings, nil
}

// Find looks a recording up by exact filename, falling back to the newest
// recording whose title matches
func (l *Library) Find(query string) (Recording, error) {
	recordings, err := l.List()
	if err != nil {
		return Recording{}, err
	}

	for _, r := range recordings {
		if r.Name == query {
			return r, nil
		}
	}

	title := naming.SanitizeTitle(query)
	for _, r := range recordings {
		if !r.Temporary && r.Title == title {
			return r, nil
		}
	}

	return Recording{}, fmt.Errorf("%q: %w", query, ErrNotFound)
}

func (l *Library) describe(e storage.Entry) Recording {
	r := Recording{
		Name:    e.Name,
		Path:    l.store.Path(e.Name),
		Size:    e.Size,
		ModTime: e.ModTime,
	}

	if IsTemporary(e.Name) {
		r.Temporary = true
		return r
	}

	if parsed, ok := naming.Parse(e.Name); ok {
		r.Title = parsed.Title
		r.Tags = parsed.Tags
	}
	return r
}

// IsTemporary reports whether name is a session identity rather than a final name
func IsTemporary(name string) bool {
	dot := strings.LastIndex(name, ".")
	if dot <= 0 {
		return false
	}
	_, err := uuid.Parse(name[:dot])
	return err == nil
}
