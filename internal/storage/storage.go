package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// ErrExists is returned by Move when the destination is already taken.
// On the OS filesystem the check and the move are one hard link, so another
// process creating the destination concurrently still gets ErrExists.
// Other filesystems check then rename, which only guards a single writer.
var ErrExists = errors.New("destination already exists")

// ErrInvalidName is returned for names that are not a single path element
var ErrInvalidName = errors.New("invalid file name")

// Store is the single storage directory recordings live in
type Store struct {
	fs  afero.Fs
	dir string
}

// Entry describes one file in the storage directory
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// New creates a store rooted at dir. A nil fs means the OS filesystem.
func New(fsys afero.Fs, dir string) *Store {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Store{fs: fsys, dir: dir}
}

// Dir returns the storage directory
func (s *Store) Dir() string {
	return s.dir
}

// Fs returns the underlying filesystem
func (s *Store) Fs() afero.Fs {
	return s.fs
}

// Path joins name onto the storage directory
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// EnsureDir creates the storage directory and any missing parents
func (s *Store) EnsureDir() error {
	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", s.dir, err)
	}
	return nil
}

// Exists reports whether name is present in the storage directory
func (s *Store) Exists(name string) (bool, error) {
	_, err := s.fs.Stat(s.Path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Move renames oldName to newName inside the storage directory.
// It never replaces an existing file and leaves oldName untouched on failure.
func (s *Store) Move(oldName, newName string) error {
	if err := validateName(newName); err != nil {
		return err
	}
	if err := validateName(oldName); err != nil {
		return err
	}

	oldPath, newPath := s.Path(oldName), s.Path(newName)

	if _, err := s.fs.Stat(oldPath); err != nil {
		return fmt.Errorf("source %s: %w", oldName, err)
	}

	if _, ok := s.fs.(*afero.OsFs); ok {
		err := os.Link(oldPath, newPath)
		switch {
		case err == nil:
			if err := os.Remove(oldPath); err != nil {
				os.Remove(newPath)
				return fmt.Errorf("failed to remove %s after linking: %w", oldName, err)
			}
			slog.Debug("Moved recording", "from", oldPath, "to", newPath)
			return nil
		case errors.Is(err, fs.ErrExist):
			return fmt.Errorf("%s: %w", newName, ErrExists)
		default:
			slog.Debug("Hard link unavailable, falling back to rename", "error", err)
		}
	}

	taken, err := s.Exists(newName)
	if err != nil {
		return fmt.Errorf("failed to check destination %s: %w", newName, err)
	}
	if taken {
		return fmt.Errorf("%s: %w", newName, ErrExists)
	}

	if err := s.fs.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", oldName, newName, err)
	}

	slog.Debug("Moved recording", "from", oldPath, "to", newPath)
	return nil
}

// List returns regular files with the given extension, newest first.
// An empty extension lists every file. A missing directory yields no entries.
func (s *Store) List(extension string) ([]Entry, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	suffix := ""
	if extension != "" {
		suffix = "." + strings.ToLower(extension)
	}

	var entries []Entry
	for _, info := range infos {
		if !info.Mode().IsRegular() {
			continue
		}
		if suffix != "" && !strings.HasSuffix(strings.ToLower(info.Name()), suffix) {
			continue
		}
		entries = append(entries, Entry{
			Name:    info.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].ModTime.After(entries[j].ModTime)
	})

	return entries, nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsRune(name, os.PathSeparator) || strings.Contains(name, "/") {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}
