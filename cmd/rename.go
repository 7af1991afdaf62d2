package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/audiolibrelab/tapedeck/internal/naming"
	"github.com/audiolibrelab/tapedeck/internal/storage"

	"github.com/spf13/cobra"
)

var renameCmd = &cobra.Command{
	Use:   "rename [file] [title] [tags]",
	Short: "Name a recording left at its temporary name",
	Long: `Move a file in the storage directory to "<title>--<tags>.<ext>".

Recordings abandoned with reset, or left behind when a session was
interrupted, keep their temporary name. This gives them a proper one.
An existing file is never replaced.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := args[1]
		tags := ""
		if len(args) == 3 {
			tags = args[2]
		}

		store := storage.New(nil, cfg.Storage.Directory)
		file := storageName(store, args[0])
		target := naming.GeneratePreviewFilename(title, tags, cfg.Storage.Extension)

		if err := store.Move(file, target); err != nil {
			if errors.Is(err, storage.ErrExists) {
				return fmt.Errorf("%s already exists, choose another title or tags", target)
			}
			return fmt.Errorf("rename failed: %w", err)
		}

		slog.Info("Renamed recording", "from", store.Path(file), "to", store.Path(target))
		fmt.Println(store.Path(target))
		return nil
	},
}

// storageName reduces a path inside the storage directory to its file name.
// Anything else is returned unchanged so Move rejects it.
func storageName(store *storage.Store, file string) string {
	if filepath.Base(file) == file {
		return file
	}

	dir, err := filepath.Abs(filepath.Dir(file))
	if err != nil {
		return file
	}
	storeDir, err := filepath.Abs(store.Dir())
	if err != nil {
		return file
	}
	if dir != storeDir {
		return file
	}
	return filepath.Base(file)
}

var previewCmd = &cobra.Command{
	Use:   "preview [title] [tags]",
	Short: "Show the filename a title and tags produce",
	Long: `Print the filename a recording would get. Spaces are removed from the
title; tags are split on commas and kept exactly as typed.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tags := ""
		if len(args) == 2 {
			tags = args[1]
		}
		fmt.Println(naming.GeneratePreviewFilename(args[0], tags, cfg.Storage.Extension))
		return nil
	},
}
