// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// WaitForFile blocks until a file exists at path or ctx is done. The
// parent directory must exist.
func WaitForFile(ctx context.Context, path string) error {
	directory, name := filepath.Split(filepath.Clean(path))
	if directory == "" {
		directory = "."
	}
	watcher, err := Directory(directory)
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Checked only after the watch is installed; see the package doc.
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	for {
		batch, err := watcher.Next(ctx)
		if err != nil {
			return fmt.Errorf("waiting for %s: %w", path, err)
		}
		for _, event := range batch {
			if event.Op == Overflow || (event.Op == Created && event.Name == name) {
				if _, err := os.Stat(path); err == nil {
					return nil
				}
			}
		}
	}
}
