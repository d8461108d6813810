package file

import (
	"os"
	"path/filepath"
	"time"
)

// FindOlderThan lists regular files directly under dir last modified before cutoff.
// A missing dir yields no files.
func FindOlderThan(dir string, cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var old []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		if info.ModTime().Before(cutoff) {
			old = append(old, filepath.Join(dir, entry.Name()))
		}
	}
	return old, nil
}
