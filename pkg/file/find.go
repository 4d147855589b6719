package file

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// partialExts are left behind by downloaders while a file is incomplete.
var partialExts = []string{".part", ".ytdl", ".tmp"}

// FindRecentAfter lists regular files under dir modified after startTime,
// newest first. In-progress download fragments are skipped.
func FindRecentAfter(dir string, startTime time.Time) ([]string, error) {
	type found struct {
		path    string
		modTime time.Time
	}
	var recent []found

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || isPartial(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(startTime) {
			recent = append(recent, found{path: path, modTime: info.ModTime()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].modTime.After(recent[j].modTime)
	})
	paths := make([]string, len(recent))
	for i, f := range recent {
		paths[i] = f.path
	}
	return paths, nil
}

// NewestAfter returns the most recently modified file from FindRecentAfter.
func NewestAfter(dir string, startTime time.Time) (string, error) {
	paths, err := FindRecentAfter(dir, startTime)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", os.ErrNotExist
	}
	return paths[0], nil
}

func isPartial(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, p := range partialExts {
		if ext == p {
			return true
		}
	}
	return false
}
