// Package file holds small path and directory helpers shared by the
// media wrappers.
package file

import (
	"path/filepath"
	"strings"
)

// ReplaceExt swaps the extension of the last path element. A name without
// an extension, or a dot file such as ".env", gets ext appended.
func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	dir, name := filepath.Split(path)
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return filepath.Join(dir, name+ext)
}
