package utils

import (
	"os"
	"path/filepath"
)

// EnsureParentDir creates the directory holding path.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
