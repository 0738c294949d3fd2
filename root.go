package BeamFL

import (
	"path/filepath"
	"runtime"
)

// FindRootPath returns the module root, used to resolve the relative
// paths in configs.
func FindRootPath() string {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filename)
	return projectRoot
}
