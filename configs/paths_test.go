package configs

import (
	"fmt"
	"path/filepath"
	"testing"

	BeamFL "beamfl"

	"github.com/stretchr/testify/assert"
)

func TestPaths(t *testing.T) {
	root := BeamFL.FindRootPath()
	fmt.Println(root)

	t.Run("Test configs directory paths", func(t *testing.T) {
		configPath := filepath.Join(root, Configs)
		fmt.Println("Expected: ", configPath)
		assert.DirExists(t, configPath)
	})

	t.Run("Test default config file", func(t *testing.T) {
		file := filepath.Join(root, Configs, DefaultConfigFile)
		fmt.Println("Expected: ", file)
		assert.FileExists(t, file)
	})

	t.Run("Test resolved paths", func(t *testing.T) {
		cfg := Default()
		paths := cfg.CellPaths(root)
		assert.Len(t, paths, len(Cells))
		assert.Equal(t, filepath.Join(root, DataDir, "cell1.npz"), paths[0])
		assert.Equal(t, "/abs/model.json", Resolve(root, "/abs/model.json"))
		assert.Equal(t, "", Resolve(root, ""))
	})
}
