package dataset

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/sbinet/npyio/npz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func sequential(rows, cols int, offset float64) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, offset+float64(i*cols+j))
		}
	}
	return m
}

func TestNewRejectsMismatchedCounts(t *testing.T) {
	_, err := New("cell1", mat.NewDense(3, 2, nil), mat.NewDense(4, 2, nil))
	assert.ErrorIs(t, err, ErrSampleCountMismatch)

	_, err = New("cell1", nil, mat.NewDense(4, 2, nil))
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestPartitionIsDisjointAndComplete(t *testing.T) {
	d, err := New("cell1", sequential(136, 3, 0), sequential(136, 4, 0))
	require.NoError(t, err)

	cd, err := d.Partition(0.2, 0.15, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	assert.Equal(t, "cell1", cd.Name)
	assert.Equal(t, 28, cd.Test.Len())
	assert.Equal(t, 17, cd.Validation.Len())
	assert.Equal(t, 91, cd.Train.Len())

	// first input column is 3*i, which identifies the sample
	seen := map[float64]bool{}
	for _, s := range []Split{cd.Train, cd.Validation, cd.Test} {
		for i := 0; i < s.Len(); i++ {
			id := s.X.At(i, 0)
			assert.False(t, seen[id], "sample %v in two splits", id)
			seen[id] = true
			// outputs travel with their inputs
			assert.Equal(t, id/3*4, s.Y.At(i, 0))
		}
	}
	assert.Len(t, seen, 136)
}

func TestPartitionNeedsTrainingData(t *testing.T) {
	d, err := New("tiny", sequential(1, 2, 0), sequential(1, 2, 0))
	require.NoError(t, err)
	_, err = d.Partition(0.2, 0.15, rand.New(rand.NewPCG(1, 1)))
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = d.Partition(1.5, 0.15, rand.New(rand.NewPCG(1, 1)))
	assert.Error(t, err)
}

func TestAddNoise(t *testing.T) {
	d, err := New("cell1", mat.NewDense(200, 50, nil), mat.NewDense(200, 2, nil))
	require.NoError(t, err)

	d.AddNoise(0, rand.NewPCG(1, 2))
	assert.Equal(t, 0.0, mat.Sum(d.Input))

	d.AddNoise(0.25, rand.NewPCG(1, 2))
	values := d.Input.RawMatrix().Data
	mean, std := stat.MeanStdDev(values, nil)
	assert.InDelta(t, 0, mean, 0.02)
	assert.InDelta(t, 0.5, std, 0.02)
	// outputs are never perturbed
	assert.Equal(t, 0.0, mat.Sum(d.Output))
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cell2.json")
	src, err := New("cell2", sequential(5, 3, 1), sequential(5, 4, -1))
	require.NoError(t, err)
	require.NoError(t, SaveJSON(path, src))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cell2", d.Name)
	assert.Equal(t, 5, d.Len())
	assert.Equal(t, 3, d.InputDim())
	assert.Equal(t, 4, d.OutputDim())
	assert.True(t, mat.Equal(src.Input, d.Input))
	assert.True(t, mat.Equal(src.Output, d.Output))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(filepath.Join(dir, "cell.mat"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	noOutput := filepath.Join(dir, "no_output.json")
	require.NoError(t, os.WriteFile(noOutput, []byte(`{"input": [[1, 2]]}`), 0644))
	_, err = Load(noOutput)
	assert.ErrorIs(t, err, ErrMissingArray)

	mismatch := filepath.Join(dir, "mismatch.json")
	require.NoError(t, os.WriteFile(mismatch, []byte(`{"input": [[1, 2], [3, 4]], "output": [[1]]}`), 0644))
	_, err = Load(mismatch)
	assert.ErrorIs(t, err, ErrSampleCountMismatch)

	ragged := filepath.Join(dir, "ragged.json")
	require.NoError(t, os.WriteFile(ragged, []byte(`{"input": [[1, 2], [3]], "output": [[1], [2]]}`), 0644))
	_, err = Load(ragged)
	assert.Error(t, err)
}

type npzEntry struct {
	name  string
	value any
}

func writeNPZ(t *testing.T, path string, entries ...npzEntry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := npz.NewWriter(f)
	for _, e := range entries {
		require.NoError(t, w.Write(e.name, e.value))
	}
	require.NoError(t, w.Close())
}

// cube returns a float32 array of shape (4, 2, 3) holding 0..23 in C order.
func cube() *[4][2][3]float32 {
	var c [4][2][3]float32
	for i := range c {
		for j := range c[i] {
			for k := range c[i][j] {
				c[i][j][k] = float32(i*6 + j*3 + k)
			}
		}
	}
	return &c
}

func TestLoadNPZFlattensTrailingDims(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cell3.npz")
	output := sequential(4, 2, 0.5)
	// the output key carries the suffix numpy.savez writes
	writeNPZ(t, path,
		npzEntry{InputArray, cube()},
		npzEntry{OutputArray + ".npy", output},
	)

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cell3", d.Name)
	assert.Equal(t, 4, d.Len())
	assert.Equal(t, 6, d.InputDim())
	assert.Equal(t, 2, d.OutputDim())
	assert.True(t, mat.Equal(sequential(4, 6, 0), d.Input))
	assert.True(t, mat.Equal(output, d.Output))
}

func TestLoadNPZErrors(t *testing.T) {
	dir := t.TempDir()

	noOutput := filepath.Join(dir, "no_output.npz")
	writeNPZ(t, noOutput, npzEntry{InputArray, cube()})
	_, err := Load(noOutput)
	assert.ErrorIs(t, err, ErrMissingArray)

	ints := filepath.Join(dir, "ints.npz")
	writeNPZ(t, ints,
		npzEntry{InputArray, cube()},
		npzEntry{OutputArray, []int64{1, 2, 3, 4}},
	)
	_, err = Load(ints)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	// four samples without features
	noFeatures := filepath.Join(dir, "no_features.npz")
	writeNPZ(t, noFeatures,
		npzEntry{InputArray, &[4][0]float32{}},
		npzEntry{OutputArray, sequential(4, 2, 0)},
	)
	_, err = Load(noFeatures)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestSplitRowsOfEmptySelection(t *testing.T) {
	s := Split{X: sequential(3, 2, 0), Y: sequential(3, 2, 0)}
	empty := s.Rows(nil)
	assert.Equal(t, 0, empty.Len())
	assert.Nil(t, empty.X)
	assert.Equal(t, 3, s.Len())
}
