// Package dataset loads the per-cell sub-6GHz/28GHz sample files and cuts them
// into train, validation and test splits.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Array names expected in every dataset file.
const (
	InputArray  = "input"
	OutputArray = "output"
)

var (
	ErrMissingArray        = errors.New("dataset array missing")
	ErrSampleCountMismatch = errors.New("input and output sample counts differ")
	ErrEmpty               = errors.New("dataset has no samples")
	ErrUnsupportedFormat   = errors.New("unsupported dataset format")
)

// Dataset holds the samples of one cell: one row per sample.
type Dataset struct {
	Name   string
	Input  *mat.Dense
	Output *mat.Dense
}

// New checks that input and output describe the same samples.
func New(name string, input, output *mat.Dense) (*Dataset, error) {
	if input == nil || output == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrEmpty)
	}
	in, _ := input.Dims()
	out, _ := output.Dims()
	if in != out {
		return nil, fmt.Errorf("%s: %w: %d inputs, %d outputs", name, ErrSampleCountMismatch, in, out)
	}
	return &Dataset{Name: name, Input: input, Output: output}, nil
}

// Load reads a dataset file. The format follows the extension: .npz NumPy
// archives or .json documents.
func Load(path string) (*Dataset, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var (
		input, output *mat.Dense
		err           error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".npz":
		input, output, err = loadNPZ(path)
	case ".json":
		input, output, err = loadJSON(path)
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return New(name, input, output)
}

func (d *Dataset) Len() int {
	r, _ := d.Input.Dims()
	return r
}

// InputDim is the flattened feature width.
func (d *Dataset) InputDim() int {
	_, c := d.Input.Dims()
	return c
}

func (d *Dataset) OutputDim() int {
	_, c := d.Output.Dims()
	return c
}

// AddNoise adds zero-mean Gaussian noise of the given variance to every
// input feature.
func (d *Dataset) AddNoise(variance float64, src rand.Source) {
	if variance <= 0 {
		return
	}
	noise := distuv.Normal{Mu: 0, Sigma: math.Sqrt(variance), Src: src}
	d.Input.Apply(func(_, _ int, v float64) float64 {
		return v + noise.Rand()
	}, d.Input)
}

// Split is a set of aligned input/output rows. An empty split has nil
// matrices.
type Split struct {
	X *mat.Dense
	Y *mat.Dense
}

func (s Split) Len() int {
	if s.X == nil {
		return 0
	}
	r, _ := s.X.Dims()
	return r
}

// Rows gathers the samples at idx into a new split.
func (s Split) Rows(idx []int) Split {
	return Split{X: gather(s.X, idx), Y: gather(s.Y, idx)}
}

func gather(m *mat.Dense, idx []int) *mat.Dense {
	if len(idx) == 0 {
		return nil
	}
	_, cols := m.Dims()
	out := mat.NewDense(len(idx), cols, nil)
	for i, r := range idx {
		copy(out.RawRowView(i), m.RawRowView(r))
	}
	return out
}

// ClientDataset is the private data of one FL client.
type ClientDataset struct {
	Name       string
	Train      Split
	Validation Split
	Test       Split
}

// Partition shuffles the samples, holds out testFrac of them for testing and
// splits the rest into training and validation with valFrac.
func (d *Dataset) Partition(testFrac, valFrac float64, rng *rand.Rand) (*ClientDataset, error) {
	if testFrac < 0 || testFrac >= 1 || valFrac < 0 || valFrac >= 1 {
		return nil, fmt.Errorf("%s: split fractions must be in [0,1), got test=%g val=%g", d.Name, testFrac, valFrac)
	}
	n := d.Len()
	nTest := int(math.Ceil(float64(n) * testFrac))
	rest := n - nTest
	nVal := int(math.Ceil(float64(rest) * valFrac))
	nTrain := rest - nVal
	if nTrain <= 0 {
		return nil, fmt.Errorf("%s: %w: %d samples leave no training data", d.Name, ErrEmpty, n)
	}

	perm := rng.Perm(n)
	all := Split{X: d.Input, Y: d.Output}
	return &ClientDataset{
		Name:       d.Name,
		Train:      all.Rows(perm[:nTrain]),
		Validation: all.Rows(perm[nTrain:rest]),
		Test:       all.Rows(perm[rest:]),
	}, nil
}
