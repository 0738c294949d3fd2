package dataset

import (
	"fmt"
	"slices"

	"beamfl/src/utils"

	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/mat"
)

func loadNPZ(path string) (input, output *mat.Dense, err error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	if input, err = readNPZArray(r, InputArray); err != nil {
		return nil, nil, err
	}
	if output, err = readNPZArray(r, OutputArray); err != nil {
		return nil, nil, err
	}
	return input, output, nil
}

// readNPZArray reads a float array of any rank and flattens every dimension
// after the first.
func readNPZArray(r *npz.Reader, name string) (*mat.Dense, error) {
	keys := r.Keys()
	key := name
	if !slices.Contains(keys, key) {
		key = name + ".npy"
		if !slices.Contains(keys, key) {
			return nil, fmt.Errorf("%w: %q (have %v)", ErrMissingArray, name, keys)
		}
	}

	hdr := r.Header(key)
	if hdr == nil {
		return nil, fmt.Errorf("%w: %q", ErrMissingArray, name)
	}
	if hdr.Descr.Fortran {
		return nil, fmt.Errorf("array %q: %w: fortran order", name, ErrUnsupportedFormat)
	}
	shape := hdr.Descr.Shape
	if len(shape) == 0 || shape[0] == 0 {
		return nil, fmt.Errorf("array %q: %w", name, ErrEmpty)
	}
	rows := shape[0]
	cols := 1
	for _, d := range shape[1:] {
		cols *= d
	}
	if cols == 0 {
		return nil, fmt.Errorf("array %q: %w: shape %v", name, ErrEmpty, shape)
	}

	var data []float64
	switch hdr.Descr.Type {
	case "<f8", "f8", "float64":
		if err := r.Read(key, &data); err != nil {
			return nil, fmt.Errorf("array %q: %w", name, err)
		}
	case "<f4", "f4", "float32":
		var raw []float32
		if err := r.Read(key, &raw); err != nil {
			return nil, fmt.Errorf("array %q: %w", name, err)
		}
		data = make([]float64, len(raw))
		for i, v := range raw {
			data[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("array %q: %w: dtype %s", name, ErrUnsupportedFormat, hdr.Descr.Type)
	}

	if len(data) != rows*cols {
		return nil, fmt.Errorf("array %q: %d values for shape %v", name, len(data), shape)
	}
	return mat.NewDense(rows, cols, data), nil
}

// jsonDataset is the document layout of .json dataset files.
type jsonDataset struct {
	Input  [][]float64 `json:"input"`
	Output [][]float64 `json:"output"`
}

func loadJSON(path string) (input, output *mat.Dense, err error) {
	var doc jsonDataset
	if err = utils.LoadFromJSON(path, &doc); err != nil {
		return nil, nil, err
	}
	if doc.Input == nil {
		return nil, nil, fmt.Errorf("%w: %q", ErrMissingArray, InputArray)
	}
	if doc.Output == nil {
		return nil, nil, fmt.Errorf("%w: %q", ErrMissingArray, OutputArray)
	}
	if input, err = denseFromRows(InputArray, doc.Input); err != nil {
		return nil, nil, err
	}
	if output, err = denseFromRows(OutputArray, doc.Output); err != nil {
		return nil, nil, err
	}
	return input, output, nil
}

func denseFromRows(name string, rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("array %q: %w", name, ErrEmpty)
	}
	cols := len(rows[0])
	m := mat.NewDense(len(rows), cols, nil)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("array %q: row %d has %d values, want %d", name, i, len(row), cols)
		}
		copy(m.RawRowView(i), row)
	}
	return m, nil
}

// SaveJSON writes d in the .json dataset layout.
func SaveJSON(path string, d *Dataset) error {
	return utils.SaveToJSON(path, jsonDataset{
		Input:  rowsOf(d.Input),
		Output: rowsOf(d.Output),
	})
}

func rowsOf(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = slices.Clone(m.RawRowView(i))
	}
	return rows
}
