package utils

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blob struct {
	Values []float64 `json:"values"`
}

func (b *blob) WriteTo(w io.Writer) (int64, error) {
	cw := &CountingWriter{W: w}
	err := json.NewEncoder(cw).Encode(b)
	return cw.N, err
}

func (b *blob) ReadFrom(r io.Reader) (int64, error) {
	cr := &CountingReader{R: r}
	err := json.NewDecoder(cr).Decode(b)
	return cr.N, err
}

func TestSerializeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := &blob{Values: []float64{1.5, -2, math.Pi}}

	for _, name := range []string{"plain.json", "nested/packed.json.xz"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Serialize(in, path))
		out := &blob{}
		require.NoError(t, Deserialize(out, path))
		assert.Equal(t, in, out)
	}
	assert.True(t, IsCompressed("model.json.xz"))
	assert.False(t, IsCompressed("model.json"))

	assert.Error(t, Serialize(struct{}{}, filepath.Join(dir, "x.bin")))
	assert.Error(t, Deserialize(&blob{}, filepath.Join(dir, "missing.json")))
}

func TestJSONHelpers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b.json")
	require.NoError(t, SaveToJSON(path, map[string]int{"rounds": 100}))
	var got map[string]int
	require.NoError(t, LoadFromJSON(path, &got))
	assert.Equal(t, 100, got["rounds"])
}

func TestSeeds(t *testing.T) {
	assert.Equal(t, uint64(0), DeriveSeed(0, 3))
	assert.NotEqual(t, DeriveSeed(42, 0), DeriveSeed(42, 1))
	assert.Equal(t, DeriveSeed(42, 1), DeriveSeed(42, 1))

	a, b := NewRand(7), NewRand(7)
	assert.Equal(t, a.Uint64(), b.Uint64())
}

func TestFiniteChecks(t *testing.T) {
	assert.True(t, IsFinite(1))
	assert.False(t, IsFinite(math.NaN()))
	assert.False(t, IsFinite(math.Inf(-1)))
	assert.True(t, AllFinite([]float64{0, 1, -3}))
	assert.False(t, AllFinite([]float64{0, math.Inf(1)}))
	assert.Equal(t, 2.5, MaxAbsDiff([]float64{1, 2}, []float64{1, -0.5}))
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(true, &buf)
	logger.PrintHeader("Communication round 1/2")
	logger.Named("server").Info("aggregated", "round", 1)
	logger.PrintRunningTime("Round 1", time.Now())
	logger.PrintSummarizedVector("bias", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 10)

	out := buf.String()
	assert.Contains(t, out, "Communication round 1/2")
	assert.Contains(t, out, "beamfl.server: aggregated")
	assert.Contains(t, out, "round=1")
	assert.Contains(t, out, "...")

	buf.Reset()
	quiet := NewLoggerWithOutput(false, &buf)
	quiet.PrintHeader("hidden")
	quiet.Info("hidden")
	quiet.Error("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
