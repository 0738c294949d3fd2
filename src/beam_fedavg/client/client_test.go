package client

import (
	"math/rand/v2"
	"path/filepath"
	"testing"

	"beamfl/src/dataset"
	"beamfl/src/model"
	"beamfl/src/rateloss"
	"beamfl/src/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func writeCell(t *testing.T, path string, samples int) {
	rng := rand.New(rand.NewPCG(1, 1))
	x := mat.NewDense(samples, 3, nil)
	y := mat.NewDense(samples, 4, nil)
	for i := 0; i < samples; i++ {
		for j := 0; j < 3; j++ {
			x.Set(i, j, rng.NormFloat64())
		}
		for j := 0; j < 4; j++ {
			y.Set(i, j, rng.NormFloat64())
		}
	}
	d, err := dataset.New("cell", x, y)
	require.NoError(t, err)
	require.NoError(t, dataset.SaveJSON(path, d))
}

func TestLoadAndTrainLocally(t *testing.T) {
	logger := utils.NewLogger(utils.DEBUG)
	path := filepath.Join(t.TempDir(), "cell3.json")
	writeCell(t, path, 50)

	opts := DataOptions{NoiseVariance: 0.01, TestFraction: 0.2, ValidationFraction: 0.15}
	c, err := LoadFLClient(logger, path, opts, 5)
	require.NoError(t, err)
	assert.Equal(t, "cell3", c.ClientID)
	// 50 -> 10 test, 6 validation, 34 train
	assert.Equal(t, 34, c.Samples)
	assert.Equal(t, 6, c.Data.Validation.Len())
	assert.Equal(t, 10, c.Data.Test.Len())
	assert.Equal(t, 3, c.InputDim())
	assert.Equal(t, 4, c.OutputDim())

	sys := rateloss.DefaultSystem()
	sys.Antennas = 2
	arch := model.Architecture{InputDim: 3, Hidden: []int{5}, OutputDim: 4, L2: 1e-4, BNMomentum: 0.99, BNEpsilon: 1e-3}
	global := arch.Init(utils.NewRand(9))
	before := global.Clone()

	local, report, err := c.RunLocalRound(logger, arch, global, sys, model.TrainConfig{Epochs: 2, BatchSize: 8, LearningRate: 1e-3})
	require.NoError(t, err)
	assert.Equal(t, before, global)
	assert.NoError(t, global.CheckLayout(local))
	assert.Equal(t, 2, report.Epochs)
	// 34 samples in batches of 8
	assert.Equal(t, 10, report.Steps)

	loss, err := c.TestLoss(arch, local, sys)
	require.NoError(t, err)
	assert.True(t, utils.IsFinite(loss))

	_, _, err = c.RunLocalRound(logger, arch, global[:3], sys, model.DefaultTrainConfig())
	assert.ErrorIs(t, err, model.ErrShapeMismatch)
}

func TestLoadFLClientErrors(t *testing.T) {
	logger := utils.NewLogger(utils.DEBUG)
	dir := t.TempDir()
	opts := DataOptions{TestFraction: 0.2, ValidationFraction: 0.15}

	_, err := LoadFLClient(logger, filepath.Join(dir, "missing.npz"), opts, 1)
	assert.Error(t, err)

	path := filepath.Join(dir, "tiny.json")
	writeCell(t, path, 1)
	_, err = LoadFLClient(logger, path, opts, 1)
	assert.ErrorIs(t, err, dataset.ErrEmpty)
}
