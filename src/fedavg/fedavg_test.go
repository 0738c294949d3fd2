package fedavg

import (
	"math/rand/v2"
	"testing"

	"beamfl/src/model"
	"beamfl/src/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func testArchitecture() model.Architecture {
	return model.Architecture{
		InputDim:   4,
		Hidden:     []int{6},
		OutputDim:  4,
		L2:         1e-4,
		BNMomentum: 0.99,
		BNEpsilon:  1e-3,
	}
}

func randomSets(n int) []model.Params {
	arch := testArchitecture()
	sets := make([]model.Params, n)
	for i := range sets {
		sets[i] = arch.Init(rand.New(rand.NewPCG(uint64(i), 1)))
	}
	return sets
}

func TestScaleByOneIsIdentity(t *testing.T) {
	p := randomSets(1)[0]
	scaled, err := Scale(p, 1)
	require.NoError(t, err)
	assert.Equal(t, p, scaled)

	// Scale never aliases its input
	scaled[4].Data[0] = 100
	assert.NotEqual(t, 100.0, p[4].Data[0])
}

func TestScale(t *testing.T) {
	p := randomSets(1)[0]
	half, err := Scale(p, 0.5)
	require.NoError(t, err)
	for i := range p {
		for k, v := range p[i].Data {
			assert.InDelta(t, v/2, half[i].Data[k], 1e-15)
		}
	}
}

func TestScaleRejectsMalformedTensor(t *testing.T) {
	sets := randomSets(2)
	sets[1][4].Data = sets[1][4].Data[:3]

	_, err := Scale(sets[1], 0.5)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = Aggregate(sets, []int{10, 10})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSumScaledKeepsShapes(t *testing.T) {
	sets := randomSets(4)
	weights := []float64{0.1, 0.2, 0.3, 0.4}
	scaled := make([]model.Params, len(sets))
	for i := range sets {
		var err error
		scaled[i], err = Scale(sets[i], weights[i])
		require.NoError(t, err)
	}
	sum, err := SumScaled(scaled)
	require.NoError(t, err)
	for _, p := range sets {
		assert.Equal(t, p.Shapes(), sum.Shapes())
		assert.NoError(t, p.CheckLayout(sum))
	}

	want := 0.0
	for i := range sets {
		want += weights[i] * sets[i][4].Data[3]
	}
	assert.InDelta(t, want, sum[4].Data[3], 1e-12)
}

func TestSumScaledErrors(t *testing.T) {
	_, err := SumScaled(nil)
	assert.ErrorIs(t, err, ErrNoUpdates)

	sets := randomSets(2)
	other := testArchitecture()
	other.Hidden = []int{7}
	sets = append(sets, other.Layout())
	_, err = SumScaled(sets)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = Aggregate(sets, []int{10, 10, 10})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestClientWeightsSumToOne(t *testing.T) {
	w, err := ClientWeights([]int{100, 37, 12, 251})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, floats.Sum(w), 1e-12)
	assert.InDelta(t, 0.25, w[0], 1e-12)

	_, err = ClientWeights([]int{0, 0})
	assert.ErrorIs(t, err, ErrNoSamples)
	_, err = ClientWeights([]int{3, -1})
	assert.Error(t, err)
}

func TestAggregateOfIdenticalSetsIsUnchanged(t *testing.T) {
	p := randomSets(1)[0]
	global, err := Aggregate([]model.Params{p, p.Clone(), p.Clone()}, []int{5, 91, 3})
	require.NoError(t, err)
	for i := range p {
		assert.Less(t, utils.MaxAbsDiff(p[i].Data, global[i].Data), 1e-12)
	}
}

func TestDominatingClient(t *testing.T) {
	sets := randomSets(4)
	total := 1_000_000
	sizes := []int{total - 3, 1, 1, 1}

	w, err := ClientWeights(sizes)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, w[0], 1e-5)
	for _, wi := range w[1:] {
		assert.InDelta(t, 0.0, wi, 1e-5)
	}

	global, err := Aggregate(sets, sizes)
	require.NoError(t, err)
	for i := range global {
		assert.Less(t, utils.MaxAbsDiff(sets[0][i].Data, global[i].Data), 1e-5)
	}
}

func TestAggregateRejectsMismatchedCounts(t *testing.T) {
	_, err := Aggregate(randomSets(2), []int{1})
	assert.Error(t, err)
}
