// Package fedavg implements data-size weighted federated averaging over
// model parameter sets.
package fedavg

import (
	"errors"
	"fmt"

	"beamfl/src/model"

	"gonum.org/v1/gonum/floats"
)

var (
	ErrNoUpdates     = errors.New("no parameter sets to aggregate")
	ErrNoSamples     = errors.New("clients hold no training samples")
	ErrShapeMismatch = model.ErrShapeMismatch
)

// Scale returns a copy of p with every element multiplied by s. A tensor
// whose data does not fill its shape yields ErrShapeMismatch.
func Scale(p model.Params, s float64) (model.Params, error) {
	out := make(model.Params, len(p))
	for i, t := range p {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		out[i] = model.NewTensor(t.Name, t.Shape...)
		floats.ScaleTo(out[i].Data, s, t.Data)
	}
	return out, nil
}

// SumScaled adds the parameter sets elementwise. All sets must share the
// layout of the first one.
func SumScaled(sets []model.Params) (model.Params, error) {
	if len(sets) == 0 {
		return nil, ErrNoUpdates
	}
	sum := sets[0].Clone()
	for k, p := range sets[1:] {
		if err := sum.CheckLayout(p); err != nil {
			return nil, fmt.Errorf("parameter set %d: %w", k+1, err)
		}
		for i := range sum {
			floats.Add(sum[i].Data, p[i].Data)
		}
	}
	return sum, nil
}

// ClientWeights turns training-sample counts into aggregation weights that
// sum to one.
func ClientWeights(sizes []int) ([]float64, error) {
	total := 0
	for i, n := range sizes {
		if n < 0 {
			return nil, fmt.Errorf("client %d: negative sample count %d", i, n)
		}
		total += n
	}
	if total == 0 {
		return nil, ErrNoSamples
	}
	w := make([]float64, len(sizes))
	for i, n := range sizes {
		w[i] = float64(n) / float64(total)
	}
	return w, nil
}

// Aggregate is weighted federated averaging: every set is scaled by its
// share of the training samples and the results are summed. The server
// aggregates each round through it.
func Aggregate(sets []model.Params, sizes []int) (model.Params, error) {
	if len(sets) != len(sizes) {
		return nil, fmt.Errorf("%d parameter sets for %d sample counts", len(sets), len(sizes))
	}
	weights, err := ClientWeights(sizes)
	if err != nil {
		return nil, err
	}
	scaled := make([]model.Params, len(sets))
	for i, p := range sets {
		if scaled[i], err = Scale(p, weights[i]); err != nil {
			return nil, fmt.Errorf("parameter set %d: %w", i, err)
		}
	}
	return SumScaled(scaled)
}
