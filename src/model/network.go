package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// l2Floor is the squared norm at or below which an output row is treated as
// zero by the normalization.
const l2Floor = 1e-12

// batch norm tensors come first, dense kernel/bias pairs follow
const (
	bnGamma = iota
	bnBeta
	bnMovingMean
	bnMovingVariance
	denseOffset
)

var ErrInputShape = errors.New("input shape mismatch")

// Architecture describes the beam predictor: batch norm over the flattened
// input, ReLU dense layers of the Hidden widths with an L2 kernel penalty,
// a linear dense layer of OutputDim and a row-wise L2 normalization.
type Architecture struct {
	InputDim   int     `json:"input_dim" yaml:"input_dim"`
	Hidden     []int   `json:"hidden" yaml:"hidden"`
	OutputDim  int     `json:"output_dim" yaml:"output_dim"`
	L2         float64 `json:"l2" yaml:"l2"`
	BNMomentum float64 `json:"bn_momentum" yaml:"bn_momentum"`
	BNEpsilon  float64 `json:"bn_epsilon" yaml:"bn_epsilon"`
}

// DefaultArchitecture is the 1024-2048-2048-1024-128 network.
func DefaultArchitecture(inputDim int) Architecture {
	return Architecture{
		InputDim:   inputDim,
		Hidden:     []int{1024, 2048, 2048, 1024},
		OutputDim:  128,
		L2:         1e-4,
		BNMomentum: 0.99,
		BNEpsilon:  1e-3,
	}
}

func (a Architecture) Validate() error {
	if a.InputDim <= 0 {
		return fmt.Errorf("input dim must be positive, got %d", a.InputDim)
	}
	if a.OutputDim <= 0 {
		return fmt.Errorf("output dim must be positive, got %d", a.OutputDim)
	}
	for i, h := range a.Hidden {
		if h <= 0 {
			return fmt.Errorf("hidden layer %d has width %d", i, h)
		}
	}
	if a.L2 < 0 {
		return fmt.Errorf("l2 must not be negative, got %g", a.L2)
	}
	if a.BNMomentum < 0 || a.BNMomentum >= 1 {
		return fmt.Errorf("batch norm momentum must be in [0,1), got %g", a.BNMomentum)
	}
	if a.BNEpsilon <= 0 {
		return fmt.Errorf("batch norm epsilon must be positive, got %g", a.BNEpsilon)
	}
	return nil
}

// widths returns the unit count of every layer, input first.
func (a Architecture) widths() []int {
	w := make([]int, 0, len(a.Hidden)+2)
	w = append(w, a.InputDim)
	w = append(w, a.Hidden...)
	return append(w, a.OutputDim)
}

// NumDense is the number of dense layers including the output layer.
func (a Architecture) NumDense() int {
	return len(a.Hidden) + 1
}

func kernelIndex(layer int) int { return denseOffset + 2*layer }
func biasIndex(layer int) int   { return denseOffset + 2*layer + 1 }

func denseName(layer int) string {
	if layer == 0 {
		return "dense"
	}
	return fmt.Sprintf("dense_%d", layer)
}

// Layout returns zero parameters in the order the network expects.
func (a Architecture) Layout() Params {
	p := Params{
		NewTensor("batch_normalization/gamma", a.InputDim),
		NewTensor("batch_normalization/beta", a.InputDim),
		NewTensor("batch_normalization/moving_mean", a.InputDim),
		NewTensor("batch_normalization/moving_variance", a.InputDim),
	}
	w := a.widths()
	for l := 0; l < a.NumDense(); l++ {
		p = append(p,
			NewTensor(denseName(l)+"/kernel", w[l], w[l+1]),
			NewTensor(denseName(l)+"/bias", w[l+1]),
		)
	}
	return p
}

// Trainable reports whether the tensor at index i is updated by the optimizer.
// Batch norm moving statistics are not.
func Trainable(i int) bool {
	return i != bnMovingMean && i != bnMovingVariance
}

// Init draws fresh parameters: Glorot-uniform kernels, zero biases, unit
// gamma and moving variance.
func (a Architecture) Init(rng *rand.Rand) Params {
	p := a.Layout()
	for i := range p[bnGamma].Data {
		p[bnGamma].Data[i] = 1
		p[bnMovingVariance].Data[i] = 1
	}
	for l := 0; l < a.NumDense(); l++ {
		k := p[kernelIndex(l)]
		fanIn, fanOut := k.Shape[0], k.Shape[1]
		limit := math.Sqrt(6 / float64(fanIn+fanOut))
		u := distuv.Uniform{Min: -limit, Max: limit, Src: rng}
		for i := range k.Data {
			k.Data[i] = u.Rand()
		}
	}
	return p
}

// Network is a beam predictor bound to one parameter set.
type Network struct {
	arch   Architecture
	params Params
}

// NewNetwork builds a network from a copy of params.
func NewNetwork(arch Architecture, params Params) (*Network, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	if err := arch.Layout().CheckLayout(params); err != nil {
		return nil, err
	}
	for _, t := range params {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return &Network{arch: arch, params: params.Clone()}, nil
}

// Params returns a copy of the current parameters.
func (n *Network) Params() Params {
	return n.params.Clone()
}

// Penalty is the L2 kernel regularization term added to the loss.
func (n *Network) Penalty() float64 {
	if n.arch.L2 == 0 {
		return 0
	}
	var sum float64
	for l := 0; l < n.arch.NumDense()-1; l++ {
		k := n.params[kernelIndex(l)].Data
		sum += floats.Dot(k, k)
	}
	return n.arch.L2 * sum
}

// Predict maps a batch of inputs to unit-norm beam vectors using the moving
// batch norm statistics.
func (n *Network) Predict(x *mat.Dense) (*mat.Dense, error) {
	p, err := n.forward(x, false)
	if err != nil {
		return nil, err
	}
	return p.out, nil
}

// pass keeps the intermediate values of one forward evaluation.
type pass struct {
	xhat     *mat.Dense
	mean     []float64
	variance []float64
	inputs   []*mat.Dense // inputs[l] feeds dense layer l
	pre      []*mat.Dense // pre-activation of dense layer l
	sumSq    []float64    // squared row norms of the output pre-activation
	out      *mat.Dense
}

func (n *Network) forward(x *mat.Dense, training bool) (*pass, error) {
	rows, cols := x.Dims()
	if cols != n.arch.InputDim {
		return nil, fmt.Errorf("%w: %d features, want %d", ErrInputShape, cols, n.arch.InputDim)
	}
	p := &pass{}

	gamma := n.params[bnGamma].Data
	beta := n.params[bnBeta].Data
	mean, variance := n.params[bnMovingMean].Data, n.params[bnMovingVariance].Data
	if training {
		p.mean, p.variance = columnMoments(x)
		mean, variance = p.mean, p.variance
	}

	p.xhat = mat.NewDense(rows, cols, nil)
	a := mat.NewDense(rows, cols, nil)
	invStd := make([]float64, cols)
	for j := range invStd {
		invStd[j] = 1 / math.Sqrt(variance[j]+n.arch.BNEpsilon)
	}
	for i := 0; i < rows; i++ {
		src, xh, dst := x.RawRowView(i), p.xhat.RawRowView(i), a.RawRowView(i)
		for j := range src {
			xh[j] = (src[j] - mean[j]) * invStd[j]
			dst[j] = gamma[j]*xh[j] + beta[j]
		}
	}

	last := n.arch.NumDense() - 1
	for l := 0; l <= last; l++ {
		kernel := n.params[kernelIndex(l)]
		bias := n.params[biasIndex(l)].Data
		z := mat.NewDense(rows, kernel.Shape[1], nil)
		z.Mul(a, kernel.Matrix())
		for i := 0; i < rows; i++ {
			floats.Add(z.RawRowView(i), bias)
		}
		p.inputs = append(p.inputs, a)
		p.pre = append(p.pre, z)

		if l < last {
			a = relu(z)
			continue
		}
		p.out, p.sumSq = l2Normalize(z)
	}
	return p, nil
}

// backward returns the gradient of the objective given dOut, its gradient
// with respect to the network output. The L2 penalty gradient is included.
func (n *Network) backward(p *pass, dOut *mat.Dense) Params {
	grads := n.arch.Layout()
	rows, outDim := p.out.Dims()

	dz := mat.NewDense(rows, outDim, nil)
	for i := 0; i < rows; i++ {
		y, dy, d := p.out.RawRowView(i), dOut.RawRowView(i), dz.RawRowView(i)
		// degenerate rows were replaced by a constant and pass no gradient
		if p.sumSq[i] <= l2Floor {
			continue
		}
		norm := math.Sqrt(p.sumSq[i])
		dot := floats.Dot(y, dy)
		for k := range d {
			d[k] = (dy[k] - y[k]*dot) / norm
		}
	}

	last := n.arch.NumDense() - 1
	for l := last; l >= 0; l-- {
		kernel := n.params[kernelIndex(l)]
		gk := grads[kernelIndex(l)]
		gk.Matrix().Mul(p.inputs[l].T(), dz)
		if l < last && n.arch.L2 > 0 {
			floats.AddScaled(gk.Data, 2*n.arch.L2, kernel.Data)
		}
		gb := grads[biasIndex(l)].Data
		for i := 0; i < rows; i++ {
			floats.Add(gb, dz.RawRowView(i))
		}

		inDim := kernel.Shape[0]
		da := mat.NewDense(rows, inDim, nil)
		da.Mul(dz, kernel.Matrix().T())
		if l > 0 {
			pre := p.pre[l-1]
			for i := 0; i < rows; i++ {
				g, z := da.RawRowView(i), pre.RawRowView(i)
				for k := range g {
					if z[k] <= 0 {
						g[k] = 0
					}
				}
			}
			dz = da
			continue
		}

		dGamma, dBeta := grads[bnGamma].Data, grads[bnBeta].Data
		for i := 0; i < rows; i++ {
			g, xh := da.RawRowView(i), p.xhat.RawRowView(i)
			for j := range g {
				dGamma[j] += g[j] * xh[j]
				dBeta[j] += g[j]
			}
		}
	}
	return grads
}

// updateMovingStats folds the batch moments of a training pass into the
// moving statistics.
func (n *Network) updateMovingStats(p *pass) {
	m := n.arch.BNMomentum
	mean, variance := n.params[bnMovingMean].Data, n.params[bnMovingVariance].Data
	for j := range mean {
		mean[j] = mean[j]*m + p.mean[j]*(1-m)
		variance[j] = variance[j]*m + p.variance[j]*(1-m)
	}
}

// columnMoments returns the per-column mean and biased variance.
func columnMoments(x *mat.Dense) (mean, variance []float64) {
	rows, cols := x.Dims()
	mean = make([]float64, cols)
	variance = make([]float64, cols)
	for i := 0; i < rows; i++ {
		floats.Add(mean, x.RawRowView(i))
	}
	floats.Scale(1/float64(rows), mean)
	for i := 0; i < rows; i++ {
		row := x.RawRowView(i)
		for j, v := range row {
			d := v - mean[j]
			variance[j] += d * d
		}
	}
	floats.Scale(1/float64(rows), variance)
	return
}

func relu(z *mat.Dense) *mat.Dense {
	a := mat.DenseCopyOf(z)
	a.Apply(func(_, _ int, v float64) float64 {
		return math.Max(v, 0)
	}, a)
	return a
}

// l2Normalize scales every row to unit norm. A row whose squared norm is at
// most l2Floor has no direction and becomes the uniform vector 1/sqrt(n).
func l2Normalize(z *mat.Dense) (*mat.Dense, []float64) {
	rows, cols := z.Dims()
	out := mat.DenseCopyOf(z)
	sumSq := make([]float64, rows)
	uniform := 1 / math.Sqrt(float64(cols))
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		sumSq[i] = floats.Dot(row, row)
		if sumSq[i] <= l2Floor {
			for k := range row {
				row[k] = uniform
			}
			continue
		}
		floats.Scale(1/math.Sqrt(sumSq[i]), row)
	}
	return out, sumSq
}
