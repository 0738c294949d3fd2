package model

import "math"

// Adam implements the Adam optimizer with bias correction folded into the
// step size.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	step int
	m    [][]float64
	v    [][]float64
}

// NewAdam returns an optimizer with the usual moment decay rates.
func NewAdam(learningRate float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
	}
}

// Step applies grads to the trainable tensors of params in place.
func (o *Adam) Step(params, grads Params) {
	if o.m == nil {
		o.m = make([][]float64, len(params))
		o.v = make([][]float64, len(params))
		for i, t := range params {
			o.m[i] = make([]float64, t.Size())
			o.v[i] = make([]float64, t.Size())
		}
	}
	o.step++
	t := float64(o.step)
	lr := o.LearningRate * math.Sqrt(1-math.Pow(o.Beta2, t)) / (1 - math.Pow(o.Beta1, t))

	for i := range params {
		if !Trainable(i) {
			continue
		}
		w, g, m, v := params[i].Data, grads[i].Data, o.m[i], o.v[i]
		for k := range w {
			m[k] = o.Beta1*m[k] + (1-o.Beta1)*g[k]
			v[k] = o.Beta2*v[k] + (1-o.Beta2)*g[k]*g[k]
			w[k] -= lr * m[k] / (math.Sqrt(v[k]) + o.Epsilon)
		}
	}
}

// Steps is the number of updates applied so far.
func (o *Adam) Steps() int {
	return o.step
}
