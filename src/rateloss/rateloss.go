// Package rateloss implements the spectral-efficiency objective used to train
// the beam predictor. Beam vectors travel as real rows of width 2n: the first
// n entries are the real parts, the last n the imaginary parts.
package rateloss

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ThermalNoiseDBmHz is the thermal noise floor kT at the 290 K reference
// temperature, rounded to the customary -174 dBm/Hz.
const ThermalNoiseDBmHz = -174.0

var ErrShape = errors.New("beam vector shape mismatch")

// System holds the radio parameters from which the SNR scaling of the loss
// is derived.
type System struct {
	TotalPowerDBm float64 // total transmit power over all subcarriers
	Subcarriers   int
	BandwidthHz   float64
	NoiseFigureDB float64
	NumStreams    int
	Antennas      int // complex beam length, rows are 2*Antennas wide
}

// DefaultSystem is the 28GHz setup. Where each value comes from:
//
//   - Antennas: 64, fixed by the cell datasets whose beam rows are 128 wide
//     (64 real then 64 imaginary parts).
//   - TotalPowerDBm: 30 dBm, i.e. 1 W, the transmit power of the deployment.
//   - BandwidthHz: 500 MHz of 28GHz spectrum.
//   - Subcarriers: 64. Both TransmitPower and NoisePower are per subcarrier,
//     so the count cancels in SNRScale and does not change the loss.
//   - NoiseFigureDB: 0, an ideal receiver; only kT noise is counted.
//   - NumStreams: 1, a single beam per sample.
//
// The resulting SNR scale is W(30 dBm) / W(-174 dBm/Hz + 10log10(500 MHz)),
// about 5.0e11 (117.01 dB). TestSystemConstants pins these numbers.
func DefaultSystem() System {
	return System{
		TotalPowerDBm: 30,
		Subcarriers:   64,
		BandwidthHz:   0.5e9,
		NoiseFigureDB: 0,
		NumStreams:    1,
		Antennas:      64,
	}
}

func dbmToWatt(dbm float64) float64 {
	return math.Pow(10, (dbm-30)/10)
}

func (s System) Validate() error {
	switch {
	case s.Subcarriers <= 0:
		return fmt.Errorf("subcarriers must be positive, got %d", s.Subcarriers)
	case s.BandwidthHz <= 0:
		return fmt.Errorf("bandwidth must be positive, got %g", s.BandwidthHz)
	case s.NumStreams <= 0:
		return fmt.Errorf("streams must be positive, got %d", s.NumStreams)
	case s.Antennas <= 0:
		return fmt.Errorf("antennas must be positive, got %d", s.Antennas)
	}
	return nil
}

// Width is the real row width of a beam vector.
func (s System) Width() int {
	return 2 * s.Antennas
}

// TransmitPower is the per-subcarrier transmit power in watts.
func (s System) TransmitPower() float64 {
	return dbmToWatt(s.TotalPowerDBm) / float64(s.Subcarriers)
}

// NoisePower is the thermal noise power of one subcarrier in watts.
func (s System) NoisePower() float64 {
	perSubcarrierHz := s.BandwidthHz / float64(s.Subcarriers)
	return dbmToWatt(ThermalNoiseDBmHz + 10*math.Log10(perSubcarrierHz) + s.NoiseFigureDB)
}

// SNRScale converts a beamforming gain into an SNR.
func (s System) SNRScale() float64 {
	return s.TransmitPower() / (float64(s.NumStreams) * s.NoisePower())
}

// innerProduct returns the real and imaginary parts of t^H p.
func innerProduct(t, p []float64) (re, im float64) {
	n := len(t) / 2
	for k := 0; k < n; k++ {
		a, b := t[k], t[n+k]
		x, y := p[k], p[n+k]
		re += a*x + b*y
		im += a*y - b*x
	}
	return
}

// Gain is |t^H p|^2 for one pair of split complex vectors.
func Gain(t, p []float64) float64 {
	re, im := innerProduct(t, p)
	return re*re + im*im
}

// SNR of transmitting with beam p over channel t.
func (s System) SNR(t, p []float64) float64 {
	return s.SNRScale() * Gain(t, p)
}

// Rate is the spectral efficiency log2(1+SNR) in bit/s/Hz.
func (s System) Rate(t, p []float64) float64 {
	return math.Log2(1 + s.SNR(t, p))
}

func (s System) checkDims(truth, pred mat.Matrix) (int, error) {
	tr, tc := truth.Dims()
	pr, pc := pred.Dims()
	if tr != pr || tc != pc {
		return 0, fmt.Errorf("%w: truth %dx%d, prediction %dx%d", ErrShape, tr, tc, pr, pc)
	}
	if tc != s.Width() {
		return 0, fmt.Errorf("%w: width %d, want %d", ErrShape, tc, s.Width())
	}
	return tr, nil
}

// Loss is the negative mean rate over the batch rows.
func (s System) Loss(truth, pred *mat.Dense) (float64, error) {
	rows, err := s.checkDims(truth, pred)
	if err != nil {
		return 0, err
	}
	var sum float64
	for i := 0; i < rows; i++ {
		sum += s.Rate(truth.RawRowView(i), pred.RawRowView(i))
	}
	return -sum / float64(rows), nil
}

// LossGrad returns the loss together with its gradient with respect to pred.
func (s System) LossGrad(truth, pred *mat.Dense) (float64, *mat.Dense, error) {
	rows, err := s.checkDims(truth, pred)
	if err != nil {
		return 0, nil, err
	}
	_, cols := pred.Dims()
	n := cols / 2
	scale := s.SNRScale()
	grad := mat.NewDense(rows, cols, nil)

	var sum float64
	for i := 0; i < rows; i++ {
		t := truth.RawRowView(i)
		re, im := innerProduct(t, pred.RawRowView(i))
		g := re*re + im*im
		sum += math.Log2(1 + scale*g)

		// d(-log2(1+c g)/rows)/dg
		dg := -scale / ((1 + scale*g) * math.Ln2 * float64(rows))
		row := grad.RawRowView(i)
		for k := 0; k < n; k++ {
			a, b := t[k], t[n+k]
			row[k] = dg * 2 * (re*a - im*b)
			row[n+k] = dg * 2 * (re*b + im*a)
		}
	}
	return -sum / float64(rows), grad, nil
}
