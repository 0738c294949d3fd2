package model

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"beamfl/src/dataset"
	"beamfl/src/utils"

	"gonum.org/v1/gonum/mat"
)

var ErrNonFiniteLoss = errors.New("loss is not finite")

// Objective is a differentiable loss over batches of network outputs.
type Objective interface {
	Loss(truth, pred *mat.Dense) (float64, error)
	LossGrad(truth, pred *mat.Dense) (float64, *mat.Dense, error)
}

// TrainConfig holds the local training hyper-parameters.
type TrainConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Epochs:       1,
		BatchSize:    32,
		LearningRate: 1e-4,
	}
}

func (c TrainConfig) Validate() error {
	switch {
	case c.Epochs <= 0:
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	case c.BatchSize <= 0:
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.LearningRate <= 0:
		return fmt.Errorf("learning rate must be positive, got %g", c.LearningRate)
	}
	return nil
}

// Report is the outcome of one Fit call. Losses are those of the last epoch
// and include the L2 penalty.
type Report struct {
	Epochs    int
	Steps     int
	TrainLoss float64
	ValLoss   float64
	// History holds the train/validation loss of every epoch.
	History [][2]float64
}

// Fit trains net in place on train with a fresh Adam optimizer and evaluates
// on val after every epoch. A validation split without samples reports a
// zero validation loss.
func Fit(net *Network, objective Objective, train, val dataset.Split, cfg TrainConfig, rng *rand.Rand) (Report, error) {
	if err := cfg.Validate(); err != nil {
		return Report{}, err
	}
	if train.Len() == 0 {
		return Report{}, fmt.Errorf("fit: %w", dataset.ErrEmpty)
	}

	opt := NewAdam(cfg.LearningRate)
	report := Report{}
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		trainLoss, err := trainEpoch(net, objective, opt, train, cfg.BatchSize, rng)
		if err != nil {
			return report, fmt.Errorf("epoch %d: %w", epoch+1, err)
		}
		valLoss, err := Evaluate(net, objective, val)
		if err != nil {
			return report, fmt.Errorf("epoch %d validation: %w", epoch+1, err)
		}
		report.Epochs = epoch + 1
		report.TrainLoss = trainLoss
		report.ValLoss = valLoss
		report.History = append(report.History, [2]float64{trainLoss, valLoss})
	}
	report.Steps = opt.Steps()
	return report, nil
}

// trainEpoch runs one shuffled pass over train and returns the sample
// weighted mean of the batch losses.
func trainEpoch(net *Network, objective Objective, opt *Adam, train dataset.Split, batchSize int, rng *rand.Rand) (float64, error) {
	n := train.Len()
	perm := rng.Perm(n)
	var total float64
	for start := 0; start < n; start += batchSize {
		end := min(start+batchSize, n)
		batch := train.Rows(perm[start:end])

		p, err := net.forward(batch.X, true)
		if err != nil {
			return 0, err
		}
		loss, dOut, err := objective.LossGrad(batch.Y, p.out)
		if err != nil {
			return 0, err
		}
		loss += net.Penalty()
		if !utils.IsFinite(loss) {
			return 0, fmt.Errorf("%w: batch at %d: %v", ErrNonFiniteLoss, start, loss)
		}

		grads := net.backward(p, dOut)
		opt.Step(net.params, grads)
		net.updateMovingStats(p)
		total += loss * float64(end-start)
	}
	return total / float64(n), nil
}

// Evaluate returns the inference-mode loss on s plus the L2 penalty.
func Evaluate(net *Network, objective Objective, s dataset.Split) (float64, error) {
	if s.Len() == 0 {
		return 0, nil
	}
	pred, err := net.Predict(s.X)
	if err != nil {
		return 0, err
	}
	loss, err := objective.Loss(s.Y, pred)
	if err != nil {
		return 0, err
	}
	loss += net.Penalty()
	if !utils.IsFinite(loss) {
		return 0, fmt.Errorf("%w: %v", ErrNonFiniteLoss, loss)
	}
	return loss, nil
}
