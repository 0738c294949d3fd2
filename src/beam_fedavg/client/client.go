package client

import (
	"fmt"
	"math/rand/v2"
	"time"

	"beamfl/src/dataset"
	"beamfl/src/model"
	"beamfl/src/utils"
)

// FLClient is one cell: its private splits and the generator used to shuffle
// them. Samples caches the training-set size used for aggregation weights.
type FLClient struct {
	ClientID string
	Data     *dataset.ClientDataset
	Samples  int
	rng      *rand.Rand
}

func NewFLClient(clientID string, data *dataset.ClientDataset, seed uint64) *FLClient {
	return &FLClient{
		ClientID: clientID,
		Data:     data,
		Samples:  data.Train.Len(),
		rng:      utils.NewRand(seed),
	}
}

// DataOptions controls how a cell file is turned into client splits.
type DataOptions struct {
	NoiseVariance      float64
	TestFraction       float64
	ValidationFraction float64
}

// LoadFLClient reads the dataset at path, perturbs its inputs and partitions
// it into the client's train, validation and test splits.
func LoadFLClient(logger utils.Logger, path string, opts DataOptions, seed uint64) (*FLClient, error) {
	t := time.Now()
	d, err := dataset.Load(path)
	if err != nil {
		return nil, err
	}
	rng := utils.NewRand(seed)
	d.AddNoise(opts.NoiseVariance, rng)

	data, err := d.Partition(opts.TestFraction, opts.ValidationFraction, rng)
	if err != nil {
		return nil, err
	}
	c := NewFLClient(d.Name, data, rng.Uint64())
	logger.PrintFormatted("[Client %s] %d samples x %d features: train=%d val=%d test=%d",
		c.ClientID, d.Len(), d.InputDim(), data.Train.Len(), data.Validation.Len(), data.Test.Len())
	logger.PrintRunningTime(fmt.Sprintf("Time to load %s", path), t)
	return c, nil
}

// InputDim is the feature width of the client's samples.
func (c *FLClient) InputDim() int {
	_, cols := c.Data.Train.X.Dims()
	return cols
}

func (c *FLClient) OutputDim() int {
	_, cols := c.Data.Train.Y.Dims()
	return cols
}

// RunLocalRound trains a fresh local model initialized from global on the
// client's training split and returns its parameters. global is not modified.
func (c *FLClient) RunLocalRound(
	logger utils.Logger,
	arch model.Architecture,
	global model.Params,
	objective model.Objective,
	cfg model.TrainConfig,
) (model.Params, model.Report, error) {
	net, err := model.NewNetwork(arch, global)
	if err != nil {
		return nil, model.Report{}, fmt.Errorf("client %s: %w", c.ClientID, err)
	}
	report, err := model.Fit(net, objective, c.Data.Train, c.Data.Validation, cfg, c.rng)
	if err != nil {
		return nil, report, fmt.Errorf("client %s: %w", c.ClientID, err)
	}
	logger.Info("local round done", "client", c.ClientID,
		"train_loss", report.TrainLoss, "val_loss", report.ValLoss, "steps", report.Steps)
	return net.Params(), report, nil
}

// TestLoss evaluates params on the client's held-out test split.
func (c *FLClient) TestLoss(arch model.Architecture, params model.Params, objective model.Objective) (float64, error) {
	net, err := model.NewNetwork(arch, params)
	if err != nil {
		return 0, err
	}
	return model.Evaluate(net, objective, c.Data.Test)
}
