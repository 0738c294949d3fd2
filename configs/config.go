package configs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"beamfl/src/model"
	"beamfl/src/rateloss"

	"gopkg.in/yaml.v3"
)

// RadioConfig are the 28GHz system constants behind the rate loss.
type RadioConfig struct {
	TotalPowerDBm float64 `yaml:"total_power_dbm"`
	Subcarriers   int     `yaml:"subcarriers"`
	BandwidthHz   float64 `yaml:"bandwidth_hz"`
	NoiseFigureDB float64 `yaml:"noise_figure_db"`
	NumStreams    int     `yaml:"num_streams"`
	Antennas      int     `yaml:"antennas"`
}

type DataConfig struct {
	Dir                string   `yaml:"dir"`
	Cells              []string `yaml:"cells"`
	NoiseVariance      float64  `yaml:"noise_variance"`
	TestFraction       float64  `yaml:"test_fraction"`
	ValidationFraction float64  `yaml:"validation_fraction"`
}

type ModelConfig struct {
	Hidden     []int   `yaml:"hidden"`
	L2         float64 `yaml:"l2"`
	BNMomentum float64 `yaml:"bn_momentum"`
	BNEpsilon  float64 `yaml:"bn_epsilon"`
	// Path of the saved global model, a .xz suffix compresses it
	Path string `yaml:"path"`
}

type TrainingConfig struct {
	Rounds       int     `yaml:"rounds"`
	Clients      int     `yaml:"clients"`
	LocalEpochs  int     `yaml:"local_epochs"`
	BatchSize    int     `yaml:"batch_size"`
	LearningRate float64 `yaml:"learning_rate"`
}

// Config is the whole run configuration. Relative paths are resolved against
// the module root.
type Config struct {
	// Seed drives shuffling, noise and initialization; 0 draws a random seed
	Seed        uint64         `yaml:"seed"`
	Debug       bool           `yaml:"debug"`
	HistoryPath string         `yaml:"history_path"`
	Radio       RadioConfig    `yaml:"radio"`
	Data        DataConfig     `yaml:"data"`
	Model       ModelConfig    `yaml:"model"`
	Training    TrainingConfig `yaml:"training"`
}

// Default returns the reference setup: 4 cells, 100 rounds of one local epoch.
func Default() Config {
	sys := rateloss.DefaultSystem()
	arch := model.DefaultArchitecture(1)
	train := model.DefaultTrainConfig()
	cells := make([]string, len(Cells))
	for i, c := range Cells {
		cells[i] = c + CellFormat
	}
	return Config{
		Seed:        0,
		Debug:       true,
		HistoryPath: filepath.Join(History, HistoryDB),
		Radio: RadioConfig{
			TotalPowerDBm: sys.TotalPowerDBm,
			Subcarriers:   sys.Subcarriers,
			BandwidthHz:   sys.BandwidthHz,
			NoiseFigureDB: sys.NoiseFigureDB,
			NumStreams:    sys.NumStreams,
			Antennas:      sys.Antennas,
		},
		Data: DataConfig{
			Dir:                DataDir,
			Cells:              cells,
			NoiseVariance:      0.01,
			TestFraction:       0.2,
			ValidationFraction: 0.15,
		},
		Model: ModelConfig{
			Hidden:     arch.Hidden,
			L2:         arch.L2,
			BNMomentum: arch.BNMomentum,
			BNEpsilon:  arch.BNEpsilon,
			Path:       filepath.Join(Models, GlobalModel),
		},
		Training: TrainingConfig{
			Rounds:       100,
			Clients:      len(cells),
			LocalEpochs:  train.Epochs,
			BatchSize:    train.BatchSize,
			LearningRate: train.LearningRate,
		},
	}
}

// Load decodes the YAML file at path over Default. Keys missing from the
// file keep their default values; unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.System().Validate(); err != nil {
		return err
	}
	if err := c.TrainConfig().Validate(); err != nil {
		return err
	}
	switch {
	case c.Training.Rounds <= 0:
		return fmt.Errorf("rounds must be positive, got %d", c.Training.Rounds)
	case c.Training.Clients <= 0:
		return fmt.Errorf("clients must be positive, got %d", c.Training.Clients)
	case c.Training.Clients != len(c.Data.Cells):
		return fmt.Errorf("%d clients configured for %d cells", c.Training.Clients, len(c.Data.Cells))
	case c.Data.NoiseVariance < 0:
		return fmt.Errorf("noise variance must not be negative, got %g", c.Data.NoiseVariance)
	case c.Data.TestFraction < 0 || c.Data.TestFraction >= 1:
		return fmt.Errorf("test fraction must be in [0,1), got %g", c.Data.TestFraction)
	case c.Data.ValidationFraction < 0 || c.Data.ValidationFraction >= 1:
		return fmt.Errorf("validation fraction must be in [0,1), got %g", c.Data.ValidationFraction)
	case c.Model.Path == "":
		return errors.New("model path must be set")
	}
	// input width is only known once the data is loaded
	return c.Architecture(1).Validate()
}

// System is the rate loss configured by the radio section.
func (c Config) System() rateloss.System {
	return rateloss.System{
		TotalPowerDBm: c.Radio.TotalPowerDBm,
		Subcarriers:   c.Radio.Subcarriers,
		BandwidthHz:   c.Radio.BandwidthHz,
		NoiseFigureDB: c.Radio.NoiseFigureDB,
		NumStreams:    c.Radio.NumStreams,
		Antennas:      c.Radio.Antennas,
	}
}

// Architecture builds the network description for inputs of width inputDim.
// The output width follows the antenna count.
func (c Config) Architecture(inputDim int) model.Architecture {
	return model.Architecture{
		InputDim:   inputDim,
		Hidden:     append([]int(nil), c.Model.Hidden...),
		OutputDim:  c.System().Width(),
		L2:         c.Model.L2,
		BNMomentum: c.Model.BNMomentum,
		BNEpsilon:  c.Model.BNEpsilon,
	}
}

func (c Config) TrainConfig() model.TrainConfig {
	return model.TrainConfig{
		Epochs:       c.Training.LocalEpochs,
		BatchSize:    c.Training.BatchSize,
		LearningRate: c.Training.LearningRate,
	}
}

// CellPaths returns the dataset file of every client under root.
func (c Config) CellPaths(root string) []string {
	paths := make([]string, len(c.Data.Cells))
	for i, cell := range c.Data.Cells {
		paths[i] = Resolve(root, filepath.Join(c.Data.Dir, cell))
	}
	return paths
}

// Resolve joins relative paths onto root and leaves absolute ones alone.
func Resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
