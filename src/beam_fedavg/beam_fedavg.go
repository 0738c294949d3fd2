package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	BeamFL "beamfl"
	"beamfl/configs"
	"beamfl/src/beam_fedavg/client"
	"beamfl/src/beam_fedavg/server"
	"beamfl/src/history"
	"beamfl/src/model"
	"beamfl/src/rateloss"
	"beamfl/src/utils"

	"gopkg.in/yaml.v3"
)

func main() {
	root := BeamFL.FindRootPath()
	configPath := filepath.Join(root, configs.Configs, configs.DefaultConfigFile)
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := configs.Load(configPath)
	utils.HandleError(err)

	logger := utils.NewLogger(cfg.Debug)
	logger.PrintHeader("Federated sub-6GHz to mmWave beam prediction")
	logger.PrintFormatted("Configuration: %s", configPath)

	_, _, err = Run(logger, root, cfg)
	utils.HandleError(err)
}

// Run loads one FL client per configured cell, trains the global model for
// the configured rounds and returns it with the round reports.
func Run(logger utils.Logger, root string, cfg configs.Config) (model.Params, []server.RoundReport, error) {
	t := time.Now()
	seed := cfg.Seed
	if seed == 0 {
		seed = utils.RandUint64()
	}
	logger.Info("starting", "seed", seed, "rounds", cfg.Training.Rounds, "clients", cfg.Training.Clients)

	clients, err := LoadClients(logger.Named("client"), root, cfg, seed)
	if err != nil {
		return nil, nil, err
	}
	logger.PrintMemUsage("datasets loaded")

	arch := cfg.Architecture(clients[0].InputDim())
	global := arch.Init(utils.NewRand(utils.DeriveSeed(seed, len(clients))))
	logger.PrintFormatted("Global model: %d tensors, %d parameters", len(global), global.NumElements())
	logger.PrintSummarizedVector("dense/kernel", global[global.Index("dense/kernel")].Data, 16)

	srvCfg := server.Config{
		Rounds:    cfg.Training.Rounds,
		Train:     cfg.TrainConfig(),
		ModelPath: configs.Resolve(root, cfg.Model.Path),
	}
	if cfg.HistoryPath != "" {
		store, err := history.Open(configs.Resolve(root, cfg.HistoryPath))
		if err != nil {
			return nil, nil, err
		}
		defer store.Close()
		runCfg := cfg
		runCfg.Seed = seed
		doc, err := yaml.Marshal(runCfg)
		if err != nil {
			return nil, nil, err
		}
		srvCfg.History = store
		srvCfg.RunConfig = string(doc)
	}

	srv, err := server.NewFLServer(logger.Named("server"), arch, cfg.System(), clients, srvCfg)
	if err != nil {
		return nil, nil, err
	}
	global, reports, err := srv.Run(context.Background(), global)
	if err != nil {
		return nil, reports, err
	}
	logger.PrintMemUsage("training done")
	logger.PrintRunningTime("Federated training", t)
	return global, reports, nil
}

// LoadClients builds the FL clients in configuration order. Every cell must
// share the input width, and its beams must match the configured antennas.
func LoadClients(logger utils.Logger, root string, cfg configs.Config, seed uint64) ([]*client.FLClient, error) {
	opts := client.DataOptions{
		NoiseVariance:      cfg.Data.NoiseVariance,
		TestFraction:       cfg.Data.TestFraction,
		ValidationFraction: cfg.Data.ValidationFraction,
	}
	width := cfg.System().Width()
	clients := make([]*client.FLClient, 0, cfg.Training.Clients)
	for i, path := range cfg.CellPaths(root) {
		c, err := client.LoadFLClient(logger, path, opts, utils.DeriveSeed(seed, i))
		if err != nil {
			return nil, err
		}
		if c.OutputDim() != width {
			return nil, fmt.Errorf("%s: %w: %d output values, want %d", path, rateloss.ErrShape, c.OutputDim(), width)
		}
		if len(clients) > 0 && c.InputDim() != clients[0].InputDim() {
			return nil, fmt.Errorf("%s: %d input features, %s has %d", path, c.InputDim(), clients[0].ClientID, clients[0].InputDim())
		}
		clients = append(clients, c)
	}
	return clients, nil
}
