package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"beamfl/src/beam_fedavg/client"
	"beamfl/src/fedavg"
	"beamfl/src/history"
	"beamfl/src/model"
	"beamfl/src/utils"
)

// State is the position of the server in the round loop.
type State int

const (
	Idle State = iota
	RoundInProgress
	RoundComplete
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case RoundInProgress:
		return "RoundInProgress"
	case RoundComplete:
		return "RoundComplete"
	case Finished:
		return "Finished"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var ErrNoClients = errors.New("no FL clients")

// ClientMetrics is what one client reported in one round.
type ClientMetrics struct {
	ClientID  string
	Samples   int
	Weight    float64
	TrainLoss float64
	ValLoss   float64
	Duration  time.Duration
}

type RoundReport struct {
	Round   int
	Clients []ClientMetrics
	// MaxUpdate is the largest change of any global parameter in the round.
	MaxUpdate float64
	Duration  time.Duration
}

// Config holds the round loop settings.
type Config struct {
	Rounds int
	Train  model.TrainConfig
	// ModelPath receives the final global model; empty skips persisting.
	ModelPath string
	// History, when set, records every round under a new run.
	History   *history.Store
	RunConfig string
}

// FLServer drives the communication rounds over a fixed, ordered set of
// clients. The global parameters are passed into and returned from every
// round; the server keeps no copy of them.
type FLServer struct {
	logger    utils.Logger
	arch      model.Architecture
	objective model.Objective
	clients   []*client.FLClient
	weights   []float64
	cfg       Config
	state     State
	runID     string
}

func NewFLServer(
	logger utils.Logger,
	arch model.Architecture,
	objective model.Objective,
	clients []*client.FLClient,
	cfg Config,
) (*FLServer, error) {
	if len(clients) == 0 {
		return nil, ErrNoClients
	}
	if cfg.Rounds <= 0 {
		return nil, fmt.Errorf("rounds must be positive, got %d", cfg.Rounds)
	}
	if err := cfg.Train.Validate(); err != nil {
		return nil, err
	}
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	sizes := make([]int, len(clients))
	for i, c := range clients {
		sizes[i] = c.Samples
	}
	weights, err := fedavg.ClientWeights(sizes)
	if err != nil {
		return nil, err
	}
	return &FLServer{
		logger:    logger,
		arch:      arch,
		objective: objective,
		clients:   clients,
		weights:   weights,
		cfg:       cfg,
		state:     Idle,
	}, nil
}

func (s *FLServer) State() State {
	return s.state
}

// Weights returns the aggregation weight of every client in order.
func (s *FLServer) Weights() []float64 {
	return append([]float64(nil), s.weights...)
}

// RunID is the history run id, empty without a history store.
func (s *FLServer) RunID() string {
	return s.runID
}

// RunRound trains every client from global in order and averages the local
// results with fedavg.Aggregate, weighted by training samples. Any client
// failure aborts the round.
func (s *FLServer) RunRound(round int, global model.Params) (model.Params, RoundReport, error) {
	s.state = RoundInProgress
	start := time.Now()
	report := RoundReport{Round: round}

	locals := make([]model.Params, 0, len(s.clients))
	sizes := make([]int, 0, len(s.clients))
	for i, c := range s.clients {
		t := time.Now()
		local, fit, err := c.RunLocalRound(s.logger, s.arch, global, s.objective, s.cfg.Train)
		if err != nil {
			return nil, report, fmt.Errorf("round %d: %w", round, err)
		}
		locals = append(locals, local)
		sizes = append(sizes, c.Samples)

		m := ClientMetrics{
			ClientID:  c.ClientID,
			Samples:   c.Samples,
			Weight:    s.weights[i],
			TrainLoss: fit.TrainLoss,
			ValLoss:   fit.ValLoss,
			Duration:  time.Since(t),
		}
		report.Clients = append(report.Clients, m)
		s.logger.PrintFormatted("Round %d | client %s | train loss %.5f | val loss %.5f",
			round, c.ClientID, m.TrainLoss, m.ValLoss)
	}

	s.state = RoundComplete
	next, err := fedavg.Aggregate(locals, sizes)
	if err != nil {
		return nil, report, fmt.Errorf("round %d: aggregate: %w", round, err)
	}
	if err := global.CheckLayout(next); err != nil {
		return nil, report, fmt.Errorf("round %d: aggregate: %w", round, err)
	}
	for i := range next {
		report.MaxUpdate = math.Max(report.MaxUpdate, utils.MaxAbsDiff(global[i].Data, next[i].Data))
	}
	report.Duration = time.Since(start)
	s.logger.Info("aggregated", "round", round, "max_update", report.MaxUpdate)
	return next, report, nil
}

// Run executes all configured rounds starting from global, persists the
// final model and returns it with the per-round reports.
func (s *FLServer) Run(ctx context.Context, global model.Params) (model.Params, []RoundReport, error) {
	if err := s.arch.Layout().CheckLayout(global); err != nil {
		return nil, nil, fmt.Errorf("initial global model: %w", err)
	}
	if s.cfg.History != nil {
		id, err := s.cfg.History.StartRun(ctx, s.cfg.RunConfig)
		if err != nil {
			return nil, nil, err
		}
		s.runID = id
		s.logger.Info("recording history", "run", id)
	}

	reports := make([]RoundReport, 0, s.cfg.Rounds)
	for round := 1; round <= s.cfg.Rounds; round++ {
		s.logger.PrintHeader(fmt.Sprintf("Communication round %d/%d", round, s.cfg.Rounds))
		next, report, err := s.RunRound(round, global)
		if err != nil {
			return nil, reports, err
		}
		global = next
		reports = append(reports, report)
		if err := s.record(ctx, report); err != nil {
			return nil, reports, err
		}
		s.logger.PrintRunningTime(fmt.Sprintf("Round %d", round), time.Now().Add(-report.Duration))
	}
	s.state = Finished

	if s.cfg.ModelPath != "" {
		if err := model.Save(s.cfg.ModelPath, s.arch, global, s.cfg.Rounds); err != nil {
			return nil, reports, fmt.Errorf("save global model: %w", err)
		}
		s.logger.PrintFormatted("Global model saved to %s", s.cfg.ModelPath)
	}
	if s.cfg.History != nil {
		if err := s.cfg.History.FinishRun(ctx, s.runID, s.cfg.Rounds); err != nil {
			return nil, reports, err
		}
	}
	s.evaluate(global)
	return global, reports, nil
}

func (s *FLServer) record(ctx context.Context, report RoundReport) error {
	if s.cfg.History == nil {
		return nil
	}
	rows := make([]history.ClientRound, len(report.Clients))
	for i, m := range report.Clients {
		rows[i] = history.ClientRound{
			Round:     report.Round,
			Client:    m.ClientID,
			Samples:   m.Samples,
			Weight:    m.Weight,
			TrainLoss: m.TrainLoss,
			ValLoss:   m.ValLoss,
			Duration:  m.Duration,
		}
	}
	return s.cfg.History.RecordRound(ctx, s.runID, rows)
}

// evaluate logs the loss of the final global model on every client's test
// split. Failures are logged only.
func (s *FLServer) evaluate(global model.Params) {
	s.logger.PrintMessage("[Server] Evaluating the global model on the client test splits")
	for _, c := range s.clients {
		loss, err := c.TestLoss(s.arch, global, s.objective)
		if err != nil {
			s.logger.Error("test evaluation failed", "client", c.ClientID, "error", err)
			continue
		}
		s.logger.Info("global model test loss", "client", c.ClientID, "loss", loss)
	}
}
