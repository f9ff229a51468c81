// Package poller follows Transfer-family logs on one chain and hands every logical
// transfer to a dispatcher, advancing a persisted checkpoint after each block range.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/nft-syncer/internal/chain"
	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/metrics"
	"github.com/nft-syncer/internal/models"
	"github.com/nft-syncer/internal/storage"
	"github.com/nft-syncer/internal/types"
)

const (
	// DefaultConcurrency bounds the event handlers running within one tick
	DefaultConcurrency = 5
	// SafetyOffset keeps the poller this many blocks behind the head
	SafetyOffset = 1

	defaultPollingBatch = 20
	defaultPollInterval = 6 * time.Second
)

// State is the lifecycle state of a polling project
type State int32

const (
	StateInit State = iota
	StateRunning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// ChainReader is the slice of chain.Reader the poller needs
type ChainReader interface {
	LatestBlock(ctx context.Context, chainID types.ChainID) (uint64, error)
	FilterTransferLogs(ctx context.Context, chainID types.ChainID, from, to uint64) ([]ethtypes.Log, error)
}

// CheckpointStore persists poller progress
type CheckpointStore interface {
	Get(ctx context.Context, project string, chainID types.ChainID) (*models.Checkpoint, error)
	Advance(ctx context.Context, project string, chainID types.ChainID, block uint64) (bool, error)
}

// Dispatcher receives every logical transfer decoded from a log
type Dispatcher interface {
	Dispatch(ctx context.Context, t types.LogicalTransfer) error
}

// DispatchFunc adapts a function to Dispatcher
type DispatchFunc func(ctx context.Context, t types.LogicalTransfer) error

func (f DispatchFunc) Dispatch(ctx context.Context, t types.LogicalTransfer) error {
	return f(ctx, t)
}

// Config describes one polling project
type Config struct {
	Project      string
	ChainID      types.ChainID
	PollInterval time.Duration
	PollingBatch int
	// Whitelist restricts dispatch to these contracts; empty means every contract
	Whitelist   []string
	Concurrency int
}

// ProjectName is the default checkpoint project name for a chain
func ProjectName(chainID types.ChainID) string {
	return fmt.Sprintf("nft-transfers-%s", chainID.String())
}

// Poller runs the tick loop of one project
type Poller struct {
	cfg         Config
	info        types.ChainInfo
	reader      ChainReader
	checkpoints CheckpointStore
	dispatcher  Dispatcher
	whitelist   map[string]struct{}
	state       atomic.Int32
	logger      *logging.Logger
}

// TickResult summarises one tick
type TickResult struct {
	Outcome    string
	FromBlock  uint64
	ToBlock    uint64
	Logs       int
	Dispatched int64
	Dropped    int64
	Advanced   bool
}

// Tick outcomes
const (
	OutcomeSkipped         = "skipped"
	OutcomeNoCheckpoint    = "no_checkpoint"
	OutcomeHeadError       = "head_error"
	OutcomeUpToDate        = "up_to_date"
	OutcomeLogsError       = "logs_error"
	OutcomeCheckpointError = "checkpoint_error"
	OutcomeEmpty           = "empty"
	OutcomeProcessed       = "processed"
)

// ErrTickInProgress is returned when a tick starts while the previous one is still running
var ErrTickInProgress = errors.New("previous tick still running")

// New creates a poller for one chain
func New(cfg Config, reader ChainReader, checkpoints CheckpointStore, dispatcher Dispatcher) (*Poller, error) {
	info, ok := types.LookupChain(cfg.ChainID)
	if !ok {
		return nil, fmt.Errorf("unsupported chain %d", cfg.ChainID)
	}
	if reader == nil || checkpoints == nil || dispatcher == nil {
		return nil, fmt.Errorf("reader, checkpoints and dispatcher are required")
	}
	if cfg.Project == "" {
		cfg.Project = ProjectName(cfg.ChainID)
	}
	if cfg.PollingBatch <= 0 {
		cfg.PollingBatch = defaultPollingBatch
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	var whitelist map[string]struct{}
	if len(cfg.Whitelist) > 0 {
		whitelist = make(map[string]struct{}, len(cfg.Whitelist))
		for _, addr := range cfg.Whitelist {
			whitelist[types.NormalizeAddress(addr)] = struct{}{}
		}
	}

	return &Poller{
		cfg:         cfg,
		info:        info,
		reader:      reader,
		checkpoints: checkpoints,
		dispatcher:  dispatcher,
		whitelist:   whitelist,
		logger: logging.Component("poller").WithFields(map[string]interface{}{
			"project": cfg.Project,
			"chainId": cfg.ChainID.String(),
		}),
	}, nil
}

// Project returns the checkpoint project name
func (p *Poller) Project() string { return p.cfg.Project }

// State returns the current lifecycle state
func (p *Poller) State() State { return State(p.state.Load()) }

// Run ticks every PollInterval until ctx is cancelled. Ticks that find the previous one
// still running are skipped, not queued. Run returns only after the in-flight tick ends.
func (p *Poller) Run(ctx context.Context) {
	p.logger.WithFields(map[string]interface{}{
		"interval": p.cfg.PollInterval.String(),
		"batch":    p.cfg.PollingBatch,
	}).Info("Starting poller")

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			p.logger.Info("Poller stopped")
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := p.Tick(ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
					p.logger.WithError(err).Warn("Poll tick aborted")
				}
			}()
		}
	}
}

// Tick polls one block range. The checkpoint only moves after every event of the range
// was handled.
func (p *Poller) Tick(ctx context.Context) (res TickResult, err error) {
	if !p.state.CompareAndSwap(int32(StateInit), int32(StateRunning)) {
		res.Outcome = OutcomeSkipped
		metrics.PollTick(p.cfg.Project, res.Outcome)
		p.logger.Debug("Previous tick still running, skipping")
		return res, ErrTickInProgress
	}
	start := time.Now()
	defer func() {
		p.state.Store(int32(StateInit))
		metrics.PollTick(p.cfg.Project, res.Outcome)
		metrics.PollDuration(p.cfg.Project, time.Since(start))
	}()

	cp, err := p.checkpoints.Get(ctx, p.cfg.Project, p.cfg.ChainID)
	if err != nil {
		res.Outcome = OutcomeNoCheckpoint
		if errors.Is(err, storage.ErrNotFound) {
			return res, fmt.Errorf("no checkpoint for %s: %w", p.cfg.Project, err)
		}
		return res, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	res.FromBlock = cp.LastPolledBlock + 1

	head, err := p.reader.LatestBlock(ctx, p.cfg.ChainID)
	if err != nil {
		res.Outcome = OutcomeHeadError
		return res, fmt.Errorf("failed to read head block: %w", err)
	}
	if head < SafetyOffset {
		res.Outcome = OutcomeUpToDate
		return res, nil
	}
	latest := head - SafetyOffset
	if latest < res.FromBlock {
		res.Outcome = OutcomeUpToDate
		return res, nil
	}
	res.ToBlock = min(res.FromBlock+uint64(p.cfg.PollingBatch)-1, latest)

	logs, err := p.reader.FilterTransferLogs(ctx, p.cfg.ChainID, res.FromBlock, res.ToBlock)
	if err != nil {
		res.Outcome = OutcomeLogsError
		return res, fmt.Errorf("failed to fetch logs %d-%d: %w", res.FromBlock, res.ToBlock, err)
	}
	res.Logs = len(logs)
	metrics.LogsFetched(p.cfg.Project, len(logs))

	if len(logs) == 0 {
		res.Outcome = OutcomeEmpty
	} else {
		res.Outcome = OutcomeProcessed
		res.Dispatched, res.Dropped = p.handleBatch(ctx, logs)
		metrics.TransfersDispatched(p.cfg.Project, int(res.Dispatched))
	}

	if _, err := p.checkpoints.Advance(ctx, p.cfg.Project, p.cfg.ChainID, res.ToBlock); err != nil {
		res.Outcome = OutcomeCheckpointError
		return res, fmt.Errorf("failed to advance checkpoint to %d: %w", res.ToBlock, err)
	}
	res.Advanced = true
	metrics.CheckpointSet(p.cfg.Project, res.ToBlock)

	if res.Logs > 0 {
		p.logger.WithFields(map[string]interface{}{
			"from":       res.FromBlock,
			"to":         res.ToBlock,
			"logs":       res.Logs,
			"dispatched": res.Dispatched,
			"dropped":    res.Dropped,
		}).Info("Block range processed")
	}
	return res, nil
}

// handleBatch runs the per-event handler over logs with bounded concurrency and waits for
// all of them. Handler failures never escape.
func (p *Poller) handleBatch(ctx context.Context, logs []ethtypes.Log) (dispatched, dropped int64) {
	var nDispatched, nDropped atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Concurrency)
	for i := range logs {
		lg := logs[i]
		g.Go(func() error {
			d, ok := p.handleEvent(ctx, lg)
			nDispatched.Add(int64(d))
			if !ok {
				nDropped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return nDispatched.Load(), nDropped.Load()
}

// handleEvent gates, decodes and dispatches one log. It reports how many transfers were
// dispatched and whether the event was handled without failure.
func (p *Poller) handleEvent(ctx context.Context, lg ethtypes.Log) (dispatched int, ok bool) {
	log := p.logger.WithFields(map[string]interface{}{
		"block":    lg.BlockNumber,
		"tx":       lg.TxHash.Hex(),
		"logIndex": lg.Index,
	})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("Event handler panicked")
			ok = false
		}
	}()

	contract := types.NormalizeAddress(lg.Address.Hex())
	if p.whitelist != nil {
		if _, allowed := p.whitelist[contract]; !allowed {
			return 0, true
		}
	}
	if p.info.IsEventBlacklisted(contract) {
		return 0, true
	}

	transfers, err := chain.DecodeTransfers(p.cfg.ChainID, lg)
	if err != nil {
		if errors.Is(err, chain.ErrNotNFTLog) {
			return 0, true
		}
		log.WithError(err).Warn("Dropping undecodable event")
		return 0, false
	}

	ok = true
	for _, t := range transfers {
		if err := p.dispatcher.Dispatch(ctx, t); err != nil {
			log.WithError(err).WithField("tokenId", t.TokenID).Warn("Failed to dispatch transfer")
			ok = false
			continue
		}
		dispatched++
	}
	return dispatched, ok
}

// CheckpointSeeder creates checkpoint rows
type CheckpointSeeder interface {
	Get(ctx context.Context, project string, chainID types.ChainID) (*models.Checkpoint, error)
	Seed(ctx context.Context, project string, chainID types.ChainID, block uint64) error
}

// SeedAtHead creates a missing checkpoint at head minus SafetyOffset. An existing
// checkpoint is left untouched and false is returned.
func SeedAtHead(ctx context.Context, reader ChainReader, seeder CheckpointSeeder, project string, chainID types.ChainID) (bool, error) {
	if _, err := seeder.Get(ctx, project, chainID); err == nil {
		return false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}

	head, err := reader.LatestBlock(ctx, chainID)
	if err != nil {
		return false, fmt.Errorf("failed to read head block: %w", err)
	}
	block := uint64(0)
	if head > SafetyOffset {
		block = head - SafetyOffset
	}
	if err := seeder.Seed(ctx, project, chainID, block); err != nil {
		return false, err
	}
	return true, nil
}
