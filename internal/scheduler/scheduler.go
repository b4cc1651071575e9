// Package scheduler drives the periodic measurement cycles: it dispatches
// probes over a bounded worker pool, classifies the outcomes, and hands the
// resulting rows to the datastore appender. Cycles never overlap; cycle N is
// fully persisted before cycle N+1 starts.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gnmradar/gnm/internal/check"
	"github.com/gnmradar/gnm/internal/classify"
	"github.com/gnmradar/gnm/internal/config"
	"github.com/gnmradar/gnm/internal/model"
	"github.com/gnmradar/gnm/internal/store"
)

// Writer persists one cycle's batch. Implemented by store.Writer.
type Writer interface {
	WriteBatch(ctx context.Context, batch []model.Measurement) (int, error)
}

// IdentityProvider supplies the current probe identity. Implemented by
// identity.Resolver.
type IdentityProvider interface {
	Current() model.ProbeIdentity
}

// Observer receives per-check and per-cycle timings. Implemented by the
// Prometheus exporter; nil disables observation.
type Observer interface {
	ObserveCheck(checkType model.CheckType, status model.Status, d time.Duration)
	ObserveCycle(d time.Duration)
}

// State is the scheduler lifecycle, logged on transitions.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// Config wires the scheduler's collaborators.
type Config struct {
	Snapshot  *config.Snapshot
	ConfigDir string
	Registry  check.Registry
	Writer    Writer
	Identity  IdentityProvider
	Observer  Observer
	Logger    *zap.Logger

	// Once runs a single cycle and returns.
	Once bool
}

// Scheduler owns the cycle loop. All classification state is confined to the
// loop goroutine, so it needs no locking.
type Scheduler struct {
	cfg        Config
	classifier *classify.Classifier
	log        *zap.Logger

	services     []model.ServiceSpec
	servicesHash uint64

	// lastStatus holds the previously persisted status per target. Unseen
	// targets read as OK, so a first-cycle warning still logs a transition.
	lastStatus map[string]model.Status
}

// New creates a Scheduler from the initial configuration snapshot.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:        cfg,
		classifier: classify.New(),
		log:        cfg.Logger,
		services:   cfg.Snapshot.Services,
		lastStatus: make(map[string]model.Status),
	}
}

// Run executes cycles until ctx is cancelled or the datastore gives up.
// Cancellation drains the in-flight cycle and persists it before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.cfg.Snapshot.Main.Collector.Interval()
	s.logState(StateStarting)
	s.logState(StateRunning)

	for {
		start := time.Now()
		if err := s.runCycle(ctx); err != nil {
			s.logState(StateStopped)
			return err
		}
		if s.cfg.Observer != nil {
			s.cfg.Observer.ObserveCycle(time.Since(start))
		}

		if s.cfg.Once {
			s.logState(StateStopped)
			return nil
		}
		if ctx.Err() != nil {
			s.logState(StateStopped)
			return nil
		}

		sleep := interval - time.Since(start)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			s.logState(StateStopped)
			return nil
		case <-time.After(sleep):
		}
	}
}

// runCycle executes one full measurement cycle: reload the catalog, probe
// every enabled service, classify, persist.
func (s *Scheduler) runCycle(ctx context.Context) error {
	cycleID := uuid.NewString()
	s.reloadServices()

	enabled := s.enabledServices()
	if len(enabled) == 0 {
		s.log.Warn("cycle skipped: no enabled services", zap.String("cycle_id", cycleID))
		return nil
	}

	s.log.Debug("cycle started",
		zap.String("cycle_id", cycleID),
		zap.Int("services", len(enabled)),
	)

	results, ran := s.dispatch(ctx, enabled)

	identity := model.ProbeIdentity{Region: s.cfg.Snapshot.Main.Region, Source: model.IdentityFromConfig}
	if s.cfg.Identity != nil {
		identity = s.cfg.Identity.Current()
	}

	batch := make([]model.Measurement, 0, len(enabled))
	for i, svc := range enabled {
		if !ran[i] {
			// Skipped during drain: no row, no streak change.
			continue
		}
		result := results[i]
		status := s.classifier.Apply(svc.ServiceID, result)
		s.logTransition(svc.ServiceID, status)
		if s.cfg.Observer != nil {
			s.cfg.Observer.ObserveCheck(svc.Type, status, time.Duration(result.LatencyMs)*time.Millisecond)
		}
		batch = append(batch, model.Measurement{
			TS:        result.TS,
			Region:    identity.Region,
			ProjectID: svc.ProjectID,
			TargetID:  svc.ServiceID,
			HostID:    svc.HostID,
			Type:      svc.Type,
			Status:    status,
			LatencyMs: result.LatencyMs,
			MetaJSON:  encodeMeta(result.Meta, identity),
		})
	}

	// Persist even when shutting down: the drain budget covers one batch.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	written, err := s.cfg.Writer.WriteBatch(writeCtx, batch)
	if err != nil {
		if errors.Is(err, store.ErrDatastoreUnavailable) {
			s.log.Error("datastore unavailable, giving up", zap.String("cycle_id", cycleID), zap.Error(err))
			return err
		}
		s.log.Error("cycle persist failed", zap.String("cycle_id", cycleID), zap.Error(err))
		return nil
	}

	s.log.Info("cycle finished",
		zap.String("cycle_id", cycleID),
		zap.Int("services", len(enabled)),
		zap.Int("written", written),
	)
	return nil
}

// dispatch fans the services out over the worker pool and returns results in
// catalog order, plus a mask of which services actually ran. On cancellation,
// queued tasks are skipped but started ones finish: probes run detached from
// the loop context.
func (s *Scheduler) dispatch(ctx context.Context, services []model.ServiceSpec) ([]model.CheckResult, []bool) {
	workers := s.cfg.Snapshot.Main.Collector.MaxWorkers
	if len(services) < workers {
		workers = len(services)
	}

	results := make([]model.CheckResult, len(services))
	ran := make([]bool, len(services))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	draining := false
	for i, svc := range services {
		if ctx.Err() != nil {
			if !draining {
				draining = true
				s.logState(StateDraining)
			}
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		ran[i] = true
		go func(i int, svc model.ServiceSpec) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.runOne(context.WithoutCancel(ctx), svc)
		}(i, svc)
	}
	wg.Wait()
	return results, ran
}

// runOne executes a single probe, converting panics into hard failures so
// one misbehaving probe cannot take down the cycle. The result is stamped
// with the wall clock at probe start; rows of the same cycle carry distinct
// timestamps.
func (s *Scheduler) runOne(ctx context.Context, svc model.ServiceSpec) (result model.CheckResult) {
	started := time.Now().UTC()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("probe panicked",
				zap.String("target_id", svc.ServiceID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			result = check.HardFailure(0, map[string]any{
				"internal_error": fmt.Sprintf("%v", r),
			})
		}
		result.TS = started
	}()

	target := check.Target{
		Service:    svc,
		Host:       s.cfg.Snapshot.Hosts[svc.HostID],
		Timeout:    s.cfg.Snapshot.Main.Collector.TimeoutFor(svc.Type),
		Thresholds: s.cfg.Snapshot.Main.Collector.Thresholds,
	}
	return s.cfg.Registry.Run(ctx, target)
}

// reloadServices re-reads the service catalog and swaps it in when the
// content changed. A broken catalog keeps the previous snapshot running.
func (s *Scheduler) reloadServices() {
	if s.cfg.ConfigDir == "" {
		return
	}
	path := filepath.Join(s.cfg.ConfigDir, config.ServiceCatalogFile)
	services, hash, err := config.ReloadServices(path, s.cfg.Snapshot.Hosts)
	if err != nil {
		s.log.Error("service catalog reload failed, keeping previous", zap.Error(err))
		return
	}
	if s.servicesHash == 0 {
		// First reload establishes the baseline hash.
		s.servicesHash = hash
		s.services = services
		return
	}
	if hash == s.servicesHash {
		return
	}

	s.log.Info("service catalog changed",
		zap.Int("previous", len(s.services)),
		zap.Int("current", len(services)),
	)
	s.servicesHash = hash
	s.services = services

	active := make(map[string]struct{}, len(services))
	for _, svc := range services {
		active[svc.ServiceID] = struct{}{}
	}
	s.classifier.Forget(active)
	for id := range s.lastStatus {
		if _, ok := active[id]; !ok {
			delete(s.lastStatus, id)
		}
	}
}

// logTransition emits an INFO entry when a target's persisted status changes.
func (s *Scheduler) logTransition(targetID string, status model.Status) {
	prev := s.lastStatus[targetID]
	if status == prev {
		return
	}
	s.log.Info("status transition",
		zap.String("target_id", targetID),
		zap.Stringer("from", prev),
		zap.Stringer("to", status),
	)
	s.lastStatus[targetID] = status
}

func (s *Scheduler) enabledServices() []model.ServiceSpec {
	out := make([]model.ServiceSpec, 0, len(s.services))
	for _, svc := range s.services {
		if svc.IsEnabled() {
			out = append(out, svc)
		}
	}
	return out
}

func (s *Scheduler) logState(state State) {
	s.log.Info("scheduler state", zap.String("state", string(state)))
}

// encodeMeta merges probe meta with the identity fields every row carries.
func encodeMeta(meta map[string]any, identity model.ProbeIdentity) []byte {
	merged := make(map[string]any, len(meta)+5)
	for k, v := range meta {
		merged[k] = v
	}
	merged["probe_region"] = identity.Region
	merged["probe_country"] = identity.Country
	merged["probe_city"] = identity.City
	merged["probe_public_ip"] = identity.PublicIP
	merged["probe_source"] = string(identity.Source)

	encoded, err := json.Marshal(merged)
	if err != nil {
		// Meta values are strings, numbers, and string slices; this cannot
		// fail for well-formed probes. Drop meta rather than the row.
		return nil
	}
	return encoded
}
