// Package pipeline moves snapshots through the engine and delivers the resulting alerts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rewired-gh/scanalert/internal/config"
	"github.com/rewired-gh/scanalert/internal/feed"
	"github.com/rewired-gh/scanalert/internal/logger"
	"github.com/rewired-gh/scanalert/internal/metrics"
	"github.com/rewired-gh/scanalert/internal/models"
	"github.com/rewired-gh/scanalert/internal/monitor"
	"github.com/rewired-gh/scanalert/internal/rules"
	"github.com/rewired-gh/scanalert/internal/storage"
)

type Options struct {
	DispatchBatch  int
	AlertRetention time.Duration
}

type source struct {
	cfg config.SourceConfig
	ds  *models.DataSource
	mu  sync.Mutex
}

// Runner owns the configured data sources and moves their snapshots through the engine.
type Runner struct {
	store    *storage.Storage
	monitor  *monitor.Monitor
	notifier Notifier
	tracker  *feed.Tracker
	sources  []*source
	byID     sync.Map
	opts     Options
	log      zerolog.Logger
	now      func() time.Time

	failures int
	failMu   sync.Mutex
}

func NewRunner(store *storage.Storage, mon *monitor.Monitor, notifier Notifier, sources []config.SourceConfig, opts Options) *Runner {
	if notifier == nil {
		notifier = NewLogNotifier()
	}
	if opts.DispatchBatch < 1 {
		opts.DispatchBatch = 50
	}
	r := &Runner{
		store:    store,
		monitor:  mon,
		notifier: notifier,
		tracker:  feed.NewTracker(),
		opts:     opts,
		log:      logger.With("pipeline"),
		now:      time.Now,
	}
	for _, sc := range sources {
		r.sources = append(r.sources, &source{cfg: sc})
	}
	return r
}

func (r *Runner) lookup(name string) (*source, error) {
	for _, s := range r.sources {
		if s.cfg.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown source %q", name)
}

// register resolves the algorithm of an "auto" source from its headers and records the
// source in storage.
func (r *Runner) register(s *source, snap *feed.Snapshot) error {
	ds := s.cfg.DataSource()
	if strings.EqualFold(ds.Algorithm, config.AutoAlgorithm) {
		ds.Algorithm = rules.DetectAlgorithm(snap.Headers)
		if ds.Algorithm == "" {
			return fmt.Errorf("source %s: could not detect algorithm from headers %v", s.cfg.Name, snap.Headers)
		}
		r.log.Info().Str("source", s.cfg.Name).Str("algorithm", ds.Algorithm).Msg("algorithm detected")
	}
	if err := r.store.UpsertSource(ds); err != nil {
		return fmt.Errorf("source %s: %w", s.cfg.Name, err)
	}
	s.ds = ds
	r.byID.Store(ds.ID, s.cfg.Name)
	return nil
}

// RunSource evaluates the current snapshot of one source. An unchanged file is skipped.
// It returns the number of new alert messages.
func (r *Runner) RunSource(ctx context.Context, name string) (int, error) {
	s, err := r.lookup(name)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := r.tracker.Load(s.cfg.CSVPath, nil)
	if errors.Is(err, feed.ErrUnchanged) {
		logger.Debug("Snapshot %s unchanged", s.cfg.CSVPath)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("source %s: %w", name, err)
	}
	if s.ds == nil {
		if err := r.register(s, snap); err != nil {
			return 0, err
		}
	}

	start := time.Now()
	msgs, err := r.monitor.EvaluateSnapshot(ctx, s.ds, snap.Rows)
	if err != nil {
		return len(msgs), fmt.Errorf("source %s: %w", name, err)
	}
	version, err := r.store.BumpDataVersion(s.ds.ID, snap.Headers, r.now())
	if err != nil {
		return len(msgs), fmt.Errorf("source %s: %w", name, err)
	}
	s.ds.DataVersion = version
	s.ds.Headers = snap.Headers
	r.tracker.Commit(snap)
	metrics.SnapshotDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	logger.Info("Evaluated %s: %d rows, %d alerts, data version %d", name, len(snap.Rows), len(msgs), version)
	return len(msgs), nil
}

// RunAll evaluates every source concurrently.
func (r *Runner) RunAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(r.sources))
	for i, s := range r.sources {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			_, errs[i] = r.RunSource(ctx, name)
		}(i, s.cfg.Name)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (r *Runner) sourceName(id int64) string {
	if v, ok := r.byID.Load(id); ok {
		return v.(string)
	}
	if ds, err := r.store.GetSource(id); err == nil {
		return strings.TrimSuffix(ds.FileName(), ".csv")
	}
	return fmt.Sprintf("source %d", id)
}

// Dispatch delivers pending alerts in batches and marks them notified. Alerts of a failed
// batch stay pending. It returns how many alerts were delivered.
func (r *Runner) Dispatch(ctx context.Context) (int, error) {
	var sent int
	for ctx.Err() == nil {
		pending, err := r.store.PendingAlerts(r.opts.DispatchBatch)
		if err != nil {
			return sent, err
		}
		if len(pending) == 0 {
			return sent, nil
		}

		groups := r.group(pending)
		if err := r.notifier.Send(groups); err != nil {
			metrics.AlertsDelivered.WithLabelValues(notifierName(r.notifier), "failed").Add(float64(len(pending)))
			return sent, fmt.Errorf("failed to deliver alerts: %w", err)
		}
		ids := make([]string, len(pending))
		for i, a := range pending {
			ids[i] = a.ID
		}
		if err := r.store.MarkNotified(ids); err != nil {
			return sent, err
		}
		metrics.AlertsDelivered.WithLabelValues(notifierName(r.notifier), "sent").Add(float64(len(pending)))
		sent += len(pending)
		if len(pending) < r.opts.DispatchBatch {
			return sent, nil
		}
	}
	return sent, ctx.Err()
}

func (r *Runner) group(alerts []models.AlertMessage) []models.AlertGroup {
	var groups []models.AlertGroup
	index := make(map[int64]int)
	for _, a := range alerts {
		i, ok := index[a.SourceID]
		if !ok {
			i = len(groups)
			index[a.SourceID] = i
			groups = append(groups, models.AlertGroup{SourceID: a.SourceID, Source: r.sourceName(a.SourceID)})
		}
		groups[i].Messages = append(groups[i].Messages, a)
	}
	return groups
}

func notifierName(n Notifier) string {
	if named, ok := n.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", n)
}

// Poll runs every source and delivers the resulting alerts. The first failure of a run of
// failures and the eventual recovery are reported through the notifier when it supports it.
func (r *Runner) Poll(ctx context.Context) error {
	err := r.RunAll(ctx)
	if _, dispatchErr := r.Dispatch(ctx); dispatchErr != nil {
		err = errors.Join(err, dispatchErr)
	}
	r.handleCycleResult(err)
	return err
}

func (r *Runner) handleCycleResult(err error) {
	r.failMu.Lock()
	defer r.failMu.Unlock()
	reporter, canReport := r.notifier.(ErrorReporter)

	if err != nil {
		r.failures++
		logger.Error("Scan cycle failed: %v", err)
		if r.failures == 1 && canReport {
			if sendErr := reporter.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification: %v", sendErr)
			}
		}
		return
	}
	if r.failures > 0 && canReport {
		if sendErr := reporter.SendRecovery(r.failures); sendErr != nil {
			logger.Warn("Failed to send recovery notification: %v", sendErr)
		}
	}
	r.failures = 0
}

// Maintain drops alert records past the retention window and enforces the alert cap.
func (r *Runner) Maintain(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.opts.AlertRetention > 0 {
		n, err := r.store.PruneAlerts(r.now().Add(-r.opts.AlertRetention))
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("Pruned %d alerts older than %v", n, r.opts.AlertRetention)
		}
	}
	return r.store.RotateAlerts()
}
