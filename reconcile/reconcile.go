// Package reconcile merges a run's snapshots into durable per-repository
// history and produces the run's diff report.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trafficlog/db"
	"trafficlog/logger"
	"trafficlog/models"
)

// ErrDuplicateSnapshot fails an entity that has more than one snapshot in a run
var ErrDuplicateSnapshot = fmt.Errorf("entity has more than one snapshot in run")

const (
	defaultWorkers       = 5
	defaultEntityTimeout = 30 * time.Second
)

// HistoryStore is the subset of the store the reconciler writes through
type HistoryStore interface {
	ReadLastEntry(ctx context.Context, entityID string) (*models.HistoryEntry, error)
	CreateEntity(ctx context.Context, entityID string) error
	AppendEntries(ctx context.Context, entityID string, entries []models.HistoryEntry) error
}

// Input is everything one run needs.
type Input struct {
	RunDate   time.Time
	Snapshots []models.Snapshot
	// PreviousEntities is the set tracked by the immediately preceding run.
	PreviousEntities []string
	// FetchFailures lists entities the fetcher could not snapshot this run.
	// They still count as tracked but never as newly tracked.
	FetchFailures map[string]error
}

// Reconciler merges snapshots into a HistoryStore.
type Reconciler struct {
	store         HistoryStore
	workers       int
	entityTimeout time.Duration
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithWorkers bounds how many entities are reconciled at once.
func WithWorkers(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithEntityTimeout bounds the storage work for a single entity.
func WithEntityTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.entityTimeout = d
		}
	}
}

// New creates a Reconciler writing to store
func New(store HistoryStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:         store,
		workers:       defaultWorkers,
		entityTimeout: defaultEntityTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type entityResult struct {
	plan Plan
	err  error
}

// Reconcile merges every snapshot into history and returns the run report.
// Per-entity failures are recorded in the report and never abort the run;
// an error is returned only for unusable input. Cancelling ctx stops new
// entities from starting; appends already committed are kept.
func (r *Reconciler) Reconcile(ctx context.Context, in Input) (*models.RunReport, error) {
	if in.RunDate.IsZero() {
		return nil, fmt.Errorf("run date is required")
	}

	report := models.NewRunReport(in.RunDate)
	runLog := logger.WithContext(zap.String("run_date", models.FormatDay(report.RunDate)))

	snapshots, duplicates := indexSnapshots(in.Snapshots)
	for id := range duplicates {
		report.FailedEntities[id] = ErrDuplicateSnapshot.Error()
	}
	for id, err := range in.FetchFailures {
		report.FailedEntities[id] = fmt.Sprintf("fetch failed: %v", err)
	}

	current := make(map[string]struct{}, len(in.Snapshots)+len(in.FetchFailures))
	for _, s := range in.Snapshots {
		current[s.EntityID] = struct{}{}
	}
	for id := range in.FetchFailures {
		current[id] = struct{}{}
	}
	previous := make(map[string]struct{}, len(in.PreviousEntities))
	for _, id := range in.PreviousEntities {
		previous[id] = struct{}{}
	}

	for id := range current {
		report.TrackedEntities = append(report.TrackedEntities, id)
		if _, failed := in.FetchFailures[id]; failed {
			continue
		}
		if _, ok := previous[id]; !ok {
			report.BeganTracking = append(report.BeganTracking, id)
		}
	}
	for id := range previous {
		if _, ok := current[id]; !ok {
			report.EndedTracking = append(report.EndedTracking, id)
		}
	}

	runLog.Info("Starting reconciliation",
		zap.Int("snapshots", len(snapshots)),
		zap.Int("previous_entities", len(previous)),
		zap.Int("workers", r.workers))

	var mu sync.Mutex
	record := func(snap *models.Snapshot, res entityResult) {
		mu.Lock()
		defer mu.Unlock()
		_, continuing := previous[snap.EntityID]
		r.record(report, snap, res, continuing)
	}

	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup

	for _, snap := range snapshots {
		if err := ctx.Err(); err != nil {
			record(snap, entityResult{err: fmt.Errorf("run cancelled: %w", err)})
			continue
		}

		wg.Add(1)
		go func(snap *models.Snapshot) {
			defer wg.Done()
			sem <- struct{}{}        // Acquire semaphore
			defer func() { <-sem }() // Release semaphore

			if err := ctx.Err(); err != nil {
				record(snap, entityResult{err: fmt.Errorf("run cancelled: %w", err)})
				return
			}

			entityCtx, cancel := context.WithTimeout(ctx, r.entityTimeout)
			defer cancel()

			plan, err := r.reconcileEntity(entityCtx, snap)
			record(snap, entityResult{plan: plan, err: err})
		}(snap)
	}

	wg.Wait()
	report.Sort()

	runLog.Info("Reconciliation finished",
		zap.Int("appended", report.TotalAppended()),
		zap.Int("began_tracking", len(report.BeganTracking)),
		zap.Int("ended_tracking", len(report.EndedTracking)),
		zap.Int("partial_coverage", len(report.PartialCoverage)),
		zap.Int("failed", len(report.FailedEntities)))

	return report, nil
}

// reconcileEntity validates, plans and commits one snapshot.
func (r *Reconciler) reconcileEntity(ctx context.Context, snap *models.Snapshot) (Plan, error) {
	if err := snap.Validate(); err != nil {
		return Plan{}, err
	}

	last, err := r.store.ReadLastEntry(ctx, snap.EntityID)
	if err != nil {
		if !errors.Is(err, db.ErrNoEntriesFound) {
			return Plan{}, fmt.Errorf("failed to read last entry: %w", err)
		}
		last = nil
	}

	plan := PlanEntity(last, snap)

	if plan.Bootstrap {
		if err := r.store.CreateEntity(ctx, snap.EntityID); err != nil {
			return Plan{}, fmt.Errorf("failed to create entity: %w", err)
		}
	}

	if len(plan.Entries) == 0 {
		if last != nil && models.Day(snap.AsOf).AddDate(0, 0, -1).Before(models.Day(last.Date)) {
			logger.ForEntity(snap.EntityID).Warn("Snapshot window ends before stored history",
				zap.String("last_date", models.FormatDay(last.Date)))
		}
		return plan, nil
	}
	if err := r.store.AppendEntries(ctx, snap.EntityID, plan.Entries); err != nil {
		return Plan{}, fmt.Errorf("failed to append %d entries: %w", len(plan.Entries), err)
	}

	return plan, nil
}

// record folds one entity's outcome into the report. Scalar changes are
// only reported for entities the previous run also tracked. Callers hold
// the report lock.
func (r *Reconciler) record(report *models.RunReport, snap *models.Snapshot, res entityResult, continuing bool) {
	log := logger.ForEntity(snap.EntityID)

	if len(snap.Rankings) > 0 {
		report.Rankings[snap.EntityID] = snap.Rankings
	}

	if res.err != nil {
		report.FailedEntities[snap.EntityID] = res.err.Error()
		log.Error("Entity reconciliation failed", zap.Error(res.err))
		return
	}

	report.Appended[snap.EntityID] = len(res.plan.Entries)
	if continuing && len(res.plan.Deltas) > 0 {
		report.ScalarChanges[snap.EntityID] = res.plan.Deltas
	}
	if res.plan.PartialCoverage {
		report.PartialCoverage = append(report.PartialCoverage, snap.EntityID)
		log.Warn("History gap exceeds the rolling window",
			zap.Int("missing_days", res.plan.MissingDays))
	}

	log.Info("Entity reconciled",
		zap.Bool("bootstrap", res.plan.Bootstrap),
		zap.Int("appended", len(res.plan.Entries)))
}

// indexSnapshots keeps one snapshot per entity, in input order. Entities
// with several snapshots are returned separately and not processed.
func indexSnapshots(in []models.Snapshot) ([]*models.Snapshot, map[string]struct{}) {
	counts := make(map[string]int, len(in))
	for _, s := range in {
		counts[s.EntityID]++
	}

	duplicates := map[string]struct{}{}
	out := make([]*models.Snapshot, 0, len(in))
	for i := range in {
		if counts[in[i].EntityID] > 1 {
			duplicates[in[i].EntityID] = struct{}{}
			continue
		}
		out = append(out, &in[i])
	}
	return out, duplicates
}
