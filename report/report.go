// Package report persists run reports and renders them as a digest.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trafficlog/db"
	"trafficlog/logger"
	"trafficlog/models"
)

// ReportStore abstracts the report persistence the emitter needs
type ReportStore interface {
	InsertReport(ctx context.Context, report *models.RunReport, force bool) error
	GetPreviousReport(ctx context.Context, runDate time.Time) (*models.RunReport, error)
}

// Emitter writes run reports. A report is immutable once written for its
// run date unless the caller forces an overwrite.
type Emitter struct {
	store ReportStore
}

// NewEmitter creates an Emitter backed by store
func NewEmitter(store ReportStore) *Emitter {
	return &Emitter{store: store}
}

// Emit persists report. db.ErrDuplicateRun is returned, wrapped, when a
// report for the same run date exists and force is false.
func (e *Emitter) Emit(ctx context.Context, report *models.RunReport, force bool) error {
	if report == nil || report.RunDate.IsZero() {
		return fmt.Errorf("%w: report must have a run date", db.ErrInvalidInput)
	}

	report.Sort()
	if err := e.store.InsertReport(ctx, report, force); err != nil {
		return fmt.Errorf("failed to emit report for %s: %w", models.FormatDay(report.RunDate), err)
	}

	logger.Info("Run report emitted",
		zap.String("run_date", models.FormatDay(report.RunDate)),
		zap.Strings("began_tracking", report.BeganTracking),
		zap.Strings("ended_tracking", report.EndedTracking),
		zap.Int("scalar_changes", len(report.ScalarChanges)),
		zap.Strings("partial_coverage", report.PartialCoverage),
		zap.Int("failed", len(report.FailedEntities)),
		zap.Bool("forced", force))
	return nil
}

// PreviousEntities returns the entity set tracked by the latest run before
// runDate, or an empty set when there is none.
func (e *Emitter) PreviousEntities(ctx context.Context, runDate time.Time) ([]string, error) {
	prev, err := e.store.GetPreviousReport(ctx, runDate)
	if err != nil {
		if errors.Is(err, db.ErrReportNotFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read previous run: %w", err)
	}
	return prev.TrackedEntities, nil
}
