package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trafficlog/models"
)

// InsertReport stores the report for its run date. An existing report for
// the same date yields ErrDuplicateRun unless force is set, in which case
// it is replaced.
func (db *DB) InsertReport(ctx context.Context, report *models.RunReport, force bool) error {
	if report == nil || report.RunDate.IsZero() {
		return fmt.Errorf("%w: report must have a run date", ErrInvalidInput)
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	runDate := models.Day(report.RunDate)
	query := `
		INSERT INTO run_reports (run_date, report)
		VALUES ($1, $2)
	`
	if force {
		query += `
		ON CONFLICT (run_date) DO UPDATE SET
			report = EXCLUDED.report,
			created_at = NOW()
		`
	}

	if _, err := db.conn.ExecContext(ctx, query, runDate, payload); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, models.FormatDay(runDate))
		}
		return fmt.Errorf("failed to store report for %s: %w", models.FormatDay(runDate), err)
	}

	safeLogInfo("Run report stored",
		zap.String("run_date", models.FormatDay(runDate)),
		zap.Bool("force", force))
	return nil
}

// GetReport loads the report for a run date.
func (db *DB) GetReport(ctx context.Context, runDate time.Time) (*models.RunReport, error) {
	query := `
		SELECT report
		FROM run_reports
		WHERE run_date = $1
	`
	return db.loadReport(ctx, query, models.Day(runDate))
}

// GetPreviousReport loads the latest report strictly before runDate.
func (db *DB) GetPreviousReport(ctx context.Context, runDate time.Time) (*models.RunReport, error) {
	query := `
		SELECT report
		FROM run_reports
		WHERE run_date < $1
		ORDER BY run_date DESC
		LIMIT 1
	`
	return db.loadReport(ctx, query, models.Day(runDate))
}

// ListReportDates returns the dates of all stored reports, oldest first.
func (db *DB) ListReportDates(ctx context.Context) ([]time.Time, error) {
	query := `
		SELECT run_date
		FROM run_reports
		ORDER BY run_date ASC
	`

	dates := []time.Time{}
	if err := db.conn.SelectContext(ctx, &dates, query); err != nil {
		return nil, fmt.Errorf("failed to list report dates: %w", err)
	}
	for i := range dates {
		dates[i] = models.Day(dates[i])
	}
	return dates, nil
}

func (db *DB) loadReport(ctx context.Context, query string, runDate time.Time) (*models.RunReport, error) {
	var payload []byte
	if err := db.conn.GetContext(ctx, &payload, query, runDate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrReportNotFound, models.FormatDay(runDate))
		}
		return nil, fmt.Errorf("failed to load report for %s: %w", models.FormatDay(runDate), err)
	}

	var report models.RunReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report for %s: %w", models.FormatDay(runDate), err)
	}
	return &report, nil
}
