package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trafficlog/models"
)

const entryColumns = `entity_id, date, stars, forks, clones, clones_unique, views, views_unique`

// ReadLastEntry retrieves the latest stored entry for an entity.
// ErrNoEntriesFound is returned when the entity has no history.
func (db *DB) ReadLastEntry(ctx context.Context, entityID string) (*models.HistoryEntry, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity id cannot be empty", ErrInvalidInput)
	}

	stmt, err := db.getStmt(ctx, `
		SELECT `+entryColumns+`
		FROM history_entries
		WHERE entity_id = $1
		ORDER BY date DESC
		LIMIT 1
	`)
	if err != nil {
		return nil, err
	}

	var entry models.HistoryEntry
	if err := stmt.GetContext(ctx, &entry, entityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: entity %s", ErrNoEntriesFound, entityID)
		}
		return nil, fmt.Errorf("failed to read last entry for %s: %w", entityID, err)
	}

	entry.Date = models.Day(entry.Date)
	return &entry, nil
}

// ReadSeries returns the full history of an entity ordered by date. Gaps
// between dates are possible and are not filled.
func (db *DB) ReadSeries(ctx context.Context, entityID string) ([]models.HistoryEntry, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity id cannot be empty", ErrInvalidInput)
	}

	stmt, err := db.getStmt(ctx, `
		SELECT `+entryColumns+`
		FROM history_entries
		WHERE entity_id = $1
		ORDER BY date ASC
	`)
	if err != nil {
		return nil, err
	}

	entries := []models.HistoryEntry{}
	if err := stmt.SelectContext(ctx, &entries, entityID); err != nil {
		return nil, fmt.Errorf("failed to read series for %s: %w", entityID, err)
	}
	for i := range entries {
		entries[i].Date = models.Day(entries[i].Date)
	}
	return entries, nil
}

// AppendEntries appends entries to an entity's history. Entries must be
// strictly ascending and every date must be later than the last stored
// date. The append is all-or-nothing and holds the entity's lock, both in
// process and as a row lock, for its duration.
func (db *DB) AppendEntries(ctx context.Context, entityID string, entries []models.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := validateAppend(entityID, entries); err != nil {
		return err
	}

	release, err := db.locks.acquire(ctx, entityID)
	if err != nil {
		return fmt.Errorf("failed to lock entity %s: %w", entityID, err)
	}
	defer release()

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	var lastDate sql.NullTime
	lockQuery := `
		SELECT last_date
		FROM entities
		WHERE entity_id = $1
		FOR UPDATE
	`
	if err := tx.GetContext(ctx, &lastDate, lockQuery, entityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
		}
		return fmt.Errorf("failed to lock entity row %s: %w", entityID, err)
	}

	first := models.Day(entries[0].Date)
	if lastDate.Valid && !first.After(models.Day(lastDate.Time)) {
		return fmt.Errorf("%w: %s append starts %s, last stored %s",
			ErrOverlap, entityID, models.FormatDay(first), models.FormatDay(lastDate.Time))
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO history_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare history insert statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			entityID,
			models.Day(e.Date),
			e.Stars,
			e.Forks,
			e.Clones,
			e.ClonesUnique,
			e.Views,
			e.ViewsUnique,
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s already has %s", ErrOverlap, entityID, models.FormatDay(e.Date))
			}
			return fmt.Errorf("failed to insert entry %s for %s: %w", models.FormatDay(e.Date), entityID, err)
		}
	}

	newLast := models.Day(entries[len(entries)-1].Date)
	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET last_date = $1 WHERE entity_id = $2`,
		newLast, entityID,
	); err != nil {
		return fmt.Errorf("failed to advance last date for %s: %w", entityID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", ErrTransactionFailed, err)
	}

	safeLogInfo("Appended history entries",
		zap.String("entity_id", entityID),
		zap.Int("count", len(entries)),
		zap.String("last_date", models.FormatDay(newLast)))
	return nil
}

// validateAppend checks that entries belong to entityID and move strictly
// forward in time. Gaps are allowed.
func validateAppend(entityID string, entries []models.HistoryEntry) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity id cannot be empty", ErrInvalidInput)
	}

	var prev time.Time
	for i, e := range entries {
		if e.EntityID != "" && e.EntityID != entityID {
			return fmt.Errorf("%w: entry for %s in append to %s", ErrOutOfOrder, e.EntityID, entityID)
		}
		date := models.Day(e.Date)
		if i > 0 && !date.After(prev) {
			return fmt.Errorf("%w: %s follows %s for %s",
				ErrOutOfOrder, models.FormatDay(date), models.FormatDay(prev), entityID)
		}
		prev = date
	}
	return nil
}
