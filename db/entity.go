package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"trafficlog/models"
)

// CreateEntity registers a repository with an empty history. Registering
// an existing entity is a no-op.
func (db *DB) CreateEntity(ctx context.Context, entityID string) error {
	if !models.ValidEntityID(entityID) {
		return fmt.Errorf("%w: entity id %q is not owner/name", ErrInvalidInput, entityID)
	}

	query := `
		INSERT INTO entities (entity_id)
		VALUES ($1)
		ON CONFLICT (entity_id) DO NOTHING
	`

	if _, err := db.conn.ExecContext(ctx, query, entityID); err != nil {
		return fmt.Errorf("failed to create entity %s: %w", entityID, err)
	}

	safeLogInfo("Entity registered", zap.String("entity_id", entityID))
	return nil
}

// ReadKnownEntities returns every entity with at least one stored entry,
// sorted by id. The set only ever grows.
func (db *DB) ReadKnownEntities(ctx context.Context) ([]string, error) {
	query := `
		SELECT entity_id
		FROM entities
		WHERE last_date IS NOT NULL
		ORDER BY entity_id
	`

	ids := []string{}
	if err := db.conn.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to read known entities: %w", err)
	}
	return ids, nil
}
