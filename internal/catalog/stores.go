package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"casedocs/internal/models"
)

// GetStore returns the index store mapped to matterID, or ErrNotFound.
func (c *Catalog) GetStore(ctx context.Context, matterID string) (*models.IndexStore, error) {
	var s models.IndexStore
	err := c.db.QueryRowContext(ctx,
		`SELECT matter_id, store_name, display_name, backend, created_at FROM matter_stores WHERE matter_id = ?`,
		matterID,
	).Scan(&s.MatterID, &s.StoreName, &s.DisplayName, &s.Backend, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get store: %w", err)
	}
	return &s, nil
}

// InsertStore records a matter's store. A second store for the same matter yields ErrDuplicate.
func (c *Catalog) InsertStore(ctx context.Context, store *models.IndexStore) error {
	if store.CreatedAt.IsZero() {
		store.CreatedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO matter_stores (matter_id, store_name, display_name, backend, created_at) VALUES (?, ?, ?, ?, ?)`,
		store.MatterID, store.StoreName, store.DisplayName, store.Backend, store.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert store: %w", errors.Join(ErrDuplicate, err))
		}
		return fmt.Errorf("insert store: %w", err)
	}
	return nil
}
