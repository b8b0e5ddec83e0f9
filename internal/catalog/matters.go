package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"casedocs/internal/models"
)

// CreateMatter inserts a new matter with a generated id.
func (c *Catalog) CreateMatter(ctx context.Context, title string) (*models.Matter, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("title is required")
	}
	m := &models.Matter{ID: uuid.NewString(), Title: title, CreatedAt: time.Now().UTC()}
	if _, err := c.db.ExecContext(ctx,
		`INSERT INTO matters (id, title, created_at) VALUES (?, ?, ?)`,
		m.ID, m.Title, m.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("create matter: %w", err)
	}
	return m, nil
}

// GetMatter returns ErrNotFound for unknown ids.
func (c *Catalog) GetMatter(ctx context.Context, id string) (*models.Matter, error) {
	var m models.Matter
	err := c.db.QueryRowContext(ctx,
		`SELECT id, title, created_at FROM matters WHERE id = ?`, id,
	).Scan(&m.ID, &m.Title, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get matter: %w", err)
	}
	return &m, nil
}
