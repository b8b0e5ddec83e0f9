package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"casedocs/internal/models"
)

// AppendTurns inserts the turns in one transaction and fills in their ids.
func (c *Catalog) AppendTurns(ctx context.Context, turns ...*models.ChatTurn) (err error) {
	if len(turns) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chat tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	ids := make([]int64, len(turns))
	for i, turn := range turns {
		created := turn.CreatedAt
		if created.IsZero() {
			created = now
		}
		var userID sql.NullString
		if turn.UserID != "" {
			userID = sql.NullString{String: turn.UserID, Valid: true}
		}
		res, execErr := tx.ExecContext(ctx,
			`INSERT INTO chat_messages (matter_id, role, content, user_id, created_at) VALUES (?, ?, ?, ?, ?)`,
			turn.MatterID, turn.Role, turn.Content, userID, created,
		)
		if execErr != nil {
			return fmt.Errorf("insert chat turn: %w", execErr)
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			return fmt.Errorf("chat turn id: %w", idErr)
		}
		ids[i] = id
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit chat turns: %w", err)
	}
	for i, turn := range turns {
		turn.ID = ids[i]
		if turn.CreatedAt.IsZero() {
			turn.CreatedAt = now
		}
	}
	return nil
}

// ListTurns returns the most recent limit turns of a matter, oldest first. limit <= 0 returns all.
func (c *Catalog) ListTurns(ctx context.Context, matterID string, limit int) ([]*models.ChatTurn, error) {
	query := `SELECT id, matter_id, role, content, user_id, created_at FROM chat_messages
		WHERE matter_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{matterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chat turns: %w", err)
	}
	defer rows.Close()

	var turns []*models.ChatTurn
	for rows.Next() {
		t := new(models.ChatTurn)
		var userID sql.NullString
		if err := rows.Scan(&t.ID, &t.MatterID, &t.Role, &t.Content, &userID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat turn: %w", err)
		}
		t.UserID = userID.String
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
