package valueestim

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/akulov/exit-engine/pkg/models"
)

// Repository persists Q-store snapshots and experience transitions
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates new estimator repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// SaveSnapshot stores a serialized backend snapshot
func (r *Repository) SaveSnapshot(ctx context.Context, backend string, payload []byte) error {
	query := `
		INSERT INTO q_snapshots (backend, payload, created_at)
		VALUES ($1, $2, $3)
	`

	if _, err := r.db.ExecContext(ctx, query, backend, payload, time.Now()); err != nil {
		return fmt.Errorf("failed to save q snapshot: %w", err)
	}

	return nil
}

// LoadLatestSnapshot returns the most recent snapshot for a backend, or
// (nil, nil) when none has been stored yet.
func (r *Repository) LoadLatestSnapshot(ctx context.Context, backend string) ([]byte, error) {
	query := `
		SELECT payload
		FROM q_snapshots
		WHERE backend = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var payload []byte
	err := r.db.QueryRowContext(ctx, query, backend).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load q snapshot: %w", err)
	}

	return payload, nil
}

// InsertExperience records one transition for offline training
func (r *Repository) InsertExperience(ctx context.Context, exp models.Experience) error {
	stateJSON, err := json.Marshal(exp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	nextJSON, err := json.Marshal(exp.NextState)
	if err != nil {
		return fmt.Errorf("failed to marshal next state: %w", err)
	}

	query := `
		INSERT INTO experiences (state, action, reward, next_state, terminal, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if _, err := r.db.ExecContext(ctx, query,
		stateJSON, string(exp.Action), exp.Reward, nextJSON, exp.Terminal, time.Now(),
	); err != nil {
		return fmt.Errorf("failed to insert experience: %w", err)
	}

	return nil
}

// LoadExperiencesAfter returns up to limit experiences with id > afterID,
// oldest first, along with the highest id seen.
func (r *Repository) LoadExperiencesAfter(ctx context.Context, afterID int64, limit int) ([]models.Experience, int64, error) {
	query := `
		SELECT id, state, action, reward, next_state, terminal, created_at
		FROM experiences
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, afterID, fmt.Errorf("failed to query experiences: %w", err)
	}
	defer rows.Close()

	experiences := make([]models.Experience, 0)
	lastID := afterID

	for rows.Next() {
		var exp models.Experience
		var stateJSON, nextJSON []byte
		var action string

		if err := rows.Scan(&exp.ID, &stateJSON, &action, &exp.Reward, &nextJSON, &exp.Terminal, &exp.CreatedAt); err != nil {
			return nil, lastID, fmt.Errorf("failed to scan experience: %w", err)
		}

		// The cursor moves past every scanned row, corrupt or not, so a
		// bad row is skipped once instead of re-read every cycle.
		if exp.ID > lastID {
			lastID = exp.ID
		}

		if err := json.Unmarshal(stateJSON, &exp.State); err != nil {
			continue // skip corrupt rows rather than abort training
		}
		if err := json.Unmarshal(nextJSON, &exp.NextState); err != nil {
			continue
		}

		exp.Action = models.Action(action)
		experiences = append(experiences, exp)
	}

	return experiences, lastID, rows.Err()
}
