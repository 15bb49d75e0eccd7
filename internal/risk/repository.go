package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/akulov/exit-engine/pkg/models"
)

// Repository is the postgres-backed breaker Store and risk event log
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates new risk repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Load returns the most recent breaker record for the account, or (nil, nil)
// when the account has no history.
func (r *Repository) Load(ctx context.Context, accountID string) (*models.BreakerRecord, error) {
	query := `
		SELECT account_id, day, daily_start_balance, daily_pnl,
		       consecutive_losses, peak_balance, trades_today,
		       halted, halt_reasons, updated_at
		FROM breaker_records
		WHERE account_id = $1
		ORDER BY day DESC
		LIMIT 1
	`

	var record models.BreakerRecord
	err := r.db.GetContext(ctx, &record, query, accountID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load breaker record: %w", err)
	}

	return &record, nil
}

// Save upserts the account's row for the record's day
func (r *Repository) Save(ctx context.Context, record *models.BreakerRecord) error {
	query := `
		INSERT INTO breaker_records (
			account_id, day, daily_start_balance, daily_pnl,
			consecutive_losses, peak_balance, trades_today,
			halted, halt_reasons, updated_at
		) VALUES (
			:account_id, :day, :daily_start_balance, :daily_pnl,
			:consecutive_losses, :peak_balance, :trades_today,
			:halted, :halt_reasons, :updated_at
		)
		ON CONFLICT (account_id, day) DO UPDATE SET
			daily_start_balance = EXCLUDED.daily_start_balance,
			daily_pnl = EXCLUDED.daily_pnl,
			consecutive_losses = EXCLUDED.consecutive_losses,
			peak_balance = EXCLUDED.peak_balance,
			trades_today = EXCLUDED.trades_today,
			halted = EXCLUDED.halted,
			halt_reasons = EXCLUDED.halt_reasons,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("failed to save breaker record: %w", err)
	}

	return nil
}

// LogRiskEvent appends one audit row to risk_events. data is stored as JSONB.
func (r *Repository) LogRiskEvent(ctx context.Context, accountID, eventType, description string, data map[string]interface{}) error {
	var dataJSON []byte
	if data != nil {
		var err error
		dataJSON, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
	}

	query := `
		INSERT INTO risk_events (account_id, event_type, description, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := r.db.ExecContext(ctx, query,
		accountID, eventType, description, dataJSON, time.Now(),
	); err != nil {
		return fmt.Errorf("failed to log risk event: %w", err)
	}

	return nil
}
