package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akulov/exit-engine/internal/adapters/config"
	"github.com/akulov/exit-engine/pkg/logger"
	"github.com/akulov/exit-engine/pkg/models"
)

// Store abstracts breaker-record persistence so the state machine is
// testable without a database.
type Store interface {
	// Load returns the most recent record for the account, or (nil, nil)
	// when the account has never traded.
	Load(ctx context.Context, accountID string) (*models.BreakerRecord, error)
	// Save persists the record, overwriting the account's row for that day
	Save(ctx context.Context, record *models.BreakerRecord) error
}

// EventLogger records notable risk events for audit
type EventLogger interface {
	LogRiskEvent(ctx context.Context, accountID, eventType, description string, data map[string]interface{}) error
}

// CircuitBreaker is the account-wide halt state machine. TRADING is the
// initial state; any trigger moves it one-way to HALTED, and only an
// explicit Resume call moves it back. Day rollover resets the daily
// counters but deliberately keeps the halt flag.
//
// Every read-modify-persist sequence runs under the mutex; a persistence
// failure fails closed (halted), never open.
type CircuitBreaker struct {
	mu        sync.Mutex
	cfg       *config.RiskConfig
	store     Store
	events    EventLogger
	accountID string
	record    *models.BreakerRecord
}

// NewCircuitBreaker creates new circuit breaker. events may be nil.
func NewCircuitBreaker(cfg *config.RiskConfig, store Store, events EventLogger, accountID string) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:       cfg,
		store:     store,
		events:    events,
		accountID: accountID,
	}
}

// CheckBreakers is the single gate the serving layer must consult before
// permitting any trading instruction. It folds the balance update into the
// day record, evaluates every trigger, persists, and reports.
func (cb *CircuitBreaker) CheckBreakers(ctx context.Context, balance float64) (*models.BreakerStatus, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	record, err := cb.loadLocked(ctx, balance)
	if err != nil {
		return failClosedStatus(err), err
	}

	// A non-positive balance means the caller has no fresh observation.
	// Fall back to the last balance the record implies instead of folding
	// a fictitious zero into the day.
	if balance <= 0 {
		balance = record.DailyStartBalance.Add(record.DailyPnL).InexactFloat64()
	}

	cb.rolloverLocked(record, balance)

	// Track peak balance (lifetime) and daily pnl
	if models.NewDecimal(balance).GreaterThan(record.PeakBalance) {
		record.PeakBalance = models.NewDecimal(balance)
	}
	record.DailyPnL = models.NewDecimal(balance).Sub(record.DailyStartBalance)

	status := cb.statusLocked(record, balance)

	triggered := cb.evaluateTriggersLocked(record, status)
	if len(triggered) > 0 && !record.Halted {
		cb.haltLocked(ctx, record, triggered)
	}

	if err := cb.persistLocked(ctx, record); err != nil {
		return failClosedStatus(err), err
	}

	status.TriggeredReasons = append([]string{}, record.HaltReasons...)
	status.AllowTrading = !record.Halted

	return status, nil
}

// RecordTradeResult folds one closed trade into the day record: trade count,
// consecutive-loss streak, and the consecutive-loss trigger.
func (cb *CircuitBreaker) RecordTradeResult(ctx context.Context, pnl float64) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	record, err := cb.loadLocked(ctx, 0)
	if err != nil {
		return err
	}

	cb.rolloverLocked(record, record.DailyStartBalance.InexactFloat64())

	record.TradesToday++
	if pnl > 0 {
		record.ConsecutiveLosses = 0
	} else {
		record.ConsecutiveLosses++

		logger.Warn("trade loss recorded",
			zap.Float64("pnl", pnl),
			zap.Int("consecutive_losses", record.ConsecutiveLosses),
		)
	}

	if record.ConsecutiveLosses >= cb.cfg.MaxConsecutiveLosses && !record.Halted {
		reason := fmt.Sprintf("consecutive losses %d reached limit %d",
			record.ConsecutiveLosses, cb.cfg.MaxConsecutiveLosses)
		cb.haltLocked(ctx, record, []string{reason})
	}

	return cb.persistLocked(ctx, record)
}

// Resume clears the halt flag and reasons. This is the only path from
// HALTED back to TRADING.
func (cb *CircuitBreaker) Resume(ctx context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	record, err := cb.loadLocked(ctx, 0)
	if err != nil {
		return err
	}

	if !record.Halted {
		return nil
	}

	// The loss streak resets with the halt: without it the consecutive-loss
	// trigger would re-trip on the very next check.
	record.Halted = false
	record.HaltReasons = nil
	record.ConsecutiveLosses = 0

	if err := cb.persistLocked(ctx, record); err != nil {
		return err
	}

	logger.Info("circuit breaker manually resumed",
		zap.String("account_id", cb.accountID),
	)

	if cb.events != nil {
		_ = cb.events.LogRiskEvent(ctx, cb.accountID, "CIRCUIT_BREAKER_RESUME", "manual resume", nil)
	}

	return nil
}

// loadLocked lazily loads the account record, creating a fresh one on first
// use. fallbackBalance seeds the daily start balance for a brand-new record.
func (cb *CircuitBreaker) loadLocked(ctx context.Context, fallbackBalance float64) (*models.BreakerRecord, error) {
	if cb.record != nil {
		return cb.record, nil
	}

	record, err := cb.store.Load(ctx, cb.accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load breaker record: %w", err)
	}

	if record == nil {
		record = &models.BreakerRecord{
			AccountID:         cb.accountID,
			Day:               today(),
			DailyStartBalance: models.NewDecimal(fallbackBalance),
			PeakBalance:       models.NewDecimal(fallbackBalance),
		}
	}

	cb.record = record
	return record, nil
}

// rolloverLocked resets the daily counters when the stored day is stale.
// The halt flag and reasons survive rollover: clearing a halt requires an
// explicit Resume.
func (cb *CircuitBreaker) rolloverLocked(record *models.BreakerRecord, balance float64) {
	if isSameDay(record.Day, time.Now()) {
		return
	}

	logger.Info("circuit breaker day rollover",
		zap.String("account_id", cb.accountID),
		zap.Time("previous_day", record.Day),
		zap.Bool("halt_carried", record.Halted),
	)

	record.Day = today()
	record.DailyStartBalance = models.NewDecimal(balance)
	record.DailyPnL = models.NewDecimal(0)
	record.TradesToday = 0
}

func (cb *CircuitBreaker) statusLocked(record *models.BreakerRecord, balance float64) *models.BreakerStatus {
	status := &models.BreakerStatus{
		ConsecutiveLosses: record.ConsecutiveLosses,
		TradesToday:       record.TradesToday,
	}

	start := record.DailyStartBalance.InexactFloat64()
	if start > 0 {
		pnlPct := record.DailyPnL.InexactFloat64() / start * 100
		if pnlPct < 0 {
			status.DailyLossPct = -pnlPct
		}
	}

	peak := record.PeakBalance.InexactFloat64()
	if peak > 0 && balance < peak {
		status.DrawdownPct = (peak - balance) / peak * 100
	}

	return status
}

func (cb *CircuitBreaker) evaluateTriggersLocked(record *models.BreakerRecord, status *models.BreakerStatus) []string {
	var reasons []string

	if status.DailyLossPct > cb.cfg.MaxDailyLossPercent {
		reasons = append(reasons, fmt.Sprintf("daily loss %.2f%% exceeds limit %.2f%%",
			status.DailyLossPct, cb.cfg.MaxDailyLossPercent))
	}

	if record.ConsecutiveLosses >= cb.cfg.MaxConsecutiveLosses {
		reasons = append(reasons, fmt.Sprintf("consecutive losses %d reached limit %d",
			record.ConsecutiveLosses, cb.cfg.MaxConsecutiveLosses))
	}

	if status.DrawdownPct > cb.cfg.MaxDrawdownPercent {
		reasons = append(reasons, fmt.Sprintf("drawdown %.2f%% exceeds limit %.2f%%",
			status.DrawdownPct, cb.cfg.MaxDrawdownPercent))
	}

	return reasons
}

func (cb *CircuitBreaker) haltLocked(ctx context.Context, record *models.BreakerRecord, reasons []string) {
	record.Halted = true
	for _, reason := range reasons {
		if !containsReason(record.HaltReasons, reason) {
			record.HaltReasons = append(record.HaltReasons, reason)
		}
	}

	logger.Error("CIRCUIT BREAKER HALTED",
		zap.String("account_id", cb.accountID),
		zap.Strings("reasons", reasons),
	)

	if cb.events != nil {
		_ = cb.events.LogRiskEvent(ctx, cb.accountID, "CIRCUIT_BREAKER_HALT",
			fmt.Sprintf("halted: %v", reasons), map[string]interface{}{
				"consecutive_losses": record.ConsecutiveLosses,
				"daily_pnl":          record.DailyPnL.InexactFloat64(),
				"trades_today":       record.TradesToday,
			})
	}
}

// persistLocked writes the record after every mutation. A write failure
// fails closed: the in-memory record is marked halted so a broken store can
// never silently permit unconstrained trading.
func (cb *CircuitBreaker) persistLocked(ctx context.Context, record *models.BreakerRecord) error {
	record.UpdatedAt = time.Now()

	if err := cb.store.Save(ctx, record); err != nil {
		record.Halted = true
		reason := "breaker persistence failure, failing closed"
		if !containsReason(record.HaltReasons, reason) {
			record.HaltReasons = append(record.HaltReasons, reason)
		}

		logger.Error("failed to persist breaker record, failing closed",
			zap.String("account_id", cb.accountID),
			zap.Error(err),
		)

		return fmt.Errorf("failed to persist breaker record: %w", err)
	}

	return nil
}

func failClosedStatus(err error) *models.BreakerStatus {
	return &models.BreakerStatus{
		AllowTrading:     false,
		TriggeredReasons: []string{fmt.Sprintf("breaker persistence failure: %v", err)},
	}
}

func containsReason(reasons []string, reason string) bool {
	for _, r := range reasons {
		if r == reason {
			return true
		}
	}
	return false
}

func today() time.Time {
	y, m, d := time.Now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
