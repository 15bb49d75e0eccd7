package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akulov/exit-engine/internal/exit"
	"github.com/akulov/exit-engine/internal/features"
	"github.com/akulov/exit-engine/internal/risk"
	"github.com/akulov/exit-engine/internal/valueestim"
	"github.com/akulov/exit-engine/pkg/logger"
	"github.com/akulov/exit-engine/pkg/metrics"
	"github.com/akulov/exit-engine/pkg/models"
)

// ErrTradingHalted is returned for exposure-increasing operations while the
// circuit breaker is open. Exit decisions are never blocked by it: reducing
// exposure must stay possible in a halt.
var ErrTradingHalted = errors.New("trading halted by circuit breaker")

// ExperienceSink records completed transitions for offline training
type ExperienceSink interface {
	InsertExperience(ctx context.Context, exp models.Experience) error
}

// HaltNotifier receives circuit breaker state changes
type HaltNotifier interface {
	NotifyHalt(accountID string, reasons []string)
	NotifyResume(accountID string)
}

// DecisionRequest is one exit decision query for an open position
type DecisionRequest struct {
	Symbol   string
	Features map[string]float64
	Position models.PositionState
}

// Engine is the serving facade: exit decisions, position sizing, and the
// circuit breaker gate behind one surface. It owns no goroutines; background
// training runs in workers.
type Engine struct {
	accountID string

	extractor  *features.Extractor
	estimator  *valueestim.Estimator
	combiner   *exit.Combiner
	sizer      *risk.PositionSizer
	breaker    *risk.CircuitBreaker
	volatility *features.VolatilityCalculator

	experiences ExperienceSink
	audit       metrics.Buffer
	notifier    HaltNotifier

	mu           sync.Mutex
	lastBalance  float64
	allowTrading bool
}

// Deps bundles engine dependencies. Audit and Notifier may be nil.
type Deps struct {
	AccountID   string
	Extractor   *features.Extractor
	Estimator   *valueestim.Estimator
	Combiner    *exit.Combiner
	Sizer       *risk.PositionSizer
	Breaker     *risk.CircuitBreaker
	Volatility  *features.VolatilityCalculator
	Experiences ExperienceSink
	Audit       metrics.Buffer
	Notifier    HaltNotifier
}

// New creates new engine
func New(deps Deps) *Engine {
	return &Engine{
		accountID:    deps.AccountID,
		extractor:    deps.Extractor,
		estimator:    deps.Estimator,
		combiner:     deps.Combiner,
		sizer:        deps.Sizer,
		breaker:      deps.Breaker,
		volatility:   deps.Volatility,
		experiences:  deps.Experiences,
		audit:        deps.Audit,
		notifier:     deps.Notifier,
		allowTrading: true,
	}
}

// DecideExit produces the exit action for one position snapshot together
// with its full audit trail. It degrades, never fails: a broken estimator
// yields the neutral prior and the rule values decide.
func (e *Engine) DecideExit(ctx context.Context, req DecisionRequest) *models.ExitDecision {
	started := time.Now()

	state := e.extractor.Extract(req.Features, req.Position)
	q := e.estimator.Predict(state)
	decision := e.combiner.Decide(req.Position, q)

	logger.Debug("exit decision",
		zap.String("symbol", req.Symbol),
		zap.String("action", string(decision.Action)),
		zap.String("provenance", string(decision.Provenance)),
		zap.Float64("blend_weight", decision.BlendWeight),
	)

	if e.audit != nil {
		_ = e.audit.Add(&metrics.ExitDecisionMetric{
			Timestamp:      started,
			AccountID:      e.accountID,
			Symbol:         req.Symbol,
			Action:         string(decision.Action),
			EstimatorValue: decision.EstimatorValue,
			RuleValue:      decision.RuleValue,
			CombinedValue:  decision.CombinedValue,
			BlendWeight:    decision.BlendWeight,
			Uncertainty:    decision.Uncertainty,
			Provenance:     string(decision.Provenance),
			SafetyOverride: decision.SafetyOverride,
			ProfitPoints:   req.Position.ProfitPoints,
			BarsHeld:       req.Position.BarsHeld,
			DecisionTimeMs: int(time.Since(started).Milliseconds()),
		})
	}

	return decision
}

// ObserveTransition records one completed transition for offline training.
// prev and next are the feature/position snapshots before and after the
// acted-on bar; next is ignored for terminal transitions.
func (e *Engine) ObserveTransition(ctx context.Context, prev, next DecisionRequest, action models.Action, reward float64, terminal bool) error {
	exp := models.Experience{
		State:    e.extractor.Extract(prev.Features, prev.Position),
		Action:   action,
		Reward:   reward,
		Terminal: terminal,
	}
	if !terminal {
		exp.NextState = e.extractor.Extract(next.Features, next.Position)
	}

	if err := e.experiences.InsertExperience(ctx, exp); err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// SizePosition gates a new entry through the circuit breaker, then sizes it
func (e *Engine) SizePosition(ctx context.Context, symbol string, req *models.SizingRequest) (*models.SizingResult, error) {
	status, err := e.CheckBreakers(ctx, req.Balance)
	if err != nil {
		return nil, err
	}
	if !status.AllowTrading {
		return nil, ErrTradingHalted
	}

	// Derive the volatility score from recent candles when the caller
	// did not supply one.
	if req.VolatilityScore == 0 && e.volatility != nil && len(req.RecentCandles) > 0 {
		score, err := e.volatility.Score(req.RecentCandles)
		if err != nil {
			logger.Warn("volatility score unavailable",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
		} else {
			req.VolatilityScore = score
		}
	}

	result := e.sizer.CalculateSize(req)

	if e.audit != nil {
		_ = e.audit.Add(&metrics.SizingMetric{
			Timestamp:    time.Now(),
			AccountID:    e.accountID,
			Symbol:       symbol,
			SymbolClass:  string(req.SymbolClass),
			LotSize:      result.LotSize,
			RiskDollars:  result.RiskDollars,
			RiskPercent:  safePct(result.RiskDollars, req.Balance),
			RewardRisk:   result.RiskRewardRatio,
			InvalidInput: result.InvalidInput,
			Reasoning:    result.Reasoning,
		})
	}

	return result, nil
}

// ScaleIn gates and sizes an addition to a winning position
func (e *Engine) ScaleIn(ctx context.Context, req *models.ScaleInRequest) (*models.AddResult, error) {
	if err := e.requireTrading(ctx); err != nil {
		return nil, err
	}
	return e.sizer.ScaleIn(req), nil
}

// RecoveryAdd gates and sizes a DCA addition to a losing position
func (e *Engine) RecoveryAdd(ctx context.Context, req *models.RecoveryRequest) (*models.AddResult, error) {
	if err := e.requireTrading(ctx); err != nil {
		return nil, err
	}
	return e.sizer.RecoveryAdd(req), nil
}

// CheckBreakers folds a balance observation into the breaker and reports
// whether trading is permitted. Halt transitions fan out to the notifier.
func (e *Engine) CheckBreakers(ctx context.Context, balance float64) (*models.BreakerStatus, error) {
	status, err := e.breaker.CheckBreakers(ctx, balance)
	if err != nil {
		e.observeStatus(balance, status)
		return status, err
	}

	e.observeStatus(balance, status)
	return status, nil
}

// RecordTradeResult folds one closed trade into the breaker state
func (e *Engine) RecordTradeResult(ctx context.Context, pnl float64) error {
	if err := e.breaker.RecordTradeResult(ctx, pnl); err != nil {
		return err
	}

	// Re-check so a consecutive-loss halt reaches the notifier
	e.mu.Lock()
	balance := e.lastBalance
	e.mu.Unlock()

	_, err := e.CheckBreakers(ctx, balance)
	return err
}

// ResumeTrading clears a halt after manual review
func (e *Engine) ResumeTrading(ctx context.Context) error {
	if err := e.breaker.Resume(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	e.allowTrading = true
	e.mu.Unlock()

	if e.notifier != nil {
		e.notifier.NotifyResume(e.accountID)
	}
	return nil
}

// BreakerStatus reports the current breaker state using the last observed
// balance.
func (e *Engine) BreakerStatus(ctx context.Context) (*models.BreakerStatus, error) {
	e.mu.Lock()
	balance := e.lastBalance
	e.mu.Unlock()

	return e.CheckBreakers(ctx, balance)
}

func (e *Engine) requireTrading(ctx context.Context) error {
	status, err := e.BreakerStatus(ctx)
	if err != nil {
		return err
	}
	if !status.AllowTrading {
		return ErrTradingHalted
	}
	return nil
}

// observeStatus caches the balance and fires the notifier exactly once per
// trading-to-halted transition.
func (e *Engine) observeStatus(balance float64, status *models.BreakerStatus) {
	if status == nil {
		return
	}

	e.mu.Lock()
	if balance > 0 {
		e.lastBalance = balance
	}
	halted := e.allowTrading && !status.AllowTrading
	e.allowTrading = status.AllowTrading
	e.mu.Unlock()

	if halted && e.notifier != nil {
		e.notifier.NotifyHalt(e.accountID, status.TriggeredReasons)
	}
}

func safePct(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole * 100
}
