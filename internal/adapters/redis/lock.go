package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/amyangfei/redlock-go/v3/redlock"
	"go.uber.org/zap"

	"github.com/akulov/exit-engine/internal/adapters/config"
	"github.com/akulov/exit-engine/pkg/logger"
)

// AccountLock guards an account against concurrent engine instances. Two
// processes mutating the same breaker record would race the
// read-modify-persist cycle.
type AccountLock interface {
	// TryAcquire attempts to acquire exclusive lock for the account.
	// Returns false when another instance holds it.
	TryAcquire(ctx context.Context) (bool, error)
	// Release releases the lock
	Release(ctx context.Context) error
}

// lockManager is the slice of redlock.RedLock the lock needs
type lockManager interface {
	Lock(ctx context.Context, resource string, ttl time.Duration) (time.Duration, error)
	UnLock(ctx context.Context, resource string) error
}

// NewAccountLock creates a Redlock-backed account lock
func NewAccountLock(cfg *config.RedisConfig, accountID string) (AccountLock, error) {
	addrs := make([]string, 0, len(cfg.Addrs))
	for _, addr := range cfg.Addrs {
		if !strings.HasPrefix(addr, "tcp://") {
			addr = "tcp://" + addr
		}
		addrs = append(addrs, addr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	manager, err := redlock.NewRedLock(ctx, addrs)
	if err != nil {
		return nil, fmt.Errorf("failed to create redlock manager: %w", err)
	}

	logger.Info("redlock manager initialized",
		zap.Strings("addresses", addrs),
	)

	return &redisLock{
		lockManager: manager,
		accountID:   accountID,
		lockName:    fmt.Sprintf("account:lock:%s", accountID),
		ttl:         time.Duration(cfg.LockTTL) * time.Millisecond,
	}, nil
}

type redisLock struct {
	lockManager lockManager
	accountID   string
	lockName    string
	ttl         time.Duration

	mu     sync.Mutex
	locked bool
}

func (l *redisLock) TryAcquire(ctx context.Context) (bool, error) {
	expiry, err := l.lockManager.Lock(ctx, l.lockName, l.ttl)
	if err != nil {
		logger.Debug("account lock held by another instance",
			zap.String("account_id", l.accountID),
		)
		return false, nil
	}

	if expiry <= 0 {
		return false, fmt.Errorf("failed to acquire lock: invalid expiry %v", expiry)
	}

	l.mu.Lock()
	l.locked = true
	l.mu.Unlock()

	logger.Info("account lock acquired",
		zap.String("account_id", l.accountID),
		zap.Duration("ttl", l.ttl),
	)

	// Keep the lock alive for the lifetime of the process
	go l.renewLock(ctx)

	return true, nil
}

func (l *redisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	wasLocked := l.locked
	l.locked = false
	l.mu.Unlock()

	if !wasLocked {
		return nil
	}

	if err := l.lockManager.UnLock(ctx, l.lockName); err != nil {
		// Lock may have already expired naturally
		logger.Warn("failed to release account lock",
			zap.String("account_id", l.accountID),
			zap.Error(err),
		)
	}

	return nil
}

// renewLock refreshes the lock at 2/3 of its TTL so mutual exclusion holds
// beyond the first TTL window. Redlock has no native extend, so renewal is
// an unlock followed by an immediate re-lock.
func (l *redisLock) renewLock(ctx context.Context) {
	ticker := time.NewTicker(l.ttl * 2 / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			l.mu.Lock()
			held := l.locked
			l.mu.Unlock()
			if !held {
				return
			}

			if err := l.lockManager.UnLock(ctx, l.lockName); err != nil {
				logger.Error("account lock renewal failed on unlock",
					zap.String("account_id", l.accountID),
					zap.Error(err),
				)
				l.markLost()
				return
			}

			expiry, err := l.lockManager.Lock(ctx, l.lockName, l.ttl)
			if err != nil || expiry <= 0 {
				logger.Error("account lock lost, another instance may have taken over",
					zap.String("account_id", l.accountID),
					zap.Error(err),
				)
				l.markLost()
				return
			}

			logger.Debug("account lock renewed",
				zap.String("account_id", l.accountID),
				zap.Duration("expiry", expiry),
			)
		}
	}
}

func (l *redisLock) markLost() {
	l.mu.Lock()
	l.locked = false
	l.mu.Unlock()
}

// NoopLock is used when distributed locking is disabled
type NoopLock struct{}

func (NoopLock) TryAcquire(ctx context.Context) (bool, error) { return true, nil }
func (NoopLock) Release(ctx context.Context) error            { return nil }
