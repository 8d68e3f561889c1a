// Package keeper runs compounding cycles on a fixed schedule.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"autocompounder/native/vault"
)

// Compounder runs a single harvest and reinvest cycle.
type Compounder interface {
	CompoundCycle(ctx context.Context) (vault.CycleResult, error)
}

// Keeper triggers a compounding cycle every interval. No-op cycles are
// expected and only logged at debug level.
type Keeper struct {
	vault    Compounder
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	once     sync.Once

	mu   sync.Mutex
	last Status
}

// Status summarises the most recent tick.
type Status struct {
	At      time.Time `json:"at"`
	CycleID string    `json:"cycleId,omitempty"`
	Cycle   uint64    `json:"cycle,omitempty"`
	Noop    bool      `json:"noop"`
	Error   string    `json:"error,omitempty"`
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(k *Keeper) {
		if l != nil {
			k.logger = l
		}
	}
}

// WithTimeout bounds each cycle.
func WithTimeout(d time.Duration) Option {
	return func(k *Keeper) {
		k.timeout = d
	}
}

// New constructs a keeper instance.
func New(v Compounder, interval time.Duration, opts ...Option) (*Keeper, error) {
	if v == nil {
		return nil, fmt.Errorf("vault required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	k := &Keeper{vault: v, interval: interval, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k, nil
}

// Run blocks, compounding periodically until the context is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	if k == nil {
		return fmt.Errorf("keeper not configured")
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	k.once.Do(func() {
		k.logger.Info("vaultd: keeper started", "interval", k.interval.String())
	})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := k.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Warn("vaultd: keeper tick failed", "error", err)
		}
	}
}

// Tick runs one compounding cycle. No-op cycles return nil.
func (k *Keeper) Tick(ctx context.Context) error {
	if k.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}
	result, err := k.vault.CompoundCycle(ctx)
	status := Status{At: time.Now().UTC()}
	switch {
	case vault.IsNoop(err):
		status.Noop = true
		k.logger.Debug("vaultd: nothing to compound", "reason", err)
		err = nil
	case err != nil:
		status.Error = err.Error()
		err = fmt.Errorf("compound: %w", err)
	default:
		status.CycleID = result.CycleID
		status.Cycle = result.Cycle
	}
	k.mu.Lock()
	k.last = status
	k.mu.Unlock()
	return err
}

// Last reports the outcome of the most recent tick.
func (k *Keeper) Last() (Status, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.last, !k.last.At.IsZero()
}

// ErrStopped reports a keeper that exited because its context ended.
func ErrStopped(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
