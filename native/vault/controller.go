package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"autocompounder/core/events"
	"autocompounder/crypto"
	"autocompounder/observability/metrics"
)

var (
	errInvalidUser        = errors.New("vault: user address required")
	errQuoteUnsupported   = errors.New("vault: pool does not support withdraw quotes")
	errInconsistentState  = errors.New("vault: persisted aggregate does not match ledger")
	errControllerNotReady = errors.New("vault: controller not configured")
)

// Dependencies bundles the collaborators injected into a Controller.
type Dependencies struct {
	Pool    Pool
	Staking Staking
	Swapper Swapper
	Token   Token
	// Store is optional; without it state lives in memory only.
	Store Store
	// Emitter receives every event after it is appended to the event log.
	Emitter events.Emitter
	// EventLogSize bounds the in-memory event log; zero keeps
	// DefaultEventLogSize events.
	EventLogSize int
	Logger       *slog.Logger
	Clock        func() time.Time
}

// Controller is the public entry point of the vault. Deposit, Compound and
// Withdraw are serialised; each either completes with its event emitted or
// fails without changing the ledger.
type Controller struct {
	mu      sync.RWMutex
	cfg     Config
	ledger  *UserLedger
	engine  *CompoundingEngine
	pool    Pool
	staking Staking
	token   Token
	store   Store
	events  *EventLog
	logger  *slog.Logger
	metrics *metrics.VaultMetrics
	tracer  trace.Tracer
	clock   func() time.Time
}

// NewController validates the configuration and wires a controller.
func NewController(cfg Config, deps Dependencies) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Pool == nil || deps.Staking == nil || deps.Swapper == nil || deps.Token == nil {
		return nil, errNilCollaborator
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	ledger := NewUserLedger()
	c := &Controller{
		cfg:     cfg,
		ledger:  ledger,
		engine:  NewCompoundingEngine(ledger, deps.Pool, deps.Staking, deps.Swapper, cfg.StableAsset, cfg.RewardAsset),
		pool:    deps.Pool,
		staking: deps.Staking,
		token:   deps.Token,
		store:   deps.Store,
		events:  NewEventLog(deps.Emitter, deps.EventLogSize),
		logger:  logger,
		metrics: metrics.Vault(),
		tracer:  otel.Tracer("autocompounder/vault"),
		clock:   clock,
	}
	return c, nil
}

// SetCycleIDSource overrides compound cycle identifiers, mainly for tests.
func (c *Controller) SetCycleIDSource(fn func() string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engine.SetCycleIDSource(fn)
}

// Load hydrates the ledger and aggregate from the configured store.
func (c *Controller) Load(ctx context.Context) error {
	if c == nil {
		return errControllerNotReady
	}
	if c.store == nil {
		return nil
	}
	_, span := c.tracer.Start(ctx, "vault.load")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()
	records, err := c.store.LoadRecords()
	if err != nil {
		return fmt.Errorf("vault: load records: %w", err)
	}
	agg, found, err := c.store.LoadAggregate()
	if err != nil {
		return fmt.Errorf("vault: load aggregate: %w", err)
	}
	ledger := NewUserLedger()
	if err := ledger.Restore(records); err != nil {
		return err
	}
	if !found {
		agg = newAggregate()
	}
	agg = agg.Clone()
	_, lp := ledger.Totals()
	if lp.Cmp(agg.TotalStakedLP) != 0 || ledger.TotalPrincipal().Cmp(agg.TotalPrincipalStable) != 0 {
		return fmt.Errorf("%w: ledger lp %s principal %s, aggregate lp %s principal %s", errInconsistentState,
			lp, ledger.TotalPrincipal(), agg.TotalStakedLP, agg.TotalPrincipalStable)
	}
	*c.ledger = *ledger
	c.engine.Restore(agg)
	c.publishGauges()
	c.logger.Info("vault: state restored", "records", len(records), "cycles", agg.Cycles)
	return nil
}

// Deposit pulls amountStable from user, converts it to pool shares, stakes
// them and credits the user's principal.
func (c *Controller) Deposit(ctx context.Context, user crypto.Address, amountStable *big.Int) (*big.Int, *big.Int, error) {
	if c == nil {
		return nil, nil, errControllerNotReady
	}
	start := c.clock()
	ctx, span := c.tracer.Start(ctx, "vault.deposit", trace.WithAttributes(
		attribute.String("vault.user", user.String()),
		attribute.String("vault.amount", valueOrZero(amountStable).String()),
	))
	defer span.End()

	stable, lp, err := c.deposit(ctx, user, amountStable)
	c.finish(span, "deposit", start, err)
	return stable, lp, err
}

func (c *Controller) deposit(ctx context.Context, user crypto.Address, amountStable *big.Int) (*big.Int, *big.Int, error) {
	if len(user.Bytes()) == 0 {
		return nil, nil, errInvalidUser
	}
	if !positive(amountStable) {
		return nil, nil, ErrInvalidAmount
	}
	if c.cfg.MinDeposit != nil && amountStable.Cmp(c.cfg.MinDeposit) < 0 {
		return nil, nil, fmt.Errorf("%w: below minimum deposit %s", ErrInvalidAmount, c.cfg.MinDeposit)
	}
	amount := new(big.Int).Set(amountStable)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.token.TransferFrom(ctx, user, c.cfg.Custody, amount); err != nil {
		return nil, nil, err
	}
	compensationCtx := context.WithoutCancel(ctx)

	lp, err := c.pool.Deposit(ctx, amount)
	if err == nil && !positive(lp) {
		err = fmt.Errorf("%w: %v", ErrInsufficientLiquidity, errZeroLPMinted)
	}
	if err != nil {
		return nil, nil, c.compensate("deposit.refund", err, func() error {
			return c.token.Transfer(compensationCtx, c.cfg.Custody, user, amount)
		})
	}

	if err := c.staking.Stake(ctx, lp); err != nil {
		return nil, nil, c.compensate("deposit.unwind", err, func() error {
			redeemed, werr := c.pool.Withdraw(compensationCtx, lp)
			if werr != nil {
				return werr
			}
			return c.token.Transfer(compensationCtx, c.cfg.Custody, user, redeemed)
		})
	}

	if err := c.ledger.RecordDeposit(user, amount, lp); err != nil {
		return nil, nil, err
	}
	c.engine.recordDeposit(amount, lp)
	c.events.Emit(events.VaultDeposit{
		User:         user,
		Asset:        c.cfg.StableAsset,
		AmountStable: new(big.Int).Set(amount),
		AmountLP:     new(big.Int).Set(lp),
	})
	c.persist(user)
	c.publishGauges()
	c.logger.Info("vault: deposit", "user", user.String(), "amountStable", amount.String(), "amountLP", lp.String())
	return new(big.Int).Set(amount), new(big.Int).Set(lp), nil
}

// Compound runs one permissionless compounding cycle and returns the stable
// value and pool shares added. A cycle with nothing to harvest returns zeros
// and no error.
func (c *Controller) Compound(ctx context.Context) (*big.Int, *big.Int, error) {
	result, err := c.CompoundCycle(ctx)
	if err != nil {
		if IsNoop(err) {
			return big.NewInt(0), big.NewInt(0), nil
		}
		return nil, nil, err
	}
	return result.AddedStable, result.AddedLP, nil
}

// CompoundCycle is Compound with the full cycle detail. No-op cycles return
// ErrNoRewards or ErrNoDepositors so schedulers can tell them apart.
func (c *Controller) CompoundCycle(ctx context.Context) (CycleResult, error) {
	if c == nil {
		return emptyCycle(), errControllerNotReady
	}
	start := c.clock()
	ctx, span := c.tracer.Start(ctx, "vault.compound")
	defer span.End()

	result, err := c.compound(ctx)
	c.finish(span, "compound", start, err)
	if err == nil {
		span.SetAttributes(
			attribute.String("vault.cycle_id", result.CycleID),
			attribute.String("vault.added_stable", result.AddedStable.String()),
			attribute.String("vault.added_lp", result.AddedLP.String()),
		)
	}
	return result, err
}

func (c *Controller) compound(ctx context.Context) (CycleResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	carry := c.engine.Aggregate().Carry
	result, err := c.engine.HarvestAndReinvest(ctx)
	if err != nil {
		// A failed or empty cycle may still have moved value through the carry.
		if !IsNoop(err) || !carry.Equal(c.engine.Aggregate().Carry) {
			c.persistAggregate()
			c.publishGauges()
		}
		if !IsNoop(err) {
			c.logger.Warn("vault: compound aborted", "error", err)
		}
		return result, err
	}

	c.events.Emit(events.VaultCompound{
		CycleID:     result.CycleID,
		Cycle:       result.Cycle,
		Reward:      new(big.Int).Set(result.Reward),
		AddedStable: new(big.Int).Set(result.AddedStable),
		AddedLP:     new(big.Int).Set(result.AddedLP),
		Depositors:  len(result.Allocations),
	})
	users := make([]crypto.Address, 0, len(result.Allocations))
	for _, alloc := range result.Allocations {
		users = append(users, alloc.Address)
	}
	c.persist(users...)
	c.metrics.AddCompounded("reward", result.Reward)
	c.metrics.AddCompounded("stable", result.AddedStable)
	c.metrics.AddCompounded("lp", result.AddedLP)
	c.publishGauges()
	c.logger.Info("vault: compounded",
		"cycleId", result.CycleID,
		"cycle", result.Cycle,
		"reward", result.Reward.String(),
		"addedStable", result.AddedStable.String(),
		"addedLP", result.AddedLP.String(),
		"depositors", len(result.Allocations),
	)
	return result, nil
}

// Withdraw exits the user's full position and pays out the redeemed stable
// asset, returning the amount transferred.
func (c *Controller) Withdraw(ctx context.Context, user crypto.Address) (*big.Int, error) {
	if c == nil {
		return nil, errControllerNotReady
	}
	start := c.clock()
	ctx, span := c.tracer.Start(ctx, "vault.withdraw", trace.WithAttributes(
		attribute.String("vault.user", user.String()),
	))
	defer span.End()

	out, err := c.withdraw(ctx, user)
	c.finish(span, "withdraw", start, err)
	return out, err
}

func (c *Controller) withdraw(ctx context.Context, user crypto.Address) (*big.Int, error) {
	if len(user.Bytes()) == 0 {
		return nil, errInvalidUser
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	settlement, err := c.ledger.Preview(user)
	if err != nil {
		return nil, err
	}
	compensationCtx := context.WithoutCancel(ctx)

	redeemed := big.NewInt(0)
	if settlement.LPOwed.Sign() > 0 {
		if err := c.staking.Unstake(ctx, settlement.LPOwed); err != nil {
			return nil, err
		}
		out, err := c.pool.Withdraw(ctx, settlement.LPOwed)
		if err != nil {
			return nil, c.compensate("withdraw.restake", err, func() error {
				return c.staking.Stake(compensationCtx, settlement.LPOwed)
			})
		}
		redeemed = valueOrZero(out)
	}

	if redeemed.Sign() > 0 {
		if err := c.token.Transfer(ctx, c.cfg.Custody, user, redeemed); err != nil {
			return nil, c.compensate("withdraw.reinvest", err, func() error {
				return c.reinvestFor(compensationCtx, user, settlement, redeemed)
			})
		}
	}

	committed, err := c.ledger.WithdrawAll(user)
	if err != nil {
		return nil, err
	}
	c.engine.recordWithdrawal(committed)
	c.events.Emit(events.VaultWithdraw{
		User:                user,
		Asset:               c.cfg.StableAsset,
		TotalStableReturned: new(big.Int).Set(redeemed),
		PrincipalStable:     new(big.Int).Set(committed.PrincipalStable),
		RedeemedLP:          new(big.Int).Set(committed.LPOwed),
	})
	c.persist(user)
	c.publishGauges()
	c.logger.Info("vault: withdraw",
		"user", user.String(),
		"stableReturned", redeemed.String(),
		"stableOwed", committed.StableOwed.String(),
		"lpRedeemed", committed.LPOwed.String(),
	)
	return new(big.Int).Set(redeemed), nil
}

// reinvestFor puts a redeemed-but-unpaid position back to work and rebases
// the user's pool shares to what the redeposit minted.
func (c *Controller) reinvestFor(ctx context.Context, user crypto.Address, settlement Settlement, stable *big.Int) error {
	lp, err := c.pool.Deposit(ctx, stable)
	if err != nil {
		return fmt.Errorf("redeposit: %w", err)
	}
	if err := c.staking.Stake(ctx, lp); err != nil {
		return fmt.Errorf("restake: %w", err)
	}
	if err := c.ledger.RebaseLP(user, lp); err != nil {
		return fmt.Errorf("rebase: %w", err)
	}
	c.engine.adjustStaked(new(big.Int).Sub(lp, settlement.LPOwed))
	c.persist(user)
	return nil
}

// Info returns the user's position; unknown or withdrawn users read as zeros.
func (c *Controller) Info(user crypto.Address) PositionInfo {
	if c == nil {
		return zeroPosition()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.Info(user)
}

// Position is Info that reports ErrNoDeposit for users without an active
// position.
func (c *Controller) Position(user crypto.Address) (PositionInfo, error) {
	info := c.Info(user)
	if info.IsZero() {
		return info, ErrNoDeposit
	}
	return info, nil
}

// Aggregate returns the vault-wide accounting state.
func (c *Controller) Aggregate() Aggregate {
	if c == nil {
		return newAggregate()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine.Aggregate()
}

// Records returns copies of every ledger record.
func (c *Controller) Records() []*DepositRecord {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.Records()
}

// Valuation compares total depositor claims with the stable value the staked
// position would redeem for at current pool rates.
func (c *Controller) Valuation(ctx context.Context) (Valuation, error) {
	if c == nil {
		return Valuation{}, errControllerNotReady
	}
	c.mu.RLock()
	claims, _ := c.ledger.Totals()
	staked := copyBigInt(c.engine.aggregate.TotalStakedLP)
	c.mu.RUnlock()

	result := Valuation{Claims: claims, Redeemable: big.NewInt(0), TotalStakedLP: staked}
	quoter, ok := c.pool.(WithdrawQuoter)
	if !ok {
		return result, errQuoteUnsupported
	}
	if staked.Sign() > 0 {
		redeemable, err := quoter.QuoteWithdraw(ctx, staked)
		if err != nil {
			return result, fmt.Errorf("vault: quote redeemable: %w", err)
		}
		result.Redeemable = copyBigInt(redeemable)
	}
	result.Solvent = result.Claims.Cmp(result.Redeemable) <= 0
	return result, nil
}

// Events returns every event emitted by this controller.
func (c *Controller) Events() []events.Event {
	if c == nil {
		return nil
	}
	return c.events.Events()
}

// EventsOfType returns emitted events of a single type.
func (c *Controller) EventsOfType(eventType string) []events.Event {
	if c == nil {
		return nil
	}
	return c.events.Filter(eventType)
}

// Config returns the controller configuration.
func (c *Controller) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.cfg
}

func (c *Controller) compensate(operation string, cause error, fn func() error) error {
	cerr := fn()
	c.metrics.ObserveCompensation(operation, cerr)
	if cerr != nil {
		c.logger.Error("vault: compensation failed, manual reconciliation required",
			"operation", operation, "cause", cause, "error", cerr)
		return errors.Join(cause, fmt.Errorf("vault: %s: %w", operation, cerr))
	}
	c.logger.Warn("vault: operation unwound", "operation", operation, "cause", cause)
	return cause
}

// persist writes the given users' records and the aggregate. The external side
// effects have already happened, so failures are reported but do not fail the
// operation.
func (c *Controller) persist(users ...crypto.Address) {
	if c.store == nil {
		return
	}
	for _, user := range users {
		record, ok := c.ledger.Record(user)
		if !ok {
			continue
		}
		if err := c.store.PutRecord(record); err != nil {
			c.metrics.IncPersistFailure()
			c.logger.Error("vault: persist record", "user", user.String(), "error", err)
		}
	}
	c.persistAggregate()
}

func (c *Controller) persistAggregate() {
	if c.store == nil {
		return
	}
	if err := c.store.PutAggregate(c.engine.Aggregate()); err != nil {
		c.metrics.IncPersistFailure()
		c.logger.Error("vault: persist aggregate", "error", err)
	}
}

func (c *Controller) publishGauges() {
	agg := c.engine.aggregate
	c.metrics.SetPosition(agg.TotalStakedLP, agg.TotalPrincipalStable, c.ledger.Depositors())
	c.metrics.SetCarry("reward", agg.Carry.Reward)
	c.metrics.SetCarry("stable", agg.Carry.Stable)
	c.metrics.SetCarry("lp", agg.Carry.LP)
}

func (c *Controller) finish(span trace.Span, operation string, start time.Time, err error) {
	outcome := Outcome(err)
	c.metrics.ObserveOperation(operation, outcome, c.clock().Sub(start))
	span.SetAttributes(attribute.String("vault.outcome", outcome))
	if err != nil && !IsNoop(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, outcome)
}

// Outcome classifies err into a stable label for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsNoop(err):
		return "noop"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, errInvalidUser):
		return "invalid_amount"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage_exceeded"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ErrNoDeposit):
		return "no_deposit"
	default:
		return "error"
	}
}
