package vault

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// CycleResult describes one harvest and reinvest pass.
type CycleResult struct {
	CycleID     string
	Cycle       uint64
	Reward      *big.Int
	AddedStable *big.Int
	AddedLP     *big.Int
	Allocations []Allocation
}

func emptyCycle() CycleResult {
	return CycleResult{Reward: big.NewInt(0), AddedStable: big.NewInt(0), AddedLP: big.NewInt(0)}
}

// CompoundingEngine harvests staking rewards, converts them into staked pool
// shares and credits the result to depositors through the ledger. It owns the
// vault-wide Aggregate.
type CompoundingEngine struct {
	ledger      *UserLedger
	pool        Pool
	staking     Staking
	swapper     Swapper
	rewardAsset string
	stableAsset string
	aggregate   Aggregate
	newCycleID  func() string
}

// NewCompoundingEngine wires the engine to the ledger and its collaborators.
func NewCompoundingEngine(ledger *UserLedger, pool Pool, staking Staking, swapper Swapper, stableAsset, rewardAsset string) *CompoundingEngine {
	return &CompoundingEngine{
		ledger:      ledger,
		pool:        pool,
		staking:     staking,
		swapper:     swapper,
		stableAsset: strings.ToUpper(strings.TrimSpace(stableAsset)),
		rewardAsset: strings.ToUpper(strings.TrimSpace(rewardAsset)),
		aggregate:   newAggregate(),
		newCycleID:  func() string { return uuid.NewString() },
	}
}

// SetCycleIDSource overrides how cycle identifiers are generated.
func (e *CompoundingEngine) SetCycleIDSource(fn func() string) {
	if e == nil || fn == nil {
		return
	}
	e.newCycleID = fn
}

// Aggregate returns a copy of the vault-wide accounting state.
func (e *CompoundingEngine) Aggregate() Aggregate {
	if e == nil {
		return newAggregate()
	}
	return e.aggregate.Clone()
}

// Restore replaces the aggregate with a persisted copy.
func (e *CompoundingEngine) Restore(agg Aggregate) {
	if e == nil {
		return
	}
	e.aggregate = agg.Clone()
}

// HarvestAndReinvest runs one compounding cycle: claim, swap, deposit, stake,
// then distribute. Rewards are claimed exactly once per call. The ledger is
// only touched after every external call succeeded; value stranded by a
// failure part way is parked in the aggregate carry and retried by the next
// cycle. ErrNoRewards and ErrNoDepositors mark no-op cycles.
func (e *CompoundingEngine) HarvestAndReinvest(ctx context.Context) (CycleResult, error) {
	if e == nil || e.ledger == nil {
		return emptyCycle(), errNilLedger
	}
	if e.pool == nil || e.staking == nil || e.swapper == nil {
		return emptyCycle(), errNilCollaborator
	}
	if e.ledger.TotalPrincipal().Sign() == 0 {
		return emptyCycle(), ErrNoDepositors
	}

	claimed, err := e.staking.ClaimRewards(ctx)
	if err != nil {
		return emptyCycle(), fmt.Errorf("claim rewards: %w", err)
	}
	if claimed != nil && claimed.Sign() < 0 {
		return emptyCycle(), fmt.Errorf("claim rewards: negative amount %s", claimed)
	}
	carry := &e.aggregate.Carry
	reward := new(big.Int).Add(valueOrZero(carry.Reward), valueOrZero(claimed))
	if reward.Sign() == 0 && !positive(carry.Stable) && !positive(carry.LP) {
		return emptyCycle(), ErrNoRewards
	}
	// The claimed amount is now held by the vault; park it until swapped.
	carry.Reward = new(big.Int).Set(reward)

	stable := copyBigInt(carry.Stable)
	if reward.Sign() > 0 {
		out, err := e.swapper.Swap(ctx, e.rewardAsset, e.stableAsset, reward)
		if err != nil {
			return emptyCycle(), fmt.Errorf("swap rewards: %w", err)
		}
		stable.Add(stable, valueOrZero(out))
		carry.Reward = big.NewInt(0)
		carry.Stable = new(big.Int).Set(stable)
	}

	lp := copyBigInt(carry.LP)
	lpStable := copyBigInt(carry.LPStable)
	if stable.Sign() > 0 {
		minted, err := e.pool.Deposit(ctx, stable)
		if err != nil {
			return emptyCycle(), fmt.Errorf("deposit yield: %w", err)
		}
		if !positive(minted) {
			return emptyCycle(), fmt.Errorf("deposit yield: %w", errZeroLPMinted)
		}
		lp.Add(lp, minted)
		lpStable.Add(lpStable, stable)
		carry.Stable = big.NewInt(0)
		carry.LP = new(big.Int).Set(lp)
		carry.LPStable = new(big.Int).Set(lpStable)
	}
	if lp.Sign() == 0 {
		return emptyCycle(), ErrNoRewards
	}

	if err := e.staking.Stake(ctx, lp); err != nil {
		return emptyCycle(), fmt.Errorf("stake yield: %w", err)
	}
	carry.LP = big.NewInt(0)
	carry.LPStable = big.NewInt(0)

	allocations, err := e.ledger.DistributeYield(lpStable, lp)
	if err != nil {
		return emptyCycle(), fmt.Errorf("distribute yield: %w", err)
	}

	e.aggregate.TotalStakedLP = new(big.Int).Add(valueOrZero(e.aggregate.TotalStakedLP), lp)
	e.aggregate.TotalCompoundedStable = new(big.Int).Add(valueOrZero(e.aggregate.TotalCompoundedStable), lpStable)
	e.aggregate.TotalCompoundedLP = new(big.Int).Add(valueOrZero(e.aggregate.TotalCompoundedLP), lp)
	e.aggregate.Cycles++

	return CycleResult{
		CycleID:     e.newCycleID(),
		Cycle:       e.aggregate.Cycles,
		Reward:      reward,
		AddedStable: lpStable,
		AddedLP:     lp,
		Allocations: allocations,
	}, nil
}

func (e *CompoundingEngine) recordDeposit(amountStable, amountLP *big.Int) {
	e.aggregate.TotalPrincipalStable = new(big.Int).Add(valueOrZero(e.aggregate.TotalPrincipalStable), amountStable)
	e.aggregate.TotalStakedLP = new(big.Int).Add(valueOrZero(e.aggregate.TotalStakedLP), amountLP)
}

func (e *CompoundingEngine) recordWithdrawal(settlement Settlement) {
	e.aggregate.TotalPrincipalStable = new(big.Int).Sub(valueOrZero(e.aggregate.TotalPrincipalStable), settlement.PrincipalStable)
	e.aggregate.TotalStakedLP = new(big.Int).Sub(valueOrZero(e.aggregate.TotalStakedLP), settlement.LPOwed)
}

func (e *CompoundingEngine) adjustStaked(delta *big.Int) {
	e.aggregate.TotalStakedLP = new(big.Int).Add(valueOrZero(e.aggregate.TotalStakedLP), delta)
}
