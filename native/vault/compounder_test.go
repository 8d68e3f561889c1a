package vault

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"autocompounder/crypto"
)

type stubPool struct {
	depositErr error
	deposits   int
}

func (p *stubPool) Deposit(_ context.Context, amount *big.Int) (*big.Int, error) {
	if p.depositErr != nil {
		err := p.depositErr
		p.depositErr = nil
		return nil, err
	}
	p.deposits++
	return new(big.Int).Set(amount), nil
}

func (p *stubPool) Withdraw(_ context.Context, lp *big.Int) (*big.Int, error) {
	return new(big.Int).Set(lp), nil
}

type stubStaking struct {
	pending  *big.Int
	staked   *big.Int
	claims   int
	stakeErr error
}

func newStubStaking() *stubStaking {
	return &stubStaking{pending: big.NewInt(0), staked: big.NewInt(0)}
}

func (s *stubStaking) Stake(_ context.Context, lp *big.Int) error {
	if s.stakeErr != nil {
		err := s.stakeErr
		s.stakeErr = nil
		return err
	}
	s.staked.Add(s.staked, lp)
	return nil
}

func (s *stubStaking) Unstake(_ context.Context, lp *big.Int) error {
	s.staked.Sub(s.staked, lp)
	return nil
}

func (s *stubStaking) ClaimRewards(context.Context) (*big.Int, error) {
	s.claims++
	out := s.pending
	s.pending = big.NewInt(0)
	return out, nil
}

func (s *stubStaking) PendingRewards(context.Context) (*big.Int, error) {
	return new(big.Int).Set(s.pending), nil
}

// stubSwapper pays half a stable unit per reward unit.
type stubSwapper struct {
	err   error
	swaps int
}

func (s *stubSwapper) Swap(_ context.Context, _, _ string, amountIn *big.Int) (*big.Int, error) {
	if s.err != nil {
		err := s.err
		s.err = nil
		return nil, err
	}
	s.swaps++
	return new(big.Int).Quo(amountIn, big.NewInt(2)), nil
}

type engineFixture struct {
	ledger  *UserLedger
	pool    *stubPool
	staking *stubStaking
	swapper *stubSwapper
	engine  *CompoundingEngine
}

type principal struct {
	user   crypto.Address
	amount int64
}

func newEngineFixture(t *testing.T, principals []principal) *engineFixture {
	t.Helper()
	f := &engineFixture{
		ledger:  NewUserLedger(),
		pool:    &stubPool{},
		staking: newStubStaking(),
		swapper: &stubSwapper{},
	}
	f.engine = NewCompoundingEngine(f.ledger, f.pool, f.staking, f.swapper, "usdc", "wom")
	for _, p := range principals {
		mustDeposit(t, f.ledger, p.user, p.amount, p.amount)
		f.engine.recordDeposit(big.NewInt(p.amount), big.NewInt(p.amount))
	}
	return f
}

func TestHarvestWithoutDepositorsLeavesRewardsUnclaimed(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.staking.pending = big.NewInt(10)
	if _, err := f.engine.HarvestAndReinvest(context.Background()); !errors.Is(err, ErrNoDepositors) {
		t.Fatalf("expected ErrNoDepositors, got %v", err)
	}
	if f.staking.claims != 0 {
		t.Fatalf("rewards must not be claimed without depositors")
	}
}

func TestHarvestWithoutRewardsIsNoop(t *testing.T) {
	f := newEngineFixture(t, []principal{{testAddr(1), 100}})
	for i := 0; i < 3; i++ {
		result, err := f.engine.HarvestAndReinvest(context.Background())
		if !errors.Is(err, ErrNoRewards) {
			t.Fatalf("expected ErrNoRewards, got %v", err)
		}
		if result.AddedStable.Sign() != 0 || result.AddedLP.Sign() != 0 {
			t.Fatalf("no-op cycle reported additions")
		}
	}
	if f.engine.Aggregate().Cycles != 0 || f.swapper.swaps != 0 {
		t.Fatalf("no-op cycles must not swap or count")
	}
}

func TestHarvestDistributesAndUpdatesAggregate(t *testing.T) {
	alice, bob := testAddr(1), testAddr(2)
	f := newEngineFixture(t, []principal{{alice, 300}, {bob, 100}})
	f.staking.pending = big.NewInt(80)
	f.engine.SetCycleIDSource(func() string { return "cycle-1" })

	result, err := f.engine.HarvestAndReinvest(context.Background())
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if result.CycleID != "cycle-1" || result.Cycle != 1 {
		t.Fatalf("unexpected cycle identity %+v", result)
	}
	if result.Reward.Int64() != 80 || result.AddedStable.Int64() != 40 || result.AddedLP.Int64() != 40 {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := f.ledger.Info(alice).CompoundedStable.Int64(); got != 30 {
		t.Fatalf("alice compounded %d, want 30", got)
	}
	if got := f.ledger.Info(bob).CompoundedLP.Int64(); got != 10 {
		t.Fatalf("bob compounded lp %d, want 10", got)
	}
	agg := f.engine.Aggregate()
	if agg.TotalStakedLP.Int64() != 440 || agg.TotalCompoundedStable.Int64() != 40 || agg.Cycles != 1 {
		t.Fatalf("unexpected aggregate %+v", agg)
	}
	if !agg.Carry.Empty() {
		t.Fatalf("carry should be empty after a full cycle")
	}
	_, lp := f.ledger.Totals()
	if lp.Cmp(agg.TotalStakedLP) != 0 {
		t.Fatalf("ledger lp %s != staked %s", lp, agg.TotalStakedLP)
	}
}

func TestHarvestSwapFailureCarriesReward(t *testing.T) {
	user := testAddr(1)
	f := newEngineFixture(t, []principal{{user, 100}})
	f.staking.pending = big.NewInt(20)
	f.swapper.err = ErrSlippageExceeded

	if _, err := f.engine.HarvestAndReinvest(context.Background()); !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}
	if info := f.ledger.Info(user); info.CompoundedStable.Sign() != 0 {
		t.Fatalf("ledger mutated by failed cycle: %+v", info)
	}
	if carry := f.engine.Aggregate().Carry; carry.Reward.Int64() != 20 {
		t.Fatalf("claimed reward should be carried, got %+v", carry)
	}

	result, err := f.engine.HarvestAndReinvest(context.Background())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.Reward.Int64() != 20 || result.AddedStable.Int64() != 10 {
		t.Fatalf("carried reward reinvested incorrectly: %+v", result)
	}
	if f.staking.claims != 2 || f.swapper.swaps != 1 {
		t.Fatalf("claims=%d swaps=%d", f.staking.claims, f.swapper.swaps)
	}
	if _, err := f.engine.HarvestAndReinvest(context.Background()); !errors.Is(err, ErrNoRewards) {
		t.Fatalf("carry must be consumed once, got %v", err)
	}
}

func TestHarvestStakeFailureCarriesShares(t *testing.T) {
	user := testAddr(1)
	f := newEngineFixture(t, []principal{{user, 100}})
	f.staking.pending = big.NewInt(40)
	f.staking.stakeErr = errors.New("farm paused")

	if _, err := f.engine.HarvestAndReinvest(context.Background()); err == nil {
		t.Fatalf("expected stake failure")
	}
	carry := f.engine.Aggregate().Carry
	if carry.LP.Int64() != 20 || carry.LPStable.Int64() != 20 || carry.Reward.Sign() != 0 || carry.Stable.Sign() != 0 {
		t.Fatalf("unexpected carry %+v", carry)
	}

	result, err := f.engine.HarvestAndReinvest(context.Background())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.AddedLP.Int64() != 20 || result.AddedStable.Int64() != 20 {
		t.Fatalf("unexpected retry result %+v", result)
	}
	if f.pool.deposits != 1 {
		t.Fatalf("carried shares must not be redeposited, deposits=%d", f.pool.deposits)
	}
	if f.ledger.Info(user).CompoundedLP.Int64() != 20 {
		t.Fatalf("carried shares not credited")
	}
}

func TestHarvestPoolFailureCarriesStable(t *testing.T) {
	user := testAddr(1)
	f := newEngineFixture(t, []principal{{user, 100}})
	f.staking.pending = big.NewInt(40)
	f.pool.depositErr = ErrInsufficientLiquidity

	if _, err := f.engine.HarvestAndReinvest(context.Background()); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if carry := f.engine.Aggregate().Carry; carry.Stable.Int64() != 20 || carry.Reward.Sign() != 0 {
		t.Fatalf("unexpected carry %+v", carry)
	}
	f.staking.pending = big.NewInt(10)
	result, err := f.engine.HarvestAndReinvest(context.Background())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.AddedStable.Int64() != 25 {
		t.Fatalf("expected carried 20 plus fresh 5, got %s", result.AddedStable)
	}
}
