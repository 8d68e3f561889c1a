package sim

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"autocompounder/crypto"
	"autocompounder/native/vault"
)

var errInsufficientStake = errors.New("sim: unstake exceeds staked balance")

// Staking is a single-pool MasterChef-style farm. While any shares are staked
// every Advance tick emits RewardPerTick to the staker.
type Staking struct {
	faults

	mu            sync.Mutex
	pool          *Pool
	reward        *Token
	account       crypto.Address
	owner         crypto.Address
	staked        *big.Int
	pending       *big.Int
	rewardPerTick *big.Int
}

// NewStaking creates a farm for pool shares held by owner.
func NewStaking(pool *Pool, reward *Token, account, owner crypto.Address, rewardPerTick *big.Int) *Staking {
	rate := big.NewInt(0)
	if rewardPerTick != nil {
		rate.Set(rewardPerTick)
	}
	return &Staking{
		pool:          pool,
		reward:        reward,
		account:       account,
		owner:         owner,
		staked:        big.NewInt(0),
		pending:       big.NewInt(0),
		rewardPerTick: rate,
	}
}

// SetRewardPerTick changes the emission rate.
func (s *Staking) SetRewardPerTick(rate *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate == nil {
		rate = big.NewInt(0)
	}
	s.rewardPerTick = new(big.Int).Set(rate)
}

// Advance accrues ticks worth of rewards if anything is staked.
func (s *Staking) Advance(ticks int) {
	if ticks <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staked.Sign() == 0 {
		return
	}
	s.pending.Add(s.pending, new(big.Int).Mul(s.rewardPerTick, big.NewInt(int64(ticks))))
}

// Staked returns the staked share balance.
func (s *Staking) Staked() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.staked)
}

// Stake implements vault.Staking.
func (s *Staking) Stake(ctx context.Context, lpAmount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.take(OpStake); err != nil {
		return err
	}
	if lpAmount == nil || lpAmount.Sign() <= 0 {
		return vault.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pool.transferShares(s.owner, s.account, lpAmount); err != nil {
		return err
	}
	s.staked.Add(s.staked, lpAmount)
	return nil
}

// Unstake implements vault.Staking.
func (s *Staking) Unstake(ctx context.Context, lpAmount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.take(OpUnstake); err != nil {
		return err
	}
	if lpAmount == nil || lpAmount.Sign() <= 0 {
		return vault.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staked.Cmp(lpAmount) < 0 {
		return fmt.Errorf("%w: staked %s, unstaking %s", errInsufficientStake, s.staked, lpAmount)
	}
	if err := s.pool.transferShares(s.account, s.owner, lpAmount); err != nil {
		return err
	}
	s.staked.Sub(s.staked, lpAmount)
	return nil
}

// ClaimRewards implements vault.Staking. Pending rewards are paid once.
func (s *Staking) ClaimRewards(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.take(OpClaim); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	claimed := new(big.Int).Set(s.pending)
	s.pending = big.NewInt(0)
	s.reward.Mint(s.owner, claimed)
	return claimed, nil
}

// PendingRewards implements vault.Staking.
func (s *Staking) PendingRewards(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.pending), nil
}
