package evm

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"autocompounder/native/vault"
)

// StakingConfig binds a MasterWombat-style farm pool id.
type StakingConfig struct {
	Farm        common.Address
	PoolID      uint64
	LPToken     common.Address
	RewardToken common.Address
}

// Staking adapts a MasterWombat-style farm to vault.Staking. The farm pays out
// pending rewards on every deposit and withdraw, so rewards received as a side
// effect of Stake and Unstake are buffered and returned by the next
// ClaimRewards.
type Staking struct {
	tx  *Transactor
	cfg StakingConfig

	mu        sync.Mutex
	harvested *big.Int
}

var _ vault.Staking = (*Staking)(nil)

// NewStaking binds the farm described by cfg.
func NewStaking(tx *Transactor, cfg StakingConfig) *Staking {
	return &Staking{tx: tx, cfg: cfg, harvested: new(big.Int)}
}

// Stake implements vault.Staking.
func (s *Staking) Stake(ctx context.Context, lpAmount *big.Int) error {
	amount, err := toUint256(lpAmount)
	if err != nil {
		return err
	}
	if err := s.tx.ensureAllowance(ctx, s.cfg.LPToken, s.cfg.Farm, amount); err != nil {
		return err
	}
	return s.harvesting(ctx, "deposit", amount)
}

// Unstake implements vault.Staking.
func (s *Staking) Unstake(ctx context.Context, lpAmount *big.Int) error {
	amount, err := toUint256(lpAmount)
	if err != nil {
		return err
	}
	return s.harvesting(ctx, "withdraw", amount)
}

// ClaimRewards harvests by depositing zero shares and returns everything
// harvested since the previous claim.
func (s *Staking) ClaimRewards(ctx context.Context) (*big.Int, error) {
	if err := s.harvesting(ctx, "deposit", new(big.Int)); err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	claimed := s.harvested
	s.harvested = new(big.Int)
	return claimed, nil
}

// PendingRewards implements vault.Staking.
func (s *Staking) PendingRewards(ctx context.Context) (*big.Int, error) {
	pending, err := s.tx.callUint(ctx, stakingContract, s.cfg.Farm, "pendingTokens",
		new(big.Int).SetUint64(s.cfg.PoolID), s.tx.From())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Add(pending, s.harvested), nil
}

func (s *Staking) harvesting(ctx context.Context, method string, amount *big.Int) error {
	delta, err := s.tx.balanceDelta(ctx, s.cfg.RewardToken, s.tx.From(), func() error {
		_, err := s.tx.send(ctx, stakingContract, s.cfg.Farm, method, new(big.Int).SetUint64(s.cfg.PoolID), amount)
		return err
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.harvested.Add(s.harvested, delta)
	s.mu.Unlock()
	return nil
}
