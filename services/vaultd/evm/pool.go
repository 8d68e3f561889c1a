package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"autocompounder/native/vault"
)

// PoolConfig binds a Wombat-style pool to the stable asset it accepts.
type PoolConfig struct {
	Pool        common.Address
	StableToken common.Address
	// LPToken is the pool asset share token minted on deposit.
	LPToken        common.Address
	MaxSlippageBps uint64
	Deadline       time.Duration
}

// Pool adapts a Wombat-style pool to vault.Pool and vault.WithdrawQuoter.
// Minted shares and redeemed stable are measured by balance deltas, so the
// adapter never depends on transaction return data.
type Pool struct {
	tx    *Transactor
	cfg   PoolConfig
	clock func() time.Time
}

var (
	_ vault.Pool           = (*Pool)(nil)
	_ vault.WithdrawQuoter = (*Pool)(nil)
)

// NewPool binds the pool described by cfg.
func NewPool(tx *Transactor, cfg PoolConfig) *Pool {
	return &Pool{tx: tx, cfg: cfg, clock: time.Now}
}

// Deposit implements vault.Pool.
func (p *Pool) Deposit(ctx context.Context, stableAmount *big.Int) (*big.Int, error) {
	amount, err := toUint256(stableAmount)
	if err != nil {
		return nil, err
	}
	quoted, err := p.quoteDeposit(ctx, amount)
	if err != nil {
		return nil, err
	}
	if quoted.Sign() == 0 {
		return nil, fmt.Errorf("%w: deposit of %s quotes zero liquidity", vault.ErrInsufficientLiquidity, amount)
	}
	if err := p.tx.ensureAllowance(ctx, p.cfg.StableToken, p.cfg.Pool, amount); err != nil {
		return nil, err
	}
	minimum := minimumOut(quoted, p.cfg.MaxSlippageBps)
	return p.tx.balanceDelta(ctx, p.cfg.LPToken, p.tx.From(), func() error {
		_, err := p.tx.send(ctx, poolContract, p.cfg.Pool, "deposit",
			p.cfg.StableToken, amount, minimum, p.tx.From(), deadline(p.clock(), p.cfg.Deadline), false)
		return liquidityError(err)
	})
}

// Withdraw implements vault.Pool.
func (p *Pool) Withdraw(ctx context.Context, lpAmount *big.Int) (*big.Int, error) {
	liquidity, err := toUint256(lpAmount)
	if err != nil {
		return nil, err
	}
	quoted, err := p.QuoteWithdraw(ctx, liquidity)
	if err != nil {
		return nil, err
	}
	if err := p.tx.ensureAllowance(ctx, p.cfg.LPToken, p.cfg.Pool, liquidity); err != nil {
		return nil, err
	}
	minimum := minimumOut(quoted, p.cfg.MaxSlippageBps)
	return p.tx.balanceDelta(ctx, p.cfg.StableToken, p.tx.From(), func() error {
		_, err := p.tx.send(ctx, poolContract, p.cfg.Pool, "withdraw",
			p.cfg.StableToken, liquidity, minimum, p.tx.From(), deadline(p.clock(), p.cfg.Deadline))
		return liquidityError(err)
	})
}

// QuoteWithdraw implements vault.WithdrawQuoter.
func (p *Pool) QuoteWithdraw(ctx context.Context, lpAmount *big.Int) (*big.Int, error) {
	liquidity, err := toUint256(lpAmount)
	if err != nil {
		return nil, err
	}
	if liquidity.Sign() == 0 {
		return new(big.Int), nil
	}
	return p.tx.callUint(ctx, poolContract, p.cfg.Pool, "quotePotentialWithdraw", p.cfg.StableToken, liquidity)
}

func (p *Pool) quoteDeposit(ctx context.Context, amount *big.Int) (*big.Int, error) {
	return p.tx.callUint(ctx, poolContract, p.cfg.Pool, "quotePotentialDeposit", p.cfg.StableToken, amount)
}

func liquidityError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrReverted) {
		return fmt.Errorf("%w: %v", vault.ErrInsufficientLiquidity, err)
	}
	return err
}
