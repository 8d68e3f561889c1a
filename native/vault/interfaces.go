package vault

import (
	"context"
	"math/big"

	"autocompounder/crypto"
)

// Pool converts the stable asset into pool shares and back. Implementations
// must be deterministic given the current pool state and return
// ErrInsufficientLiquidity when a request cannot be serviced.
type Pool interface {
	Deposit(ctx context.Context, stableAmount *big.Int) (*big.Int, error)
	Withdraw(ctx context.Context, lpAmount *big.Int) (*big.Int, error)
}

// WithdrawQuoter is optionally implemented by pools that can price a
// redemption without executing it.
type WithdrawQuoter interface {
	QuoteWithdraw(ctx context.Context, lpAmount *big.Int) (*big.Int, error)
}

// Staking holds the vault's aggregate pool-share position and accrues reward
// tokens against it. ClaimRewards returns zero when nothing is pending and
// never fails on zero.
type Staking interface {
	Stake(ctx context.Context, lpAmount *big.Int) error
	Unstake(ctx context.Context, lpAmount *big.Int) error
	ClaimRewards(ctx context.Context) (*big.Int, error)
	PendingRewards(ctx context.Context) (*big.Int, error)
}

// Swapper exchanges reward tokens for the stable asset at the prevailing rate.
// Implementations return ErrSlippageExceeded when the rate is out of bounds.
type Swapper interface {
	Swap(ctx context.Context, tokenIn, tokenOut string, amountIn *big.Int) (*big.Int, error)
}

// Token moves the stable asset between depositors and vault custody.
// TransferFrom pulls an approved amount from the owner; Transfer pays out
// from an account the implementation controls.
type Token interface {
	TransferFrom(ctx context.Context, from, to crypto.Address, amount *big.Int) error
	Transfer(ctx context.Context, from, to crypto.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, owner crypto.Address) (*big.Int, error)
}

// Store persists ledger entries and aggregate state between restarts.
type Store interface {
	PutRecord(record *DepositRecord) error
	LoadRecords() ([]*DepositRecord, error)
	PutAggregate(agg Aggregate) error
	LoadAggregate() (Aggregate, bool, error)
}
