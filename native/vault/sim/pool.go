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

const bpsDenominator = 10_000

var errInsufficientShares = errors.New("sim: insufficient pool shares")

// Pool is a single-asset liquidity pool in the style of a Wombat asset: shares
// are priced against the cash the pool holds, so fee income credited through
// Accrue raises the redemption value of every outstanding share.
type Pool struct {
	faults

	mu       sync.Mutex
	token    *Token
	account  crypto.Address
	owner    crypto.Address
	cash     *big.Int
	supply   *big.Int
	shares   map[string]*big.Int
	feeBps   uint64
	capacity *big.Int
}

// NewPool creates a pool over token whose shares are minted to owner.
func NewPool(token *Token, account, owner crypto.Address) *Pool {
	return &Pool{
		token:   token,
		account: account,
		owner:   owner,
		cash:    big.NewInt(0),
		supply:  big.NewInt(0),
		shares:  make(map[string]*big.Int),
	}
}

// SetWithdrawFee charges bps of every redemption, retained as pool cash.
func (p *Pool) SetWithdrawFee(bps uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feeBps = clampBps(bps)
}

// SetCapacity caps the cash the pool accepts. Nil removes the cap.
func (p *Pool) SetCapacity(capacity *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if capacity == nil {
		p.capacity = nil
		return
	}
	p.capacity = new(big.Int).Set(capacity)
}

// Accrue credits fee income to the pool.
func (p *Pool) Accrue(amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token.Mint(p.account, amount)
	p.cash.Add(p.cash, amount)
}

// Cash returns the stable asset held by the pool.
func (p *Pool) Cash() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.cash)
}

// Supply returns the outstanding share supply.
func (p *Pool) Supply() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.supply)
}

// SharesOf returns the share balance of holder.
func (p *Pool) SharesOf(holder crypto.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sharesLocked(holder)
}

// Deposit implements vault.Pool.
func (p *Pool) Deposit(ctx context.Context, stableAmount *big.Int) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.take(OpDeposit); err != nil {
		return nil, err
	}
	if stableAmount == nil || stableAmount.Sign() <= 0 {
		return nil, vault.ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.capacity != nil && new(big.Int).Add(p.cash, stableAmount).Cmp(p.capacity) > 0 {
		return nil, fmt.Errorf("%w: pool capacity %s reached", vault.ErrInsufficientLiquidity, p.capacity)
	}
	minted := new(big.Int).Set(stableAmount)
	if p.supply.Sign() > 0 && p.cash.Sign() > 0 {
		minted.Mul(minted, p.supply)
		minted.Quo(minted, p.cash)
	}
	if minted.Sign() == 0 {
		return nil, fmt.Errorf("%w: deposit of %s mints no shares", vault.ErrInsufficientLiquidity, stableAmount)
	}
	if err := p.token.move(p.owner, p.account, stableAmount); err != nil {
		return nil, err
	}
	p.cash.Add(p.cash, stableAmount)
	p.supply.Add(p.supply, minted)
	p.shares[p.owner.Key()] = new(big.Int).Add(p.sharesLocked(p.owner), minted)
	return new(big.Int).Set(minted), nil
}

// Withdraw implements vault.Pool.
func (p *Pool) Withdraw(ctx context.Context, lpAmount *big.Int) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.take(OpWithdraw); err != nil {
		return nil, err
	}
	if lpAmount == nil || lpAmount.Sign() <= 0 {
		return nil, vault.ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	held := p.sharesLocked(p.owner)
	if held.Cmp(lpAmount) < 0 {
		return nil, fmt.Errorf("%w: holder has %s, redeeming %s", errInsufficientShares, held, lpAmount)
	}
	out := p.quoteLocked(lpAmount)
	if out.Cmp(p.cash) > 0 {
		return nil, fmt.Errorf("%w: redeeming %s with cash %s", vault.ErrInsufficientLiquidity, out, p.cash)
	}
	if err := p.token.move(p.account, p.owner, out); err != nil {
		return nil, err
	}
	p.cash.Sub(p.cash, out)
	p.supply.Sub(p.supply, lpAmount)
	p.shares[p.owner.Key()] = held.Sub(held, lpAmount)
	return out, nil
}

// QuoteWithdraw implements vault.WithdrawQuoter.
func (p *Pool) QuoteWithdraw(ctx context.Context, lpAmount *big.Int) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lpAmount == nil || lpAmount.Sign() < 0 {
		return nil, vault.ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if lpAmount.Cmp(p.supply) > 0 {
		return nil, fmt.Errorf("%w: quote %s exceeds supply %s", errInsufficientShares, lpAmount, p.supply)
	}
	return p.quoteLocked(lpAmount), nil
}

func (p *Pool) quoteLocked(lpAmount *big.Int) *big.Int {
	if p.supply.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(lpAmount, p.cash)
	out.Quo(out, p.supply)
	if p.feeBps > 0 {
		fee := new(big.Int).Mul(out, new(big.Int).SetUint64(p.feeBps))
		fee.Quo(fee, big.NewInt(bpsDenominator))
		out.Sub(out, fee)
	}
	return out
}

func (p *Pool) transferShares(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return vault.ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	held := p.sharesLocked(from)
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, moving %s", errInsufficientShares, from, held, amount)
	}
	p.shares[from.Key()] = held.Sub(held, amount)
	p.shares[to.Key()] = new(big.Int).Add(p.sharesLocked(to), amount)
	return nil
}

func (p *Pool) sharesLocked(holder crypto.Address) *big.Int {
	if v, ok := p.shares[holder.Key()]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}
