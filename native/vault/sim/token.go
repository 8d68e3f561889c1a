package sim

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"autocompounder/crypto"
	"autocompounder/native/vault"
)

// Token is an in-memory fungible token with balances and allowances. The
// spender of TransferFrom is the recipient, which matches how the vault pulls
// deposits into custody.
type Token struct {
	faults

	mu         sync.Mutex
	symbol     string
	balances   map[string]*big.Int
	allowances map[string]map[string]*big.Int
	supply     *big.Int
}

// NewToken creates an empty token ledger.
func NewToken(symbol string) *Token {
	return &Token{
		symbol:     strings.ToUpper(strings.TrimSpace(symbol)),
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]map[string]*big.Int),
		supply:     big.NewInt(0),
	}
}

// Symbol returns the token symbol.
func (t *Token) Symbol() string { return t.symbol }

// Mint credits amount to the holder.
func (t *Token) Mint(to crypto.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(to, amount)
	t.supply.Add(t.supply, amount)
}

// Approve sets the allowance spender may pull from owner.
func (t *Token) Approve(owner, spender crypto.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	inner, ok := t.allowances[owner.Key()]
	if !ok {
		inner = make(map[string]*big.Int)
		t.allowances[owner.Key()] = inner
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	inner[spender.Key()] = new(big.Int).Set(amount)
}

// Allowance returns what spender may still pull from owner.
func (t *Token) Allowance(owner, spender crypto.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if inner, ok := t.allowances[owner.Key()]; ok {
		if v, ok := inner[spender.Key()]; ok {
			return new(big.Int).Set(v)
		}
	}
	return big.NewInt(0)
}

// Supply returns the total minted amount.
func (t *Token) Supply() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.supply)
}

// Balance returns the holder balance without a context.
func (t *Token) Balance(owner crypto.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balanceLocked(owner)
}

// BalanceOf implements vault.Token.
func (t *Token) BalanceOf(ctx context.Context, owner crypto.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.Balance(owner), nil
}

// TransferFrom implements vault.Token.
func (t *Token) TransferFrom(ctx context.Context, from, to crypto.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.take(OpTransferFrom); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	allowance := big.NewInt(0)
	if inner, ok := t.allowances[from.Key()]; ok {
		if v, ok := inner[to.Key()]; ok {
			allowance = v
		}
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allowance %s below %s", vault.ErrTransferFailed, t.symbol, allowance, amount)
	}
	if err := t.moveLocked(from, to, amount); err != nil {
		return err
	}
	if inner, ok := t.allowances[from.Key()]; ok {
		inner[to.Key()] = new(big.Int).Sub(allowance, amount)
	}
	return nil
}

// Transfer implements vault.Token.
func (t *Token) Transfer(ctx context.Context, from, to crypto.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.take(OpTransfer); err != nil {
		return err
	}
	return t.move(from, to, amount)
}

func (t *Token) move(from, to crypto.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.moveLocked(from, to, amount)
}

func (t *Token) moveLocked(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: invalid %s amount", vault.ErrTransferFailed, t.symbol)
	}
	balance := t.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s balance %s below %s", vault.ErrTransferFailed, t.symbol, balance, amount)
	}
	t.balances[from.Key()] = balance.Sub(balance, amount)
	t.credit(to, amount)
	return nil
}

func (t *Token) balanceLocked(owner crypto.Address) *big.Int {
	if v, ok := t.balances[owner.Key()]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func (t *Token) credit(to crypto.Address, amount *big.Int) {
	t.balances[to.Key()] = new(big.Int).Add(t.balanceLocked(to), amount)
}
