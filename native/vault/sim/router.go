package sim

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"autocompounder/crypto"
	"autocompounder/native/vault"
)

var errUnknownToken = errors.New("sim: unknown router token")

// Router is a constant-product pair router. Reserves are the router account's
// balances of each listed token.
type Router struct {
	faults

	mu             sync.Mutex
	tokens         map[string]*Token
	account        crypto.Address
	owner          crypto.Address
	feeBps         uint64
	maxSlippageBps uint64
}

// NewRouter lists tokens and swaps on behalf of owner.
func NewRouter(account, owner crypto.Address, feeBps, maxSlippageBps uint64, tokens ...*Token) *Router {
	listed := make(map[string]*Token, len(tokens))
	for _, token := range tokens {
		listed[token.Symbol()] = token
	}
	return &Router{
		tokens:         listed,
		account:        account,
		owner:          owner,
		feeBps:         clampBps(feeBps),
		maxSlippageBps: clampBps(maxSlippageBps),
	}
}

// SetMaxSlippage changes the accepted deviation from the spot rate.
func (r *Router) SetMaxSlippage(bps uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxSlippageBps = clampBps(bps)
}

// AddLiquidity mints reserves for a listed token.
func (r *Router) AddLiquidity(symbol string, amount *big.Int) error {
	token, err := r.token(symbol)
	if err != nil {
		return err
	}
	token.Mint(r.account, amount)
	return nil
}

// Reserve returns the router's balance of symbol.
func (r *Router) Reserve(symbol string) *big.Int {
	token, err := r.token(symbol)
	if err != nil {
		return big.NewInt(0)
	}
	return token.Balance(r.account)
}

// Quote returns the output for amountIn at current reserves.
func (r *Router) Quote(tokenIn, tokenOut string, amountIn *big.Int) (*big.Int, error) {
	in, err := r.token(tokenIn)
	if err != nil {
		return nil, err
	}
	out, err := r.token(tokenOut)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	amountOut, _ := r.quoteLocked(in.Balance(r.account), out.Balance(r.account), amountIn)
	return amountOut, nil
}

// Swap implements vault.Swapper.
func (r *Router) Swap(ctx context.Context, tokenIn, tokenOut string, amountIn *big.Int) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.take(OpSwap); err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, vault.ErrInvalidAmount
	}
	in, err := r.token(tokenIn)
	if err != nil {
		return nil, err
	}
	out, err := r.token(tokenOut)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	reserveIn, reserveOut := in.Balance(r.account), out.Balance(r.account)
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, fmt.Errorf("%w: empty %s/%s reserves", vault.ErrInsufficientLiquidity, in.Symbol(), out.Symbol())
	}
	amountOut, spot := r.quoteLocked(reserveIn, reserveOut, amountIn)
	floor := new(big.Int).Mul(spot, big.NewInt(int64(bpsDenominator-r.maxSlippageBps)))
	if new(big.Int).Mul(amountOut, big.NewInt(bpsDenominator)).Cmp(floor) < 0 {
		return nil, fmt.Errorf("%w: %s %s for %s %s, spot %s", vault.ErrSlippageExceeded,
			amountOut, out.Symbol(), amountIn, in.Symbol(), spot)
	}
	if err := in.move(r.owner, r.account, amountIn); err != nil {
		return nil, err
	}
	if err := out.move(r.account, r.owner, amountOut); err != nil {
		// Return the input so the caller keeps custody of it.
		_ = in.move(r.account, r.owner, amountIn)
		return nil, err
	}
	return amountOut, nil
}

// quoteLocked returns the constant-product output after fees and the spot
// output at the pre-trade price.
func (r *Router) quoteLocked(reserveIn, reserveOut, amountIn *big.Int) (*big.Int, *big.Int) {
	if reserveIn.Sign() == 0 || amountIn == nil || amountIn.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	withFee := new(big.Int).Mul(amountIn, big.NewInt(int64(bpsDenominator-r.feeBps)))
	numerator := new(big.Int).Mul(withFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(bpsDenominator))
	denominator.Add(denominator, withFee)
	amountOut := numerator.Quo(numerator, denominator)

	spot := new(big.Int).Mul(amountIn, reserveOut)
	spot.Quo(spot, reserveIn)
	return amountOut, spot
}

func clampBps(bps uint64) uint64 {
	if bps > bpsDenominator {
		return bpsDenominator
	}
	return bps
}

func (r *Router) token(symbol string) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownToken, symbol)
	}
	return token, nil
}
