package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"autocompounder/native/vault"
)

var errUnknownToken = errors.New("evm: token not in router address book")

// RouterConfig binds a UniswapV2-compatible router and the tokens it may swap.
type RouterConfig struct {
	Router         common.Address
	Tokens         map[string]common.Address
	MaxSlippageBps uint64
	Deadline       time.Duration
}

// Router adapts a UniswapV2-compatible router to vault.Swapper. The minimum
// output is the router quote discounted by the slippage bound; a swap that
// cannot meet it reverts and is reported as ErrSlippageExceeded.
type Router struct {
	tx     *Transactor
	cfg    RouterConfig
	tokens map[string]common.Address
	clock  func() time.Time
}

var _ vault.Swapper = (*Router)(nil)

// NewRouter binds the router described by cfg.
func NewRouter(tx *Transactor, cfg RouterConfig) *Router {
	tokens := make(map[string]common.Address, len(cfg.Tokens))
	for symbol, addr := range cfg.Tokens {
		tokens[normalizeSymbol(symbol)] = addr
	}
	return &Router{tx: tx, cfg: cfg, tokens: tokens, clock: time.Now}
}

// Swap implements vault.Swapper.
func (r *Router) Swap(ctx context.Context, tokenIn, tokenOut string, amountIn *big.Int) (*big.Int, error) {
	amount, err := toUint256(amountIn)
	if err != nil {
		return nil, err
	}
	in, err := r.lookup(tokenIn)
	if err != nil {
		return nil, err
	}
	out, err := r.lookup(tokenOut)
	if err != nil {
		return nil, err
	}
	path := []common.Address{in, out}

	quotedOut, err := r.tx.call(ctx, routerContract, r.cfg.Router, "getAmountsOut", amount, path)
	if err != nil {
		return nil, err
	}
	amounts, ok := quotedOut[0].([]*big.Int)
	if !ok || len(amounts) != len(path) {
		return nil, fmt.Errorf("getAmountsOut returned %v", quotedOut)
	}
	quoted := amounts[len(amounts)-1]
	if quoted.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s %s quotes zero %s", vault.ErrInsufficientLiquidity, amount, tokenIn, tokenOut)
	}
	minimum := minimumOut(quoted, r.cfg.MaxSlippageBps)

	if err := r.tx.ensureAllowance(ctx, in, r.cfg.Router, amount); err != nil {
		return nil, err
	}
	received, err := r.tx.balanceDelta(ctx, out, r.tx.From(), func() error {
		_, err := r.tx.send(ctx, routerContract, r.cfg.Router, "swapExactTokensForTokens",
			amount, minimum, path, r.tx.From(), deadline(r.clock(), r.cfg.Deadline))
		if errors.Is(err, ErrReverted) {
			return fmt.Errorf("%w: minimum %s: %v", vault.ErrSlippageExceeded, minimum, err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return received, nil
}

func (r *Router) lookup(symbol string) (common.Address, error) {
	addr, ok := r.tokens[normalizeSymbol(symbol)]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", errUnknownToken, symbol)
	}
	return addr, nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
