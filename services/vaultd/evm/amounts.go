package evm

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const bpsDenominator = 10_000

var (
	// ErrAmountOutOfRange rejects amounts that do not fit a uint256.
	ErrAmountOutOfRange = errors.New("evm: amount outside uint256 range")

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// toUint256 bounds-checks v before it is ABI packed.
func toUint256(v *big.Int) (*big.Int, error) {
	if v == nil {
		return new(big.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative %s", ErrAmountOutOfRange, v)
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrAmountOutOfRange, v)
	}
	return word.ToBig(), nil
}

// minimumOut applies a slippage tolerance in basis points to a quoted amount.
func minimumOut(quoted *big.Int, slippageBps uint64) *big.Int {
	if quoted == nil || quoted.Sign() <= 0 {
		return new(big.Int)
	}
	if slippageBps > bpsDenominator {
		slippageBps = bpsDenominator
	}
	out := new(big.Int).Mul(quoted, new(big.Int).SetUint64(bpsDenominator-slippageBps))
	return out.Quo(out, big.NewInt(bpsDenominator))
}
