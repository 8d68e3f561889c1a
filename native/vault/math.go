package vault

import (
	"math/big"
	"sort"
)

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// apportion splits amount across weights in proportion to weight/denominator
// using the largest-remainder method. Each share is floored first; the
// leftover units go one each to the entries with the largest remainders, ties
// resolved by lower index. The result always sums to amount.
func apportion(amount *big.Int, weights []*big.Int, denominator *big.Int) []*big.Int {
	shares := make([]*big.Int, len(weights))
	if len(weights) == 0 {
		return shares
	}
	if amount == nil || amount.Sign() == 0 || denominator == nil || denominator.Sign() == 0 {
		for i := range shares {
			shares[i] = big.NewInt(0)
		}
		return shares
	}

	remainders := make([]*big.Int, len(weights))
	allocated := big.NewInt(0)
	for i, weight := range weights {
		product := new(big.Int).Mul(amount, valueOrZero(weight))
		quo, rem := new(big.Int).QuoRem(product, denominator, new(big.Int))
		shares[i] = quo
		remainders[i] = rem
		allocated.Add(allocated, quo)
	}

	leftover := new(big.Int).Sub(amount, allocated)
	if leftover.Sign() <= 0 {
		return shares
	}

	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		cmp := remainders[order[a]].Cmp(remainders[order[b]])
		if cmp != 0 {
			return cmp > 0
		}
		return order[a] < order[b]
	})

	one := big.NewInt(1)
	for _, idx := range order {
		if leftover.Sign() == 0 {
			break
		}
		shares[idx].Add(shares[idx], one)
		leftover.Sub(leftover, one)
	}
	return shares
}

func sumBigInts(values []*big.Int) *big.Int {
	total := big.NewInt(0)
	for _, v := range values {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}
