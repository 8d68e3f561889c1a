package vault

import (
	"math/big"
	"strings"

	"autocompounder/crypto"
)

// DepositRecord is the ledger entry for a single depositor. Stable amounts are
// in stable-asset base units, LP amounts in pool-share base units.
type DepositRecord struct {
	// Address identifies the depositor.
	Address crypto.Address
	// PrincipalStable is the stable asset deposited and not yet withdrawn.
	PrincipalStable *big.Int
	// PrincipalLP is the pool-share amount minted for the principal.
	PrincipalLP *big.Int
	// CompoundedStable is the stable-asset value of reinvested yield
	// attributed to the depositor.
	CompoundedStable *big.Int
	// CompoundedLP is the pool-share amount minted from reinvested yield and
	// attributed to the depositor.
	CompoundedLP *big.Int
}

func newDepositRecord(addr crypto.Address) *DepositRecord {
	return &DepositRecord{
		Address:          addr,
		PrincipalStable:  big.NewInt(0),
		PrincipalLP:      big.NewInt(0),
		CompoundedStable: big.NewInt(0),
		CompoundedLP:     big.NewInt(0),
	}
}

// Clone returns a deep copy of the record.
func (r *DepositRecord) Clone() *DepositRecord {
	if r == nil {
		return nil
	}
	return &DepositRecord{
		Address:          r.Address,
		PrincipalStable:  copyBigInt(r.PrincipalStable),
		PrincipalLP:      copyBigInt(r.PrincipalLP),
		CompoundedStable: copyBigInt(r.CompoundedStable),
		CompoundedLP:     copyBigInt(r.CompoundedLP),
	}
}

// Active reports whether any balance remains on the record.
func (r *DepositRecord) Active() bool {
	if r == nil {
		return false
	}
	return positive(r.PrincipalStable) || positive(r.PrincipalLP) ||
		positive(r.CompoundedStable) || positive(r.CompoundedLP)
}

// TotalStable returns principal plus compounded stable value.
func (r *DepositRecord) TotalStable() *big.Int {
	if r == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Add(valueOrZero(r.PrincipalStable), valueOrZero(r.CompoundedStable))
}

// TotalLP returns principal plus compounded pool shares.
func (r *DepositRecord) TotalLP() *big.Int {
	if r == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Add(valueOrZero(r.PrincipalLP), valueOrZero(r.CompoundedLP))
}

func (r *DepositRecord) normalise() {
	r.PrincipalStable = copyBigInt(r.PrincipalStable)
	r.PrincipalLP = copyBigInt(r.PrincipalLP)
	r.CompoundedStable = copyBigInt(r.CompoundedStable)
	r.CompoundedLP = copyBigInt(r.CompoundedLP)
}

// PositionInfo is the read-only view of a depositor's position, ordered as
// (principal stable, compounded stable, principal LP, compounded LP).
type PositionInfo struct {
	PrincipalStable  *big.Int `json:"principalStable"`
	CompoundedStable *big.Int `json:"compoundedStable"`
	PrincipalLP      *big.Int `json:"principalLP"`
	CompoundedLP     *big.Int `json:"compoundedLP"`
}

func zeroPosition() PositionInfo {
	return PositionInfo{
		PrincipalStable:  big.NewInt(0),
		CompoundedStable: big.NewInt(0),
		PrincipalLP:      big.NewInt(0),
		CompoundedLP:     big.NewInt(0),
	}
}

// IsZero reports whether every field of the position is zero.
func (p PositionInfo) IsZero() bool {
	return !positive(p.PrincipalStable) && !positive(p.CompoundedStable) &&
		!positive(p.PrincipalLP) && !positive(p.CompoundedLP)
}

// Settlement is what a full withdrawal owes a depositor.
type Settlement struct {
	Address         crypto.Address
	StableOwed      *big.Int
	LPOwed          *big.Int
	PrincipalStable *big.Int
	PrincipalLP     *big.Int
}

// Allocation is a single depositor's share of one compounding cycle.
type Allocation struct {
	Address crypto.Address
	Stable  *big.Int
	LP      *big.Int
}

// Carry holds vault-custodied value harvested by a cycle that failed part way
// and has not been attributed to any depositor yet. The next cycle retries it
// before claiming anything new on top.
type Carry struct {
	// Reward is claimed reward token awaiting a swap.
	Reward *big.Int
	// Stable is swapped stable asset awaiting a pool deposit.
	Stable *big.Int
	// LP is minted pool shares awaiting staking.
	LP *big.Int
	// LPStable is the stable value that produced LP.
	LPStable *big.Int
}

func (c Carry) clone() Carry {
	return Carry{
		Reward:   copyBigInt(c.Reward),
		Stable:   copyBigInt(c.Stable),
		LP:       copyBigInt(c.LP),
		LPStable: copyBigInt(c.LPStable),
	}
}

// Equal reports whether both carries park the same amounts. Nil counts as
// zero.
func (c Carry) Equal(other Carry) bool {
	return valueOrZero(c.Reward).Cmp(valueOrZero(other.Reward)) == 0 &&
		valueOrZero(c.Stable).Cmp(valueOrZero(other.Stable)) == 0 &&
		valueOrZero(c.LP).Cmp(valueOrZero(other.LP)) == 0 &&
		valueOrZero(c.LPStable).Cmp(valueOrZero(other.LPStable)) == 0
}

// Empty reports whether nothing is carried over.
func (c Carry) Empty() bool {
	return !positive(c.Reward) && !positive(c.Stable) && !positive(c.LP)
}

// Aggregate is the vault-wide accounting state.
type Aggregate struct {
	// TotalStakedLP is the pool-share amount staked and attributed to
	// depositors. It equals the sum of PrincipalLP+CompoundedLP across records.
	TotalStakedLP *big.Int
	// TotalPrincipalStable is the sum of depositor principal.
	TotalPrincipalStable *big.Int
	// TotalCompoundedStable is the cumulative stable value reinvested.
	TotalCompoundedStable *big.Int
	// TotalCompoundedLP is the cumulative pool shares minted from yield.
	TotalCompoundedLP *big.Int
	// Cycles counts compounding cycles that reinvested value.
	Cycles uint64
	Carry  Carry
}

func newAggregate() Aggregate {
	return Aggregate{
		TotalStakedLP:         big.NewInt(0),
		TotalPrincipalStable:  big.NewInt(0),
		TotalCompoundedStable: big.NewInt(0),
		TotalCompoundedLP:     big.NewInt(0),
		Carry: Carry{
			Reward:   big.NewInt(0),
			Stable:   big.NewInt(0),
			LP:       big.NewInt(0),
			LPStable: big.NewInt(0),
		},
	}
}

// Clone returns a deep copy of the aggregate.
func (a Aggregate) Clone() Aggregate {
	return Aggregate{
		TotalStakedLP:         copyBigInt(a.TotalStakedLP),
		TotalPrincipalStable:  copyBigInt(a.TotalPrincipalStable),
		TotalCompoundedStable: copyBigInt(a.TotalCompoundedStable),
		TotalCompoundedLP:     copyBigInt(a.TotalCompoundedLP),
		Cycles:                a.Cycles,
		Carry:                 a.Carry.clone(),
	}
}

// Valuation compares depositor claims against what the staked position would
// redeem for.
type Valuation struct {
	Claims        *big.Int `json:"claims"`
	Redeemable    *big.Int `json:"redeemable"`
	TotalStakedLP *big.Int `json:"totalStakedLP"`
	Solvent       bool     `json:"solvent"`
}

// Config captures the static parameters of a vault deployment.
type Config struct {
	// Custody is the account holding stable asset between external calls.
	Custody crypto.Address
	// StableAsset is the deposit and payout asset symbol.
	StableAsset string
	// RewardAsset is the staking reward token symbol.
	RewardAsset string
	// MinDeposit rejects deposits strictly below this amount when set.
	MinDeposit *big.Int
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if len(c.Custody.Bytes()) == 0 {
		return errInvalidCustody
	}
	if strings.TrimSpace(c.StableAsset) == "" || strings.TrimSpace(c.RewardAsset) == "" {
		return errAssetNotConfigured
	}
	if c.MinDeposit != nil && c.MinDeposit.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}
