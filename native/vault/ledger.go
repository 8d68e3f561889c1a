package vault

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"autocompounder/crypto"
)

// UserLedger maps depositors to their records and is the only writer of
// DepositRecord fields. It is not safe for concurrent use; the controller
// serialises access.
type UserLedger struct {
	records        map[string]*DepositRecord
	totalPrincipal *big.Int
}

// NewUserLedger constructs an empty ledger.
func NewUserLedger() *UserLedger {
	return &UserLedger{
		records:        make(map[string]*DepositRecord),
		totalPrincipal: big.NewInt(0),
	}
}

// RecordDeposit credits principal to user, creating the record on first use.
func (l *UserLedger) RecordDeposit(user crypto.Address, amountStable, amountLP *big.Int) error {
	if l == nil {
		return errNilLedger
	}
	if !positive(amountStable) {
		return ErrInvalidAmount
	}
	if amountLP == nil || amountLP.Sign() < 0 {
		return ErrInvalidAmount
	}
	record, ok := l.records[user.Key()]
	if !ok {
		record = newDepositRecord(user)
		l.records[user.Key()] = record
	}
	record.PrincipalStable = new(big.Int).Add(record.PrincipalStable, amountStable)
	record.PrincipalLP = new(big.Int).Add(record.PrincipalLP, amountLP)
	l.totalPrincipal = new(big.Int).Add(l.totalPrincipal, amountStable)
	return nil
}

// DistributeYield apportions newly compounded value across every depositor
// with positive principal, in proportion to their share of total principal.
// Each total is split with the largest-remainder method so per-user
// increments sum exactly to the input. The returned allocations are ordered by
// address bytes.
func (l *UserLedger) DistributeYield(totalStable, totalLP *big.Int) ([]Allocation, error) {
	if l == nil {
		return nil, errNilLedger
	}
	if (totalStable != nil && totalStable.Sign() < 0) || (totalLP != nil && totalLP.Sign() < 0) {
		return nil, errNegativeYield
	}
	if !positive(totalStable) && !positive(totalLP) {
		return nil, nil
	}
	active := l.activeRecords()
	if len(active) == 0 || l.totalPrincipal.Sign() == 0 {
		return nil, ErrNoDepositors
	}

	weights := make([]*big.Int, len(active))
	for i, record := range active {
		weights[i] = record.PrincipalStable
	}
	stableShares := apportion(totalStable, weights, l.totalPrincipal)
	lpShares := apportion(totalLP, weights, l.totalPrincipal)
	if sumBigInts(stableShares).Cmp(valueOrZero(totalStable)) != 0 ||
		sumBigInts(lpShares).Cmp(valueOrZero(totalLP)) != 0 {
		return nil, errDistributionMismatch
	}

	allocations := make([]Allocation, len(active))
	for i, record := range active {
		record.CompoundedStable = new(big.Int).Add(record.CompoundedStable, stableShares[i])
		record.CompoundedLP = new(big.Int).Add(record.CompoundedLP, lpShares[i])
		allocations[i] = Allocation{
			Address: record.Address,
			Stable:  new(big.Int).Set(stableShares[i]),
			LP:      new(big.Int).Set(lpShares[i]),
		}
	}
	return allocations, nil
}

// Preview reports what WithdrawAll would return without mutating the ledger.
func (l *UserLedger) Preview(user crypto.Address) (Settlement, error) {
	if l == nil {
		return Settlement{}, errNilLedger
	}
	record, ok := l.records[user.Key()]
	if !ok || !record.Active() {
		return Settlement{}, ErrNoDeposit
	}
	return Settlement{
		Address:         record.Address,
		StableOwed:      record.TotalStable(),
		LPOwed:          record.TotalLP(),
		PrincipalStable: copyBigInt(record.PrincipalStable),
		PrincipalLP:     copyBigInt(record.PrincipalLP),
	}, nil
}

// WithdrawAll zeroes the user's record and returns what it held. The record
// itself is kept so a later deposit re-enters the same position.
func (l *UserLedger) WithdrawAll(user crypto.Address) (Settlement, error) {
	settlement, err := l.Preview(user)
	if err != nil {
		return Settlement{}, err
	}
	record := l.records[user.Key()]
	l.totalPrincipal = new(big.Int).Sub(l.totalPrincipal, record.PrincipalStable)
	if l.totalPrincipal.Sign() < 0 {
		return Settlement{}, fmt.Errorf("vault: principal underflow withdrawing %s", user)
	}
	record.PrincipalStable = big.NewInt(0)
	record.PrincipalLP = big.NewInt(0)
	record.CompoundedStable = big.NewInt(0)
	record.CompoundedLP = big.NewInt(0)
	return settlement, nil
}

// RebaseLP rescales the user's pool-share fields so they sum to totalLP,
// preserving the principal/compounded split. Stable fields are untouched.
func (l *UserLedger) RebaseLP(user crypto.Address, totalLP *big.Int) error {
	if l == nil {
		return errNilLedger
	}
	if totalLP == nil || totalLP.Sign() < 0 {
		return ErrInvalidAmount
	}
	record, ok := l.records[user.Key()]
	if !ok || !record.Active() {
		return ErrNoDeposit
	}
	current := record.TotalLP()
	if current.Sign() == 0 {
		record.PrincipalLP = new(big.Int).Set(totalLP)
		record.CompoundedLP = big.NewInt(0)
		return nil
	}
	principal := new(big.Int).Mul(record.PrincipalLP, totalLP)
	principal.Quo(principal, current)
	record.PrincipalLP = principal
	record.CompoundedLP = new(big.Int).Sub(totalLP, principal)
	return nil
}

// Info returns the user's position. Unknown and fully withdrawn users read as
// all zeros.
func (l *UserLedger) Info(user crypto.Address) PositionInfo {
	if l == nil {
		return zeroPosition()
	}
	record, ok := l.records[user.Key()]
	if !ok {
		return zeroPosition()
	}
	return PositionInfo{
		PrincipalStable:  copyBigInt(record.PrincipalStable),
		CompoundedStable: copyBigInt(record.CompoundedStable),
		PrincipalLP:      copyBigInt(record.PrincipalLP),
		CompoundedLP:     copyBigInt(record.CompoundedLP),
	}
}

// Record returns a copy of the user's record when one exists.
func (l *UserLedger) Record(user crypto.Address) (*DepositRecord, bool) {
	if l == nil {
		return nil, false
	}
	record, ok := l.records[user.Key()]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// TotalPrincipal returns the sum of active principal.
func (l *UserLedger) TotalPrincipal() *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(l.totalPrincipal)
}

// Depositors counts records with positive principal.
func (l *UserLedger) Depositors() int {
	return len(l.activeRecords())
}

// Records returns copies of every record, including zeroed ones, ordered by
// address bytes.
func (l *UserLedger) Records() []*DepositRecord {
	if l == nil {
		return nil
	}
	out := make([]*DepositRecord, 0, len(l.records))
	for _, record := range l.sorted() {
		out = append(out, record.Clone())
	}
	return out
}

// Totals sums stable claims and pool shares across every record.
func (l *UserLedger) Totals() (stable *big.Int, lp *big.Int) {
	stable, lp = big.NewInt(0), big.NewInt(0)
	if l == nil {
		return stable, lp
	}
	for _, record := range l.records {
		stable.Add(stable, record.TotalStable())
		lp.Add(lp, record.TotalLP())
	}
	return stable, lp
}

// Restore replaces the ledger contents with persisted records.
func (l *UserLedger) Restore(records []*DepositRecord) error {
	if l == nil {
		return errNilLedger
	}
	restored := make(map[string]*DepositRecord, len(records))
	total := big.NewInt(0)
	for _, record := range records {
		if record == nil {
			continue
		}
		if len(record.Address.Bytes()) == 0 {
			return fmt.Errorf("vault: restore record without address")
		}
		clone := record.Clone()
		clone.normalise()
		for _, v := range []*big.Int{clone.PrincipalStable, clone.PrincipalLP, clone.CompoundedStable, clone.CompoundedLP} {
			if v.Sign() < 0 {
				return fmt.Errorf("vault: restore negative balance for %s", clone.Address)
			}
		}
		restored[clone.Address.Key()] = clone
		total.Add(total, clone.PrincipalStable)
	}
	l.records = restored
	l.totalPrincipal = total
	return nil
}

func (l *UserLedger) sorted() []*DepositRecord {
	out := make([]*DepositRecord, 0, len(l.records))
	for _, record := range l.records {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address.Bytes(), out[j].Address.Bytes()) < 0
	})
	return out
}

func (l *UserLedger) activeRecords() []*DepositRecord {
	if l == nil {
		return nil
	}
	out := make([]*DepositRecord, 0, len(l.records))
	for _, record := range l.sorted() {
		if positive(record.PrincipalStable) {
			out = append(out, record)
		}
	}
	return out
}
