package vault

import (
	"math/big"
	"testing"

	"autocompounder/crypto"
)

func testAddr(b byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func ints(values ...int64) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = big.NewInt(v)
	}
	return out
}

func TestApportionLargestRemainder(t *testing.T) {
	cases := []struct {
		name    string
		amount  int64
		weights []int64
		want    []int64
	}{
		{name: "even", amount: 9, weights: []int64{1, 1, 1}, want: []int64{3, 3, 3}},
		{name: "tie goes to lower index", amount: 10, weights: []int64{1, 1, 1}, want: []int64{4, 3, 3}},
		{name: "largest remainder wins", amount: 10, weights: []int64{1, 2}, want: []int64{3, 7}},
		{name: "weighted", amount: 100, weights: []int64{100, 50}, want: []int64{67, 33}},
		{name: "zero amount", amount: 0, weights: []int64{5, 5}, want: []int64{0, 0}},
		{name: "dust", amount: 1, weights: []int64{1, 1, 1}, want: []int64{1, 0, 0}},
	}
	for _, tc := range cases {
		weights := ints(tc.weights...)
		total := sumBigInts(weights)
		got := apportion(big.NewInt(tc.amount), weights, total)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: expected %d shares, got %d", tc.name, len(tc.want), len(got))
		}
		for i := range got {
			if got[i].Int64() != tc.want[i] {
				t.Fatalf("%s: share %d = %s, want %d", tc.name, i, got[i], tc.want[i])
			}
		}
		if sumBigInts(got).Int64() != tc.amount {
			t.Fatalf("%s: shares do not sum to %d", tc.name, tc.amount)
		}
	}
}

func TestRecordDepositAccumulates(t *testing.T) {
	ledger := NewUserLedger()
	user := testAddr(1)
	if err := ledger.RecordDeposit(user, big.NewInt(100), big.NewInt(98)); err != nil {
		t.Fatalf("record deposit: %v", err)
	}
	if err := ledger.RecordDeposit(user, big.NewInt(50), big.NewInt(49)); err != nil {
		t.Fatalf("record deposit: %v", err)
	}
	info := ledger.Info(user)
	if info.PrincipalStable.Int64() != 150 || info.PrincipalLP.Int64() != 147 {
		t.Fatalf("unexpected position %+v", info)
	}
	if ledger.TotalPrincipal().Int64() != 150 {
		t.Fatalf("total principal %s", ledger.TotalPrincipal())
	}
	if ledger.Depositors() != 1 {
		t.Fatalf("expected one depositor, got %d", ledger.Depositors())
	}
}

func TestRecordDepositRejectsInvalidAmounts(t *testing.T) {
	ledger := NewUserLedger()
	user := testAddr(1)
	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		if err := ledger.RecordDeposit(user, amount, big.NewInt(1)); err != ErrInvalidAmount {
			t.Fatalf("amount %v: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	if err := ledger.RecordDeposit(user, big.NewInt(1), big.NewInt(-1)); err != ErrInvalidAmount {
		t.Fatalf("negative lp: expected ErrInvalidAmount, got %v", err)
	}
	if _, ok := ledger.Record(user); ok {
		t.Fatalf("rejected deposits must not create a record")
	}
}

func TestDistributeYieldProportional(t *testing.T) {
	ledger := NewUserLedger()
	alice, bob, carol := testAddr(1), testAddr(2), testAddr(3)
	mustDeposit(t, ledger, alice, 300, 300)
	mustDeposit(t, ledger, bob, 100, 100)
	mustDeposit(t, ledger, carol, 100, 100)
	if _, err := ledger.WithdrawAll(carol); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	allocations, err := ledger.DistributeYield(big.NewInt(1001), big.NewInt(403))
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if len(allocations) != 2 {
		t.Fatalf("withdrawn users must not receive yield, got %d allocations", len(allocations))
	}
	if !allocations[0].Address.Equal(alice) || allocations[0].Stable.Int64() != 751 || allocations[0].LP.Int64() != 302 {
		t.Fatalf("unexpected alice allocation %+v", allocations[0])
	}
	if allocations[1].Stable.Int64() != 250 || allocations[1].LP.Int64() != 101 {
		t.Fatalf("unexpected bob allocation %+v", allocations[1])
	}
	if info := ledger.Info(carol); !info.IsZero() {
		t.Fatalf("carol should stay zeroed, got %+v", info)
	}
	if info := ledger.Info(alice); info.CompoundedStable.Int64() != 751 || info.PrincipalStable.Int64() != 300 {
		t.Fatalf("principal must not change on distribution: %+v", info)
	}
}

func TestDistributeYieldEdgeCases(t *testing.T) {
	ledger := NewUserLedger()
	if _, err := ledger.DistributeYield(big.NewInt(10), big.NewInt(10)); err != ErrNoDepositors {
		t.Fatalf("expected ErrNoDepositors, got %v", err)
	}
	allocations, err := ledger.DistributeYield(big.NewInt(0), nil)
	if err != nil || allocations != nil {
		t.Fatalf("zero yield must be a no-op, got %v %v", allocations, err)
	}
	mustDeposit(t, ledger, testAddr(1), 10, 10)
	if _, err := ledger.DistributeYield(big.NewInt(-1), big.NewInt(0)); err != errNegativeYield {
		t.Fatalf("expected errNegativeYield, got %v", err)
	}
}

func TestWithdrawAllZeroesRecord(t *testing.T) {
	ledger := NewUserLedger()
	user := testAddr(7)
	mustDeposit(t, ledger, user, 100, 100)
	if _, err := ledger.DistributeYield(big.NewInt(5), big.NewInt(4)); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	preview, err := ledger.Preview(user)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	settlement, err := ledger.WithdrawAll(user)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if settlement.StableOwed.Int64() != 105 || settlement.LPOwed.Int64() != 104 {
		t.Fatalf("unexpected settlement %+v", settlement)
	}
	if preview.StableOwed.Cmp(settlement.StableOwed) != 0 || preview.LPOwed.Cmp(settlement.LPOwed) != 0 {
		t.Fatalf("preview %+v differs from settlement %+v", preview, settlement)
	}
	if !ledger.Info(user).IsZero() || ledger.TotalPrincipal().Sign() != 0 {
		t.Fatalf("record not zeroed")
	}
	if _, ok := ledger.Record(user); !ok {
		t.Fatalf("withdrawn record should be retained")
	}
	if _, err := ledger.WithdrawAll(user); err != ErrNoDeposit {
		t.Fatalf("expected ErrNoDeposit, got %v", err)
	}
	if _, err := ledger.WithdrawAll(testAddr(8)); err != ErrNoDeposit {
		t.Fatalf("unknown user: expected ErrNoDeposit, got %v", err)
	}
}

func TestRebaseLPKeepsSplit(t *testing.T) {
	ledger := NewUserLedger()
	user := testAddr(3)
	mustDeposit(t, ledger, user, 100, 80)
	if _, err := ledger.DistributeYield(big.NewInt(25), big.NewInt(20)); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if err := ledger.RebaseLP(user, big.NewInt(50)); err != nil {
		t.Fatalf("rebase: %v", err)
	}
	info := ledger.Info(user)
	if info.PrincipalLP.Int64() != 40 || info.CompoundedLP.Int64() != 10 {
		t.Fatalf("unexpected lp split %+v", info)
	}
	if info.PrincipalStable.Int64() != 100 || info.CompoundedStable.Int64() != 25 {
		t.Fatalf("stable fields must not change: %+v", info)
	}
}

func TestRestoreRebuildsTotals(t *testing.T) {
	source := NewUserLedger()
	mustDeposit(t, source, testAddr(2), 40, 40)
	mustDeposit(t, source, testAddr(1), 60, 60)
	records := source.Records()
	if !records[0].Address.Equal(testAddr(1)) {
		t.Fatalf("records must be ordered by address")
	}

	restored := NewUserLedger()
	if err := restored.Restore(records); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.TotalPrincipal().Int64() != 100 {
		t.Fatalf("total principal %s", restored.TotalPrincipal())
	}
	records[0].PrincipalStable.SetInt64(999)
	if restored.Info(testAddr(1)).PrincipalStable.Int64() != 60 {
		t.Fatalf("restore must copy records")
	}

	bad := []*DepositRecord{{Address: testAddr(9), PrincipalStable: big.NewInt(-1)}}
	if err := restored.Restore(bad); err == nil {
		t.Fatalf("expected negative balance to be rejected")
	}
}

func mustDeposit(t *testing.T, ledger *UserLedger, user crypto.Address, stable, lp int64) {
	t.Helper()
	if err := ledger.RecordDeposit(user, big.NewInt(stable), big.NewInt(lp)); err != nil {
		t.Fatalf("record deposit: %v", err)
	}
}
