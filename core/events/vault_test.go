package events

import (
	"math/big"
	"testing"

	"autocompounder/crypto"
)

func testUser(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func TestVaultDepositEvent(t *testing.T) {
	user := testUser(0x01)
	evt := VaultDeposit{
		User:         user,
		Asset:        "usdc",
		AmountStable: big.NewInt(100),
		AmountLP:     big.NewInt(98),
	}.Event()
	if evt.Type != TypeVaultDeposit {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["user"] != user.String() {
		t.Fatalf("unexpected user attr: %s", evt.Attributes["user"])
	}
	if evt.Attributes["asset"] != "USDC" {
		t.Fatalf("unexpected asset attr: %s", evt.Attributes["asset"])
	}
	if evt.Attributes["amountStable"] != "100" || evt.Attributes["amountLP"] != "98" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
}

func TestVaultWithdrawEventDefaultsNilAmounts(t *testing.T) {
	evt := VaultWithdraw{User: testUser(0x02)}.Event()
	if evt.Attributes["totalStableReturned"] != "0" {
		t.Fatalf("expected zero amount, got %s", evt.Attributes["totalStableReturned"])
	}
	if evt.Attributes["redeemedLP"] != "0" {
		t.Fatalf("expected zero lp, got %s", evt.Attributes["redeemedLP"])
	}
}

func TestVaultCompoundEvent(t *testing.T) {
	evt := VaultCompound{
		CycleID:     " 7f1c ",
		Cycle:       3,
		Reward:      big.NewInt(40),
		AddedStable: big.NewInt(12),
		AddedLP:     big.NewInt(11),
		Depositors:  2,
	}.Event()
	if evt.Attributes["cycleId"] != "7f1c" || evt.Attributes["cycle"] != "3" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["depositors"] != "2" {
		t.Fatalf("unexpected depositors: %s", evt.Attributes["depositors"])
	}
}

func TestMultiEmitterFansOut(t *testing.T) {
	var first, second recordingEmitter
	MultiEmitter{&first, nil, &second}.Emit(VaultCompound{Cycle: 1})
	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("expected fan out, got %d and %d", len(first.events), len(second.events))
	}
}

type recordingEmitter struct {
	events []Event
}

func (r *recordingEmitter) Emit(evt Event) { r.events = append(r.events, evt) }
