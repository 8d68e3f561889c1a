package storage

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"autocompounder/core/events"
	"autocompounder/crypto"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	journal, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

func TestJournalRecordsEvents(t *testing.T) {
	journal := openTestJournal(t)
	user := crypto.NewAddress(crypto.AccountPrefix, make([]byte, 20))
	journal.Emit(events.VaultDeposit{User: user, Asset: "usdc", AmountStable: big.NewInt(100), AmountLP: big.NewInt(99)})
	journal.Emit(events.VaultWithdraw{User: user, Asset: "USDC", TotalStableReturned: big.NewInt(105), PrincipalStable: big.NewInt(100), RedeemedLP: big.NewInt(104)})

	all, err := journal.Events(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 events, got %d", len(all))
	}
	if all[0].Type != events.TypeVaultWithdraw {
		t.Fatalf("expected newest first, got %s", all[0].Type)
	}
	deposits, err := journal.Events(context.Background(), events.TypeVaultDeposit, 10)
	if err != nil {
		t.Fatalf("list deposits: %v", err)
	}
	if len(deposits) != 1 {
		t.Fatalf("expected 1 deposit, got %d", len(deposits))
	}
	if got := deposits[0].Attributes["amountStable"]; got != "100" {
		t.Fatalf("unexpected amount: %s", got)
	}
	if got := deposits[0].Attributes["asset"]; got != "USDC" {
		t.Fatalf("unexpected asset: %s", got)
	}
}

func TestJournalRecordsCycles(t *testing.T) {
	journal := openTestJournal(t)
	for i := uint64(1); i <= 3; i++ {
		err := journal.Record(context.Background(), events.VaultCompound{
			CycleID:     fmt.Sprintf("cycle-%d", i),
			Cycle:       i,
			Reward:      big.NewInt(int64(80 * i)),
			AddedStable: big.NewInt(int64(40 * i)),
			AddedLP:     big.NewInt(int64(40 * i)),
			Depositors:  2,
		})
		if err != nil {
			t.Fatalf("record cycle %d: %v", i, err)
		}
	}
	cycles, err := journal.Cycles(context.Background(), 2)
	if err != nil {
		t.Fatalf("list cycles: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("expected 2 cycles, got %d", len(cycles))
	}
	if cycles[0].Cycle != 3 || cycles[0].CycleID != "cycle-3" || cycles[0].AddedStable != "120" {
		t.Fatalf("unexpected latest cycle: %+v", cycles[0])
	}
	if cycles[1].Depositors != 2 {
		t.Fatalf("unexpected depositors: %d", cycles[1].Depositors)
	}
}

func TestJournalRejectsDuplicateCycle(t *testing.T) {
	journal := openTestJournal(t)
	evt := events.VaultCompound{CycleID: "dup", Cycle: 1, Reward: big.NewInt(1), AddedStable: big.NewInt(1), AddedLP: big.NewInt(1)}
	if err := journal.Record(context.Background(), evt); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := journal.Record(context.Background(), evt); err == nil {
		t.Fatalf("expected duplicate cycle id to be rejected")
	}
	all, err := journal.Events(context.Background(), events.TypeVaultCompound, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected rollback to drop the duplicate event, got %d", len(all))
	}
}

func TestJournalDigestChainDetectsTampering(t *testing.T) {
	journal := openTestJournal(t)
	user := crypto.NewAddress(crypto.AccountPrefix, make([]byte, 20))
	for i := int64(1); i <= 3; i++ {
		journal.Emit(events.VaultDeposit{User: user, Asset: "USDC", AmountStable: big.NewInt(100 * i), AmountLP: big.NewInt(100 * i)})
	}
	result, err := journal.Verify(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Intact || result.Events != 3 {
		t.Fatalf("expected intact chain of 3 events, got %+v", result)
	}
	latest, err := journal.Events(context.Background(), "", 1)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if result.Head != latest[0].Digest {
		t.Fatalf("chain head %s does not match latest digest %s", result.Head, latest[0].Digest)
	}

	if _, err := journal.db.Exec(`UPDATE vault_events SET attributes = ? WHERE id = 2`, `{"amountStable":"1"}`); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	result, err = journal.Verify(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Intact || result.BrokenAt != 2 {
		t.Fatalf("expected break at event 2, got %+v", result)
	}
}

func TestExportCyclesWritesParquet(t *testing.T) {
	journal := openTestJournal(t)
	for i := uint64(1); i <= 2; i++ {
		err := journal.Record(context.Background(), events.VaultCompound{
			CycleID:     fmt.Sprintf("export-%d", i),
			Cycle:       i,
			Reward:      big.NewInt(10),
			AddedStable: big.NewInt(5),
			AddedLP:     big.NewInt(5),
			Depositors:  1,
		})
		if err != nil {
			t.Fatalf("record cycle %d: %v", i, err)
		}
	}
	var buf bytes.Buffer
	rows, err := journal.ExportCycles(context.Background(), &buf)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if rows != 2 {
		t.Fatalf("expected 2 rows, got %d", rows)
	}
	data := buf.Bytes()
	if len(data) < 8 || !bytes.HasPrefix(data, []byte("PAR1")) || !bytes.HasSuffix(data, []byte("PAR1")) {
		t.Fatalf("output is not a parquet file (%d bytes)", len(data))
	}
}

func TestFileDSN(t *testing.T) {
	if _, err := FileDSN(" "); err != ErrPathRequired {
		t.Fatalf("expected ErrPathRequired, got %v", err)
	}
	dsn, err := FileDSN("vault.sqlite")
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	if !strings.HasPrefix(dsn, "file:/") || !strings.Contains(dsn, "_journal_mode=WAL") {
		t.Fatalf("unexpected dsn: %s", dsn)
	}
	if got, _ := FileDSN("file:x?mode=memory"); got != "file:x?mode=memory" {
		t.Fatalf("expected DSN passthrough, got %s", got)
	}
}
