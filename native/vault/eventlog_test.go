package vault

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"autocompounder/core/events"
)

type countingEmitter struct{ count int }

func (c *countingEmitter) Emit(events.Event) { c.count++ }

func TestEventLogDropsOldestWhenFull(t *testing.T) {
	downstream := &countingEmitter{}
	log := NewEventLog(downstream, 3)
	for i := int64(1); i <= 5; i++ {
		log.Emit(events.VaultDeposit{AmountStable: big.NewInt(i)})
	}
	log.Emit(events.VaultCompound{Cycle: 9})

	got := log.Events()
	require.Len(t, got, 3)
	require.Equal(t, "4", got[0].(events.VaultDeposit).AmountStable.String())
	require.Equal(t, "5", got[1].(events.VaultDeposit).AmountStable.String())
	require.Equal(t, events.TypeVaultCompound, got[2].EventType())
	require.Len(t, log.Filter(events.TypeVaultDeposit), 2)
	require.Equal(t, 6, downstream.count, "downstream sees every event")
}

func TestEventLogDefaultSize(t *testing.T) {
	log := NewEventLog(nil, 0)
	for i := 0; i < DefaultEventLogSize+10; i++ {
		log.Emit(events.VaultCompound{Cycle: uint64(i)})
	}
	got := log.Events()
	require.Len(t, got, DefaultEventLogSize)
	require.Equal(t, uint64(10), got[0].(events.VaultCompound).Cycle)
}
