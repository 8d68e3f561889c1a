package vaultstate

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"autocompounder/native/vault"
	"autocompounder/native/vault/sim"
	"autocompounder/storage"
)

func TestStoreRecordsRoundTrip(t *testing.T) {
	store := New(storage.NewMemDB())
	alice, bob := sim.Account("alice"), sim.Account("bob")

	records, err := store.LoadRecords()
	require.NoError(t, err)
	require.Empty(t, records)

	require.NoError(t, store.PutRecord(&vault.DepositRecord{
		Address:          alice,
		PrincipalStable:  big.NewInt(100),
		PrincipalLP:      big.NewInt(98),
		CompoundedStable: big.NewInt(7),
		CompoundedLP:     big.NewInt(6),
	}))
	require.NoError(t, store.PutRecord(&vault.DepositRecord{Address: bob, PrincipalStable: big.NewInt(5)}))
	require.NoError(t, store.PutRecord(&vault.DepositRecord{
		Address:          alice,
		PrincipalStable:  big.NewInt(0),
		PrincipalLP:      big.NewInt(0),
		CompoundedStable: big.NewInt(0),
		CompoundedLP:     big.NewInt(0),
	}))

	records, err = store.LoadRecords()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.True(t, records[0].Address.Equal(alice))
	require.Zero(t, records[0].PrincipalStable.Sign())
	require.Equal(t, "5", records[1].PrincipalStable.String())
	require.Zero(t, records[1].CompoundedLP.Sign())

	require.Error(t, store.PutRecord(nil))
}

func TestStoreAggregateRoundTrip(t *testing.T) {
	store := New(storage.NewMemDB())
	_, found, err := store.LoadAggregate()
	require.NoError(t, err)
	require.False(t, found)

	agg := vault.Aggregate{
		TotalStakedLP:         big.NewInt(1_000),
		TotalPrincipalStable:  big.NewInt(900),
		TotalCompoundedStable: big.NewInt(120),
		TotalCompoundedLP:     big.NewInt(100),
		Cycles:                4,
		Carry:                 vault.Carry{Reward: big.NewInt(3), Stable: big.NewInt(0), LP: nil, LPStable: big.NewInt(2)},
	}
	require.NoError(t, store.PutAggregate(agg))

	loaded, found, err := store.LoadAggregate()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(4), loaded.Cycles)
	require.Equal(t, "1000", loaded.TotalStakedLP.String())
	require.Equal(t, "120", loaded.TotalCompoundedStable.String())
	require.Equal(t, "3", loaded.Carry.Reward.String())
	require.Equal(t, "0", loaded.Carry.LP.String())
	require.Equal(t, "2", loaded.Carry.LPStable.String())
}

func TestControllerRestartsFromLevelDB(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault")
	net := sim.NewNetwork(sim.DefaultConfig())

	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	deps := net.Dependencies()
	deps.Store = New(db)
	ctrl, err := vault.NewController(net.VaultConfig(), deps)
	require.NoError(t, err)

	user := sim.Account("alice")
	net.Fund(user, big.NewInt(250))
	_, _, err = ctrl.Deposit(ctx, user, big.NewInt(250))
	require.NoError(t, err)
	net.Staking.Advance(2)
	_, _, err = ctrl.Compound(ctx)
	require.NoError(t, err)
	before := ctrl.Info(user)
	db.Close()

	reopened, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	defer reopened.Close()
	deps.Store = New(reopened)
	restarted, err := vault.NewController(net.VaultConfig(), deps)
	require.NoError(t, err)
	require.NoError(t, restarted.Load(ctx))

	after := restarted.Info(user)
	require.Equal(t, before.PrincipalStable.String(), after.PrincipalStable.String())
	require.Equal(t, before.CompoundedStable.String(), after.CompoundedStable.String())
	require.Equal(t, before.CompoundedLP.String(), after.CompoundedLP.String())
	require.Equal(t, uint64(1), restarted.Aggregate().Cycles)

	returned, err := restarted.Withdraw(ctx, user)
	require.NoError(t, err)
	require.Zero(t, returned.Cmp(new(big.Int).Add(after.PrincipalStable, after.CompoundedStable)))
}
