package events

import (
	"math/big"
	"strconv"
	"strings"

	"autocompounder/core/types"
	"autocompounder/crypto"
)

const (
	// TypeVaultDeposit is emitted once per successful vault deposit.
	TypeVaultDeposit = "vault.deposit"
	// TypeVaultWithdraw is emitted once per successful vault withdrawal.
	TypeVaultWithdraw = "vault.withdraw"
	// TypeVaultCompound is emitted whenever a compounding cycle reinvests value.
	TypeVaultCompound = "vault.compound"
)

// VaultDeposit records stable asset entering the vault and the pool shares
// staked on the depositor's behalf.
type VaultDeposit struct {
	User         crypto.Address
	Asset        string
	AmountStable *big.Int
	AmountLP     *big.Int
}

func (VaultDeposit) EventType() string { return TypeVaultDeposit }

func (e VaultDeposit) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultDeposit,
		Attributes: map[string]string{
			"user":         e.User.String(),
			"asset":        normalizeAsset(e.Asset),
			"amountStable": amountString(e.AmountStable),
			"amountLP":     amountString(e.AmountLP),
		},
	}
}

// VaultWithdraw records a full exit of a depositor's position.
type VaultWithdraw struct {
	User                crypto.Address
	Asset               string
	TotalStableReturned *big.Int
	PrincipalStable     *big.Int
	RedeemedLP          *big.Int
}

func (VaultWithdraw) EventType() string { return TypeVaultWithdraw }

func (e VaultWithdraw) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultWithdraw,
		Attributes: map[string]string{
			"user":                e.User.String(),
			"asset":               normalizeAsset(e.Asset),
			"totalStableReturned": amountString(e.TotalStableReturned),
			"principalStable":     amountString(e.PrincipalStable),
			"redeemedLP":          amountString(e.RedeemedLP),
		},
	}
}

// VaultCompound summarises a harvest and reinvest cycle.
type VaultCompound struct {
	CycleID     string
	Cycle       uint64
	Reward      *big.Int
	AddedStable *big.Int
	AddedLP     *big.Int
	Depositors  int
}

func (VaultCompound) EventType() string { return TypeVaultCompound }

func (e VaultCompound) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultCompound,
		Attributes: map[string]string{
			"cycleId":     strings.TrimSpace(e.CycleID),
			"cycle":       strconv.FormatUint(e.Cycle, 10),
			"reward":      amountString(e.Reward),
			"addedStable": amountString(e.AddedStable),
			"addedLP":     amountString(e.AddedLP),
			"depositors":  strconv.Itoa(e.Depositors),
		},
	}
}
