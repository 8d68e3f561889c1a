package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"autocompounder/crypto"
	"autocompounder/native/vault"
)

var errForeignSender = errors.New("evm: transfers can only be sent from the custody account")

// Token adapts an ERC-20 contract to vault.Token. Transfers are sent from the
// transactor's custody account.
type Token struct {
	tx      *Transactor
	address common.Address
	symbol  string
}

var _ vault.Token = (*Token)(nil)

// NewToken binds the ERC-20 at address.
func NewToken(tx *Transactor, address common.Address, symbol string) *Token {
	return &Token{tx: tx, address: address, symbol: symbol}
}

// Address returns the token contract address.
func (t *Token) Address() common.Address { return t.address }

// BalanceOf implements vault.Token.
func (t *Token) BalanceOf(ctx context.Context, owner crypto.Address) (*big.Int, error) {
	return t.tx.callUint(ctx, erc20Contract, t.address, "balanceOf", owner.Common())
}

// TransferFrom pulls amount from an owner that approved the custody account.
// Allowance and balance are checked first so an obviously failing pull never
// costs gas.
func (t *Token) TransferFrom(ctx context.Context, from, to crypto.Address, amount *big.Int) error {
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	owner := from.Common()
	allowance, err := t.tx.callUint(ctx, erc20Contract, t.address, "allowance", owner, t.tx.From())
	if err != nil {
		return err
	}
	if allowance.Cmp(value) < 0 {
		return fmt.Errorf("%w: %s allowance %s below %s", vault.ErrTransferFailed, t.symbol, allowance, value)
	}
	balance, err := t.tx.callUint(ctx, erc20Contract, t.address, "balanceOf", owner)
	if err != nil {
		return err
	}
	if balance.Cmp(value) < 0 {
		return fmt.Errorf("%w: %s balance %s below %s", vault.ErrTransferFailed, t.symbol, balance, value)
	}
	_, err = t.tx.send(ctx, erc20Contract, t.address, "transferFrom", owner, to.Common(), value)
	return transferError(err)
}

// Transfer pays amount out of the custody account.
func (t *Token) Transfer(ctx context.Context, from, to crypto.Address, amount *big.Int) error {
	if from.Common() != t.tx.From() {
		return errForeignSender
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	_, err = t.tx.send(ctx, erc20Contract, t.address, "transfer", to.Common(), value)
	return transferError(err)
}

func transferError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrReverted) {
		return fmt.Errorf("%w: %v", vault.ErrTransferFailed, err)
	}
	return err
}
