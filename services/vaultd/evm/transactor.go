// Package evm adapts the vault collaborators to contracts on an EVM chain: an
// ERC-20 stable token, a Wombat-style pool, a MasterWombat-style farm and a
// UniswapV2-compatible router.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrReverted marks a mined transaction whose receipt reports failure.
var ErrReverted = errors.New("evm: transaction reverted")

// Backend is the subset of the Ethereum RPC the adapters use.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Dial initialises an RPC client for endpoint.
func Dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.DialContext(ctx, trimmed)
}

// TransactorConfig tunes transaction submission.
type TransactorConfig struct {
	ChainID        *big.Int
	GasLimit       uint64
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
	Logger         *slog.Logger
}

// Transactor signs legacy EIP-155 transactions with the custody key and waits
// for their receipts. Submissions are serialised so nonces never collide.
type Transactor struct {
	backend        Backend
	key            *ecdsa.PrivateKey
	from           common.Address
	signer         gethtypes.Signer
	gasLimit       uint64
	pollInterval   time.Duration
	receiptTimeout time.Duration
	logger         *slog.Logger
	mu             sync.Mutex
}

// NewTransactor constructs a transactor for key on the configured chain.
func NewTransactor(backend Backend, key *ecdsa.PrivateKey, cfg TransactorConfig) (*Transactor, error) {
	if backend == nil {
		return nil, fmt.Errorf("evm backend required")
	}
	if key == nil {
		return nil, fmt.Errorf("signing key required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transactor{
		backend:        backend,
		key:            key,
		from:           gethcrypto.PubkeyToAddress(key.PublicKey),
		signer:         gethtypes.NewEIP155Signer(cfg.ChainID),
		gasLimit:       cfg.GasLimit,
		pollInterval:   cfg.PollInterval,
		receiptTimeout: cfg.ReceiptTimeout,
		logger:         logger,
	}, nil
}

// From returns the custody account that signs every transaction.
func (t *Transactor) From() common.Address {
	return t.from
}

// call executes a read-only method and unpacks its outputs.
func (t *Transactor) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := t.backend.CallContract(ctx, ethereum.CallMsg{From: t.from, To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// callUint returns the first output of a method returning uint256.
func (t *Transactor) callUint(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	out, err := t.call(ctx, contract, to, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", method, out[0])
	}
	return value, nil
}

// send packs, signs and submits a method call, then waits for its receipt.
func (t *Transactor) send(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) (*gethtypes.Receipt, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	nonce, err := t.backend.PendingNonceAt(ctx, t.from)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gas := t.gasLimit
	if gas == 0 {
		gas, err = t.backend.EstimateGas(ctx, ethereum.CallMsg{From: t.from, To: &to, Data: data})
		if err != nil {
			return nil, fmt.Errorf("estimate %s: %w", method, err)
		}
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, t.signer, t.key)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", method, err)
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	t.logger.Info("evm: transaction submitted", "method", method, "to", to.Hex(), "hash", signed.Hash().Hex(), "nonce", nonce)

	// A submitted transaction may still be mined, so the caller's
	// cancellation no longer applies. Only receiptTimeout bounds the wait.
	receipt, err := t.waitReceipt(context.WithoutCancel(ctx), signed.Hash())
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, signed.Hash().Hex(), err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s %s", ErrReverted, method, signed.Hash().Hex())
	}
	return receipt, nil
}

func (t *Transactor) waitReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, t.receiptTimeout)
	defer cancel()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := t.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for receipt: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// ensureAllowance approves spender for the maximum amount when the current
// allowance does not cover amount.
func (t *Transactor) ensureAllowance(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	current, err := t.callUint(ctx, erc20Contract, token, "allowance", t.from, spender)
	if err != nil {
		return err
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}
	_, err = t.send(ctx, erc20Contract, token, "approve", spender, new(big.Int).Set(maxUint256))
	return err
}

// balanceDelta runs fn and returns how much owner's balance of token grew.
// The closing balance read ignores cancellation once fn has succeeded.
func (t *Transactor) balanceDelta(ctx context.Context, token, owner common.Address, fn func() error) (*big.Int, error) {
	before, err := t.callUint(ctx, erc20Contract, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	if err := fn(); err != nil {
		return nil, err
	}
	after, err := t.callUint(context.WithoutCancel(ctx), erc20Contract, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	delta := new(big.Int).Sub(after, before)
	if delta.Sign() < 0 {
		return nil, fmt.Errorf("balance of %s decreased by %s", token.Hex(), new(big.Int).Neg(delta))
	}
	return delta, nil
}

func deadline(now time.Time, window time.Duration) *big.Int {
	if window <= 0 {
		window = 10 * time.Minute
	}
	return big.NewInt(now.Add(window).Unix())
}
