package evm

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"autocompounder/crypto"
	"autocompounder/native/vault"
)

type fakeBackend struct {
	mu        sync.Mutex
	responses map[string][][]byte
	reverts   map[string]bool
	sent      []*gethtypes.Transaction
	receipts  map[common.Hash]*gethtypes.Receipt
	misses    int
	nonce     uint64
	onSend    func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		responses: make(map[string][][]byte),
		reverts:   make(map[string]bool),
		receipts:  make(map[common.Hash]*gethtypes.Receipt),
		nonce:     7,
	}
}

func selectorKey(to common.Address, contract abi.ABI, method string) string {
	return to.Hex() + ":" + hex.EncodeToString(contract.Methods[method].ID)
}

// respond queues outputs for a view method; the last queued value repeats.
func (b *fakeBackend) respond(t *testing.T, to common.Address, contract abi.ABI, method string, values ...interface{}) {
	t.Helper()
	packed, err := contract.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	key := selectorKey(to, contract, method)
	b.mu.Lock()
	b.responses[key] = append(b.responses[key], packed)
	b.mu.Unlock()
}

func (b *fakeBackend) revert(to common.Address, contract abi.ABI, method string) {
	b.mu.Lock()
	b.reverts[selectorKey(to, contract, method)] = true
	b.mu.Unlock()
}

func (b *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := msg.To.Hex() + ":" + hex.EncodeToString(msg.Data[:4])
	queue := b.responses[key]
	if len(queue) == 0 {
		return nil, errors.New("unexpected call " + key)
	}
	out := queue[0]
	if len(queue) > 1 {
		b.responses[key] = queue[1:]
	}
	return out, nil
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, _ common.Address) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonce, nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(5_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 90_000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	b.nonce++
	status := gethtypes.ReceiptStatusSuccessful
	if b.reverts[tx.To().Hex()+":"+hex.EncodeToString(tx.Data()[:4])] {
		status = gethtypes.ReceiptStatusFailed
	}
	b.receipts[tx.Hash()] = &gethtypes.Receipt{Status: status, TxHash: tx.Hash()}
	if b.onSend != nil {
		b.onSend()
	}
	return nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.misses < 1 {
		b.misses++
		return nil, ethereum.NotFound
	}
	receipt, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (b *fakeBackend) sentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func newTestTransactor(t *testing.T) (*Transactor, *fakeBackend) {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	backend := newFakeBackend()
	tx, err := NewTransactor(backend, key, TransactorConfig{
		ChainID:      big.NewInt(97),
		PollInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return tx, backend
}

func decodeArgs(t *testing.T, contract abi.ABI, tx *gethtypes.Transaction) (string, []interface{}) {
	t.Helper()
	method, err := contract.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	return method.Name, args
}

var (
	stableAddr = common.HexToAddress("0x64544969ed7EBf5f083679233325356EbE738930")
	rewardAddr = common.HexToAddress("0x7BFC90abeEB4138e583bfC46aBC69De34c9ABf8B")
	lpAddr     = common.HexToAddress("0x2F1963a2D9A8b6D7A4a3A1b5F3c2bB1F8c0fA001")
	poolAddr   = common.HexToAddress("0x76ebB44CEE34aD9009cBc3a1dCa3d8b3EF5e7d2a")
	farmAddr   = common.HexToAddress("0x8C0e9334DBFAC1b9184bC01Ef638BA705cc13EaF")
	routerAddr = common.HexToAddress("0xD99D1c33F9fC3444f8101754aBC46c52416550D1")
)

func TestToUint256Bounds(t *testing.T) {
	_, err := toUint256(big.NewInt(-1))
	require.ErrorIs(t, err, ErrAmountOutOfRange)
	_, err = toUint256(new(big.Int).Lsh(big.NewInt(1), 256))
	require.ErrorIs(t, err, ErrAmountOutOfRange)
	max, err := toUint256(maxUint256)
	require.NoError(t, err)
	require.Zero(t, max.Cmp(maxUint256))
	zero, err := toUint256(nil)
	require.NoError(t, err)
	require.Zero(t, zero.Sign())
}

func TestMinimumOut(t *testing.T) {
	require.Equal(t, "990", minimumOut(big.NewInt(1_000), 100).String())
	require.Equal(t, "0", minimumOut(big.NewInt(1_000), 20_000).String())
	require.Equal(t, "0", minimumOut(nil, 10).String())
}

func TestTransferSignsEIP155Transaction(t *testing.T) {
	tx, backend := newTestTransactor(t)
	token := NewToken(tx, stableAddr, "USDC")
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	err := token.Transfer(context.Background(), crypto.AddressFromCommon(tx.From()), crypto.AddressFromCommon(recipient), big.NewInt(42))
	require.NoError(t, err)
	require.Equal(t, 1, backend.sentCount())

	sent := backend.sent[0]
	require.Equal(t, uint64(7), sent.Nonce())
	require.Equal(t, uint64(97), sent.ChainId().Uint64())
	require.Equal(t, uint64(90_000), sent.Gas())
	sender, err := gethtypes.Sender(gethtypes.NewEIP155Signer(big.NewInt(97)), sent)
	require.NoError(t, err)
	require.Equal(t, tx.From(), sender)

	name, args := decodeArgs(t, erc20Contract, sent)
	require.Equal(t, "transfer", name)
	require.Equal(t, recipient, args[0].(common.Address))
	require.Equal(t, "42", args[1].(*big.Int).String())
}

func TestTransferRejectsForeignSender(t *testing.T) {
	tx, backend := newTestTransactor(t)
	token := NewToken(tx, stableAddr, "USDC")
	other := crypto.AddressFromCommon(common.HexToAddress("0x00000000000000000000000000000000000000bb"))
	require.ErrorIs(t, token.Transfer(context.Background(), other, other, big.NewInt(1)), errForeignSender)
	require.Zero(t, backend.sentCount())
}

func TestTransferRevertIsTransferFailed(t *testing.T) {
	tx, backend := newTestTransactor(t)
	token := NewToken(tx, stableAddr, "USDC")
	backend.revert(stableAddr, erc20Contract, "transfer")

	err := token.Transfer(context.Background(), crypto.AddressFromCommon(tx.From()), crypto.AddressFromCommon(common.Address{1}), big.NewInt(1))
	require.ErrorIs(t, err, vault.ErrTransferFailed)
	require.ErrorIs(t, err, ErrReverted)
}

func TestTransferFromChecksAllowanceBeforeSending(t *testing.T) {
	tx, backend := newTestTransactor(t)
	token := NewToken(tx, stableAddr, "USDC")
	user := crypto.AddressFromCommon(common.HexToAddress("0x00000000000000000000000000000000000000cc"))
	custody := crypto.AddressFromCommon(tx.From())

	backend.respond(t, stableAddr, erc20Contract, "allowance", big.NewInt(5))
	err := token.TransferFrom(context.Background(), user, custody, big.NewInt(10))
	require.ErrorIs(t, err, vault.ErrTransferFailed)
	require.Zero(t, backend.sentCount())
}

func TestTransferFromSendsWhenCovered(t *testing.T) {
	tx, backend := newTestTransactor(t)
	token := NewToken(tx, stableAddr, "USDC")
	user := crypto.AddressFromCommon(common.HexToAddress("0x00000000000000000000000000000000000000cc"))
	custody := crypto.AddressFromCommon(tx.From())

	backend.respond(t, stableAddr, erc20Contract, "allowance", big.NewInt(100))
	backend.respond(t, stableAddr, erc20Contract, "balanceOf", big.NewInt(100))
	require.NoError(t, token.TransferFrom(context.Background(), user, custody, big.NewInt(100)))

	name, args := decodeArgs(t, erc20Contract, backend.sent[0])
	require.Equal(t, "transferFrom", name)
	require.Equal(t, user.Common(), args[0].(common.Address))
	require.Equal(t, tx.From(), args[1].(common.Address))
}

func TestRouterSwapAppliesSlippageBound(t *testing.T) {
	tx, backend := newTestTransactor(t)
	router := NewRouter(tx, RouterConfig{
		Router:         routerAddr,
		Tokens:         map[string]common.Address{"wom": rewardAddr, "USDC": stableAddr},
		MaxSlippageBps: 100,
	})
	backend.respond(t, routerAddr, routerContract, "getAmountsOut", []*big.Int{big.NewInt(2_000), big.NewInt(1_000)})
	backend.respond(t, rewardAddr, erc20Contract, "allowance", maxUint256)
	backend.respond(t, stableAddr, erc20Contract, "balanceOf", big.NewInt(10))
	backend.respond(t, stableAddr, erc20Contract, "balanceOf", big.NewInt(1_005))

	out, err := router.Swap(context.Background(), "WOM", "usdc", big.NewInt(2_000))
	require.NoError(t, err)
	require.Equal(t, "995", out.String())
	require.Equal(t, 1, backend.sentCount(), "no approval needed with max allowance")

	name, args := decodeArgs(t, routerContract, backend.sent[0])
	require.Equal(t, "swapExactTokensForTokens", name)
	require.Equal(t, "2000", args[0].(*big.Int).String())
	require.Equal(t, "990", args[1].(*big.Int).String())
	require.Equal(t, []common.Address{rewardAddr, stableAddr}, args[2].([]common.Address))
}

func TestRouterRevertIsSlippage(t *testing.T) {
	tx, backend := newTestTransactor(t)
	router := NewRouter(tx, RouterConfig{
		Router: routerAddr,
		Tokens: map[string]common.Address{"WOM": rewardAddr, "USDC": stableAddr},
	})
	backend.respond(t, routerAddr, routerContract, "getAmountsOut", []*big.Int{big.NewInt(10), big.NewInt(5)})
	backend.respond(t, rewardAddr, erc20Contract, "allowance", big.NewInt(0))
	backend.respond(t, stableAddr, erc20Contract, "balanceOf", big.NewInt(0))
	backend.revert(routerAddr, routerContract, "swapExactTokensForTokens")

	_, err := router.Swap(context.Background(), "WOM", "USDC", big.NewInt(10))
	require.ErrorIs(t, err, vault.ErrSlippageExceeded)
	require.Equal(t, 2, backend.sentCount(), "approve then swap")

	_, err = router.Swap(context.Background(), "WOM", "BUSD", big.NewInt(10))
	require.ErrorIs(t, err, errUnknownToken)
}

func TestPoolDepositMeasuresMintedShares(t *testing.T) {
	tx, backend := newTestTransactor(t)
	pool := NewPool(tx, PoolConfig{Pool: poolAddr, StableToken: stableAddr, LPToken: lpAddr, MaxSlippageBps: 50})
	backend.respond(t, poolAddr, poolContract, "quotePotentialDeposit", big.NewInt(1_000), big.NewInt(0))
	backend.respond(t, stableAddr, erc20Contract, "allowance", maxUint256)
	backend.respond(t, lpAddr, erc20Contract, "balanceOf", big.NewInt(0))
	backend.respond(t, lpAddr, erc20Contract, "balanceOf", big.NewInt(998))

	minted, err := pool.Deposit(context.Background(), big.NewInt(1_000))
	require.NoError(t, err)
	require.Equal(t, "998", minted.String())

	name, args := decodeArgs(t, poolContract, backend.sent[0])
	require.Equal(t, "deposit", name)
	require.Equal(t, stableAddr, args[0].(common.Address))
	require.Equal(t, "995", args[2].(*big.Int).String())
	require.Equal(t, false, args[5].(bool))
}

func TestPoolDepositSurvivesCancelAfterSubmit(t *testing.T) {
	tx, backend := newTestTransactor(t)
	pool := NewPool(tx, PoolConfig{Pool: poolAddr, StableToken: stableAddr, LPToken: lpAddr, MaxSlippageBps: 50})
	backend.respond(t, poolAddr, poolContract, "quotePotentialDeposit", big.NewInt(1_000), big.NewInt(0))
	backend.respond(t, stableAddr, erc20Contract, "allowance", maxUint256)
	backend.respond(t, lpAddr, erc20Contract, "balanceOf", big.NewInt(0))
	backend.respond(t, lpAddr, erc20Contract, "balanceOf", big.NewInt(998))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend.onSend = cancel

	minted, err := pool.Deposit(ctx, big.NewInt(1_000))
	require.NoError(t, err)
	require.Equal(t, "998", minted.String())
	require.Equal(t, 1, backend.sentCount())
	require.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestSendHonoursCancelBeforeSubmit(t *testing.T) {
	tx, backend := newTestTransactor(t)
	token := NewToken(tx, stableAddr, "USDC")
	recipient := crypto.AddressFromCommon(common.HexToAddress("0x0000000000000000000000000000000000000def"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := token.Transfer(ctx, crypto.AddressFromCommon(tx.From()), recipient, big.NewInt(5))
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, backend.sentCount())
}

func TestPoolDepositRevertIsInsufficientLiquidity(t *testing.T) {
	tx, backend := newTestTransactor(t)
	pool := NewPool(tx, PoolConfig{Pool: poolAddr, StableToken: stableAddr, LPToken: lpAddr})
	backend.respond(t, poolAddr, poolContract, "quotePotentialDeposit", big.NewInt(10), big.NewInt(0))
	backend.respond(t, stableAddr, erc20Contract, "allowance", maxUint256)
	backend.respond(t, lpAddr, erc20Contract, "balanceOf", big.NewInt(0))
	backend.revert(poolAddr, poolContract, "deposit")

	_, err := pool.Deposit(context.Background(), big.NewInt(10))
	require.ErrorIs(t, err, vault.ErrInsufficientLiquidity)
}

func TestStakingBuffersSideHarvests(t *testing.T) {
	tx, backend := newTestTransactor(t)
	staking := NewStaking(tx, StakingConfig{Farm: farmAddr, PoolID: 3, LPToken: lpAddr, RewardToken: rewardAddr})
	backend.respond(t, lpAddr, erc20Contract, "allowance", maxUint256)
	backend.respond(t, rewardAddr, erc20Contract, "balanceOf", big.NewInt(0))
	backend.respond(t, rewardAddr, erc20Contract, "balanceOf", big.NewInt(3))
	backend.respond(t, rewardAddr, erc20Contract, "balanceOf", big.NewInt(3))
	backend.respond(t, rewardAddr, erc20Contract, "balanceOf", big.NewInt(10))

	require.NoError(t, staking.Stake(context.Background(), big.NewInt(500)))
	claimed, err := staking.ClaimRewards(context.Background())
	require.NoError(t, err)
	require.Equal(t, "10", claimed.String())

	name, args := decodeArgs(t, stakingContract, backend.sent[1])
	require.Equal(t, "deposit", name)
	require.Equal(t, "3", args[0].(*big.Int).String())
	require.Zero(t, args[1].(*big.Int).Sign())

	backend.respond(t, farmAddr, stakingContract, "pendingTokens", big.NewInt(4), []common.Address{}, []string{}, []*big.Int{})
	pending, err := staking.PendingRewards(context.Background())
	require.NoError(t, err)
	require.Equal(t, "4", pending.String())
}
