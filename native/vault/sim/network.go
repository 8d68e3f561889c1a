// Package sim provides deterministic in-process stand-ins for the pool,
// staking farm, swap router and stable token a vault deployment talks to.
package sim

import (
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"autocompounder/crypto"
	"autocompounder/native/vault"
)

// Config parameterises a simulated network.
type Config struct {
	StableSymbol   string
	RewardSymbol   string
	RewardPerTick  *big.Int
	SwapFeeBps     uint64
	MaxSlippageBps uint64
	WithdrawFeeBps uint64
	PoolCapacity   *big.Int
	// Router reserves; the reward price in stable is their ratio.
	StableReserve *big.Int
	RewardReserve *big.Int
}

// DefaultConfig mirrors the USDC/WOM testnet deployment: six decimal units, one
// WOM emitted per tick, WOM priced at half a USDC, PancakeSwap fees.
func DefaultConfig() Config {
	return Config{
		StableSymbol:   "USDC",
		RewardSymbol:   "WOM",
		RewardPerTick:  big.NewInt(1_000_000),
		SwapFeeBps:     25,
		MaxSlippageBps: 100,
		StableReserve:  big.NewInt(1_000_000_000_000),
		RewardReserve:  big.NewInt(2_000_000_000_000),
	}
}

// Network wires the simulated collaborators around a single custody account.
type Network struct {
	Stable  *Token
	Reward  *Token
	Pool    *Pool
	Staking *Staking
	Router  *Router
	Custody crypto.Address

	cfg Config
}

// NewNetwork builds a network from cfg; zero fields take DefaultConfig values.
func NewNetwork(cfg Config) *Network {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.StableSymbol) == "" {
		cfg.StableSymbol = defaults.StableSymbol
	}
	if strings.TrimSpace(cfg.RewardSymbol) == "" {
		cfg.RewardSymbol = defaults.RewardSymbol
	}
	if cfg.RewardPerTick == nil {
		cfg.RewardPerTick = defaults.RewardPerTick
	}
	if cfg.StableReserve == nil {
		cfg.StableReserve = defaults.StableReserve
	}
	if cfg.RewardReserve == nil {
		cfg.RewardReserve = defaults.RewardReserve
	}

	custody := Account("vault")
	stable := NewToken(cfg.StableSymbol)
	reward := NewToken(cfg.RewardSymbol)
	pool := NewPool(stable, Account("pool"), custody)
	pool.SetWithdrawFee(cfg.WithdrawFeeBps)
	pool.SetCapacity(cfg.PoolCapacity)
	staking := NewStaking(pool, reward, Account("staking"), custody, cfg.RewardPerTick)
	router := NewRouter(Account("router"), custody, cfg.SwapFeeBps, cfg.MaxSlippageBps, stable, reward)
	stable.Mint(Account("router"), cfg.StableReserve)
	reward.Mint(Account("router"), cfg.RewardReserve)

	return &Network{
		Stable:  stable,
		Reward:  reward,
		Pool:    pool,
		Staking: staking,
		Router:  router,
		Custody: custody,
		cfg:     cfg,
	}
}

// Account derives a stable address from label.
func Account(label string) crypto.Address {
	return crypto.NewAddress(crypto.AccountPrefix, ethcrypto.Keccak256([]byte(label))[12:])
}

// VaultConfig returns a vault configuration matching the network.
func (n *Network) VaultConfig() vault.Config {
	return vault.Config{
		Custody:     n.Custody,
		StableAsset: n.cfg.StableSymbol,
		RewardAsset: n.cfg.RewardSymbol,
	}
}

// Dependencies returns the collaborators for vault.NewController.
func (n *Network) Dependencies() vault.Dependencies {
	return vault.Dependencies{
		Pool:    n.Pool,
		Staking: n.Staking,
		Swapper: n.Router,
		Token:   n.Stable,
	}
}

// Fund mints amount of the stable asset to user and approves custody to pull it.
func (n *Network) Fund(user crypto.Address, amount *big.Int) {
	n.Stable.Mint(user, amount)
	allowance := n.Stable.Allowance(user, n.Custody)
	n.Stable.Approve(user, n.Custody, new(big.Int).Add(allowance, amount))
}
