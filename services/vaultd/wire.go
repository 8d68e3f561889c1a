package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"autocompounder/internal/passphrase"
	"autocompounder/crypto"
	"autocompounder/native/vault"
	"autocompounder/native/vault/sim"
	"autocompounder/observability/logging"
	"autocompounder/services/vaultd/config"
	"autocompounder/services/vaultd/evm"
	chainstorage "autocompounder/storage"
	"autocompounder/storage/vaultstate"
)

var errKeystoreRequired = errors.New("evm.keystore must be configured")

// runtime bundles the collaborators of one deployment mode.
type runtime struct {
	vaultCfg   vault.Config
	deps       vault.Dependencies
	faucet     *sim.Network
	background []func(context.Context) error
	closers    []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// buildSim wires the vault to an in-process simulated network. State lives in
// memory because the simulated holdings do not survive a restart either.
func buildSim(cfg config.Config, logger *slog.Logger) (*runtime, error) {
	simCfg := sim.Config{
		StableSymbol:   cfg.Vault.StableAsset,
		RewardSymbol:   cfg.Vault.RewardAsset,
		RewardPerTick:  cfg.Sim.RewardPerTick.Value(),
		SwapFeeBps:     cfg.Sim.SwapFeeBps,
		MaxSlippageBps: cfg.Sim.MaxSlippageBps,
		WithdrawFeeBps: cfg.Sim.WithdrawFeeBps,
		PoolCapacity:   cfg.Sim.PoolCapacity.Value(),
		StableReserve:  cfg.Sim.StableReserve.Value(),
		RewardReserve:  cfg.Sim.RewardReserve.Value(),
	}
	if simCfg.MaxSlippageBps == 0 {
		simCfg.MaxSlippageBps = sim.DefaultConfig().MaxSlippageBps
	}
	if strings.TrimSpace(cfg.StateDir) != "" {
		logger.Warn("vaultd: state_dir is ignored in sim mode")
	}
	network := sim.NewNetwork(simCfg)
	vaultCfg := network.VaultConfig()
	vaultCfg.MinDeposit = cfg.Vault.MinDeposit.Value()

	deps := network.Dependencies()
	deps.Store = vaultstate.New(chainstorage.NewMemDB())

	tick := cfg.Sim.TickInterval.Duration
	rt := &runtime{vaultCfg: vaultCfg, deps: deps, faucet: network}
	rt.background = append(rt.background, func(ctx context.Context) error {
		return advanceSim(ctx, network, tick)
	})
	logger.Info("vaultd: simulated network ready", "custody", network.Custody.String(), "tick", tick.String())
	return rt, nil
}

func advanceSim(ctx context.Context, network *sim.Network, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			network.Staking.Advance(1)
		}
	}
}

// buildEVM wires the vault to deployed contracts using the custody keystore.
func buildEVM(ctx context.Context, cfg config.Config, logger *slog.Logger) (*runtime, error) {
	if strings.TrimSpace(cfg.EVM.Keystore) == "" {
		return nil, errKeystoreRequired
	}
	secret, err := passphrase.NewSource(cfg.EVM.PassphraseEnv, "vault custody keystore").Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(cfg.EVM.Keystore, secret)
	if err != nil {
		return nil, err
	}

	client, err := evm.Dial(ctx, cfg.EVM.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", logging.MaskURL(cfg.EVM.RPCURL), err)
	}
	rt := &runtime{closers: []func(){client.Close}}

	chainID := new(big.Int).SetUint64(cfg.EVM.ChainID)
	remote, err := client.ChainID(ctx)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	if remote.Cmp(chainID) != 0 {
		rt.close()
		return nil, fmt.Errorf("rpc endpoint serves chain %s, configured %s", remote, chainID)
	}

	tx, err := evm.NewTransactor(client, key.PrivateKey, evm.TransactorConfig{
		ChainID:        chainID,
		GasLimit:       cfg.EVM.GasLimit,
		PollInterval:   cfg.EVM.PollInterval.Duration,
		ReceiptTimeout: cfg.EVM.ReceiptTimeout.Duration,
		Logger:         logger,
	})
	if err != nil {
		rt.close()
		return nil, err
	}

	stableAddr := common.HexToAddress(cfg.EVM.StableToken)
	rewardAddr := common.HexToAddress(cfg.EVM.RewardToken)
	lpAddr := common.HexToAddress(cfg.EVM.LPToken)
	deadline := cfg.EVM.SwapDeadline.Duration

	rt.deps = vault.Dependencies{
		Token: evm.NewToken(tx, stableAddr, cfg.Vault.StableAsset),
		Pool: evm.NewPool(tx, evm.PoolConfig{
			Pool:           common.HexToAddress(cfg.EVM.Pool),
			StableToken:    stableAddr,
			LPToken:        lpAddr,
			MaxSlippageBps: cfg.EVM.MaxSlippageBps,
			Deadline:       deadline,
		}),
		Staking: evm.NewStaking(tx, evm.StakingConfig{
			Farm:        common.HexToAddress(cfg.EVM.Staking),
			PoolID:      cfg.EVM.PoolID,
			LPToken:     lpAddr,
			RewardToken: rewardAddr,
		}),
		Swapper: evm.NewRouter(tx, evm.RouterConfig{
			Router: common.HexToAddress(cfg.EVM.Router),
			Tokens: map[string]common.Address{
				cfg.Vault.StableAsset: stableAddr,
				cfg.Vault.RewardAsset: rewardAddr,
			},
			MaxSlippageBps: cfg.EVM.MaxSlippageBps,
			Deadline:       deadline,
		}),
	}

	var db chainstorage.Database
	if dir := strings.TrimSpace(cfg.StateDir); dir != "" {
		ldb, err := chainstorage.NewLevelDB(dir)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("open state: %w", err)
		}
		rt.closers = append(rt.closers, ldb.Close)
		db = ldb
	} else {
		logger.Warn("vaultd: state_dir not set, ledger state will not survive a restart")
		db = chainstorage.NewMemDB()
	}
	rt.deps.Store = vaultstate.New(db)

	rt.vaultCfg = vault.Config{
		Custody:     crypto.AddressFromCommon(tx.From()),
		StableAsset: cfg.Vault.StableAsset,
		RewardAsset: cfg.Vault.RewardAsset,
		MinDeposit:  cfg.Vault.MinDeposit.Value(),
	}
	logger.Info("vaultd: evm adapters ready",
		"rpc", logging.MaskURL(cfg.EVM.RPCURL),
		"chain_id", chainID.String(),
		"custody", tx.From().Hex(),
	)
	return rt, nil
}
