package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	// ModeSim runs the vault against the in-process simulated network.
	ModeSim = "sim"
	// ModeEVM runs the vault against contracts on an EVM chain.
	ModeEVM = "evm"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses a duration such as "90s" or "2m".
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Amount is a base-unit integer written as a decimal string so values beyond
// int64 survive decoding.
type Amount struct {
	*big.Int
}

// UnmarshalYAML parses a non-negative decimal integer.
func (a *Amount) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("amount must be scalar")
	}
	return a.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses a non-negative decimal integer, allowing "_" digit
// separators.
func (a *Amount) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		a.Int = nil
		return nil
	}
	parsed, ok := new(big.Int).SetString(strings.ReplaceAll(raw, "_", ""), 10)
	if !ok {
		return fmt.Errorf("parse amount %q", raw)
	}
	if parsed.Sign() < 0 {
		return fmt.Errorf("amount %q must not be negative", raw)
	}
	a.Int = parsed
	return nil
}

// Value returns a copy of the amount, or nil when unset.
func (a Amount) Value() *big.Int {
	if a.Int == nil {
		return nil
	}
	return new(big.Int).Set(a.Int)
}

// Config captures runtime configuration for vaultd.
type Config struct {
	ListenAddress string          `yaml:"listen" toml:"listen"`
	DatabasePath  string          `yaml:"database" toml:"database"`
	StateDir      string          `yaml:"state_dir" toml:"state_dir"`
	Mode          string          `yaml:"mode" toml:"mode"`
	Vault         VaultConfig     `yaml:"vault" toml:"vault"`
	EVM           EVMConfig       `yaml:"evm" toml:"evm"`
	Sim           SimConfig       `yaml:"sim" toml:"sim"`
	Keeper        KeeperConfig    `yaml:"keeper" toml:"keeper"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Auth          AuthConfig      `yaml:"auth" toml:"auth"`
}

// VaultConfig names the vault assets. EventLogSize bounds the in-memory
// event history; the journal keeps the full record.
type VaultConfig struct {
	StableAsset  string `yaml:"stable_asset" toml:"stable_asset"`
	RewardAsset  string `yaml:"reward_asset" toml:"reward_asset"`
	MinDeposit   Amount `yaml:"min_deposit" toml:"min_deposit"`
	EventLogSize int    `yaml:"event_log_size" toml:"event_log_size"`
}

// EVMConfig binds the vault to on-chain contracts.
type EVMConfig struct {
	RPCURL         string   `yaml:"rpc_url" toml:"rpc_url"`
	ChainID        uint64   `yaml:"chain_id" toml:"chain_id"`
	Keystore       string   `yaml:"keystore" toml:"keystore"`
	PassphraseEnv  string   `yaml:"passphrase_env" toml:"passphrase_env"`
	StableToken    string   `yaml:"stable_token" toml:"stable_token"`
	RewardToken    string   `yaml:"reward_token" toml:"reward_token"`
	Pool           string   `yaml:"pool" toml:"pool"`
	LPToken        string   `yaml:"lp_token" toml:"lp_token"`
	Staking        string   `yaml:"staking" toml:"staking"`
	PoolID         uint64   `yaml:"pool_id" toml:"pool_id"`
	Router         string   `yaml:"router" toml:"router"`
	MaxSlippageBps uint64   `yaml:"max_slippage_bps" toml:"max_slippage_bps"`
	GasLimit       uint64   `yaml:"gas_limit" toml:"gas_limit"`
	ReceiptTimeout Duration `yaml:"receipt_timeout" toml:"receipt_timeout"`
	PollInterval   Duration `yaml:"poll_interval" toml:"poll_interval"`
	SwapDeadline   Duration `yaml:"swap_deadline" toml:"swap_deadline"`
}

// SimConfig parameterises the simulated network.
type SimConfig struct {
	RewardPerTick  Amount   `yaml:"reward_per_tick" toml:"reward_per_tick"`
	TickInterval   Duration `yaml:"tick_interval" toml:"tick_interval"`
	SwapFeeBps     uint64   `yaml:"swap_fee_bps" toml:"swap_fee_bps"`
	MaxSlippageBps uint64   `yaml:"max_slippage_bps" toml:"max_slippage_bps"`
	WithdrawFeeBps uint64   `yaml:"withdraw_fee_bps" toml:"withdraw_fee_bps"`
	PoolCapacity   Amount   `yaml:"pool_capacity" toml:"pool_capacity"`
	StableReserve  Amount   `yaml:"stable_reserve" toml:"stable_reserve"`
	RewardReserve  Amount   `yaml:"reward_reserve" toml:"reward_reserve"`
	// Faucet credits this amount to every new address through the faucet
	// endpoint. Zero disables the faucet.
	Faucet Amount `yaml:"faucet" toml:"faucet"`
}

// KeeperConfig controls the background compounding loop.
type KeeperConfig struct {
	Enabled  bool     `yaml:"enabled" toml:"enabled"`
	Interval Duration `yaml:"interval" toml:"interval"`
	Timeout  Duration `yaml:"timeout" toml:"timeout"`
}

// RateLimitConfig throttles the compound endpoint per client. Forwarding
// headers are honoured only from TrustedProxies.
type RateLimitConfig struct {
	RatePerSecond  float64  `yaml:"rate_per_second" toml:"rate_per_second"`
	Burst          int      `yaml:"burst" toml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies" toml:"trusted_proxies"`
}

// AuthConfig protects mutating endpoints with a static bearer token, HS256
// signed JWTs, or both.
type AuthConfig struct {
	BearerToken    string `yaml:"bearer_token" toml:"bearer_token"`
	BearerTokenEnv string `yaml:"bearer_token_env" toml:"bearer_token_env"`
	JWTSecretEnv   string `yaml:"jwt_secret_env" toml:"jwt_secret_env"`
	JWTIssuer      string `yaml:"jwt_issuer" toml:"jwt_issuer"`
	JWTAudience    string `yaml:"jwt_audience" toml:"jwt_audience"`
}

// JWTSecret resolves the HMAC secret used to verify bearer JWTs. Secrets are
// only read from the environment.
func (a AuthConfig) JWTSecret() string {
	env := strings.TrimSpace(a.JWTSecretEnv)
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}

// Token resolves the configured bearer token, preferring the environment.
func (a AuthConfig) Token() string {
	if env := strings.TrimSpace(a.BearerTokenEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(a.BearerToken)
}

// Load reads configuration from the supplied path. Files ending in .toml are
// decoded as TOML, anything else as YAML. Unknown keys are rejected in both.
func Load(path string) (Config, error) {
	cfg := Config{}
	var err error
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = decodeTOML(path, &cfg)
	} else {
		err = decodeYAML(path, &cfg)
	}
	if err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeYAML(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func decodeTOML(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("decode config: unknown field %q", undecoded[0].String())
	}
	return nil
}

// Default returns a configuration for a local simulated deployment.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "vaultd.sqlite"
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = ModeSim
	}
	if cfg.Vault.StableAsset == "" {
		cfg.Vault.StableAsset = "USDC"
	}
	if cfg.Vault.RewardAsset == "" {
		cfg.Vault.RewardAsset = "WOM"
	}
	if cfg.EVM.MaxSlippageBps == 0 {
		cfg.EVM.MaxSlippageBps = 100
	}
	if cfg.EVM.ReceiptTimeout.Duration == 0 {
		cfg.EVM.ReceiptTimeout.Duration = 2 * time.Minute
	}
	if cfg.EVM.PollInterval.Duration == 0 {
		cfg.EVM.PollInterval.Duration = 2 * time.Second
	}
	if cfg.EVM.SwapDeadline.Duration == 0 {
		cfg.EVM.SwapDeadline.Duration = 10 * time.Minute
	}
	if cfg.EVM.PassphraseEnv == "" {
		cfg.EVM.PassphraseEnv = "VAULTD_KEY_PASSPHRASE"
	}
	if cfg.Sim.TickInterval.Duration == 0 {
		cfg.Sim.TickInterval.Duration = 5 * time.Second
	}
	if cfg.Keeper.Interval.Duration == 0 {
		cfg.Keeper.Interval.Duration = time.Minute
	}
	if cfg.Keeper.Timeout.Duration == 0 {
		cfg.Keeper.Timeout.Duration = 30 * time.Second
	}
	if cfg.RateLimit.RatePerSecond == 0 {
		cfg.RateLimit.RatePerSecond = 1
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 5
	}
}

func validate(cfg Config) error {
	switch cfg.Mode {
	case ModeSim:
	case ModeEVM:
		if err := cfg.EVM.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeSim, ModeEVM, cfg.Mode)
	}
	if strings.EqualFold(cfg.Vault.StableAsset, cfg.Vault.RewardAsset) {
		return fmt.Errorf("vault.stable_asset and vault.reward_asset must differ")
	}
	if cfg.Sim.SwapFeeBps >= 10_000 || cfg.Sim.MaxSlippageBps > 10_000 || cfg.Sim.WithdrawFeeBps >= 10_000 {
		return fmt.Errorf("sim basis point settings must be below 10000")
	}
	if cfg.Keeper.Enabled && cfg.Keeper.Timeout.Duration > cfg.Keeper.Interval.Duration {
		return fmt.Errorf("keeper.timeout must not exceed keeper.interval")
	}
	if cfg.Vault.EventLogSize < 0 {
		return fmt.Errorf("vault.event_log_size must not be negative")
	}
	if cfg.RateLimit.RatePerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	return nil
}

func (e EVMConfig) validate() error {
	if strings.TrimSpace(e.RPCURL) == "" {
		return fmt.Errorf("evm.rpc_url must be configured")
	}
	if e.ChainID == 0 {
		return fmt.Errorf("evm.chain_id must be configured")
	}
	if strings.TrimSpace(e.Keystore) == "" {
		return fmt.Errorf("evm.keystore must be configured")
	}
	addresses := map[string]string{
		"evm.stable_token": e.StableToken,
		"evm.reward_token": e.RewardToken,
		"evm.pool":         e.Pool,
		"evm.lp_token":     e.LPToken,
		"evm.staking":      e.Staking,
		"evm.router":       e.Router,
	}
	for _, field := range []string{"evm.stable_token", "evm.reward_token", "evm.pool", "evm.lp_token", "evm.staking", "evm.router"} {
		if !isHexAddress(addresses[field]) {
			return fmt.Errorf("%s must be a 0x-prefixed address", field)
		}
	}
	if e.MaxSlippageBps > 10_000 {
		return fmt.Errorf("evm.max_slippage_bps must not exceed 10000")
	}
	return nil
}

func isHexAddress(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return false
	}
	body := trimmed[2:]
	if len(body) != 40 {
		return false
	}
	for _, r := range body {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
