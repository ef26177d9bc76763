// Package config loads engine configuration from a YAML file with
// environment overrides for secrets and endpoints.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"solana-mirror-engine/internal/admission"
	"solana-mirror-engine/internal/breaker"
	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/executor"
	"solana-mirror-engine/internal/queue"
	"solana-mirror-engine/internal/recovery"
	"solana-mirror-engine/internal/route"
	"solana-mirror-engine/internal/watcher"
)

// Duration wraps time.Duration so YAML values can be written as "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Decimal wraps decimal.Decimal so YAML values can be written as plain
// scalars; yaml cannot decode them directly.
type Decimal decimal.Decimal

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Decimal) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("parse decimal %q: %w", s, err)
	}
	*d = Decimal(parsed)
	return nil
}

// Std returns the wrapped decimal.Decimal.
func (d Decimal) Std() decimal.Decimal {
	return decimal.Decimal(d)
}

// Config is the full engine configuration.
type Config struct {
	Logging   LoggingConfig          `yaml:"logging"`
	Storage   StorageConfig          `yaml:"storage"`
	RPC       RPCConfig              `yaml:"rpc"`
	Signer    SignerConfig           `yaml:"signer"`
	Wallets   []watcher.WalletConfig `yaml:"wallets"`
	Watcher   WatcherConfig          `yaml:"watcher"`
	Admission AdmissionConfig        `yaml:"admission"`
	Queue     QueueConfig            `yaml:"queue"`
	Breaker   BreakerConfig          `yaml:"breaker"`
	Executor  ExecutorConfig         `yaml:"executor"`
	Recovery  RecoveryConfig         `yaml:"recovery"`
	Engine    EngineConfig           `yaml:"engine"`
	API       APIConfig              `yaml:"api"`

	// Pools maps token mints to their Raydium AMM v4 account sets. Only
	// tokens listed here are routable.
	Pools map[string]route.PoolKeys `yaml:"pools"`

	// SolPriceUSD is the static conversion used for realized-PnL analytics.
	// It feeds both the executor and the recovery manager.
	SolPriceUSD float64 `yaml:"sol_price_usd"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"` // console writer for development
}

// StorageConfig carries backend DSNs. UseMemory replaces every backend with
// in-memory stores for development.
type StorageConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	RedisDSN      string `yaml:"redis_dsn"`
	UseMemory     bool   `yaml:"use_memory"`
}

// RPCConfig locates the Solana endpoints and relays.
type RPCConfig struct {
	Endpoint          string   `yaml:"endpoint"`           // primary HTTP RPC
	WSEndpoint        string   `yaml:"ws_endpoint"`        // logs subscription feed
	FallbackEndpoint  string   `yaml:"fallback_endpoint"`  // direct submission in fallback mode
	RelayEndpoint     string   `yaml:"relay_endpoint"`     // accelerated bundle relay
	SecondaryRelay    string   `yaml:"secondary_relay"`    // second relay for failover
	RequestTimeout    Duration `yaml:"request_timeout"`    // per HTTP request
	RelayRatePerSec   float64  `yaml:"relay_rate_per_sec"` // relay submission rate limit
	RelayBurst        int      `yaml:"relay_burst"`
	ReconnectInterval Duration `yaml:"reconnect_interval"` // websocket reconnect spacing
}

// SignerConfig selects where the wallet keypair comes from.
// Source "env" reads WALLET_PRIVATE_KEY, "file" reads KeyFile, "vault" reads
// the configured Vault path.
type SignerConfig struct {
	Source  string      `yaml:"source"`
	KeyFile string      `yaml:"key_file"`
	Vault   VaultConfig `yaml:"vault"`
}

// VaultConfig locates the wallet key in a Vault KV v2 mount.
type VaultConfig struct {
	Address    string `yaml:"address"`
	Token      string `yaml:"token"`
	MountPath  string `yaml:"mount_path"`
	SecretPath string `yaml:"secret_path"`
	Field      string `yaml:"field"`
}

// WatcherConfig controls source-transaction fetching.
type WatcherConfig struct {
	FetchRetries int      `yaml:"fetch_retries"`
	FetchBackoff Duration `yaml:"fetch_backoff"`
}

// AdmissionConfig controls signal freshness and the duplicate registry.
type AdmissionConfig struct {
	SignalTTL   Duration `yaml:"signal_ttl"`
	RegistryTTL Duration `yaml:"registry_ttl"`
}

// QueueConfig sizes the priority queue.
type QueueConfig struct {
	Capacity         int `yaml:"capacity"`
	ShedThresholdPct int `yaml:"shed_threshold_pct"`
}

// BreakerConfig carries the circuit-breaker thresholds.
type BreakerConfig struct {
	MaxLoss24hUSD        float64  `yaml:"max_loss_24h_usd"`
	MaxConsecutiveLosses int      `yaml:"max_consecutive_losses"`
	MaxDrawdownPercent   float64  `yaml:"max_drawdown_percent"`
	Cooldown             Duration `yaml:"cooldown"`
	CheckInterval        Duration `yaml:"check_interval"`

	// BaselineEquityUSD anchors drawdown-from-peak computation.
	BaselineEquityUSD float64 `yaml:"baseline_equity_usd"`
}

// ExecutorConfig carries trade bounds, submission failover, and tip policy.
type ExecutorConfig struct {
	MinTradeSol            Decimal  `yaml:"min_trade_sol"`
	MaxTradeSol            Decimal  `yaml:"max_trade_sol"`
	MaxConsecutiveFailures int      `yaml:"max_consecutive_failures"`
	ProbeInterval          Duration `yaml:"probe_interval"`
	ProbeTimeout           Duration `yaml:"probe_timeout"`
	SubmitTimeout          Duration `yaml:"submit_timeout"`
	ConfirmTimeout         Duration `yaml:"confirm_timeout"`
	ConfirmPollInterval    Duration `yaml:"confirm_poll_interval"`
	SlippageBps            int      `yaml:"slippage_bps"`
	ComputeUnitLimit       uint32   `yaml:"compute_unit_limit"`
	ComputeUnitPriceMicro  uint64   `yaml:"compute_unit_price_micro"`

	TipFloorLamports   uint64  `yaml:"tip_floor_lamports"`
	TipCeilingLamports uint64  `yaml:"tip_ceiling_lamports"`
	TipPercentOfTrade  Decimal `yaml:"tip_percent_of_trade"`
}

// RecoveryConfig controls the stuck-trade sweep.
type RecoveryConfig struct {
	Interval       Duration `yaml:"interval"`
	StuckThreshold Duration `yaml:"stuck_threshold"`
}

// EngineConfig controls the consumer loop.
type EngineConfig struct {
	// MaxRetries bounds buy re-execution before a trade dead-letters.
	MaxRetries int `yaml:"max_retries"`
}

// APIConfig controls the ops HTTP server.
type APIConfig struct {
	Addr           string   `yaml:"addr"`
	BearerToken    string   `yaml:"bearer_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the configuration the engine runs with when the file omits
// a value. Component defaults are the source of truth.
func Default() Config {
	adm := admission.DefaultConfig()
	brk := breaker.DefaultConfig()
	exc := executor.DefaultConfig()
	rec := recovery.DefaultConfig()
	wtc := watcher.DefaultConfig()

	return Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		RPC: RPCConfig{
			RequestTimeout:    Duration(10 * time.Second),
			RelayRatePerSec:   5,
			RelayBurst:        2,
			ReconnectInterval: Duration(3 * time.Second),
		},
		Signer: SignerConfig{
			Source: "env",
		},
		Watcher: WatcherConfig{
			FetchRetries: wtc.FetchRetries,
			FetchBackoff: Duration(wtc.FetchRetryDelay),
		},
		Admission: AdmissionConfig{
			SignalTTL:   Duration(adm.SignalTTL),
			RegistryTTL: Duration(adm.RegistryTTL),
		},
		Queue: QueueConfig{
			Capacity:         100,
			ShedThresholdPct: queue.DefaultLoadShedThresholdPct,
		},
		Breaker: BreakerConfig{
			MaxLoss24hUSD:        brk.MaxLoss24hUSD,
			MaxConsecutiveLosses: brk.MaxConsecutiveLosses,
			MaxDrawdownPercent:   brk.MaxDrawdownPercent,
			Cooldown:             Duration(brk.Cooldown),
			CheckInterval:        Duration(brk.CheckInterval),
			BaselineEquityUSD:    10_000,
		},
		Executor: ExecutorConfig{
			MinTradeSol:            Decimal(exc.MinTradeSol),
			MaxTradeSol:            Decimal(exc.MaxTradeSol),
			MaxConsecutiveFailures: exc.MaxConsecutiveFailures,
			ProbeInterval:          Duration(exc.ProbeInterval),
			ProbeTimeout:           Duration(exc.ProbeTimeout),
			SubmitTimeout:          Duration(exc.SubmitTimeout),
			ConfirmTimeout:         Duration(exc.ConfirmTimeout),
			ConfirmPollInterval:    Duration(exc.ConfirmPollInterval),
			SlippageBps:            exc.SlippageBps,
			ComputeUnitLimit:       exc.ComputeUnitLimit,
			ComputeUnitPriceMicro:  exc.ComputeUnitPriceMicro,
			TipFloorLamports:       exc.TipClamp.FloorLamports,
			TipCeilingLamports:     exc.TipClamp.CeilingLamports,
			TipPercentOfTrade:      Decimal(exc.TipClamp.MaxPercentOfTrade),
		},
		Recovery: RecoveryConfig{
			Interval:       Duration(rec.Interval),
			StuckThreshold: Duration(rec.StuckThreshold),
		},
		Engine: EngineConfig{
			MaxRetries: 3,
		},
		API: APIConfig{
			Addr: ":8080",
		},
		SolPriceUSD: exc.SolPriceUSD,
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, and validates the result. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides secrets and endpoints from the environment. A set
// variable always wins over the file.
func (c *Config) applyEnv() {
	setIfPresent(&c.Storage.PostgresDSN, "POSTGRES_DSN")
	setIfPresent(&c.Storage.ClickhouseDSN, "CLICKHOUSE_DSN")
	setIfPresent(&c.Storage.RedisDSN, "REDIS_DSN")
	setIfPresent(&c.RPC.Endpoint, "SOLANA_RPC_ENDPOINT")
	setIfPresent(&c.RPC.WSEndpoint, "SOLANA_WS_ENDPOINT")
	setIfPresent(&c.RPC.FallbackEndpoint, "SOLANA_FALLBACK_ENDPOINT")
	setIfPresent(&c.RPC.RelayEndpoint, "RELAY_ENDPOINT")
	setIfPresent(&c.RPC.SecondaryRelay, "SECONDARY_RELAY_ENDPOINT")
	setIfPresent(&c.Signer.Vault.Address, "VAULT_ADDR")
	setIfPresent(&c.Signer.Vault.Token, "VAULT_TOKEN")
	setIfPresent(&c.API.BearerToken, "API_BEARER_TOKEN")
}

func setIfPresent(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue capacity must be positive, got %d", c.Queue.Capacity)
	}
	if c.Queue.ShedThresholdPct <= 0 || c.Queue.ShedThresholdPct > 100 {
		return fmt.Errorf("queue shed threshold must be in (0, 100], got %d", c.Queue.ShedThresholdPct)
	}

	if c.Executor.MinTradeSol.Std().IsNegative() {
		return fmt.Errorf("executor min_trade_sol must not be negative")
	}
	if c.Executor.MaxTradeSol.Std().IsPositive() && c.Executor.MaxTradeSol.Std().LessThan(c.Executor.MinTradeSol.Std()) {
		return fmt.Errorf("executor max_trade_sol %s below min_trade_sol %s",
			c.Executor.MaxTradeSol.Std(), c.Executor.MinTradeSol.Std())
	}
	if c.Executor.TipCeilingLamports > 0 && c.Executor.TipCeilingLamports < c.Executor.TipFloorLamports {
		return fmt.Errorf("executor tip ceiling %d below floor %d",
			c.Executor.TipCeilingLamports, c.Executor.TipFloorLamports)
	}

	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine max_retries must not be negative, got %d", c.Engine.MaxRetries)
	}

	switch c.Signer.Source {
	case "env", "file", "vault":
	case "":
		c.Signer.Source = "env"
	default:
		return fmt.Errorf("unknown signer source %q", c.Signer.Source)
	}

	seen := make(map[string]struct{}, len(c.Wallets))
	for i, w := range c.Wallets {
		if w.Address == "" {
			return fmt.Errorf("wallet %d: address is required", i)
		}
		if _, dup := seen[w.Address]; dup {
			return fmt.Errorf("wallet %s configured twice", w.Address)
		}
		seen[w.Address] = struct{}{}

		if w.Strategy != "" && !w.Strategy.Valid() {
			return fmt.Errorf("wallet %s: unknown strategy %q", w.Address, w.Strategy)
		}
		if w.Strategy == domain.StrategyExit {
			return fmt.Errorf("wallet %s: exit is not a wallet strategy", w.Address)
		}
		if w.Multiplier.IsNegative() {
			return fmt.Errorf("wallet %s: multiplier must not be negative", w.Address)
		}
		if w.MaxCopySol.IsPositive() && w.MaxCopySol.LessThan(w.MinCopySol) {
			return fmt.Errorf("wallet %s: max_copy_sol below min_copy_sol", w.Address)
		}
	}

	if level := strings.ToLower(c.Logging.Level); level != "" {
		switch level {
		case "trace", "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("unknown log level %q", c.Logging.Level)
		}
	}

	return nil
}
