// Package config defines all configuration for the arbitrage engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ARB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/arbengine/post-close-arb/internal/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun  bool          `mapstructure:"dry_run"`
	Wallet  WalletConfig  `mapstructure:"wallet"`
	API     APIConfig     `mapstructure:"api"`
	Window  WindowConfig  `mapstructure:"window"`
	Risk    RiskConfig    `mapstructure:"risk"`
	Sweep   SweepConfig   `mapstructure:"sweep"`
	Journal JournalConfig `mapstructure:"journal"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys, and also
// signs every pre-signed trade order.
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int64  `mapstructure:"chain_id"`
}

// APIConfig holds every external endpoint and optional pre-derived L2
// credentials. If ApiKey/Secret/Passphrase are empty, the bot derives them
// via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	WSOracleURL  string `mapstructure:"ws_oracle_url"`
	RPCBaseURL   string `mapstructure:"rpc_base_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// WindowConfig controls which symbols are traded and how the 5-minute
// windows are aligned and captured.
//
//   - DurationSecs: window length (spec default 300).
//   - CaptureSecs: width of the tick-acceptance slice at each window boundary.
//   - TZ: timezone the wall-clock window boundaries are aligned against.
//   - PollInterval: loaded and defaulted here but not read by the
//     coordinator, which sleeps until each boundary instead of polling.
type WindowConfig struct {
	Symbols      []string      `mapstructure:"symbols"`
	DurationSecs int           `mapstructure:"duration_secs"`
	CaptureSecs  int           `mapstructure:"capture_secs"`
	TZ           string        `mapstructure:"tz"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// RiskConfig sets the thresholds the risk gate evaluates before any sweep
// is allowed to proceed.
//
//   - MinConfidencePct: relative confidence floor, |diff|/price_to_beat.
//   - MinConfidenceAbs: per-symbol absolute diff floor, keyed by lowercase
//     symbol ("btc", "eth", "sol", "xrp").
//   - MaxPositionPerMarket: cap on cost committed to a single window.
//   - MaxTotalOutstanding: cap on unredeemed cost across all symbols.
//   - OracleFreshnessSecs: how stale a captured close price may be before
//     the RPC fallback is consulted instead.
//   - CorrelationSettle/Threshold/Allowed: tune the correlation circuit
//     breaker (see riskgate).
type RiskConfig struct {
	MinConfidencePct     float64            `mapstructure:"min_confidence_pct"`
	MinConfidenceAbs     map[string]float64 `mapstructure:"min_confidence_abs"`
	MaxPositionPerMarket float64            `mapstructure:"max_position_per_market"`
	MaxTotalOutstanding  float64            `mapstructure:"max_total_outstanding"`
	OracleFreshnessSecs  int                `mapstructure:"oracle_freshness_secs"`
	CorrelationSettleMs  int                `mapstructure:"correlation_settle_ms"`
	CorrelationThreshold int                `mapstructure:"correlation_threshold"`
	CorrelationAllowed   int                `mapstructure:"correlation_allowed"`
}

// SweepConfig tunes the FOK sweep loop that consumes the winning token's
// asks once a window is decided.
//
//   - TargetPrice: only asks at or below this price are swept.
//   - TimeoutSecs: the sweep stops past this; a reason row is journaled
//     only when the sweep made no fill.
//   - InterOrderDelayMs: pause between consecutive FOK submissions.
//   - BookWaitSecs: how long to wait for a book event when no eligible ask
//     is left before ending the sweep.
//   - RateLimitPerSec: account-wide submission rate limit.
type SweepConfig struct {
	TargetPrice       float64 `mapstructure:"target_price"`
	TimeoutSecs       int     `mapstructure:"timeout_secs"`
	InterOrderDelayMs int     `mapstructure:"inter_order_delay_ms"`
	BookWaitSecs      int     `mapstructure:"book_wait_secs"`
	RateLimitPerSec   float64 `mapstructure:"rate_limit_per_sec"`
}

// JournalConfig sets where the append-only position log lives.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// defaultMinConfidenceAbs mirrors the per-symbol absolute floors used when
// the config file omits risk.min_confidence_abs entirely.
var defaultMinConfidenceAbs = map[string]float64{
	"btc": 68,
	"eth": 2,
	"sol": 0.10,
	"xrp": 0.005,
}

// Load reads config from a YAML file, a .env file (if present) for secrets,
// and ARB_* environment variable overrides, in that order of increasing
// precedence.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Risk.MinConfidenceAbs == nil {
		cfg.Risk.MinConfidenceAbs = defaultMinConfidenceAbs
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("window.duration_secs", 300)
	v.SetDefault("window.capture_secs", 2)
	v.SetDefault("window.tz", "America/New_York")
	v.SetDefault("window.poll_interval", 250*time.Millisecond)
	v.SetDefault("risk.min_confidence_pct", 0.001)
	v.SetDefault("risk.max_position_per_market", 500)
	v.SetDefault("risk.oracle_freshness_secs", 10)
	v.SetDefault("risk.correlation_settle_ms", 200)
	v.SetDefault("risk.correlation_threshold", 3)
	v.SetDefault("risk.correlation_allowed", 2)
	v.SetDefault("sweep.target_price", 0.99)
	v.SetDefault("sweep.timeout_secs", 20)
	v.SetDefault("sweep.inter_order_delay_ms", 100)
	v.SetDefault("sweep.book_wait_secs", 3)
	v.SetDefault("sweep.rate_limit_per_sec", 10)
	v.SetDefault("journal.path", "data/journal.jsonl")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// applyEnvOverrides layers explicit ARB_* secret overrides on top of
// whatever viper resolved from the file, matching the teacher's pattern of
// never letting credentials live only in a YAML file on disk.
func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("ARB_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("ARB_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("ARB_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("ARB_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if v := os.Getenv("ARB_DRY_RUN"); v == "true" || v == "1" {
		cfg.DryRun = true
	}
}

// MinConfidenceAbs returns the absolute-diff floor for a symbol, decimal-typed
// for exact comparison against captured prices.
func (c *Config) MinConfidenceAbs(symbol types.Symbol) (decimal.Decimal, bool) {
	v, ok := c.Risk.MinConfidenceAbs[string(symbol)]
	if !ok {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(v), true
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set ARB_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.API.GammaBaseURL == "" {
		return fmt.Errorf("api.gamma_base_url is required")
	}
	if c.API.WSMarketURL == "" {
		return fmt.Errorf("api.ws_market_url is required")
	}
	if c.API.WSOracleURL == "" {
		return fmt.Errorf("api.ws_oracle_url is required")
	}
	if len(c.Window.Symbols) == 0 {
		return fmt.Errorf("window.symbols must list at least one symbol")
	}
	if c.Window.DurationSecs <= 0 {
		return fmt.Errorf("window.duration_secs must be > 0")
	}
	if c.Window.CaptureSecs <= 0 || c.Window.CaptureSecs >= c.Window.DurationSecs {
		return fmt.Errorf("window.capture_secs must be > 0 and < window.duration_secs")
	}
	if _, err := time.LoadLocation(c.Window.TZ); err != nil {
		return fmt.Errorf("window.tz %q is not a valid timezone: %w", c.Window.TZ, err)
	}
	if c.Risk.MinConfidencePct <= 0 {
		return fmt.Errorf("risk.min_confidence_pct must be > 0")
	}
	if c.Risk.MaxPositionPerMarket <= 0 {
		return fmt.Errorf("risk.max_position_per_market must be > 0")
	}
	if c.Sweep.TargetPrice <= 0 || c.Sweep.TargetPrice > 1 {
		return fmt.Errorf("sweep.target_price must be in (0, 1]")
	}
	if c.Sweep.RateLimitPerSec <= 0 {
		return fmt.Errorf("sweep.rate_limit_per_sec must be > 0")
	}
	if c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required")
	}
	return nil
}
