package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log" toml:"log"`
	REST      RESTConfig      `yaml:"rest" toml:"rest"`
	WS        WSConfig        `yaml:"ws" toml:"ws"`
	State     StateConfig     `yaml:"state" toml:"state"`
	Wallet    WalletConfig    `yaml:"-" toml:"-"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Hedge     HedgeConfig     `yaml:"hedge" toml:"hedge"`
	Risk      RiskConfig      `yaml:"risk" toml:"risk"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram" toml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale" toml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url" toml:"base_url"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

type WSConfig struct {
	URL            string        `yaml:"url" toml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" toml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval" toml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path" toml:"sqlite_path"`
}

// WalletConfig is populated from the environment only.
type WalletConfig struct {
	PrivateKey       string
	Address          string
	AccountAddress   string
	VaultAddress     string
	SolanaPrivateKey string
}

type SessionConfig struct {
	Coin              string        `yaml:"coin" toml:"coin"`
	NotionalUSD       float64       `yaml:"notional_usd" toml:"notional_usd"`
	BookDepth         int           `yaml:"book_depth" toml:"book_depth"`
	SettleDelay       time.Duration `yaml:"settle_delay" toml:"settle_delay"`
	CompletionTimeout time.Duration `yaml:"completion_timeout" toml:"completion_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval" toml:"poll_interval"`
	RecheckDelay      time.Duration `yaml:"recheck_delay" toml:"recheck_delay"`
	AnomalyPolicy     string        `yaml:"anomaly_policy" toml:"anomaly_policy"`
}

type HedgeConfig struct {
	Router        string        `yaml:"router" toml:"router"`
	BaseMint      string        `yaml:"base_mint" toml:"base_mint"`
	QuoteMint     string        `yaml:"quote_mint" toml:"quote_mint"`
	BaseDecimals  int           `yaml:"base_decimals" toml:"base_decimals"`
	QuoteDecimals int           `yaml:"quote_decimals" toml:"quote_decimals"`
	SlippageBps   int           `yaml:"slippage_bps" toml:"slippage_bps"`
	QuietWindow   time.Duration `yaml:"quiet_window" toml:"quiet_window"`
	RetryDelay    time.Duration `yaml:"retry_delay" toml:"retry_delay"`
	Merge         string        `yaml:"merge" toml:"merge"`
	Jupiter       JupiterConfig `yaml:"jupiter" toml:"jupiter"`
	Spot          SpotConfig    `yaml:"spot" toml:"spot"`
}

type JupiterConfig struct {
	BaseURL        string        `yaml:"base_url" toml:"base_url"`
	RPCURL         string        `yaml:"rpc_url" toml:"rpc_url"`
	Commitment     string        `yaml:"commitment" toml:"commitment"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout" toml:"confirm_timeout"`
}

type SpotConfig struct {
	// Market is the Hyperliquid spot pair, e.g. "SOL/USDC".
	Market string `yaml:"market" toml:"market"`
}

type RiskConfig struct {
	MaxNotionalUSD float64 `yaml:"max_notional_usd" toml:"max_notional_usd"`
	MaxOpenOrders  int     `yaml:"max_open_orders" toml:"max_open_orders"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Address string `yaml:"address" toml:"address"`
	Path    string `yaml:"path" toml:"path"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Token   string `yaml:"token" toml:"token"`
	ChatID  string `yaml:"chat_id" toml:"chat_id"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled" toml:"enabled"`
	DSN             string        `yaml:"dsn" toml:"dsn"`
	Schema          string        `yaml:"schema" toml:"schema"`
	QueueSize       int           `yaml:"queue_size" toml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" toml:"conn_max_lifetime"`
}

const (
	RouterJupiter = "jupiter"
	RouterHLSpot  = "hlspot"

	AnomalyLog   = "log"
	AnomalyAbort = "abort"

	MergeSum    = "sum"
	MergeLatest = "latest"
)

// Load reads a YAML or TOML file (chosen by extension), fills defaults and
// applies environment overrides. A .env file next to the working directory is
// loaded first without overriding variables that are already set.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	if err := LoadEnv(".env"); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	return cfg, validate(cfg)
}

// Parse decodes raw config bytes. ext selects the format: ".toml" or YAML
// for anything else.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/hl-delta-neutral.db"
	}
	if cfg.Session.NotionalUSD == 0 {
		cfg.Session.NotionalUSD = 50
	}
	if cfg.Session.BookDepth == 0 {
		cfg.Session.BookDepth = 5
	}
	if cfg.Session.SettleDelay == 0 {
		cfg.Session.SettleDelay = time.Second
	}
	if cfg.Session.CompletionTimeout == 0 {
		cfg.Session.CompletionTimeout = 2 * time.Minute
	}
	if cfg.Session.PollInterval == 0 {
		cfg.Session.PollInterval = 500 * time.Millisecond
	}
	if cfg.Session.RecheckDelay == 0 {
		cfg.Session.RecheckDelay = 10 * time.Second
	}
	if cfg.Session.AnomalyPolicy == "" {
		cfg.Session.AnomalyPolicy = AnomalyLog
	}
	if cfg.Hedge.Router == "" {
		cfg.Hedge.Router = RouterJupiter
	}
	if cfg.Hedge.QuoteMint == "" && cfg.Hedge.Router == RouterJupiter {
		cfg.Hedge.QuoteMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	}
	if cfg.Hedge.QuoteDecimals == 0 {
		cfg.Hedge.QuoteDecimals = 6
	}
	if cfg.Hedge.SlippageBps == 0 {
		cfg.Hedge.SlippageBps = 10
	}
	if cfg.Hedge.QuietWindow == 0 {
		cfg.Hedge.QuietWindow = 2 * time.Second
	}
	if cfg.Hedge.RetryDelay == 0 {
		cfg.Hedge.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Hedge.Merge == "" {
		cfg.Hedge.Merge = MergeSum
	}
	if cfg.Hedge.Jupiter.BaseURL == "" {
		cfg.Hedge.Jupiter.BaseURL = "https://quote-api.jup.ag"
	}
	if cfg.Hedge.Jupiter.Commitment == "" {
		cfg.Hedge.Jupiter.Commitment = "confirmed"
	}
	if cfg.Hedge.Jupiter.ConfirmTimeout == 0 {
		cfg.Hedge.Jupiter.ConfirmTimeout = time.Minute
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Wallet.PrivateKey, "HL_PRIVATE_KEY")
	setStr(&cfg.Wallet.Address, "HL_WALLET_ADDRESS")
	setStr(&cfg.Wallet.AccountAddress, "HL_ACCOUNT_ADDRESS")
	setStr(&cfg.Wallet.VaultAddress, "HL_VAULT_ADDRESS")
	setStr(&cfg.Wallet.SolanaPrivateKey, "SOLANA_PRIVATE_KEY_BASE58")
	if cfg.Wallet.AccountAddress == "" {
		cfg.Wallet.AccountAddress = cfg.Wallet.Address
	}
	setStr(&cfg.Telegram.Token, "HL_TELEGRAM_TOKEN")
	setStr(&cfg.Telegram.ChatID, "HL_TELEGRAM_CHAT_ID")
	setStr(&cfg.Timescale.DSN, "HL_TIMESCALE_DSN")
	setStr(&cfg.Hedge.Jupiter.RPCURL, "SOLANA_RPC_URL")
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func validate(cfg *Config) error {
	if cfg.Session.Coin == "" {
		return errors.New("session.coin is required")
	}
	if cfg.Session.NotionalUSD <= 0 {
		return errors.New("session.notional_usd must be > 0")
	}
	if cfg.Risk.MaxNotionalUSD > 0 && cfg.Session.NotionalUSD > cfg.Risk.MaxNotionalUSD {
		return errors.New("session.notional_usd exceeds risk.max_notional_usd")
	}
	switch cfg.Session.AnomalyPolicy {
	case AnomalyLog, AnomalyAbort:
	default:
		return fmt.Errorf("session.anomaly_policy must be %q or %q", AnomalyLog, AnomalyAbort)
	}
	switch cfg.Hedge.Merge {
	case MergeSum, MergeLatest:
	default:
		return fmt.Errorf("hedge.merge must be %q or %q", MergeSum, MergeLatest)
	}
	switch cfg.Hedge.Router {
	case RouterJupiter:
		if cfg.Hedge.BaseMint == "" {
			return errors.New("hedge.base_mint is required for the jupiter router")
		}
		if cfg.Hedge.BaseDecimals <= 0 {
			return errors.New("hedge.base_decimals must be > 0 for the jupiter router")
		}
	case RouterHLSpot:
		if cfg.Hedge.Spot.Market == "" {
			return errors.New("hedge.spot.market is required for the hlspot router")
		}
	default:
		return fmt.Errorf("hedge.router must be %q or %q", RouterJupiter, RouterHLSpot)
	}
	if cfg.Hedge.SlippageBps < 0 || cfg.Hedge.SlippageBps > 10_000 {
		return errors.New("hedge.slippage_bps must be within [0, 10000]")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram token and chat_id are required when telegram is enabled")
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}
