package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DomainChainIDs maps a connector domain to the chain its markets live on.
// The bare "tegro" domain targets Base mainnet.
var DomainChainIDs = map[string]int64{
	"tegro":                 8453,
	"tegro_base_testnet":    84532,
	"tegro_polygon_testnet": 80002,
}

var defaultRPCURLs = map[string]string{
	"tegro":                 "https://mainnet.base.org",
	"tegro_base_testnet":    "https://sepolia.base.org",
	"tegro_polygon_testnet": "https://rpc-amoy.polygon.technology",
}

type Exchange struct {
	Domain            string        `yaml:"domain"`
	RestURL           string        `yaml:"rest_url"`
	WSURL             string        `yaml:"ws_url"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

type Wallet struct {
	PrivateKey string `yaml:"-"` // env only
	Address    string `yaml:"address"`
}

type Trading struct {
	Pairs []string `yaml:"pairs"`
	// ShortPollInterval bounds staleness while orders are outstanding.
	ShortPollInterval time.Duration `yaml:"short_poll_interval"`
	// LongPollInterval is the idle cadence.
	LongPollInterval time.Duration `yaml:"long_poll_interval"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	ErrorBackoff     time.Duration `yaml:"error_backoff"`
	TradeLookback    time.Duration `yaml:"trade_lookback"`
	// FillRetention bounds both fill record pruning and the oldest trade
	// a poll will report.
	FillRetention  time.Duration `yaml:"fill_retention"`
	MaxFetches     int           `yaml:"max_concurrent_fetches"`
	ApproveOnStart bool          `yaml:"approve_on_start"`
}

type Chain struct {
	RPCURL string `yaml:"rpc_url"`
}

type Node struct {
	DataDir string `yaml:"data_dir"`
	APIAddr string `yaml:"api_addr"`
	LogFile string `yaml:"log_file"`
	Verbose bool   `yaml:"verbose"`
}

type Config struct {
	Exchange Exchange `yaml:"exchange"`
	Wallet   Wallet   `yaml:"wallet"`
	Trading  Trading  `yaml:"trading"`
	Chain    Chain    `yaml:"chain"`
	Node     Node     `yaml:"node"`
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			Domain:            "tegro",
			RestURL:           "https://api.tegro.com/api",
			WSURL:             "wss://api.tegro.com/api/v1/events/",
			RequestsPerSecond: 10,
			RequestTimeout:    10 * time.Second,
		},
		Trading: Trading{
			Pairs:             []string{"WETH-USDC"},
			ShortPollInterval: 10 * time.Second,
			LongPollInterval:  120 * time.Second,
			TickInterval:      time.Second,
			ErrorBackoff:      5 * time.Second,
			TradeLookback:     120 * time.Second,
			FillRetention:     7 * 24 * time.Hour,
			MaxFetches:        8,
			ApproveOnStart:    true,
		},
		Node: Node{
			DataDir: "data/connector",
			APIAddr: ":8090",
		},
	}
}

// ChainID resolves the configured domain to its chain id.
func (c Config) ChainID() (int64, error) {
	id, ok := DomainChainIDs[c.Exchange.Domain]
	if !ok {
		return 0, fmt.Errorf("unknown domain %q", c.Exchange.Domain)
	}
	return id, nil
}

// LoadFromEnv loads configuration from an optional YAML file, a .env file (if exists)
// and environment variables.
// Priority: ENV > .env file > YAML file (CONNECTOR_CONFIG) > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if path := os.Getenv("CONNECTOR_CONFIG"); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.Exchange.Domain = getEnv("TEGRO_DOMAIN", cfg.Exchange.Domain)
	cfg.Exchange.RestURL = getEnv("TEGRO_REST_URL", cfg.Exchange.RestURL)
	cfg.Exchange.WSURL = getEnv("TEGRO_WS_URL", cfg.Exchange.WSURL)
	if rps := os.Getenv("TEGRO_REQUESTS_PER_SECOND"); rps != "" {
		if v, err := strconv.ParseFloat(rps, 64); err == nil {
			cfg.Exchange.RequestsPerSecond = v
		}
	}

	cfg.Wallet.PrivateKey = getEnv("TEGRO_PRIVATE_KEY", cfg.Wallet.PrivateKey)
	cfg.Wallet.Address = getEnv("TEGRO_WALLET_ADDRESS", cfg.Wallet.Address)

	if pairs := os.Getenv("TEGRO_TRADING_PAIRS"); pairs != "" {
		// Example: "WETH-USDC,AYB-USDT"
		cfg.Trading.Pairs = splitList(pairs)
	}
	setMillis("SHORT_POLL_INTERVAL_MS", &cfg.Trading.ShortPollInterval)
	setMillis("LONG_POLL_INTERVAL_MS", &cfg.Trading.LongPollInterval)
	setMillis("TICK_INTERVAL_MS", &cfg.Trading.TickInterval)
	setMillis("ERROR_BACKOFF_MS", &cfg.Trading.ErrorBackoff)
	setMillis("TRADE_LOOKBACK_MS", &cfg.Trading.TradeLookback)
	setMillis("FILL_RETENTION_MS", &cfg.Trading.FillRetention)
	if n := os.Getenv("MAX_CONCURRENT_FETCHES"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Trading.MaxFetches = v
		}
	}
	if approve := os.Getenv("APPROVE_ON_START"); approve != "" {
		cfg.Trading.ApproveOnStart = approve == "true"
	}

	cfg.Chain.RPCURL = getEnv("TEGRO_RPC_URL", cfg.Chain.RPCURL)
	if cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = defaultRPCURLs[cfg.Exchange.Domain]
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	if verbose := os.Getenv("VERBOSE"); verbose != "" {
		cfg.Node.Verbose = verbose == "true"
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c Config) Validate() error {
	if _, err := c.ChainID(); err != nil {
		return err
	}
	if !strings.HasPrefix(c.Exchange.RestURL, "http://") && !strings.HasPrefix(c.Exchange.RestURL, "https://") {
		return fmt.Errorf("invalid rest url: %s", c.Exchange.RestURL)
	}
	if !strings.HasPrefix(c.Exchange.WSURL, "ws://") && !strings.HasPrefix(c.Exchange.WSURL, "wss://") {
		return fmt.Errorf("invalid ws url: %s", c.Exchange.WSURL)
	}
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("TEGRO_PRIVATE_KEY is required")
	}
	if len(c.Trading.Pairs) == 0 {
		return fmt.Errorf("at least one trading pair is required")
	}
	for _, p := range c.Trading.Pairs {
		if strings.Count(p, "-") != 1 {
			return fmt.Errorf("invalid trading pair %q, want BASE-QUOTE", p)
		}
	}
	if c.Trading.ShortPollInterval <= 0 || c.Trading.LongPollInterval < c.Trading.ShortPollInterval {
		return fmt.Errorf("poll intervals must satisfy 0 < short <= long")
	}
	if c.Trading.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.Trading.FillRetention <= c.Trading.TradeLookback {
		return fmt.Errorf("fill retention must exceed the trade lookback")
	}
	if c.Trading.MaxFetches <= 0 {
		return fmt.Errorf("max concurrent fetches must be positive")
	}
	return nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func setMillis(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(ms) * time.Millisecond
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
