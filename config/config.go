package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Provider struct {
	Enabled bool   `yaml:"enabled"`
	WsURL   string `yaml:"ws_url"`
	RestURL string `yaml:"rest_url"`
	// Markets overrides derived venue ids, e.g. BTC/USD: XBTUSD.
	Markets map[string]string `yaml:"markets"`
}

type Config struct {
	Debug bool `yaml:"debug"`

	Logging struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`

	RPC struct {
		Addr string `yaml:"addr"`
	} `yaml:"rpc"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Stream struct {
		SnapshotWarmup time.Duration `yaml:"snapshot_warmup"`
		TradesLimit    int           `yaml:"trades_limit"`
		GapLimit       int           `yaml:"gap_limit"`
		QueueSize      int           `yaml:"queue_size"`
	} `yaml:"stream"`

	Snapshot struct {
		MaxTries uint          `yaml:"max_tries"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"snapshot"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
		// Books published to the topic, as provider:BASE/QUOTE.
		Books []string `yaml:"books"`
		Depth int      `yaml:"depth"`
	} `yaml:"kafka"`

	Kucoin struct {
		APIKey     string `yaml:"api_key"`
		SecretKey  string `yaml:"secret_key"`
		Passphrase string `yaml:"passphrase"`
	} `yaml:"kucoin"`

	Providers map[string]Provider `yaml:"providers"`
}

var KnownProviders = []string{"binance", "bitmex", "kucoin", "ripio"}

func Default() *Config {
	c := &Config{}
	c.Logging.Level = "info"
	c.Logging.Format = "text"
	c.Logging.MaxSizeMB = 100
	c.Logging.MaxBackups = 3
	c.Logging.MaxAgeDays = 28
	c.RPC.Addr = ":50051"
	c.Metrics.Addr = ":9090"
	c.Stream.SnapshotWarmup = 500 * time.Millisecond
	c.Stream.TradesLimit = 1000
	c.Stream.GapLimit = 3
	c.Stream.QueueSize = 1024
	c.Snapshot.MaxTries = 3
	c.Snapshot.Timeout = 10 * time.Second
	c.Kafka.Topic = "orderbooks"
	c.Kafka.Depth = 20

	c.Providers = make(map[string]Provider, len(KnownProviders))
	for _, name := range KnownProviders {
		c.Providers[name] = Provider{Enabled: true}
	}
	return c
}

// Load reads .env (if present), the YAML file at path (if any) and then the
// environment, in increasing order of precedence.
func Load(path string) (*Config, error) {
	// a missing .env is fine, the environment may be set by other means
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Stream.SnapshotWarmup < 0 {
		errs = append(errs, fmt.Errorf("stream.snapshot_warmup must not be negative"))
	}
	if c.Stream.TradesLimit <= 0 {
		errs = append(errs, fmt.Errorf("stream.trades_limit must be positive"))
	}
	if c.Snapshot.MaxTries == 0 {
		errs = append(errs, fmt.Errorf("snapshot.max_tries must be positive"))
	}

	for name, p := range c.Providers {
		if !isKnownProvider(name) {
			errs = append(errs, fmt.Errorf("unknown provider %q", name))
			continue
		}
		if p.WsURL != "" && !strings.HasPrefix(p.WsURL, "ws://") && !strings.HasPrefix(p.WsURL, "wss://") {
			errs = append(errs, fmt.Errorf("invalid %s ws url: %s", name, p.WsURL))
		}
	}

	for _, book := range c.Kafka.Books {
		name, symbol, ok := strings.Cut(book, ":")
		if !ok || symbol == "" || !isKnownProvider(name) {
			errs = append(errs, fmt.Errorf("invalid kafka book %q, want provider:BASE/QUOTE", book))
		}
	}
	if len(c.Kafka.Books) > 0 && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, fmt.Errorf("kafka.books needs kafka.brokers"))
	}

	return errors.Join(errs...)
}

// EnabledProviders lists enabled providers in a stable order.
func (c *Config) EnabledProviders() []string {
	var out []string
	for _, name := range KnownProviders {
		if p, ok := c.Providers[name]; ok && p.Enabled {
			out = append(out, name)
		}
	}
	return out
}

func isKnownProvider(name string) bool {
	for _, p := range KnownProviders {
		if p == name {
			return true
		}
	}
	return false
}

func overrideWithEnv(c *Config) {
	if v := os.Getenv("DEBUG"); v == "1" || v == "true" {
		c.Debug = true
		c.Logging.Level = "debug"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("RPC_ADDR"); v != "" {
		c.RPC.Addr = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitCSV(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("KAFKA_BOOKS"); v != "" {
		c.Kafka.Books = splitCSV(v)
	}

	// credentials only from env
	if v := os.Getenv("KUCOIN_API_KEY"); v != "" {
		c.Kucoin.APIKey = v
	}
	if v := os.Getenv("KUCOIN_SECRET_KEY"); v != "" {
		c.Kucoin.SecretKey = v
	}
	if v := os.Getenv("KUCOIN_PASSPHRASE"); v != "" {
		c.Kucoin.Passphrase = v
	}

	if c.Providers == nil {
		c.Providers = make(map[string]Provider)
	}
	for _, name := range KnownProviders {
		p, ok := c.Providers[name]
		prefix := strings.ToUpper(name)
		if v := os.Getenv(prefix + "_WS_URL"); v != "" {
			p.WsURL = v
			ok = true
		}
		if v := os.Getenv(prefix + "_REST_URL"); v != "" {
			p.RestURL = v
			ok = true
		}
		if v := os.Getenv(prefix + "_ENABLED"); v != "" {
			p.Enabled = v == "1" || v == "true"
			ok = true
		}
		if ok {
			c.Providers[name] = p
		}
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
