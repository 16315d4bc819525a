package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Network endpoints
const (
	MainnetIndexerWS = "wss://indexer.dydx.trade/v4/ws"
	TestnetIndexerWS = "wss://indexer.v4testnet.dydx.exchange/v4/ws"
)

// Config holds all configuration for the desk
type Config struct {
	// Mode
	Debug bool `yaml:"debug"`

	// Network selection, key into Networks
	Network  string            `yaml:"network"`
	Networks map[string]string `yaml:"networks"` // name -> indexer websocket url

	// Markets
	DefaultMarket string `yaml:"default_market"`

	// Account whose positions are tracked
	SubaccountAddress string `yaml:"subaccount_address"`
	SubaccountNumber  int    `yaml:"subaccount_number"`

	// Telegram
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`

	// Feed
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// Database
	DatabasePath string `yaml:"database_path"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		Network: "mainnet",
		Networks: map[string]string{
			"mainnet": MainnetIndexerWS,
			"testnet": TestnetIndexerWS,
		},
		DefaultMarket:  "ETH-USD",
		ReconnectDelay: 5 * time.Second,
		DatabasePath:   "data/perpdesk.db",
	}
}

// Load builds the configuration: defaults, then the optional YAML file named by
// PERPDESK_CONFIG, then environment variables
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("PERPDESK_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Debug = getEnvBool("DEBUG", cfg.Debug)
	cfg.Network = getEnv("NETWORK", cfg.Network)
	cfg.DefaultMarket = getEnv("DEFAULT_MARKET", cfg.DefaultMarket)
	cfg.SubaccountAddress = getEnv("DYDX_ADDRESS", cfg.SubaccountAddress)
	cfg.SubaccountNumber = getEnvInt("DYDX_SUBACCOUNT", cfg.SubaccountNumber)
	cfg.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.TelegramToken)
	cfg.ReconnectDelay = getEnvDuration("WS_RECONNECT_DELAY", cfg.ReconnectDelay)
	cfg.DatabasePath = getEnv("DATABASE_PATH", cfg.DatabasePath)

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	// INDEXER_WS overrides the endpoint of the selected network only
	if url := os.Getenv("INDEXER_WS"); url != "" {
		cfg.Networks[cfg.Network] = url
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	file := Config{}
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	c.merge(&file)
	return nil
}

// merge copies every non-zero field of o into c
func (c *Config) merge(o *Config) {
	if o.Debug {
		c.Debug = true
	}
	if o.Network != "" {
		c.Network = o.Network
	}
	for name, url := range o.Networks {
		c.Networks[name] = url
	}
	if o.DefaultMarket != "" {
		c.DefaultMarket = o.DefaultMarket
	}
	if o.SubaccountAddress != "" {
		c.SubaccountAddress = o.SubaccountAddress
	}
	if o.SubaccountNumber != 0 {
		c.SubaccountNumber = o.SubaccountNumber
	}
	if o.TelegramToken != "" {
		c.TelegramToken = o.TelegramToken
	}
	if o.TelegramChatID != 0 {
		c.TelegramChatID = o.TelegramChatID
	}
	if o.ReconnectDelay != 0 {
		c.ReconnectDelay = o.ReconnectDelay
	}
	if o.DatabasePath != "" {
		c.DatabasePath = o.DatabasePath
	}
}

// Validate checks the fields the desk cannot run without
func (c *Config) Validate() error {
	if c.DefaultMarket == "" {
		return fmt.Errorf("default_market is required")
	}
	if _, ok := c.Networks[c.Network]; !ok {
		return fmt.Errorf("unknown network %q (have %s)", c.Network, strings.Join(c.NetworkNames(), ", "))
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect_delay must be positive")
	}
	if c.SubaccountNumber < 0 {
		return fmt.Errorf("subaccount_number must not be negative")
	}
	return nil
}

// IndexerURL returns the websocket endpoint of a network
func (c *Config) IndexerURL(network string) (string, bool) {
	url, ok := c.Networks[network]
	return url, ok
}

// NetworkNames returns the configured network names, sorted
func (c *Config) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for name := range c.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SubaccountID is the id used on the subaccounts channel
func (c *Config) SubaccountID() string {
	if c.SubaccountAddress == "" {
		return ""
	}
	return fmt.Sprintf("%s/%d", c.SubaccountAddress, c.SubaccountNumber)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
