// Package config loads and validates the daemon configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/ramonehamilton/Trade-Companion/internal/steam"
)

// Config represents the daemon configuration.
type Config struct {
	// Global configuration shared by every account
	Global GlobalConfig `toml:"global"`

	// IPC front-end configuration
	IPC IPCConfig `toml:"ipc"`

	// Database configuration
	Database DatabaseConfig `toml:"database"`

	// Accounts hosted by this process
	Accounts []AccountConfig `toml:"accounts"`
}

// GlobalConfig contains process-wide settings.
type GlobalConfig struct {
	StatisticsServer      string `toml:"statistics_server"`       // Matching directory host
	GroupID               uint64 `toml:"group_id"`                // Community group joined on logon (0 = skip)
	LoadBalancingDelay    int    `toml:"load_balancing_delay"`    // Seconds of extra start delay per account
	InventoryLimiterDelay int    `toml:"inventory_limiter_delay"` // Seconds to hold the inventory slot after a fetch
	WebLimiterDelay       int    `toml:"web_limiter_delay"`       // Milliseconds between requests per host (0 = no limiting)
	ConnectionTimeout     int    `toml:"connection_timeout"`      // Seconds per request
	WebProxy              string `toml:"web_proxy"`               // Proxy URI for platform traffic
}

// IPCConfig contains local HTTP front-end settings.
type IPCConfig struct {
	Enabled  bool   `toml:"enabled"`  // Serve the local API
	Port     int    `toml:"port"`     // Listen port
	Password string `toml:"password"` // Enables auth middleware when set
}

// DatabaseConfig contains persistence settings.
type DatabaseConfig struct {
	Path string `toml:"path"` // SQLite file path
}

// AccountConfig describes one hosted account.
type AccountConfig struct {
	Name               string   `toml:"name"`                // Account login name
	SteamID            uint64   `toml:"steam_id"`            // 64-bit account identifier
	ParentalCode       string   `toml:"parental_code"`       // 4-digit parental PIN, if any
	TradingPreferences []string `toml:"trading_preferences"` // steam_trade_matcher, match_actively, ...
	MatchableTypes     []string `toml:"matchable_types"`     // trading_card, foil_trading_card, ...
	Blacklist          []uint64 `toml:"blacklist"`           // Partners never traded with
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			StatisticsServer:      "tradematcher-directory.net",
			LoadBalancingDelay:    10,
			InventoryLimiterDelay: 3,
			WebLimiterDelay:       300,
			ConnectionTimeout:     60,
		},
		IPC: IPCConfig{
			Enabled: true,
			Port:    1242,
		},
		Database: DatabaseConfig{
			Path: "trade-companion.db",
		},
	}
}

// Load reads the configuration from path, falling back to defaults when the
// file does not exist, and applies environment overrides.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	var env envOverrides
	if err := envconfig.Process("trade_companion", &env); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	env.apply(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// envOverrides are environment settings that beat the file, so secrets can
// stay out of it.
type envOverrides struct {
	IPCPassword      string `envconfig:"IPC_PASSWORD"`
	StatisticsServer string `envconfig:"STATISTICS_SERVER"`
	DatabasePath     string `envconfig:"DATABASE_PATH"`
	WebProxy         string `envconfig:"WEB_PROXY"`
}

func (e *envOverrides) apply(config *Config) {
	if e.IPCPassword != "" {
		config.IPC.Password = e.IPCPassword
	}
	if e.StatisticsServer != "" {
		config.Global.StatisticsServer = e.StatisticsServer
	}
	if e.DatabasePath != "" {
		config.Database.Path = e.DatabasePath
	}
	if e.WebProxy != "" {
		config.Global.WebProxy = e.WebProxy
	}
}

// Validate validates the configuration values.
func (c *Config) Validate() error {
	if c.Global.StatisticsServer == "" {
		return fmt.Errorf("statistics server cannot be empty")
	}
	if c.Global.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive: %d", c.Global.ConnectionTimeout)
	}
	if c.Global.WebLimiterDelay < 0 {
		return fmt.Errorf("web limiter delay cannot be negative: %d", c.Global.WebLimiterDelay)
	}
	if c.Global.InventoryLimiterDelay < 0 {
		return fmt.Errorf("inventory limiter delay cannot be negative: %d", c.Global.InventoryLimiterDelay)
	}
	if c.Global.WebProxy != "" {
		if _, err := url.Parse(c.Global.WebProxy); err != nil {
			return fmt.Errorf("invalid web proxy %q: %w", c.Global.WebProxy, err)
		}
	}
	if c.IPC.Enabled && (c.IPC.Port <= 0 || c.IPC.Port > 65535) {
		return fmt.Errorf("invalid IPC port: %d", c.IPC.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	for i := range c.Accounts {
		account := &c.Accounts[i]
		if account.Name == "" {
			return fmt.Errorf("account %d has no name", i)
		}
		if account.SteamID == 0 {
			return fmt.Errorf("account %q has no steam_id", account.Name)
		}
		if code := account.ParentalCode; code != "" && len(code) != 4 {
			return fmt.Errorf("account %q has an invalid parental code", account.Name)
		}
		if _, err := account.Preferences(); err != nil {
			return fmt.Errorf("account %q: %w", account.Name, err)
		}
		if _, err := account.ItemTypes(); err != nil {
			return fmt.Errorf("account %q: %w", account.Name, err)
		}
	}
	return nil
}

// Preferences parses the account's trading preference names.
func (a *AccountConfig) Preferences() (steam.TradingPreferences, error) {
	prefs := steam.TradingPreferenceNone
	for _, name := range a.TradingPreferences {
		switch strings.ToLower(name) {
		case "accept_donations":
			prefs |= steam.TradingPreferenceAcceptDonations
		case "steam_trade_matcher":
			prefs |= steam.TradingPreferenceSteamTradeMatcher
		case "match_everything":
			prefs |= steam.TradingPreferenceMatchEverything
		case "match_actively":
			prefs |= steam.TradingPreferenceMatchActively
		default:
			return prefs, fmt.Errorf("unknown trading preference %q", name)
		}
	}
	return prefs, nil
}

// ItemTypes parses the account's matchable type names.
func (a *AccountConfig) ItemTypes() ([]steam.ItemType, error) {
	types := make([]steam.ItemType, 0, len(a.TradingPreferences))
	for _, name := range a.MatchableTypes {
		switch strings.ToLower(name) {
		case "trading_card":
			types = append(types, steam.ItemTypeTradingCard)
		case "foil_trading_card":
			types = append(types, steam.ItemTypeFoilTradingCard)
		case "emoticon":
			types = append(types, steam.ItemTypeEmoticon)
		case "profile_background":
			types = append(types, steam.ItemTypeProfileBackground)
		default:
			return nil, fmt.Errorf("unknown matchable type %q", name)
		}
	}
	return types, nil
}
