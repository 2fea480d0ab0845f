package commands

import (
	"errors"
	"fmt"
	"os"
	"steamcommunity/internal/history"
	"steamcommunity/internal/totp"
	"steamcommunity/lib/configutil"
	"strconv"
	"time"
)

const defaultPollInterval = 30 * time.Second

type Config struct {
	// IdentitySecret is the base64 (or hex) identity secret of the mobile
	// authenticator.
	IdentitySecret string   `json:"identity_secret"`
	Cookies        []string `json:"cookies"`
	// SteamID overrides the steam id learned from the steamLoginSecure cookie.
	SteamID           string         `json:"steam_id"`
	BaseUrl           string         `json:"base_url"`
	QueryTimeUrl      string         `json:"query_time_url"`
	Proxy             string         `json:"proxy"`
	UserAgent         string         `json:"user_agent"`
	RequestsPerSecond float64        `json:"requests_per_second"`
	PollInterval      string         `json:"poll_interval"`
	AutoAccept        bool           `json:"auto_accept"`
	History           history.Config `json:"history"`
	// HistoryRetention makes poll delete older history entries every hour.
	HistoryRetention string `json:"history_retention"`
}

// applyEnv lets secrets live in the environment (or a .env file) instead of
// the config file.
func (c *Config) applyEnv() {
	configutil.SetString(&c.IdentitySecret, "CONFIRMD_IDENTITY_SECRET")
	configutil.SetStrings(&c.Cookies, "CONFIRMD_COOKIES")
	configutil.SetString(&c.SteamID, "CONFIRMD_STEAM_ID")
	configutil.SetString(&c.PollInterval, "CONFIRMD_POLL_INTERVAL")
	configutil.SetBool(&c.AutoAccept, "CONFIRMD_AUTO_ACCEPT")
	configutil.SetString(&c.Proxy, "CONFIRMD_PROXY")
	configutil.SetString(&c.History.File, "CONFIRMD_HISTORY_FILE")
	configutil.SetString(&c.History.Url, "CONFIRMD_HISTORY_URL")
	configutil.SetString(&c.History.AuthToken, "CONFIRMD_HISTORY_AUTH_TOKEN")
	configutil.SetString(&c.HistoryRetention, "CONFIRMD_HISTORY_RETENTION")
}

// LoadConfig reads the config file (with its .local override) and applies
// environment overrides, a missing file is fine when everything comes from
// the environment.
func LoadConfig(path string) (Config, error) {
	config, err := configutil.ReadConfig[Config](path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	config.applyEnv()
	return config, nil
}

func (c Config) Interval() (time.Duration, error) {
	if c.PollInterval == "" {
		return defaultPollInterval, nil
	}
	interval, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("poll_interval: %w", err)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	return interval, nil
}

// Retention returns 0 if history is kept forever.
func (c Config) Retention() (time.Duration, error) {
	if c.HistoryRetention == "" {
		return 0, nil
	}
	retention, err := time.ParseDuration(c.HistoryRetention)
	if err != nil {
		return 0, fmt.Errorf("history_retention: %w", err)
	}
	return retention, nil
}

// Secret returns nil without an error if no identity secret is configured.
func (c Config) Secret() ([]byte, error) {
	if c.IdentitySecret == "" {
		return nil, nil
	}
	secret, err := totp.ParseSecret(c.IdentitySecret)
	if err != nil {
		return nil, fmt.Errorf("identity_secret: %w", err)
	}
	return secret, nil
}

func (c Config) ParsedSteamID() (uint64, error) {
	if c.SteamID == "" {
		return 0, nil
	}
	steamID, err := strconv.ParseUint(c.SteamID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("steam_id: %w", err)
	}
	return steamID, nil
}
