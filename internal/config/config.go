// Package config loads the daemon's config.json, the one ambient concern
// for which the corpus has no better-fitting library than encoding/json
// (see DESIGN.md).
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hkdb/aerion-sync/internal/account"
)

// AccountConfig is the on-disk shape of one accounts[] entry.
type AccountConfig struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	IMAPHost       string `json:"imap_host"`
	IMAPPort       int    `json:"imap_port"`
	IMAPSecurity   string `json:"imap_security"`
	IMAPUsername   string `json:"imap_username"`
	SMTPHost       string `json:"smtp_host"`
	SMTPPort       int    `json:"smtp_port"`
	SMTPSecurity   string `json:"smtp_security"`
	SMTPUsername   string `json:"smtp_username"`
	SyncIntervalSec int   `json:"sync_interval_seconds"`
	Enabled        *bool  `json:"enabled"`
}

// SyncConfig holds daemon-wide sync tunables.
type SyncConfig struct {
	IntervalSeconds int `json:"interval_seconds"`
}

// UIConfig holds the ui.* tunables parsed from config.json. ui.Service does
// not read them; its callers pass a page size to Page directly.
type UIConfig struct {
	PageSize               int `json:"page_size"`
	RefreshIntervalSeconds int `json:"refresh_interval_seconds"`
}

// Config is the fully parsed config.json.
type Config struct {
	DefaultAccount string          `json:"default_account"`
	Accounts       []AccountConfig `json:"accounts"`
	Sync           SyncConfig      `json:"sync"`
	UI             UIConfig        `json:"ui"`
}

const (
	defaultSyncIntervalSeconds = 300
	defaultPageSize            = 50
	defaultRefreshSeconds      = 5
)

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Sync.IntervalSeconds <= 0 {
		cfg.Sync.IntervalSeconds = defaultSyncIntervalSeconds
	}
	if cfg.UI.PageSize <= 0 {
		cfg.UI.PageSize = defaultPageSize
	}
	if cfg.UI.RefreshIntervalSeconds <= 0 {
		cfg.UI.RefreshIntervalSeconds = defaultRefreshSeconds
	}

	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("config: %s defines no accounts", path)
	}
	for i, a := range cfg.Accounts {
		if a.Email == "" {
			return nil, fmt.Errorf("config: accounts[%d] missing email", i)
		}
		if a.IMAPHost == "" {
			return nil, fmt.Errorf("config: accounts[%d] (%s) missing imap_host", i, a.Email)
		}
	}

	return &cfg, nil
}

// ResolveAccounts resolves every config.json entry into a runtime account.Account.
func (c *Config) ResolveAccounts() []account.Account {
	out := make([]account.Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		enabled := true
		if a.Enabled != nil {
			enabled = *a.Enabled
		}
		interval := a.SyncIntervalSec
		if interval <= 0 {
			interval = c.Sync.IntervalSeconds
		}
		out = append(out, account.Account{
			Key:          account.NormalizeKey(a.Email),
			Name:         a.Name,
			Email:        a.Email,
			IMAPHost:     a.IMAPHost,
			IMAPPort:     a.IMAPPort,
			IMAPSecurity: account.ParseSecurity(a.IMAPSecurity),
			IMAPUsername: a.IMAPUsername,
			SMTPHost:     a.SMTPHost,
			SMTPPort:     a.SMTPPort,
			SMTPSecurity: account.ParseSecurity(a.SMTPSecurity),
			SMTPUsername: a.SMTPUsername,
			SyncInterval: interval,
			Enabled:      enabled,
		})
	}
	return out
}
