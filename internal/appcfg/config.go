// Package appcfg loads the typed configuration record consumed at startup.
// It is read once from a JSON file, then overlaid with environment
// variables for anything that names one (credential references, the vault
// unlock key). Unknown JSON keys are tolerated: Load ignores them without
// failing, and it does not report or warn about them either.
package appcfg

import (
	"encoding/json"
	"fmt"
	"os"
)

// Profile gates whether the Premium tier is eligible at all.
type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileLab  Profile = "lab"
	ProfileProd Profile = "prod"
)

// Quota mirrors the data-model Quota: each field optional, absent = unbounded.
type Quota struct {
	MaxCallsPerRun  int64 `json:"max_calls_per_run,omitempty"`
	MaxTokensPerRun int64 `json:"max_tokens_per_run,omitempty"`
	MaxCallsPerDay  int64 `json:"max_calls_per_day,omitempty"`
}

// RetryPolicy configures the router's per-provider retry schedule.
type RetryPolicy struct {
	Attempts      int `json:"attempts"`
	BaseBackoffMs int `json:"base_backoff_ms"`
}

// ProviderCredential associates a provider id with the environment variable
// (or vault key) carrying its credential. Exactly one of EnvVar/VaultKey is
// normally set. The persisted ProviderRecord does not record which: its
// CredStore is "env" for any bound credential and "none" otherwise.
type ProviderCredential struct {
	ProviderID string `json:"provider_id"`
	Tier       string `json:"tier"`
	EnvVar     string `json:"env_var,omitempty"`
	VaultKey   string `json:"vault_key,omitempty"`
}

// Config is the fully-resolved, typed configuration for one process.
type Config struct {
	Profile Profile `json:"profile"`
	SafeMode bool   `json:"safe_mode"`

	DataRoot string `json:"data_root"`

	PremiumQuota Quota       `json:"premium_quota"`
	DefaultRetry RetryPolicy `json:"default_retry"`

	TriadRounds      int  `json:"triad_rounds"`
	WithTriadDefault bool `json:"with_triad_default"`

	FeedbackRatingThreshold int `json:"feedback_rating_threshold"`

	ProviderCredentials []ProviderCredential `json:"provider_credentials"`

	// VaultKeyEnv names the environment variable holding the vault master
	// password; resolved, not serialised, at load time.
	VaultKeyEnv string `json:"vault_key_env"`

	Temporal TemporalConfig `json:"temporal"`

	resolvedVaultKey string
}

// TemporalConfig configures the optional Temporal dispatch path. When
// HostPort is empty, the orchestrator always runs the local engine.
type TemporalConfig struct {
	HostPort  string `json:"host_port"`
	Namespace string `json:"namespace"`
	TaskQueue string `json:"task_queue"`
}

// VaultKey returns the resolved vault master password, if any.
func (c *Config) VaultKey() string {
	return c.resolvedVaultKey
}

// Load reads a JSON config file at path, applies defaults for unset fields,
// and resolves environment-variable overlays (credential env vars, vault
// key). Unknown JSON keys are tolerated rather than rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.applyDefaultsAndEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every optional field at its
// documented default, used both as the Load() base and directly by callers
// (e.g. tests) that want sane values without a file on disk.
func Default() *Config {
	return &Config{
		Profile:                 ProfileDev,
		TriadRounds:             1,
		FeedbackRatingThreshold: 8,
		DefaultRetry:            RetryPolicy{Attempts: 3, BaseBackoffMs: 200},
		VaultKeyEnv:             "NOESIS_VAULT_KEY",
		Temporal: TemporalConfig{
			Namespace: "default",
			TaskQueue: "noesis-pipeline",
		},
	}
}

func (c *Config) applyDefaultsAndEnv() error {
	if c.DataRoot == "" {
		return fmt.Errorf("config: data_root is required")
	}
	if c.TriadRounds < 1 {
		c.TriadRounds = 1
	}
	if c.DefaultRetry.Attempts < 1 {
		c.DefaultRetry.Attempts = 3
	}
	if c.DefaultRetry.BaseBackoffMs < 1 {
		c.DefaultRetry.BaseBackoffMs = 200
	}
	switch c.Profile {
	case ProfileDev, ProfileLab, ProfileProd:
	case "":
		c.Profile = ProfileDev
	default:
		return fmt.Errorf("config: invalid profile %q", c.Profile)
	}

	if c.VaultKeyEnv != "" {
		c.resolvedVaultKey = os.Getenv(c.VaultKeyEnv)
	}

	for i := range c.ProviderCredentials {
		if c.ProviderCredentials[i].EnvVar != "" {
			// Resolution happens at registry construction time; nothing about
			// the referenced env var (its name or whether it is set) is checked here.
			continue
		}
	}
	return nil
}

// PremiumAllowed reports whether the configured profile permits the Premium
// tier to be selected at all (§6: dev = forbidden; lab, prod = allowed).
func (c *Config) PremiumAllowed() bool {
	return c.Profile != ProfileDev
}
