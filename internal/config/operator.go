// Package config holds RalphX's two configuration layers: this file is the
// operator-level layer (global daemon/CLI settings), loaded once per
// process via a layered viper load. Loop Configuration (the declarative,
// per-loop YAML record from spec §3) lives in loop.go/loop_io.go instead —
// it is per-project, hand-editable, and never merged into this struct.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is RalphX's operator-level configuration.
type Config struct {
	Adapter    AdapterConfig    `mapstructure:"adapter"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Doctor     DoctorConfig     `mapstructure:"doctor"`
	Credential CredentialConfig `mapstructure:"credential"`
	Claim      ClaimConfig      `mapstructure:"claim"`
}

// AdapterConfig configures the LLM Subprocess Adapter's defaults.
type AdapterConfig struct {
	Binary                string        `mapstructure:"binary"`                  // CLI binary name/path, e.g. "claude"
	DefaultTimeout        time.Duration `mapstructure:"default_timeout"`         // hard wall-clock ceiling per iteration
	SessionDiscoveryPoll  time.Duration `mapstructure:"session_discovery_poll"`  // poll interval while waiting for the session file to appear
	SessionDiscoveryLimit time.Duration `mapstructure:"session_discovery_limit"` // max time to wait for the session file
	TailPollInterval      time.Duration `mapstructure:"tail_poll_interval"`      // JSONL tail poll interval
	DrainBufferCap        int           `mapstructure:"drain_buffer_cap"`        // bytes; pipe-drain hard cap
	TerminationGrace      time.Duration `mapstructure:"termination_grace"`       // SIGTERM → SIGKILL grace window
}

// DatabaseConfig selects and connects the Project Store's backing database.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig controls the shared zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DoctorConfig tunes the four staleness conditions the Doctor checks.
type DoctorConfig struct {
	MaxInactivityMinutes int           `mapstructure:"max_inactivity_minutes"`
	StaleClaimTimeout    time.Duration `mapstructure:"stale_claim_timeout"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
}

// CredentialConfig tunes the Credential Store's refresh behavior.
type CredentialConfig struct {
	RefreshWindow    time.Duration `mapstructure:"refresh_window"`    // refresh when expiry is within this window
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`  // background refresh task tick
	DotenvBootstrap  bool          `mapstructure:"dotenv_bootstrap"`  // loaded but not read by any command; .env seeding runs only via an explicit credential.BootstrapFromDotenv call
}

// ClaimConfig holds claim retry settings. The Work-Item Claim Engine does
// not read it: its retry count and back-off are the fixed claimRetries and
// claimBaseWait constants in internal/claim.
type ClaimConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBaseWait time.Duration `mapstructure:"retry_base_wait"`
}

// Load builds Config from layered sources, lowest to highest precedence:
// built-in defaults → global ~/.ralphx/config.yaml → project-local
// ./.ralphx/config.yaml → RALPHX_-prefixed environment variables.
func Load(projectDir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".ralphx")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	if projectDir != "" {
		localPath := filepath.Join(projectDir, ".ralphx", "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				if err := v.MergeConfigMap(v2.AllSettings()); err != nil {
					return nil, fmt.Errorf("merge project config: %w", err)
				}
			}
		}
	}

	v.SetEnvPrefix("RALPHX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("adapter.binary", "claude")
	v.SetDefault("adapter.default_timeout", "10m")
	v.SetDefault("adapter.session_discovery_poll", "200ms")
	v.SetDefault("adapter.session_discovery_limit", "15s")
	v.SetDefault("adapter.tail_poll_interval", "100ms")
	v.SetDefault("adapter.drain_buffer_cap", 4*1024*1024)
	v.SetDefault("adapter.termination_grace", "5s")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", ".ralphx/ralphx.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("doctor.max_inactivity_minutes", 10)
	v.SetDefault("doctor.stale_claim_timeout", "30m")
	v.SetDefault("doctor.sweep_interval", "5m")

	v.SetDefault("credential.refresh_window", "4h")
	v.SetDefault("credential.refresh_interval", "30m")
	v.SetDefault("credential.dotenv_bootstrap", true)

	v.SetDefault("claim.max_retries", 3)
	v.SetDefault("claim.retry_base_wait", "2s")
}
