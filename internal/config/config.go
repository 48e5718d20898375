// Package config loads lmsseed settings.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// LMSSEED_* environment variables. Command-line flags are applied last by
// the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all environment overrides, e.g. LMSSEED_SERVER.
const EnvPrefix = "lmsseed"

// Store drivers.
const (
	DriverPsql = "psql"
	DriverPgx  = "pgx"
)

// MissingTokenPolicy decides what happens when a principal has no entry in
// the canonical credential table.
type MissingTokenPolicy string

const (
	MissingTokenFail MissingTokenPolicy = "fail"
	MissingTokenSkip MissingTokenPolicy = "skip"
)

// Valid returns true if the policy is a known value.
func (p MissingTokenPolicy) Valid() bool {
	switch p {
	case MissingTokenFail, MissingTokenSkip:
		return true
	default:
		return false
	}
}

// StoreConfig describes how the backing store is reached.
type StoreConfig struct {
	Driver   string   `yaml:"driver"   envconfig:"DRIVER"`
	Database string   `yaml:"database" envconfig:"DATABASE"`
	PsqlPath string   `yaml:"psqlPath" envconfig:"PSQL_PATH"`
	PsqlArgs []string `yaml:"psqlArgs" envconfig:"PSQL_ARGS"`
	DSN      string   `yaml:"dsn"      envconfig:"DSN"`
}

type Config struct {
	Server         string        `yaml:"server"         envconfig:"SERVER"`
	APIBase        string        `yaml:"apiBase"        envconfig:"API_BASE"`
	LoginPath      string        `yaml:"loginPath"      envconfig:"LOGIN_PATH"`
	ReadyAttempts  int           `yaml:"readyAttempts"  envconfig:"READY_ATTEMPTS"`
	ReadyInterval  time.Duration `yaml:"readyInterval"  envconfig:"READY_INTERVAL"`
	RequestTimeout time.Duration `yaml:"requestTimeout" envconfig:"REQUEST_TIMEOUT"`
	// SettleDelay is slept after every successful POST/PUT because the LMS
	// may acknowledge a write before it is visible to the next call.
	SettleDelay time.Duration `yaml:"settleDelay" envconfig:"SETTLE_DELAY"`

	RootAccountID      int64  `yaml:"rootAccountId"      envconfig:"ROOT_ACCOUNT_ID"`
	BootstrapPrincipal string `yaml:"bootstrapPrincipal" envconfig:"BOOTSTRAP_PRINCIPAL"`
	BootstrapUserID    int64  `yaml:"bootstrapUserId"    envconfig:"BOOTSTRAP_USER_ID"`
	BootstrapAccountID int64  `yaml:"bootstrapAccountId" envconfig:"BOOTSTRAP_ACCOUNT_ID"`
	CoursePrincipal    string `yaml:"coursePrincipal"    envconfig:"COURSE_PRINCIPAL"`
	GradingPrincipal   string `yaml:"gradingPrincipal"   envconfig:"GRADING_PRINCIPAL"`

	DataDir      string             `yaml:"dataDir"      envconfig:"DATA_DIR"`
	TokensFile   string             `yaml:"tokensFile"   envconfig:"TOKENS_FILE"`
	MissingToken MissingTokenPolicy `yaml:"missingToken" envconfig:"MISSING_TOKEN"`
	JournalPath  string             `yaml:"journalPath"  envconfig:"JOURNAL_PATH"`

	// Nested fields read LMSSEED_STORE_<FIELD>.
	Store StoreConfig `yaml:"store" envconfig:"STORE"`
}

// Default returns a Config populated with the built-in defaults. They match
// a stock development LMS image listening on localhost:3000.
func Default() *Config {
	return &Config{
		Server:             "http://127.0.0.1:3000",
		APIBase:            "api/v1",
		LoginPath:          "login/canvas",
		ReadyAttempts:      5,
		ReadyInterval:      5 * time.Second,
		RequestTimeout:     30 * time.Second,
		SettleDelay:        500 * time.Millisecond,
		RootAccountID:      1,
		BootstrapPrincipal: "server-owner",
		BootstrapUserID:    1,
		BootstrapAccountID: 1,
		CoursePrincipal:    "course-owner",
		GradingPrincipal:   "course-owner",
		DataDir:            "data",
		MissingToken:       MissingTokenFail,
		Store: StoreConfig{
			Driver:   DriverPsql,
			Database: "canvas_development",
			PsqlPath: "psql",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (if non-empty)
// and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server == "" {
		return errors.New("server address is required")
	}
	if c.ReadyAttempts <= 0 {
		return fmt.Errorf("readyAttempts must be positive, got %d", c.ReadyAttempts)
	}
	if c.ReadyInterval < 0 || c.SettleDelay < 0 {
		return errors.New("readyInterval and settleDelay must not be negative")
	}
	if c.BootstrapPrincipal == "" {
		return errors.New("bootstrapPrincipal is required")
	}
	if !c.MissingToken.Valid() {
		return fmt.Errorf("invalid missingToken: %q (must be 'fail' or 'skip')", c.MissingToken)
	}
	switch c.Store.Driver {
	case DriverPsql:
		if c.Store.Database == "" {
			return errors.New("store.database is required for the psql driver")
		}
	case DriverPgx:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the pgx driver")
		}
	default:
		return fmt.Errorf("invalid store.driver: %q (must be 'psql' or 'pgx')", c.Store.Driver)
	}
	return nil
}

// BaseURL returns the server address without a trailing slash.
func (c *Config) BaseURL() string {
	return strings.TrimRight(c.Server, "/")
}
