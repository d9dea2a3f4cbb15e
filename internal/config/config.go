// Package config loads and validates the YAML scan configuration, in the
// same read/unmarshal/validate/default shape as the teacher's original
// config loader, extended with scan-mode and per-endpoint chunker knobs.
package config

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"

	yaml "gopkg.in/yaml.v2"
)

// ContractConfig describes one contract: its name, address and ABI file.
// Events is accepted but not read: in any_event mode every event declared
// in the ABI is decoded, and in any_contract mode the event set comes from
// the top-level Events field, since the schema is keyed by event signature,
// not by contract.
type ContractConfig struct {
	Name      string   `yaml:"name"`
	Address   string   `yaml:"address"`
	ABI       string   `yaml:"abi"`
	ParsedABI *abi.ABI `yaml:"-"`
	Events    []string `yaml:"events"`
}

// StorageConfig configures the optional downstream sink fan-out (§5.7 of
// the scan spec), independent of the store.Store durability path.
type StorageConfig struct {
	Type  string `yaml:"type"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	CSV struct {
		OutputDir string `yaml:"output_dir"`
	} `yaml:"csv"`
}

// RetryConfig bounds provider dial retries and sink write retries.
type RetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

// EndpointConfig is one RPC endpoint's URL plus its adaptive chunker
// tuning knobs, loaded directly into an endpoint.Config by the caller.
type EndpointConfig struct {
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	MaxChunkSize   uint64   `yaml:"max_chunk_size"`
	StartChunkSize uint64   `yaml:"start_chunk_size"`
	EventsTarget   float64  `yaml:"events_target"`
	PollSeconds    float64  `yaml:"poll_interval"`
	ActiveStates   []string `yaml:"active_states"`
	FailBudgetSoft int      `yaml:"fail_budget_soft"`
	FailBudgetHard int      `yaml:"fail_budget_hard"`
}

// PollInterval converts the configured poll_interval (seconds) into a
// time.Duration, defaulting to 3s when unset.
func (e EndpointConfig) PollInterval() time.Duration {
	if e.PollSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(e.PollSeconds * float64(time.Second))
}

// ScanMode selects how logs are filtered and schema entries resolved.
type ScanMode string

const (
	ModeAnyEvent    ScanMode = "any_event"
	ModeAnyContract ScanMode = "any_contract"
)

// CurrentKeyword is the sentinel start/end value resolved against the
// chain head at call time rather than being a fixed block number.
const CurrentKeyword = "current"

// Config is the top-level scan configuration.
type Config struct {
	Mode          ScanMode         `yaml:"mode"`
	StartBlock    string           `yaml:"start_block"`
	EndBlock      string           `yaml:"end_block"`
	LiveThreshold uint64           `yaml:"live_threshold"`
	Contracts     []ContractConfig `yaml:"contracts"`
	Events        []string         `yaml:"events"` // any_contract mode only
	Endpoints     []EndpointConfig `yaml:"endpoints"`
	Storage       StorageConfig    `yaml:"storage"`
	Retry         RetryConfig      `yaml:"retry"`
}

// IsLive reports whether EndBlock requests live-tail scanning.
func (c *Config) IsLive() bool {
	return c.EndBlock == "latest"
}

// Load reads and unmarshals the configuration file located at the given
// path, resolving and parsing every contract's ABI relative to the config
// file's directory.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := ioutil.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.validateAndFillDefaults(filepath.Dir(absPath)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyRequestDefaults runs the same validation and defaulting Load applies
// to a YAML file, minus ABI file resolution: a JobRequest's ABI paths are
// resolved and parsed later, on demand, by bootstrap.Build.
func (cfg *Config) ApplyRequestDefaults() error {
	return cfg.validateCommon()
}

func (cfg *Config) validateAndFillDefaults(cfgDir string) error {
	if err := cfg.validateCommon(); err != nil {
		return err
	}

	for i, c := range cfg.Contracts {
		abiPath := c.ABI
		if !filepath.IsAbs(abiPath) {
			abiPath = filepath.Join(cfgDir, abiPath)
		}
		if _, err := os.Stat(abiPath); err != nil {
			return fmt.Errorf("abi file for contract '%s' not found: %w", c.Name, err)
		}
		abiBytes, err := ioutil.ReadFile(abiPath)
		if err != nil {
			return fmt.Errorf("failed to read abi file for contract '%s': %w", c.Name, err)
		}
		parsed, err := abi.JSON(bytes.NewReader(abiBytes))
		if err != nil {
			return fmt.Errorf("failed to parse abi for contract '%s': %w", c.Name, err)
		}
		cfg.Contracts[i].ParsedABI = &parsed
		cfg.Contracts[i].ABI = abiPath
	}

	return nil
}

// validateCommon validates and defaults every field that doesn't require
// touching the filesystem, shared by Load (YAML files) and
// ApplyRequestDefaults (HTTP job requests).
func (cfg *Config) validateCommon() error {
	if cfg.Mode == "" {
		cfg.Mode = ModeAnyEvent
	}
	if cfg.Mode != ModeAnyEvent && cfg.Mode != ModeAnyContract {
		return fmt.Errorf("unsupported mode: %s", cfg.Mode)
	}

	if cfg.StartBlock == "" {
		cfg.StartBlock = "0"
	}
	if cfg.EndBlock == "" {
		cfg.EndBlock = "latest"
	}

	if len(cfg.Contracts) == 0 {
		return fmt.Errorf("at least one contract must be defined")
	}
	if cfg.Mode == ModeAnyContract && len(cfg.Events) == 0 {
		return fmt.Errorf("any_contract mode requires at least one event in 'events'")
	}
	for i, c := range cfg.Contracts {
		if c.Name == "" {
			return fmt.Errorf("contract at index %d is missing name", i)
		}
		if c.Address == "" {
			return fmt.Errorf("contract '%s' is missing address", c.Name)
		}
		if c.ABI == "" {
			return fmt.Errorf("contract '%s' is missing abi path", c.Name)
		}
	}

	if len(cfg.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint must be defined")
	}
	for i, e := range cfg.Endpoints {
		if e.URL == "" {
			return fmt.Errorf("endpoint at index %d is missing url", i)
		}
		if e.Name == "" {
			cfg.Endpoints[i].Name = fmt.Sprintf("endpoint-%d", i)
		}
	}

	switch cfg.Storage.Type {
	case "", "none":
	case "csv":
		if cfg.Storage.CSV.OutputDir == "" {
			return fmt.Errorf("storage.csv.output_dir is required when storage type is csv")
		}
	case "mysql":
		if cfg.Storage.MySQL.DSN == "" {
			return fmt.Errorf("storage.mysql.dsn is required when storage type is mysql")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = 3
	}
	if cfg.Retry.DelayMS == 0 {
		cfg.Retry.DelayMS = 1500
	}

	return nil
}
