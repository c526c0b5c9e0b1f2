package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tkingovr/ssh-agent-guard/internal/confirm"
	"github.com/tkingovr/ssh-agent-guard/internal/filter"
	"github.com/tkingovr/ssh-agent-guard/internal/policy"
)

// Config is the runtime configuration for the filter.
type Config struct {
	PolicyFile *policy.PolicyFile
	PolicyPath string

	Name               string
	Socket             string
	Upstream           string
	PersistentUpstream bool
	MaxMessageSize     uint32
	LogDir             string

	// DashboardAddr is empty when the dashboard is disabled.
	DashboardAddr string

	ConfirmMethod  string
	ConfirmProgram string
	ConfirmTimeout time.Duration
	ConfirmFields  []string

	RateLimit *filter.RateLimitConfig
}

// Load reads a policy YAML file and produces a runtime Config.
func Load(path string) (*Config, error) {
	pf, err := policy.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return fromPolicy(pf, path)
}

// LoadBytes parses YAML data and produces a runtime Config.
func LoadBytes(data []byte) (*Config, error) {
	pf, err := policy.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return fromPolicy(pf, "")
}

func fromPolicy(pf *policy.PolicyFile, path string) (*Config, error) {
	s := pf.Settings
	cfg := &Config{
		PolicyFile:         pf,
		PolicyPath:         path,
		Name:               s.Name,
		Socket:             policy.ExpandHome(s.Socket),
		Upstream:           policy.ExpandHome(s.Upstream),
		PersistentUpstream: s.PersistentUpstream,
		MaxMessageSize:     s.MaxMessageSize,
		DashboardAddr:      s.DashboardAddr,
		ConfirmMethod:      DefaultConfirmMethod,
		ConfirmTimeout:     DefaultConfirmTimeout,
		ConfirmFields:      confirm.DefaultFields,
	}

	if cfg.Upstream == "" {
		cfg.Upstream = os.Getenv(UpstreamEnv)
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}

	// Log directory
	cfg.LogDir = s.LogDir
	if cfg.LogDir == "" {
		cfg.LogDir = DefaultLogDir()
	}
	cfg.LogDir = policy.ExpandHome(cfg.LogDir)

	// Confirmation
	if c := s.Confirm; c != nil {
		if c.Method != "" {
			cfg.ConfirmMethod = c.Method
		}
		cfg.ConfirmProgram = c.Program
		if len(c.Fields) > 0 {
			cfg.ConfirmFields = c.Fields
		}
		if c.Timeout != "" {
			d, err := time.ParseDuration(c.Timeout)
			if err != nil {
				return nil, fmt.Errorf("invalid confirm timeout %q: %w", c.Timeout, err)
			}
			if d <= 0 {
				return nil, fmt.Errorf("confirm timeout must be positive, got %s", d)
			}
			cfg.ConfirmTimeout = d
		}
	}

	rl, err := filter.RateLimitConfigFromPolicy(s.RateLimit)
	if err != nil {
		return nil, err
	}
	cfg.RateLimit = rl

	return cfg, nil
}

// DefaultConfig returns a config with defaults for when no config file is
// given. Its allow-list is empty until entries are added.
func DefaultConfig() *Config {
	cfg, err := fromPolicy(&policy.PolicyFile{Version: 1}, "")
	if err != nil {
		// The empty policy has nothing to reject.
		panic(err)
	}
	return cfg
}

// AddEntries appends allow entries after the file's own entries and
// revalidates the policy.
func (c *Config) AddEntries(entries ...policy.Entry) error {
	c.PolicyFile.Allow = append(c.PolicyFile.Allow, entries...)
	if err := policy.Validate(c.PolicyFile); err != nil {
		c.PolicyFile.Allow = c.PolicyFile.Allow[:len(c.PolicyFile.Allow)-len(entries)]
		return err
	}
	return nil
}

// EnableDashboard turns the dashboard on, at the default address unless
// one is configured.
func (c *Config) EnableDashboard() {
	if c.DashboardAddr == "" {
		c.DashboardAddr = DefaultDashboardAddr
	}
}

// MarshalYAML serializes the policy for display/export.
func (c *Config) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(c.PolicyFile)
}
