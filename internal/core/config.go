package core

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

const (
	// DefaultConfigPath is read when OL_INIT_CONFIG is not set
	DefaultConfigPath = "/etc/ol-init.hcl"

	// ConfigPathEnv overrides the config file location. The supervisor
	// forwards all of its arguments, so it has no flag for this.
	ConfigPathEnv = "OL_INIT_CONFIG"
)

// Launch policies
const (
	PolicyEvery = "every" // every trigger launches another workload
	PolicyOnce  = "once"  // only the first successful launch counts
)

// Config is the global configuration instance
var Config *Configuration

// Configuration represents the complete ol-init configuration
type Configuration struct {
	Verbose      int           // Verbosity level, 1 enables debug logging
	JournalPath  string        // SQLite launch journal, empty disables it
	ReapInterval time.Duration // Backstop interval for reaping without SIGCHLD
	Launch       LaunchConfig
}

// LaunchConfig controls how launch triggers are handled
type LaunchConfig struct {
	Policy      string // PolicyEvery or PolicyOnce
	TriggerFile string // File whose creation triggers a launch, empty disables it
}

// HCL parsing structs

type hclConfig struct {
	Verbose      int        `hcl:"verbose,optional"`
	Journal      string     `hcl:"journal,optional"`
	ReapInterval string     `hcl:"reap_interval,optional"`
	Launch       *hclLaunch `hcl:"launch,block"`
}

type hclLaunch struct {
	Policy      string `hcl:"policy,optional"`
	TriggerFile string `hcl:"trigger_file,optional"`
}

// LoadConfig loads the HCL configuration file and returns a Configuration struct
func LoadConfig(filename string) (*Configuration, error) {
	var hclCfg hclConfig

	err := hclsimple.DecodeFile(filename, nil, &hclCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HCL config: %w", err)
	}

	cfg := GetDefaultConfig()
	cfg.Verbose = hclCfg.Verbose
	cfg.JournalPath = hclCfg.Journal

	if hclCfg.ReapInterval != "" {
		interval, err := time.ParseDuration(hclCfg.ReapInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid reap_interval %q: %w", hclCfg.ReapInterval, err)
		}
		if interval <= 0 {
			return nil, fmt.Errorf("reap_interval must be positive, got %s", interval)
		}
		cfg.ReapInterval = interval
	}

	if hclCfg.Launch != nil {
		switch hclCfg.Launch.Policy {
		case "":
		case PolicyEvery, PolicyOnce:
			cfg.Launch.Policy = hclCfg.Launch.Policy
		default:
			return nil, fmt.Errorf("invalid launch policy %q (want %q or %q)",
				hclCfg.Launch.Policy, PolicyEvery, PolicyOnce)
		}
		cfg.Launch.TriggerFile = hclCfg.Launch.TriggerFile
	}

	return cfg, nil
}

// GetDefaultConfig returns a Configuration with default values
func GetDefaultConfig() *Configuration {
	return &Configuration{
		ReapInterval: 5 * time.Second,
		Launch: LaunchConfig{
			Policy: PolicyEvery,
		},
	}
}

// ConfigExists checks if a config file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return err == nil
}

// ConfigPath returns the config file location, honoring OL_INIT_CONFIG
func ConfigPath() string {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p
	}
	return DefaultConfigPath
}

// InitializeConfig loads the config file into Config. A missing file is not
// an error and yields the defaults.
func InitializeConfig() error {
	path := ConfigPath()
	if !ConfigExists(path) {
		Config = GetDefaultConfig()
		return nil
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	Config = cfg
	return nil
}
