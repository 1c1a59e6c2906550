// Package setup loads the audit engine configuration. Everything that was
// once a module-level constant (zones, timeouts, exclusions, account maps)
// lives in an explicit Config passed into the components that need it.
package setup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration unmarshals from either a Go duration string ("40s") or a bare
// number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err == nil {
		parsed, perr := time.ParseDuration(text)
		if perr == nil {
			*d = Duration(parsed)
			return nil
		}
	}

	var seconds float64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration %q", value.Value)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full audit engine configuration.
type Config struct {
	// Zones enumerates every zone audited per pass.
	Zones []string `yaml:"zones"`

	// Workers is the width of both worker-pool phases.
	Workers int `yaml:"workers"`

	// TagPriority orders the ownership-tag substrings; first match wins.
	TagPriority []string `yaml:"tag_priority"`

	// ExcludedNames are exact instance names never probed or deleted.
	ExcludedNames []string `yaml:"excluded_names"`
	// DevPatterns are name substrings of known-problematic dev machines.
	DevPatterns []string `yaml:"dev_patterns"`
	// GraceNames and GraceSubstrings shield instances from compliance
	// deletes without removing them from the audit.
	GraceNames      []string `yaml:"grace_names"`
	GraceSubstrings []string `yaml:"grace_substrings"`

	// DefaultServiceAccount is authorized everywhere; RegionServiceAccounts
	// maps region -> additionally authorized account.
	DefaultServiceAccount string            `yaml:"default_service_account"`
	RegionServiceAccounts map[string]string `yaml:"region_service_accounts"`

	LeaseDir  string `yaml:"lease_dir"`
	CachePath string `yaml:"cache_path"`
	LockPath  string `yaml:"lock_path"`

	LeaseTTL      Duration `yaml:"lease_ttl"`
	CacheTTL      Duration `yaml:"cache_ttl"`
	ListTimeout   Duration `yaml:"list_timeout"`
	ProbeTimeout  Duration `yaml:"probe_timeout"`
	DeleteTimeout Duration `yaml:"delete_timeout"`
	CheckInterval Duration `yaml:"check_interval"`

	ReclaimPreempted  bool `yaml:"reclaim_preempted"`
	HonorReservations bool `yaml:"honor_reservations"`
	EnforceCompliance bool `yaml:"enforce_compliance"`
	DryRun            bool `yaml:"dry_run"`

	// TypeAliases normalizes accelerator-type shorthand for delete-idle.
	TypeAliases map[string]string `yaml:"type_aliases"`
}

// Default returns the built-in configuration.
func Default() Config {
	stateDir := defaultStateDir()
	return Config{
		Zones: []string{
			"us-central1-a",
			"us-central1-b",
			"us-central2-b",
			"us-east1-d",
			"us-east5-a",
			"us-east5-b",
			"europe-west4-a",
			"asia-northeast1-b",
		},
		Workers:     10,
		TagPriority: []string{"llq", "spot", "nopre"},

		LeaseDir:  filepath.Join(stateDir, "tpu_lock"),
		CachePath: filepath.Join(stateDir, "audit_cache"),
		LockPath:  filepath.Join(stateDir, "audit.lock"),

		LeaseTTL:      Duration(30 * time.Minute),
		CacheTTL:      Duration(5 * time.Minute),
		ListTimeout:   Duration(60 * time.Second),
		ProbeTimeout:  Duration(40 * time.Second),
		DeleteTimeout: Duration(120 * time.Second),
		CheckInterval: Duration(5 * time.Minute),

		ReclaimPreempted:  true,
		HonorReservations: true,

		TypeAliases: map[string]string{
			"v5-8":   "v5p-8",
			"v6-8":   "v6e-8",
			"v5-16":  "v5e-16",
			"v6-32":  "v6e-32",
			"v6-64":  "v6e-64",
			"v5-64":  "v5p-64",
			"v6-128": "v6e-128",
			"v5-128": "v5p-128",
		},
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/tpu-master"
	}
	return filepath.Join(home, ".tpu-master")
}

// Load reads the configuration at path, overlaying the defaults. A missing
// file is not an error: the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if len(c.Zones) == 0 {
		return errors.New("config: at least one zone is required")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.LeaseTTL <= 0 || c.CacheTTL <= 0 {
		return errors.New("config: lease_ttl and cache_ttl must be positive")
	}
	return nil
}
