package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Timeouts struct {
	Setup   time.Duration
	Define  time.Duration
	Execute time.Duration
	Poll    time.Duration
	Post    time.Duration
	Fix     time.Duration
	PR      time.Duration
}

type Config struct {
	StateDir    string
	LogDir      string
	DataDir     string
	LedgerPath  string
	MetricsPath string

	WorkerBinary string
	WorkerDir    string

	PollInterval   time.Duration
	MaxFixAttempts int
	Timeouts       Timeouts

	Verbose bool
}

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}

	v.SetDefault("state_dir", os.TempDir())
	v.SetDefault("log_dir", "")
	v.SetDefault("data_dir", filepath.Join(home, ".collab"))
	v.SetDefault("ledger_path", "")
	v.SetDefault("metrics_path", "")

	v.SetDefault("worker.binary", "claude")
	v.SetDefault("worker.dir", "")

	v.SetDefault("poll.interval", 60*time.Second)
	v.SetDefault("approval.max_fix_attempts", 3)

	v.SetDefault("timeouts.setup", 5*time.Minute)
	v.SetDefault("timeouts.define", 2*time.Hour)
	v.SetDefault("timeouts.execute", 4*time.Hour)
	v.SetDefault("timeouts.poll", 2*time.Minute)
	v.SetDefault("timeouts.post", 2*time.Minute)
	v.SetDefault("timeouts.fix", 30*time.Minute)
	v.SetDefault("timeouts.pr", 30*time.Minute)

	v.SetDefault("verbose", false)
}

// Load reads the resolved configuration out of v.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		StateDir:     v.GetString("state_dir"),
		LogDir:       v.GetString("log_dir"),
		DataDir:      v.GetString("data_dir"),
		LedgerPath:   v.GetString("ledger_path"),
		MetricsPath:  v.GetString("metrics_path"),
		WorkerBinary: v.GetString("worker.binary"),
		WorkerDir:    v.GetString("worker.dir"),

		PollInterval:   v.GetDuration("poll.interval"),
		MaxFixAttempts: v.GetInt("approval.max_fix_attempts"),
		Timeouts: Timeouts{
			Setup:   v.GetDuration("timeouts.setup"),
			Define:  v.GetDuration("timeouts.define"),
			Execute: v.GetDuration("timeouts.execute"),
			Poll:    v.GetDuration("timeouts.poll"),
			Post:    v.GetDuration("timeouts.post"),
			Fix:     v.GetDuration("timeouts.fix"),
			PR:      v.GetDuration("timeouts.pr"),
		},
		Verbose: v.GetBool("verbose"),
	}

	if c.LogDir == "" {
		c.LogDir = c.StateDir
	}
	if c.LedgerPath == "" {
		c.LedgerPath = filepath.Join(c.DataDir, "collab.db")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.StateDir == "" {
		errs = append(errs, errors.New("state_dir must be set"))
	}
	if c.WorkerBinary == "" {
		errs = append(errs, errors.New("worker.binary must be set"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll.interval must be positive, got %s", c.PollInterval))
	}
	if c.MaxFixAttempts < 1 {
		errs = append(errs, fmt.Errorf("approval.max_fix_attempts must be at least 1, got %d", c.MaxFixAttempts))
	}

	timeouts := map[string]time.Duration{
		"setup":   c.Timeouts.Setup,
		"define":  c.Timeouts.Define,
		"execute": c.Timeouts.Execute,
		"poll":    c.Timeouts.Poll,
		"post":    c.Timeouts.Post,
		"fix":     c.Timeouts.Fix,
		"pr":      c.Timeouts.PR,
	}
	for name, d := range timeouts {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s must be positive, got %s", name, d))
		}
	}

	return errors.Join(errs...)
}

// EnsureDirs creates the state, log and data directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.StateDir, c.LogDir, filepath.Dir(c.LedgerPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
