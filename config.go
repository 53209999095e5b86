package fedmob

import (
	"fmt"
	"os"
	"time"

	"github.com/absmach/fedmob/coordinator"
	"github.com/absmach/fedmob/pkg/cron"
	"github.com/absmach/fedmob/pkg/weights"
	"github.com/pelletier/go-toml"
)

// Config is the training strategy file.
type Config struct {
	Strategy coordinator.Config `toml:"strategy"`
	Timeouts TimeoutConfig      `toml:"timeouts"`
	Schedule ScheduleConfig     `toml:"schedule"`
	Model    ModelConfig        `toml:"model"`
}

// ModelConfig lists the layer shapes fit results must match. Validation is
// off when Layers is empty.
type ModelConfig struct {
	Layers [][]int `toml:"layers"`
}

// ScheduleConfig starts training runs on a cron schedule when Cron is set.
type ScheduleConfig struct {
	Cron     string `toml:"cron"`
	Timezone string `toml:"timezone"`
}

// TimeoutConfig holds durations in time.ParseDuration form, such as "900s".
type TimeoutConfig struct {
	Fit      string `toml:"fit"`
	Evaluate string `toml:"evaluate"`
	Wait     string `toml:"wait"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	wait, err := cfg.Timeouts.WaitTimeout()
	if err != nil {
		return nil, err
	}
	cfg.Strategy.WaitTimeout = wait
	if err := cfg.Strategy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Schedule.Cron != "" {
		if _, err := cfg.Schedule.Parse(); err != nil {
			return nil, err
		}
	}
	if _, err := cfg.Model.Layout(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// FitTimeout returns zero when unset so the hub default applies.
func (t TimeoutConfig) FitTimeout() (time.Duration, error) {
	return parseDuration("fit", t.Fit)
}

func (t TimeoutConfig) EvaluateTimeout() (time.Duration, error) {
	return parseDuration("evaluate", t.Evaluate)
}

func (t TimeoutConfig) WaitTimeout() (time.Duration, error) {
	return parseDuration("wait", t.Wait)
}

// Parse returns the cron schedule. It fails when Cron is empty.
func (s ScheduleConfig) Parse() (*cron.Schedule, error) {
	return cron.Parse(s.Cron, s.Timezone)
}

// Layout returns nil when no layers are configured.
func (m ModelConfig) Layout() (weights.Layout, error) {
	if len(m.Layers) == 0 {
		return nil, nil
	}

	layout := make(weights.Layout, len(m.Layers))
	for i, shape := range m.Layers {
		if len(shape) == 0 {
			return nil, fmt.Errorf("error parsing model layer %d: empty shape", i)
		}
		for _, dim := range shape {
			if dim <= 0 {
				return nil, fmt.Errorf("error parsing model layer %d: invalid dimension %d", i, dim)
			}
		}
		layout[i] = append([]int(nil), shape...)
	}

	return layout, nil
}

func parseDuration(name, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("error parsing %s timeout: %w", name, err)
	}

	return d, nil
}
