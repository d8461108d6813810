package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// RuntimeSettings is an optional JSON file layered over the environment,
// for operators who tune the engine and sweeper without restarting with a
// new env. Empty fields keep the env value.
type RuntimeSettings struct {
	EngineModel string `json:"engine_model"`
	SweepCron   string `json:"sweep_cron"`
	SweepMaxAge string `json:"sweep_max_age"`
}

// RuntimeSettingsFilePath returns SETTINGS_FILE, empty when unset.
func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", "")
}

func (s RuntimeSettings) Validate() error {
	if strings.TrimSpace(s.SweepCron) != "" {
		if _, err := cron.ParseStandard(s.SweepCron); err != nil {
			return fmt.Errorf("invalid sweep_cron: %w", err)
		}
	}
	if strings.TrimSpace(s.SweepMaxAge) != "" {
		d, err := time.ParseDuration(s.SweepMaxAge)
		if err != nil {
			return fmt.Errorf("invalid sweep_max_age: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("sweep_max_age must be positive")
		}
	}
	return nil
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.EngineModel) != "" {
			c.Engine.Model = settings.EngineModel
		}
		if strings.TrimSpace(settings.SweepCron) != "" {
			c.Sweep.CronExpr = settings.SweepCron
		}
		if d, err := time.ParseDuration(settings.SweepMaxAge); err == nil && d > 0 {
			c.Sweep.MaxAge = d
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	return settings, nil
}
