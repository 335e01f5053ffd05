// Package config loads the dashboard settings from configs/config.yml and
// DASHBOARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"actuator_dashboard/internal/models"

	"github.com/spf13/viper"
)

const envPrefix = "DASHBOARD"

// Defaults for the reconciliation timings.
const (
	DefaultPollInterval = 3 * time.Second
	DefaultQuietPeriod  = 1500 * time.Millisecond
	DefaultLockTTL      = 60 * time.Second
)

type Config struct {
	Port       string
	LogLevel   string
	DBPath     string
	Auth       AuthConfig
	ThingSpeak ThingSpeakConfig
	Engine     EngineConfig
	Simulator  SimulatorConfig
	Panels     []models.Panel
}

type AuthConfig struct {
	SigningKey string
	TokenTTL   time.Duration
}

type ThingSpeakConfig struct {
	BaseURL string
	Timeout time.Duration
	// WriteInterval is the minimum spacing between writes accepted by the remote.
	WriteInterval time.Duration
}

type EngineConfig struct {
	PollInterval time.Duration
	QuietPeriod  time.Duration
	LockTTL      time.Duration
}

type SimulatorConfig struct {
	Enabled   bool
	RateLimit time.Duration
	Retention time.Duration
}

var (
	errNoPanels       = errors.New("config: at least one panel is required")
	errNoSigningKey   = errors.New("config: auth.signing_key is required")
	errInvalidTimings = errors.New("config: engine timings must be positive")
)

// Load reads config.yml from dir (if present) and overlays the environment.
func Load(dir string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var panels []models.Panel
	if err := v.UnmarshalKey("panels", &panels); err != nil {
		return Config{}, fmt.Errorf("decode panels: %w", err)
	}

	cfg := Config{
		Port:     v.GetString("port"),
		LogLevel: v.GetString("log.level"),
		DBPath:   v.GetString("db.path"),
		Auth: AuthConfig{
			SigningKey: v.GetString("auth.signing_key"),
			TokenTTL:   v.GetDuration("auth.token_ttl"),
		},
		ThingSpeak: ThingSpeakConfig{
			BaseURL:       strings.TrimRight(v.GetString("thingspeak.base_url"), "/"),
			Timeout:       v.GetDuration("thingspeak.timeout"),
			WriteInterval: v.GetDuration("thingspeak.write_interval"),
		},
		Engine: EngineConfig{
			PollInterval: v.GetDuration("engine.poll_interval"),
			QuietPeriod:  v.GetDuration("engine.quiet_period"),
			LockTTL:      v.GetDuration("engine.lock_ttl"),
		},
		Simulator: SimulatorConfig{
			Enabled:   v.GetBool("simulator.enabled"),
			RateLimit: v.GetDuration("simulator.rate_limit"),
			Retention: v.GetDuration("simulator.retention"),
		},
		Panels: panels,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("db.path", "app.db")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("thingspeak.base_url", "https://api.thingspeak.com")
	v.SetDefault("thingspeak.timeout", 10*time.Second)
	v.SetDefault("thingspeak.write_interval", 0)
	v.SetDefault("engine.poll_interval", DefaultPollInterval)
	v.SetDefault("engine.quiet_period", DefaultQuietPeriod)
	v.SetDefault("engine.lock_ttl", DefaultLockTTL)
	v.SetDefault("simulator.enabled", false)
	v.SetDefault("simulator.rate_limit", 15*time.Second)
	v.SetDefault("simulator.retention", 24*time.Hour)
}

// Validate checks the settings the service cannot start without.
func (c Config) Validate() error {
	if len(c.Panels) == 0 {
		return errNoPanels
	}
	for i, p := range c.Panels {
		if strings.TrimSpace(p.ChannelID) == "" {
			return fmt.Errorf("config: panel %d: channel_id is required", i)
		}
		if p.ReadKey == "" || p.WriteKey == "" {
			return fmt.Errorf("config: panel %d (%s): read_key and write_key are required", i, p.ChannelID)
		}
	}
	if c.Auth.SigningKey == "" {
		return errNoSigningKey
	}
	if c.Engine.PollInterval <= 0 || c.Engine.QuietPeriod <= 0 || c.Engine.LockTTL <= 0 {
		return errInvalidTimings
	}
	return nil
}
