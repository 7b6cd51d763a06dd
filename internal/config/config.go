package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/kevinboards/piperRobotAutoSystem/internal/arm"
)

const (
	envPrefix      = "PIPER"
	defaultProfile = "default"
)

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Playback  PlaybackConfig  `mapstructure:"playback" yaml:"playback"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Arm       ArmConfig       `mapstructure:"arm" yaml:"arm"`

	// Profile is the name the config was resolved from.
	Profile string `mapstructure:"-" yaml:"-"`
}

type ServerConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	StatusHz int    `mapstructure:"status_hz" yaml:"status_hz"`
	WebDir   string `mapstructure:"web_dir" yaml:"web_dir"` // optional static UI
}

type StorageConfig struct {
	RecordingsDir string `mapstructure:"recordings_dir" yaml:"recordings_dir"`
	TimelinesDir  string `mapstructure:"timelines_dir" yaml:"timelines_dir"`
}

type RecordingConfig struct {
	SampleRateHz int    `mapstructure:"sample_rate_hz" yaml:"sample_rate_hz"`
	FlushEvery   int    `mapstructure:"flush_every" yaml:"flush_every"`
	Description  string `mapstructure:"description" yaml:"description"`
}

type PlaybackConfig struct {
	Discipline      string  `mapstructure:"discipline" yaml:"discipline"` // "timestamp", "fixed"
	FixedIntervalMs int     `mapstructure:"fixed_interval_ms" yaml:"fixed_interval_ms"`
	MinSpeed        float64 `mapstructure:"min_speed" yaml:"min_speed"`
	MaxSpeed        float64 `mapstructure:"max_speed" yaml:"max_speed"`
	LagWarnMs       int     `mapstructure:"lag_warn_ms" yaml:"lag_warn_ms"`
}

type MonitorConfig struct {
	PollHz int `mapstructure:"poll_hz" yaml:"poll_hz"`
}

type ArmConfig struct {
	Driver           string `mapstructure:"driver" yaml:"driver"`
	EnableAttempts   int    `mapstructure:"enable_attempts" yaml:"enable_attempts"`
	EnableIntervalMs int    `mapstructure:"enable_interval_ms" yaml:"enable_interval_ms"`
	SettleMs         int    `mapstructure:"settle_ms" yaml:"settle_ms"`
}

var defaultConfig = Config{
	Server: ServerConfig{
		Host:     "0.0.0.0",
		Port:     8080,
		StatusHz: 5,
	},
	Storage: StorageConfig{
		RecordingsDir: "recordings",
		TimelinesDir:  "timelines",
	},
	Recording: RecordingConfig{
		SampleRateHz: 200,
		FlushEvery:   20,
		Description:  "Web recording",
	},
	Playback: PlaybackConfig{
		Discipline:      "timestamp",
		FixedIntervalMs: 5,
		MinSpeed:        0.1,
		MaxSpeed:        4.0,
		LagWarnMs:       100,
	},
	Monitor: MonitorConfig{
		PollHz: 20,
	},
	Arm: ArmConfig{
		Driver:           "sim",
		EnableAttempts:   100,
		EnableIntervalMs: 10,
		SettleMs:         100,
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	c := defaultConfig
	c.Profile = defaultProfile
	return &c
}

func (c PlaybackConfig) FixedInterval() time.Duration {
	return time.Duration(c.FixedIntervalMs) * time.Millisecond
}

func (c PlaybackConfig) LagWarn() time.Duration {
	return time.Duration(c.LagWarnMs) * time.Millisecond
}

func (c MonitorConfig) Interval() time.Duration {
	return time.Second / time.Duration(c.PollHz)
}

func (c ServerConfig) StatusInterval() time.Duration {
	return time.Second / time.Duration(c.StatusHz)
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c ArmConfig) EnableInterval() time.Duration {
	return time.Duration(c.EnableIntervalMs) * time.Millisecond
}

func (c ArmConfig) Settle() time.Duration {
	return time.Duration(c.SettleMs) * time.Millisecond
}

// Handshake returns the enable handshake bounds for the arm.
func (c ArmConfig) Handshake() arm.Handshake {
	return arm.Handshake{
		Attempts: c.EnableAttempts,
		Interval: c.EnableInterval(),
		Settle:   c.Settle(),
	}
}

// LoadWithProfile resolves profile (or the file's active_config, or
// "default") from configFile. Non-default profiles are merged onto the
// file's default profile, and the built-in defaults fill whatever is left.
// A missing or empty configFile yields the built-in defaults.
// PIPER_<SECTION>_<KEY> environment variables override the result.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return withEnv(Default())
	}
	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		if profile != "" && profile != defaultProfile {
			return nil, fmt.Errorf("configuration profile '%s' not found (config file %s does not exist)", profile, configFile)
		}
		slog.Debug("Config file not found, using defaults", "file", configFile)
		return withEnv(Default())
	}

	rootConfig, err := ReadRoot(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = defaultProfile
	}

	selected, exists := rootConfig.Configs[configName]
	if !exists {
		if configName == defaultProfile && len(rootConfig.Configs) == 0 {
			return withEnv(Default())
		}
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}
	if selected == nil {
		selected = &Config{}
	}

	resolved := selected
	if configName != defaultProfile {
		if base, ok := rootConfig.Configs[defaultProfile]; ok && base != nil {
			resolved = mergeConfigs(base, resolved)
		}
	}
	resolved = mergeConfigs(&defaultConfig, resolved)
	resolved.Profile = configName

	resolved.Storage.RecordingsDir = expandPath(resolved.Storage.RecordingsDir)
	resolved.Storage.TimelinesDir = expandPath(resolved.Storage.TimelinesDir)
	resolved.Server.WebDir = expandPath(resolved.Server.WebDir)

	resolved, err = withEnv(resolved)
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// ReadRoot reads the raw profile map without resolving it.
func ReadRoot(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &rootConfig, nil
}

// withEnv applies environment overrides and validates the result.
func withEnv(c *Config) (*Config, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("error encoding config: %w", err)
	}
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("error reading resolved config: %w", err)
	}
	out := &Config{Profile: c.Profile}
	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("error applying environment overrides: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return out, nil
}

// mergeConfigs overlays the non-zero fields of profile onto base.
func mergeConfigs(base, profile *Config) *Config {
	result := *base
	p := profile

	if p.Server.Host != "" {
		result.Server.Host = p.Server.Host
	}
	if p.Server.Port != 0 {
		result.Server.Port = p.Server.Port
	}
	if p.Server.StatusHz != 0 {
		result.Server.StatusHz = p.Server.StatusHz
	}
	if p.Server.WebDir != "" {
		result.Server.WebDir = p.Server.WebDir
	}

	if p.Storage.RecordingsDir != "" {
		result.Storage.RecordingsDir = p.Storage.RecordingsDir
	}
	if p.Storage.TimelinesDir != "" {
		result.Storage.TimelinesDir = p.Storage.TimelinesDir
	}

	if p.Recording.SampleRateHz != 0 {
		result.Recording.SampleRateHz = p.Recording.SampleRateHz
	}
	if p.Recording.FlushEvery != 0 {
		result.Recording.FlushEvery = p.Recording.FlushEvery
	}
	if p.Recording.Description != "" {
		result.Recording.Description = p.Recording.Description
	}

	if p.Playback.Discipline != "" {
		result.Playback.Discipline = p.Playback.Discipline
	}
	if p.Playback.FixedIntervalMs != 0 {
		result.Playback.FixedIntervalMs = p.Playback.FixedIntervalMs
	}
	if p.Playback.MinSpeed != 0 {
		result.Playback.MinSpeed = p.Playback.MinSpeed
	}
	if p.Playback.MaxSpeed != 0 {
		result.Playback.MaxSpeed = p.Playback.MaxSpeed
	}
	if p.Playback.LagWarnMs != 0 {
		result.Playback.LagWarnMs = p.Playback.LagWarnMs
	}

	if p.Monitor.PollHz != 0 {
		result.Monitor.PollHz = p.Monitor.PollHz
	}

	if p.Arm.Driver != "" {
		result.Arm.Driver = p.Arm.Driver
	}
	if p.Arm.EnableAttempts != 0 {
		result.Arm.EnableAttempts = p.Arm.EnableAttempts
	}
	if p.Arm.EnableIntervalMs != 0 {
		result.Arm.EnableIntervalMs = p.Arm.EnableIntervalMs
	}
	if p.Arm.SettleMs != 0 {
		result.Arm.SettleMs = p.Arm.SettleMs
	}

	return &result
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("server.port must be between 1 and 65535, got: %d", c.Server.Port)
	case c.Server.StatusHz <= 0 || c.Server.StatusHz > 100:
		return fmt.Errorf("server.status_hz must be between 1 and 100, got: %d", c.Server.StatusHz)
	case c.Storage.RecordingsDir == "":
		return fmt.Errorf("storage.recordings_dir is required")
	case c.Storage.TimelinesDir == "":
		return fmt.Errorf("storage.timelines_dir is required")
	case c.Recording.SampleRateHz <= 0 || c.Recording.SampleRateHz > 1000:
		return fmt.Errorf("recording.sample_rate_hz must be between 1 and 1000, got: %d", c.Recording.SampleRateHz)
	case c.Recording.FlushEvery <= 0:
		return fmt.Errorf("recording.flush_every must be > 0, got: %d", c.Recording.FlushEvery)
	case c.Playback.Discipline != "timestamp" && c.Playback.Discipline != "fixed":
		return fmt.Errorf("playback.discipline must be 'timestamp' or 'fixed', got: %s", c.Playback.Discipline)
	case c.Playback.FixedIntervalMs <= 0:
		return fmt.Errorf("playback.fixed_interval_ms must be > 0, got: %d", c.Playback.FixedIntervalMs)
	case c.Playback.MinSpeed <= 0:
		return fmt.Errorf("playback.min_speed must be > 0, got: %.2f", c.Playback.MinSpeed)
	case c.Playback.MaxSpeed <= c.Playback.MinSpeed:
		return fmt.Errorf("playback.max_speed must be greater than playback.min_speed")
	case c.Playback.LagWarnMs <= 0:
		return fmt.Errorf("playback.lag_warn_ms must be > 0, got: %d", c.Playback.LagWarnMs)
	case c.Monitor.PollHz <= 0 || c.Monitor.PollHz > 1000:
		return fmt.Errorf("monitor.poll_hz must be between 1 and 1000, got: %d", c.Monitor.PollHz)
	case c.Arm.Driver == "":
		return fmt.Errorf("arm.driver is required")
	case c.Arm.EnableAttempts <= 0:
		return fmt.Errorf("arm.enable_attempts must be > 0, got: %d", c.Arm.EnableAttempts)
	case c.Arm.EnableIntervalMs < 0 || c.Arm.SettleMs < 0:
		return fmt.Errorf("arm.enable_interval_ms and arm.settle_ms must be >= 0")
	}
	return nil
}

// YAML renders the resolved config.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteStarter writes a config file holding the built-in defaults as the
// "default" profile. It refuses to overwrite an existing file.
func WriteStarter(configFile string) error {
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file %s already exists", configFile)
	}
	root := RootConfig{
		ActiveConfig: defaultProfile,
		Configs:      map[string]*Config{defaultProfile: Default()},
	}
	data, err := yaml.Marshal(root)
	if err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}
	if dir := filepath.Dir(configFile); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(configFile, data, 0644); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	if _, ok := v.GetStringMap("configs")[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}
