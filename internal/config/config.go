package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// RootConfig mirrors the configuration file
type RootConfig struct {
	ActiveProfile string              `mapstructure:"active_profile" yaml:"active_profile"`
	Storage       StorageConfig       `mapstructure:"storage" yaml:"storage"`
	Recorder      RecorderConfig      `mapstructure:"recorder" yaml:"recorder"`
	Session       SessionConfig       `mapstructure:"session" yaml:"session"`
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Profiles      map[string]*Profile `mapstructure:"profiles" yaml:"profiles,omitempty"`
}

// Profile holds named overrides, typically one per capture device
type Profile struct {
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Recorder RecorderConfig `mapstructure:"recorder" yaml:"recorder"`
}

// Config is the resolved configuration used by the application
type Config struct {
	Profile  string         `mapstructure:"-" yaml:"profile,omitempty"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Recorder RecorderConfig `mapstructure:"recorder" yaml:"recorder"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`

	// Internal field to track which values came from the profile
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

// InheritanceInfo records "inherited" or "profile-specific" per overridable field
type InheritanceInfo struct {
	Fields map[string]string
}

type StorageConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	Extension string `mapstructure:"extension" yaml:"extension"` // fixed per deployment
}

type RecorderConfig struct {
	Binary      string        `mapstructure:"binary" yaml:"binary"`
	InputFormat string        `mapstructure:"input_format" yaml:"input_format"` // "pulse", "alsa", "avfoundation", ...
	InputDevice string        `mapstructure:"input_device" yaml:"input_device"`
	SampleRate  int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels    int           `mapstructure:"channels" yaml:"channels"`
	Codec       string        `mapstructure:"codec" yaml:"codec"`
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

type SessionConfig struct {
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer" yaml:"subscriber_buffer"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

// DefaultPath is where the configuration file is looked up when --config is not given
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/tapedeck.yaml")
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Directory: filepath.Join(os.Getenv("HOME"), "Audio", "TapeDeck"),
			Extension: "aac",
		},
		Recorder: RecorderConfig{
			Binary:      "ffmpeg",
			InputFormat: "pulse",
			InputDevice: "default",
			SampleRate:  48000,
			Channels:    2,
			Codec:       "aac",
			StopTimeout: 5 * time.Second,
		},
		Session: SessionConfig{
			OperationTimeout: 10 * time.Second,
			SubscriberBuffer: 16,
		},
		Server: ServerConfig{
			Port: "8080",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("storage.directory", d.Storage.Directory)
	v.SetDefault("storage.extension", d.Storage.Extension)
	v.SetDefault("recorder.binary", d.Recorder.Binary)
	v.SetDefault("recorder.input_format", d.Recorder.InputFormat)
	v.SetDefault("recorder.input_device", d.Recorder.InputDevice)
	v.SetDefault("recorder.sample_rate", d.Recorder.SampleRate)
	v.SetDefault("recorder.channels", d.Recorder.Channels)
	v.SetDefault("recorder.codec", d.Recorder.Codec)
	v.SetDefault("recorder.stop_timeout", d.Recorder.StopTimeout)
	v.SetDefault("session.operation_timeout", d.Session.OperationTimeout)
	v.SetDefault("session.subscriber_buffer", d.Session.SubscriberBuffer)
	v.SetDefault("server.port", d.Server.Port)
}

// ReadRoot reads the configuration file into a RootConfig.
// A missing file yields the defaults.
func ReadRoot(configFile string) (*RootConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TAPEDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error accessing config file %s: %w", configFile, err)
		}
	}

	var root RootConfig
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &root, nil
}

// LoadWithProfile loads the configuration and applies the selected profile.
// An empty profile falls back to active_profile from the file.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	root, err := ReadRoot(configFile)
	if err != nil {
		return nil, err
	}

	base := &Config{
		Storage:  root.Storage,
		Recorder: root.Recorder,
		Session:  root.Session,
		Server:   root.Server,
	}

	profileName := profile
	if profileName == "" {
		profileName = root.ActiveProfile
	}

	var selected *Profile
	if profileName != "" {
		var exists bool
		// viper lowercases map keys
		selected, exists = root.Profiles[strings.ToLower(profileName)]
		if !exists {
			return nil, fmt.Errorf("configuration profile '%s' not found", profileName)
		}
	}

	cfg := mergeProfile(base, selected)
	cfg.Profile = profileName
	cfg.Storage.Directory = expandPath(cfg.Storage.Directory)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// mergeProfile overlays the non-zero profile fields onto base
func mergeProfile(base *Config, profile *Profile) *Config {
	result := *base
	result.Inheritance = &InheritanceInfo{Fields: map[string]string{}}

	track := func(field string, overridden bool) {
		if overridden {
			result.Inheritance.Fields[field] = "profile-specific"
		} else {
			result.Inheritance.Fields[field] = "inherited"
		}
	}

	var p Profile
	if profile != nil {
		p = *profile
	}

	track("storage.directory", p.Storage.Directory != "")
	if p.Storage.Directory != "" {
		result.Storage.Directory = p.Storage.Directory
	}
	track("storage.extension", p.Storage.Extension != "")
	if p.Storage.Extension != "" {
		result.Storage.Extension = p.Storage.Extension
	}

	track("recorder.binary", p.Recorder.Binary != "")
	if p.Recorder.Binary != "" {
		result.Recorder.Binary = p.Recorder.Binary
	}
	track("recorder.input_format", p.Recorder.InputFormat != "")
	if p.Recorder.InputFormat != "" {
		result.Recorder.InputFormat = p.Recorder.InputFormat
	}
	track("recorder.input_device", p.Recorder.InputDevice != "")
	if p.Recorder.InputDevice != "" {
		result.Recorder.InputDevice = p.Recorder.InputDevice
	}
	track("recorder.sample_rate", p.Recorder.SampleRate != 0)
	if p.Recorder.SampleRate != 0 {
		result.Recorder.SampleRate = p.Recorder.SampleRate
	}
	track("recorder.channels", p.Recorder.Channels != 0)
	if p.Recorder.Channels != 0 {
		result.Recorder.Channels = p.Recorder.Channels
	}
	track("recorder.codec", p.Recorder.Codec != "")
	if p.Recorder.Codec != "" {
		result.Recorder.Codec = p.Recorder.Codec
	}
	track("recorder.stop_timeout", p.Recorder.StopTimeout != 0)
	if p.Recorder.StopTimeout != 0 {
		result.Recorder.StopTimeout = p.Recorder.StopTimeout
	}

	return &result
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.Storage.Directory == "" {
		return fmt.Errorf("storage.directory is required")
	}
	ext := c.Storage.Extension
	if ext == "" {
		return fmt.Errorf("storage.extension is required")
	}
	if strings.HasPrefix(ext, ".") || strings.ContainsAny(ext, "/\\ ") {
		return fmt.Errorf("storage.extension must be a bare extension like 'aac', got: %q", ext)
	}
	if c.Recorder.Binary == "" {
		return fmt.Errorf("recorder.binary is required")
	}
	if c.Recorder.InputFormat == "" {
		return fmt.Errorf("recorder.input_format is required")
	}
	if c.Recorder.SampleRate < 0 {
		return fmt.Errorf("recorder.sample_rate must be >= 0, got: %d", c.Recorder.SampleRate)
	}
	if c.Recorder.Channels < 0 || c.Recorder.Channels > 8 {
		return fmt.Errorf("recorder.channels must be between 0 and 8, got: %d", c.Recorder.Channels)
	}
	if c.Recorder.StopTimeout < 0 {
		return fmt.Errorf("recorder.stop_timeout must be >= 0, got: %s", c.Recorder.StopTimeout)
	}
	if c.Session.OperationTimeout <= 0 {
		return fmt.Errorf("session.operation_timeout must be > 0, got: %s", c.Session.OperationTimeout)
	}
	if c.Session.SubscriberBuffer < 1 {
		return fmt.Errorf("session.subscriber_buffer must be >= 1, got: %d", c.Session.SubscriberBuffer)
	}
	return nil
}

// UpdateActiveProfile updates the active_profile field in the config file
func UpdateActiveProfile(configFile, newActiveProfile string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with other readers
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	if newActiveProfile != "" && !v.IsSet("profiles."+strings.ToLower(newActiveProfile)) {
		return fmt.Errorf("configuration profile '%s' not found", newActiveProfile)
	}

	v.Set("active_profile", newActiveProfile)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// WriteDefault writes the built-in configuration as YAML, refusing to replace an existing file
func WriteDefault(configFile string) error {
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists: %s", configFile)
	}

	d := Default()
	root := RootConfig{
		Storage:  d.Storage,
		Recorder: d.Recorder,
		Session:  d.Session,
		Server:   d.Server,
	}

	out, err := yaml.Marshal(root)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return os.WriteFile(configFile, out, 0644)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
