// Package config resolves jigai's configuration: server bind address, idle
// detection tuning, notification behavior, and session display preferences.
// It is backed by viper so values can come from a YAML file, environment
// variables, or command-line flags, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/nafistiham/jigai/internal/log"
)

// ServerConfig controls the hub's HTTP/WebSocket bind address.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Bind string `mapstructure:"bind"`
}

// DetectionConfig controls the detector's timing tunables.
type DetectionConfig struct {
	TimeoutSeconds  int `mapstructure:"timeout_seconds"`
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
}

// NotificationConfig controls desktop notification behavior.
type NotificationConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	OnlyWhenAway    bool     `mapstructure:"only_when_away"`
	Sound           string   `mapstructure:"sound"`
	GroupBySession  bool     `mapstructure:"group_by_session"`
	ShowLastOutput  bool     `mapstructure:"show_last_output"`
	OutputLines     int      `mapstructure:"output_lines"`
	RedactPatterns  []string `mapstructure:"redact_patterns"`
}

// SessionConfig controls what the CLI displays about a session.
type SessionConfig struct {
	ShowWorkingDir bool `mapstructure:"show_working_dir"`
	ShowLastOutput bool `mapstructure:"show_last_output"`
}

// TracingConfig controls optional OpenTelemetry span emission.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"`
	FilePath     string  `mapstructure:"file_path"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	ServiceName  string  `mapstructure:"service_name"`
}

// Config is the fully resolved configuration for one jigai process.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Detection    DetectionConfig    `mapstructure:"detection"`
	Notification NotificationConfig `mapstructure:"notification"`
	Session      SessionConfig      `mapstructure:"session"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

// Defaults returns the built-in default configuration, grounded on the
// Python reference implementation's config.py defaults.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Port: 9384, Bind: "0.0.0.0"},
		Detection: DetectionConfig{
			TimeoutSeconds:  30,
			CooldownSeconds: 5,
		},
		Notification: NotificationConfig{
			Enabled:        true,
			OnlyWhenAway:   false,
			Sound:          "Ping",
			GroupBySession: true,
			ShowLastOutput: true,
			OutputLines:    3,
			RedactPatterns: []string{`(?i)(token|password|secret|key|api_key)=\S+`},
		},
		Session: SessionConfig{
			ShowWorkingDir: true,
			ShowLastOutput: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "stdout",
			SampleRate:  1.0,
			ServiceName: "jigai",
		},
	}
}

// Dir returns the jigai config directory, honoring $JIGAI_HOME for tests
// and advanced setups, else ~/.jigai.
func Dir() (string, error) {
	if home := os.Getenv("JIGAI_HOME"); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".jigai"), nil
}

// Path returns the resolved config.yaml path: ./.jigai/config.yaml in the
// current directory if present, else ~/.jigai/config.yaml.
func Path() (string, error) {
	if _, err := os.Stat(filepath.Join(".jigai", "config.yaml")); err == nil {
		return filepath.Join(".jigai", "config.yaml"), nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// PatternsPath returns the resolved location of the optional user pattern
// file, ~/.jigai/patterns.yaml. It does not check existence; callers that
// need "file present or not" should use patterns.LoadPatternFile, which
// already tolerates a missing path.
func PatternsPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "patterns.yaml"), nil
}

// Load resolves configuration from the file at Path (if it exists),
// overlaid with any JIGAI_-prefixed environment variables, falling back to
// Defaults() for anything unset. A missing config file is not an error.
func Load() (Config, error) {
	v := viper.New()
	seedDefaults(v, Defaults())

	v.SetEnvPrefix("jigai")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := Path()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
		log.Debug(log.CatConfig, "no config file found, using defaults", "path", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func seedDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.bind", d.Server.Bind)
	v.SetDefault("detection.timeout_seconds", d.Detection.TimeoutSeconds)
	v.SetDefault("detection.cooldown_seconds", d.Detection.CooldownSeconds)
	v.SetDefault("notification.enabled", d.Notification.Enabled)
	v.SetDefault("notification.only_when_away", d.Notification.OnlyWhenAway)
	v.SetDefault("notification.sound", d.Notification.Sound)
	v.SetDefault("notification.group_by_session", d.Notification.GroupBySession)
	v.SetDefault("notification.show_last_output", d.Notification.ShowLastOutput)
	v.SetDefault("notification.output_lines", d.Notification.OutputLines)
	v.SetDefault("notification.redact_patterns", d.Notification.RedactPatterns)
	v.SetDefault("session.show_working_dir", d.Session.ShowWorkingDir)
	v.SetDefault("session.show_last_output", d.Session.ShowLastOutput)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// WriteDefault writes the default configuration to dir/config.yaml if no
// file exists there yet. Used by `jigai config init`.
func WriteDefault() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	v := viper.New()
	seedDefaults(v, Defaults())
	v.SetConfigType("yaml")
	if err := v.SafeWriteConfigAs(path); err != nil {
		return "", fmt.Errorf("writing default config to %s: %w", path, err)
	}
	return path, nil
}
