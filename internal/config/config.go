// Package config loads dialogue.yaml and resolves secrets from the
// environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Version  int            `yaml:"version"`
	Engine   EngineConfig   `yaml:"engine"`
	Timing   TimingConfig   `yaml:"timing"`
	Graphs   GraphsConfig   `yaml:"graphs"`
	Tags     TagsConfig     `yaml:"tags"`
	Network  NetworkConfig  `yaml:"network"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Postgres PostgresConfig `yaml:"postgres"`
	Log      LogConfig      `yaml:"log"`
}

type EngineConfig struct {
	TickInterval           time.Duration `yaml:"tick_interval"`
	Seed                   uint32        `yaml:"seed"`
	Lookahead              int           `yaml:"lookahead"`
	DefaultSlot            *string       `yaml:"default_slot"`
	AutoSelectSingleChoice *bool         `yaml:"auto_select_single_choice"`
	EventBuffer            int           `yaml:"event_buffer"`
}

// TimingConfig holds the display duration parameters. The pointer fields
// have non-zero defaults and are nil only when omitted, so an explicit 0s
// is kept.
type TimingConfig struct {
	WordsPerMinute   float64        `yaml:"words_per_minute"`
	MinTextTime      *time.Duration `yaml:"min_text_time"`
	MinAudioTime     *time.Duration `yaml:"min_audio_time"`
	MinSpeakingTime  *time.Duration `yaml:"min_speaking_time"`
	Padding          time.Duration  `yaml:"padding"`
	PlaybackRate     float64        `yaml:"playback_rate"`
	SkipMinElapsed   *time.Duration `yaml:"skip_min_elapsed"`
	SkipMinRemaining time.Duration  `yaml:"skip_min_remaining"`
}

type GraphsConfig struct {
	Dir string `yaml:"dir"`
}

type TagsConfig struct {
	// Registry is a tag registry file. Empty accepts any tag.
	Registry string `yaml:"registry"`
}

type NetworkConfig struct {
	APIPort int `yaml:"api_port"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type PostgresConfig struct {
	Enabled    bool   `yaml:"enabled"`
	InstanceID string `yaml:"instance_id"`
	QueueSize  int    `yaml:"queue_size"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when dialogue.yaml omits a value.
func Default() *Config {
	cfg := &Config{Version: 1}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Engine.TickInterval <= 0 {
		c.Engine.TickInterval = 16 * time.Millisecond
	}
	if c.Engine.Lookahead <= 0 {
		c.Engine.Lookahead = 2
	}
	if c.Engine.DefaultSlot == nil {
		slot := "main"
		c.Engine.DefaultSlot = &slot
	}
	if c.Engine.AutoSelectSingleChoice == nil {
		auto := true
		c.Engine.AutoSelectSingleChoice = &auto
	}
	if c.Engine.EventBuffer <= 0 {
		c.Engine.EventBuffer = 1000
	}

	if c.Timing.WordsPerMinute <= 0 {
		c.Timing.WordsPerMinute = 120
	}
	defaultDuration(&c.Timing.MinTextTime, time.Second)
	defaultDuration(&c.Timing.MinAudioTime, 500*time.Millisecond)
	defaultDuration(&c.Timing.MinSpeakingTime, 250*time.Millisecond)
	if c.Timing.PlaybackRate <= 0 {
		c.Timing.PlaybackRate = 1
	}
	defaultDuration(&c.Timing.SkipMinElapsed, 250*time.Millisecond)

	if c.Graphs.Dir == "" {
		c.Graphs.Dir = "graphs"
	}
	if c.Network.APIPort == 0 {
		c.Network.APIPort = 8080
	}
	if c.MQTT.URL == "" {
		c.MQTT.URL = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "sentient-dialogue"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "dialogue"
	}
	c.MQTT.TopicPrefix = strings.Trim(c.MQTT.TopicPrefix, "/")
	if c.Postgres.InstanceID == "" {
		c.Postgres.InstanceID = "default"
	}
	if c.Postgres.QueueSize <= 0 {
		c.Postgres.QueueSize = 1024
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func defaultDuration(d **time.Duration, v time.Duration) {
	if *d == nil {
		*d = &v
	}
}

func (c *Config) validate() error {
	if *c.Timing.MinTextTime < 0 || *c.Timing.MinAudioTime < 0 || *c.Timing.MinSpeakingTime < 0 {
		return fmt.Errorf("timing minimums must not be negative")
	}
	if c.Timing.Padding < 0 {
		return fmt.Errorf("timing.padding must not be negative")
	}
	if *c.Timing.SkipMinElapsed < 0 || c.Timing.SkipMinRemaining < 0 {
		return fmt.Errorf("skip thresholds must not be negative")
	}
	if c.Network.APIPort < 0 || c.Network.APIPort > 65535 {
		return fmt.Errorf("invalid network.api_port: %d", c.Network.APIPort)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Load reads and validates a dialogue.yaml file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes dialogue.yaml content and applies defaults.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported dialogue.yaml version: %d", cfg.Version)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid dialogue.yaml: %w", err)
	}
	return &cfg, nil
}

// ParseLevel maps a config log level to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q", level)
	}
	return l, nil
}
