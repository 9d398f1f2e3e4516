package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Signaling SignalingConfig `yaml:"signaling"`
	Audio     AudioConfig     `yaml:"audio"`
	Call      CallConfig      `yaml:"call"`
	Device    DeviceConfig    `yaml:"device"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type MQTTConfig struct {
	Broker        string        `yaml:"broker"`
	ClientID      string        `yaml:"client_id"`
	TopicPrefix   string        `yaml:"topic_prefix"`
	QoS           byte          `yaml:"qos"`
	MethodTimeout time.Duration `yaml:"method_timeout"`
}

type SignalingConfig struct {
	URL         string        `yaml:"url"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type AudioConfig struct {
	Backend    string        `yaml:"backend"`
	SampleRate int           `yaml:"sample_rate"`
	Frame      time.Duration `yaml:"frame"`
}

type CallConfig struct {
	SpeakerResyncDelay   time.Duration   `yaml:"speaker_resync_delay"`
	RouteSuppressWindow  time.Duration   `yaml:"route_suppress_window"`
	RouteRetryDelays     []time.Duration `yaml:"route_retry_delays"`
	RingbackRestartDelay time.Duration   `yaml:"ringback_restart_delay"`
	DisconnectTimeout    time.Duration   `yaml:"disconnect_timeout"`
	RingbackStopTimeout  time.Duration   `yaml:"ringback_stop_timeout"`
	BusyStopTimeout      time.Duration   `yaml:"busy_stop_timeout"`
	ProximityHold        time.Duration   `yaml:"proximity_hold"`
}

type DeviceConfig struct {
	Proximity          bool    `yaml:"proximity"`
	ProximityMaxRange  float64 `yaml:"proximity_max_range"`
	LegacySpeakerphone bool    `yaml:"legacy_speakerphone"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Audio backends.
const (
	BackendOto  = "oto"
	BackendNone = "none"
)

func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker:        "tcp://localhost:1883",
			ClientID:      "voip-mqtt",
			TopicPrefix:   "voip",
			QoS:           1,
			MethodTimeout: 5 * time.Second,
		},
		Signaling: SignalingConfig{
			DialTimeout: 10 * time.Second,
		},
		Audio: AudioConfig{
			Backend:    BackendOto,
			SampleRate: 44100,
			Frame:      20 * time.Millisecond,
		},
		Call: CallConfig{
			SpeakerResyncDelay:   200 * time.Millisecond,
			RouteSuppressWindow:  200 * time.Millisecond,
			RouteRetryDelays:     []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond},
			RingbackRestartDelay: 200 * time.Millisecond,
			DisconnectTimeout:    3 * time.Second,
			RingbackStopTimeout:  500 * time.Millisecond,
			BusyStopTimeout:      300 * time.Millisecond,
			ProximityHold:        10 * time.Minute,
		},
		Device: DeviceConfig{
			ProximityMaxRange: 5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if c.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt.client_id is required")
	}
	if c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topic_prefix is required")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Signaling.URL == "" {
		return fmt.Errorf("signaling.url is required")
	}
	u, err := url.Parse(c.Signaling.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("signaling.url must be a ws:// or wss:// URL, got %q", c.Signaling.URL)
	}
	if c.Audio.Backend != BackendOto && c.Audio.Backend != BackendNone {
		return fmt.Errorf("audio.backend must be %q or %q, got %q", BackendOto, BackendNone, c.Audio.Backend)
	}
	if c.Audio.SampleRate < 8000 {
		return fmt.Errorf("audio.sample_rate must be at least 8000, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Frame <= 0 {
		return fmt.Errorf("audio.frame must be positive")
	}
	if len(c.Call.RouteRetryDelays) == 0 {
		return fmt.Errorf("call.route_retry_delays must not be empty")
	}
	for _, d := range c.Call.RouteRetryDelays {
		if d <= 0 {
			return fmt.Errorf("call.route_retry_delays must be positive, got %v", d)
		}
	}
	if c.Device.Proximity && c.Device.ProximityMaxRange <= 0 {
		return fmt.Errorf("device.proximity_max_range must be positive, got %v", c.Device.ProximityMaxRange)
	}
	return nil
}
