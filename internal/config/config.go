// Package config loads runtime settings from defaults, an optional YAML
// file, .env, FLARESENSE_* environment variables and command-line flags.
package config

import (
	"time"
)

// Config is the full runtime configuration of the detection server.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Detector DetectorConfig `mapstructure:"detector"`
	Confirm  ConfirmConfig  `mapstructure:"confirm"`
	Alert    AlertConfig    `mapstructure:"alert"`
	Evidence EvidenceConfig `mapstructure:"evidence"`
	Database DatabaseConfig `mapstructure:"database"`
	Sound    SoundConfig    `mapstructure:"sound"`
	Email    EmailConfig    `mapstructure:"email"`
	Voice    VoiceConfig    `mapstructure:"voice"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Push     PushConfig     `mapstructure:"push"`
	WebRTC   WebRTCConfig   `mapstructure:"webrtc"`
}

type HTTPConfig struct {
	Addr           string        `mapstructure:"addr" validate:"required"`
	StatusInterval time.Duration `mapstructure:"status_interval" validate:"gt=0"`
	IdleInterval   time.Duration `mapstructure:"idle_interval" validate:"gt=0"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn warning error silent none DEBUG INFO WARN ERROR SILENT"`
	Color      bool   `mapstructure:"color"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

// CaptureConfig selects the ffmpeg input feeding the frame loop.
type CaptureConfig struct {
	Input  string `mapstructure:"input" validate:"required"`
	Format string `mapstructure:"format"` // ffmpeg -f, empty lets ffmpeg probe
	Width  int    `mapstructure:"width" validate:"gt=0"`
	Height int    `mapstructure:"height" validate:"gt=0"`
	FPS    int    `mapstructure:"fps" validate:"gt=0,lte=120"`

	// RestartDelay is the pause before a failed capture session is retried.
	RestartDelay time.Duration `mapstructure:"restart_delay" validate:"gt=0"`
}

type DetectorConfig struct {
	URL           string        `mapstructure:"url" validate:"required,url"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Label         string        `mapstructure:"label" validate:"required"`
	MinConfidence float64       `mapstructure:"min_confidence" validate:"gte=0,lt=1"`
}

// ConfirmConfig holds the liveness and coverage decision boundaries.
type ConfirmConfig struct {
	ChaosThreshold     float64       `mapstructure:"chaos_threshold" validate:"gte=0"`
	MagnitudeThreshold float64       `mapstructure:"magnitude_threshold" validate:"gte=0"`
	MediumCoverage     float64       `mapstructure:"medium_coverage" validate:"gte=0,lte=100"`
	HighCoverage       float64       `mapstructure:"high_coverage" validate:"gtefield=MediumCoverage,lte=100"`
	GraceWindow        time.Duration `mapstructure:"grace_window" validate:"gte=0"`
	RequirePriorFrame  bool          `mapstructure:"require_prior_frame"`
}

type AlertConfig struct {
	Cooldown    time.Duration `mapstructure:"cooldown" validate:"gt=0"`
	TaskTimeout time.Duration `mapstructure:"task_timeout" validate:"gt=0"`
	Zone        string        `mapstructure:"zone" validate:"required,max=50"`
	StatusLabel string        `mapstructure:"status_label"`
}

type EvidenceConfig struct {
	Dir     string `mapstructure:"dir" validate:"required"`
	Quality int    `mapstructure:"quality" validate:"gte=1,lte=100"`
}

type DatabaseConfig struct {
	Driver   string        `mapstructure:"driver" validate:"oneof=mysql sqlite"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Name     string        `mapstructure:"name"`
	Path     string        `mapstructure:"path"`
	StatsTTL time.Duration `mapstructure:"stats_ttl" validate:"gte=0"`
}

type SoundConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	File    string `mapstructure:"file"`
}

// EmailConfig configures the Resend email channel. An empty APIKey disables it.
type EmailConfig struct {
	APIKey string   `mapstructure:"api_key"`
	From   string   `mapstructure:"from"`
	To     []string `mapstructure:"to"`
}

// VoiceConfig configures the Twilio voice-call channel.
type VoiceConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
	To         string `mapstructure:"to"`
	BaseURL    string `mapstructure:"base_url" validate:"omitempty,url"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
	QoS      int    `mapstructure:"qos" validate:"gte=0,lte=2"`
}

// PushConfig lists shoutrrr service URLs (telegram://, ntfy://, ...).
type PushConfig struct {
	URLs []string `mapstructure:"urls"`
}

type WebRTCConfig struct {
	MaxClients  int      `mapstructure:"max_clients" validate:"gte=0"`
	STUNServers []string `mapstructure:"stun_servers"`
}

// DefaultConfig returns a config aligned with the original Flask service behavior.
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:           ":5000",
			StatusInterval: 1 * time.Second,
			IdleInterval:   5 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Color:      true,
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Capture: CaptureConfig{
			Input:  "/dev/video0",
			Format: "v4l2",
			Width:  640,
			Height: 480,
			FPS:    15,

			RestartDelay: 2 * time.Second,
		},
		Detector: DetectorConfig{
			URL:           "http://localhost:8000/detect",
			Timeout:       5 * time.Second,
			Label:         "fire",
			MinConfidence: 0.30,
		},
		Confirm: ConfirmConfig{
			ChaosThreshold:     0.15,
			MagnitudeThreshold: 0.3,
			MediumCoverage:     2.0,
			HighCoverage:       15.0,
			GraceWindow:        3 * time.Second,
		},
		Alert: AlertConfig{
			Cooldown:    60 * time.Second,
			TaskTimeout: 30 * time.Second,
			Zone:        "Camera 1",
			StatusLabel: "Camera 1 (Main)",
		},
		Evidence: EvidenceConfig{
			Dir:     "evidence",
			Quality: 90,
		},
		Database: DatabaseConfig{
			Driver:   "mysql",
			Host:     "localhost",
			Port:     3306,
			User:     "root",
			Name:     "fire_detection_db",
			Path:     "flaresense.db",
			StatsTTL: 10 * time.Second,
		},
		Sound: SoundConfig{
			Enabled: true,
			File:    "alarm.wav",
		},
		Voice: VoiceConfig{
			BaseURL: "https://api.twilio.com",
		},
		MQTT: MQTTConfig{
			ClientID: "flaresense",
			Topic:    "flaresense/alerts",
		},
		WebRTC: WebRTCConfig{
			MaxClients:  10,
			STUNServers: []string{"stun:stun.l.google.com:19302"},
		},
	}
}
