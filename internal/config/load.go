package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable key.
const EnvPrefix = "FLARESENSE"

// legacyEnv maps the bare variable names of the original deployment.
var legacyEnv = map[string]string{
	"database.host":     "DB_HOST",
	"database.user":     "DB_USER",
	"database.password": "DB_PASSWORD",
	"database.name":     "DB_NAME",
	"voice.account_sid": "TWILIO_ACCOUNT_SID",
	"voice.auth_token":  "TWILIO_AUTH_TOKEN",
	"voice.from":        "TWILIO_FROM_NUMBER",
	"voice.to":          "TWILIO_TO_NUMBER",
	"email.api_key":     "RESEND_API_KEY",
	"email.from":        "EMAIL_ADDRESS",
	"email.to":          "TO_EMAIL",
}

// FlagKeys maps command-line flag names to config keys.
var FlagKeys = map[string]string{
	"http":                "http.addr",
	"log-level":           "log.level",
	"log-color":           "log.color",
	"log-file":            "log.file",
	"input":               "capture.input",
	"input-format":        "capture.format",
	"detector-url":        "detector.url",
	"min-confidence":      "detector.min_confidence",
	"cooldown":            "alert.cooldown",
	"evidence-dir":        "evidence.dir",
	"db-driver":           "database.driver",
	"db-path":             "database.path",
	"require-prior-frame": "confirm.require_prior_frame",
	"max-clients":         "webrtc.max_clients",
}

// LoadOptions controls where Load looks for settings.
type LoadOptions struct {
	ConfigFile string         // explicit YAML path, empty searches ./config.yaml
	EnvFile    string         // dotenv file, empty means ".env"
	Flags      *pflag.FlagSet // flags named in FlagKeys override everything
}

// Load resolves the configuration and validates it.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("error binding env %s: %w", legacy, err)
		}
	}

	if err := readConfigFile(v, opts.ConfigFile); err != nil {
		return nil, err
	}

	if opts.Flags != nil {
		for name, key := range FlagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("error binding flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("error validating config: %w", err)
	}
	return cfg, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

var validate = validator.New()

// Validate checks field ranges and cross-field constraints.
func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.status_interval", d.HTTP.StatusInterval)
	v.SetDefault("http.idle_interval", d.HTTP.IdleInterval)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.color", d.Log.Color)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)

	v.SetDefault("capture.input", d.Capture.Input)
	v.SetDefault("capture.format", d.Capture.Format)
	v.SetDefault("capture.width", d.Capture.Width)
	v.SetDefault("capture.height", d.Capture.Height)
	v.SetDefault("capture.fps", d.Capture.FPS)
	v.SetDefault("capture.restart_delay", d.Capture.RestartDelay)

	v.SetDefault("detector.url", d.Detector.URL)
	v.SetDefault("detector.timeout", d.Detector.Timeout)
	v.SetDefault("detector.label", d.Detector.Label)
	v.SetDefault("detector.min_confidence", d.Detector.MinConfidence)

	v.SetDefault("confirm.chaos_threshold", d.Confirm.ChaosThreshold)
	v.SetDefault("confirm.magnitude_threshold", d.Confirm.MagnitudeThreshold)
	v.SetDefault("confirm.medium_coverage", d.Confirm.MediumCoverage)
	v.SetDefault("confirm.high_coverage", d.Confirm.HighCoverage)
	v.SetDefault("confirm.grace_window", d.Confirm.GraceWindow)
	v.SetDefault("confirm.require_prior_frame", d.Confirm.RequirePriorFrame)

	v.SetDefault("alert.cooldown", d.Alert.Cooldown)
	v.SetDefault("alert.task_timeout", d.Alert.TaskTimeout)
	v.SetDefault("alert.zone", d.Alert.Zone)
	v.SetDefault("alert.status_label", d.Alert.StatusLabel)

	v.SetDefault("evidence.dir", d.Evidence.Dir)
	v.SetDefault("evidence.quality", d.Evidence.Quality)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.name", d.Database.Name)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.stats_ttl", d.Database.StatsTTL)

	v.SetDefault("sound.enabled", d.Sound.Enabled)
	v.SetDefault("sound.file", d.Sound.File)

	v.SetDefault("email.api_key", d.Email.APIKey)
	v.SetDefault("email.from", d.Email.From)
	v.SetDefault("email.to", d.Email.To)

	v.SetDefault("voice.account_sid", d.Voice.AccountSID)
	v.SetDefault("voice.auth_token", d.Voice.AuthToken)
	v.SetDefault("voice.from", d.Voice.From)
	v.SetDefault("voice.to", d.Voice.To)
	v.SetDefault("voice.base_url", d.Voice.BaseURL)

	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)
	v.SetDefault("mqtt.topic", d.MQTT.Topic)
	v.SetDefault("mqtt.qos", d.MQTT.QoS)

	v.SetDefault("push.urls", d.Push.URLs)

	v.SetDefault("webrtc.max_clients", d.WebRTC.MaxClients)
	v.SetDefault("webrtc.stun_servers", d.WebRTC.STUNServers)
}
