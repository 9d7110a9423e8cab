package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
)

const (
	LampTypeYandex = "YANDEX"
	LampTypeLifx   = "LIFX"
)

type Config struct {
	LampType       string `env:"LAMP_TYPE" envDefault:"YANDEX"`
	OAuthToken     string `env:"YANDEX_OAUTH_TOKEN"`
	DeviceID       string `env:"YANDEX_DEVICE_ID"`
	APIURL         string `env:"API_URL" envDefault:"https://api.iot.yandex.net/v1.0/devices/actions"`
	LightGroupName string `env:"LIGHT_GROUP_NAME" envDefault:"AMBILIGHT"`
	ListenAddr     string `env:"LISTEN_ADDR" envDefault:":5000"`

	UpdateInterval  time.Duration `env:"UPDATE_INTERVAL" envDefault:"500ms"`
	BrightnessStep  int           `env:"BRIGHTNESS_STEP" envDefault:"5"`
	MinBrightness   int           `env:"MIN_BRIGHTNESS" envDefault:"6"`
	MonitorNumber   int           `env:"MONITOR_NUMBER" envDefault:"1"`
	SaturationBoost float64       `env:"SATURATION_BOOST" envDefault:"1.0"`

	SampleSize int    `env:"SAMPLE_SIZE" envDefault:"800"`
	ColorAlgo  string `env:"COLOR_ALGO" envDefault:"AVERAGE"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	MaxErrors      int           `env:"MAX_ERRORS" envDefault:"5"`
	Cooldown       time.Duration `env:"COOLDOWN" envDefault:"10s"`
	CrashPause     time.Duration `env:"CRASH_PAUSE" envDefault:"5s"`
	StrictErrors   bool          `env:"STRICT_ERRORS" envDefault:"false"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads envFile (when it exists) into the process environment and then
// parses the environment into a Config. Variables already set win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.LampType = strings.ToUpper(strings.TrimSpace(cfg.LampType))
	cfg.ColorAlgo = strings.ToUpper(strings.TrimSpace(cfg.ColorAlgo))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.LampType {
	case LampTypeYandex:
		if c.OAuthToken == "" {
			return errors.New("YANDEX_OAUTH_TOKEN is required for LAMP_TYPE=YANDEX")
		}
		if c.DeviceID == "" {
			return errors.New("YANDEX_DEVICE_ID is required for LAMP_TYPE=YANDEX")
		}
		if c.APIURL == "" {
			return errors.New("API_URL must not be empty")
		}
	case LampTypeLifx:
		if c.LightGroupName == "" {
			return errors.New("LIGHT_GROUP_NAME is required for LAMP_TYPE=LIFX")
		}
	default:
		return fmt.Errorf("unknown lamp type: %v", c.LampType)
	}

	if c.SampleSize <= 0 {
		return errors.New("SAMPLE_SIZE must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be > 0")
	}
	if c.MaxErrors <= 0 {
		return errors.New("MAX_ERRORS must be > 0")
	}
	if c.Cooldown < 0 || c.CrashPause < 0 {
		return errors.New("COOLDOWN and CRASH_PAUSE must not be negative")
	}
	return nil
}
