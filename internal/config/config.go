package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config is the top-level shape of config.yaml, generalized from the
// teacher's viper-backed Config struct to this domain's schema. Every
// field carries both a mapstructure tag (viper decoding) and a yaml tag
// (Store's write-back via yaml.v3) so a round trip through the API and
// back out to disk preserves key names.
type Config struct {
	SurplusMargin float64             `mapstructure:"surplus_margin" yaml:"surplus_margin"`
	GridMargin    float64             `mapstructure:"grid_margin" yaml:"grid_margin"`
	IdlePower     float64             `mapstructure:"idle_power" yaml:"idle_power"`
	LogLevel      string              `mapstructure:"log_level" yaml:"log_level"`
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Integrations  IntegrationsConfig  `mapstructure:"integrations" yaml:"integrations"`
	Surplus       SurplusSourceConfig `mapstructure:"surplus" yaml:"surplus"`
	Devices       []DeviceConfig      `mapstructure:"devices" yaml:"devices"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

type IntegrationsConfig struct {
	HTTPGet  HTTPGetConfig  `mapstructure:"http_get" yaml:"http_get"`
	HTTPPost HTTPPostConfig `mapstructure:"http_post" yaml:"http_post"`
	MQTTSub  MQTTSubConfig  `mapstructure:"mqtt_sub" yaml:"mqtt_sub"`
}

type HTTPGetConfig struct {
	Timeout int `mapstructure:"timeout" yaml:"timeout"`
}

type HTTPPostConfig struct {
	Timeout int `mapstructure:"timeout" yaml:"timeout"`
}

type MQTTSubConfig struct {
	Hostname string `mapstructure:"hostname" yaml:"hostname"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// SurplusSourceConfig names which ingestion integration feeds the
// surplus signal, and how. Exactly one of HTTPGet/MQTTSub is populated.
type SurplusSourceConfig struct {
	HTTPGet *SurplusHTTPGetConfig `mapstructure:"http_get" yaml:"http_get,omitempty"`
	MQTTSub *SurplusMQTTSubConfig `mapstructure:"mqtt_sub" yaml:"mqtt_sub,omitempty"`
}

type SurplusHTTPGetConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type SurplusMQTTSubConfig struct {
	Topic string `mapstructure:"topic" yaml:"topic"`
}

// DeviceConfig is one entry of the ordered `devices` sequence. Order in
// the YAML file is significant: it is the device's scheduling priority.
type DeviceConfig struct {
	Name                   string   `mapstructure:"name" yaml:"name"`
	Type                   string   `mapstructure:"type" yaml:"type"`
	ExpectedConsumption    float64  `mapstructure:"expected_consumption" yaml:"expected_consumption"`
	MaxConsumption         *float64 `mapstructure:"max_consumption" yaml:"max_consumption,omitempty"`
	Cooldown               *int     `mapstructure:"cooldown" yaml:"cooldown,omitempty"`
	ConsumptionIntegration string   `mapstructure:"consumption_integration" yaml:"consumption_integration,omitempty"`
	ControlIntegration     string   `mapstructure:"control_integration" yaml:"control_integration,omitempty"`
}

// Load reads config.yaml (or CONFIG_FILE) via viper, applies the
// documented defaults, overlays environment variables, and validates the
// device list before returning. A malformed or missing required value is
// an error that bootstrap turns into exit code 1.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("surplus_margin", 100.0)
	v.SetDefault("grid_margin", 100.0)
	v.SetDefault("idle_power", 100.0)
	v.SetDefault("log_level", "info")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.BindEnv("log_level", "LOG_LEVEL")
	v.BindEnv("server.host", "HOST")
	v.BindEnv("server.port", "PORT")

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s not found: %w", path, err)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Devices))
	for _, d := range cfg.Devices {
		if d.Name == "" {
			return fmt.Errorf("config: device entry missing name")
		}
		if seen[d.Name] {
			return fmt.Errorf("config: duplicate device name %q", d.Name)
		}
		seen[d.Name] = true

		if d.Type != "switch" && d.Type != "regulated" {
			return fmt.Errorf("config: device %q has invalid type %q", d.Name, d.Type)
		}
		if d.ExpectedConsumption < 0 {
			return fmt.Errorf("config: device %q has negative expected_consumption", d.Name)
		}
		if d.MaxConsumption != nil && d.ExpectedConsumption > *d.MaxConsumption {
			return fmt.Errorf("config: device %q has expected_consumption > max_consumption", d.Name)
		}
	}
	return nil
}
