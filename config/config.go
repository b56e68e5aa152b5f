// Package config loads engine configuration from a YAML file with
// environment-variable overrides (SPOORZOEKER_ prefix).
package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const envPrefix = "SPOORZOEKER_"

type Log struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

type HTTP struct {
	ListenAddr   string        `json:"listenaddr" yaml:"listenaddr"`
	ReadTimeout  time.Duration `json:"readtimeout" yaml:"readtimeout"`
	WriteTimeout time.Duration `json:"writetimeout" yaml:"writetimeout"`
	IdleTimeout  time.Duration `json:"idletimeout" yaml:"idletimeout"`
}

type Cache struct {
	Dir      string        `json:"dir" yaml:"dir"`
	MaxAge   time.Duration `json:"maxage" yaml:"maxage"`
	Disabled bool          `json:"disabled" yaml:"disabled"`
}

type Feed struct {
	// URL of the FeatureServer layer; File takes precedence when set.
	URL  string `json:"url" yaml:"url"`
	File string `json:"file" yaml:"file"`
}

type Routing struct {
	SnapToleranceM   float64 `json:"snaptolerancem" yaml:"snaptolerancem"`
	BufferToleranceM float64 `json:"buffertolerancem" yaml:"buffertolerancem"`
	ReversalAngleDeg float64 `json:"reversalangledeg" yaml:"reversalangledeg"`
	WeightMode       string  `json:"weightmode" yaml:"weightmode"`
	DefaultSpeedKmh  float64 `json:"defaultspeedkmh" yaml:"defaultspeedkmh"`
}

type Config struct {
	Log     Log     `json:"log" yaml:"log"`
	HTTP    HTTP    `json:"http" yaml:"http"`
	Cache   Cache   `json:"cache" yaml:"cache"`
	Feed    Feed    `json:"feed" yaml:"feed"`
	Routing Routing `json:"routing" yaml:"routing"`
}

func defaults() Config {
	return Config{
		Log: Log{Level: "info"},
		HTTP: HTTP{
			ListenAddr:   ":5000",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Cache: Cache{Dir: "./spoorzoeker.db"},
		Routing: Routing{
			SnapToleranceM:   0.01,
			BufferToleranceM: 25.0,
			ReversalAngleDeg: 100.0,
			WeightMode:       "planar",
			DefaultSpeedKmh:  80.0,
		},
	}
}

// Load reads path (when it exists) and applies SPOORZOEKER_* environment
// overrides; SPOORZOEKER_CACHE_DIR maps onto cache.dir.
func Load(path string) (*Config, error) {
	cfg := defaults()
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, errors.Wrapf(err, "read config %s", path)
			}
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			return strings.ReplaceAll(key, "_", "."), value
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables")
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
			MatchName: func(mapKey, fieldName string) bool {
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}
