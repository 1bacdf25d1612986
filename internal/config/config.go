package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Engine   EngineConfig   `toml:"engine"`
	Instance InstanceConfig `toml:"instance"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type AuthConfig struct {
	JWTSecret      string `toml:"jwt_secret"`
	TokenExpiryMin int    `toml:"token_expiry_min"`
}

type EngineConfig struct {
	SchemaVersion int     `toml:"schema_version"`
	TargetRate    float64 `toml:"target_rate"`
	BotTargetRate float64 `toml:"bot_target_rate"`
	Gain          float64 `toml:"calibration_gain"`
	MaxStep       float64 `toml:"calibration_max_step"`
	MaxTurns      int     `toml:"max_turns"`
}

type InstanceConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			Path: "data/hidesis.db",
		},
		Auth: AuthConfig{
			JWTSecret:      "change-me-in-production",
			TokenExpiryMin: 1440, // 24h
		},
		Engine: EngineConfig{
			SchemaVersion: 1,
			TargetRate:    0.35,
			BotTargetRate: 0.15,
			Gain:          0.5,
			MaxStep:       0.10,
			MaxTurns:      9,
		},
		Instance: InstanceConfig{
			ID:   "local",
			Name: "hidesis-local",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
