package config

import (
	"fmt"
	"os"
	"time"

	"bondengine/pkg/bond"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Engine struct {
		HistoryLimit        int     `yaml:"history_limit"`
		FavoriteTopicsLimit int     `yaml:"favorite_topics_limit"`
		RecallChance        float64 `yaml:"recall_chance"`
		Seed                int64   `yaml:"seed"`
		QueueSize           int     `yaml:"queue_size"`
		SaveTimeoutSeconds  float64 `yaml:"save_timeout_seconds"`
	} `yaml:"engine"`
	Scoring bond.Weights `yaml:"scoring"`
	Decay   struct {
		Enabled       bool    `yaml:"enabled"`
		IntervalHours float64 `yaml:"interval_hours"`
		Workers       int     `yaml:"workers"`
	} `yaml:"decay"`
	Cache struct {
		ProfileTTLHours float64 `yaml:"profile_ttl_hours"`
		IntentCacheSize int     `yaml:"intent_cache_size"`
	} `yaml:"cache"`
	Personas struct {
		Dir string `yaml:"dir"`
	} `yaml:"personas"`
	Storage struct {
		Backend    string `yaml:"backend"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"storage"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
	Bot struct {
		DefaultPersona    string  `yaml:"default_persona"`
		CommandPrefix     string  `yaml:"command_prefix"`
		MaxMessageLength  int     `yaml:"max_message_length"`
		SessionGapMinutes float64 `yaml:"session_gap_minutes"`
		RetryAttempts     int     `yaml:"retry_attempts"`
	} `yaml:"bot"`
}

// Storage backends.
const (
	BackendSurreal = "surreal"
	BackendSQLite  = "sqlite"
	BackendMemory  = "memory"
)

// Default returns the configuration used when no file exists. Fields missing
// from a file keep these values too.
func Default() *Config {
	config := &Config{}
	config.Engine.HistoryLimit = 200
	config.Engine.FavoriteTopicsLimit = 20
	config.Engine.RecallChance = 0.25
	config.Engine.QueueSize = 16
	config.Engine.SaveTimeoutSeconds = 5
	config.Scoring = bond.DefaultWeights()
	config.Decay.Enabled = true
	config.Decay.IntervalHours = 6
	config.Decay.Workers = 4
	config.Cache.ProfileTTLHours = 168
	config.Cache.IntentCacheSize = 1000
	config.Storage.Backend = BackendSQLite
	config.Storage.SQLitePath = "bond.db"
	config.Log.Level = "info"
	config.Bot.DefaultPersona = "bonnie"
	config.Bot.CommandPrefix = "!"
	config.Bot.MaxMessageLength = 500
	config.Bot.SessionGapMinutes = 30
	config.Bot.RetryAttempts = 3
	return config
}

func LoadConfig(path string) (*Config, error) {
	config := Default()

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return config, nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(file, config)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSurreal, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendSQLite && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
	}
	if c.Engine.RecallChance < 0 || c.Engine.RecallChance > 1 {
		return fmt.Errorf("engine.recall_chance must be within [0,1], got %.2f", c.Engine.RecallChance)
	}
	if c.Bot.DefaultPersona == "" {
		return fmt.Errorf("bot.default_persona is required")
	}
	return nil
}

func (c *Config) SessionGap() time.Duration {
	return time.Duration(c.Bot.SessionGapMinutes * float64(time.Minute))
}

func (c *Config) DecayInterval() time.Duration {
	return time.Duration(c.Decay.IntervalHours * float64(time.Hour))
}

func (c *Config) ProfileTTL() time.Duration {
	return time.Duration(c.Cache.ProfileTTLHours * float64(time.Hour))
}

func (c *Config) SaveTimeout() time.Duration {
	return time.Duration(c.Engine.SaveTimeoutSeconds * float64(time.Second))
}

// Secrets are read from the environment, never from config.yml.
type Secrets struct {
	DiscordToken string `env:"DISCORD_TOKEN"`
	// DiscordGuildID registers slash commands on one guild instead of globally.
	DiscordGuildID string `env:"DISCORD_GUILD_ID"`
	RedisURL     string `env:"REDIS_URL"`
	SurrealHost  string `env:"SURREAL_DB_HOST"`
	SurrealUser  string `env:"SURREAL_DB_USER"`
	SurrealPass  string `env:"SURREAL_DB_PASS"`
	SurrealNS    string `env:"SURREAL_DB_NAMESPACE" envDefault:"bondengine"`
	SurrealDB    string `env:"SURREAL_DB_DATABASE" envDefault:"profiles"`
}

// LoadSecrets loads envFiles into the environment when they exist (existing
// variables win) and parses Secrets from it.
func LoadSecrets(envFiles ...string) (*Secrets, error) {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var s Secrets
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &s, nil
}

// HasSurreal reports whether every SurrealDB credential is set.
func (s *Secrets) HasSurreal() bool {
	return s.SurrealHost != "" && s.SurrealUser != "" && s.SurrealPass != ""
}
