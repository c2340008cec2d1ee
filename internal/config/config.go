package config

import (
	"errors"
	"fmt"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jaam8/live_polls/internal/realtime"
	"github.com/jaam8/live_polls/pkg/postgres"
	"github.com/jaam8/live_polls/pkg/tarantool"
	"github.com/joho/godotenv"
	"io/fs"
	"os"
)

const (
	DriverMemory    = "memory"
	DriverTarantool = "tarantool"
	DriverPostgres  = "postgres"
)

type Config struct {
	HTTPPort      string           `yaml:"HTTP_PORT"      env:"HTTP_PORT"      env-default:"8080"`
	LogLevel      string           `yaml:"LOG_LEVEL"      env:"LOG_LEVEL"      env-default:"info"`
	StorageDriver string           `yaml:"STORAGE_DRIVER" env:"STORAGE_DRIVER" env-default:"memory"`
	SeedDemo      bool             `yaml:"SEED_DEMO"      env:"SEED_DEMO"      env-default:"false"`
	Realtime      realtime.Config  `yaml:"REALTIME"`
	Tarantool     tarantool.Config `yaml:"TARANTOOL"`
	Postgres      postgres.Config  `yaml:"POSTGRES"`
	Mattermost    Mattermost       `yaml:"MATTERMOST"`
}

// Mattermost integration is off while MM_URL is empty.
type Mattermost struct {
	URL       string `yaml:"MM_URL"     env:"MM_URL"`
	WsURL     string `yaml:"MM_WS_URL"  env:"MM_WS_URL"`
	BotToken  string `yaml:"BOT_TOKEN"  env:"BOT_TOKEN"`
	ChannelID string `yaml:"CHANNEL_ID" env:"CHANNEL_ID"`
}

func (m Mattermost) Enabled() bool {
	return m.URL != ""
}

// New reads an optional .env file, then the YAML file named by CONFIG_PATH if
// set, then the environment. Environment values win.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	var config Config
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &config); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&config); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case DriverMemory, DriverTarantool:
	case DriverPostgres:
		if c.Postgres.URL == "" {
			return errors.New("config: POSTGRES_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.Mattermost.Enabled() && (c.Mattermost.WsURL == "" || c.Mattermost.BotToken == "") {
		return errors.New("config: MM_WS_URL and BOT_TOKEN are required when MM_URL is set")
	}
	return nil
}
