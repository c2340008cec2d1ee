package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jaam8/live_polls/migrations"
	_ "github.com/lib/pq"
	"time"
)

type Config struct {
	URL          string        `yaml:"POSTGRES_URL"            env:"POSTGRES_URL"`
	MaxOpenConns int           `yaml:"POSTGRES_MAX_OPEN_CONNS" env:"POSTGRES_MAX_OPEN_CONNS" env-default:"10"`
	ConnMaxIdle  time.Duration `yaml:"POSTGRES_CONN_MAX_IDLE"  env:"POSTGRES_CONN_MAX_IDLE"  env-default:"5m"`
}

func New(config Config) (*sql.DB, error) {
	if config.URL == "" {
		return nil, errors.New("postgres: POSTGRES_URL is empty")
	}
	db, err := sql.Open("postgres", config.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetConnMaxIdleTime(config.ConnMaxIdle)

	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema. Already applied migrations are skipped.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("postgres: migrations source: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("postgres: migrations driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres: migrate up: %w", err)
	}
	return nil
}
