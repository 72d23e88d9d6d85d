package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"keystack/internal/config"
	"keystack/internal/observability/logger"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var errDBUnavailable = errors.New("db unavailable")

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	DB *gorm.DB
}

// NewStore opens postgres when POSTGRES_DSN is set. Without it the store has
// no connection and callers fall back to in-memory registries.
func NewStore(cfg config.Config) (*Store, error) {
	if cfg.PostgresDSN == "" {
		logger.Named("db").Info("POSTGRES_DSN not set; export registry is in-memory")
		return &Store{DB: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{DB: gdb}, nil
}

func (s *Store) Available() bool {
	return s != nil && s.DB != nil
}

// Migrate applies the embedded SQL migrations in file name order. Every
// migration is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if !s.Available() {
		return errDBUnavailable
	}
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	log := logger.Named("db")
	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if err := s.DB.WithContext(ctx).Exec(string(body)).Error; err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		log.Debug("migration applied", zap.String("migration", name))
	}
	return nil
}
