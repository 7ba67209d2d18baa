package db

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ledgerdesk/assistant-backend/internal/platform/envutil"
	"github.com/ledgerdesk/assistant-backend/internal/platform/logger"
)

type Service struct {
	DB  *gorm.DB
	log *logger.Logger
}

type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Driver:          envutil.String("DB_DRIVER", "postgres"),
		DSN:             envutil.String("DB_DSN", ""),
		MaxOpenConns:    envutil.Int("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    envutil.Int("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: envutil.Duration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

// NewService opens the configured database. The sqlite driver exists for local
// development and tests; production runs postgres.
func NewService(cfg Config, baseLog *logger.Logger) (*Service, error) {
	log := baseLog.With("component", "db")

	var dial gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "sqlite3":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file:assistant.db?_fk=1"
		}
		dial = sqlite.Open(dsn)
	case "", "postgres", "postgresql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("db: DB_DSN is required for postgres")
		}
		dial = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("db: unknown driver %q", cfg.Driver)
	}

	gdb, err := gorm.Open(dial, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("db: raw handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	log.Info("database connected", "driver", cfg.Driver)
	return &Service{DB: gdb, log: log}, nil
}

func (s *Service) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
