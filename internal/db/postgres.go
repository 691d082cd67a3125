package db

import (
	"fmt"
	"net/url"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/repos"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewPostgresService connects to the job database. databaseURL is a
// postgres:// DSN; if password is non-empty it replaces any password embedded
// in the URL so secrets can be injected separately from the DSN.
func NewPostgresService(log *logger.Logger, databaseURL, password string) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	dsn, err := applyPassword(databaseURL, password)
	if err != nil {
		return nil, err
	}

	serviceLog.Info("Connecting to Postgres...")
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func applyPassword(databaseURL, password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return databaseURL, nil
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid database URL: %w", err)
	}
	user := ""
	if u.User != nil {
		user = u.User.Username()
	}
	u.User = url.UserPassword(user, password)
	return u.String(), nil
}

// AutoMigrateAll creates the three job relations and their indexes.
func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating job tables...")
	if err := s.db.AutoMigrate(
		&repos.JobRecord{},
		&repos.JobParameterRecord{},
		&repos.JobResultRecord{},
	); err != nil {
		return fmt.Errorf("auto migration failed: %w", err)
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
