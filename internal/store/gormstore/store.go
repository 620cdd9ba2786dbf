package gormstore

import (
	"database/sql"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/go-gormigrate/gormigrate/v2"
)

// Config holds database configuration.
type Config struct {
	// SQLitePath is the SQLite database file. Ignored when PostgresDSN is set.
	SQLitePath string
	// PostgresDSN selects the Postgres backend when non-empty.
	PostgresDSN string
	MaxConns    int             // maximum open connections (default 4)
	LogLevel    logger.LogLevel // GORM log level (logger.Silent for production)
}

// Store wraps the GORM connection.
type Store struct {
	DB    *gorm.DB
	sqlDB *sql.DB
}

// Open connects to the configured backend and runs migrations.
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	if cfg.PostgresDSN != "" {
		dialector = postgres.Open(cfg.PostgresDSN)
	} else {
		// Open the raw connection with the modernc driver and hand it to the
		// dialector, so both backends share one connection setup path.
		sqlDB, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		dialector = sqlite.Dialector{Conn: sqlDB}
	}

	logLevel := cfg.LogLevel
	if logLevel == 0 {
		logLevel = logger.Silent
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:      logger.Default.LogMode(logLevel),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if cfg.PostgresDSN == "" {
		if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
		if _, err := sqlDB.Exec("PRAGMA busy_timeout=5000"); err != nil {
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	return &Store{DB: db, sqlDB: sqlDB}, nil
}

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_sessions_and_episodes",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Session{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&Episode{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("sessions", "episodes")
			},
		},
	})
	return m.Migrate()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}
