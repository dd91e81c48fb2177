package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DefaultSQLiteDSN = "automation.db"
	DefaultMySQLDSN  = "root:@tcp(127.0.0.1:3306)/automation?charset=utf8mb4&parseTime=True&loc=UTC"
	DefaultPGDSN     = "host=127.0.0.1 user=postgres dbname=automation sslmode=disable TimeZone=UTC"
)

// Config selects the SQL dialect and connection string.
// Type is "sqlite" (default), "mysql" or "postgres".
type Config struct {
	Type     string
	DSN      string
	LogLevel logger.LogLevel
}

// NewGormDB opens the database described by cfg.
func NewGormDB(cfg Config) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if level == 0 {
		level = logger.Warn
	}
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:  newLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Type == "" || cfg.Type == "sqlite" {
		// SQLite allows a single writer; queue writers on one connection instead
		// of surfacing "database is locked" under concurrent transitions.
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	log.Printf("Database connection established (%s).", dialector.Name())
	return gdb, nil
}

func dialectorFor(cfg Config) (gorm.Dialector, error) {
	dsn := cfg.DSN
	switch cfg.Type {
	case "mysql":
		if dsn == "" {
			dsn = DefaultMySQLDSN
			log.Println("Using default MySQL DSN: ", dsn)
		}
		return mysql.Open(dsn), nil
	case "postgres":
		if dsn == "" {
			dsn = DefaultPGDSN
			log.Println("Using default Postgres DSN: ", dsn)
		}
		return postgres.Open(dsn), nil
	case "", "sqlite":
		if dsn == "" {
			dsn = DefaultSQLiteDSN
			log.Println("Using default SQLite DSN: ", dsn)
		}
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported DB_TYPE %q", cfg.Type)
}

// AutoMigrate performs auto-migration for the given GORM models.
func AutoMigrate(db *gorm.DB, models ...interface{}) error {
	err := db.AutoMigrate(models...)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	log.Println("Database migration completed successfully for provided models.")
	return nil
}
