package database

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuelReschke/SectionsStack/app/models"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// ErrNotAcquired is returned by Release when no reference is held.
var ErrNotAcquired = errors.New("database: release without acquire")

var (
	mu   sync.Mutex
	db   *gorm.DB
	refs int

	// swapped in tests
	opener = openMySQL
	closer = closeDB
)

// Acquire returns the shared connection, opening it on the first call.
// Concurrent first callers wait on the same mutex, so the pool is opened once.
// Every successful Acquire must be paired with a Release.
func Acquire() (*gorm.DB, error) {
	mu.Lock()
	defer mu.Unlock()

	if db == nil {
		conn, err := opener()
		if err != nil {
			return nil, err
		}
		db = conn
	}
	refs++
	return db, nil
}

// Release drops one reference and closes the pool when the last one is gone.
func Release() error {
	mu.Lock()
	defer mu.Unlock()

	if refs == 0 {
		return ErrNotAcquired
	}
	refs--
	if refs > 0 {
		return nil
	}

	conn := db
	db = nil
	return closer(conn)
}

// GetDB returns the shared connection without taking a reference. It is nil
// until SetupDatabase or Acquire succeeded.
func GetDB() *gorm.DB {
	mu.Lock()
	defer mu.Unlock()
	return db
}

// Refs reports the number of outstanding references.
func Refs() int {
	mu.Lock()
	defer mu.Unlock()
	return refs
}

// SetupDatabase acquires the process-wide connection, retrying while MySQL is
// still starting, and migrates the schema in development.
func SetupDatabase() *gorm.DB {
	var (
		conn *gorm.DB
		err  error
	)
	for i := 0; i < maxRetries; i++ {
		conn, err = Acquire()
		if err == nil {
			break
		}
		log.Warnf("[Database] failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		panic(err)
	}

	if env.IsDev() {
		if err := AutoMigrate(conn); err != nil {
			log.Errorf("[Database] auto-migrate failed: %v", err)
		}
	}
	return conn
}

// AutoMigrate creates or updates all tables owned by the app.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&models.ShopAccount{},
		&models.Section{},
		&models.SectionContent{},
		&models.Purchase{},
		&models.BillingWebhookEvent{},
	)
}

// DSN builds the MySQL data source name from the environment.
func DSN() string {
	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)
}

func openMySQL() (*gorm.DB, error) {
	cfg := &gorm.Config{TranslateError: true}
	if !env.IsDev() {
		cfg.Logger = logger.Default.LogMode(logger.Warn)
	}
	conn, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       DSN(),
		DefaultStringSize:         256,
		DisableDatetimePrecision:  true,
		DontSupportRenameIndex:    true,
		DontSupportRenameColumn:   true,
		SkipInitializeWithVersion: false,
	}), cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(env.GetEnvInt("DB_MAX_OPEN_CONNS", 25))
	sqlDB.SetMaxIdleConns(env.GetEnvInt("DB_MAX_IDLE_CONNS", 5))
	sqlDB.SetConnMaxLifetime(time.Hour)
	return conn, nil
}

func closeDB(conn *gorm.DB) error {
	if conn == nil {
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
