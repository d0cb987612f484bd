package database

import (
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/vdcapital/billing/app/models"
	"github.com/vdcapital/billing/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// DB is the process-wide connection opened by SetupDatabase.
var DB *gorm.DB

// GetDB returns the connection opened by SetupDatabase.
func GetDB() *gorm.DB {
	return DB
}

// DSNParams are the connection options every billing connection uses.
// clientFoundRows makes RowsAffected count matched rows, so an update that
// writes identical values still reports the row as found.
const DSNParams = "charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true"

// DSN builds the MySQL data source name from the DB_* variables.
func DSN() string {
	return WithParams(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	))
}

// WithParams appends DSNParams to a DSN that carries no options of its own.
func WithParams(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?" + DSNParams
}

// Open connects to MySQL without retrying.
func Open(dsn string) (*gorm.DB, error) {
	return gorm.Open(mysql.New(mysql.Config{
		DSN:                       dsn,
		DefaultStringSize:         256,
		DisableDatetimePrecision:  true,  // not supported before MySQL 5.6
		DontSupportRenameIndex:    true,  // rename index not supported before MySQL 5.7, MariaDB
		DontSupportRenameColumn:   true,  // rename column not supported before MySQL 8, MariaDB
		SkipInitializeWithVersion: false, // auto configure based on currently MySQL version
	}), &gorm.Config{})
}

// AutoMigrate creates or updates the billing tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Subscription{},
		&models.PendingUpgrade{},
		&models.BillingWebhookEvent{},
	)
}

func SetupDatabase() {
	var err error
	dsn := DSN()

	for i := 0; i < maxRetries; i++ {
		DB, err = Open(dsn)
		if err == nil {
			if err = AutoMigrate(DB); err != nil {
				log.Printf("Failed to migrate billing tables: %v", err)
			}
			return
		}

		log.Printf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Printf("Retry number %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}
