package config

import (
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// InitDB opens the Postgres connection named by DATABASE_URL. Returns
// (nil, nil) when no DSN is configured: the engine then runs fully
// in-memory with no snapshot persistence or audit trail.
func InitDB() (*gorm.DB, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, nil
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}
