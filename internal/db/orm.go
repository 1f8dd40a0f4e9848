package db

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

// readingRow is one row of the readings table. The column set is shared
// with buffers written by earlier deployments, so the schema is created by
// hand instead of AutoMigrate.
type readingRow struct {
	TS          string  `gorm:"column:ts"`
	ChannelID   string  `gorm:"column:channel_id"`
	Value       float64 `gorm:"column:value"`
	Description string  `gorm:"column:description"`
	Dimension   string  `gorm:"column:dimension"`
}

func (readingRow) TableName() string { return "readings" }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS readings (
		ts TEXT,
		channel_id TEXT,
		value REAL,
		description TEXT,
		dimension TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_channel_ts ON readings (channel_id, ts)`,
}

func dsn(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		path, busyTimeout.Milliseconds())
}

// openORM opens the buffer file through the pure-Go sqlite driver.
func openORM(path string, busyTimeout time.Duration) (*gorm.DB, error) {
	return gorm.Open(sqlite.New(sqlite.Config{
		DriverName: "sqlite",
		DSN:        dsn(path, busyTimeout),
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

// migrateORM ensures the readings table and its index exist.
func migrateORM(db *gorm.DB) error {
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// closeORM closes the underlying SQL DB associated with the GORM connection.
func closeORM(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
