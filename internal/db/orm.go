package db

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // CGO-free driver registered as "sqlite"

	"drinky-board/internal/model"
)

// openORM opens a GORM connection over the modernc driver.
// WAL + busy timeout to avoid "database is locked".
func openORM(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.New(sqlite.Config{
		DriverName: "sqlite",
		DSN:        path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

// migrateORM ensures the schema for all models exists.
func migrateORM(db *gorm.DB) error {
	return db.AutoMigrate(&model.StoredItem{})
}

// closeORM closes the underlying SQL DB associated with the GORM connection.
func closeORM(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// inCollection scopes a query to one collection, and to one id when given.
func inCollection(collection string, id ...string) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		tx = tx.Where("collection = ?", collection)
		if len(id) > 0 {
			tx = tx.Where("id = ?", id[0])
		}
		return tx
	}
}
