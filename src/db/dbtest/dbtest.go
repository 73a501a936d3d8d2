// Package dbtest opens throwaway sqlite databases migrated with the booking
// schema, plus fixture builders shared by package tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/neuron-e/api-boukii-sub005/src/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New returns an in-memory database limited to one connection, so concurrent
// transactions are serialized the way row locks serialize them on postgres.
func New(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("An error '%s' was not expected when opening sqlite database", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("An error '%s' was not expected when accessing sql.DB", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := gormDB.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("error migration: %s", err.Error())
	}
	t.Cleanup(func() {
		sqlDB.Close()
	})
	return gormDB
}

func Count(t testing.TB, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count failed: %s", err.Error())
	}
	return n
}
