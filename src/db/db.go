package db

import (
	"github.com/neuron-e/api-boukii-sub005/src/config"
	"github.com/neuron-e/api-boukii-sub005/src/lib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var db *gorm.DB

func GetDb() *gorm.DB {
	if db != nil {
		return db
	}
	log := lib.GetLogger()
	gormConfig := &gorm.Config{}
	if config.Get().IsProd() {
		gormConfig.Logger = logger.Default.LogMode(logger.Warn)
	}
	_db, err := gorm.Open(postgres.Open(config.GetDSN()), gormConfig)
	if err != nil {
		log.Error("Error connecting to database", zap.Error(err))
		panic(err)
	}
	sqlDB, err := _db.DB()
	if err != nil {
		log.Fatal("Error establishing connection to database", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	db = _db
	return _db
}

func NewDB(newdb *gorm.DB) {
	db = newdb
}

// IsPostgres reports whether tx talks to postgres. Advisory locks are only
// available there.
func IsPostgres(tx *gorm.DB) bool {
	return tx.Dialector.Name() == "postgres"
}
