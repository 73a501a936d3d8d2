package lib

import (
	"log"

	"github.com/covalenthq/lumberjack"
	"github.com/neuron-e/api-boukii-sub005/src/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

func initLogger() *zap.Logger {
	cfg := config.Get()
	var zc zap.Config
	if cfg.IsProd() {
		zc = zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	l, err := zc.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	if cfg.LogFile == "" {
		return l
	}
	rotated := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    500,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	})
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), rotated, zc.Level)
	return l.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
}

func GetLogger() *zap.Logger {
	if logger == nil {
		logger = initLogger()
	}
	return logger
}

// NewLogger replaces the shared logger, e.g. with zap.NewNop() in tests.
func NewLogger(l *zap.Logger) {
	logger = l
}
