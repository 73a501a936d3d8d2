package boot

import (
	"github.com/go-co-op/gocron/v2"
	"github.com/neuron-e/api-boukii-sub005/src/booking"
	"github.com/neuron-e/api-boukii-sub005/src/config"
	"github.com/neuron-e/api-boukii-sub005/src/db"
	"github.com/neuron-e/api-boukii-sub005/src/lib"
	"github.com/neuron-e/api-boukii-sub005/src/lib/mailer"
	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/reconcile"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func InitDb() *gorm.DB {
	db := db.GetDb()

	if err := db.AutoMigrate(models.All()...); err != nil {
		lib.GetLogger().Fatal("error migration", zap.Error(err))
	}

	return db
}

// NewOrchestrator wires the booking core to stripe, the mail/kafka dispatcher
// and, when redis is configured, the idempotency store.
func NewOrchestrator(cfg *config.Config, gdb *gorm.DB) *booking.Orchestrator {
	var requests booking.RequestStore
	if rdb := lib.GetRedisClient(); rdb != nil {
		requests = lib.NewRequestStore(rdb, cfg.IdempotencyWindow)
	} else {
		lib.GetLogger().Warn("REDIS_HOST not set, duplicate booking requests will not be detected")
	}
	return booking.New(gdb, lib.StripeGateway{}, mailer.NewDispatcher(), requests)
}

func InitScheduler(cfg *config.Config, o *booking.Orchestrator) gocron.Scheduler {
	log := lib.GetLogger()
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Error("An error has occurred. Check logs for info", zap.Error(err))
		return nil
	}
	if err := reconcile.Register(sched, o, cfg.DriftScanInterval, cfg.HoldReleaseInterval); err != nil {
		log.Error("Error registering jobs", zap.Error(err))
		return nil
	}
	log.Info("Jobs in queue", zap.Int("count", len(sched.Jobs())))
	sched.Start()
	return sched
}

func StopScheduler() {
	log := lib.GetLogger()
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Error("Error retrieving scheduler", zap.Error(err))
		return
	}
	if err := sched.Shutdown(); err != nil {
		log.Error("Error shutting down scheduler", zap.Error(err))
	}
	lib.CloseKafkaProducer()
}
