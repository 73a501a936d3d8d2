package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"regexp"
	"syscall"
	"time"

	"github.com/covalenthq/lumberjack"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	_ "github.com/joho/godotenv/autoload"
	"github.com/neuron-e/api-boukii-sub005/src/booking"
	"github.com/neuron-e/api-boukii-sub005/src/boot"
	"github.com/neuron-e/api-boukii-sub005/src/config"
	"github.com/neuron-e/api-boukii-sub005/src/lib"
	"github.com/neuron-e/api-boukii-sub005/src/middlewares"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	apiPrefix string = "/api/v1"
)

func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := booking.RegisterValidations(v); err != nil {
			lib.GetLogger().Fatal("Could not register validators", zap.Error(err))
		}
	}
}

func setupRouter(cfg *config.Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(middlewares.SecureHeaders, middlewares.RequestID)
	router.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, "ok")
	})
	if cfg.ApiEnv == "local" {
		router.Use(cors.Default())
	} else {
		cc := cors.DefaultConfig()
		cc.AllowMethods = append(cc.AllowMethods, "GET", "POST", "PATCH", "PUT", "DELETE", "HEAD")
		cc.AllowHeaders = append(cc.AllowHeaders, "Origin", "Authorization", middlewares.SchoolHeader, middlewares.RequestIDHeader, "Idempotency-Key")
		cc.AllowOriginFunc = func(origin string) bool {
			if cfg.AppHost == "" {
				return false
			}
			match, _ := regexp.MatchString(cfg.AppHost, origin)
			return match
		}
		cc.AllowCredentials = true
		router.Use(cors.New(cc))
	}
	return router
}

func maintenanceModeMiddleware(g *gin.Engine, cfg *config.Config) *gin.Engine {
	g.Use(func(ctx *gin.Context) {
		if cfg.MaintenanceMode {
			err := errors.New("server is under maintenance")
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, err.Error())
			return
		}
	})
	return g
}

func apiv1Group(g *gin.Engine, gdb *gorm.DB) *gin.RouterGroup {
	apiv1 := g.Group(apiPrefix)
	apiv1.Use(middlewares.SchoolContext(gdb))
	return apiv1
}

// routes mounts the booking API. Split out of main so tests can build the
// same engine against a throwaway database.
func routes(cfg *config.Config, o *booking.Orchestrator) *gin.Engine {
	registerValidators()
	router := setupRouter(cfg)
	router = maintenanceModeMiddleware(router, cfg)
	apiv1 := apiv1Group(router, o.DB)
	bookingHandlers(apiv1, o)
	availabilityHandlers(apiv1, o)
	return router
}

func initLogger(cfg *config.Config) {
	cwd, _ := os.Getwd()
	apiLogs := path.Join(cwd, "logs", "api.log")
	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.ForceConsoleColor()
	}
	gin.DefaultWriter = io.MultiWriter(&lumberjack.Logger{
		Filename:   apiLogs,
		MaxSize:    500,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	}, os.Stdout)
}

func main() {
	cfg := config.Load()
	initLogger(cfg)
	logger := lib.GetLogger()
	defer logger.Sync()

	gdb := boot.InitDb()
	orchestrator := boot.NewOrchestrator(cfg, gdb)
	boot.InitScheduler(cfg, orchestrator)
	defer boot.StopScheduler()

	router := routes(cfg, orchestrator)
	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: router,
	}
	go func() {
		logger.Info("Listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
}
