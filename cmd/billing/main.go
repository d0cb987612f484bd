package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/vdcapital/billing/app/controllers"
	"github.com/vdcapital/billing/internal/pkg/archive"
	"github.com/vdcapital/billing/internal/pkg/billing"
	"github.com/vdcapital/billing/internal/pkg/cache"
	"github.com/vdcapital/billing/internal/pkg/database"
	"github.com/vdcapital/billing/internal/pkg/env"
	"github.com/vdcapital/billing/internal/pkg/router"
	"github.com/vdcapital/billing/internal/pkg/sweeper"
)

func main() {
	app, manager := NewApplication()
	manager.Start()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "0.0.0.0"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down billing service...")
	manager.Stop()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}
}

func NewApplication() (*fiber.App, *sweeper.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	cfg, err := billing.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.CronSecret == "" {
		log.Println("Warning: CRON_SECRET is not set, the upgrade sweep endpoint will reject every request")
	}

	svc := billing.NewServiceFromDB(database.GetDB()).
		WithLocker(cache.NewLocker(cache.GetClient())).
		WithSweepConcurrency(cfg.SweepConcurrency)

	archiveCfg, err := archive.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	archiver, err := archive.New(context.Background(), archiveCfg)
	if err != nil {
		log.Fatalf("Failed to set up webhook archive: %v", err)
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: env.GetEnv("OPENAPI_FILE", "./public/docs/v1/openapi.yml"),
		Path:     "v1",
	}))

	// ROUTER
	billingController := controllers.NewBillingController(svc, cfg, archiver)
	router.InstallRouter(app, router.NewApiRouter(billingController, cfg.CronSecret, cache.NewFiberStorage()))

	return app, sweeper.NewManager(svc, cfg.SweepInterval).WithTimeout(cfg.SweepTimeout)
}
