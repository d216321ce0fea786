package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"actsasversioned/internal/api"
	"actsasversioned/internal/config"
	"actsasversioned/internal/metrics"
	"actsasversioned/internal/model"
	"actsasversioned/internal/repository"
	"actsasversioned/internal/service"
	"actsasversioned/pkg/logger"
	"actsasversioned/pkg/versioning"
	"actsasversioned/pkg/versioning/gormhost"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()

	// Initialize logger
	logger.InitLogger(cfg.Server.Environment)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("application startup failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// 2. Initialize Infrastructure
	db, err := initDB(cfg.Database)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	host, tracking, err := initVersioning(db, cfg.Versioning)
	if err != nil {
		return err
	}
	defer host.Close()
	defer tracking.Close()

	// 3. Initialize Repositories
	authorRepo := repository.NewAuthorRepository(db)
	bookRepo := repository.NewBookRepository(db)
	historyRepo := repository.NewHistoryRepository(db)

	// 4. Initialize Services
	svc := service.NewLibraryService(host, tracking, authorRepo, bookRepo, historyRepo)

	// 5. Setup HTTP Server
	r := api.RegisterRoutes(api.NewLibraryHandler(svc))

	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment),
			zap.String("driver", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen failed", zap.Error(err))
		}
	}()

	// 6. Graceful Shutdown Signal Wait
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited properly")
	return nil
}

// -- Infrastructure Initializers --

func initDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLogger(cfg.SlowThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return db, nil
}

// initVersioning installs history tracking on db, migrating entity and history tables when enabled.
func initVersioning(db *gorm.DB, cfg config.VersioningConfig) (*gormhost.Host, *versioning.Configuration, error) {
	if cfg.AutoMigrate {
		if err := db.AutoMigrate(model.Tracked()...); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	host, err := gormhost.New(db, model.Tracked()...)
	if err != nil {
		return nil, nil, err
	}

	tracking, err := versioning.EnableTracking(versioning.NewConfiguration(host,
		versioning.WithTableSuffix(cfg.TableSuffix),
		versioning.WithObserver(metrics.NewPrometheusObserver()),
	))
	if err != nil {
		host.Close()
		return nil, nil, err
	}

	if cfg.AutoMigrate {
		if err := host.Migrate(context.Background()); err != nil {
			tracking.Close()
			host.Close()
			return nil, nil, err
		}
	}
	return host, tracking, nil
}
