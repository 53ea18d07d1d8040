package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/bank-feed/internal/banking"
	"github.com/Dan9191/bank-feed/internal/config"
	"github.com/Dan9191/bank-feed/internal/handler"
	"github.com/Dan9191/bank-feed/internal/integrations/cbr"
	"github.com/Dan9191/bank-feed/internal/parsers"
	"github.com/Dan9191/bank-feed/internal/parsers/csv"
	"github.com/Dan9191/bank-feed/internal/repository"
	"github.com/Dan9191/bank-feed/internal/service"
	"github.com/Dan9191/bank-feed/internal/utils"
	"github.com/Dan9191/bank-feed/internal/utils/email"
)

// verifierTTL bounds how long a user may take at the bank's consent page
const verifierTTL = 15 * time.Minute

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := repository.Open(cfg.DBDriver, cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	sealer, err := utils.NewSealer(cfg.EncryptionKey)
	if err != nil {
		logger.Fatalf("Failed to initialize token sealing: %v", err)
	}
	repo := repository.NewRepository(db, cfg.DBDriver, sealer)
	if err := repo.Migrate(context.Background()); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Statement parsers
	var layouts []csv.Layout
	if cfg.LayoutsFile != "" {
		if layouts, err = csv.LoadLayoutsFile(cfg.LayoutsFile); err != nil {
			logger.Fatalf("Failed to load CSV layouts: %v", err)
		}
	}
	registry, err := parsers.NewRegistry(layouts)
	if err != nil {
		logger.Fatalf("Failed to build parser registry: %v", err)
	}

	// Open-banking gateway
	providers, err := loadProviders(cfg.BanksFile, logger)
	if err != nil {
		logger.Fatalf("Failed to load banks: %v", err)
	}
	sender := email.NewSender(cfg, logger)
	bank := banking.NewClient(
		providers,
		repo,
		banking.NewStateSigner(cfg.StateSecret),
		banking.NewVerifierCache(verifierTTL),
		banking.NewAPIClient(cfg.HTTPTimeout, logger),
		sender,
		logger,
	)

	// Initialize layers
	cbrClient := cbr.NewCBRClient(cfg.CBRURL, cfg.HTTPTimeout, logger)
	svc := service.NewService(repo, bank, registry, cbrClient, nil, sender, logger, cfg)
	h := handler.NewHandler(svc, cbrClient, logger)

	if cfg.SyncSchedule != "" {
		if err := svc.Sync.Start(cfg.SyncSchedule); err != nil {
			logger.Fatalf("Failed to schedule bank sync: %v", err)
		}
		defer svc.Sync.Stop()
	}

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      h.Router(cfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	logger.Info("Server stopped")
}

// loadProviders reads the bank catalogue; a missing file means no banks
func loadProviders(path string, logger *logrus.Logger) ([]banking.Provider, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Warnf("Bank catalogue %s not found, open banking disabled", path)
		return nil, nil
	}
	banks, err := banking.LoadBanksFile(path)
	if err != nil {
		return nil, err
	}
	return banking.NewProviders(banks)
}
