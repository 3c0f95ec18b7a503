package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/budget"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/config"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/crypto"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/finding_emitter"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/handler"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/llm"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/media_client"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/notifier_client"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/repository"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/scan_scheduler"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/server"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/service"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/small_agent"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/smart_agent"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	// Load configuration
	cfgPath := "configs/config.yml"
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		cfgPath = env
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Database connection
	db, err := repository.NewPostgresDB(cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	repository.MigrateDB(db, logger)

	// At-rest cipher for message content and finding explanations
	cipher, err := crypto.NewCipher(cfg.Encryption.KeyBase64)
	if err != nil {
		logger.Fatal("Failed to initialize cipher", zap.Error(err))
	}

	// Initialize repositories
	subjectRepo := repository.NewSubjectRepository(db, logger)
	chatRepo := repository.NewChatRepository(db, logger)
	messageRepo := repository.NewMessageRepository(db, logger)
	checkpointRepo := repository.NewCheckpointRepository(db, logger)
	signalRepo := repository.NewSignalRepository(db, logger)
	decisionRepo := repository.NewDecisionRepository(db, logger)
	findingRepo := repository.NewFindingRepository(db, logger)
	usageRepo := repository.NewUsageRepository(db, logger)

	// Collaborator clients
	mediaClient := media_client.NewClient(cfg.MediaService.URL, cfg.MediaService.TimeoutSeconds, logger)
	notifierClient := notifier_client.NewClient(cfg.Notifier.URL, logger)

	// Classifier stack
	caller := llm.NewCaller(cfg.LLM, logger)
	ledger := budget.NewLedger(usageRepo, cfg.LLM.Prices, cfg.Budget, logger)
	emitter := finding_emitter.NewEmitter(findingRepo, notifierClient, cipher, logger)
	smallAgent := small_agent.NewAgent(caller, signalRepo, checkpointRepo, ledger, cipher, logger)
	smartAgent := smart_agent.NewAgent(caller, messageRepo, signalRepo, decisionRepo, checkpointRepo, ledger, emitter, cipher, logger)

	// Adaptive scan scheduler
	scheduler := scan_scheduler.NewScheduler(subjectRepo, chatRepo, messageRepo, checkpointRepo,
		ledger, mediaClient, smallAgent, smartAgent, cfg.Scheduler, logger)

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("Failed to start scan scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	// HTTP surface
	tokenService := service.NewTokenService(cfg, logger)
	deps := server.Deps{
		Auth: handler.NewAuthHandler(tokenService, logger),
		Ingest: handler.NewIngestHandler(subjectRepo, chatRepo, messageRepo, checkpointRepo,
			cipher, mediaClient, ledger, smallAgent, smartAgent, logger),
		Scan:      handler.NewScanHandler(scheduler, logger),
		Finding:   handler.NewFindingHandler(findingRepo, decisionRepo, cipher, logger),
		Usage:     handler.NewUsageHandler(usageRepo, cfg.Budget, logger),
		JWTSecret: tokenService.JWTSecret(),
		Notifier:  notifierClient,
	}

	srv := server.NewServer(db, deps, logger)
	go func() {
		if err := srv.Run(cfg.Server.Port); err != nil {
			logger.Error("Server stopped", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("Application stopped.")
}
