package main

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"imovelzap/config"
	"imovelzap/internal/adapters/evolution"
	"imovelzap/internal/db"
	"imovelzap/internal/events"
	"imovelzap/internal/handlers"
	"imovelzap/internal/services"
	"imovelzap/internal/storage"
	"imovelzap/pkg/logger"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	conn, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	if err := db.Migrate(conn); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	gateway, err := evolution.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayInstance)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize gateway client")
	}

	var store storage.ObjectStore
	if cfg.S3Bucket != "" {
		s3Store, err := storage.NewS3Store(storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize archive object store")
		}
		store = s3Store
	} else {
		log.Warn().Msg("S3_BUCKET not set, archives will be kept in memory and lost on restart")
		store = storage.NewMemoryStore()
	}

	publisher := events.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	defer publisher.Close()

	conversations := services.NewConversationService(conn)
	dispatcher := services.NewDispatcher(conn, gateway, conversations, publisher, cfg.DispatchDelay)
	archiver := services.NewArchiver(conn, store, cfg.RetentionDays, publisher)
	contacts := services.NewContactSyncService(conn, gateway)
	groups := services.NewGroupSyncService(conn, gateway)

	webhook := handlers.NewWebhookHandler(conversations, publisher, cfg.BusinessPhone)
	server := handlers.NewServer(
		webhook,
		dispatcher,
		archiver,
		contacts,
		groups,
		gateway,
		cfg.DispatchBatchSize,
		cfg.ArchiveBatchSize,
	)

	log.Info().Str("port", cfg.Port).Msg("Server starting")
	if err := http.ListenAndServe(":"+cfg.Port, server.Router()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}
