// package main provides the entry point for the futarch-backend
// microservice: it wires the registry, signing vault, ledger client, pool
// venues, eventing and HTTP surfaces together and starts the listeners.
package main

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/futarchia/futarch-backend/config"
	"github.com/futarchia/futarch-backend/database"
	eventproposals "github.com/futarchia/futarch-backend/events/modules/proposals"
	gqlschema "github.com/futarchia/futarch-backend/graphql"
	"github.com/futarchia/futarch-backend/internal/api"
	"github.com/futarchia/futarch-backend/internal/cache"
	kafkaworker "github.com/futarchia/futarch-backend/internal/kafka"
	"github.com/futarchia/futarch-backend/internal/ledger"
	"github.com/futarchia/futarch-backend/internal/locks"
	"github.com/futarchia/futarch-backend/internal/metastore"
	"github.com/futarchia/futarch-backend/internal/metrics"
	"github.com/futarchia/futarch-backend/internal/orchestrator"
	"github.com/futarchia/futarch-backend/internal/pool"
	"github.com/futarchia/futarch-backend/internal/signer"
	"github.com/futarchia/futarch-backend/restapi"
)

func main() {
	logger := database.InitLogger()
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	network, err := config.LoadNetwork(cfg.NetworkFile)
	if err != nil {
		logger.Fatal("failed to load network description", zap.Error(err))
	}

	db := database.InitializeDatabase()
	registry := database.NewArangoRegistry(db)

	// The vault floor keeps freshly allocated admin indexes ahead of every
	// index already recorded in the registry.
	vault, err := signer.Open(cfg.VaultMnemonic)
	if err != nil {
		logger.Fatal("failed to open signing vault", zap.Error(err))
	}
	maxIndex, err := registry.MaxAdminKeyIndex(context.Background())
	if err != nil {
		logger.Fatal("failed to read max admin key index", zap.Error(err))
	}
	vault.SetFloor(maxIndex + 1)

	rpc := ledger.NewRPCClient(cfg.LedgerRPCURL, logger)

	var venues []pool.Venue
	for _, v := range network.Venues {
		switch v.Kind {
		case "cpmm":
			venues = append(venues, pool.NewCPMM(ledger.Ref(v.Program), rpc))
		default:
			logger.Fatal("unknown venue kind in network file", zap.String("kind", v.Kind))
		}
	}

	var events orchestrator.EventSink
	if cfg.KafkaBrokers != "" {
		producer := eventproposals.NewProducer(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaEventTopic)
		defer producer.Close() //nolint:errcheck
		events = producer
	}

	svc := orchestrator.New(orchestrator.Deps{
		Registry: registry,
		Ledger:   rpc,
		Vault:    vault,
		Venues:   pool.NewRegistry(venues...),
		Docs:     metastore.NewClient(cfg.MetastoreURL, logger),
		Locks:    locks.New(),
		Cache:    cache.New(),
		Events:   events,
		Config:   cfg,
		Network:  network,
		Logger:   logger,
	})

	// Seed the per-organization proposal counts so the no-TTL count cache
	// is correct from the first read after a restart.
	go func() {
		if err := svc.RecountAll(context.Background()); err != nil {
			logger.Warn("startup proposal recount failed", zap.Error(err))
		}
	}()

	gqlschema.InitService(svc)
	schema, err := gqlschema.CreateSchema()
	if err != nil {
		logger.Fatal("failed to create GraphQL schema", zap.Error(err))
	}

	if cfg.KafkaBrokers != "" {
		if err := kafkaworker.RunCrankProcessor(context.Background(), svc, cfg.KafkaCrankTopic, logger); err != nil {
			logger.Fatal("failed to start crank processor", zap.Error(err))
		}
	}

	go metrics.Serve(cfg.MetricsPort, logger)

	app := api.NewFiberApp()
	restapi.SetupRoutes(app, svc, schema)

	logger.Info("starting server",
		zap.String("port", cfg.Port),
		zap.String("graphql", "/api/v1/graphql"))
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
