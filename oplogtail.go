package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/oplogtail/oplogtail/admin"
	"github.com/oplogtail/oplogtail/cfg"
	"github.com/oplogtail/oplogtail/oplog"
	"github.com/oplogtail/oplogtail/publisher"
	"github.com/oplogtail/oplogtail/telemetry"

	_ "github.com/oplogtail/oplogtail/publisher/sink"
	_ "github.com/oplogtail/oplogtail/publisher/transformer"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("oplogtail - MongoDB oplog tailer")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to the replica set
	log.Info().Msg("Connecting to MongoDB")
	client, err := connectMongo(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		return
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to disconnect from MongoDB")
		}
	}()

	// Open the tailing stream over local/oplog.rs
	stream, err := oplog.Open(ctx, client, oplog.OpenOptions{
		MaxAwaitTime: time.Duration(cfg.Config.MongoDB.MaxAwaitTimeMS) * time.Millisecond,
		Retry: oplog.RetryPolicy{
			Initial:    time.Duration(cfg.Config.Stream.RetryInitialMS) * time.Millisecond,
			Max:        time.Duration(cfg.Config.Stream.RetryMaxMS) * time.Millisecond,
			Multiplier: cfg.Config.Stream.RetryMultiplier,
			MaxRetries: cfg.Config.Stream.MaxRetries,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open oplog tailing cursor")
		return
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stream.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to close tailing cursor")
		}
	}()

	// Wire up the publisher pipeline
	stats := telemetry.NewStatsCollector()
	registry, err := publisher.NewRegistry(publisher.RegistryConfig{
		Source:      stream,
		Stats:       stats,
		SinkConfigs: cfg.Config.Sinks,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize publisher registry")
		return
	}

	if err := registry.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start publisher registry")
		return
	}
	defer registry.Stop()

	// Start the admin HTTP server
	if cfg.Config.Admin.Enabled {
		handlers := admin.NewAdminHandlers(stats, admin.PingerFunc(func(ctx context.Context) error {
			return client.Ping(ctx, readpref.Primary())
		}))
		addr := fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port)
		server := admin.Serve(addr, handlers)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Failed to shut down admin server")
			}
		}()
	}

	log.Info().
		Int("sinks", len(cfg.Config.Sinks)).
		Msg("oplogtail started - tailing oplog")

	// Drain the oplog until interrupted or the stream dies
	if err := registry.Run(ctx); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			log.Info().Msg("Shutting down")
		case errors.Is(err, oplog.ErrStreamEnded):
			log.Error().Msg("Oplog cursor exhausted - is this node still a replica set member?")
		default:
			log.Error().Err(err).Msg("Oplog stream failed")
		}
	}
}

func connectMongo(ctx context.Context) (*mongo.Client, error) {
	clientOpts := options.Client().
		ApplyURI(cfg.Config.MongoDB.URI).
		SetConnectTimeout(time.Duration(cfg.Config.MongoDB.ConnectTimeoutMS) * time.Millisecond)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return client, nil
}
