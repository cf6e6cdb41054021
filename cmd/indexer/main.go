package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/blobscan/blob-indexer/pkg/api"
	"github.com/blobscan/blob-indexer/pkg/chain"
	"github.com/blobscan/blob-indexer/pkg/checkpoint"
	"github.com/blobscan/blob-indexer/pkg/config"
	"github.com/blobscan/blob-indexer/pkg/indexer"
	syncer "github.com/blobscan/blob-indexer/pkg/sync"
)

type CLIArgs struct {
	ConfigFile string `arg:"--config,env:CONFIG_FILE" default:"config.toml"`

	FromSlot *uint64 `arg:"--from-slot" help:"first slot of the historical range"`
	ToSlot   *uint64 `arg:"--to-slot" help:"last slot of the historical range; implies range mode"`

	NumWorkers            *int    `arg:"--num-workers" help:"parallel backfill workers"`
	SlotsPerSave          *uint64 `arg:"--slots-per-save" help:"checkpoint save cadence"`
	DisableCheckpointSave bool    `arg:"--disable-checkpoint-save" help:"never persist sync state"`
	DisableBackfill       bool    `arg:"--disable-backfill" help:"follow the head only"`

	SecretKey string `arg:"env:SECRET_KEY" help:"shared secret for the indexing API"`
}

func main() {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	var args CLIArgs
	arg.MustParse(&args)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, args); err != nil {
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		logger.Errorf("indexer failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args CLIArgs) error {
	cfg := config.DefaultConfig
	if err := config.ReadFile(args.ConfigFile, &cfg); err != nil {
		return errors.Wrap(err, "reading config file")
	}

	applyArgs(&cfg, args)

	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN}); err != nil {
			return errors.Wrap(err, "initializing sentry")
		}
		defer sentry.Flush(2 * time.Second)
	}

	requestTimeout := time.Duration(cfg.Timeout.RequestTimeoutMillis) * time.Millisecond
	backoffMaxElapsed := time.Duration(cfg.Timeout.BackoffMaxElapsedTimeSeconds) * time.Second

	beacon, err := chain.NewBeaconClient(chain.BeaconConfig{
		Endpoint:       cfg.Beacon.Endpoint,
		RequestTimeout: requestTimeout,
	})
	if err != nil {
		return err
	}

	execution, err := chain.NewExecutionClient(ctx, cfg.Execution.Endpoint)
	if err != nil {
		return err
	}
	defer execution.Close()

	apiClient, err := api.NewClient(api.ClientConfig{
		Endpoint:          cfg.API.Endpoint,
		SecretKey:         cfg.API.SecretKey,
		RequestTimeout:    requestTimeout,
		BackoffMaxElapsed: backoffMaxElapsed,
	})
	if err != nil {
		return err
	}

	store := checkpoint.NewStore(apiClient, checkpoint.Config{
		SlotsPerSave: cfg.Indexer.SlotsPerSave,
		Disabled:     cfg.Indexer.DisableCheckpointSave,
	})

	fetcher := chain.NewFetcher(beacon, execution)
	processor := syncer.NewProcessor(fetcher, apiClient, backoffMaxElapsed)

	stream, err := chain.NewHeadStream(cfg.Beacon.Endpoint)
	if err != nil {
		return err
	}

	ix := indexer.New(beacon, store, processor, stream, indexer.Config{
		FromSlot:         cfg.Indexer.FromSlot,
		ToSlot:           cfg.Indexer.ToSlot,
		NumWorkers:       uint64(cfg.Indexer.NumWorkers),
		DisableBackfill:  cfg.Indexer.DisableBackfill,
		OnPermanentError: syncer.PermanentErrorPolicy(cfg.Indexer.OnPermanentError),

		RealtimeStaleTimeout:             time.Duration(cfg.Realtime.StaleTimeoutSeconds) * time.Second,
		RealtimeMaxConsecutiveReconnects: uint64(cfg.Realtime.MaxConsecutiveReconnects),
		RealtimeSlotsPerSave:             cfg.Realtime.SlotsPerSave,
	})

	return ix.Run(ctx)
}

// applyArgs layers command line overrides on top of the file config.
func applyArgs(cfg *config.Config, args CLIArgs) {
	if args.FromSlot != nil {
		cfg.Indexer.FromSlot = args.FromSlot
	}
	if args.ToSlot != nil {
		cfg.Indexer.ToSlot = args.ToSlot
	}
	if args.NumWorkers != nil {
		cfg.Indexer.NumWorkers = *args.NumWorkers
	}
	if args.SlotsPerSave != nil {
		cfg.Indexer.SlotsPerSave = *args.SlotsPerSave
	}
	if args.DisableCheckpointSave {
		cfg.Indexer.DisableCheckpointSave = true
	}
	if args.DisableBackfill {
		cfg.Indexer.DisableBackfill = true
	}
	if args.SecretKey != "" {
		cfg.API.SecretKey = args.SecretKey
	}
}
