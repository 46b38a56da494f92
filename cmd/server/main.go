package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/openbuilders/batch-submitter/internal/api"
	"github.com/openbuilders/batch-submitter/internal/approval"
	"github.com/openbuilders/batch-submitter/internal/builder"
	"github.com/openbuilders/batch-submitter/internal/cache"
	"github.com/openbuilders/batch-submitter/internal/config"
	"github.com/openbuilders/batch-submitter/internal/coordinator"
	"github.com/openbuilders/batch-submitter/internal/env"
	"github.com/openbuilders/batch-submitter/internal/health"
	"github.com/openbuilders/batch-submitter/internal/intake"
	"github.com/openbuilders/batch-submitter/internal/lifecycle"
	"github.com/openbuilders/batch-submitter/internal/log"
	"github.com/openbuilders/batch-submitter/internal/metrics"
	"github.com/openbuilders/batch-submitter/internal/notifier"
	"github.com/openbuilders/batch-submitter/internal/queue"
	"github.com/openbuilders/batch-submitter/internal/reconciler"
	"github.com/openbuilders/batch-submitter/internal/repository/postgres"
	"github.com/openbuilders/batch-submitter/internal/sender"
	"github.com/openbuilders/batch-submitter/internal/solana"
	"github.com/openbuilders/batch-submitter/internal/submission"
)

func main() {
	env.Load(".env")

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("Couldn't load configuration", "error", err)
		os.Exit(1)
	}

	log.Setup(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("batch submitter exited with an error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// create the context and register signals that could cause its cancellation
	// and gracefull shutdown
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	instanceID := getInstanceID(cfg.ID)
	dbTimeout := cfg.Postgres.Timeout

	slog.Info("Connecting to Postgres...")

	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("connect to Postgres: %w", err)
	}

	pg := postgres.New(pool, cfg.Postgres.PingTimeout)
	defer pg.Close()

	if err := pg.Ping(ctx); err != nil {
		return fmt.Errorf("check Postgres connection: %w", err)
	}

	if err := pg.Migrate(ctx); err != nil {
		return err
	}

	slog.Info("Connecting to Redis...")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("check Redis connection: %w", err)
	}

	locks := cache.New(&cache.Config{LockTTL: cfg.Redis.LockTTL}, rdb)

	walletKey, err := solana.LoadPrivateKey(cfg.Solana.WalletKey)
	if err != nil {
		return fmt.Errorf("load wallet key: %w", err)
	}

	rpcClient := rpc.New(cfg.Solana.RPCURL)
	defer rpcClient.Close()

	wallet := solana.NewWallet(walletKey)
	compiler := solana.NewCompiler(&solana.CompilerConfig{
		Payer: wallet.Address(),
	}, rpcClient, solana.NewLookupResolver(rpcClient))

	var client submission.Client
	switch cfg.Submission.Backend {
	case config.BackendHTTP:
		client = submission.NewHTTPClient(&submission.HTTPConfig{
			BaseURL: cfg.Submission.APIBaseURL,
			Timeout: cfg.Submission.Timeout,
		})
	default:
		client = solana.NewSubmitter(&solana.SubmitterConfig{
			SkipPreflight: cfg.Submission.SkipPreflight,
		}, rpcClient)
	}

	slog.Info("Using submission backend", "backend", cfg.Submission.Backend,
		"wallet", wallet.PublicKey(), "cluster", cfg.Solana.Cluster)

	m := metrics.New(prometheus.DefaultRegisterer)

	var (
		gate      approval.Gate = approval.AutoApprove
		approvals api.Approvals
	)
	if cfg.Approval.Mode == config.ApprovalOperator {
		broker := approval.NewBroker(&approval.BrokerConfig{
			MaxInFlight: cfg.Approval.MaxInFlight,
		})
		gate, approvals = broker, broker
	}

	manager := lifecycle.New(&lifecycle.Config{
		Origin:       cfg.Lifecycle.Origin,
		MaxRetries:   &cfg.Lifecycle.MaxRetries,
		PollInterval: cfg.Lifecycle.PollInterval,
		MaxPollTime:  cfg.Lifecycle.MaxPollTime,
		Commitment:   cfg.Solana.Commitment,
	}, lifecycle.Dependencies{
		Builder:     builder.New(solana.NewFeeEstimator(rpcClient)),
		Codec:       compiler,
		Gate:        gate,
		Signer:      wallet,
		Client:      client,
		Observer:    lifecycle.Observers{m, sender.NewRecorder(pg, dbTimeout)},
		Invalidator: locks,
	})

	q := queue.New(&queue.Config{
		URL:               cfg.Rabbit.URL,
		ReconnectInterval: cfg.Rabbit.ReconnectInterval,
		ConnectTimeout:    5 * time.Second,
	})

	jobs := intake.New(&intake.Config{
		Prefetch:  cfg.Rabbit.Prefetch,
		DBTimeout: dbTimeout,
		Buffer:    cfg.Sender.NumWorkers,
	}, pg, locks)

	q.RegisterWorker(jobs.Consume)

	workers := sender.New(&sender.Config{
		NumWorkers:       cfg.Sender.NumWorkers,
		DBTimeout:        dbTimeout,
		DefaultChunkSize: cfg.Sender.DefaultChunkSize,
		Build: builder.Options{
			MaxInstructionsPerTx:   cfg.Sender.MaxInstructionsPerTx,
			MaxPayloadBytes:        cfg.Sender.MaxPayloadBytes,
			UseFirstEstimateForAll: cfg.Sender.UseFirstEstimateForAll,
			BasePriorityFee:        cfg.Sender.BasePriorityFee,
			ComputeScaleUp:         cfg.Sender.ComputeScaleUp,
			LookupTables:           cfg.Solana.LookupTables(),
		},
	}, jobs.Jobs, coordinator.New(manager), pg, locks, m)

	results := notifier.New(&notifier.Config{
		BatchSize:    cfg.Notifier.BatchSize,
		PollInterval: cfg.Notifier.PollInterval,
		DBTimeout:    dbTimeout,
	}, q, pg)

	recon := reconciler.New(&reconciler.Config{
		Interval:    cfg.Reconciler.Interval,
		BatchSize:   cfg.Reconciler.BatchSize,
		DBTimeout:   dbTimeout,
		Commitment:  cfg.Solana.Commitment,
		GiveUpAfter: cfg.Reconciler.GiveUpAfter,
	}, pg, client)

	checker := health.NewChecker(&health.Config{
		CheckInterval: 10 * time.Second,
		CheckTimeout:  2 * time.Second,
		ID:            instanceID,
	})
	checker.Register(health.ComponentDB, pg.IsUpAndRunning)
	checker.Register(health.ComponentRedis, health.RedisCheck(rdb))
	checker.Register(health.ComponentQueue, func(context.Context) error {
		if !q.Connected() {
			return fmt.Errorf("not connected to RabbitMQ")
		}
		return nil
	})
	checker.Register(health.ComponentSolana, func(ctx context.Context) error {
		_, err := rpcClient.GetHealth(ctx)
		return err
	})

	server := api.NewServer(&api.Config{
		ListenPort:   cfg.HTTP.ListenPort,
		MetricsPort:  cfg.HTTP.MetricsPort,
		ProbesPort:   cfg.HTTP.ProbesPort,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		DBTimeout:    dbTimeout,
		ID:           instanceID,
	}, api.Dependencies{
		Publisher: q,
		Tags:      locks,
		Batches:   pg,
		Approvals: approvals,
		Health:    checker,
		Metrics:   m,
	})

	errGroup, ctx := errgroup.WithContext(ctx)

	errGroup.Go(func() error {
		return server.Start(ctx)
	})

	errGroup.Go(func() error {
		err := q.Start(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Error("Queue exited with an error", "error", err)
			return err
		}

		return nil
	})

	errGroup.Go(func() error {
		err := jobs.Resume(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	})

	errGroup.Go(func() error {
		err := workers.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Sender exited with an error", "error", err)
			return err
		}

		return nil
	})

	errGroup.Go(func() error {
		return results.Start(ctx)
	})

	errGroup.Go(func() error {
		return recon.Run(ctx)
	})

	errGroup.Go(func() error {
		checker.Run(ctx)
		return nil
	})

	return errGroup.Wait()
}

func getInstanceID(id string) string {
	if id == "" {
		id = fmt.Sprint(rand.Intn(math.MaxUint32))
	}

	return id
}
