package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Aidin1998/salesflow/internal/analytics"
	"github.com/Aidin1998/salesflow/internal/infrastructure/config"
	"github.com/Aidin1998/salesflow/internal/infrastructure/messaging"
	"github.com/Aidin1998/salesflow/internal/ingest"
	redisconf "github.com/Aidin1998/salesflow/internal/redis"
	"github.com/Aidin1998/salesflow/internal/server"
	"github.com/Aidin1998/salesflow/internal/snapshot"
	"github.com/Aidin1998/salesflow/internal/snapshot/store"
	"github.com/Aidin1998/salesflow/pkg/logger"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const usage = `usage: salesflow [-config path] <command>

commands:
  consume                 run the stream consumer (default)
  reconstruct [ids...]    rebuild daily deltas for the given products, or all
`

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	configPath := flag.String("config", "", "path to config.yaml")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := flag.Arg(0)
	switch cmd {
	case "", "consume":
		err = runConsumer(ctx, cfg, zapLogger)
	case "reconstruct":
		err = runReconstruct(ctx, cfg, zapLogger, flag.Args()[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		zapLogger.Fatal("salesflow exited with error", zap.String("command", cmd), zap.Error(err))
	}
}

// deps holds the storage side shared by both commands.
type deps struct {
	store store.SnapshotStore
	sink  analytics.Sink
	job   *ingest.Job
	recon *snapshot.Reconstructor
}

func openDeps(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*deps, error) {
	loc, err := cfg.Reconstruct.Location()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	sink, err := analytics.Open(ctx, cfg.Analytics)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open analytics sink: %w", err)
	}
	logger.Info("Storage ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("analytics", cfg.Analytics.Driver),
		zap.String("timezone", loc.String()))

	recon := snapshot.NewReconstructor(loc)
	return &deps{
		store: st,
		sink:  sink,
		recon: recon,
		job:   ingest.NewJob(st, sink, recon, cfg.Reconstruct.Workers, logger),
	}, nil
}

func (d *deps) Close() error {
	return errors.Join(d.sink.Close(), d.store.Close())
}

func runReconstruct(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) error {
	d, err := openDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	if len(args) == 0 {
		_, err = d.job.RunAll(ctx)
		return err
	}
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid product id %q", a)
		}
		ids = append(ids, id)
	}
	_, err = d.job.Run(ctx, ids)
	return err
}

func runConsumer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	d, err := openDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	if cfg.Stream.Consumer == "" {
		cfg.Stream.Consumer = consumerName()
	}

	router := messaging.NewRouter(logger,
		ingest.NewSnapshotHandler(d.store, logger),
		ingest.NewHistoryHandler(d.recon, d.sink, logger),
		ingest.NewCategoryHandler(d.store, logger),
	)
	processor := messaging.NewProcessor(router, logger)

	shard, transport, err := openShard(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer shard.Close()

	breaker := messaging.NewCircuitBreaker(cfg.CircuitBreaker, logger)
	loop := messaging.NewConsumerLoop(shard, processor, breaker, cfg.Stream.ConsumerConfig(),
		logger.With(zap.String("stream", cfg.Stream.Stream), zap.String("consumer", cfg.Stream.Consumer)))

	var reclaimer *messaging.ReclaimManager
	if cfg.Stream.Reclaim.Enabled && transport != nil {
		reclaimer, err = messaging.NewReclaimManager(transport, processor, cfg.Stream.ReclaimConfig(), logger)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	if reclaimer != nil {
		g.Go(func() error { return reclaimer.Run(gctx) })
	}

	if cfg.Ops.Enabled {
		srv := server.NewServer(cfg.Ops.Addr, logger, loop, d.job)
		g.Go(func() error { return srv.Run(gctx) })
	}

	logger.Info("salesflow consumer started",
		zap.String("driver", cfg.Stream.Driver),
		zap.String("stream", cfg.Stream.Stream),
		zap.String("group", cfg.Stream.Group))
	return g.Wait()
}

// openShard returns the consumer's shard and, for group transports, the
// transport the reclaim manager runs against.
func openShard(ctx context.Context, cfg *config.Config, logger *zap.Logger) (messaging.Shard, messaging.Transport, error) {
	switch cfg.Stream.Driver {
	case messaging.DriverKafka:
		shard, err := messaging.NewKafkaShard(cfg.KafkaShardConfig(), logger)
		if err != nil {
			return nil, nil, err
		}
		return shard, nil, nil
	case messaging.DriverMemory:
		transport := messaging.NewMemoryTransport()
		return groupShard(cfg, transport), transport, nil
	default:
		rdb, err := redisconf.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, nil, err
		}
		transport := messaging.NewRedisTransport(rdb, messaging.RedisStreamConfig{Block: cfg.Stream.Block}, logger)
		if err := transport.EnsureGroup(ctx, cfg.Stream.Stream, cfg.Stream.Group); err != nil {
			rdb.Close()
			return nil, nil, err
		}
		return &closingShard{GroupShard: groupShard(cfg, transport), close: rdb.Close}, transport, nil
	}
}

func groupShard(cfg *config.Config, t messaging.Transport) *messaging.GroupShard {
	return &messaging.GroupShard{
		Transport: t,
		Stream:    cfg.Stream.Stream,
		Group:     cfg.Stream.Group,
		Consumer:  cfg.Stream.Consumer,
	}
}

// closingShard closes the underlying client with the shard.
type closingShard struct {
	*messaging.GroupShard
	close func() error
}

func (s *closingShard) Close() error { return s.close() }

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "salesflow"
	}
	return strings.ToLower(host) + "-" + uuid.NewString()[:8]
}
