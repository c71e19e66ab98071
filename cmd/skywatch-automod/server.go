package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/skywatch-bsky/skywatch-automod/dedupe"
	"github.com/skywatch-bsky/skywatch-automod/escalation"
	"github.com/skywatch-bsky/skywatch-automod/labelsync"
	"github.com/skywatch-bsky/skywatch-automod/mirror"
	"github.com/skywatch-bsky/skywatch-automod/ozone"
	"github.com/skywatch-bsky/skywatch-automod/queue"
	"github.com/skywatch-bsky/skywatch-automod/ratelimit"
	"github.com/skywatch-bsky/skywatch-automod/threshold"
)

type Server struct {
	logger *slog.Logger
	rdb    *redis.Client
	db     *gorm.DB
	engine *escalation.Engine
	sync   *labelsync.Client
	tasks  *queue.Queue
}

type Config struct {
	LabelerHost      string
	OzoneHost        string
	OzoneAdminToken  string
	OzoneAdminDID    string
	DatabaseURL      string
	MaxDBConnections int
	RedisURL         string
	TrackedLabels    string
	APIConcurrency   int
	QueueWorkers     int
	Logger           *slog.Logger
}

func NewServer(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	if !strings.HasPrefix(config.OzoneHost, "http") {
		return nil, fmt.Errorf("specified ozone host must include 'http://' or 'https://'")
	}

	gate := ratelimit.NewGate(config.APIConcurrency, logger)
	mod := ozone.NewClient(config.OzoneHost, config.OzoneAdminToken, config.OzoneAdminDID, gate, logger)

	var dd dedupe.Store
	var tracker threshold.Tracker
	var rdb *redis.Client
	if config.RedisURL != "" {
		// generic client, for cursor state
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		_, err = rdb.Ping(context.TODO()).Result()
		if err != nil {
			return nil, fmt.Errorf("redis ping failed: %v", err)
		}

		rds, err := dedupe.NewRedisStore(config.RedisURL, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing redis dedupe store: %v", err)
		}
		dd = rds

		trk, err := threshold.NewRedisTracker(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis threshold tracker: %v", err)
		}
		tracker = trk
	} else {
		dd = dedupe.NewMemStore()
		tracker = threshold.NewMemTracker()
	}

	db, err := mirror.SetupDatabase(config.DatabaseURL, config.MaxDBConnections)
	if err != nil {
		return nil, err
	}
	store, err := mirror.NewStore(db, logger)
	if err != nil {
		return nil, err
	}

	var configs []escalation.TrackedLabelConfig
	if config.TrackedLabels != "" {
		configs, err = escalation.LoadConfigsJSON(config.TrackedLabels)
		if err != nil {
			return nil, fmt.Errorf("loading tracked-label configs: %w", err)
		}
		logger.Info("loaded tracked-label configs from JSON", "path", config.TrackedLabels, "count", len(configs))
	}

	engine, err := escalation.NewEngine(tracker, dd, mod, configs, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		logger: logger,
		rdb:    rdb,
		db:     db,
		engine: engine,
		// drains on Close rather than dying with the run context
		tasks: queue.New(context.Background(), config.QueueWorkers, 0, logger),
	}

	s.sync = labelsync.NewClient(config.LabelerHost, store, dd, logger)
	s.sync.OnLabel = s.handleLabelEvent

	return s, nil
}

// handleLabelEvent feeds remote label emissions back into the escalation
// engine, off the socket read loop.
func (s *Server) handleLabelEvent(_ context.Context, did string, evt labelsync.LabelEvent) {
	if evt.Neg || evt.Val == "" {
		return
	}
	val := evt.Val
	uri := evt.Uri
	s.tasks.Submit("escalate", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		_, err := s.engine.ProcessLabelEvent(ctx, did, val, uri, time.Now())
		return err
	})
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

var cursorKey = "automod/labelCursor"

func (s *Server) ReadLastCursor(ctx context.Context) (int64, error) {
	// if redis isn't configured, just skip
	if s.rdb == nil {
		s.logger.Info("redis not configured, skipping cursor read")
		return 0, nil
	}

	val, err := s.rdb.Get(ctx, cursorKey).Int64()
	if err == redis.Nil {
		s.logger.Info("no pre-existing cursor in redis")
		return 0, nil
	}
	s.logger.Info("successfully found prior label subscription cursor in redis", "seq", val)
	return val, err
}

func (s *Server) PersistCursor(ctx context.Context) error {
	// if redis isn't configured, just skip
	if s.rdb == nil {
		return nil
	}
	seq := s.sync.Status().LastSeq
	if seq <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, cursorKey, seq, 14*24*time.Hour).Err()
}

// this method runs in a loop, persisting the current cursor state every 5 seconds
func (s *Server) RunPersistCursor(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.PersistCursor(ctx); err != nil {
				s.logger.Error("failed to persist cursor", "err", err)
			}
		}
	}
}

// Run starts the label sync loop and blocks until SIGINT/SIGTERM or the
// context ends, then shuts down in order: stop the sync client, drain the
// task queue, persist the final cursor, close the database pool.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cursor, err := s.ReadLastCursor(ctx)
	if err != nil {
		return fmt.Errorf("reading subscription cursor: %w", err)
	}
	s.sync.SetCursor(cursor)

	s.sync.Start(ctx)
	go s.RunPersistCursor(ctx)

	<-ctx.Done()
	s.logger.Info("shutdown signal received")

	s.sync.Stop()
	s.tasks.Close()

	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.PersistCursor(persistCtx); err != nil {
		s.logger.Error("failed to persist final cursor", "err", err, "seq", s.sync.Status().LastSeq)
	} else if seq := s.sync.Status().LastSeq; seq > 0 {
		s.logger.Info("persisted final cursor", "seq", seq)
	}

	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	s.logger.Info("shutdown complete")
	return nil
}
