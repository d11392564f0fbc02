package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	arenaController "codearena/internal/arena/controller"
	arenaService "codearena/internal/arena/service"
	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	commonmw "codearena/internal/common/http/middleware"
	"codearena/internal/common/mq"
	"codearena/internal/common/storage"
	contestRepo "codearena/internal/contest/repository"
	contestService "codearena/internal/contest/service"
	"codearena/internal/judge/sandbox/engine"
	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/judge/sandbox/runner"
	judgeService "codearena/internal/judge/service"
	lbModel "codearena/internal/leaderboard/model"
	lbRepo "codearena/internal/leaderboard/repository"
	lbService "codearena/internal/leaderboard/service"
	problemController "codearena/internal/problem/controller"
	problemRepo "codearena/internal/problem/repository"
	problemService "codearena/internal/problem/service"
	submitRepo "codearena/internal/submit/repository"
	submitService "codearena/internal/submit/service"
	"codearena/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/arena.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "arena service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// infra holds the optional backends. Nil fields fall back to in-process
// implementations.
type infra struct {
	cache   *cache.RedisCache
	db      *db.MySQL
	queue   *mq.KafkaQueue
	storage *storage.MinIOStorage
}

func (i *infra) Close() {
	if i.queue != nil {
		_ = i.queue.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
	if i.cache != nil {
		_ = i.cache.Close()
	}
}

func openInfra(ctx context.Context, cfg *AppConfig) (*infra, error) {
	in := &infra{}
	var err error
	if cfg.Redis.Addr != "" {
		if in.cache, err = cache.NewRedisCacheWithConfig(&cfg.Redis); err != nil {
			return in, fmt.Errorf("init redis failed: %w", err)
		}
	} else {
		logger.Warn(ctx, "redis not configured, status mirror and leaderboard cache disabled")
	}
	if cfg.Database.DSN != "" {
		if in.db, err = db.NewMySQLWithConfig(&cfg.Database); err != nil {
			return in, fmt.Errorf("init database failed: %w", err)
		}
	} else {
		logger.Warn(ctx, "database not configured, using in-memory repositories")
	}
	if len(cfg.Kafka.Brokers) > 0 {
		if in.queue, err = mq.NewKafkaQueue(cfg.Kafka); err != nil {
			return in, fmt.Errorf("init kafka failed: %w", err)
		}
	}
	if cfg.MinIO.Endpoint != "" {
		if in.storage, err = storage.NewMinIOStorage(cfg.MinIO); err != nil {
			return in, fmt.Errorf("init minio failed: %w", err)
		}
	}
	return in, nil
}

func run(cfg *AppConfig) error {
	ctx := context.Background()
	in, err := openInfra(ctx, cfg)
	defer in.Close()
	if err != nil {
		return err
	}

	// Repositories.
	var (
		submissions submitRepo.SubmissionRepository
		contests    contestRepo.ContestRepository
		sessions    contestRepo.SessionRepository
	)
	if in.db != nil {
		var c cache.Cache
		if in.cache != nil {
			c = in.cache
		}
		submissions = submitRepo.NewMySQLSubmissionRepository(in.db, c)
		contests = contestRepo.NewMySQLContestRepository(in.db, c)
		sessions = contestRepo.NewMySQLSessionRepository(in.db)
	} else {
		submissions = submitRepo.NewMemorySubmissionRepository()
		contests = contestRepo.NewMemoryContestRepository()
		sessions = contestRepo.NewMemorySessionRepository()
	}
	for _, contest := range cfg.Contests {
		if err := contests.Upsert(ctx, contest); err != nil {
			logger.Warn(ctx, "seed contest failed", zap.String("contest_id", contest.ID), zap.Error(err))
		}
	}

	// Catalog and judge.
	problems, err := problemRepo.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load problem catalog failed: %w", err)
	}
	catalog, err := problemService.NewCatalog(problems, cfg.Catalog.Points)
	if err != nil {
		return fmt.Errorf("init problem catalog failed: %w", err)
	}
	sandboxEngine, err := engine.NewEngine(cfg.Sandbox)
	if err != nil {
		return fmt.Errorf("init sandbox engine failed: %w", err)
	}
	judge, err := judgeService.NewService(judgeService.Config{
		Executor: runner.NewRunner(sandboxEngine,
			runner.WithCompileLimits(cfg.Judge.CompileLimits),
			runner.WithRunDefaults(cfg.Judge.RunDefaults)),
		Languages:      profile.NewRegistry(cfg.Languages),
		WorkRoot:       cfg.Judge.WorkRoot,
		MaxSourceBytes: cfg.Judge.MaxSourceBytes,
	})
	if err != nil {
		return fmt.Errorf("init judge failed: %w", err)
	}

	// Leaderboard, rebuilt from the verdict log before accepting traffic.
	rankings, err := lbService.NewEngine(lbService.Config{
		Points: catalog,
		Clock:  contestService.StartTimes{Contests: contests},
		Policy: lbModel.Policy{
			PenaltyPerWrong:    cfg.Leaderboard.PenaltyPerWrong,
			CountSolveTime:     *cfg.Leaderboard.CountSolveTime,
			CountCompileErrors: cfg.Leaderboard.CountCompileErrors,
		},
		InboxSize: cfg.Leaderboard.InboxSize,
	})
	if err != nil {
		return fmt.Errorf("init leaderboard failed: %w", err)
	}
	defer rankings.Close()
	if err := rankings.ReplayAll(ctx, submissions); err != nil {
		return fmt.Errorf("replay leaderboards failed: %w", err)
	}

	// Scheduler.
	schedCfg := submitService.Config{
		Judger:       judge,
		Problems:     catalog,
		Submissions:  submissions,
		Sinks:        []submitService.VerdictSink{rankings},
		PoolSize:     cfg.Scheduler.PoolSize,
		MaxRetries:   cfg.Scheduler.MaxRetries,
		BackoffBase:  cfg.Scheduler.BackoffBase,
		BackoffMax:   cfg.Scheduler.BackoffMax,
		JudgeTimeout: cfg.Scheduler.JudgeTimeout,
	}
	if in.cache != nil {
		schedCfg.StatusMirror = submitRepo.NewStatusRepository(in.cache, cfg.Scheduler.StatusTTL)
	}
	if in.queue != nil {
		schedCfg.Events = submitRepo.NewMQVerdictEventPublisher(in.queue, cfg.Scheduler.VerdictTopic)
	}
	if in.storage != nil {
		if err := in.storage.EnsureBucket(ctx, cfg.Scheduler.SourceBucket); err != nil {
			return fmt.Errorf("ensure source bucket failed: %w", err)
		}
		archive, err := submitRepo.NewSourceArchive(in.storage, cfg.Scheduler.SourceBucket, cfg.Scheduler.SourcePrefix)
		if err != nil {
			return fmt.Errorf("init source archive failed: %w", err)
		}
		schedCfg.Archive = archive
	}
	scheduler, err := submitService.NewScheduler(schedCfg)
	if err != nil {
		return fmt.Errorf("init scheduler failed: %w", err)
	}
	pending, err := submissions.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending submissions failed: %w", err)
	}
	if n := scheduler.Resume(ctx, pending); n > 0 {
		logger.Info(ctx, "resumed pending submissions", zap.Int("count", n))
	}

	// Sessions and the arena facade.
	manager, err := contestService.NewManager(contestService.Config{
		Contests:   contests,
		Sessions:   sessions,
		History:    submissions,
		Live:       scheduler,
		Queue:      scheduler,
		Secret:     []byte(cfg.Session.Secret),
		Issuer:     cfg.Session.Issuer,
		TokenGrace: cfg.Session.TokenGrace,
	})
	if err != nil {
		return fmt.Errorf("init session manager failed: %w", err)
	}
	arenaCfg := arenaService.Config{
		Sessions:      manager,
		Problems:      catalog,
		Judge:         judge,
		Queue:         scheduler,
		Submissions:   submissions,
		Rankings:      rankings,
		SampleSlots:   cfg.Judge.SampleSlots,
		SampleTimeout: cfg.Judge.SampleTimeout,
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var limiter *commonmw.RateLimiter
	flushDone := make(chan struct{})
	if in.cache != nil {
		snapshots := lbRepo.NewSnapshotCache(in.cache, cfg.Leaderboard.CacheTTL)
		arenaCfg.Snapshots = snapshots
		limiter = commonmw.NewRateLimiter(in.cache, 0)
		flusher := lbService.NewFlusher(rankings, snapshots, cfg.Leaderboard.FlushInterval)
		go func() {
			defer close(flushDone)
			flusher.Run(runCtx)
		}()
	} else {
		close(flushDone)
	}
	arena, err := arenaService.NewService(arenaCfg)
	if err != nil {
		return fmt.Errorf("init arena service failed: %w", err)
	}

	httpServer := buildHTTPServer(cfg.Server, arena, catalog, limiter)
	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "arena http server started", zap.String("addr", cfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-runCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "scheduler shutdown failed", zap.Error(err), zap.Int("queued", scheduler.QueueDepth()))
	}
	<-flushDone
	return nil
}

func buildHTTPServer(cfg ServerConfig, arena *arenaService.Service, catalog *problemService.Catalog, limiter *commonmw.RateLimiter) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.CORSMiddleware(cfg.CORS))
	router.Use(requestLogger())
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	api := router.Group("/api/v1")
	problemController.NewProblemController(catalog).Register(api)
	stream := arenaController.NewLeaderboardStream(arena, cfg.Stream)
	arenaController.NewArenaController(arena, limiter, cfg.RateLimit, stream).Register(api)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
