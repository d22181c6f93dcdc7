// cmd/match-server/main.go
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"influencer-match/internal/api"
	"influencer-match/internal/common/config"
	"influencer-match/internal/common/database"
	commonhttp "influencer-match/internal/common/http"
	"influencer-match/internal/common/logger"
	"influencer-match/internal/common/observability"
	"influencer-match/internal/match/candidates"
	"influencer-match/internal/match/guard"
	"influencer-match/internal/match/orchestrator"
	"influencer-match/internal/match/prompt"
	"influencer-match/internal/match/ranking"
	"influencer-match/internal/stats"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service": cfg.App.Name,
		"env":     cfg.App.Environment,
	})

	zapLog.Info("Starting match server...", zap.String("address", cfg.Server.Address))

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}

	ctx := context.Background()
	ready := map[string]api.Pinger{}

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	ready["postgres"] = pg
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry (optional) ---
	var rdb *database.RedisClient
	if cfg.Database.Redis.Address != "" {
		rdb = database.NewRedis(cfg.Database.Redis)
		err = retryWithBackoff(func() error {
			return rdb.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			if cfg.Match.CooldownStore == config.CooldownStoreRedis {
				zapLog.Fatal("redis failed after retries", zap.Error(err))
			}
			zapLog.Warn("redis unavailable, stats will not be cached", zap.Error(err))
			rdb.Close()
			rdb = nil
		} else {
			defer rdb.Close()
			ready["redis"] = rdb
			zapLog.Info("Redis connected successfully")
		}
	}

	// --- Candidate repository ---
	var repo candidates.Repository
	switch cfg.Match.Repository {
	case config.RepositoryElasticsearch:
		var es *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		ready["elasticsearch"] = es
		zapLog.Info("Elasticsearch connected successfully")
		repo = candidates.NewElasticsearchRepository(es.Client, es.Index, cfg.Match.PoolCap,
			logger.ForComponent(log, "candidates"))
	default:
		repo = candidates.NewPostgresRepository(pg.DB, cfg.Match.PoolCap, logger.ForComponent(log, "candidates"))
	}

	// --- Request guard ---
	var store guard.CooldownStore
	if cfg.Match.CooldownStore == config.CooldownStoreRedis {
		store = guard.NewRedisCooldownStore(rdb.Client)
	} else {
		store = guard.NewMemoryCooldownStore()
	}
	requestGuard := guard.New(guard.Config{
		Cooldown:         config.GetSeconds(cfg.Match.Cooldown),
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		StrictValidation: cfg.Match.StrictValidation,
	}, store, logger.ForComponent(log, "guard"))

	// --- Ranking pipeline ---
	rankingCfg := cfg.APIs.Ranking
	ranker := ranking.NewClient(ranking.Config{
		BaseURL:     rankingCfg.BaseURL,
		APIKey:      rankingCfg.APIKey,
		Model:       rankingCfg.Model,
		Timeout:     config.GetDuration(rankingCfg.Timeout),
		Temperature: rankingCfg.Temperature,
		MaxTokens:   rankingCfg.MaxTokens,
	}, commonhttp.NewClient(0), logger.ForComponent(log, "ranking"))

	builder := prompt.NewBuilder(prompt.Config{TopN: cfg.Match.TopN, Currency: cfg.Match.Currency})
	matcher := orchestrator.NewService(repo, builder, ranker, cfg.Match.PoolCap, logger.ForComponent(log, "orchestrator"))

	// --- Platform stats ---
	var statsCache *redis.Client
	if rdb != nil {
		statsCache = rdb.Client
	}
	statsService := stats.NewService(stats.Config{
		CacheKey: cfg.Stats.CacheKey,
		CacheTTL: config.GetSeconds(cfg.Stats.CacheTTL),
	}, pg.DB, statsCache, logger.ForComponent(log, "stats"))

	handler := api.NewHandler(api.Deps{
		Guard:         requestGuard,
		Matcher:       matcher,
		Stats:         statsService,
		Ready:         ready,
		Observability: obs,
		Logger:        logger.ForComponent(log, "http"),
	})

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("Match server listening", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("match server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining requests...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down match server", zap.Error(err))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down meter provider", zap.Error(err))
	}

	zapLog.Info("Match server stopped gracefully")
}
