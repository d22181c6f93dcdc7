// Package stats serves the platform counters shown on the landing page.
package stats

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"influencer-match/internal/common/errors"
	"influencer-match/internal/common/metrics"
	"influencer-match/internal/models"
)

const (
	DefaultCacheKey = "stats"
	DefaultCacheTTL = time.Hour
)

const (
	countSMEsQuery        = `SELECT COUNT(*) FROM users WHERE user_type = 'sme'`
	countInfluencersQuery = `SELECT COUNT(*) FROM influencers`
)

// Logger interface definition
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

type Config struct {
	CacheKey string
	CacheTTL time.Duration
}

type Service struct {
	config Config
	db     *sql.DB
	redis  *redis.Client
	logger Logger
	now    func() time.Time
}

// NewService builds a stats service. redis may be nil, in which case every
// snapshot is counted from the database.
func NewService(cfg Config, db *sql.DB, redisClient *redis.Client, log Logger) *Service {
	if cfg.CacheKey == "" {
		cfg.CacheKey = DefaultCacheKey
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Service{
		config: cfg,
		db:     db,
		redis:  redisClient,
		logger: log,
		now:    time.Now,
	}
}

// Snapshot returns the cached counters, recounting on a miss. Cache
// failures never fail the call.
func (s *Service) Snapshot(ctx context.Context) (*models.PlatformStats, error) {
	if cached, ok := s.fromCache(ctx); ok {
		return cached, nil
	}

	snap, err := s.count(ctx)
	if err != nil {
		return nil, err
	}
	s.store(ctx, snap)
	return snap, nil
}

func (s *Service) fromCache(ctx context.Context) (*models.PlatformStats, bool) {
	if s.redis == nil {
		return nil, false
	}

	val, err := s.redis.Get(ctx, s.config.CacheKey).Result()
	switch {
	case err == redis.Nil:
		metrics.StatsCacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	case err != nil:
		metrics.StatsCacheLookups.WithLabelValues("error").Inc()
		s.logger.Warn("stats cache read failed", map[string]interface{}{
			"key":   s.config.CacheKey,
			"error": err.Error(),
		})
		return nil, false
	}

	var snap models.PlatformStats
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		metrics.StatsCacheLookups.WithLabelValues("error").Inc()
		s.logger.Debug("discarding unreadable stats cache entry", map[string]interface{}{
			"key":   s.config.CacheKey,
			"error": err.Error(),
		})
		return nil, false
	}

	metrics.StatsCacheLookups.WithLabelValues("hit").Inc()
	return &snap, true
}

func (s *Service) count(ctx context.Context) (*models.PlatformStats, error) {
	snap := &models.PlatformStats{CachedAt: s.now().UTC()}

	if err := s.db.QueryRowContext(ctx, countSMEsQuery).Scan(&snap.TotalSMEs); err != nil {
		return nil, errors.NewInternalError(fmt.Errorf("count smes: %w", err))
	}
	if err := s.db.QueryRowContext(ctx, countInfluencersQuery).Scan(&snap.TotalInfluencers); err != nil {
		return nil, errors.NewInternalError(fmt.Errorf("count influencers: %w", err))
	}
	return snap, nil
}

func (s *Service) store(ctx context.Context, snap *models.PlatformStats) {
	if s.redis == nil {
		return
	}
	data, _ := json.Marshal(snap)
	if err := s.redis.Set(ctx, s.config.CacheKey, data, s.config.CacheTTL).Err(); err != nil {
		s.logger.Warn("stats cache write failed", map[string]interface{}{
			"key":   s.config.CacheKey,
			"error": err.Error(),
		})
	}
}
