// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges configs/config.<env>.yaml and
// applies environment overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional

	return build(v)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return build(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func build(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideEmptyConfig(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it
// (MATCH_POOL_CAP, DATABASE_POSTGRES_HOST, ...).
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "influencer-match")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 10000)
	v.SetDefault("server.write_timeout", 30000)
	v.SetDefault("server.max_body_bytes", 64<<10)

	v.SetDefault("database.postgres.dsn", "")
	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "")
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.max_connections", 25)
	v.SetDefault("database.postgres.max_idle", 5)
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("database.elasticsearch.addresses", []string{})
	v.SetDefault("database.elasticsearch.username", "")
	v.SetDefault("database.elasticsearch.password", "")
	v.SetDefault("database.elasticsearch.index", "influencers")

	v.SetDefault("database.redis.address", "")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("apis.ranking.base_url", "https://api.x.ai/v1")
	v.SetDefault("apis.ranking.api_key", "")
	v.SetDefault("apis.ranking.model", "grok-4-fast-non-reasoning")
	v.SetDefault("apis.ranking.timeout", 25000)
	v.SetDefault("apis.ranking.temperature", 0.2)
	v.SetDefault("apis.ranking.max_tokens", 1024)

	v.SetDefault("match.pool_cap", MaxPoolCap)
	v.SetDefault("match.top_n", 3)
	v.SetDefault("match.cooldown", 60)
	v.SetDefault("match.cooldown_store", CooldownStoreMemory)
	v.SetDefault("match.repository", RepositoryPostgres)
	v.SetDefault("match.strict_validation", false)
	v.SetDefault("match.currency", "IDR")

	v.SetDefault("stats.cache_key", "stats")
	v.SetDefault("stats.cache_ttl", 3600)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnvVars resolves ${VAR} placeholders inside string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills values still empty from the conventional
// deployment variables.
func overrideEmptyConfig(cfg *Config) {
	setIfEmpty(&cfg.APIs.Ranking.APIKey, "XAI_API_KEY")
	setIfEmpty(&cfg.APIs.Ranking.BaseURL, "RANKING_BASE_URL")
	setIfEmpty(&cfg.APIs.Ranking.Model, "RANKING_MODEL")

	setIfEmpty(&cfg.Database.Postgres.DSN, "DATABASE_URL")
	setIfEmpty(&cfg.Database.Postgres.Host, "DB_HOST")
	setIfEmpty(&cfg.Database.Postgres.Database, "DB_NAME")
	setIfEmpty(&cfg.Database.Postgres.User, "DB_USER")
	setIfEmpty(&cfg.Database.Postgres.Password, "DB_PASSWORD")

	setIfEmpty(&cfg.Database.Redis.Address, "REDIS_ADDRESS")

	if len(cfg.Database.Elasticsearch.Addresses) == 0 {
		if val := os.Getenv("ELASTICSEARCH_URL"); val != "" {
			cfg.Database.Elasticsearch.Addresses = strings.Split(val, ",")
		}
	}
}

func setIfEmpty(dst *string, envKey string) {
	if *dst != "" {
		return
	}
	if val := os.Getenv(envKey); val != "" {
		*dst = val
	}
}

// applyDefaults covers zero values that survived unmarshalling, e.g. an
// explicit `pool_cap: 0` in yaml.
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = 64 << 10
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "influencers"
	}

	if cfg.APIs.Ranking.Timeout == 0 {
		cfg.APIs.Ranking.Timeout = 25000
	}
	if cfg.Server.WriteTimeout <= cfg.APIs.Ranking.Timeout {
		cfg.Server.WriteTimeout = cfg.APIs.Ranking.Timeout + 5000
	}

	if cfg.Match.PoolCap == 0 {
		cfg.Match.PoolCap = MaxPoolCap
	}
	if cfg.Match.TopN == 0 {
		cfg.Match.TopN = 3
	}
	if cfg.Match.CooldownStore == "" {
		cfg.Match.CooldownStore = CooldownStoreMemory
	}
	if cfg.Match.Repository == "" {
		cfg.Match.Repository = RepositoryPostgres
	}
	if cfg.Match.Currency == "" {
		cfg.Match.Currency = "IDR"
	}

	if cfg.Stats.CacheKey == "" {
		cfg.Stats.CacheKey = "stats"
	}
	if cfg.Stats.CacheTTL == 0 {
		cfg.Stats.CacheTTL = 3600
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// validateConfig reports every missing required key at once, then range errors.
func validateConfig(cfg *Config) error {
	var missing []string

	pg := cfg.Database.Postgres
	if pg.DSN == "" {
		if pg.Host == "" {
			missing = append(missing, "database.postgres.host")
		}
		if pg.Database == "" {
			missing = append(missing, "database.postgres.database")
		}
		if pg.User == "" {
			missing = append(missing, "database.postgres.user")
		}
	}
	if cfg.APIs.Ranking.APIKey == "" {
		missing = append(missing, "apis.ranking.api_key")
	}
	if cfg.Match.CooldownStore == CooldownStoreRedis && cfg.Database.Redis.Address == "" {
		missing = append(missing, "database.redis.address")
	}
	if cfg.Match.Repository == RepositoryElasticsearch && len(cfg.Database.Elasticsearch.Addresses) == 0 {
		missing = append(missing, "database.elasticsearch.addresses")
	}
	if len(missing) > 0 {
		return &MissingConfigError{Names: missing}
	}

	if cfg.Match.PoolCap < MinPoolCap || cfg.Match.PoolCap > MaxPoolCap {
		return fmt.Errorf("match.pool_cap must be between %d and %d, got %d", MinPoolCap, MaxPoolCap, cfg.Match.PoolCap)
	}
	if cfg.Match.TopN < 1 {
		return fmt.Errorf("match.top_n must be positive, got %d", cfg.Match.TopN)
	}
	if cfg.Match.Cooldown < 0 {
		return fmt.Errorf("match.cooldown must not be negative, got %d", cfg.Match.Cooldown)
	}
	switch cfg.Match.CooldownStore {
	case CooldownStoreMemory, CooldownStoreRedis:
	default:
		return fmt.Errorf("match.cooldown_store must be %q or %q, got %q", CooldownStoreMemory, CooldownStoreRedis, cfg.Match.CooldownStore)
	}
	switch cfg.Match.Repository {
	case RepositoryPostgres, RepositoryElasticsearch:
	default:
		return fmt.Errorf("match.repository must be %q or %q, got %q", RepositoryPostgres, RepositoryElasticsearch, cfg.Match.Repository)
	}
	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetSeconds converts seconds from config to time.Duration
func GetSeconds(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
