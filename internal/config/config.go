// Package config reads service settings from the environment. A .env file is loaded by the
// godotenv autoload import in each binary before Load runs.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string          `mapstructure:"env"`
	Port           int             `mapstructure:"port"`
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	LogLevel       string          `mapstructure:"log_level"`
	Postgres       PostgresConfig  `mapstructure:"postgres"`
	Redis          RedisConfig     `mapstructure:"redis"`
	Historian      HistorianConfig `mapstructure:"historian"`
	Battle         BattleConfig    `mapstructure:"battle"`
	Auth           AuthConfig      `mapstructure:"auth"`
}

type PostgresConfig struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
}

// ConnString builds the pgx connection URL.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", p.User, p.Password, p.Host, p.Port, p.Database)
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	DB   int    `mapstructure:"db"`
}

type HistorianConfig struct {
	QueueName     string        `mapstructure:"queue_name"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	MaxBuffered   int           `mapstructure:"max_buffered"`
}

type BattleConfig struct {
	TurnDuration       time.Duration `mapstructure:"turn_duration"`
	EnforceTurnOrder   bool          `mapstructure:"enforce_turn_order"`
	RankedQueueTimeout time.Duration `mapstructure:"ranked_queue_timeout"`
	MaxMMRGap          int           `mapstructure:"max_mmr_gap"`
	FreeTitanCacheTTL  time.Duration `mapstructure:"free_titan_cache_ttl"`
}

type AuthConfig struct {
	TokenExpireTime string `mapstructure:"token_expire_time"`
	PrivateKeyPath  string `mapstructure:"private_key_path"`
	PublicKeyPath   string `mapstructure:"public_key_path"`
}

// envBindings maps nested config keys to the environment variables that set them.
var envBindings = map[string]string{
	"env":                         "ARENA_ENV",
	"port":                        "PORT",
	"allowed_origins":             "ALLOWED_ORIGINS",
	"log_level":                   "LOG_LEVEL",
	"postgres.user":               "POSTGRES_USER",
	"postgres.password":           "POSTGRES_PASSWORD",
	"postgres.host":               "PG_HOST",
	"postgres.port":               "PG_PORT",
	"postgres.database":           "PG_DATABASE",
	"redis.addr":                  "REDIS_ADDR",
	"redis.db":                    "REDIS_DB",
	"historian.queue_name":        "HISTORIAN_QUEUE_NAME",
	"historian.batch_size":        "HISTORIAN_BATCH_SIZE",
	"historian.flush_interval":    "HISTORIAN_FLUSH_INTERVAL",
	"historian.max_buffered":      "HISTORIAN_MAX_BUFFERED",
	"battle.turn_duration":        "BATTLE_TURN_DURATION",
	"battle.enforce_turn_order":   "BATTLE_ENFORCE_TURN_ORDER",
	"battle.ranked_queue_timeout": "RANKED_QUEUE_TIMEOUT",
	"battle.max_mmr_gap":          "RANKED_MAX_MMR_GAP",
	"battle.free_titan_cache_ttl": "FREE_TITAN_CACHE_TTL",
	"auth.token_expire_time":      "TOKEN_EXPIRE_TIME",
	"auth.private_key_path":       "JWT_PRIVATE_KEY_PATH",
	"auth.public_key_path":        "JWT_PUBLIC_KEY_PATH",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("port", 8080)
	v.SetDefault("allowed_origins", []string{"https://*", "http://*"})
	v.SetDefault("log_level", "info")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "arena")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("historian.queue_name", "arena_battle_actions")
	v.SetDefault("historian.batch_size", 100)
	v.SetDefault("historian.flush_interval", 500*time.Millisecond)
	v.SetDefault("historian.max_buffered", 10000)
	v.SetDefault("battle.turn_duration", 60*time.Second)
	v.SetDefault("battle.enforce_turn_order", false)
	v.SetDefault("battle.ranked_queue_timeout", time.Duration(0))
	v.SetDefault("battle.max_mmr_gap", 0)
	v.SetDefault("battle.free_titan_cache_ttl", 10*time.Minute)
	v.SetDefault("auth.token_expire_time", "72h")
	v.SetDefault("auth.private_key_path", "")
	v.SetDefault("auth.public_key_path", "")
}

// Load reads the configuration from the environment on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TokenTTL parses TokenExpireTime. "never", "0" and empty mean tokens do not expire.
func (a AuthConfig) TokenTTL() (time.Duration, error) {
	switch a.TokenExpireTime {
	case "", "0", "never":
		return 0, nil
	}
	d, err := time.ParseDuration(a.TokenExpireTime)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}
