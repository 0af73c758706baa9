package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "EXAMDESK_DB_DSN"
	EnvDBHost = "EXAMDESK_DB_HOST"
	EnvDBUser = "EXAMDESK_DB_USER"
	EnvDBName = "EXAMDESK_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Catalog      CatalogConfig
	Sweep        SweepConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"EXAMDESK_APP_ENV" required:"true"`
	Port         string `envconfig:"EXAMDESK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"EXAMDESK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"EXAMDESK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"EXAMDESK_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"EXAMDESK_DB_DSN"`
	Driver string `envconfig:"EXAMDESK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"EXAMDESK_DB_HOST"`
	LegacyPort     int    `envconfig:"EXAMDESK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"EXAMDESK_DB_USER"`
	LegacyPassword string `envconfig:"EXAMDESK_DB_PASSWORD"`
	LegacyName     string `envconfig:"EXAMDESK_DB_NAME"`
	LegacySSLMode  string `envconfig:"EXAMDESK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"EXAMDESK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"EXAMDESK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"EXAMDESK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"EXAMDESK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"EXAMDESK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"EXAMDESK_REDIS_ADDR"`
	Password     string        `envconfig:"EXAMDESK_REDIS_PASSWORD"`
	DB           int           `envconfig:"EXAMDESK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"EXAMDESK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"EXAMDESK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"EXAMDESK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"EXAMDESK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"EXAMDESK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"EXAMDESK_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"EXAMDESK_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"EXAMDESK_JWT_EXPIRATION_MINUTES" default:"60"`
}

// CatalogConfig points at the external Paper Catalog service.
type CatalogConfig struct {
	BaseURL string        `envconfig:"EXAMDESK_CATALOG_BASE_URL" required:"true"`
	Timeout time.Duration `envconfig:"EXAMDESK_CATALOG_TIMEOUT" default:"5s"`
}

// SweepConfig controls the entitlement expiry worker cadence.
type SweepConfig struct {
	Interval    time.Duration `envconfig:"EXAMDESK_SWEEP_INTERVAL" default:"24h"`
	BatchSize   int           `envconfig:"EXAMDESK_SWEEP_BATCH_SIZE" default:"500"`
	LockTTL     time.Duration `envconfig:"EXAMDESK_SWEEP_LOCK_TTL" default:"25h"`
	MetricsPort string        `envconfig:"EXAMDESK_SWEEP_METRICS_PORT" default:"9100"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"EXAMDESK_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
