package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config: корневая структура конфигурации консоли и синхронизатора.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Share     ShareConfig     `mapstructure:"share"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PublicURL    string        `mapstructure:"public_url"` // База для share-ссылок
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и Cache).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для консоли
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// ShareConfig: срок жизни share-ссылок в днях.
type ShareConfig struct {
	DefaultDays int `mapstructure:"default_days"`
	MaxDays     int `mapstructure:"max_days"`
}

// UpstreamConfig: hosted table/view API, из которого тянутся patch/backup/security
// и операционные представления.
type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
	Views   ViewsConfig   `mapstructure:"views"`

	RetryAttempts uint          `mapstructure:"retry_attempts"`
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"` // потолок и для Retry-After
	RateLimit     float64       `mapstructure:"rate_limit"`      // запросов в секунду
	RateBurst     int           `mapstructure:"rate_burst"`

	// Настройки Circuit Breaker для каждого источника
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBFailures    uint32        `mapstructure:"cb_failures"`
}

// ViewsConfig: имена представлений. Пустое имя операционного источника отключает его.
type ViewsConfig struct {
	Patch    string `mapstructure:"patch"`
	Backup   string `mapstructure:"backup"`
	Security string `mapstructure:"security"`

	Tickets string `mapstructure:"tickets"`
	Network string `mapstructure:"network"`
	Checks  string `mapstructure:"checks"`
}

const (
	DashboardSourcePostgres = "postgres"
	DashboardSourceREST     = "rest"
)

// DashboardConfig: откуда консоль читает сырые строки и сколько живёт кэш.
type DashboardConfig struct {
	Source       string        `mapstructure:"source"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	BuildTimeout time.Duration `mapstructure:"build_timeout"`
}

type SyncConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	GRPCAddr    string        `mapstructure:"grpc_addr"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	AuditBuffer int           `mapstructure:"audit_buffer"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// DATABASE_URL=... перекроет database.url
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Сначала PEM прямо из ENV (Docker/K8s), иначе файл по пути из конфига
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

// Validate проверяет сочетания, с которыми сервис не сможет работать.
func (c *Config) Validate() error {
	var errs []error

	// Пользователи, журнал доступа и история синхронизаций всегда в Postgres
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}

	switch c.Dashboard.Source {
	case DashboardSourcePostgres:
	case DashboardSourceREST:
		if c.Upstream.BaseURL == "" {
			errs = append(errs, errors.New("upstream.base_url is required for dashboard.source=rest"))
		}
	default:
		errs = append(errs, fmt.Errorf("dashboard.source must be %q or %q, got %q",
			DashboardSourcePostgres, DashboardSourceREST, c.Dashboard.Source))
	}

	if c.Dashboard.CacheTTL < 0 {
		errs = append(errs, errors.New("dashboard.cache_ttl must not be negative"))
	}
	if c.Dashboard.BuildTimeout < 0 {
		errs = append(errs, errors.New("dashboard.build_timeout must not be negative"))
	}
	if c.Upstream.MaxRetryDelay < 0 {
		errs = append(errs, errors.New("upstream.max_retry_delay must not be negative"))
	}
	if c.Share.DefaultDays < 1 || c.Share.DefaultDays > c.Share.MaxDays {
		errs = append(errs, fmt.Errorf("share.default_days must be within 1..%d", c.Share.MaxDays))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("sync.interval must be positive"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Без дефолта AutomaticEnv не увидит ключ при Unmarshal.
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("auth.private_key_path", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("share.default_days", 7)
	v.SetDefault("share.max_days", 365)

	v.SetDefault("upstream.base_url", "")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.timeout", 15*time.Second)
	v.SetDefault("upstream.views.patch", "patch_overview")
	v.SetDefault("upstream.views.backup", "backups_overview")
	v.SetDefault("upstream.views.security", "security_agents")
	v.SetDefault("upstream.views.tickets", "tickets_overview")
	v.SetDefault("upstream.views.network", "network_devices")
	v.SetDefault("upstream.views.checks", "failing_checks")
	v.SetDefault("upstream.retry_attempts", 3)
	v.SetDefault("upstream.max_retry_delay", 30*time.Second)
	v.SetDefault("upstream.rate_limit", 10.0)
	v.SetDefault("upstream.rate_burst", 5)
	v.SetDefault("upstream.cb_max_requests", 3)
	v.SetDefault("upstream.cb_interval", 5*time.Second)
	v.SetDefault("upstream.cb_timeout", 30*time.Second)
	v.SetDefault("upstream.cb_failures", 5)

	v.SetDefault("dashboard.source", DashboardSourcePostgres)
	v.SetDefault("dashboard.cache_ttl", 5*time.Minute)
	v.SetDefault("dashboard.build_timeout", 30*time.Second)

	v.SetDefault("sync.interval", 15*time.Minute)
	v.SetDefault("sync.grpc_addr", ":50052")
	v.SetDefault("sync.lock_ttl", 10*time.Minute)
	v.SetDefault("sync.audit_buffer", 10000)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
