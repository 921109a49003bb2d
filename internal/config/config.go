package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Provider types.
const (
	ProviderWorkersAI = "workersai"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// ResetScheduleOff disables the daily counter reset; quotas become lifetime caps.
const ResetScheduleOff = "off"

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort      string
	Log           LogConfig
	Store         StoreConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Cache         CacheConfig
	Accounts      AccountsConfig
	Ledger        LedgerConfig
	Gateway       GatewayConfig
	Provider      ProviderConfig
	Admin         AdminConfig
	Telegram      TelegramConfig
	RateLimit     RateLimitConfig
	Proxy         ProxyConfig
	RequestLogger RequestLoggerConfig
	Archive       ArchiveConfig
}

type LogConfig struct {
	Level  string
	Format string // "text" or "json"
}

// StoreConfig selects the durable map backend.
type StoreConfig struct {
	Backend string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// CacheConfig holds settings for the API key index cache.
type CacheConfig struct {
	APIKeyCacheSize int
	APIKeyCacheTTL  time.Duration
}

type AccountsConfig struct {
	DefaultDailyLimit int
}

type LedgerConfig struct {
	RecentLogSize int
	CASRetries    int
	ResetSchedule string // cron spec, or "off"
}

// GatewayConfig toggles the two admission modes of the inference endpoint.
type GatewayConfig struct {
	RequireAPIKey    bool
	BlocklistEnabled bool
}

// ProviderConfig holds inference backend settings
type ProviderConfig struct {
	Type           string
	DefaultModel   string
	RequestTimeout time.Duration
	BaseURL        string
	APIKey         string
	AccountID      string // Workers AI only
}

type AdminConfig struct {
	Secret string // empty disables the admin HTTP surface
}

type TelegramConfig struct {
	BotToken    string
	AdminChatID int64
	APIBaseURL  string
	QueueSize   int
}

type RateLimitConfig struct {
	PerMinute int // 0 disables
}

// ProxyConfig lists the reverse proxies whose forwarding headers
// (CF-Connecting-IP, X-Forwarded-For) identify the client. Empty means the
// gateway is reached directly and only RemoteAddr counts.
type ProxyConfig struct {
	TrustedProxies []string // IPs or CIDR ranges
}

type RequestLoggerConfig struct {
	Enabled          bool
	FilePathTemplate string
	MaxSize          int64
	MaxFiles         int
	BufferSize       int
	FlushInterval    time.Duration
}

// ArchiveConfig holds settings for archiving the activity log to S3
// before it is bulk deleted.
type ArchiveConfig struct {
	Enabled  bool
	S3Bucket string
	S3Region string
	S3Prefix string
	PodName  string
}

// source resolves a setting from the environment first and then from the
// optional YAML file.
type source struct {
	file map[string]string
}

func (s source) lookup(key string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return s.file[key]
}

func (s source) getEnvInt(key string, defaultValue int) int {
	val := s.lookup(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func (s source) getEnvInt64(key string, defaultValue int64) int64 {
	val := s.lookup(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func (s source) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := s.lookup(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func (s source) getEnvString(key string, defaultValue string) string {
	val := s.lookup(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// getEnvList splits a comma-separated setting, dropping empty items.
func (s source) getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(s.lookup(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (s source) getEnvBool(key string, defaultValue bool) bool {
	val := s.lookup(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

// readFile loads a flat YAML mapping of setting names to values. A missing
// path is not an error.
func readFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}

// Load reads configuration from .env, the optional CONFIG_FILE, and the
// process environment, with the environment taking precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		_ = err // production environments may not have a .env file
	}

	file, err := readFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	s := source{file: file}

	cfg := &Config{
		HTTPPort: s.getEnvString("HTTP_PORT", "8080"),
		Log: LogConfig{
			Level:  s.getEnvString("LOG_LEVEL", "info"),
			Format: s.getEnvString("LOG_FORMAT", "text"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(s.getEnvString("STORE_BACKEND", BackendRedis)),
		},
		Database: DatabaseConfig{
			URL:             s.getEnvString("DATABASE_URL", ""),
			MaxOpenConns:    s.getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    s.getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: s.getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: s.getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Redis: RedisConfig{
			Address:      s.getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     s.getEnvString("REDIS_PASSWORD", ""),
			DB:           s.getEnvInt("REDIS_DB", 0),
			PoolSize:     s.getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: s.getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  s.getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  s.getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: s.getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Cache: CacheConfig{
			APIKeyCacheSize: s.getEnvInt("CACHE_API_KEY_SIZE", 1000),
			APIKeyCacheTTL:  s.getEnvDuration("CACHE_API_KEY_TTL", 5*time.Minute),
		},
		Accounts: AccountsConfig{
			DefaultDailyLimit: s.getEnvInt("ACCOUNT_DEFAULT_DAILY_LIMIT", 50),
		},
		Ledger: LedgerConfig{
			RecentLogSize: s.getEnvInt("LEDGER_RECENT_LOG_SIZE", 20),
			CASRetries:    s.getEnvInt("LEDGER_CAS_RETRIES", 8),
			ResetSchedule: s.getEnvString("QUOTA_RESET_SCHEDULE", "@daily"),
		},
		Gateway: GatewayConfig{
			RequireAPIKey:    s.getEnvBool("GATEWAY_REQUIRE_API_KEY", true),
			BlocklistEnabled: s.getEnvBool("GATEWAY_BLOCKLIST_ENABLED", true),
		},
		Provider: ProviderConfig{
			Type:           strings.ToLower(s.getEnvString("PROVIDER_TYPE", ProviderWorkersAI)),
			DefaultModel:   s.getEnvString("INFERENCE_DEFAULT_MODEL", "llama-3.1-8b-instruct"),
			RequestTimeout: s.getEnvDuration("INFERENCE_TIMEOUT", 60*time.Second),
			BaseURL:        s.getEnvString("PROVIDER_BASE_URL", ""),
			APIKey:         s.getEnvString("PROVIDER_API_KEY", ""),
			AccountID:      s.getEnvString("CLOUDFLARE_ACCOUNT_ID", ""),
		},
		Admin: AdminConfig{
			Secret: s.getEnvString("ADMIN_SECRET", ""),
		},
		Telegram: TelegramConfig{
			BotToken:    s.getEnvString("TELEGRAM_BOT_TOKEN", ""),
			AdminChatID: s.getEnvInt64("TELEGRAM_ADMIN_CHAT_ID", 0),
			APIBaseURL:  s.getEnvString("TELEGRAM_API_BASE_URL", "https://api.telegram.org"),
			QueueSize:   s.getEnvInt("TELEGRAM_QUEUE_SIZE", 100),
		},
		RateLimit: RateLimitConfig{
			PerMinute: s.getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
		},
		Proxy: ProxyConfig{
			TrustedProxies: s.getEnvList("TRUSTED_PROXIES"),
		},
		RequestLogger: RequestLoggerConfig{
			Enabled:          s.getEnvBool("REQUEST_LOGGER_ENABLED", false),
			FilePathTemplate: s.getEnvString("REQUEST_LOGGER_FILE_PATH_TEMPLATE", "/var/log/ai-gateway/access-%s.jsonl"),
			MaxSize:          s.getEnvInt64("REQUEST_LOGGER_MAX_SIZE", 10_485_760),              // default 10 MB
			MaxFiles:         s.getEnvInt("REQUEST_LOGGER_MAX_FILES", 5),                        // default 5
			BufferSize:       s.getEnvInt("REQUEST_LOGGER_BUFFER_SIZE", 100),                    // default 100
			FlushInterval:    s.getEnvDuration("REQUEST_LOGGER_FLUSH_INTERVAL", 60*time.Second), // default 60 seconds
		},
		Archive: ArchiveConfig{
			Enabled:  s.getEnvBool("ARCHIVE_ENABLED", false),
			S3Bucket: s.getEnvString("ARCHIVE_S3_BUCKET", ""),
			S3Region: s.getEnvString("ARCHIVE_S3_REGION", "us-east-1"),
			S3Prefix: s.getEnvString("ARCHIVE_S3_PREFIX", "activity/"),
			PodName:  s.getEnvString("POD_NAME", "gateway-0"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendRedis, BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}

	switch c.Provider.Type {
	case ProviderWorkersAI, ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unknown PROVIDER_TYPE %q", c.Provider.Type)
	}

	if c.Accounts.DefaultDailyLimit < 0 {
		return fmt.Errorf("ACCOUNT_DEFAULT_DAILY_LIMIT must be >= 0")
	}
	if c.Provider.RequestTimeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT must be positive")
	}
	if c.Archive.Enabled && c.Archive.S3Bucket == "" {
		return fmt.Errorf("ARCHIVE_S3_BUCKET is required when ARCHIVE_ENABLED is set")
	}
	if !c.Gateway.RequireAPIKey && !c.Gateway.BlocklistEnabled {
		return fmt.Errorf("at least one of GATEWAY_REQUIRE_API_KEY and GATEWAY_BLOCKLIST_ENABLED must be enabled")
	}
	return nil
}
