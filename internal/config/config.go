// Package config загружает конфигурацию кассы из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Storage ---
	// postgres: боевой режим, memory: локальный запуск без БД
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"postgres"`

	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"cashier"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"cashier"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- HTTP (админка) ---
	HTTPAddr        string `envconfig:"HTTP_ADDR" default:":8080"`
	AdminAPIKeyHash string `envconfig:"ADMIN_API_KEY_HASH" required:"true"`

	// --- Telegram ---
	TelegramBotToken string  `envconfig:"TELEGRAM_BOT_TOKEN"`
	AdminIDsRaw      string  `envconfig:"ADMIN_IDS"`
	AdminIDs         []int64 `envconfig:"-"` // заполним вручную
	// Чат, куда приходят заказы на проверку и где нажимают кнопки
	AdminChatID int64 `envconfig:"ADMIN_CHAT_ID"`
	// От чьего имени бот принимает решения (строка в actors, kind=telegram_bot)
	BotActorID string `envconfig:"BOT_ACTOR_ID" default:"telegram-bot"`

	// --- Bot runtime ---
	// Сколько апдейтов обрабатываем параллельно. Иначе "go на каждый апдейт" = утечка памяти при флуде.
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	// Таймаут long polling (секунды)
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Approval ---
	ApprovalLockTimeout   time.Duration `envconfig:"APPROVAL_LOCK_TIMEOUT" default:"5s"`
	ApprovalRetryAttempts int           `envconfig:"APPROVAL_RETRY_ATTEMPTS" default:"3"`
	ApprovalRetryBackoff  time.Duration `envconfig:"APPROVAL_RETRY_BACKOFF" default:"100ms"`
	// total_deposited | net_deposited
	CashoutBasis string `envconfig:"CASHOUT_BASIS" default:"total_deposited"`

	// --- Notifications ---
	NotifyWorkers     int           `envconfig:"NOTIFY_WORKERS" default:"4"`
	NotifyQueueSize   int           `envconfig:"NOTIFY_QUEUE_SIZE" default:"256"`
	NotifyMaxAttempts int           `envconfig:"NOTIFY_MAX_ATTEMPTS" default:"3"`
	NotifyBackoff     time.Duration `envconfig:"NOTIFY_BACKOFF" default:"500ms"`

	// --- Redis ---
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"redis:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisChannel  string `envconfig:"REDIS_CHANNEL" default:"cashier.events"`

	// --- Kafka ---
	KafkaBrokersRaw string   `envconfig:"KAFKA_BROKERS" default:"kafka:9092"`
	KafkaBrokers    []string `envconfig:"-"`
	KafkaTopic      string   `envconfig:"KAFKA_TOPIC" default:"cashier.events"`

	// --- Jobs ---
	ReconcileCron string `envconfig:"RECONCILE_CRON" default:"*/15 * * * *"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Feature Flags ---
	FeatureTelegramEnabled  bool `envconfig:"FEATURE_TELEGRAM_ENABLED" default:"true"`
	FeatureRedisEnabled     bool `envconfig:"FEATURE_REDIS_ENABLED" default:"false"`
	FeatureKafkaEnabled     bool `envconfig:"FEATURE_KAFKA_ENABLED" default:"false"`
	FeatureReconcileEnabled bool `envconfig:"FEATURE_RECONCILE_ENABLED" default:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// Значения STORAGE_DRIVER
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StoragePostgres:
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD не задан")
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("STORAGE_DRIVER должен быть postgres или memory, получено %q", c.StorageDriver)
	}

	if c.FeatureTelegramEnabled {
		if c.TelegramBotToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN не задан")
		}
		if c.AdminChatID == 0 {
			return fmt.Errorf("ADMIN_CHAT_ID не задан или равен 0")
		}
		if c.BotActorID == "" {
			return fmt.Errorf("BOT_ACTOR_ID не задан")
		}
		if c.BotMaxInflight <= 0 {
			return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
		}
		if c.BotUpdateTimeoutSeconds <= 0 {
			return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
		}
	}

	if c.ApprovalLockTimeout <= 0 {
		return fmt.Errorf("APPROVAL_LOCK_TIMEOUT должен быть > 0")
	}
	if c.ApprovalRetryAttempts <= 0 {
		return fmt.Errorf("APPROVAL_RETRY_ATTEMPTS должен быть > 0")
	}
	if c.CashoutBasis != "total_deposited" && c.CashoutBasis != "net_deposited" {
		return fmt.Errorf("CASHOUT_BASIS должен быть total_deposited или net_deposited")
	}
	if c.NotifyWorkers <= 0 || c.NotifyQueueSize <= 0 || c.NotifyMaxAttempts <= 0 {
		return fmt.Errorf("NOTIFY_WORKERS/NOTIFY_QUEUE_SIZE/NOTIFY_MAX_ATTEMPTS должны быть > 0")
	}
	if c.FeatureKafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS не задан")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids
	cfg.KafkaBrokers = splitCSV(cfg.KafkaBrokersRaw)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	parts := splitCSV(s)
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
