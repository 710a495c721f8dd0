package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // DAY ордера считаются в часовом поясе биржи

	"gopkg.in/yaml.v3"

	"orderexec/internal/broker"
	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Engine      EngineConfig
	Routing     RoutingConfig
	Eligibility EligibilityConfig
	Gateway     GatewayConfig
	Strategy    StrategyConfig
	Feed        FeedConfig
	Events      EventsConfig
	Logging     LoggingConfig
	Brokers     []BrokerSpec
}

// ServerConfig - настройки служебного HTTP сервера
type ServerConfig struct {
	Port           int
	Host           string
	AllowedOrigins []string // CORS и поток событий; пусто - любые
	APIToken       string   // Bearer токен для изменяющих запросов; пусто - без проверки
}

// DatabaseConfig - журнал событий в PostgreSQL
type DatabaseConfig struct {
	Enabled  bool // без БД события только логируются
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	// JournalRetention - сколько хранить события в журнале
	JournalRetention time.Duration
}

// EngineConfig - движок и обработка тиков
type EngineConfig struct {
	Shards        int           // шардов обработки тиков
	ShardBuffer   int           // буфер тиков на шард
	SweepInterval time.Duration // проверка сроков GTD/DAY
	Retention     time.Duration // сколько хранить финальные ордера для GetOrder
	Timezone      string        // часовой пояс для DAY ордеров
}

// RoutingConfig - пороги выбора способа маршрутизации и алгоритмов
type RoutingConfig struct {
	IcebergQuantityThreshold int64
	SplitQuantityThreshold   int64
	SplitValueThreshold      float64
	MaxSplits                int
	MinSplitSize             int64
	IcebergPacing            time.Duration
	DynamicPacing            time.Duration
	LiquidityPacing          time.Duration
	VolatileSymbols          []string
}

// EligibilityConfig - фильтр допуска брокеров
type EligibilityConfig struct {
	MinHealth              float64
	MaxConsecutiveFailures int
	MaxLoad                float64
}

// GatewayConfig - вызовы брокеров
type GatewayConfig struct {
	CallTimeout      time.Duration
	MaxConcurrent    int
	WorkerPool       int // параллельных дочерних ордеров одного родителя
	BreakerFailures  uint32
	BreakerTimeout   time.Duration
	BreakerInterval  time.Duration
	HalfOpenRequests uint32
	CancelRetries    int
}

// StrategyConfig - параметры алгоритмов по умолчанию
type StrategyConfig struct {
	TWAPSlices        int
	TWAPHorizon       time.Duration
	MaxSlices         int
	VWAPParticipation float64
	VWAPMinChild      int64
}

// FeedConfig - поток котировок (WebSocket)
type FeedConfig struct {
	URL               string // пусто - поток отключён
	Symbols           []string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
}

// EventsConfig - публикация событий жизненного цикла
type EventsConfig struct {
	Buffer       int
	WriteTimeout time.Duration

	StreamEnabled bool // WebSocket поток событий /ws/events
	StreamBuffer  int
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// BrokerSpec - брокер из файла BROKERS_FILE
type BrokerSpec struct {
	Name         string                   `yaml:"name"`
	Kind         string                   `yaml:"kind"`
	BaseURL      string                   `yaml:"base_url"`
	APIKeyEnv    string                   `yaml:"api_key_env"`
	APISecretEnv string                   `yaml:"api_secret_env"`
	RateLimit    float64                  `yaml:"rate_limit"` // запросов в секунду, 0 - без лимита
	Burst        float64                  `yaml:"burst"`
	MaxInFlight  int64                    `yaml:"max_in_flight"`
	Paper        broker.PaperConfig       `yaml:"paper"`
	Performance  models.BrokerPerformance `yaml:"performance"`
}

// ClientConfig собирает параметры адаптера; ключи читаются из окружения
func (b BrokerSpec) ClientConfig() broker.Config {
	cfg := broker.Config{
		Name:    b.Name,
		Kind:    b.Kind,
		BaseURL: b.BaseURL,
		Paper:   b.Paper,
	}
	if b.APIKeyEnv != "" {
		cfg.APIKey = os.Getenv(b.APIKeyEnv)
	}
	if b.APISecretEnv != "" {
		cfg.APISecret = os.Getenv(b.APISecretEnv)
	}
	return cfg
}

type brokersFile struct {
	Brokers []BrokerSpec `yaml:"brokers"`
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			AllowedOrigins: getEnvAsRawList("ALLOWED_ORIGINS"),
			APIToken:       getEnv("OPS_API_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "orderexec"),
			User:     getEnv("DB_USER", "orderexec"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),

			JournalRetention: getEnvAsDuration("DB_JOURNAL_RETENTION", 7*24*time.Hour),
		},
		Engine: EngineConfig{
			Shards:        getEnvAsInt("ENGINE_SHARDS", 16),
			ShardBuffer:   getEnvAsInt("ENGINE_SHARD_BUFFER", 1024),
			SweepInterval: getEnvAsDuration("ENGINE_SWEEP_INTERVAL", time.Second),
			Retention:     getEnvAsDuration("ENGINE_RETENTION", 15*time.Minute),
			Timezone:      getEnv("ENGINE_TIMEZONE", "America/New_York"),
		},
		Routing: RoutingConfig{
			IcebergQuantityThreshold: getEnvAsInt64("ROUTING_ICEBERG_QTY", 50_000),
			SplitQuantityThreshold:   getEnvAsInt64("ROUTING_SPLIT_QTY", 10_000),
			SplitValueThreshold:      getEnvAsFloat("ROUTING_SPLIT_VALUE", 1_000_000),
			MaxSplits:                getEnvAsInt("ROUTING_MAX_SPLITS", 5),
			MinSplitSize:             getEnvAsInt64("ROUTING_MIN_SPLIT_SIZE", 100),
			IcebergPacing:            getEnvAsDuration("ROUTING_ICEBERG_PACING", 100*time.Millisecond),
			DynamicPacing:            getEnvAsDuration("ROUTING_DYNAMIC_PACING", 50*time.Millisecond),
			LiquidityPacing:          getEnvAsDuration("ROUTING_LIQUIDITY_PACING", 50*time.Millisecond),
			VolatileSymbols:          getEnvAsList("ROUTING_VOLATILE_SYMBOLS", nil),
		},
		Eligibility: EligibilityConfig{
			MinHealth:              getEnvAsFloat("ELIGIBILITY_MIN_HEALTH", 0.70),
			MaxConsecutiveFailures: getEnvAsInt("ELIGIBILITY_MAX_FAILURES", 3),
			MaxLoad:                getEnvAsFloat("ELIGIBILITY_MAX_LOAD", 0.85),
		},
		Gateway: GatewayConfig{
			CallTimeout:      getEnvAsDuration("GATEWAY_CALL_TIMEOUT", 2*time.Second),
			MaxConcurrent:    getEnvAsInt("GATEWAY_MAX_CONCURRENT", 8),
			WorkerPool:       getEnvAsInt("GATEWAY_WORKER_POOL", 16),
			BreakerFailures:  uint32(getEnvAsInt("BREAKER_FAILURES", 5)),
			BreakerTimeout:   getEnvAsDuration("BREAKER_TIMEOUT", 30*time.Second),
			BreakerInterval:  getEnvAsDuration("BREAKER_INTERVAL", 60*time.Second),
			HalfOpenRequests: uint32(getEnvAsInt("BREAKER_HALF_OPEN_REQUESTS", 1)),
			CancelRetries:    getEnvAsInt("GATEWAY_CANCEL_RETRIES", 3),
		},
		Strategy: StrategyConfig{
			TWAPSlices:        getEnvAsInt("TWAP_SLICES", 10),
			TWAPHorizon:       getEnvAsDuration("TWAP_HORIZON", 10*time.Minute),
			MaxSlices:         getEnvAsInt("TWAP_MAX_SLICES", 1000),
			VWAPParticipation: getEnvAsFloat("VWAP_PARTICIPATION", 0.1),
			VWAPMinChild:      getEnvAsInt64("VWAP_MIN_CHILD", 100),
		},
		Feed: FeedConfig{
			URL:               getEnv("FEED_URL", ""),
			Symbols:           getEnvAsList("FEED_SYMBOLS", nil),
			ReconnectDelay:    getEnvAsDuration("FEED_RECONNECT_DELAY", time.Second),
			MaxReconnectDelay: getEnvAsDuration("FEED_MAX_RECONNECT_DELAY", 30*time.Second),
			PingInterval:      getEnvAsDuration("FEED_PING_INTERVAL", 15*time.Second),
			ReadTimeout:       getEnvAsDuration("FEED_READ_TIMEOUT", 30*time.Second),
		},
		Events: EventsConfig{
			Buffer:       getEnvAsInt("EVENTS_BUFFER", 4096),
			WriteTimeout: getEnvAsDuration("EVENTS_WRITE_TIMEOUT", 2*time.Second),

			StreamEnabled: getEnvAsBool("EVENTS_STREAM_ENABLED", true),
			StreamBuffer:  getEnvAsInt("EVENTS_STREAM_BUFFER", 1024),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	brokers, err := loadBrokers(getEnv("BROKERS_FILE", ""))
	if err != nil {
		return nil, err
	}
	cfg.Brokers = brokers

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadBrokers читает таблицу брокеров; без файла - два бумажных брокера
func loadBrokers(path string) ([]BrokerSpec, error) {
	if path == "" {
		return defaultBrokers(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read brokers file: %w", err)
	}
	return parseBrokers(data)
}

func parseBrokers(data []byte) ([]BrokerSpec, error) {
	var f brokersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse brokers file: %w", err)
	}
	if len(f.Brokers) == 0 {
		return nil, fmt.Errorf("brokers file lists no brokers")
	}

	seen := make(map[string]bool, len(f.Brokers))
	for i := range f.Brokers {
		b := &f.Brokers[i]
		if err := utils.ValidateBrokerName(b.Name); err != nil {
			return nil, fmt.Errorf("broker #%d: %w", i+1, err)
		}
		if seen[b.Name] {
			return nil, fmt.Errorf("broker %s is listed twice", b.Name)
		}
		seen[b.Name] = true
		if b.Kind == "" {
			b.Kind = broker.KindPaper
		}
		b.Performance.Name = b.Name
	}
	return f.Brokers, nil
}

func defaultBrokers() []BrokerSpec {
	perf := func(name string, improvement, ms float64) models.BrokerPerformance {
		return models.BrokerPerformance{
			Name:                name,
			PriceImprovementPct: improvement,
			ExecutionTimeMs:     ms,
			SuccessRatePct:      99,
			UptimePct:           99.9,
			FeePct:              0.1,
			Health:              1,
			AvailableCapacity:   1_000_000,
		}
	}
	return []BrokerSpec{
		{Name: "paper-a", Kind: broker.KindPaper, MaxInFlight: 64, Paper: broker.PaperConfig{FillRatio: 1, DefaultPrice: 100}, Performance: perf("paper-a", 0.8, 120)},
		{Name: "paper-b", Kind: broker.KindPaper, MaxInFlight: 64, Paper: broker.PaperConfig{FillRatio: 1, DefaultPrice: 100}, Performance: perf("paper-b", 0.5, 80)},
	}
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Engine.Shards < 1 {
		return fmt.Errorf("ENGINE_SHARDS must be positive, got %d", c.Engine.Shards)
	}

	if c.Engine.ShardBuffer < 1 {
		return fmt.Errorf("ENGINE_SHARD_BUFFER must be positive, got %d", c.Engine.ShardBuffer)
	}

	if c.Engine.SweepInterval <= 0 {
		return fmt.Errorf("ENGINE_SWEEP_INTERVAL must be positive, got %v", c.Engine.SweepInterval)
	}

	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		return fmt.Errorf("ENGINE_TIMEZONE is invalid: %w", err)
	}

	// Пороги маршрутизации
	if c.Routing.MaxSplits < 1 {
		return fmt.Errorf("ROUTING_MAX_SPLITS must be at least 1, got %d", c.Routing.MaxSplits)
	}

	if c.Routing.MinSplitSize < 1 {
		return fmt.Errorf("ROUTING_MIN_SPLIT_SIZE must be positive, got %d", c.Routing.MinSplitSize)
	}

	if c.Routing.SplitQuantityThreshold > c.Routing.IcebergQuantityThreshold {
		return fmt.Errorf("ROUTING_SPLIT_QTY (%d) must not exceed ROUTING_ICEBERG_QTY (%d)",
			c.Routing.SplitQuantityThreshold, c.Routing.IcebergQuantityThreshold)
	}

	// Фильтр допуска
	if c.Eligibility.MinHealth < 0 || c.Eligibility.MinHealth > 1 {
		return fmt.Errorf("ELIGIBILITY_MIN_HEALTH must be within [0, 1], got %v", c.Eligibility.MinHealth)
	}

	if c.Eligibility.MaxLoad <= 0 || c.Eligibility.MaxLoad > 1 {
		return fmt.Errorf("ELIGIBILITY_MAX_LOAD must be within (0, 1], got %v", c.Eligibility.MaxLoad)
	}

	if c.Eligibility.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("ELIGIBILITY_MAX_FAILURES must be at least 1, got %d", c.Eligibility.MaxConsecutiveFailures)
	}

	// Шлюз
	if c.Gateway.CallTimeout <= 0 {
		return fmt.Errorf("GATEWAY_CALL_TIMEOUT must be positive, got %v", c.Gateway.CallTimeout)
	}

	if c.Gateway.MaxConcurrent < 1 || c.Gateway.WorkerPool < 1 {
		return fmt.Errorf("GATEWAY_MAX_CONCURRENT and GATEWAY_WORKER_POOL must be positive")
	}

	if c.Gateway.BreakerFailures < 1 {
		return fmt.Errorf("BREAKER_FAILURES must be at least 1, got %d", c.Gateway.BreakerFailures)
	}

	if c.Gateway.CancelRetries < 0 || c.Gateway.CancelRetries > 10 {
		return fmt.Errorf("GATEWAY_CANCEL_RETRIES must be between 0 and 10, got %d", c.Gateway.CancelRetries)
	}

	// Алгоритмы
	if c.Strategy.TWAPSlices < 1 || c.Strategy.TWAPSlices > c.Strategy.MaxSlices {
		return fmt.Errorf("TWAP_SLICES must be between 1 and TWAP_MAX_SLICES (%d), got %d", c.Strategy.MaxSlices, c.Strategy.TWAPSlices)
	}

	if c.Strategy.TWAPHorizon <= 0 {
		return fmt.Errorf("TWAP_HORIZON must be positive, got %v", c.Strategy.TWAPHorizon)
	}

	if c.Strategy.VWAPParticipation <= 0 || c.Strategy.VWAPParticipation > 1 {
		return fmt.Errorf("VWAP_PARTICIPATION must be within (0, 1], got %v", c.Strategy.VWAPParticipation)
	}

	if c.Feed.URL != "" && c.Feed.ReadTimeout <= 0 {
		return fmt.Errorf("FEED_READ_TIMEOUT must be positive, got %v", c.Feed.ReadTimeout)
	}

	if c.Events.Buffer < 1 {
		return fmt.Errorf("EVENTS_BUFFER must be positive, got %d", c.Events.Buffer)
	}

	if c.Events.StreamEnabled && c.Events.StreamBuffer < 1 {
		return fmt.Errorf("EVENTS_STREAM_BUFFER must be positive, got %d", c.Events.StreamBuffer)
	}

	if c.Database.Enabled && c.Database.JournalRetention <= 0 {
		return fmt.Errorf("DB_JOURNAL_RETENTION must be positive, got %v", c.Database.JournalRetention)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList читает список через запятую, пустые элементы пропускаются
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, utils.NormalizeSymbol(part))
		}
	}
	return out
}

// getEnvAsRawList читает список через запятую без нормализации регистра
func getEnvAsRawList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
