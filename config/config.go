package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Logger   LoggerConfig
	Postgres PostgresConfig
	JWT      JWTConfig
	Kafka    KafkaConfig
	Ledger   LedgerConfig
	Tenant   TenantConfig
	Sweeper  SweeperConfig
}

type ServerConfig struct {
	AppEnv            string
	GRPCPort          string
	HTTPPort          string
	AuthRatePerMinute int
	QRSize            int
}

type LoggerConfig struct {
	Level             string
	Encoding          string
	DisableCaller     bool
	DisableStacktrace bool
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

type JWTConfig struct {
	SecretKey string
	Issuer    string
	TTL       time.Duration
}

type KafkaConfig struct {
	Enabled     bool
	Brokers     []string
	Topic       string // orders.events
	GroupID     string // loyalty-service
	LedgerTopic string // loyalty.events
}

type LedgerConfig struct {
	WelcomeBonus       int64
	PersistenceTimeout time.Duration
	HistoryPageSize    int
	QRFinalizeAttempts int
}

type TenantConfig struct {
	DevSlug          string
	MinLabels        int
	ReservedPrefixes []string
}

type SweeperConfig struct {
	Interval time.Duration
	Grace    time.Duration
}

// LoadEnv reads configuration from the environment. A .env file in the
// working directory is loaded first when present; real env vars win.
func LoadEnv() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			AppEnv:            getEnv("APP_ENV", "dev"),
			GRPCPort:          getEnv("GRPC_PORT", ":8086"),
			HTTPPort:          getEnv("HTTP_PORT", ":8087"),
			AuthRatePerMinute: getEnvInt("AUTH_RATE_PER_MINUTE", 10),
			QRSize:            getEnvInt("QR_SIZE", 256),
		},
		Logger: LoggerConfig{
			Level:             getEnv("LOGGER_LEVEL", "debug"),
			Encoding:          getEnv("LOGGER_ENCODING", "console"),
			DisableCaller:     getEnvBool("LOGGER_DISABLE_CALLER", false),
			DisableStacktrace: getEnvBool("LOGGER_DISABLE_STACKTRACE", true),
		},
		Postgres: PostgresConfig{
			Host:            getEnv("POSTGRES_HOST", "localhost"),
			Port:            getEnv("POSTGRES_PORT", "5433"),
			User:            getEnv("POSTGRES_USER", "omnipos"),
			Password:        getEnv("POSTGRES_PASSWORD", "omnipos"),
			DBName:          getEnv("POSTGRES_DB", "omnipos_loyalty_db"),
			SSLMode:         getEnv("POSTGRES_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("POSTGRES_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("POSTGRES_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: time.Duration(getEnvInt("POSTGRES_CONN_MAX_LIFETIME", 300)) * time.Second,
			ConnMaxIdleTime: time.Duration(getEnvInt("POSTGRES_CONN_MAX_IDLE_TIME", 60)) * time.Second,
			ConnectTimeout:  getEnvDuration("POSTGRES_CONNECT_TIMEOUT", 10*time.Second),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", "your-secret-key"),
			Issuer:    getEnv("JWT_ISSUER", "omnipos-loyalty"),
			TTL:       getEnvDuration("JWT_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Enabled:     getEnvBool("KAFKA_ENABLED", true),
			Brokers:     getEnvList("KAFKA_BROKERS", []string{"localhost:29092"}),
			Topic:       getEnv("KAFKA_TOPIC", "orders.events"),
			GroupID:     getEnv("KAFKA_GROUP_ID", "loyalty-service"),
			LedgerTopic: getEnv("KAFKA_LEDGER_TOPIC", "loyalty.events"),
		},
		Ledger: LedgerConfig{
			WelcomeBonus:       int64(getEnvInt("LEDGER_WELCOME_BONUS", 5)),
			PersistenceTimeout: getEnvDuration("LEDGER_PERSISTENCE_TIMEOUT", 5*time.Second),
			HistoryPageSize:    getEnvInt("LEDGER_HISTORY_PAGE_SIZE", 100),
			QRFinalizeAttempts: getEnvInt("LEDGER_QR_FINALIZE_ATTEMPTS", 3),
		},
		Tenant: TenantConfig{
			DevSlug:          getEnv("TENANT_DEV_SLUG", "morsiburger"),
			MinLabels:        getEnvInt("TENANT_MIN_LABELS", 3),
			ReservedPrefixes: getEnvList("TENANT_RESERVED_PREFIXES", []string{"www", "api", "app", "admin", "dashboard"}),
		},
		Sweeper: SweeperConfig{
			Interval: getEnvDuration("SWEEPER_INTERVAL", time.Minute),
			Grace:    getEnvDuration("SWEEPER_GRACE", 30*time.Second),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
