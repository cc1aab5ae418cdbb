package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const devJWTSigningKey = "dev-secret-key-change-in-production"

// Server captures process level configuration.
type Server struct {
	Addr          string        `env:"TRUSTCERT_ADDR" envDefault:":8080"`
	Environment   string        `env:"TRUSTCERT_ENV" envDefault:"local"`
	LogLevel      string        `env:"TRUSTCERT_LOG_LEVEL" envDefault:"info"`
	JWTSigningKey string        `env:"TRUSTCERT_JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer     string        `env:"TRUSTCERT_JWT_ISSUER" envDefault:"trustcert"`
	SealKeyHex    string        `env:"TRUSTCERT_SEAL_KEY"`
	SeedDemoData  bool          `env:"TRUSTCERT_SEED" envDefault:"true"`
	ShutdownGrace time.Duration `env:"TRUSTCERT_SHUTDOWN_GRACE" envDefault:"10s"`

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Oracle   OracleConfig
	Sweeper  SweeperConfig
}

// DatabaseConfig selects Postgres stores when URL is set; memory stores otherwise.
type DatabaseConfig struct {
	URL             string        `env:"TRUSTCERT_DATABASE_URL"`
	MaxOpenConns    int           `env:"TRUSTCERT_DATABASE_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"TRUSTCERT_DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"TRUSTCERT_DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
	TxTimeout       time.Duration `env:"TRUSTCERT_DATABASE_TX_TIMEOUT" envDefault:"5s"`
}

// RedisConfig configures the oracle result cache. Empty URL disables it.
type RedisConfig struct {
	URL          string        `env:"TRUSTCERT_REDIS_URL"`
	PoolSize     int           `env:"TRUSTCERT_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"TRUSTCERT_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"TRUSTCERT_REDIS_DIAL_TIMEOUT" envDefault:"2s"`
	ReadTimeout  time.Duration `env:"TRUSTCERT_REDIS_READ_TIMEOUT" envDefault:"500ms"`
	WriteTimeout time.Duration `env:"TRUSTCERT_REDIS_WRITE_TIMEOUT" envDefault:"500ms"`
	CacheTTL     time.Duration `env:"TRUSTCERT_ORACLE_CACHE_TTL" envDefault:"10m"`
}

// KafkaConfig configures record-appended notifications. Empty Brokers keeps
// notifications in process.
type KafkaConfig struct {
	Brokers       []string `env:"TRUSTCERT_KAFKA_BROKERS" envSeparator:","`
	Topic         string   `env:"TRUSTCERT_KAFKA_TOPIC" envDefault:"trustcert.record-appended"`
	ConsumerGroup string   `env:"TRUSTCERT_KAFKA_GROUP" envDefault:"trustcert-reevaluator"`
	Partitions    int32    `env:"TRUSTCERT_KAFKA_PARTITIONS" envDefault:"3"`
}

// OracleConfig configures the on-chain unlock oracle. Empty URL disables it
// and vault release relies on the local clock.
type OracleConfig struct {
	URL            string        `env:"TRUSTCERT_ORACLE_URL"`
	Token          string        `env:"TRUSTCERT_ORACLE_TOKEN"`
	Timeout        time.Duration `env:"TRUSTCERT_ORACLE_TIMEOUT" envDefault:"3s"`
	RatePerSecond  float64       `env:"TRUSTCERT_ORACLE_RPS" envDefault:"20"`
	Burst          int           `env:"TRUSTCERT_ORACLE_BURST" envDefault:"5"`
	BreakerFailure int           `env:"TRUSTCERT_ORACLE_BREAKER_FAILURES" envDefault:"5"`
	BreakerCool    time.Duration `env:"TRUSTCERT_ORACLE_BREAKER_COOLDOWN" envDefault:"30s"`
}

// SweeperConfig schedules re-evaluation of locked certificates.
type SweeperConfig struct {
	Enabled  bool   `env:"TRUSTCERT_SWEEPER_ENABLED" envDefault:"true"`
	Schedule string `env:"TRUSTCERT_SWEEPER_SCHEDULE" envDefault:"@every 1m"`
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate rejects combinations that would run with insecure or unusable settings.
func (c Server) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("TRUSTCERT_ADDR is required"))
	}
	if c.IsProduction() && c.JWTSigningKey == devJWTSigningKey {
		errs = append(errs, errors.New("TRUSTCERT_JWT_SIGNING_KEY must be set in production"))
	}
	if c.SealKeyHex != "" {
		if _, err := c.SealKey(); err != nil {
			errs = append(errs, err)
		}
	} else if c.Database.URL != "" {
		errs = append(errs, errors.New("TRUSTCERT_SEAL_KEY is required with a database"))
	}
	if c.Oracle.Timeout <= 0 {
		errs = append(errs, errors.New("TRUSTCERT_ORACLE_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// SealKey decodes the 32-byte payload sealing key. A nil key means none was configured.
func (c Server) SealKey() (*[32]byte, error) {
	if c.SealKeyHex == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(c.SealKeyHex)
	if err != nil {
		return nil, fmt.Errorf("TRUSTCERT_SEAL_KEY: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("TRUSTCERT_SEAL_KEY: want 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

func (c Server) IsProduction() bool {
	return c.Environment == "production"
}
