package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	SMTP         SMTPConfig
	Captcha      CaptchaConfig
	Queue        QueueConfig
	RateLimit    RateLimitConfig
	Verification VerificationConfig
	Retention    RetentionConfig
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
	Env          string `envconfig:"MAILROOM_APP_ENV" required:"true"`
	Port         string `envconfig:"MAILROOM_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MAILROOM_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MAILROOM_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MAILROOM_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MAILROOM_DB_DSN"`
	Driver string `envconfig:"MAILROOM_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MAILROOM_DB_HOST"`
	LegacyPort     int    `envconfig:"MAILROOM_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MAILROOM_DB_USER"`
	LegacyPassword string `envconfig:"MAILROOM_DB_PASSWORD"`
	LegacyName     string `envconfig:"MAILROOM_DB_NAME"`
	LegacySSLMode  string `envconfig:"MAILROOM_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MAILROOM_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MAILROOM_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MAILROOM_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MAILROOM_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MAILROOM_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MAILROOM_REDIS_ADDR"`
	Password     string        `envconfig:"MAILROOM_REDIS_PASSWORD"`
	DB           int           `envconfig:"MAILROOM_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MAILROOM_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MAILROOM_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MAILROOM_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MAILROOM_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MAILROOM_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type SMTPConfig struct {
	Host            string        `envconfig:"MAILROOM_SMTP_HOST" required:"true"`
	Port            int           `envconfig:"MAILROOM_SMTP_PORT" default:"587"`
	Username        string        `envconfig:"MAILROOM_SMTP_USERNAME"`
	Password        string        `envconfig:"MAILROOM_SMTP_PASSWORD"`
	FromEmail       string        `envconfig:"MAILROOM_SMTP_FROM_EMAIL" required:"true"`
	FromName        string        `envconfig:"MAILROOM_SMTP_FROM_NAME" default:"Bassline Events"`
	SendTimeout     time.Duration `envconfig:"MAILROOM_SMTP_SEND_TIMEOUT" default:"30s"`
	SendsPerSecond  float64       `envconfig:"MAILROOM_SMTP_SENDS_PER_SECOND" default:"10"`
	SendBurst       int           `envconfig:"MAILROOM_SMTP_SEND_BURST" default:"5"`
}

type CaptchaConfig struct {
	VerifyURL      string        `envconfig:"MAILROOM_CAPTCHA_VERIFY_URL" default:"https://challenges.cloudflare.com/turnstile/v0/siteverify"`
	Secret         string        `envconfig:"MAILROOM_CAPTCHA_SECRET"`
	Timeout        time.Duration `envconfig:"MAILROOM_CAPTCHA_TIMEOUT" default:"5s"`
	MaxElapsedTime time.Duration `envconfig:"MAILROOM_CAPTCHA_MAX_ELAPSED" default:"15s"`
}

// Enabled reports whether captcha validation is configured. Dev setups may
// leave the secret unset and skip the gate entirely.
func (c CaptchaConfig) Enabled() bool {
	return strings.TrimSpace(c.Secret) != ""
}

type QueueConfig struct {
	PollInterval        time.Duration `envconfig:"MAILROOM_QUEUE_POLL_INTERVAL" default:"15s"`
	BatchSize           int           `envconfig:"MAILROOM_QUEUE_BATCH_SIZE" default:"25"`
	WorkerConcurrency   int           `envconfig:"MAILROOM_QUEUE_WORKER_CONCURRENCY" default:"4"`
	DefaultMaxRetries   int           `envconfig:"MAILROOM_QUEUE_DEFAULT_MAX_RETRIES" default:"5"`
	VerificationRetries int           `envconfig:"MAILROOM_QUEUE_VERIFICATION_MAX_RETRIES" default:"2"`
	BackoffBase         time.Duration `envconfig:"MAILROOM_QUEUE_BACKOFF_BASE" default:"30s"`
	BackoffCap          time.Duration `envconfig:"MAILROOM_QUEUE_BACKOFF_CAP" default:"1h"`
	ScheduleHorizon     time.Duration `envconfig:"MAILROOM_QUEUE_SCHEDULE_HORIZON" default:"720h"`
	ClaimLease          time.Duration `envconfig:"MAILROOM_QUEUE_CLAIM_LEASE" default:"10m"`
}

// MaxRetriesFor resolves the retry budget for a job category.
func (q QueueConfig) MaxRetriesFor(category string) int {
	if strings.EqualFold(category, "verification") {
		return q.VerificationRetries
	}
	return q.DefaultMaxRetries
}

type RateLimitConfig struct {
	MinInterval time.Duration `envconfig:"MAILROOM_RATE_LIMIT_MIN_INTERVAL" default:"60s"`

	EmailHourly  int `envconfig:"MAILROOM_RATE_LIMIT_EMAIL_HOURLY" default:"5"`
	EmailDaily   int `envconfig:"MAILROOM_RATE_LIMIT_EMAIL_DAILY" default:"10"`
	EmailWeekly  int `envconfig:"MAILROOM_RATE_LIMIT_EMAIL_WEEKLY" default:"30"`
	EmailMonthly int `envconfig:"MAILROOM_RATE_LIMIT_EMAIL_MONTHLY" default:"60"`

	OriginHourly  int `envconfig:"MAILROOM_RATE_LIMIT_ORIGIN_HOURLY" default:"20"`
	OriginDaily   int `envconfig:"MAILROOM_RATE_LIMIT_ORIGIN_DAILY" default:"50"`
	OriginWeekly  int `envconfig:"MAILROOM_RATE_LIMIT_ORIGIN_WEEKLY" default:"150"`
	OriginMonthly int `envconfig:"MAILROOM_RATE_LIMIT_ORIGIN_MONTHLY" default:"400"`

	BlockDisposableDomains bool `envconfig:"MAILROOM_RATE_LIMIT_BLOCK_DISPOSABLE" default:"true"`
}

type VerificationConfig struct {
	CodeLength int           `envconfig:"MAILROOM_VERIFICATION_CODE_LENGTH" default:"6"`
	CodeTTL    time.Duration `envconfig:"MAILROOM_VERIFICATION_CODE_TTL" default:"10m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MAILROOM_FEATURE_AUTO_MIGRATE" default:"false"`
}

type RetentionConfig struct {
	MailDays int `envconfig:"MAILROOM_RETENTION_MAIL_DAYS" default:"90"`
	CodeDays int `envconfig:"MAILROOM_RETENTION_CODE_DAYS" default:"7"`
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
