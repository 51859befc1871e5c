package config

// EnvPrefix scopes every recognized environment variable.
const EnvPrefix = "MAILROOM"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "MAILROOM_APP_ENV"
	EnvPort     = "MAILROOM_APP_PORT"
	EnvDBDSN    = "MAILROOM_DB_DSN"
	EnvDBHost   = "MAILROOM_DB_HOST"
	EnvDBUser   = "MAILROOM_DB_USER"
	EnvDBName   = "MAILROOM_DB_NAME"
	EnvRedisURL = "MAILROOM_REDIS_URL"
	EnvSMTPHost = "MAILROOM_SMTP_HOST"
	EnvSMTPFrom = "MAILROOM_SMTP_FROM_EMAIL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
