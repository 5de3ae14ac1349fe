package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries every runtime knob, loaded from the environment.
type Config struct {
	Env       string `env:"ENV" envDefault:"dev"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Port                int           `env:"PORT" envDefault:"8080"`
	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`

	DatabaseFile  string `env:"IDENTITY_DATABASE_FILE" envDefault:"identity.db"`
	PepperFile    string `env:"IDENTITY_PEPPER_FILE" envDefault:"pepper"`
	MasterKeyFile string `env:"IDENTITY_MASTER_KEY_FILE" envDefault:"master.key"`

	// SigningSecret is the HMAC key for access tokens. Required, minimum 32
	// bytes. Rotating it invalidates all outstanding access tokens.
	SigningSecret string   `env:"IDENTITY_SIGNING_SECRET,unset"`
	Issuer        string   `env:"IDENTITY_ISSUER" envDefault:"identity"`
	Audience      []string `env:"IDENTITY_AUDIENCE" envDefault:"reporting"`

	AccessTokenTTL  time.Duration `env:"IDENTITY_ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"IDENTITY_REFRESH_TOKEN_TTL" envDefault:"168h"`

	SessionTimeout        time.Duration `env:"IDENTITY_SESSION_TIMEOUT" envDefault:"8h"`
	RememberMeTimeout     time.Duration `env:"IDENTITY_REMEMBER_ME_TIMEOUT" envDefault:"24h"`
	MaxConcurrentSessions int           `env:"IDENTITY_MAX_CONCURRENT_SESSIONS" envDefault:"5"`

	MFALockoutThreshold int           `env:"IDENTITY_MFA_LOCKOUT_THRESHOLD" envDefault:"5"`
	MFALockoutDuration  time.Duration `env:"IDENTITY_MFA_LOCKOUT_DURATION" envDefault:"15m"`

	// RedisAddr enables the distributed login throttle. Empty disables it;
	// per-instance HTTP rate limiting still applies.
	RedisAddr          string        `env:"IDENTITY_REDIS_ADDR"`
	RedisPassword      string        `env:"IDENTITY_REDIS_PASSWORD,unset"`
	RedisDB            int           `env:"IDENTITY_REDIS_DB" envDefault:"0"`
	LoginMaxAttempts   int           `env:"IDENTITY_LOGIN_MAX_ATTEMPTS" envDefault:"10"`
	LoginAttemptWindow time.Duration `env:"IDENTITY_LOGIN_ATTEMPT_WINDOW" envDefault:"15m"`

	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"1h"`
	AuditBufferSize      int           `env:"IDENTITY_AUDIT_BUFFER" envDefault:"256"`

	// Bootstrap admin credentials, only consulted when the user table is
	// empty at startup.
	BootstrapAdminUsername string `env:"IDENTITY_BOOTSTRAP_ADMIN_USERNAME"`
	BootstrapAdminPassword string `env:"IDENTITY_BOOTSTRAP_ADMIN_PASSWORD,unset"`
}

// LoadConfig parses the environment and validates the hard requirements.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if len(cfg.SigningSecret) < 32 {
		return Config{}, fmt.Errorf("IDENTITY_SIGNING_SECRET must be set and at least 32 bytes, got %d", len(cfg.SigningSecret))
	}

	return cfg, nil
}
