package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "dev"
	EnvProduction  = "production"

	RegistrationPassword = "password"
	RegistrationInvite   = "invite"

	MQBackendNone     = "none"
	MQBackendRabbitMQ = "rabbitmq"
	MQBackendPubSub   = "pubsub"

	minProductionSecretLen = 32
)

type Config struct {
	Env          string
	ServerPort   int
	Database     DatabaseConfig
	Auth         AuthConfig
	Registration RegistrationConfig
	CORS         CORSConfig
	Mail         MailConfig
	MQ           MQConfig
	Log          LogConfig

	loadErrs []error
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool

	MaxOpenConns int
	MaxIdleConns int
}

// AuthConfig holds the session token and cookie settings.
type AuthConfig struct {
	JWTSecret    string
	TokenTTL     time.Duration
	RefreshTTL   time.Duration
	BcryptCost   int
	CookieName   string
	CookieSecure bool

	// UsersRequireAdmin restricts the user directory to admin sessions.
	UsersRequireAdmin bool
}

// RegistrationConfig selects how new accounts receive their password.
// In "password" mode the client supplies one; in "invite" mode the server
// generates one and delivers it by email.
type RegistrationConfig struct {
	Mode     string
	LoginURL string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
}

// Enabled reports whether an SMTP relay is configured.
func (m MailConfig) Enabled() bool {
	return strings.TrimSpace(m.Host) != ""
}

type MQConfig struct {
	Backend     string
	MailChannel string
	RabbitMQ    RabbitMQConfig
	PubSub      PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	PrefetchCount   int
	QueueDurable    bool
	QueueAutoDelete bool
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

type LogConfig struct {
	Level string
	JSON  bool
}

func LoadConfig() Config {
	env := getEnv("ENV", EnvDevelopment)
	if env == EnvDevelopment {
		_ = godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "bizadmin"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "bizadmin_db"),
		UseSSL:   getEnvBool("DB_USE_SSL", false),

		MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
	}

	tokenTTL, tokenErr := getEnvDuration("JWT_EXPIRES_IN", 24*time.Hour)
	refreshTTL, refreshErr := getEnvDuration("JWT_REFRESH_EXPIRES_IN", time.Hour)

	authConfig := AuthConfig{
		JWTSecret:    strings.TrimSpace(getEnv("JWT_SECRET", "")),
		TokenTTL:     tokenTTL,
		RefreshTTL:   refreshTTL,
		BcryptCost:   getEnvInt("BCRYPT_COST", 10),
		CookieName:   getEnv("AUTH_COOKIE_NAME", "auth_token"),
		CookieSecure: getEnvBool("COOKIE_SECURE", env == EnvProduction),

		UsersRequireAdmin: getEnvBool("USERS_LIST_REQUIRE_ADMIN", false),
	}

	clientURL := getEnv("CLIENT_URL", "http://localhost:5173")
	origins := getEnvList("CORS_ALLOWED_ORIGINS", []string{clientURL})

	mqConfig := MQConfig{
		Backend:     strings.ToLower(getEnv("MQ_BACKEND", MQBackendNone)),
		MailChannel: getEnv("MQ_MAIL_CHANNEL", "mail-notifications"),
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH", 10),
			QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
			QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
		},
		PubSub: PubSubConfig{
			ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
			CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
			SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
		},
	}

	return Config{
		Env:        env,
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		Database:   dbConfig,
		Auth:       authConfig,
		Registration: RegistrationConfig{
			Mode:     strings.ToLower(getEnv("REGISTRATION_MODE", RegistrationPassword)),
			LoginURL: getEnv("LOGIN_URL", strings.TrimRight(clientURL, "/")+"/login"),
		},
		CORS: CORSConfig{AllowedOrigins: origins},
		Mail: MailConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", ""),
			UseTLS:   getEnvBool("SMTP_TLS", true),
		},
		MQ: mqConfig,
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			JSON:  getEnvBool("LOG_JSON", env == EnvProduction),
		},
		loadErrs: []error{tokenErr, refreshErr},
	}
}

// Validate checks settings that cannot be defaulted safely.
func (c Config) Validate() error {
	errs := append([]error(nil), c.loadErrs...)

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if c.IsProduction() && len(c.Auth.JWTSecret) < minProductionSecretLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters in production", minProductionSecretLen))
	}
	if c.Auth.TokenTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token expiry windows must be positive"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.Auth.BcryptCost))
	}
	if strings.TrimSpace(c.Auth.CookieName) == "" {
		errs = append(errs, errors.New("AUTH_COOKIE_NAME must not be empty"))
	}

	switch c.Registration.Mode {
	case RegistrationPassword:
	case RegistrationInvite:
		if !c.Mail.Enabled() {
			errs = append(errs, errors.New("REGISTRATION_MODE=invite requires SMTP_HOST"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown REGISTRATION_MODE %q", c.Registration.Mode))
	}

	if c.Mail.Enabled() && strings.TrimSpace(c.Mail.From) == "" {
		errs = append(errs, errors.New("SMTP_FROM is required when SMTP_HOST is set"))
	}

	switch c.MQ.Backend {
	case "", MQBackendNone:
	case MQBackendRabbitMQ:
		if strings.TrimSpace(c.MQ.RabbitMQ.URL) == "" {
			errs = append(errs, errors.New("MQ_BACKEND=rabbitmq requires RABBITMQ_URL"))
		}
	case MQBackendPubSub:
		if strings.TrimSpace(c.MQ.PubSub.ProjectID) == "" {
			errs = append(errs, errors.New("MQ_BACKEND=pubsub requires PUBSUB_PROJECT_ID"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MQ_BACKEND %q", c.MQ.Backend))
	}

	return errors.Join(errs...)
}

// IsProduction reports whether the service runs in the production environment.
func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// UsesQueue reports whether notifications go through a message broker.
func (c Config) UsesQueue() bool {
	return c.MQ.Backend == MQBackendRabbitMQ || c.MQ.Backend == MQBackendPubSub
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(valueStr)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// getEnvDuration falls back to defaultValue on a malformed value and reports
// it, so Validate can refuse to start instead of running with the default.
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(valueStr))
	if err != nil {
		return defaultValue, fmt.Errorf("%s=%q is not a valid duration (use units such as 24h or 90m)", key, valueStr)
	}
	return value, nil
}

func getEnvList(key string, defaultValue []string) []string {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var items []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
