package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the bridge process.
// All values must come from env (or env-file loaded by the process runner),
// except the routing tables, which live in a YAML file (see routing_file.go).
// No correlation logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	AMI      AMIConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	CRM      CRMConfig
	Session  SessionConfig
	Dispatch DispatchConfig
	Records  RecordsConfig

	// RoutingPath points at the YAML routing/binding configuration.
	RoutingPath string
}

type AppConfig struct {
	Env  string
	Port int
}

type AMIConfig struct {
	Host     string
	Port     int
	Username string
	Secret   string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit. Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type CRMConfig struct {
	// WebhookURL is the base URL of the CRM inbound webhook, including any
	// auth token path segment. Must not be logged.
	WebhookURL     string
	RequestTimeout time.Duration
}

type SessionConfig struct {
	// IdleTimeout force-finalizes sessions with no events for this long.
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

type DispatchConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	QueueSize      int
}

type RecordsConfig struct {
	// MP3Dir is the root of the Y/M/D tree holding converted call recordings.
	// Empty disables recording lookup.
	MP3Dir string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.AMI.Host = strings.TrimSpace(os.Getenv("AMI_HOST"))
	{
		n, err := mustInt("AMI_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.AMI.Port = n
	}
	c.AMI.Username = strings.TrimSpace(os.Getenv("AMI_USERNAME"))
	c.AMI.Secret = os.Getenv("AMI_SECRET")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")

	c.CRM.WebhookURL = strings.TrimSpace(os.Getenv("CRM_WEBHOOK_URL"))
	c.CRM.RequestTimeout = mustDuration("CRM_REQUEST_TIMEOUT")

	c.Session.IdleTimeout = mustDuration("SESSION_IDLE_TIMEOUT")
	c.Session.SweepInterval = mustDuration("SESSION_SWEEP_INTERVAL")

	c.Dispatch.MaxAttempts = optInt("DISPATCH_MAX_ATTEMPTS")
	c.Dispatch.InitialBackoff = mustDuration("DISPATCH_INITIAL_BACKOFF")
	c.Dispatch.MaxBackoff = mustDuration("DISPATCH_MAX_BACKOFF")
	c.Dispatch.QueueSize = optInt("DISPATCH_QUEUE_SIZE")

	c.Records.MP3Dir = strings.TrimSpace(os.Getenv("RECORDS_MP3_DIR"))

	c.RoutingPath = strings.TrimSpace(os.Getenv("ROUTING_CONFIG"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.AMI.Host == "" {
		errs = append(errs, errors.New("AMI_HOST is required"))
	}
	if c.AMI.Port <= 0 || c.AMI.Port > 65535 {
		errs = append(errs, fmt.Errorf("AMI_PORT must be a valid port, got %d", c.AMI.Port))
	}
	if c.AMI.Username == "" {
		errs = append(errs, errors.New("AMI_USERNAME is required"))
	}
	if c.AMI.Secret == "" {
		errs = append(errs, errors.New("AMI_SECRET is required"))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	if c.CRM.WebhookURL == "" {
		errs = append(errs, errors.New("CRM_WEBHOOK_URL is required"))
	}
	if c.CRM.RequestTimeout <= 0 {
		c.CRM.RequestTimeout = 10 * time.Second
	}

	if c.Session.IdleTimeout <= 0 {
		c.Session.IdleTimeout = 2 * time.Hour
	}
	if c.Session.SweepInterval <= 0 {
		c.Session.SweepInterval = time.Minute
	}
	if c.Session.SweepInterval > c.Session.IdleTimeout {
		errs = append(errs, errors.New("SESSION_SWEEP_INTERVAL must not exceed SESSION_IDLE_TIMEOUT"))
	}

	if c.Dispatch.MaxAttempts <= 0 {
		c.Dispatch.MaxAttempts = 5
	}
	if c.Dispatch.InitialBackoff <= 0 {
		c.Dispatch.InitialBackoff = time.Second
	}
	if c.Dispatch.MaxBackoff <= 0 {
		c.Dispatch.MaxBackoff = time.Minute
	}
	if c.Dispatch.MaxBackoff < c.Dispatch.InitialBackoff {
		errs = append(errs, errors.New("DISPATCH_MAX_BACKOFF must be >= DISPATCH_INITIAL_BACKOFF"))
	}
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = 256
	}

	if c.RoutingPath == "" {
		errs = append(errs, errors.New("ROUTING_CONFIG is required"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) AMIAddr() string {
	return fmt.Sprintf("%s:%d", c.AMI.Host, c.AMI.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
