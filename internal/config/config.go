package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process and crmctl.
// All values come from env (or an env-file loaded by the process runner).
// No business logic should read raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Telephony TelephonyConfig
	Dialer    DialerConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

const (
	ProviderTwilio    = "twilio"
	ProviderSimulated = "simulated"
)

type TelephonyConfig struct {
	// Provider selects the carrier adapter: twilio or simulated.
	Provider string

	TwilioAccountSID string
	TwilioAuthToken  string
	// TwilioBaseURL is overridable for tests; defaults to the public API.
	TwilioBaseURL string

	// FromNumber is used when a campaign has no caller id of its own.
	FromNumber string

	// StatusCallbackURL is the public URL of /webhooks/twilio/status.
	StatusCallbackURL string

	// ConnectTemplate is the bridge target for the answered leg.
	// "{agent}" is replaced by the agent id, e.g. "client:{agent}" or "sip:{agent}@pbx.local".
	ConnectTemplate string

	RequestTimeout time.Duration
}

type DialerConfig struct {
	// DispositionsFile optionally overrides the built-in disposition table (YAML).
	DispositionsFile string

	// MaxLinesPerCampaign caps concurrent live calls per campaign across agents.
	// Zero disables the cap.
	MaxLinesPerCampaign int
	LineTTL             time.Duration

	// SIDRetention keeps finalized SID index entries around for late provider callbacks.
	SIDRetention time.Duration

	// AutoDisposition finalizes calls the provider reports as never connected.
	AutoDisposition bool
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

	c.Auth = authFromEnv()

	c.Telephony.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("TELEPHONY_PROVIDER")))
	c.Telephony.TwilioAccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Telephony.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Telephony.TwilioBaseURL = strings.TrimSpace(os.Getenv("TWILIO_BASE_URL"))
	c.Telephony.FromNumber = strings.TrimSpace(os.Getenv("TELEPHONY_FROM_NUMBER"))
	c.Telephony.StatusCallbackURL = strings.TrimSpace(os.Getenv("TELEPHONY_STATUS_CALLBACK_URL"))
	c.Telephony.ConnectTemplate = strings.TrimSpace(os.Getenv("TELEPHONY_CONNECT_TEMPLATE"))
	c.Telephony.RequestTimeout = mustDuration("TELEPHONY_REQUEST_TIMEOUT")

	c.Dialer.DispositionsFile = strings.TrimSpace(os.Getenv("DIALER_DISPOSITIONS_FILE"))
	{
		n, err := optionalInt("DIALER_MAX_LINES_PER_CAMPAIGN")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Dialer.MaxLinesPerCampaign = n
	}
	c.Dialer.LineTTL = mustDuration("DIALER_LINE_TTL")
	c.Dialer.SIDRetention = mustDuration("DIALER_SID_RETENTION")
	{
		b, err := optionalBool("DIALER_AUTO_DISPOSITION", true)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Dialer.AutoDisposition = b
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the config and fills defaults for optional values.
// It has a pointer receiver because defaults are written back.
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

	errs = append(errs, c.Auth.validate(c.IsProduction())...)
	errs = append(errs, c.Telephony.validate(c.IsProduction())...)
	errs = append(errs, c.Dialer.validate()...)

	return joinErrors(errs)
}

func authFromEnv() AuthConfig {
	return AuthConfig{
		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTIssuer:       strings.TrimSpace(os.Getenv("JWT_ISSUER")),
		JWTAudience:     strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
		AccessTokenTTL:  mustDuration("JWT_ACCESS_TTL"),
		RefreshTokenTTL: mustDuration("JWT_REFRESH_TTL"),
	}
}

// LoadAuth reads only the JWT settings. crmctl uses it so issuing a token
// does not need database or telephony configuration.
func LoadAuth() (AuthConfig, error) {
	a := authFromEnv()
	production := strings.TrimSpace(os.Getenv("APP_ENV")) == "production"
	if err := joinErrors(a.validate(production)); err != nil {
		return AuthConfig{}, err
	}
	return a, nil
}

func (a *AuthConfig) validate(production bool) []error {
	var errs []error
	if a.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if production {
		if a.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if a.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if a.AccessTokenTTL <= 0 {
		a.AccessTokenTTL = 15 * time.Minute
	}
	if a.RefreshTokenTTL <= 0 {
		a.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if a.RefreshTokenTTL <= a.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}
	return errs
}

func (t *TelephonyConfig) validate(production bool) []error {
	var errs []error
	if t.Provider == "" {
		if production {
			errs = append(errs, errors.New("TELEPHONY_PROVIDER is required in production"))
		} else {
			t.Provider = ProviderSimulated
		}
	}
	switch t.Provider {
	case ProviderTwilio:
		if t.TwilioAccountSID == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required for the twilio provider"))
		}
		if t.TwilioAuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required for the twilio provider"))
		}
		if t.FromNumber == "" {
			errs = append(errs, errors.New("TELEPHONY_FROM_NUMBER is required for the twilio provider"))
		}
	case ProviderSimulated:
		if production {
			errs = append(errs, errors.New("TELEPHONY_PROVIDER=simulated is not allowed in production"))
		}
	case "":
	default:
		errs = append(errs, fmt.Errorf("TELEPHONY_PROVIDER must be one of twilio, simulated, got %q", t.Provider))
	}
	if t.RequestTimeout <= 0 {
		t.RequestTimeout = 10 * time.Second
	}
	if t.ConnectTemplate == "" {
		t.ConnectTemplate = "client:{agent}"
	}
	return errs
}

func (d *DialerConfig) validate() []error {
	var errs []error
	if d.MaxLinesPerCampaign < 0 {
		errs = append(errs, fmt.Errorf("DIALER_MAX_LINES_PER_CAMPAIGN must be >= 0, got %d", d.MaxLinesPerCampaign))
	}
	if d.LineTTL <= 0 {
		// Long enough to cover a full conversation; the cap self-heals after a crash.
		d.LineTTL = 2 * time.Hour
	}
	if d.SIDRetention <= 0 {
		d.SIDRetention = 15 * time.Minute
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
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

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
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
