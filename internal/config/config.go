package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the softphone process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	Softphone SoftphoneConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Twilio    TwilioConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type SoftphoneConfig struct {
	// TokenURL is the call token endpoint, queried as ?identity=<identity>.
	TokenURL string
	// GatewayURL is the ws(s) voice gateway the device connects to.
	GatewayURL string
	Edge       string
	// Codecs is the preference order, e.g. "opus,pcmu".
	Codecs      []string
	PresenceTTL time.Duration
	LeaseTTL    time.Duration
}

// DBConfig is optional outside production; without DB_HOST the call journal
// is kept in memory.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional outside production; without REDIS_HOST presence is
// not published and device leases are process-local.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type TwilioConfig struct {
	// AuthToken signs voice webhooks. Empty disables signature checks outside
	// production.
	AuthToken string
	// CallerID is presented on outbound calls.
	CallerID string
	// WebhookURL is the public URL of the voice webhook when the process runs
	// behind a proxy that rewrites the host.
	WebhookURL string
	// InboundRoutes maps a dialed number to the agent identity it rings,
	// from "+15550001111=agent-1,+15550002222=agent-2".
	InboundRoutes map[string]string
}

const (
	defaultEdge        = "ashburn"
	defaultCodecs      = "opus,pcmu"
	defaultPresenceTTL = 2 * time.Minute
	defaultLeaseTTL    = time.Minute
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Softphone.TokenURL = strings.TrimSpace(os.Getenv("SOFTPHONE_TOKEN_URL"))
	c.Softphone.GatewayURL = strings.TrimSpace(os.Getenv("VOICE_GATEWAY_URL"))
	c.Softphone.Edge = strings.TrimSpace(os.Getenv("SOFTPHONE_EDGE"))
	c.Softphone.Codecs = splitList(os.Getenv("SOFTPHONE_CODECS"))
	c.Softphone.PresenceTTL = mustDuration("SOFTPHONE_PRESENCE_TTL")
	c.Softphone.LeaseTTL = mustDuration("SOFTPHONE_LEASE_TTL")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	if c.DB.Host != "" {
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("REDIS_DB")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")

	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.CallerID = strings.TrimSpace(os.Getenv("TWILIO_CALLER_ID"))
	c.Twilio.WebhookURL = strings.TrimSpace(os.Getenv("TWILIO_WEBHOOK_URL"))
	{
		routes, err := parseRoutes(os.Getenv("TWILIO_INBOUND_ROUTES"))
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Twilio.InboundRoutes = routes
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks c and fills defaults in place.
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

	errs = append(errs, c.validateSoftphone()...)
	errs = append(errs, c.validateStores()...)

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
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		// Agents keep the phone open for a shift.
		c.Auth.AccessTokenTTL = 12 * time.Hour
	}

	return joinErrors(errs)
}

func (c *Config) validateSoftphone() []error {
	var errs []error
	s := &c.Softphone

	if s.TokenURL == "" {
		errs = append(errs, errors.New("SOFTPHONE_TOKEN_URL is required"))
	} else if !hasScheme(s.TokenURL, "http", "https") {
		errs = append(errs, fmt.Errorf("SOFTPHONE_TOKEN_URL must be an http(s) url, got %q", s.TokenURL))
	}
	if s.GatewayURL == "" {
		errs = append(errs, errors.New("VOICE_GATEWAY_URL is required"))
	} else if !hasScheme(s.GatewayURL, "ws", "wss") {
		errs = append(errs, fmt.Errorf("VOICE_GATEWAY_URL must be a ws(s) url, got %q", s.GatewayURL))
	}

	if s.Edge == "" {
		s.Edge = defaultEdge
	}
	if len(s.Codecs) == 0 {
		s.Codecs = splitList(defaultCodecs)
	}
	for _, codec := range s.Codecs {
		if !isValidCodec(codec) {
			errs = append(errs, fmt.Errorf("SOFTPHONE_CODECS must list opus or pcmu, got %q", codec))
		}
	}
	if s.PresenceTTL <= 0 {
		s.PresenceTTL = defaultPresenceTTL
	}
	if s.LeaseTTL <= 0 {
		s.LeaseTTL = defaultLeaseTTL
	}
	return errs
}

func (c *Config) validateStores() []error {
	var errs []error

	if c.HasDB() {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	} else if c.IsProduction() {
		errs = append(errs, errors.New("DB_HOST is required in production"))
	}

	if c.HasRedis() {
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	} else if c.IsProduction() {
		errs = append(errs, errors.New("REDIS_HOST is required in production"))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HasDB() bool    { return c.DB.Host != "" }
func (c Config) HasRedis() bool { return c.Redis.Host != "" }

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
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
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

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseRoutes(v string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		number, agent, ok := strings.Cut(pair, "=")
		number, agent = strings.TrimSpace(number), strings.TrimSpace(agent)
		if !ok || number == "" || agent == "" {
			return nil, fmt.Errorf("TWILIO_INBOUND_ROUTES entries must be number=identity, got %q", pair)
		}
		out[number] = agent
	}
	return out, nil
}

func hasScheme(raw string, schemes ...string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return true
		}
	}
	return false
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidCodec(v string) bool {
	switch v {
	case "opus", "pcmu":
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
