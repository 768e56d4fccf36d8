// Package config loads gateway configuration.
//
// Sources are applied in order, later ones winning: built-in defaults, an
// optional YAML file (HEALTHID_CONFIG_FILE), a .env file, then the process
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete gateway configuration.
type Config struct {
	Server    Server      `yaml:"server"`
	ABDM      ABDM        `yaml:"abdm"`
	Redis     RedisConfig `yaml:"redis"`
	Audit     Audit       `yaml:"audit"`
	RateLimit RateLimit   `yaml:"rateLimit"`
	LogLevel  string      `yaml:"logLevel"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	// TrustedProxies lists the CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `yaml:"trustedProxies"`
}

// ABDM configures access to the identity authority.
type ABDM struct {
	// BaseURL hosts the gateway session endpoint.
	BaseURL string `yaml:"baseURL"`
	// ABHABaseURL hosts enrollment, login, profile and search endpoints.
	ABHABaseURL  string        `yaml:"abhaBaseURL"`
	ClientID     string        `yaml:"clientID"`
	ClientSecret string        `yaml:"clientSecret"`
	CMID         string        `yaml:"cmID"`
	Timeout      time.Duration `yaml:"timeout"`
	// PublicKey is a PEM block or base64 DER; PublicKeyPath points at a PEM file.
	PublicKey     string `yaml:"publicKey"`
	PublicKeyPath string `yaml:"publicKeyPath"`
	// UserCallsAttachServiceToken also sends the service bearer on calls made
	// with an end-user token.
	UserCallsAttachServiceToken bool `yaml:"userCallsAttachServiceToken"`
}

// RedisConfig configures the optional Redis connection.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"poolSize"`
	MinIdleConns int           `yaml:"minIdleConns"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// Audit configures the audit event stream.
type Audit struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// RateLimit configures per-client limits on OTP-issuing routes.
type RateLimit struct {
	Disabled  bool          `yaml:"disabled"`
	OTPLimit  int           `yaml:"otpLimit"`
	OTPWindow time.Duration `yaml:"otpWindow"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: Server{Addr: ":5000"},
		ABDM: ABDM{
			BaseURL:     "https://dev.abdm.gov.in",
			ABHABaseURL: "https://abhasbx.abdm.gov.in",
			CMID:        "sbx",
			Timeout:     15 * time.Second,

			UserCallsAttachServiceToken: true,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Audit: Audit{Topic: "healthid.audit"},
		RateLimit: RateLimit{
			OTPLimit:  5,
			OTPWindow: 10 * time.Minute,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from all sources and validates it.
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("HEALTHID_CONFIG_FILE")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}
	c.Server.Addr = getEnv("HEALTHID_ADDR", c.Server.Addr)
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = splitList(origins)
	}
	if proxies := os.Getenv("TRUSTED_PROXIES"); proxies != "" {
		c.Server.TrustedProxies = splitList(proxies)
	}

	c.ABDM.BaseURL = getEnv("ABDM_BASE_URL", c.ABDM.BaseURL)
	c.ABDM.ABHABaseURL = getEnv("ABHA_BASE_URL", c.ABDM.ABHABaseURL)
	c.ABDM.ClientID = getEnv("ABDM_CLIENT_ID", getEnv("CLIENT_ID", c.ABDM.ClientID))
	secret, err := getSecret("ABDM_CLIENT_SECRET", getEnv("CLIENT_SECRET", c.ABDM.ClientSecret))
	if err != nil {
		return err
	}
	c.ABDM.ClientSecret = secret
	c.ABDM.CMID = getEnv("X_CM_ID", c.ABDM.CMID)
	c.ABDM.PublicKey = getEnv("PUBLIC_KEY", c.ABDM.PublicKey)
	c.ABDM.PublicKeyPath = getEnv("PUBLIC_KEY_PATH", c.ABDM.PublicKeyPath)

	if c.ABDM.Timeout, err = getDuration("ABDM_TIMEOUT", c.ABDM.Timeout); err != nil {
		return err
	}
	if c.ABDM.UserCallsAttachServiceToken, err = getBool("ABDM_USER_CALLS_ATTACH_SERVICE_TOKEN", c.ABDM.UserCallsAttachServiceToken); err != nil {
		return err
	}

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Audit.Brokers = splitList(brokers)
	}
	c.Audit.Topic = getEnv("AUDIT_TOPIC", c.Audit.Topic)

	if c.RateLimit.Disabled, err = getBool("RATE_LIMIT_DISABLED", c.RateLimit.Disabled); err != nil {
		return err
	}
	if c.RateLimit.OTPLimit, err = getInt("OTP_RATE_LIMIT", c.RateLimit.OTPLimit); err != nil {
		return err
	}
	if c.RateLimit.OTPWindow, err = getDuration("OTP_RATE_WINDOW", c.RateLimit.OTPWindow); err != nil {
		return err
	}

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	return nil
}

// Validate checks that the configuration is usable. Missing client
// credentials are not an error here; the credential cache reports them on
// first use.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server address cannot be empty")
	}
	for name, raw := range map[string]string{
		"ABDM_BASE_URL": c.ABDM.BaseURL,
		"ABHA_BASE_URL": c.ABDM.ABHABaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	if c.ABDM.Timeout <= 0 {
		return errors.New("ABDM_TIMEOUT must be positive")
	}
	if c.ABDM.CMID == "" {
		return errors.New("X_CM_ID cannot be empty")
	}
	if !c.RateLimit.Disabled {
		if c.RateLimit.OTPLimit <= 0 {
			return errors.New("OTP_RATE_LIMIT must be positive")
		}
		if c.RateLimit.OTPWindow <= 0 {
			return errors.New("OTP_RATE_WINDOW must be positive")
		}
	}
	if len(c.Audit.Brokers) > 0 && c.Audit.Topic == "" {
		return errors.New("AUDIT_TOPIC is required when KAFKA_BROKERS is set")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	return nil
}

// HasCredentials reports whether the client id and secret are configured.
func (a ABDM) HasCredentials() bool {
	return a.ClientID != "" && a.ClientSecret != ""
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getSecret prefers KEY_FILE (a mounted secret) over KEY.
func getSecret(key, defaultValue string) (string, error) {
	if path := strings.TrimSpace(os.Getenv(key + "_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s_FILE: %w", key, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return getEnv(key, defaultValue), nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}
	// Bare integers are milliseconds.
	ms, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %q", key, value)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
