package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.Server.Addr)
	assert.Equal(t, "https://dev.abdm.gov.in", cfg.ABDM.BaseURL)
	assert.Equal(t, "https://abhasbx.abdm.gov.in", cfg.ABDM.ABHABaseURL)
	assert.Equal(t, "sbx", cfg.ABDM.CMID)
	assert.Equal(t, 15*time.Second, cfg.ABDM.Timeout)
	assert.Equal(t, 5, cfg.RateLimit.OTPLimit)
	assert.Equal(t, 10*time.Minute, cfg.RateLimit.OTPWindow)
	assert.True(t, cfg.ABDM.UserCallsAttachServiceToken)
	assert.False(t, cfg.ABDM.HasCredentials())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("CLIENT_ID", "legacy-id")
	t.Setenv("ABDM_CLIENT_SECRET", "secret")
	t.Setenv("ABDM_TIMEOUT", "2500")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("OTP_RATE_WINDOW", "1m")
	t.Setenv("ABDM_USER_CALLS_ATTACH_SERVICE_TOKEN", "false")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.Server.Addr)
	assert.Equal(t, "legacy-id", cfg.ABDM.ClientID)
	assert.True(t, cfg.ABDM.HasCredentials())
	assert.Equal(t, 2500*time.Millisecond, cfg.ABDM.Timeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Audit.Brokers)
	assert.Equal(t, time.Minute, cfg.RateLimit.OTPWindow)
	assert.False(t, cfg.ABDM.UserCallsAttachServiceToken)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.Server.TrustedProxies)
}

func TestLoad_PrefixedCredentialsWin(t *testing.T) {
	t.Setenv("CLIENT_ID", "legacy-id")
	t.Setenv("ABDM_CLIENT_ID", "new-id")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "new-id", cfg.ABDM.ClientID)
}

func TestLoad_YAMLFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "healthid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
abdm:
  cmID: "abdm"
  timeout: 30s
rateLimit:
  otpLimit: 3
logLevel: debug
`), 0o600))
	t.Setenv("HEALTHID_CONFIG_FILE", path)
	t.Setenv("OTP_RATE_LIMIT", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "abdm", cfg.ABDM.CMID)
	assert.Equal(t, 30*time.Second, cfg.ABDM.Timeout)
	assert.Equal(t, 7, cfg.RateLimit.OTPLimit)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://dev.abdm.gov.in", cfg.ABDM.BaseURL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"bad timeout":     {"ABDM_TIMEOUT": "soon"},
		"bad base url":    {"ABHA_BASE_URL": "abhasbx"},
		"bad log level":   {"LOG_LEVEL": "verbose"},
		"zero rate limit": {"OTP_RATE_LIMIT": "0"},
		"bad bool":        {"RATE_LIMIT_DISABLED": "maybe"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("HEALTHID_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_SecretFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client-secret")
	require.NoError(t, os.WriteFile(path, []byte("mounted-secret\n"), 0o600))
	t.Setenv("ABDM_CLIENT_ID", "id")
	t.Setenv("ABDM_CLIENT_SECRET", "env-secret")
	t.Setenv("ABDM_CLIENT_SECRET_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mounted-secret", cfg.ABDM.ClientSecret)

	t.Setenv("ABDM_CLIENT_SECRET_FILE", filepath.Join(t.TempDir(), "missing"))
	_, err = Load()
	assert.Error(t, err)
}
