package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	path := writeConfig(t, "jwt:\n  secret: test-secret\n")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Database.QueryTimeout)
	assert.Equal(t, 3*time.Second, cfg.AWS.KVTimeout)
	assert.Equal(t, "device-readings", cfg.Kafka.Topic)
	assert.Equal(t, "dev", cfg.Env.Environment)
	assert.Equal(t, "dev-user-phi", cfg.PHITable())
	assert.Equal(t, "dev-user-phi-history", cfg.PHIHistoryTable())
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  host: file-host
  user: file-user
  name: file-db
jwt:
  secret: test-secret
`)
	t.Setenv("DB_HOST", "env-host")
	t.Setenv("UNAME", "env-user")
	t.Setenv("DB_MLPREP", "mlprep")
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("MAX_LOGIN_ATTEMPTS", "7")
	t.Setenv("SMS_ENABLED", "true")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "env-host", cfg.Database.Host)
	assert.Equal(t, "env-user", cfg.Database.User)
	assert.Equal(t, "mlprep", cfg.Database.Name)
	assert.Equal(t, 7, cfg.Env.MaxLoginAttempts)
	assert.True(t, cfg.Env.SMSEnabled)
	assert.Equal(t, "prod-user-phi", cfg.PHITable())
}

func TestUserPoolDerivesJWKS(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv("USER_POOL_ID", "us-east-1_abc")
	t.Setenv("AWSREGION", "us-east-1")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_abc/.well-known/jwks.json", cfg.JWT.JWKSURL)
}

func TestValidateRequiresVerifier(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "caregem", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=caregem sslmode=disable", d.DSN())
}
