package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("ENCRYPTION_KEY", "")
	t.Setenv("TRACKING_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "local", cfg.Storage.Provider)
	assert.NotEmpty(t, cfg.JWT.Secret)
	assert.Equal(t, cfg.JWT.Secret, cfg.Tracking.Secret)
	assert.Equal(t, cfg.JWT.Secret, cfg.Crypto.EncryptionKey)
	assert.Equal(t, 500, cfg.Campaign.BatchSize)
	assert.Equal(t, 15*time.Minute, cfg.Campaign.StuckThreshold)
	assert.Same(t, cfg, GetConfig())
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_ParsesOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ENCRYPTION_KEY", "k3y")
	t.Setenv("TRACKING_SECRET", "")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_HOST", "0.0.0.0")
	t.Setenv("CAMPAIGN_BATCH_DELAY", "750ms")
	t.Setenv("TRACKING_BASE_URL", "https://t.example.com/")
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("DB_AUTO_MIGRATE", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.Campaign.BatchDelay)
	assert.Equal(t, "https://t.example.com", cfg.Tracking.BaseURL)
	assert.Equal(t, "s3cret", cfg.Tracking.Secret)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.False(t, cfg.Database.AutoMigrate)
	assert.True(t, cfg.IsProduction())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			JWT:      JWTConfig{Secret: "x"},
			Crypto:   CryptoConfig{EncryptionKey: "y"},
			Storage:  StorageConfig{Provider: "local"},
			Campaign: CampaignConfig{BatchSize: 10, StuckThreshold: time.Minute},
		}
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Storage.Provider = "s3"
	assert.ErrorContains(t, cfg.Validate(), "S3_BUCKET")

	cfg = valid()
	cfg.Storage.Provider = "ftp"
	assert.ErrorContains(t, cfg.Validate(), "unknown storage provider")

	cfg = valid()
	cfg.Campaign.BatchSize = 0
	assert.ErrorContains(t, cfg.Validate(), "CAMPAIGN_BATCH_SIZE")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"JWT": {"Secret": "file-secret"},
		"Crypto": {"EncryptionKey": "file-key"},
		"Storage": {"Provider": "local"},
		"Redis": {"Addr": "redis:6379"},
		"Campaign": {"BatchSize": 50, "StuckThreshold": 60000000000}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Minute, cfg.Campaign.StuckThreshold)
}
