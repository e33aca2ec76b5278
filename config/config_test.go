// clipforge/config/config_test.go
package config_test // Use an external test package

import (
	"testing"
	"time"

	"clipforge/config" // Import the package we are testing

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	t.Run("loads default values correctly", func(t *testing.T) {
		// Ensure no env vars are lingering from other tests
		t.Setenv("CLIPFORGE_PORT", "")
		t.Setenv("CLIPFORGE_AUTH_ENABLE", "")
		t.Setenv("CLIPFORGE_API_DELAY", "")
		t.Setenv("CLIPFORGE_THROTTLE_FREEMEM", "")
		t.Setenv("CLIPFORGE_UPLOAD_MAX_RETRIES", "")

		cfg, err := config.Load()
		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, false, cfg.AuthEnable)
		assert.Equal(t, "data", cfg.DataDir)
		assert.Equal(t, "storage/videos", cfg.VideoRoot)
		assert.Equal(t, 20*time.Minute, cfg.RenderTimeout)
		assert.Equal(t, 1*time.Second, cfg.APIDelay)
		assert.Equal(t, 12*time.Second, cfg.ImageThinkTime)
		assert.Equal(t, 5, cfg.BackoffRetries)
		assert.Equal(t, 3, cfg.UploadMaxRetries)
		assert.Equal(t, 30*time.Second, cfg.UploadRetryDelay)
		assert.Equal(t, int64(200*1024*1024), cfg.ThrottleFreeMem)
	})

	t.Run("overrides defaults with environment variables", func(t *testing.T) {
		t.Setenv("CLIPFORGE_PORT", "9999")
		t.Setenv("CLIPFORGE_AUTH_ENABLE", "true")
		t.Setenv("CLIPFORGE_AUTH_KEY", "newsecret")
		t.Setenv("CLIPFORGE_API_DELAY", "250ms")
		t.Setenv("CLIPFORGE_THROTTLE_FREEMEM", "50MB")
		t.Setenv("CLIPFORGE_UPLOAD_MAX_RETRIES", "7")

		cfg, err := config.Load()
		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "9999", cfg.Port)
		assert.Equal(t, true, cfg.AuthEnable)
		assert.Equal(t, "newsecret", cfg.AuthKey)
		assert.Equal(t, 250*time.Millisecond, cfg.APIDelay)
		assert.Equal(t, int64(50*1024*1024), cfg.ThrottleFreeMem)
		assert.Equal(t, 7, cfg.UploadMaxRetries)
	})
}
