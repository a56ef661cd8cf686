package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_NAME", "komemarche")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "Asia/Tokyo", cfg.Reservation.Timezone)
	assert.Equal(t, 50, cfg.Reservation.MaxOrderKg)
	assert.Equal(t, int64(300), cfg.Reservation.ServiceFeeYen)
	assert.Equal(t, 3*time.Hour, cfg.Reservation.Cutoff)
	assert.Equal(t, time.Duration(0), cfg.Reservation.CancelGrace)
	assert.False(t, cfg.Reservation.CancelUseGrace)
	assert.Empty(t, cfg.AdminUIDs)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_ORDER_KG", "30")
	t.Setenv("CANCEL_GRACE", "1h")
	t.Setenv("CANCEL_USE_GRACE", "true")
	t.Setenv("ADMIN_UIDS", "admin-1, ,admin-2")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "10s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Reservation.MaxOrderKg)
	assert.Equal(t, time.Hour, cfg.Reservation.CancelGrace)
	assert.True(t, cfg.Reservation.CancelUseGrace)
	assert.Equal(t, []string{"admin-1", "admin-2"}, cfg.AdminUIDs)
	assert.True(t, cfg.IsAdmin("admin-2"))
	assert.False(t, cfg.IsAdmin("someone"))
	assert.Equal(t, 50*time.Second, cfg.RateLimit.TTL)
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_NAME", "")
	require.NoError(t, os.Unsetenv("DB_NAME"))
	_, err := Load()
	assert.Error(t, err)
}
