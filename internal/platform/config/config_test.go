package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "trustcert.record-appended", cfg.Kafka.Topic)
	assert.Equal(t, "@every 1m", cfg.Sweeper.Schedule)
	assert.Empty(t, cfg.Database.URL)
	assert.Positive(t, cfg.Oracle.Timeout)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("TRUSTCERT_ADDR", ":9090")
	t.Setenv("TRUSTCERT_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TRUSTCERT_SEAL_KEY", strings.Repeat("ab", 32))

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	key, err := cfg.SealKey()
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, byte(0xab), key[0])
}

func TestValidate(t *testing.T) {
	base := func() Server {
		cfg, err := FromEnv()
		require.NoError(t, err)
		return cfg
	}

	t.Run("production requires a real signing key", func(t *testing.T) {
		cfg := base()
		cfg.Environment = "production"
		assert.ErrorContains(t, cfg.Validate(), "TRUSTCERT_JWT_SIGNING_KEY")
	})

	t.Run("database requires a seal key", func(t *testing.T) {
		cfg := base()
		cfg.Database.URL = "postgres://localhost/trustcert"
		assert.ErrorContains(t, cfg.Validate(), "TRUSTCERT_SEAL_KEY")
	})

	t.Run("seal key must be 32 bytes", func(t *testing.T) {
		cfg := base()
		cfg.SealKeyHex = "abcd"
		assert.ErrorContains(t, cfg.Validate(), "want 32 bytes")
	})
}
