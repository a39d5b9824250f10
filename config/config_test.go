package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldproof-backend/core/fieldwork"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, "memory", c.StoreDriver)
	assert.Equal(t, "mock", c.EscrowProvider)
	assert.Equal(t, 30*time.Second, c.SweepInterval)
	assert.Equal(t, "http://localhost:8080", c.PublicBaseURL)
	assert.Empty(t, c.Jurors)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("JURORS", "jur-a, jur-b,,jur-c")
	t.Setenv("SWEEP_INTERVAL_SEC", "5")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("AUTH_MODE", "jwt")
	t.Setenv("JWT_SECRET", "s3cret")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"jur-a", "jur-b", "jur-c"}, c.Jurors)
	assert.Equal(t, 5*time.Second, c.SweepInterval)
	assert.InDelta(t, 2.5, c.RateLimitRPS, 1e-9)
	assert.Equal(t, "http://localhost:9090", c.PublicBaseURL)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ESCROW_PROVIDER=http\nESCROW_API_BASE=http://custody.test\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("ESCROW_PROVIDER")
		os.Unsetenv("ESCROW_API_BASE")
	})

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http", c.EscrowProvider)
	assert.Equal(t, "http://custody.test", c.EscrowAPIBase)
}

func TestValidateRejectsBadCombinations(t *testing.T) {
	t.Chdir(t.TempDir())
	for k, v := range map[string]string{
		"STORE_DRIVER":       "mongo",
		"SWEEP_INTERVAL_SEC": "abc",
	} {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			_, err := Load()
			assert.Error(t, err)
		})
	}

	t.Run("jwt without secret", func(t *testing.T) {
		t.Setenv("AUTH_MODE", "jwt")
		_, err := Load()
		assert.ErrorContains(t, err, "JWT_SECRET")
	})
	t.Run("s3 without bucket", func(t *testing.T) {
		t.Setenv("STORAGE_PROVIDER", "s3")
		_, err := Load()
		assert.ErrorContains(t, err, "S3_BUCKET")
	})
}

func TestLoadPolicy(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, fieldwork.DefaultPolicy(), p)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
claim_window: 2h
jury_quorum: 5
tie_policy: split
check_weights:
  gps_in_radius: 40
`), 0o600))
	p, err = LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, p.ClaimWindow)
	assert.Equal(t, 5, p.JuryQuorum)
	assert.Equal(t, fieldwork.TieSplitEven, p.TiePolicy)
	assert.Equal(t, 40, p.CheckWeights.GPSInRadius)
	assert.Equal(t, 20, p.CheckWeights.EXIFValid, "unset keys keep their defaults")
	assert.Equal(t, 24*time.Hour, p.RejectGrace)

	require.NoError(t, os.WriteFile(path, []byte("tier1_high_threshold: 10\ntier1_low_threshold: 50\n"), 0o600))
	_, err = LoadPolicy(path)
	assert.ErrorIs(t, err, fieldwork.ErrInvalidInput)
}
