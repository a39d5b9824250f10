package container

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldproof-backend/config"
	"fieldproof-backend/core/fieldwork"
)

func baseConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	return config.Config{
		AppEnv:          "test",
		StoreDriver:     "memory",
		LedgerDriver:    "sqlite",
		LedgerDSN:       filepath.Join(dir, "ledger.db"),
		EscrowProvider:  "mock",
		StorageProvider: "local",
		StorageDir:      filepath.Join(dir, "uploads"),
		PublicBaseURL:   "http://localhost:8080",
		AuthMode:        "header",
		Jurors:          []string{"jur-a", "jur-b", "jur-c"},
		SweepInterval:   time.Second,
		RateLimitRPS:    10,
		RateLimitBurst:  10,
	}
}

func TestNewWiresInMemoryStack(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, baseConfig(t), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close(ctx)) })

	assert.NotNil(t, c.Ledger)
	assert.Nil(t, c.Lock)
	assert.NotNil(t, c.ObjectsFS, "local storage serves its own signed URLs")
	assert.Equal(t, fieldwork.DefaultPolicy(), c.Engine.Policy())

	agg, err := c.Engine.CreateTask(ctx, fieldwork.Actor{ID: "req-1", Role: fieldwork.RoleRequester}, fieldwork.NewTaskInput{
		Title:        "Shop front",
		Template:     fieldwork.Template{Kind: "photo", Version: "1.0.0"},
		Requirements: []byte(`{"resolution":{"min_width":800,"min_height":600},"gps_required":true,"count":1}`),
		Location:     fieldwork.GeoFence{Lat: 1, Lon: 2, RadiusM: 50},
		Window:       fieldwork.TimeWindow{Start: time.Now().UTC(), End: time.Now().UTC().Add(24 * time.Hour)},
		Bounty:       fieldwork.Money{Amount: 1_000_000, Currency: "USDC"},
	})
	require.NoError(t, err)
	assert.Equal(t, fieldwork.TaskDraft, agg.Task.Status)

	rep, ran, err := c.Sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Zero(t, rep.Failed)
}

func TestNewFailsOnBadPolicyFile(t *testing.T) {
	cfg := baseConfig(t)
	cfg.PolicyFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "load policy")
}
