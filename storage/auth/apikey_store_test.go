package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldproof-backend/core/fieldwork"
)

func TestAPIKeyStoreSeedAndLookup(t *testing.T) {
	s := NewAPIKeyStore()
	s.Seed("  ", fieldwork.Actor{ID: "x", Role: fieldwork.RoleWorker}, "", "env")
	assert.Zero(t, s.Len())

	require.NoError(t, s.SeedSpec([]string{"k-agent-1=agent-1:worker:wallet-1", "k-jur=jur-a:juror"}))
	rec, ok := s.Lookup("k-agent-1")
	require.True(t, ok)
	assert.Equal(t, fieldwork.Actor{ID: "agent-1", Role: fieldwork.RoleWorker}, rec.Actor)
	assert.Equal(t, "wallet-1", rec.Wallet)

	rec, ok = s.Lookup("k-jur")
	require.True(t, ok)
	assert.Equal(t, fieldwork.RoleJuror, rec.Actor.Role)

	_, ok = s.Lookup("k-missing")
	assert.False(t, ok)
}

func TestAPIKeyStoreSeedSpecRejectsMalformed(t *testing.T) {
	for _, spec := range []string{
		"nokey",
		"=agent:worker",
		"secretkey=agent",
		"secretkey=:worker",
		"secretkey=agent:requester",
		"secretkey=a:worker:w:extra",
	} {
		err := NewAPIKeyStore().SeedSpec([]string{spec})
		if assert.Error(t, err, spec) {
			assert.NotContains(t, err.Error(), "secretkey")
		}
	}
}

func TestAPIKeyStoreIssueAndUpdateWallet(t *testing.T) {
	s := NewAPIKeyStore()
	rec, err := s.Issue(fieldwork.Actor{ID: "agent-2", Role: fieldwork.RoleWorker}, "")
	require.NoError(t, err)
	assert.Len(t, rec.Key, 64)

	updated, err := s.UpdateWallet(rec.Key, " wallet-2 ")
	require.NoError(t, err)
	assert.Equal(t, "wallet-2", updated.Wallet)

	_, err = s.UpdateWallet("unknown", "w")
	assert.Error(t, err)
	_, err = s.UpdateWallet(rec.Key, "")
	assert.Error(t, err)
}
