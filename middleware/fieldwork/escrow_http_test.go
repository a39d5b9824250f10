package fieldwork

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldproof-backend/core/fieldwork"
)

func TestHTTPEscrowProvider(t *testing.T) {
	var idemKeys []string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /escrows", func(w http.ResponseWriter, r *http.Request) {
		idemKeys = append(idemKeys, r.Header.Get("Idempotency-Key"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "task-1", body["task_id"])
		_ = json.NewEncoder(w).Encode(map[string]string{"reference": "esc-1", "status": "pending"})
	})
	mux.HandleFunc("GET /escrows/esc-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"reference": "esc-1", "status": "funded"})
	})
	mux.HandleFunc("POST /escrows/esc-1/lock", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("POST /escrows/esc-1/release", func(w http.ResponseWriter, r *http.Request) {
		idemKeys = append(idemKeys, r.Header.Get("Idempotency-Key"))
		_ = json.NewEncoder(w).Encode(map[string]string{"reference": "tx-9", "status": "confirmed"})
	})
	mux.HandleFunc("POST /escrows/esc-1/refund", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"reason": "wallet frozen"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewEscrowProvider("http", srv.URL)
	assert.Equal(t, "http", p.Name())
	ctx := t.Context()

	rec, err := p.Fund(ctx, "task-1", fieldwork.Money{Amount: 10, Currency: "USDC"})
	require.NoError(t, err)
	assert.Equal(t, FundingReceipt{Reference: "esc-1"}, rec)

	ok, err := p.FundingConfirmed(ctx, "esc-1")
	require.NoError(t, err)
	assert.True(t, ok)

	err = p.Lock(ctx, "esc-1")
	assert.ErrorIs(t, err, fieldwork.ErrProviderUnavailable)

	line := fieldwork.SettlementLine{Kind: fieldwork.SettleRelease, To: "w", Amount: 9, IdempotencyKey: "task-1:release"}
	lr, err := p.Release(ctx, "esc-1", line)
	require.NoError(t, err)
	assert.Equal(t, LineReceipt{Reference: "tx-9", Confirmed: true}, lr)

	line.Kind = fieldwork.SettleRefund
	_, err = p.Refund(ctx, "esc-1", line)
	assert.ErrorIs(t, err, fieldwork.ErrProviderRejected)
	assert.Contains(t, err.Error(), "wallet frozen")

	assert.Equal(t, []string{"task-1:fund", "task-1:release"}, idemKeys)
}

func TestHTTPEscrowProviderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPEscrowProvider(url).Fund(t.Context(), "task-1", fieldwork.Money{Amount: 1, Currency: "USDC"})
	assert.ErrorIs(t, err, fieldwork.ErrProviderUnavailable)
}

func TestMockEscrowFailNext(t *testing.T) {
	m := NewMockEscrowProvider()
	ctx := t.Context()
	m.FailNext("fund", fieldwork.ErrProviderUnavailable)
	_, err := m.Fund(ctx, "task-1", fieldwork.Money{Amount: 5, Currency: "USDC"})
	assert.ErrorIs(t, err, fieldwork.ErrProviderUnavailable)

	rec, err := m.Fund(ctx, "task-1", fieldwork.Money{Amount: 5, Currency: "USDC"})
	require.NoError(t, err)
	assert.True(t, rec.Confirmed)
	again, err := m.Fund(ctx, "task-1", fieldwork.Money{Amount: 5, Currency: "USDC"})
	require.NoError(t, err)
	assert.Equal(t, rec.Reference, again.Reference, "funding is idempotent per task")

	line := fieldwork.SettlementLine{Kind: fieldwork.SettleRelease, To: "w", Amount: 4, IdempotencyKey: "task-1:release:w"}
	for i := 0; i < 3; i++ {
		lr, err := m.Release(ctx, rec.Reference, line)
		require.NoError(t, err)
		assert.True(t, lr.Confirmed)
	}
	assert.Equal(t, int64(4), m.Paid("w"), "replays pay once")
}
