package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldproof-backend/core/fieldwork"
	fwengine "fieldproof-backend/middleware/fieldwork"
	"fieldproof-backend/storage/auth"
	fwstore "fieldproof-backend/storage/fieldwork"
)

var (
	t0        = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	requester = fieldwork.Actor{ID: "req-1", Role: fieldwork.RoleRequester}
	agent     = fieldwork.Actor{ID: "agent-1", Role: fieldwork.RoleWorker}
)

func newTestServer(t *testing.T) (*MCPServer, *fwengine.Engine, string) {
	t.Helper()
	engine, err := fwengine.NewEngine(fwengine.Config{
		Store:  fwstore.NewMemoryStore(),
		Escrow: fwengine.NewMockEscrowProvider(),
		Clock:  fieldwork.NewFakeClock(t0.Add(time.Hour)),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	agg, err := engine.CreateTask(ctx, requester, fieldwork.NewTaskInput{
		Title:        "Bus stop timetable",
		Template:     fieldwork.Template{Kind: "photo", Version: "1.0.0"},
		Requirements: []byte(`{"resolution":{"min_width":800,"min_height":600},"gps_required":true,"count":1}`),
		Location:     fieldwork.GeoFence{Lat: 40.4168, Lon: -3.7038, RadiusM: 100},
		Window:       fieldwork.TimeWindow{Start: t0, End: t0.Add(48 * time.Hour)},
		Bounty:       fieldwork.Money{Amount: 5_000_000, Currency: "USDC"},
	})
	require.NoError(t, err)
	_, err = engine.Publish(ctx, requester, agg.Task.TaskID)
	require.NoError(t, err)
	return NewMCPServer(engine, agent, zerolog.Nop()), engine, agg.Task.TaskID
}

func request(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestListAndGetTasks(t *testing.T) {
	s, _, taskID := newTestServer(t)
	ctx := context.Background()

	res, err := s.listTasks(ctx, request(nil))
	require.NoError(t, err)
	var listed struct {
		Tasks      []taskSummary `json:"tasks"`
		TotalCount int           `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &listed))
	require.Equal(t, 1, listed.TotalCount)
	assert.Equal(t, taskID, listed.Tasks[0].TaskID)
	assert.Equal(t, fieldwork.TaskPosted, listed.Tasks[0].Status)

	res, err = s.listTasks(ctx, request(map[string]any{"mine": true}))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &listed))
	assert.Zero(t, listed.TotalCount, "nothing claimed yet")

	res, err = s.getTask(ctx, request(map[string]any{"task_id": taskID}))
	require.NoError(t, err)
	var agg fieldwork.Aggregate
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &agg))
	assert.Equal(t, "Bus stop timetable", agg.Task.Title)

	res, err = s.getTask(ctx, request(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError, "task_id is required")

	_, err = s.getTask(ctx, request(map[string]any{"task_id": "task-missing"}))
	assert.ErrorIs(t, err, fieldwork.ErrNotFound)
}

func TestClaimSubmitAndRelease(t *testing.T) {
	s, engine, taskID := newTestServer(t)
	ctx := context.Background()

	res, err := s.claimTask(ctx, request(map[string]any{"task_id": taskID, "wallet_address": "wallet-agent"}))
	require.NoError(t, err)
	var claim fieldwork.TaskClaim
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &claim))
	assert.Equal(t, agent.ID, claim.WorkerID)
	assert.Equal(t, "wallet-agent", claim.WorkerWallet)

	other := NewMCPServer(engine, fieldwork.Actor{ID: "agent-2", Role: fieldwork.RoleWorker}, zerolog.Nop())
	_, err = other.claimTask(ctx, request(map[string]any{"task_id": taskID}))
	assert.ErrorIs(t, err, fieldwork.ErrNotClaimable)
	assert.Contains(t, resultText(t, toolError(err)), "not_claimable")
	assert.True(t, toolError(err).IsError)

	res, err = s.createSubmission(ctx, request(map[string]any{"task_id": taskID, "claim_id": claim.ClaimID}))
	require.NoError(t, err)
	var sub fieldwork.Submission
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &sub))
	assert.Equal(t, claim.ClaimID, sub.ClaimID)

	_, err = other.releaseClaim(ctx, request(map[string]any{"task_id": taskID, "claim_id": claim.ClaimID}))
	assert.ErrorIs(t, err, fieldwork.ErrNotAuthorized)
}

func TestCastVoteRequiresJuror(t *testing.T) {
	s, _, taskID := newTestServer(t)
	res, err := s.castVote(context.Background(), request(map[string]any{"task_id": taskID, "dispute_id": "dsp-x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError, "vote is required")

	_, err = s.castVote(context.Background(), request(map[string]any{"task_id": taskID, "dispute_id": "dsp-x", "vote": "worker"}))
	assert.Error(t, err)
}

func TestDecodeArgRejectsWrongShape(t *testing.T) {
	var captures []fieldwork.Capture
	err := decodeArg(request(map[string]any{"captures": "not-a-list"}), "captures", &captures)
	assert.ErrorIs(t, err, fieldwork.ErrInvalidInput)

	require.NoError(t, decodeArg(request(map[string]any{"captures": []any{
		map[string]any{"artefact_key": "k1", "has_gps": true, "width": 800, "height": 600},
	}}), "captures", &captures))
	require.Len(t, captures, 1)
	assert.Equal(t, "k1", captures[0].ArtefactKey)
}

func TestAuthWrapResolvesKeyActor(t *testing.T) {
	keys := auth.NewAPIKeyStore()
	keys.Seed("sekret", fieldwork.Actor{ID: "agent-9", Role: fieldwork.RoleWorker}, "wallet-9", "test")

	var seen auth.APIKey
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = apiKeyFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := authWrap(keys, zerolog.Nop(), next)

	for _, tc := range []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "X-API-Key", "nope", http.StatusForbidden},
		{"header", "X-API-Key", "sekret", http.StatusNoContent},
		{"bearer", "Authorization", "Bearer sekret", http.StatusNoContent},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
	assert.Equal(t, "agent-9", seen.Actor.ID)

	rec := httptest.NewRecorder()
	authWrap(nil, zerolog.Nop(), next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code, "no key store configured")
}

func TestToolsRunAsKeyActor(t *testing.T) {
	s, _, taskID := newTestServer(t)
	ctx := withAPIKey(context.Background(), auth.APIKey{
		Key:    "k",
		Actor:  fieldwork.Actor{ID: "agent-9", Role: fieldwork.RoleWorker},
		Wallet: "wallet-9",
	})

	res, err := s.claimTask(ctx, request(map[string]any{"task_id": taskID}))
	require.NoError(t, err)
	var claim fieldwork.TaskClaim
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &claim))
	assert.Equal(t, "agent-9", claim.WorkerID)
	assert.Equal(t, "wallet-9", claim.WorkerWallet, "key wallet is the default payout")

	res, err = s.listTasks(ctx, request(map[string]any{"mine": true}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), taskID)
}
