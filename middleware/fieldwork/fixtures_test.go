package fieldwork

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"fieldproof-backend/core/fieldwork"
	fwstore "fieldproof-backend/storage/fieldwork"
	"fieldproof-backend/storage/objects"
)

var (
	t0        = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	requester = fieldwork.Actor{ID: "req-1", Role: fieldwork.RoleRequester}
	worker    = fieldwork.Actor{ID: "wrk-1", Role: fieldwork.RoleWorker}
	worker2   = fieldwork.Actor{ID: "wrk-2", Role: fieldwork.RoleWorker}
	operator  = fieldwork.Actor{ID: "ops-1", Role: fieldwork.RoleOperator}
)

func taskInput() fieldwork.NewTaskInput {
	return fieldwork.NewTaskInput{
		Title:        "Storefront photo, 12 Harbour St",
		Template:     fieldwork.Template{ID: "tpl-storefront", Kind: "photo", Version: "1.2.0"},
		Requirements: []byte(`{"resolution":{"min_width":1920,"min_height":1080},"gps_required":true,"count":1}`),
		Location:     fieldwork.GeoFence{Lat: 51.5072, Lon: -0.1276, RadiusM: 150},
		Window:       fieldwork.TimeWindow{Start: t0, End: t0.Add(72 * time.Hour)},
		Bounty:       fieldwork.Money{Amount: 25_000_000, Currency: "USDC"},
		Rights:       fieldwork.Rights{ExclusivityDays: 30, ResaleAfter: true},
	}
}

func goodCapture(key string, at time.Time) fieldwork.Capture {
	return fieldwork.Capture{
		ArtefactKey: key,
		HasGPS:      true,
		Lat:         51.5073,
		Lon:         -0.1275,
		CapturedAt:  at,
		Width:       4032,
		Height:      3024,
		EXIF:        &fieldwork.EXIFClaims{Make: "Google", Model: "Pixel 8", DateTimeOriginal: at},
	}
}

// weakCapture fails the exif and resolution checks and scores 65.
func weakCapture(key string, at time.Time) fieldwork.Capture {
	c := goodCapture(key, at)
	c.EXIF = nil
	c.Width, c.Height = 1280, 720
	return c
}

type fakeObjects struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeObjects() *fakeObjects { return &fakeObjects{data: make(map[string]string)} }

func (f *fakeObjects) put(key, body string) {
	f.mu.Lock()
	f.data[key] = body
	f.mu.Unlock()
}

func (f *fakeObjects) UploadURL(_ context.Context, key string) (objects.SignedURL, error) {
	return objects.SignedURL{URL: "https://objects.test/" + key, Method: http.MethodPut, ExpiresAt: t0.Add(time.Hour)}, nil
}

func (f *fakeObjects) DownloadURL(ctx context.Context, key string) (objects.SignedURL, error) {
	if _, err := f.Stat(ctx, key); err != nil {
		return objects.SignedURL{}, err
	}
	return objects.SignedURL{URL: "https://objects.test/" + key, Method: http.MethodGet, ExpiresAt: t0.Add(time.Hour)}, nil
}

func (f *fakeObjects) Stat(_ context.Context, key string) (objects.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.data[key]
	if !ok {
		return objects.ObjectInfo{}, objects.ErrObjectNotFound
	}
	sum := sha256.Sum256([]byte(body))
	return objects.ObjectInfo{Key: key, Size: int64(len(body)), SHA256: hex.EncodeToString(sum[:])}, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	delete(f.data, key)
	f.mu.Unlock()
	return nil
}

type recordingMirror struct {
	mu      sync.Mutex
	entries map[string]fieldwork.LedgerEntry
	fail    bool
}

func (m *recordingMirror) Append(_ context.Context, entries []fieldwork.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return fieldwork.ErrProviderUnavailable
	}
	if m.entries == nil {
		m.entries = make(map[string]fieldwork.LedgerEntry)
	}
	for _, e := range entries {
		m.entries[e.EntryID] = e
	}
	return nil
}

func (m *recordingMirror) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type harness struct {
	engine  *Engine
	store   *fwstore.MemoryStore
	escrow  *MockEscrowProvider
	objects *fakeObjects
	mirror  *recordingMirror
	clock   *fieldwork.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   fwstore.NewMemoryStore(),
		escrow:  NewMockEscrowProvider(),
		objects: newFakeObjects(),
		mirror:  &recordingMirror{},
		clock:   fieldwork.NewFakeClock(t0),
	}
	engine, err := NewEngine(Config{
		Store:   h.store,
		Escrow:  h.escrow,
		Objects: h.objects,
		Ledger:  h.mirror,
		Jury:    StaticJury{"jur-a", "jur-b", "jur-c", "jur-d"},
		Clock:   h.clock,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	engine.newBackoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
	}
	h.engine = engine
	return h
}

func (h *harness) posted(t *testing.T) *fieldwork.Aggregate {
	t.Helper()
	ctx := context.Background()
	agg, err := h.engine.CreateTask(ctx, requester, taskInput())
	require.NoError(t, err)
	agg, err = h.engine.Publish(ctx, requester, agg.Task.TaskID)
	require.NoError(t, err)
	return agg
}

// submitted walks a task through claim, upload and finalise by worker.
func (h *harness) submitted(t *testing.T, capture func(string, time.Time) fieldwork.Capture) (*fieldwork.Aggregate, string) {
	t.Helper()
	ctx := context.Background()
	agg := h.posted(t)
	taskID := agg.Task.TaskID
	h.clock.Advance(time.Hour)

	_, claim, err := h.engine.Claim(ctx, worker, taskID, "wallet-wrk-1")
	require.NoError(t, err)
	_, sub, err := h.engine.CreateSubmission(ctx, worker, taskID, claim.ClaimID)
	require.NoError(t, err)

	_, key, err := h.engine.UploadURL(ctx, worker, taskID, sub.SubmissionID, "front.jpg")
	require.NoError(t, err)
	h.objects.put(key, "jpeg-bytes")
	_, err = h.engine.AddArtefact(ctx, worker, taskID, sub.SubmissionID, key)
	require.NoError(t, err)

	agg, err = h.engine.Finalise(ctx, worker, taskID, sub.SubmissionID, []fieldwork.Capture{capture(key, h.clock.Now())})
	require.NoError(t, err)
	return agg, sub.SubmissionID
}

var errLockHeldForTest = fwstore.ErrLockHeld
