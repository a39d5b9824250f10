package fieldwork

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	t0        = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	requester = Actor{ID: "req-1", Role: RoleRequester}
	worker    = Actor{ID: "wrk-1", Role: RoleWorker}
	worker2   = Actor{ID: "wrk-2", Role: RoleWorker}
	operator  = Actor{ID: "ops-1", Role: RoleOperator}
	jurorPool = []string{"jur-a", "jur-b", "jur-c", "jur-d", "req-1", "wrk-1"}
)

const photoV1Requirements = `{"resolution":{"min_width":1920,"min_height":1080},"gps_required":true,"count":1}`

func taskInput() NewTaskInput {
	return NewTaskInput{
		Title:        "Storefront photo, 12 Harbour St",
		Template:     Template{ID: "tpl-storefront", Kind: "photo", Version: "1.2.0"},
		Requirements: []byte(photoV1Requirements),
		Location:     GeoFence{Lat: 51.5072, Lon: -0.1276, RadiusM: 150},
		Window:       TimeWindow{Start: t0, End: t0.Add(72 * time.Hour)},
		Bounty:       Money{Amount: 25_000_000, Currency: "USDC"},
		Rights:       Rights{ExclusivityDays: 30, ResaleAfter: true},
	}
}

func goodCapture(key string, at time.Time) Capture {
	return Capture{
		ArtefactKey: key,
		HasGPS:      true,
		Lat:         51.5073,
		Lon:         -0.1275,
		CapturedAt:  at,
		Width:       4032,
		Height:      3024,
		EXIF:        &EXIFClaims{Make: "Google", Model: "Pixel 8", DateTimeOriginal: at},
	}
}

// weakCapture fails the exif and resolution checks: 100-20-15 = 65.
func weakCapture(key string, at time.Time) Capture {
	c := goodCapture(key, at)
	c.EXIF = nil
	c.Width, c.Height = 1280, 720
	return c
}

func postedAggregate(t *testing.T) *Aggregate {
	t.Helper()
	a, err := NewTask(requester, taskInput(), t0)
	require.NoError(t, err)
	require.NoError(t, a.CheckPublishable(requester, t0))
	require.NoError(t, a.RecordFunding("mock", "esc-ref-1", true, t0))
	require.NoError(t, a.Publish(requester, t0))
	return a
}

// submittedAggregate claims, uploads and finalises one capture by worker.
func submittedAggregate(t *testing.T, capture func(string, time.Time) Capture) (*Aggregate, *Submission) {
	t.Helper()
	p := DefaultPolicy()
	a := postedAggregate(t)
	at := t0.Add(time.Hour)
	c, err := a.ClaimTask(worker, "wallet-wrk-1", at, p)
	require.NoError(t, err)
	s, err := a.CreateSubmission(worker, c.ClaimID, at)
	require.NoError(t, err)
	key := "tasks/" + a.Task.TaskID + "/" + s.SubmissionID + "/front.jpg"
	require.NoError(t, a.AddArtefact(worker, s.SubmissionID, key, "sha256:abc", at))
	s, err = a.Finalise(worker, s.SubmissionID, []Capture{capture(key, at)}, at.Add(time.Minute), p)
	require.NoError(t, err)
	return a, s
}

// confirmAll confirms every pending settlement line.
func confirmAll(t *testing.T, a *Aggregate, now time.Time) {
	t.Helper()
	for _, l := range a.Escrow.Lines {
		if l.Status == LinePending {
			_, err := a.ConfirmLine(l.IdempotencyKey, "prov-"+l.IdempotencyKey, now)
			require.NoError(t, err)
		}
	}
}
