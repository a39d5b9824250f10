package fieldwork

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verifyTask(t *testing.T) Task {
	t.Helper()
	a, err := NewTask(requester, taskInput(), t0)
	require.NoError(t, err)
	return a.Task
}

func TestVerifyAllChecksPass(t *testing.T) {
	task := verifyTask(t)
	v := Verify(task, []Capture{goodCapture("a.jpg", t0.Add(time.Hour))}, DefaultPolicy().CheckWeights)
	assert.Equal(t, 100, v.Score)
	assert.Empty(t, v.Flags)
	assert.Len(t, v.Checks, 5, "bearing check only applies when required")
}

func TestVerifyWeakCaptureScores65(t *testing.T) {
	task := verifyTask(t)
	v := Verify(task, []Capture{weakCapture("a.jpg", t0.Add(time.Hour))}, DefaultPolicy().CheckWeights)
	assert.Equal(t, 65, v.Score)
	assert.ElementsMatch(t, []string{FlagEXIFMissing, FlagResolutionBelowMin}, v.Flags)
}

func TestVerifyIndividualChecks(t *testing.T) {
	at := t0.Add(time.Hour)
	w := DefaultPolicy().CheckWeights

	tests := []struct {
		name   string
		mutate func(*Capture)
		flag   string
		score  int
	}{
		{"outside radius", func(c *Capture) { c.Lat, c.Lon = 51.52, -0.10 }, FlagGPSOutOfRadius, 70},
		{"no gps fix", func(c *Capture) { c.HasGPS = false }, FlagGPSOutOfRadius, 70},
		{"exif clock skew", func(c *Capture) { c.EXIF.DateTimeOriginal = at.Add(-time.Hour) }, FlagEXIFMissing, 80},
		{"rotated still passes", func(c *Capture) { c.Width, c.Height = 3024, 4032 }, "", 100},
		{"before window", func(c *Capture) { c.CapturedAt = t0.Add(-time.Minute); c.EXIF.DateTimeOriginal = c.CapturedAt }, FlagCaptureOutsideWindow, 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := goodCapture("a.jpg", at)
			tt.mutate(&c)
			v := Verify(verifyTask(t), []Capture{c}, w)
			assert.Equal(t, tt.score, v.Score)
			if tt.flag == "" {
				assert.Empty(t, v.Flags)
			} else {
				assert.Contains(t, v.Flags, tt.flag)
			}
		})
	}
}

func TestVerifyCountAndEmptyBundle(t *testing.T) {
	task := verifyTask(t)
	task.Requirements.Count = 2
	at := t0.Add(time.Hour)
	w := DefaultPolicy().CheckWeights

	v := Verify(task, []Capture{goodCapture("a.jpg", at), goodCapture("a.jpg", at)}, w)
	assert.Contains(t, v.Flags, FlagInsufficientCount)
	assert.Equal(t, 85, v.Score)

	v = Verify(task, nil, w)
	assert.Equal(t, 0, v.Score)
}

func TestVerifyBearing(t *testing.T) {
	task := verifyTask(t)
	task.Requirements.Bearing = &BearingRequirement{Degrees: 350, Tolerance: 20}
	w := DefaultPolicy().CheckWeights

	c := goodCapture("a.jpg", t0.Add(time.Hour))
	b := 5.0
	c.Bearing = &b
	v := Verify(task, []Capture{c}, w)
	require.Len(t, v.Checks, 6)
	assert.Equal(t, 100, v.Score)

	b = 90
	v = Verify(task, []Capture{c}, w)
	assert.Contains(t, v.Flags, FlagBearingMismatch)
	assert.Equal(t, 91, v.Score) // 100 of 110 possible
}

func TestDistanceMeters(t *testing.T) {
	assert.InDelta(t, 111195, DistanceMeters(0, 0, 1, 0), 5)
	assert.InDelta(t, 0, DistanceMeters(51.5, -0.12, 51.5, -0.12), 1e-6)
	assert.InDelta(t, 10, AngularDifference(355, 5), 1e-9)
	assert.InDelta(t, 180, AngularDifference(0, 180), 1e-9)
}
