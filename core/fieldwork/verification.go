package fieldwork

import (
	"fmt"
	"math"
	"time"
)

// Capture is the worker's claim about how one artefact was captured.
type Capture struct {
	ArtefactKey string      `json:"artefact_key"`
	HasGPS      bool        `json:"has_gps"`
	Lat         float64     `json:"lat"`
	Lon         float64     `json:"lon"`
	CapturedAt  time.Time   `json:"captured_at"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Bearing     *float64    `json:"bearing,omitempty"`
	EXIF        *EXIFClaims `json:"exif,omitempty"`
}

// EXIFClaims is the subset of EXIF metadata the checks consume.
type EXIFClaims struct {
	Make             string    `json:"make"`
	Model            string    `json:"model"`
	DateTimeOriginal time.Time `json:"date_time_original"`
}

// Check names, also used as weights keys.
const (
	CheckGPSInRadius     = "gps_in_radius"
	CheckEXIFValid       = "exif_valid"
	CheckResolutionMin   = "resolution_min"
	CheckCaptureInWindow = "capture_in_window"
	CheckRequiredCount   = "required_count"
	CheckBearingMatch    = "bearing_match"
)

// Anomaly flags raised by failed checks.
const (
	FlagGPSOutOfRadius       = "gps_out_of_radius"
	FlagEXIFMissing          = "exif_missing_or_invalid"
	FlagResolutionBelowMin   = "resolution_below_min"
	FlagCaptureOutsideWindow = "capture_outside_window"
	FlagInsufficientCount    = "insufficient_count"
	FlagBearingMismatch      = "bearing_mismatch"
)

// exifClockSkew is how far the EXIF timestamp may drift from the claimed capture time.
const exifClockSkew = 5 * time.Minute

// CheckResult is one scored verification check.
type CheckResult struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
	Passed bool   `json:"passed"`
	Flag   string `json:"flag,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Verification is the outcome of scoring a proof bundle.
type Verification struct {
	Score  int           `json:"score"`
	Checks []CheckResult `json:"checks"`
	Flags  []string      `json:"flags"`
}

// Verify runs every applicable check over the captures and returns a
// weighted score normalised to 0-100 with the flags of failed checks.
func Verify(task Task, captures []Capture, w CheckWeights) Verification {
	req := task.Requirements
	checks := []CheckResult{
		gpsCheck(task.Location, req.GPSRequired, captures, w.GPSInRadius),
		exifCheck(captures, w.EXIFValid),
		resolutionCheck(req, captures, w.ResolutionMin),
		windowCheck(task.Window, captures, w.CaptureInWindow),
		countCheck(req.Count, captures, w.RequiredCount),
	}
	if req.Bearing != nil {
		checks = append(checks, bearingCheck(*req.Bearing, captures, w.BearingMatch))
	}
	return Score(checks)
}

// Score normalises check results into a Verification.
func Score(checks []CheckResult) Verification {
	total, passed := 0, 0
	flags := []string{}
	for _, c := range checks {
		total += c.Weight
		if c.Passed {
			passed += c.Weight
		} else if c.Flag != "" {
			flags = append(flags, c.Flag)
		}
	}
	score := 0
	if total > 0 {
		score = int(math.Round(float64(passed) * 100 / float64(total)))
	}
	return Verification{Score: score, Checks: checks, Flags: flags}
}

func gpsCheck(fence GeoFence, required bool, captures []Capture, weight int) CheckResult {
	res := CheckResult{Name: CheckGPSInRadius, Weight: weight, Flag: FlagGPSOutOfRadius}
	if len(captures) == 0 {
		res.Detail = "no captures"
		return res
	}
	for _, c := range captures {
		if !c.HasGPS {
			if required {
				res.Detail = fmt.Sprintf("%s has no gps fix", c.ArtefactKey)
				return res
			}
			continue
		}
		if d := DistanceMeters(fence.Lat, fence.Lon, c.Lat, c.Lon); d > fence.RadiusM {
			res.Detail = fmt.Sprintf("%s is %.0fm from target (radius %.0fm)", c.ArtefactKey, d, fence.RadiusM)
			return res
		}
	}
	res.Passed, res.Flag = true, ""
	return res
}

func exifCheck(captures []Capture, weight int) CheckResult {
	res := CheckResult{Name: CheckEXIFValid, Weight: weight, Flag: FlagEXIFMissing}
	if len(captures) == 0 {
		res.Detail = "no captures"
		return res
	}
	for _, c := range captures {
		e := c.EXIF
		if e == nil || e.Make == "" || e.Model == "" || e.DateTimeOriginal.IsZero() {
			res.Detail = fmt.Sprintf("%s lacks camera exif", c.ArtefactKey)
			return res
		}
		skew := e.DateTimeOriginal.Sub(c.CapturedAt)
		if skew < 0 {
			skew = -skew
		}
		if skew > exifClockSkew {
			res.Detail = fmt.Sprintf("%s exif time differs from capture time by %s", c.ArtefactKey, skew)
			return res
		}
	}
	res.Passed, res.Flag = true, ""
	return res
}

func resolutionCheck(req Requirements, captures []Capture, weight int) CheckResult {
	res := CheckResult{Name: CheckResolutionMin, Weight: weight, Flag: FlagResolutionBelowMin}
	if len(captures) == 0 {
		res.Detail = "no captures"
		return res
	}
	wantLong, wantShort := max(req.MinWidth, req.MinHeight), min(req.MinWidth, req.MinHeight)
	for _, c := range captures {
		long, short := max(c.Width, c.Height), min(c.Width, c.Height)
		if long < wantLong || short < wantShort {
			res.Detail = fmt.Sprintf("%s is %dx%d, need %dx%d", c.ArtefactKey, c.Width, c.Height, req.MinWidth, req.MinHeight)
			return res
		}
	}
	res.Passed, res.Flag = true, ""
	return res
}

func windowCheck(window TimeWindow, captures []Capture, weight int) CheckResult {
	res := CheckResult{Name: CheckCaptureInWindow, Weight: weight, Flag: FlagCaptureOutsideWindow}
	if len(captures) == 0 {
		res.Detail = "no captures"
		return res
	}
	for _, c := range captures {
		if !window.Contains(c.CapturedAt) {
			res.Detail = fmt.Sprintf("%s captured at %s outside task window", c.ArtefactKey, c.CapturedAt.Format(time.RFC3339))
			return res
		}
	}
	res.Passed, res.Flag = true, ""
	return res
}

func countCheck(required int, captures []Capture, weight int) CheckResult {
	res := CheckResult{Name: CheckRequiredCount, Weight: weight, Flag: FlagInsufficientCount}
	distinct := make(map[string]struct{}, len(captures))
	for _, c := range captures {
		distinct[c.ArtefactKey] = struct{}{}
	}
	if len(distinct) < max(required, 1) {
		res.Detail = fmt.Sprintf("%d distinct captures, need %d", len(distinct), required)
		return res
	}
	res.Passed, res.Flag = true, ""
	return res
}

func bearingCheck(want BearingRequirement, captures []Capture, weight int) CheckResult {
	res := CheckResult{Name: CheckBearingMatch, Weight: weight, Flag: FlagBearingMismatch}
	if len(captures) == 0 {
		res.Detail = "no captures"
		return res
	}
	for _, c := range captures {
		if c.Bearing == nil {
			res.Detail = fmt.Sprintf("%s has no bearing", c.ArtefactKey)
			return res
		}
		if diff := AngularDifference(*c.Bearing, want.Degrees); diff > want.Tolerance {
			res.Detail = fmt.Sprintf("%s bearing off by %.1f degrees", c.ArtefactKey, diff)
			return res
		}
	}
	res.Passed, res.Flag = true, ""
	return res
}

const earthRadiusM = 6371000.0

// DistanceMeters is the haversine great-circle distance between two points.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(a)))
}

// AngularDifference returns the smallest difference between two compass bearings.
func AngularDifference(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}
