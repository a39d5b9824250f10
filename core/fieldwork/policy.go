package fieldwork

import (
	"fmt"
	"sync"
	"time"
)

// CheckWeights assigns the contribution of each verification check.
type CheckWeights struct {
	GPSInRadius     int `yaml:"gps_in_radius" json:"gps_in_radius"`
	EXIFValid       int `yaml:"exif_valid" json:"exif_valid"`
	ResolutionMin   int `yaml:"resolution_min" json:"resolution_min"`
	CaptureInWindow int `yaml:"capture_in_window" json:"capture_in_window"`
	RequiredCount   int `yaml:"required_count" json:"required_count"`
	BearingMatch    int `yaml:"bearing_match" json:"bearing_match"`
}

// TiePolicy selects the fallback when a jury produces no majority.
type TiePolicy string

const (
	// TieDeferTier1 maps the Tier-1 score onto an outcome.
	TieDeferTier1 TiePolicy = "tier1"
	// TieSplitEven splits the bounty 50/50.
	TieSplitEven TiePolicy = "split"
)

// Policy holds the tunable rules of the lifecycle engine.
type Policy struct {
	ClaimWindow    time.Duration `yaml:"claim_window" json:"claim_window"`
	RejectGrace    time.Duration `yaml:"reject_grace" json:"reject_grace"`
	EvidenceWindow time.Duration `yaml:"evidence_window" json:"evidence_window"`
	Tier2Window    time.Duration `yaml:"tier2_window" json:"tier2_window"`

	Tier1HighThreshold int `yaml:"tier1_high_threshold" json:"tier1_high_threshold"`
	Tier1LowThreshold  int `yaml:"tier1_low_threshold" json:"tier1_low_threshold"`
	EvidenceWeight     int `yaml:"evidence_weight" json:"evidence_weight"`
	EvidenceCap        int `yaml:"evidence_cap" json:"evidence_cap"`

	JuryQuorum int       `yaml:"jury_quorum" json:"jury_quorum"`
	TiePolicy  TiePolicy `yaml:"tie_policy" json:"tie_policy"`

	PlatformFeeBps            int  `yaml:"platform_fee_bps" json:"platform_fee_bps"`
	ArbitrationFeeBps         int  `yaml:"arbitration_fee_bps" json:"arbitration_fee_bps"`
	RefundArbitrationFeeOnWin bool `yaml:"refund_arbitration_fee_on_win" json:"refund_arbitration_fee_on_win"`

	CheckWeights CheckWeights `yaml:"check_weights" json:"check_weights"`

	SettlementMaxElapsed time.Duration `yaml:"settlement_max_elapsed" json:"settlement_max_elapsed"`
	ProviderTimeout      time.Duration `yaml:"provider_timeout" json:"provider_timeout"`
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		ClaimWindow:        4 * time.Hour,
		RejectGrace:        24 * time.Hour,
		EvidenceWindow:     48 * time.Hour,
		Tier2Window:        72 * time.Hour,
		Tier1HighThreshold: 80,
		Tier1LowThreshold:  40,
		EvidenceWeight:     5,
		EvidenceCap:        15,
		JuryQuorum:         3,
		TiePolicy:          TieDeferTier1,
		PlatformFeeBps:     1000,
		ArbitrationFeeBps:  500,
		CheckWeights: CheckWeights{
			GPSInRadius:     30,
			EXIFValid:       20,
			ResolutionMin:   15,
			CaptureInWindow: 20,
			RequiredCount:   15,
			BearingMatch:    10,
		},
		SettlementMaxElapsed: 30 * time.Second,
		ProviderTimeout:      10 * time.Second,
	}
}

// Validate rejects inconsistent policies.
func (p Policy) Validate() error {
	if p.ClaimWindow <= 0 || p.Tier2Window <= 0 {
		return fmt.Errorf("%w: claim and tier2 windows must be positive", ErrInvalidInput)
	}
	if p.RejectGrace < 0 || p.EvidenceWindow < 0 {
		return fmt.Errorf("%w: grace and evidence windows must not be negative", ErrInvalidInput)
	}
	if p.Tier1LowThreshold < 0 || p.Tier1HighThreshold > 100 || p.Tier1LowThreshold >= p.Tier1HighThreshold {
		return fmt.Errorf("%w: thresholds must satisfy 0 <= low < high <= 100", ErrInvalidInput)
	}
	if p.JuryQuorum < 1 {
		return fmt.Errorf("%w: jury quorum must be at least 1", ErrInvalidInput)
	}
	if p.PlatformFeeBps < 0 || p.ArbitrationFeeBps < 0 || p.PlatformFeeBps+p.ArbitrationFeeBps > 10000 {
		return fmt.Errorf("%w: fees out of range", ErrInvalidInput)
	}
	switch p.TiePolicy {
	case TieDeferTier1, TieSplitEven:
	default:
		return fmt.Errorf("%w: unknown tie policy %q", ErrInvalidInput, p.TiePolicy)
	}
	return nil
}

// Clock supplies the current time; tests substitute FakeClock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FakeClock is a manually advanced clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts a fake clock at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
