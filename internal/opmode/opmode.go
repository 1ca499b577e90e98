// File: internal/opmode/opmode.go
// Description: Operating modes, criticality weights and the weighted readiness
// formula. Both the readiness evaluator and the system brain classify scores
// through this package so their thresholds cannot drift apart.

package opmode

import "math"

// Mode is the operating posture derived from a readiness score.
type Mode string

const (
	ModeAggressive  Mode = "aggressive"
	ModeNormal      Mode = "normal"
	ModeMaintenance Mode = "maintenance"
	ModeRecovery    Mode = "recovery"
)

// Inclusive lower bounds of each band.
const (
	AggressiveThreshold  = 85
	NormalThreshold      = 70
	MaintenanceThreshold = 50
)

// Criticality ranks how much a single probe contributes to the score.
type Criticality string

const (
	CriticalityCritical Criticality = "critical"
	CriticalityHigh     Criticality = "high"
	CriticalityMedium   Criticality = "medium"
	CriticalityLow      Criticality = "low"
)

// Status is the normalized outcome of a single probe.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// DefaultWeight applies to any criticality missing from the weight table.
const DefaultWeight = 10

var weights = map[Criticality]int{
	CriticalityCritical: 40,
	CriticalityHigh:     20,
	CriticalityMedium:   10,
	CriticalityLow:      5,
}

// Weight returns the scoring weight of a criticality.
func Weight(c Criticality) int {
	if w, ok := weights[c]; ok {
		return w
	}
	return DefaultWeight
}

// Classify maps a score onto its operating mode.
func Classify(score int) Mode {
	switch {
	case score >= AggressiveThreshold:
		return ModeAggressive
	case score >= NormalThreshold:
		return ModeNormal
	case score >= MaintenanceThreshold:
		return ModeMaintenance
	default:
		return ModeRecovery
	}
}

// Sample is one weighted observation fed into Score.
type Sample struct {
	Criticality Criticality
	Status      Status
}

// Score computes round(100 * earned / total). An ok sample earns its full
// weight, a degraded one half of it, anything else nothing. An empty sample
// set is vacuously healthy and scores 100.
func Score(samples []Sample) int {
	var total, earned float64
	for _, s := range samples {
		w := float64(Weight(s.Criticality))
		total += w
		switch s.Status {
		case StatusOK:
			earned += w
		case StatusDegraded:
			earned += w * 0.5
		}
	}
	if total == 0 {
		return 100
	}
	return int(math.Round(earned / total * 100))
}
