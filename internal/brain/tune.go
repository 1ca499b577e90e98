// File: internal/brain/tune.go
package brain

import (
	"fmt"
	"time"
)

// Auto-tune thresholds, evaluated in order.
const (
	highErrorRate       = 0.15
	highLatencyMs       = 10000.0
	highUtilization     = 0.85
	lowErrorRate        = 0.05
	lowUtilization      = 0.30
	errorRateBackoffPct = 0.5
	latencyBackoff      = 2
)

// ObservedMetrics are the runtime signals fed into AutoTune.
type ObservedMetrics struct {
	ErrorRate        float64 `json:"error_rate"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	QueueUtilization float64 `json:"queue_utilization"`
}

// TuningRecord is one auto-tune recommendation. Never mutated after creation.
type TuningRecord struct {
	Timestamp        time.Time       `json:"timestamp"`
	Observed         ObservedMetrics `json:"observed"`
	PreviousLimit    int             `json:"previous_limit"`
	RecommendedLimit int             `json:"recommended_limit"`
	Reason           string          `json:"reason"`
}

// AutoTune recommends a concurrency limit. The first matching rule wins:
// high error rate halves the limit, high latency lowers it by two, high
// utilization with low errors keeps it (the limit is already the ceiling),
// low utilization lowers it by one. Every call appends one record. No I/O.
func (b *Brain) AutoTune(m ObservedMetrics) TuningRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	limit := b.concurrencyLimitLocked()
	rec := TuningRecord{
		Timestamp:        time.Now().UTC(),
		Observed:         m,
		PreviousLimit:    limit,
		RecommendedLimit: limit,
		Reason:           "nominal",
	}

	switch {
	case m.ErrorRate > highErrorRate:
		rec.RecommendedLimit = max(1, int(float64(limit)*errorRateBackoffPct))
		rec.Reason = fmt.Sprintf("high error rate %.1f%%", m.ErrorRate*100)
	case m.AvgLatencyMs > highLatencyMs:
		rec.RecommendedLimit = max(1, limit-latencyBackoff)
		rec.Reason = fmt.Sprintf("high latency %.0fms", m.AvgLatencyMs)
	case m.QueueUtilization > highUtilization && m.ErrorRate < lowErrorRate:
		rec.RecommendedLimit = min(limit, limit+1)
		rec.Reason = "high utilization, low errors"
	case m.QueueUtilization < lowUtilization:
		rec.RecommendedLimit = max(1, limit-1)
		rec.Reason = fmt.Sprintf("low utilization %.0f%%", m.QueueUtilization*100)
	}

	b.tuning = append(b.tuning, rec)
	return rec
}

// TuningHistory returns a copy of every tuning record.
func (b *Brain) TuningHistory() []TuningRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]TuningRecord, len(b.tuning))
	copy(out, b.tuning)
	return out
}
