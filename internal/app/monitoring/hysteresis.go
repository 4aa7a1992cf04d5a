package monitoring

import (
	"sync"

	"github.com/r3e-network/fraudctl/internal/app/domain/metric"
)

// statusRank orders severities so "worse" has an unambiguous meaning.
func statusRank(s metric.Status) int {
	switch s {
	case metric.StatusCritical:
		return 2
	case metric.StatusWarning:
		return 1
	default:
		return 0
	}
}

// hysteresisTracker enforces "stay in the worse status for at least two
// consecutive windows before stepping down": a step-up is applied
// immediately, a step-down only after the raw status has held for
// stableWindows consecutive computations.
type hysteresisTracker struct {
	mu             sync.Mutex
	stableWindows  int
	effective      map[string]metric.Status
	candidateRun   map[string]int
	candidateValue map[string]metric.Status
}

func newHysteresisTracker(stableWindows int) *hysteresisTracker {
	if stableWindows < 1 {
		stableWindows = 2
	}
	return &hysteresisTracker{
		stableWindows:  stableWindows,
		effective:      make(map[string]metric.Status),
		candidateRun:   make(map[string]int),
		candidateValue: make(map[string]metric.Status),
	}
}

// Apply feeds the newly computed raw status for key and returns the
// effective (hysteresis-adjusted) status plus whether this call caused a
// transition away from the previous effective status.
func (h *hysteresisTracker) Apply(key string, raw metric.Status) (effective metric.Status, transitioned bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev, known := h.effective[key]
	if !known {
		h.effective[key] = raw
		h.candidateValue[key] = raw
		h.candidateRun[key] = 1
		return raw, raw != metric.StatusOK
	}

	if statusRank(raw) >= statusRank(prev) {
		h.effective[key] = raw
		h.candidateValue[key] = raw
		h.candidateRun[key] = 1
		return raw, raw != prev
	}

	// raw is an improvement over prev: only step down after it has held
	// for stableWindows consecutive computations.
	if h.candidateValue[key] == raw {
		h.candidateRun[key]++
	} else {
		h.candidateValue[key] = raw
		h.candidateRun[key] = 1
	}

	if h.candidateRun[key] >= h.stableWindows {
		h.effective[key] = raw
		return raw, raw != prev
	}

	return prev, false
}
