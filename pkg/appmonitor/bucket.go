// Package appmonitor is the App-Monitor Controller (component A in
// spec.md section 2): it watches a per-app desired instance count against
// the currently scheduled count and emits create/delete operations
// through an Instance API collaborator, rate-limited by a per-application
// token bucket (spec.md section 4.6).
package appmonitor

import "math"

// Monitor is the per-application token-bucket state (spec.md section 3:
// "name; count; available (float tokens); last_update; rate").
type Monitor struct {
	Name       string
	Count      int
	Available  float64
	LastUpdate int64
}

// NewMonitor creates a monitor for a freshly configured monitor node
// (spec.md section 3), with available starting at the full 2*count
// bucket cap so a new monitor can immediately reconcile up to its
// desired count.
func NewMonitor(name string, count int, now int64) *Monitor {
	m := &Monitor{Name: name, Count: count, LastUpdate: now}
	m.Available = m.Cap()
	return m
}

// Rate is the token refill rate: 2*count/3600 tokens/s (spec.md section
// 4.6).
func (m *Monitor) Rate() float64 { return 2 * float64(m.Count) / 3600 }

// Cap is the bucket ceiling: 2*count tokens (spec.md section 4.6).
func (m *Monitor) Cap() float64 { return 2 * float64(m.Count) }

// Refill tops up available tokens for elapsed wall-clock time since
// last_update, clamped to Cap.
func (m *Monitor) Refill(now int64) {
	elapsed := now - m.LastUpdate
	if elapsed <= 0 {
		return
	}
	m.Available = math.Min(m.Cap(), m.Available+m.Rate()*float64(elapsed))
	m.LastUpdate = now
}

// SetCount updates the desired count, which changes Rate and Cap for
// future ticks but never retroactively adjusts Available.
func (m *Monitor) SetCount(count int) { m.Count = count }

// Reconcile compares the desired count against current (the number of
// currently scheduled instances) and returns how many creates or deletes
// this tick should issue (spec.md section 4.6 step 2). At most one of
// creates/deletes is non-zero.
func (m *Monitor) Reconcile(now int64, current int) (creates, deletes int) {
	m.Refill(now)
	delta := m.Count - current
	switch {
	case delta > 0:
		allowed := int(math.Floor(math.Min(float64(delta), m.Available)))
		if allowed < 1 {
			return 0, 0
		}
		m.Available -= float64(allowed)
		return allowed, 0
	case delta < 0:
		return 0, -delta
	default:
		return 0, 0
	}
}
