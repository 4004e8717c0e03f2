package main

import (
	"fmt"
	"time"
)

// frameMetrics tracks the dashboard's own cost. It is only touched from the
// bubbletea update loop.
type frameMetrics struct {
	enabled bool

	frames   uint64
	lastSnap time.Duration
	maxSnap  time.Duration
	avgSnap  time.Duration

	fullRanks    uint64
	partialRanks uint64
	lastRank     time.Duration
}

// ewmaWeight is how much one new sample moves the running average.
const ewmaWeight = 8

func newFrameMetrics(enabled bool) *frameMetrics {
	return &frameMetrics{enabled: enabled}
}

// observeSnapshot records how long a frame spent copying the store.
func (m *frameMetrics) observeSnapshot(d time.Duration) {
	if !m.enabled {
		return
	}
	m.frames++
	m.lastSnap = d
	m.maxSnap = max(m.maxSnap, d)
	if m.frames == 1 {
		m.avgSnap = d
		return
	}
	m.avgSnap += (d - m.avgSnap) / ewmaWeight
}

func (m *frameMetrics) observeRank(d time.Duration, full bool) {
	if !m.enabled {
		return
	}
	m.lastRank = d
	if full {
		m.fullRanks++
		return
	}
	m.partialRanks++
}

func formatMetricDuration(d time.Duration) string {
	if d <= 0 {
		return "0.000ms"
	}
	return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
}
