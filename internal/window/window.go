// Package window keeps bounded recent history for one measured topic and turns
// it into the rate and delay strings shown on the dashboard.
//
// Nothing in this package locks. The owner of a Stat serializes access.
package window

import (
	"fmt"
	"time"
)

// DefaultCapacity is the number of samples kept per ring.
const DefaultCapacity = 200

// StaleAfter is how old a lone sample may get before the topic reads as silent.
const StaleAfter = 5 * time.Second

// Display sentinels. Each has a distinct meaning and must not be conflated.
const (
	// NotYet means not enough data has arrived to compute a value.
	NotYet = "NaN"
	// Silent means the topic was measured and nothing is flowing.
	Silent = "0.0"
	// NotApplicable means the topic is not independently measurable.
	NotApplicable = "N/A"
)

type timeRing struct {
	buf   []time.Time
	idx   int
	count int
}

func newTimeRing(n int) *timeRing {
	if n < 1 {
		n = 1
	}
	return &timeRing{buf: make([]time.Time, n)}
}

func (r *timeRing) add(t time.Time) {
	r.buf[r.idx] = t
	r.idx++
	if r.idx >= len(r.buf) {
		r.idx = 0
	}
	if r.count < len(r.buf) {
		r.count++
	}
}

// oldest and newest are only valid when count > 0.
func (r *timeRing) oldest() time.Time {
	if r.count < len(r.buf) {
		return r.buf[0]
	}
	return r.buf[r.idx]
}

func (r *timeRing) newest() time.Time {
	lastIdx := r.idx - 1
	if lastIdx < 0 {
		lastIdx = len(r.buf) - 1
	}
	return r.buf[lastIdx]
}

func (r *timeRing) values() []time.Time {
	out := make([]time.Time, 0, r.count)
	start := 0
	if r.count == len(r.buf) {
		start = r.idx
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

func (r *timeRing) reset() {
	clear(r.buf)
	r.idx = 0
	r.count = 0
}

type floatRing struct {
	buf   []float64
	idx   int
	count int
}

func newFloatRing(n int) *floatRing {
	if n < 1 {
		n = 1
	}
	return &floatRing{buf: make([]float64, n)}
}

func (r *floatRing) add(v float64) {
	r.buf[r.idx] = v
	r.idx++
	if r.idx >= len(r.buf) {
		r.idx = 0
	}
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *floatRing) mean() float64 {
	var sum float64
	for i := 0; i < r.count; i++ {
		sum += r.buf[i]
	}
	return sum / float64(r.count)
}

func (r *floatRing) reset() {
	clear(r.buf)
	r.idx = 0
	r.count = 0
}

// Stat is the pair of rings tracked for one topic: arrival times and
// end-to-end delays.
type Stat struct {
	events *timeRing
	delays *floatRing
}

// New returns a Stat whose rings each hold capacity samples.
func New(capacity int) *Stat {
	return &Stat{
		events: newTimeRing(capacity),
		delays: newFloatRing(capacity),
	}
}

// RecordEvent appends an arrival timestamp, evicting the oldest when full.
func (s *Stat) RecordEvent(t time.Time) {
	s.events.add(t)
}

// RecordDelay appends a delay sample in seconds. Negative samples come from
// clock skew or future stamps and are rejected.
func (s *Stat) RecordDelay(seconds float64) bool {
	if seconds < 0 {
		return false
	}
	s.delays.add(seconds)
	return true
}

// Rate returns the arrival rate over the buffered window in Hz.
func (s *Stat) Rate(now time.Time) string {
	n := s.events.count
	if n < 2 {
		if n == 1 && now.Sub(s.events.oldest()) > StaleAfter {
			return Silent
		}
		return NotYet
	}
	span := s.events.newest().Sub(s.events.oldest()).Seconds()
	if span <= 0 {
		return Silent
	}
	return fmt.Sprintf("%.2f", float64(n-1)/span)
}

// Delay returns the mean buffered delay in seconds.
func (s *Stat) Delay() string {
	if s.delays.count == 0 {
		return NotYet
	}
	return fmt.Sprintf("%.4f", s.delays.mean())
}

// EventCount is the number of buffered arrival times.
func (s *Stat) EventCount() int { return s.events.count }

// DelayCount is the number of buffered delay samples.
func (s *Stat) DelayCount() int { return s.delays.count }

// Reset drops every buffered sample.
func (s *Stat) Reset() {
	s.events.reset()
	s.delays.reset()
}
