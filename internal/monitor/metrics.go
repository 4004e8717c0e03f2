package monitor

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// DurationStats summarizes the recent samples of one timed pass.
type DurationStats struct {
	Last time.Duration
	Max  time.Duration
	Avg  time.Duration
	N    int
}

// passTimer counts one kind of pass and keeps its most recent durations.
type passTimer struct {
	passes   atomic.Uint64
	failures atomic.Uint64

	mu      sync.Mutex
	samples []time.Duration
	next    int
	last    time.Duration
}

func newPassTimer(keep int) *passTimer {
	return &passTimer{samples: make([]time.Duration, 0, max(keep, 1))}
}

func (p *passTimer) observe(d time.Duration, failed bool) {
	p.passes.Add(1)
	if failed {
		p.failures.Add(1)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = d
	if len(p.samples) < cap(p.samples) {
		p.samples = append(p.samples, d)
		return
	}
	p.samples[p.next] = d
	p.next = (p.next + 1) % len(p.samples)
}

func (p *passTimer) summary() DurationStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.samples) == 0 {
		return DurationStats{}
	}
	var sum time.Duration
	for _, d := range p.samples {
		sum += d
	}
	return DurationStats{
		Last: p.last,
		Max:  slices.Max(p.samples),
		Avg:  sum / time.Duration(len(p.samples)),
		N:    len(p.samples),
	}
}

type engineMetrics struct {
	startedNs      atomic.Int64
	deliveries     atomic.Uint64
	firstDeliverNs atomic.Int64
	lastDeliverNs  atomic.Int64
	staleDrops     atomic.Uint64
	negativeDelays atomic.Uint64

	subscribeFailures atomic.Uint64
	teardowns         atomic.Uint64

	discovery *passTimer
	stats     *passTimer
}

func newEngineMetrics(window int, now time.Time) *engineMetrics {
	m := &engineMetrics{
		discovery: newPassTimer(window),
		stats:     newPassTimer(window),
	}
	m.startedNs.Store(now.UnixNano())
	return m
}

func (m *engineMetrics) observeDelivery(now time.Time) {
	nowNs := now.UnixNano()
	m.firstDeliverNs.CompareAndSwap(0, nowNs)
	m.lastDeliverNs.Store(nowNs)
	m.deliveries.Add(1)
}

func (m *engineMetrics) observeDiscovery(d time.Duration, err error) {
	m.discovery.observe(d, err != nil)
}

func (m *engineMetrics) observeStats(d time.Duration) {
	m.stats.observe(d, false)
}

// EngineStats describes how the engine itself is doing.
type EngineStats struct {
	Started           time.Time
	Deliveries        uint64
	AvgDeliveryRate   uint64
	LastDelivery      time.Time
	StaleDrops        uint64
	NegativeDelays    uint64
	SubscribeFailures uint64
	Teardowns         uint64
	DiscoveryPasses   uint64
	DiscoveryFailures uint64
	StatsPasses       uint64
	Subscriptions     int
	Discovery         DurationStats
	Stats             DurationStats
}

func (m *engineMetrics) snapshot() EngineStats {
	started := time.Unix(0, m.startedNs.Load())
	deliveries := m.deliveries.Load()

	var last time.Time
	lastNs := m.lastDeliverNs.Load()
	if lastNs != 0 {
		last = time.Unix(0, lastNs)
	}

	avgRate := uint64(0)
	firstNs := m.firstDeliverNs.Load()
	if firstNs != 0 && lastNs > firstNs {
		active := time.Duration(lastNs - firstNs)
		avg := float64(deliveries) / active.Seconds()
		if avg < 0 {
			avg = 0
		}
		avgRate = uint64(avg + 0.5)
	}

	return EngineStats{
		Started:           started,
		Deliveries:        deliveries,
		AvgDeliveryRate:   avgRate,
		LastDelivery:      last,
		StaleDrops:        m.staleDrops.Load(),
		NegativeDelays:    m.negativeDelays.Load(),
		SubscribeFailures: m.subscribeFailures.Load(),
		Teardowns:         m.teardowns.Load(),
		DiscoveryPasses:   m.discovery.passes.Load(),
		DiscoveryFailures: m.discovery.failures.Load(),
		StatsPasses:       m.stats.passes.Load(),
		Discovery:         m.discovery.summary(),
		Stats:             m.stats.summary(),
	}
}
