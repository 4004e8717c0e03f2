// Package monitor tracks a live pub/sub graph and keeps per-topic liveness
// statistics.
//
// A Monitor owns one lock. Discovery passes, stats passes, message deliveries
// and snapshot reads all take it, so a Snapshot is always self-consistent.
// Graph RPCs run before the lock is taken; only the apply step and
// subscription bookkeeping run under it.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keilerkonzept/graphtop/internal/graph"
	"github.com/keilerkonzept/graphtop/internal/window"
)

// Reference cadences.
const (
	DefaultDiscoveryInterval = 1500 * time.Millisecond
	DefaultStatsInterval     = 400 * time.Millisecond
	DefaultRPCTimeout        = 500 * time.Millisecond
	defaultMetricsWindow     = 64
)

// Options configures a Monitor. Zero values pick the defaults.
type Options struct {
	DiscoveryInterval time.Duration
	StatsInterval     time.Duration
	// RPCTimeout bounds each individual graph call.
	RPCTimeout time.Duration
	// Capacity is the per-topic window size.
	Capacity int
	Registry *graph.Registry
	Logger   *slog.Logger
	Now      func() time.Time
	// OnDelivery runs after each recorded delivery, outside the lock.
	OnDelivery func(topic string, at time.Time)
}

func (o Options) withDefaults() Options {
	if o.DiscoveryInterval <= 0 {
		o.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = DefaultStatsInterval
	}
	if o.RPCTimeout <= 0 {
		o.RPCTimeout = DefaultRPCTimeout
	}
	if o.Capacity <= 0 {
		o.Capacity = window.DefaultCapacity
	}
	if o.Registry == nil {
		o.Registry = graph.DefaultRegistry()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type topicRecord struct {
	typeName    string
	publishers  []string
	subscribers []string
	stat        *window.Stat
	rate        string
	delay       string
	// measurable is true when the topic has publishers and is not action
	// machinery. Only measurable topics are touched by the stats pass.
	measurable bool
}

type serviceRecord struct {
	typeName string
	nodes    []string
}

type actionRecord struct {
	typeName string
	servers  []string
}

// Monitor is the shared store plus the loops that keep it current.
type Monitor struct {
	graph      graph.Graph
	subscriber graph.Subscriber
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
	metrics    *engineMetrics

	mu       sync.Mutex
	topics   map[string]*topicRecord
	services map[string]*serviceRecord
	actions  map[string]*actionRecord
	nodes    []string
	taps     map[string]*tap
	closed   bool
}

// New builds a Monitor over g. sub creates measurement subscriptions.
func New(g graph.Graph, sub graph.Subscriber, opts Options) (*Monitor, error) {
	if g == nil {
		return nil, errors.New("monitor: graph required")
	}
	if sub == nil {
		return nil, errors.New("monitor: subscriber required")
	}
	opts = opts.withDefaults()
	return &Monitor{
		graph:      g,
		subscriber: sub,
		opts:       opts,
		logger:     opts.Logger,
		now:        opts.Now,
		metrics:    newEngineMetrics(defaultMetricsWindow, opts.Now()),
		topics:     make(map[string]*topicRecord),
		services:   make(map[string]*serviceRecord),
		actions:    make(map[string]*actionRecord),
		taps:       make(map[string]*tap),
	}, nil
}

// Run performs an initial discovery, then runs discovery and stats passes on
// their own cadences until ctx is done. All subscriptions are closed on return.
func (m *Monitor) Run(ctx context.Context) error {
	m.discoverLogged(ctx)
	m.ComputeStats()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return every(ctx, m.opts.DiscoveryInterval, func() { m.discoverLogged(ctx) })
	})
	g.Go(func() error {
		return every(ctx, m.opts.StatsInterval, m.ComputeStats)
	})
	err := g.Wait()
	m.Close()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}

// discoverLogged runs one pass and keeps any failure inside the monitor.
func (m *Monitor) discoverLogged(ctx context.Context) {
	start := time.Now()
	err := m.safeDiscover(ctx)
	m.metrics.observeDiscovery(time.Since(start), err)
	if err != nil && ctx.Err() == nil {
		m.logger.Error("graph update failed", "component", "discovery", "error", err)
	}
}

func (m *Monitor) safeDiscover(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("discovery panicked: %v", r)
		}
	}()
	return m.Discover(ctx)
}

// ComputeStats refreshes rate and delay for every measurable topic.
func (m *Monitor) ComputeStats() {
	start := time.Now()
	now := m.now()
	m.mu.Lock()
	for _, rec := range m.topics {
		if !rec.measurable {
			continue
		}
		rec.rate = rec.stat.Rate(now)
		rec.delay = rec.stat.Delay()
	}
	m.mu.Unlock()
	m.metrics.observeStats(time.Since(start))
}

// Close tears down every measurement subscription. The store keeps its last
// state for readers; later discovery passes are ignored.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.taps {
		m.teardownLocked(name)
	}
	m.closed = true
}
