package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/keilerkonzept/graphtop/internal/graph"
)

type fakeGraph struct {
	mu        sync.Mutex
	nodes     []graph.NodeName
	topics    []graph.Endpoint
	services  []graph.Endpoint
	pubs      map[string][]graph.NodeName
	subs      map[string][]graph.NodeName
	nodeSvcs  map[string][]graph.Endpoint
	failNodes map[string]bool
	failPubs  map[string]bool
	listErr   error
	panicMsg  string
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		pubs:      make(map[string][]graph.NodeName),
		subs:      make(map[string][]graph.NodeName),
		nodeSvcs:  make(map[string][]graph.Endpoint),
		failNodes: make(map[string]bool),
		failPubs:  make(map[string]bool),
	}
}

func (g *fakeGraph) addTopic(name, typ string, pubs, subs []graph.NodeName) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.topics = append(g.topics, graph.Endpoint{Name: name, Types: []string{typ}})
	g.pubs[name] = pubs
	g.subs[name] = subs
}

func (g *fakeGraph) removeTopic(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.topics[:0]
	for _, t := range g.topics {
		if t.Name != name {
			kept = append(kept, t)
		}
	}
	g.topics = kept
	delete(g.pubs, name)
	delete(g.subs, name)
}

func (g *fakeGraph) setPublishers(topic string, pubs []graph.NodeName) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pubs[topic] = pubs
}

func (g *fakeGraph) Nodes(context.Context) ([]graph.NodeName, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.panicMsg != "" {
		panic(g.panicMsg)
	}
	if g.listErr != nil {
		return nil, g.listErr
	}
	return append([]graph.NodeName(nil), g.nodes...), nil
}

func (g *fakeGraph) Topics(context.Context) ([]graph.Endpoint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]graph.Endpoint(nil), g.topics...), nil
}

func (g *fakeGraph) Services(context.Context) ([]graph.Endpoint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]graph.Endpoint(nil), g.services...), nil
}

func (g *fakeGraph) Publishers(_ context.Context, topic string) ([]graph.NodeName, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failPubs[topic] {
		return nil, errors.New("publisher query timed out")
	}
	return g.pubs[topic], nil
}

func (g *fakeGraph) Subscribers(_ context.Context, topic string) ([]graph.NodeName, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.subs[topic], nil
}

func (g *fakeGraph) NodeServices(_ context.Context, node graph.NodeName) ([]graph.Endpoint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failNodes[node.ID()] {
		return nil, errors.New("node unreachable")
	}
	return g.nodeSvcs[node.ID()], nil
}

type fakeSub struct {
	topic   string
	qos     graph.QoS
	handler graph.Handler

	mu     sync.Mutex
	closes int
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSub) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeSubscriber struct {
	mu       sync.Mutex
	created  []*fakeSub
	failures map[string]bool
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{failures: make(map[string]bool)}
}

func (f *fakeSubscriber) Subscribe(topic string, _ graph.TypeSupport, qos graph.QoS, h graph.Handler) (graph.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[topic] {
		return nil, errors.New("create subscription failed")
	}
	s := &fakeSub{topic: topic, qos: qos, handler: h}
	f.created = append(f.created, s)
	return s, nil
}

func (f *fakeSubscriber) setFailure(topic string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[topic] = fail
}

// forTopic returns every subscription ever created for topic, oldest first.
func (f *fakeSubscriber) forTopic(topic string) []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeSub
	for _, s := range f.created {
		if s.topic == topic {
			out = append(out, s)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
	// step advances the clock after every read when non-zero.
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func (c *fakeClock) setStep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = d
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func node(ns, name string) graph.NodeName {
	return graph.NodeName{Name: name, Namespace: ns}
}

type harness struct {
	graph *fakeGraph
	subs  *fakeSubscriber
	clock *fakeClock
	mon   *Monitor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		graph: newFakeGraph(),
		subs:  newFakeSubscriber(),
		clock: &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	mon, err := New(h.graph, h.subs, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    h.clock.Now,
	})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	h.mon = mon
	return h
}

func (h *harness) discover(t *testing.T) {
	t.Helper()
	if err := h.mon.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() err=%v", err)
	}
}

func (h *harness) topic(t *testing.T, name string) TopicRow {
	t.Helper()
	for _, row := range h.mon.Snapshot(Filter{}).Topics {
		if row.Name == name {
			return row
		}
	}
	t.Fatalf("topic %q not in snapshot", name)
	return TopicRow{}
}

func (h *harness) subscribed(name string) bool {
	h.mon.mu.Lock()
	defer h.mon.mu.Unlock()
	_, ok := h.mon.taps[name]
	return ok
}
