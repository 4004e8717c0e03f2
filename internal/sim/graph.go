// Package sim is an in-process stand-in for the pub/sub middleware. It serves
// the topology of a Scenario and publishes synthetic messages on subscribed
// topics at their configured rates.
package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/keilerkonzept/graphtop/internal/graph"
)

// ErrUnreachable is returned by NodeServices for unreachable nodes.
var ErrUnreachable = errors.New("node unreachable")

// Graph implements graph.Graph and graph.Subscriber over a Scenario.
type Graph struct {
	scenario *Scenario
	now      func() time.Time
	start    time.Time

	nodes  map[string]NodeConfig
	topics map[string]TopicConfig

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// Option customizes a Graph.
type Option func(*Graph)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(g *Graph) { g.now = now }
}

// New builds a Graph. The scenario clock starts now.
func New(s *Scenario, opts ...Option) *Graph {
	g := &Graph{
		scenario: s,
		now:      time.Now,
		nodes:    make(map[string]NodeConfig, len(s.Nodes)),
		topics:   make(map[string]TopicConfig, len(s.Topics)),
		subs:     make(map[*subscription]struct{}),
	}
	for _, o := range opts {
		o(g)
	}
	g.start = g.now()
	for _, n := range s.Nodes {
		g.nodes[n.Namespace+n.Name] = n
	}
	for _, t := range s.Topics {
		g.topics[t.Name] = t
	}
	return g
}

func (g *Graph) elapsed() time.Duration {
	return g.now().Sub(g.start)
}

func (g *Graph) nodeLive(id string, elapsed time.Duration) bool {
	n, ok := g.nodes[id]
	return ok && n.Lifetime.liveAt(elapsed)
}

func (g *Graph) topicLive(t TopicConfig, elapsed time.Duration) bool {
	return t.Lifetime.liveAt(elapsed)
}

func (g *Graph) liveNodes(ids []string, elapsed time.Duration) []graph.NodeName {
	var out []graph.NodeName
	for _, id := range ids {
		if g.nodeLive(id, elapsed) {
			n := g.nodes[id]
			out = append(out, graph.NodeName{Name: n.Name, Namespace: n.Namespace})
		}
	}
	return out
}

func (g *Graph) Nodes(ctx context.Context) ([]graph.NodeName, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	elapsed := g.elapsed()
	var out []graph.NodeName
	for _, n := range g.scenario.Nodes {
		if n.Lifetime.liveAt(elapsed) {
			out = append(out, graph.NodeName{Name: n.Name, Namespace: n.Namespace})
		}
	}
	return out, nil
}

// Topics lists live topics that have at least one live endpoint.
func (g *Graph) Topics(ctx context.Context) ([]graph.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	elapsed := g.elapsed()
	var out []graph.Endpoint
	for _, t := range g.scenario.Topics {
		if !g.topicLive(t, elapsed) {
			continue
		}
		if len(g.liveNodes(t.Publishers, elapsed)) == 0 && len(g.liveNodes(t.Subscribers, elapsed)) == 0 {
			continue
		}
		out = append(out, graph.Endpoint{Name: t.Name, Types: []string{t.Type}})
	}
	return out, nil
}

// Services lists services advertised by at least one live node.
func (g *Graph) Services(ctx context.Context) ([]graph.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	elapsed := g.elapsed()
	advertised := make(map[string]bool)
	for _, n := range g.scenario.Nodes {
		if !n.Lifetime.liveAt(elapsed) {
			continue
		}
		for _, s := range n.Services {
			advertised[s] = true
		}
	}
	var out []graph.Endpoint
	for _, s := range g.scenario.Services {
		if advertised[s.Name] {
			out = append(out, graph.Endpoint{Name: s.Name, Types: []string{s.Type}})
		}
	}
	return out, nil
}

func (g *Graph) Publishers(ctx context.Context, topic string) ([]graph.NodeName, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, ok := g.topics[topic]
	elapsed := g.elapsed()
	if !ok || !g.topicLive(t, elapsed) {
		return nil, nil
	}
	return g.liveNodes(t.Publishers, elapsed), nil
}

func (g *Graph) Subscribers(ctx context.Context, topic string) ([]graph.NodeName, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, ok := g.topics[topic]
	elapsed := g.elapsed()
	if !ok || !g.topicLive(t, elapsed) {
		return nil, nil
	}
	return g.liveNodes(t.Subscribers, elapsed), nil
}

func (g *Graph) NodeServices(ctx context.Context, node graph.NodeName) ([]graph.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, ok := g.nodes[node.ID()]
	if !ok || !n.Lifetime.liveAt(g.elapsed()) {
		return nil, fmt.Errorf("node %s: not found", node.ID())
	}
	if n.Unreachable {
		return nil, fmt.Errorf("node %s: %w", node.ID(), ErrUnreachable)
	}
	types := make(map[string]string, len(g.scenario.Services))
	for _, s := range g.scenario.Services {
		types[s.Name] = s.Type
	}
	out := make([]graph.Endpoint, 0, len(n.Services))
	for _, s := range n.Services {
		out = append(out, graph.Endpoint{Name: s, Types: []string{types[s]}})
	}
	return out, nil
}

// Subscribe starts delivering synthetic messages for topic. Deliveries happen
// on a dedicated goroutine and stop when the topic has no live publisher.
func (g *Graph) Subscribe(topic string, ts graph.TypeSupport, qos graph.QoS, h graph.Handler) (graph.Subscription, error) {
	t, ok := g.topics[topic]
	if !ok {
		return nil, fmt.Errorf("subscribe %s: no such topic", topic)
	}
	if ts.Name() != t.Type {
		return nil, fmt.Errorf("subscribe %s: type %s does not match %s", topic, ts.Name(), t.Type)
	}
	if qos.Depth < 1 {
		return nil, fmt.Errorf("subscribe %s: history depth must be >= 1", topic)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{g: g, topic: t, handler: h, cancel: cancel}
	g.mu.Lock()
	g.subs[s] = struct{}{}
	g.mu.Unlock()

	go s.run(ctx)
	return s, nil
}

// ActiveSubscriptions is the number of subscriptions not yet closed.
func (g *Graph) ActiveSubscriptions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

type subscription struct {
	g       *Graph
	topic   TopicConfig
	handler graph.Handler
	cancel  context.CancelFunc
	once    sync.Once
}

// Close stops the publisher goroutine without waiting for it.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.g.mu.Lock()
		delete(s.g.subs, s)
		s.g.mu.Unlock()
	})
	return nil
}

func (s *subscription) run(ctx context.Context) {
	// Scenarios handed to New directly skip Validate.
	if !(s.topic.RateHz > 0) {
		return
	}
	period := time.Duration(float64(time.Second) / min(s.topic.RateHz, MaxRateHz))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := s.g.elapsed()
			if !s.topic.Lifetime.liveAt(elapsed) || len(s.g.liveNodes(s.topic.Publishers, elapsed)) == 0 {
				continue
			}
			seq++
			payload, err := s.payload(seq)
			if err != nil {
				continue
			}
			s.handler(graph.Message{Payload: payload})
		}
	}
}

type stamp struct {
	Sec     int64 `json:"sec"`
	Nanosec int64 `json:"nanosec"`
}

type header struct {
	Stamp   stamp  `json:"stamp"`
	FrameID string `json:"frame_id"`
}

func (s *subscription) payload(seq uint64) ([]byte, error) {
	if !s.topic.Stamped {
		return json.Marshal(struct {
			Seq uint64 `json:"seq"`
		}{seq})
	}
	delay := s.topic.Latency
	if s.topic.Jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(2*s.topic.Jitter))) - s.topic.Jitter
	}
	published := s.g.now().Add(-delay)
	return json.Marshal(struct {
		Header header `json:"header"`
		Seq    uint64 `json:"seq"`
	}{
		Header: header{
			Stamp:   stamp{Sec: published.Unix(), Nanosec: int64(published.Nanosecond())},
			FrameID: s.topic.Name,
		},
		Seq: seq,
	})
}
