package monitor

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/keilerkonzept/graphtop/internal/graph"
	"github.com/keilerkonzept/graphtop/internal/window"
)

// Action machinery topic suffixes.
const (
	feedbackSuffix = "/_action/feedback"
	statusSuffix   = "/_action/status"
	resultSuffix   = "/_action/result"
	goalSuffix     = "/_action/goal"

	feedbackWrapper = "_FeedbackMessage"
	actionTypeMark  = "/action/"
)

// IsActionTopic reports whether a topic belongs to an action's machinery.
func IsActionTopic(name string) bool {
	return strings.HasSuffix(name, feedbackSuffix) ||
		strings.HasSuffix(name, statusSuffix) ||
		strings.HasSuffix(name, resultSuffix) ||
		strings.HasSuffix(name, goalSuffix)
}

// observation is everything one pass learned from the graph. A missing key in
// publishers, subscribers or nodeServices means that query failed.
type observation struct {
	nodes        []graph.NodeName
	topics       []graph.Endpoint
	services     []graph.Endpoint
	publishers   map[string][]string
	subscribers  map[string][]string
	nodeServices map[string][]graph.Endpoint
}

func bounded[T any](ctx context.Context, m *Monitor, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.RPCTimeout)
	defer cancel()
	return fn(ctx)
}

// Discover runs one discovery pass: it queries the graph, then reconciles the
// store and measurement subscriptions against what it found. A failure to
// list nodes, topics or services abandons the pass before anything changes.
func (m *Monitor) Discover(ctx context.Context) error {
	obs, err := m.observe(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.applyLocked(obs)
	return nil
}

func (m *Monitor) observe(ctx context.Context) (*observation, error) {
	logger := m.logger.With("component", "discovery")

	nodes, err := bounded(ctx, m, m.graph.Nodes)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	topics, err := bounded(ctx, m, m.graph.Topics)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	services, err := bounded(ctx, m, m.graph.Services)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}

	obs := &observation{
		nodes:        nodes,
		topics:       topics,
		services:     services,
		publishers:   make(map[string][]string, len(topics)),
		subscribers:  make(map[string][]string, len(topics)),
		nodeServices: make(map[string][]graph.Endpoint, len(nodes)),
	}

	for _, t := range topics {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pubs, err := bounded(ctx, m, func(ctx context.Context) ([]graph.NodeName, error) {
			return m.graph.Publishers(ctx, t.Name)
		})
		if err != nil {
			logger.Warn("publisher query failed", "topic", t.Name, "error", err)
		} else {
			obs.publishers[t.Name] = nodeIDs(pubs)
		}

		if IsActionTopic(t.Name) {
			continue
		}
		subs, err := bounded(ctx, m, func(ctx context.Context) ([]graph.NodeName, error) {
			return m.graph.Subscribers(ctx, t.Name)
		})
		if err != nil {
			logger.Warn("subscriber query failed", "topic", t.Name, "error", err)
			continue
		}
		obs.subscribers[t.Name] = nodeIDs(subs)
	}

	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		eps, err := bounded(ctx, m, func(ctx context.Context) ([]graph.Endpoint, error) {
			return m.graph.NodeServices(ctx, n)
		})
		if err != nil {
			logger.Warn("node service query failed", "node", n.ID(), "error", err)
			continue
		}
		obs.nodeServices[n.ID()] = eps
	}
	return obs, nil
}

// nodeIDs returns the sorted, de-duplicated display ids.
func nodeIDs(names []graph.NodeName) []string {
	ids := make([]string, 0, len(names))
	for _, n := range names {
		ids = append(ids, n.ID())
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func (m *Monitor) applyLocked(obs *observation) {
	nodes := make([]string, 0, len(obs.nodes))
	for _, n := range obs.nodes {
		nodes = append(nodes, n.ID())
	}
	slices.Sort(nodes)
	m.nodes = nodes

	current := make(map[string]struct{}, len(obs.topics))
	for _, t := range obs.topics {
		current[t.Name] = struct{}{}
	}
	for name := range m.topics {
		if _, ok := current[name]; !ok {
			m.teardownLocked(name)
			delete(m.topics, name)
		}
	}

	for _, t := range obs.topics {
		rec, ok := m.topics[t.Name]
		if !ok {
			rec = &topicRecord{
				typeName: t.FirstType(),
				stat:     window.New(m.opts.Capacity),
				rate:     window.NotYet,
				delay:    window.NotYet,
			}
			m.topics[t.Name] = rec
		}
		m.reconcileTopicLocked(t.Name, rec, obs)
	}

	m.rebuildActionsLocked()
	m.rebuildServicesLocked(obs)
}

func (m *Monitor) reconcileTopicLocked(name string, rec *topicRecord, obs *observation) {
	pubs, pubsKnown := obs.publishers[name]

	if IsActionTopic(name) {
		rec.measurable = false
		if pubsKnown {
			rec.publishers = pubs
		}
		rec.subscribers = nil
		rec.rate = window.NotApplicable
		rec.delay = window.NotApplicable
		m.teardownLocked(name)
		return
	}

	// Without a publisher list there is nothing to decide this pass.
	if !pubsKnown {
		return
	}
	rec.publishers = pubs
	if subs, ok := obs.subscribers[name]; ok {
		rec.subscribers = subs
	}

	if len(pubs) > 0 {
		rec.measurable = true
		m.ensureTapLocked(name, rec)
		return
	}
	rec.measurable = false
	rec.rate = window.Silent
	rec.delay = window.NotApplicable
	m.teardownLocked(name)
}

func (m *Monitor) rebuildActionsLocked() {
	actions := make(map[string]*actionRecord)
	for name, rec := range m.topics {
		base, ok := strings.CutSuffix(name, statusSuffix)
		if !ok {
			continue
		}
		typeName := graph.UnknownType
		if fb, ok := m.topics[base+feedbackSuffix]; ok {
			typeName = actionType(fb.typeName)
		}
		servers := slices.Clone(rec.publishers)
		if len(servers) == 0 {
			servers = []string{graph.UnknownType}
		}
		actions[base] = &actionRecord{typeName: typeName, servers: servers}
	}
	m.actions = actions
}

// actionType infers an action's type from its feedback topic's type.
func actionType(feedbackType string) string {
	if t, ok := strings.CutSuffix(feedbackType, feedbackWrapper); ok {
		return t
	}
	if strings.Contains(feedbackType, actionTypeMark) {
		return feedbackType
	}
	return graph.UnknownType
}

func (m *Monitor) rebuildServicesLocked(obs *observation) {
	services := make(map[string]*serviceRecord, len(obs.services))
	for _, s := range obs.services {
		services[s.Name] = &serviceRecord{typeName: s.FirstType()}
	}
	for _, n := range obs.nodes {
		id := n.ID()
		eps, ok := obs.nodeServices[id]
		if !ok {
			continue
		}
		for _, ep := range eps {
			if rec, ok := services[ep.Name]; ok {
				rec.nodes = append(rec.nodes, id)
			}
		}
	}
	m.services = services
}
