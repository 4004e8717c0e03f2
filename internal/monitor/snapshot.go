package monitor

import (
	"slices"
	"strings"
	"time"

	"github.com/keilerkonzept/graphtop/internal/window"
)

// TopicRow is one topic as seen by a consumer.
type TopicRow struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Rate        string   `json:"rate"`
	Delay       string   `json:"delay"`
	Publishers  []string `json:"publishers"`
	Subscribers []string `json:"subscribers"`

	// Samples and DelaySamples count what the rate and delay windows hold.
	Samples      int `json:"samples"`
	DelaySamples int `json:"delay_samples"`
}

// Unmeasurable reports rows that carry no measurement of their own, which
// are the action machinery topics.
func (r TopicRow) Unmeasurable() bool {
	return r.Rate == window.NotApplicable && r.Delay == window.NotApplicable
}

// ServiceRow is one service and the nodes that advertise it.
type ServiceRow struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	Nodes []string `json:"nodes"`
}

// ActionRow is one action synthesized from its status topic.
type ActionRow struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Servers []string `json:"servers"`
}

// Snapshot is a consistent copy of the store taken under one lock.
type Snapshot struct {
	TakenAt  time.Time    `json:"takenAt"`
	Topics   []TopicRow   `json:"topics"`
	Services []ServiceRow `json:"services"`
	Actions  []ActionRow  `json:"actions"`
	Nodes    []string     `json:"nodes"`
	Engine   EngineStats  `json:"-"`
}

// Filter narrows a snapshot. Query is a case-insensitive substring of the
// entity name and applies to every collection.
type Filter struct {
	Query            string
	HideUnmeasurable bool
}

func (f Filter) match(name string) bool {
	if f.Query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(f.Query))
}

// Snapshot copies the store. Nothing in the result aliases monitor state.
func (m *Monitor) Snapshot(f Filter) Snapshot {
	snap := Snapshot{
		TakenAt: m.now(),
		Engine:  m.metrics.snapshot(),
	}

	m.mu.Lock()
	snap.Engine.Subscriptions = len(m.taps)
	for name, rec := range m.topics {
		if !f.match(name) {
			continue
		}
		row := TopicRow{
			Name:        name,
			Type:        rec.typeName,
			Rate:        rec.rate,
			Delay:       rec.delay,
			Publishers:  slices.Clone(rec.publishers),
			Subscribers: slices.Clone(rec.subscribers),
		}
		row.Samples, row.DelaySamples = rec.stat.EventCount(), rec.stat.DelayCount()
		if f.HideUnmeasurable && row.Unmeasurable() {
			continue
		}
		snap.Topics = append(snap.Topics, row)
	}
	for name, rec := range m.services {
		if !f.match(name) {
			continue
		}
		snap.Services = append(snap.Services, ServiceRow{Name: name, Type: rec.typeName, Nodes: sortedSet(rec.nodes)})
	}
	for name, rec := range m.actions {
		if !f.match(name) {
			continue
		}
		snap.Actions = append(snap.Actions, ActionRow{Name: name, Type: rec.typeName, Servers: sortedSet(rec.servers)})
	}
	for _, n := range m.nodes {
		if f.match(n) {
			snap.Nodes = append(snap.Nodes, n)
		}
	}
	m.mu.Unlock()

	slices.SortFunc(snap.Topics, func(a, b TopicRow) int { return strings.Compare(a.Name, b.Name) })
	slices.SortFunc(snap.Services, func(a, b ServiceRow) int { return strings.Compare(a.Name, b.Name) })
	slices.SortFunc(snap.Actions, func(a, b ActionRow) int { return strings.Compare(a.Name, b.Name) })
	return snap
}

func sortedSet(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

// Filtered narrows an existing snapshot with f. Rows are shared with s.
func (s Snapshot) Filtered(f Filter) Snapshot {
	out := Snapshot{TakenAt: s.TakenAt, Engine: s.Engine}
	for _, row := range s.Topics {
		if f.match(row.Name) && !(f.HideUnmeasurable && row.Unmeasurable()) {
			out.Topics = append(out.Topics, row)
		}
	}
	for _, row := range s.Services {
		if f.match(row.Name) {
			out.Services = append(out.Services, row)
		}
	}
	for _, row := range s.Actions {
		if f.match(row.Name) {
			out.Actions = append(out.Actions, row)
		}
	}
	for _, n := range s.Nodes {
		if f.match(n) {
			out.Nodes = append(out.Nodes, n)
		}
	}
	return out
}
