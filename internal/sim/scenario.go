package sim

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxRateHz bounds a topic's publish rate.
const MaxRateHz = 10_000

//go:embed default.yaml
var defaultScenario []byte

// Scenario describes a simulated graph.
type Scenario struct {
	Nodes    []NodeConfig    `yaml:"nodes"`
	Topics   []TopicConfig   `yaml:"topics"`
	Services []ServiceConfig `yaml:"services"`
	Actions  []ActionConfig  `yaml:"actions"`
}

// ---- NODES ----

type NodeConfig struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace"`
	// Services lists service names this node advertises.
	Services []string `yaml:"services"`
	// Unreachable makes per-node service queries fail.
	Unreachable bool     `yaml:"unreachable"`
	Lifetime    Lifetime `yaml:",inline"`
}

// ---- TOPICS ----

type TopicConfig struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Publishers  []string `yaml:"publishers"`
	Subscribers []string `yaml:"subscribers"`
	// RateHz is the publish rate; 0 means advertised but silent.
	RateHz  float64       `yaml:"rate_hz"`
	Latency time.Duration `yaml:"latency"`
	Jitter  time.Duration `yaml:"jitter"`
	// Stamped messages carry header.stamp.
	Stamped  bool     `yaml:"stamped"`
	Lifetime Lifetime `yaml:",inline"`
}

// ---- SERVICES ----

type ServiceConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// ---- ACTIONS ----

// ActionConfig expands into the four action machinery topics.
type ActionConfig struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Server  string   `yaml:"server"`
	Clients []string `yaml:"clients"`
}

// Lifetime bounds when an entity exists, as offsets from simulation start.
// A zero Vanish means it never goes away.
type Lifetime struct {
	Appear time.Duration `yaml:"appear"`
	Vanish time.Duration `yaml:"vanish"`
}

func (l Lifetime) liveAt(elapsed time.Duration) bool {
	if elapsed < l.Appear {
		return false
	}
	return l.Vanish == 0 || elapsed < l.Vanish
}

// Load reads, validates and normalizes a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Default returns the built-in scenario.
func Default() *Scenario {
	s, err := Parse(defaultScenario)
	if err != nil {
		panic(fmt.Sprintf("sim: built-in scenario is invalid: %v", err))
	}
	return s
}

// Parse decodes, normalizes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	Normalize(&s)
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Normalize fills namespaces and expands actions into their topics.
func Normalize(s *Scenario) {
	if s == nil {
		return
	}
	for i := range s.Nodes {
		n := &s.Nodes[i]
		if n.Namespace == "" {
			n.Namespace = "/"
		}
		if !strings.HasSuffix(n.Namespace, "/") {
			n.Namespace += "/"
		}
	}
	for _, a := range s.Actions {
		s.Topics = append(s.Topics, a.topics()...)
	}
	s.Actions = nil
}

func (a ActionConfig) topics() []TopicConfig {
	server := []string{a.Server}
	return []TopicConfig{
		{Name: a.Name + "/_action/feedback", Type: a.Type + "_FeedbackMessage", Publishers: server, Subscribers: a.Clients},
		{Name: a.Name + "/_action/status", Type: "action_msgs/msg/GoalStatusArray", Publishers: server, Subscribers: a.Clients},
		{Name: a.Name + "/_action/result", Type: a.Type + "_GetResult", Publishers: server, Subscribers: a.Clients},
		{Name: a.Name + "/_action/goal", Type: a.Type + "_SendGoal", Publishers: a.Clients, Subscribers: server},
	}
}

// Validate checks the scenario. It does not mutate it.
func Validate(s *Scenario) error {
	nodes := make(map[string]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.Name == "" {
			return fmt.Errorf("node with empty name")
		}
		id := n.Namespace + n.Name
		if nodes[id] {
			return fmt.Errorf("node %q: duplicate", id)
		}
		nodes[id] = true
		if n.Lifetime.Vanish != 0 && n.Lifetime.Vanish <= n.Lifetime.Appear {
			return fmt.Errorf("node %q: vanish must be after appear", id)
		}
	}

	services := make(map[string]bool, len(s.Services))
	for _, sv := range s.Services {
		if !strings.HasPrefix(sv.Name, "/") {
			return fmt.Errorf("service %q: name must start with /", sv.Name)
		}
		services[sv.Name] = true
	}
	for _, n := range s.Nodes {
		for _, sv := range n.Services {
			if !services[sv] {
				return fmt.Errorf("node %q: advertises undeclared service %q", n.Namespace+n.Name, sv)
			}
		}
	}

	topics := make(map[string]bool, len(s.Topics))
	for _, t := range s.Topics {
		if !strings.HasPrefix(t.Name, "/") {
			return fmt.Errorf("topic %q: name must start with /", t.Name)
		}
		if topics[t.Name] {
			return fmt.Errorf("topic %q: duplicate", t.Name)
		}
		topics[t.Name] = true
		if math.IsNaN(t.RateHz) || t.RateHz < 0 || t.RateHz > MaxRateHz {
			return fmt.Errorf("topic %q: rate_hz must be within [0, %d]", t.Name, MaxRateHz)
		}
		if t.Latency < 0 || t.Jitter < 0 {
			return fmt.Errorf("topic %q: latency and jitter must be >= 0", t.Name)
		}
		if t.Lifetime.Vanish != 0 && t.Lifetime.Vanish <= t.Lifetime.Appear {
			return fmt.Errorf("topic %q: vanish must be after appear", t.Name)
		}
		for _, id := range append(append([]string(nil), t.Publishers...), t.Subscribers...) {
			if !nodes[id] {
				return fmt.Errorf("topic %q: unknown node %q", t.Name, id)
			}
		}
	}
	return nil
}
