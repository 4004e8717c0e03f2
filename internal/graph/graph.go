// Package graph describes the middleware primitives the monitor consumes.
//
// Implementations talk to the live pub/sub graph. The monitor only ever reads
// through these interfaces and never issues commands to the graph.
package graph

import "context"

// UnknownType is reported when the graph declares no type for an endpoint.
const UnknownType = "Unknown"

// NodeName identifies a node by name and namespace.
type NodeName struct {
	Name      string
	Namespace string
}

// ID is the display identifier: namespace and name concatenated as-is.
// A non-root namespace is expected to already end in a separator.
func (n NodeName) ID() string {
	return n.Namespace + n.Name
}

// Endpoint is a named topic or service with its declared types.
type Endpoint struct {
	Name  string
	Types []string
}

// FirstType returns the first declared type or UnknownType.
func (e Endpoint) FirstType() string {
	if len(e.Types) == 0 || e.Types[0] == "" {
		return UnknownType
	}
	return e.Types[0]
}

// Graph lists the current topology. Every call must honor ctx; callers bound
// each call with a deadline.
type Graph interface {
	Nodes(ctx context.Context) ([]NodeName, error)
	Topics(ctx context.Context) ([]Endpoint, error)
	Services(ctx context.Context) ([]Endpoint, error)
	Publishers(ctx context.Context, topic string) ([]NodeName, error)
	Subscribers(ctx context.Context, topic string) ([]NodeName, error)
	NodeServices(ctx context.Context, node NodeName) ([]Endpoint, error)
}

// Message is one delivered sample as raw bytes.
type Message struct {
	Payload []byte
}

// Handler receives deliveries. It is called from middleware goroutines.
type Handler func(msg Message)

// Subscription is a live subscription handle.
type Subscription interface {
	// Close stops deliveries. It must not wait for in-flight handler calls.
	Close() error
}

// Subscriber creates passive subscriptions.
type Subscriber interface {
	// Subscribe must not invoke h synchronously.
	Subscribe(topic string, ts TypeSupport, qos QoS, h Handler) (Subscription, error)
}

// Reliability is the delivery guarantee requested for a subscription.
type Reliability int

const (
	Reliable Reliability = iota
	BestEffort
)

func (r Reliability) String() string {
	switch r {
	case BestEffort:
		return "best-effort"
	default:
		return "reliable"
	}
}

// QoS is a subscription delivery policy. History is always keep-last.
type QoS struct {
	Reliability Reliability
	Depth       int
}

// SensorQoS is the policy used for measurement subscriptions.
func SensorQoS() QoS {
	return QoS{Reliability: BestEffort, Depth: 10}
}
