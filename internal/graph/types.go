package graph

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrUnknownType is returned when a declared type name cannot be resolved.
var ErrUnknownType = errors.New("unknown message type")

// TypeSupport knows how to read the parts of a message the monitor cares about.
type TypeSupport interface {
	Name() string
	// PublishTime reports the publisher's stamp, if the message carries one.
	PublishTime(payload []byte) (time.Time, bool)
}

// Stamped reads header.stamp.{sec,nanosec} from JSON payloads.
type Stamped struct {
	TypeName string
}

func (s Stamped) Name() string { return s.TypeName }

func (s Stamped) PublishTime(payload []byte) (time.Time, bool) {
	stamp := gjson.GetBytes(payload, "header.stamp")
	if !stamp.IsObject() {
		return time.Time{}, false
	}
	sec := stamp.Get("sec")
	if sec.Type != gjson.Number {
		return time.Time{}, false
	}
	nsec := stamp.Get("nanosec")
	var ns int64
	if nsec.Exists() {
		if nsec.Type != gjson.Number {
			return time.Time{}, false
		}
		ns = nsec.Int()
	}
	return time.Unix(sec.Int(), ns), true
}

// Plain is a type without a header.
type Plain struct {
	TypeName string
}

func (p Plain) Name() string { return p.TypeName }

func (Plain) PublishTime([]byte) (time.Time, bool) { return time.Time{}, false }

// Unknown is the support reported for names that cannot be resolved.
var Unknown TypeSupport = Plain{TypeName: UnknownType}

// Registry maps declared type names to their support.
type Registry struct {
	types map[string]TypeSupport
}

// NewRegistry returns a registry holding supports.
func NewRegistry(supports ...TypeSupport) *Registry {
	r := &Registry{types: make(map[string]TypeSupport, len(supports))}
	for _, ts := range supports {
		r.Register(ts)
	}
	return r
}

// Register adds or replaces the support for ts.Name().
func (r *Registry) Register(ts TypeSupport) {
	r.types[ts.Name()] = ts
}

// Resolve finds the support for a declared type name. Registered names win;
// any other well-formed message type name is treated as possibly stamped.
func (r *Registry) Resolve(name string) (TypeSupport, error) {
	if ts, ok := r.types[name]; ok {
		return ts, nil
	}
	pkg, msg, ok := strings.Cut(name, "/msg/")
	if !ok || pkg == "" || msg == "" || strings.Contains(msg, "/") {
		return Unknown, fmt.Errorf("resolve %q: %w", name, ErrUnknownType)
	}
	return Stamped{TypeName: name}, nil
}

// DefaultRegistry knows the common header-less types so they never report
// spurious delays.
func DefaultRegistry() *Registry {
	plain := []string{
		"std_msgs/msg/Bool",
		"std_msgs/msg/Empty",
		"std_msgs/msg/Float32",
		"std_msgs/msg/Float64",
		"std_msgs/msg/Int32",
		"std_msgs/msg/Int64",
		"std_msgs/msg/String",
		"geometry_msgs/msg/Twist",
		"rcl_interfaces/msg/Log",
		"rcl_interfaces/msg/ParameterEvent",
		"rosgraph_msgs/msg/Clock",
		"tf2_msgs/msg/TFMessage",
	}
	stamped := []string{
		"geometry_msgs/msg/PoseStamped",
		"geometry_msgs/msg/TwistStamped",
		"nav_msgs/msg/Odometry",
		"nav_msgs/msg/Path",
		"sensor_msgs/msg/Imu",
		"sensor_msgs/msg/LaserScan",
		"sensor_msgs/msg/PointCloud2",
		"sensor_msgs/msg/Image",
	}
	r := NewRegistry()
	for _, n := range plain {
		r.Register(Plain{TypeName: n})
	}
	for _, n := range stamped {
		r.Register(Stamped{TypeName: n})
	}
	return r
}
