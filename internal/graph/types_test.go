package graph

import (
	"errors"
	"testing"
	"time"
)

func TestNodeNameID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		node NodeName
		want string
	}{
		{node: NodeName{Name: "talker", Namespace: "/"}, want: "/talker"},
		{node: NodeName{Name: "planner", Namespace: "/nav/"}, want: "/nav/planner"},
		// No separator is inserted even when the namespace lacks one.
		{node: NodeName{Name: "planner", Namespace: "/nav"}, want: "/navplanner"},
	}
	for _, tt := range tests {
		if got := tt.node.ID(); got != tt.want {
			t.Errorf("%+v.ID() = %q, want %q", tt.node, got, tt.want)
		}
	}
}

func TestEndpointFirstType(t *testing.T) {
	t.Parallel()

	if got := (Endpoint{Name: "/a"}).FirstType(); got != UnknownType {
		t.Fatalf("FirstType() = %q, want %q", got, UnknownType)
	}
	e := Endpoint{Name: "/a", Types: []string{"std_msgs/msg/String", "other/msg/X"}}
	if got := e.FirstType(); got != "std_msgs/msg/String" {
		t.Fatalf("FirstType() = %q", got)
	}
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()

	tests := []struct {
		name        string
		typeName    string
		wantErr     bool
		wantStamped bool
	}{
		{name: "registered plain", typeName: "std_msgs/msg/String"},
		{name: "registered stamped", typeName: "sensor_msgs/msg/Imu", wantStamped: true},
		{name: "well-formed unregistered", typeName: "custom_msgs/msg/Telemetry", wantStamped: true},
		{name: "unknown sentinel", typeName: UnknownType, wantErr: true},
		{name: "action wrapper", typeName: "nav2_msgs/action/FollowPath_FeedbackMessage", wantErr: true},
		{name: "missing package", typeName: "/msg/Thing", wantErr: true},
		{name: "empty", typeName: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts, err := r.Resolve(tt.typeName)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownType) {
					t.Fatalf("Resolve(%q) err = %v, want ErrUnknownType", tt.typeName, err)
				}
				if ts != Unknown {
					t.Fatalf("Resolve(%q) support = %v, want Unknown", tt.typeName, ts)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) err = %v", tt.typeName, err)
			}
			if ts.Name() != tt.typeName {
				t.Fatalf("Name() = %q, want %q", ts.Name(), tt.typeName)
			}
			_, stamped := ts.(Stamped)
			if stamped != tt.wantStamped {
				t.Fatalf("stamped = %v, want %v", stamped, tt.wantStamped)
			}
		})
	}
}

func TestStampedPublishTime(t *testing.T) {
	t.Parallel()

	s := Stamped{TypeName: "sensor_msgs/msg/Imu"}

	tests := []struct {
		name    string
		payload string
		want    time.Time
		ok      bool
	}{
		{
			name:    "full stamp",
			payload: `{"header":{"stamp":{"sec":1700000000,"nanosec":250000000},"frame_id":"imu"}}`,
			want:    time.Unix(1700000000, 250000000),
			ok:      true,
		},
		{
			name:    "seconds only",
			payload: `{"header":{"stamp":{"sec":12}}}`,
			want:    time.Unix(12, 0),
			ok:      true,
		},
		{name: "no header", payload: `{"data":1}`},
		{name: "stamp not an object", payload: `{"header":{"stamp":5}}`},
		{name: "sec is a string", payload: `{"header":{"stamp":{"sec":"12"}}}`},
		{name: "nanosec is a string", payload: `{"header":{"stamp":{"sec":12,"nanosec":"x"}}}`},
		{name: "not json", payload: `\x00\x01`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := s.PublishTime([]byte(tt.payload))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Fatalf("PublishTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlainNeverStamped(t *testing.T) {
	p := Plain{TypeName: "std_msgs/msg/String"}
	if _, ok := p.PublishTime([]byte(`{"header":{"stamp":{"sec":1}}}`)); ok {
		t.Fatal("Plain reported a publish time")
	}
}

func TestSensorQoS(t *testing.T) {
	q := SensorQoS()
	if q.Reliability != BestEffort || q.Depth != 10 {
		t.Fatalf("SensorQoS() = %+v", q)
	}
	if q.Reliability.String() != "best-effort" {
		t.Fatalf("String() = %q", q.Reliability.String())
	}
}
