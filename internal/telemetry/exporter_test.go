package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/keilerkonzept/graphtop/internal/monitor"
)

func TestExporter_Update(t *testing.T) {
	reg := prometheus.NewRegistry()
	e, err := NewExporter(reg)
	if err != nil {
		t.Fatalf("NewExporter() err=%v", err)
	}

	snap := monitor.Snapshot{
		Topics: []monitor.TopicRow{
			{Name: "/scan", Rate: "15.02", Delay: "0.0081"},
			{Name: "/map", Rate: "0.0", Delay: "N/A"},
			{Name: "/plan", Rate: "NaN", Delay: "NaN"},
			{Name: "/nav/_action/status", Rate: "N/A", Delay: "N/A"},
		},
		Services: []monitor.ServiceRow{{Name: "/get_map"}},
		Nodes:    []string{"/a", "/b"},
		Engine:   monitor.EngineStats{Deliveries: 10, DiscoveryFailures: 1},
	}
	e.Update(snap)

	if got := testutil.ToFloat64(e.topicRate.WithLabelValues("/scan")); got != 15.02 {
		t.Fatalf("rate(/scan) = %v", got)
	}
	if got := testutil.ToFloat64(e.topicRate.WithLabelValues("/map")); got != 0 {
		t.Fatalf("rate(/map) = %v", got)
	}
	// A repeated update leaves the same series.
	e.Update(snap)
	if got := testutil.CollectAndCount(e.topicRate); got != 2 {
		t.Fatalf("rate series = %d, want 2", got)
	}
	if got := testutil.CollectAndCount(e.topicDelay); got != 1 {
		t.Fatalf("delay series = %d, want 1", got)
	}
	if got := testutil.ToFloat64(e.nodes); got != 2 {
		t.Fatalf("nodes = %v", got)
	}

	// Deliveries only grow by the difference between snapshots.
	snap.Engine.Deliveries = 25
	e.Update(snap)
	if got := testutil.ToFloat64(e.deliveries); got != 25 {
		t.Fatalf("deliveries = %v, want 25", got)
	}
	if got := testutil.ToFloat64(e.discoveryFailures); got != 1 {
		t.Fatalf("discovery failures = %v, want 1", got)
	}
}

func TestExporter_UpdateKeepsLiveSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	e, err := NewExporter(reg)
	if err != nil {
		t.Fatalf("NewExporter() err=%v", err)
	}

	e.Update(monitor.Snapshot{Topics: []monitor.TopicRow{
		{Name: "/scan", Rate: "1.00", Delay: "0.5000"},
		{Name: "/odom", Rate: "50.00", Delay: "0.0010"},
	}})
	scan := e.topicRate.WithLabelValues("/scan")

	e.Update(monitor.Snapshot{Topics: []monitor.TopicRow{
		{Name: "/scan", Rate: "2.00", Delay: "NaN"},
	}})

	// The series held from the first update is the one still exported.
	if got := testutil.ToFloat64(scan); got != 2 {
		t.Fatalf("rate(/scan) = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(e.topicRate); got != 1 {
		t.Fatalf("rate series = %d, want 1", got)
	}
	if got := testutil.CollectAndCount(e.topicDelay); got != 0 {
		t.Fatalf("delay series = %d, want 0", got)
	}
}

func TestExporter_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewExporter(reg); err != nil {
		t.Fatalf("NewExporter() err=%v", err)
	}
	if _, err := NewExporter(reg); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestExporter_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	e, err := NewExporter(reg)
	if err != nil {
		t.Fatalf("NewExporter() err=%v", err)
	}
	e.Update(monitor.Snapshot{Topics: []monitor.TopicRow{{Name: "/scan", Rate: "1.00", Delay: "0.5000"}}})

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `graphtop_topic_rate_hz{topic="/scan"} 1`) {
		t.Fatalf("metrics output missing rate series:\n%s", body)
	}
}
