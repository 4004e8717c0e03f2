// Package telemetry exports monitor snapshots as Prometheus metrics.
package telemetry

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keilerkonzept/graphtop/internal/monitor"
	"github.com/keilerkonzept/graphtop/internal/window"
)

// Exporter mirrors the latest snapshot into Prometheus collectors.
type Exporter struct {
	gatherer prometheus.Gatherer

	topicRate  *prometheus.GaugeVec
	topicDelay *prometheus.GaugeVec
	topics     prometheus.Gauge
	services   prometheus.Gauge
	actions    prometheus.Gauge
	nodes      prometheus.Gauge

	deliveries        prometheus.Counter
	discoveryFailures prometheus.Counter
	subscribeFailures prometheus.Counter

	mu sync.Mutex
	// Topics with a series in topicRate and topicDelay.
	rateTopics  map[string]bool
	delayTopics map[string]bool
	// Counters only move forward, so remember what was already added.
	lastDeliveries        uint64
	lastDiscoveryFailures uint64
	lastSubscribeFailures uint64
}

// NewExporter registers its collectors with reg.
func NewExporter(reg *prometheus.Registry) (*Exporter, error) {
	e := &Exporter{
		gatherer: reg,
		topicRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graphtop_topic_rate_hz",
			Help: "Measured message rate per topic",
		}, []string{"topic"}),
		topicDelay: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graphtop_topic_delay_seconds",
			Help: "Mean end-to-end delay per topic",
		}, []string{"topic"}),
		topics: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphtop_topics",
			Help: "Topics currently tracked",
		}),
		services: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphtop_services",
			Help: "Services currently known",
		}),
		actions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphtop_actions",
			Help: "Actions inferred from status topics",
		}),
		nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphtop_nodes",
			Help: "Nodes currently in the graph",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "graphtop_deliveries_total",
			Help: "Messages received on measurement subscriptions",
		}),
		discoveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "graphtop_discovery_failures_total",
			Help: "Discovery passes abandoned",
		}),
		subscribeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "graphtop_subscribe_failures_total",
			Help: "Measurement subscriptions that could not be created",
		}),
	}

	for _, c := range []prometheus.Collector{
		e.topicRate, e.topicDelay,
		e.topics, e.services, e.actions, e.nodes,
		e.deliveries, e.discoveryFailures, e.subscribeFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Update refreshes every collector from snap. Topics whose rate or delay is a
// sentinel have no series for that value. Series are replaced in place so a
// concurrent scrape never sees the vectors empty.
func (e *Exporter) Update(snap monitor.Snapshot) {
	rates := make(map[string]float64, len(snap.Topics))
	delays := make(map[string]float64, len(snap.Topics))
	for _, row := range snap.Topics {
		if v, ok := measured(row.Rate); ok {
			rates[row.Name] = v
		}
		if v, ok := measured(row.Delay); ok {
			delays[row.Name] = v
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rateTopics = replaceSeries(e.topicRate, e.rateTopics, rates)
	e.delayTopics = replaceSeries(e.topicDelay, e.delayTopics, delays)
	e.topics.Set(float64(len(snap.Topics)))
	e.services.Set(float64(len(snap.Services)))
	e.actions.Set(float64(len(snap.Actions)))
	e.nodes.Set(float64(len(snap.Nodes)))

	e.lastDeliveries = advance(e.deliveries, e.lastDeliveries, snap.Engine.Deliveries)
	e.lastDiscoveryFailures = advance(e.discoveryFailures, e.lastDiscoveryFailures, snap.Engine.DiscoveryFailures)
	e.lastSubscribeFailures = advance(e.subscribeFailures, e.lastSubscribeFailures, snap.Engine.SubscribeFailures)
}

func measured(s string) (float64, bool) {
	if s == window.NotYet {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// replaceSeries sets one series per entry of values and deletes the series of
// topics in prev that values no longer has.
func replaceSeries(vec *prometheus.GaugeVec, prev map[string]bool, values map[string]float64) map[string]bool {
	for topic := range prev {
		if _, ok := values[topic]; !ok {
			vec.DeleteLabelValues(topic)
		}
	}
	next := make(map[string]bool, len(values))
	for topic, v := range values {
		vec.WithLabelValues(topic).Set(v)
		next[topic] = true
	}
	return next
}

func advance(c prometheus.Counter, last, now uint64) uint64 {
	if now > last {
		c.Add(float64(now - last))
		return now
	}
	return last
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{})
}
