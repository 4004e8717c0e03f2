package monitor

import (
	"github.com/keilerkonzept/graphtop/internal/graph"
)

// tap is one measurement subscription. It owns its topic name, and a
// delivery only counts while the tap is still the one registered for it.
type tap struct {
	topic   string
	support graph.TypeSupport
	sub     graph.Subscription
	m       *Monitor
}

func (t *tap) deliver(msg graph.Message) {
	m := t.m
	published, stamped := t.support.PublishTime(msg.Payload)

	m.mu.Lock()
	// Arrival time is read under the lock so concurrent deliveries append
	// to the window in clock order.
	now := m.now()
	rec, ok := m.topics[t.topic]
	if !ok || m.taps[t.topic] != t {
		m.mu.Unlock()
		m.metrics.staleDrops.Add(1)
		return
	}
	rec.stat.RecordEvent(now)
	if stamped && !rec.stat.RecordDelay(now.Sub(published).Seconds()) {
		m.metrics.negativeDelays.Add(1)
	}
	m.mu.Unlock()

	m.metrics.observeDelivery(now)
	if m.opts.OnDelivery != nil {
		m.opts.OnDelivery(t.topic, now)
	}
}

// ensureTapLocked subscribes name unless it already has a tap. Failures are
// logged and retried by the next discovery pass.
func (m *Monitor) ensureTapLocked(name string, rec *topicRecord) {
	if _, ok := m.taps[name]; ok {
		return
	}
	logger := m.logger.With("component", "subscriptions", "topic", name, "type", rec.typeName)

	support, err := m.opts.Registry.Resolve(rec.typeName)
	if err != nil {
		m.metrics.subscribeFailures.Add(1)
		logger.Warn("failed to subscribe", "error", err)
		return
	}

	t := &tap{topic: name, support: support, m: m}
	sub, err := m.subscriber.Subscribe(name, support, graph.SensorQoS(), t.deliver)
	if err != nil {
		m.metrics.subscribeFailures.Add(1)
		logger.Warn("failed to subscribe", "error", err)
		return
	}
	t.sub = sub
	m.taps[name] = t
	logger.Debug("subscribed")
}

// teardownLocked closes the tap for name, if any, and clears its windows so
// a later resubscription starts from fresh data.
func (m *Monitor) teardownLocked(name string) {
	t, ok := m.taps[name]
	if !ok {
		return
	}
	delete(m.taps, name)
	m.metrics.teardowns.Add(1)
	if err := t.sub.Close(); err != nil {
		m.logger.Warn("failed to close subscription", "component", "subscriptions", "topic", name, "error", err)
	}
	if rec, ok := m.topics[name]; ok {
		rec.stat.Reset()
	}
}
