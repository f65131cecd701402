package metrics

import (
	"testing"
	"time"
)

func TestSnapshotCounters(t *testing.T) {
	c := NewCollector()

	c.IncrementConnections()
	c.IncrementConnections()
	c.DecrementConnections()
	c.IncrementMessagesReceived()
	c.IncrementEventsPublished()
	c.IncrementEventsDelivered()
	c.AddSubscriptions(3)
	c.AddSubscriptions(-1)
	c.RecordError("protocol")
	c.RecordError("protocol")

	s := c.Snapshot()
	if s.ConnectionsTotal != 2 || s.ConnectionsActive != 1 {
		t.Errorf("connections = %d/%d, want 2/1", s.ConnectionsTotal, s.ConnectionsActive)
	}
	if s.SubscriptionsActive != 2 {
		t.Errorf("subscriptions = %d, want 2", s.SubscriptionsActive)
	}
	if s.Errors["protocol"] != 2 {
		t.Errorf("protocol errors = %d, want 2", s.Errors["protocol"])
	}
}

func TestLatencyWindowBounded(t *testing.T) {
	c := NewCollector()

	for i := 0; i < maxLatencySamples+100; i++ {
		c.RecordLatency(time.Millisecond)
	}
	c.mu.Lock()
	n := len(c.latencies)
	c.mu.Unlock()
	if n != maxLatencySamples {
		t.Errorf("window size = %d, want %d", n, maxLatencySamples)
	}
}

func TestLatencyStats(t *testing.T) {
	c := NewCollector()
	c.RecordLatency(10 * time.Millisecond)
	c.RecordLatency(30 * time.Millisecond)

	s := c.Snapshot()
	if s.AvgLatencyMs != 20 {
		t.Errorf("avg = %v, want 20", s.AvgLatencyMs)
	}
	if s.MaxLatencyMs != 30 {
		t.Errorf("max = %v, want 30", s.MaxLatencyMs)
	}
}

func TestHealthStatus(t *testing.T) {
	t.Run("empty collector is healthy", func(t *testing.T) {
		c := NewCollector()
		if got := c.HealthStatus(); got != StatusHealthy {
			t.Errorf("status = %s", got)
		}
	})

	t.Run("high error rate is unhealthy", func(t *testing.T) {
		c := NewCollector()
		for i := 0; i < 100; i++ {
			c.IncrementMessagesReceived()
		}
		for i := 0; i < 10; i++ {
			c.RecordError("transport")
		}
		if got := c.HealthStatus(); got != StatusUnhealthy {
			t.Errorf("status = %s, want unhealthy", got)
		}
	})

	t.Run("moderate error rate is degraded", func(t *testing.T) {
		c := NewCollector()
		for i := 0; i < 100; i++ {
			c.IncrementMessagesReceived()
		}
		c.RecordError("transport")
		c.RecordError("transport")
		if got := c.HealthStatus(); got != StatusDegraded {
			t.Errorf("status = %s, want degraded", got)
		}
	})

	t.Run("high latency is unhealthy", func(t *testing.T) {
		c := NewCollector()
		c.RecordLatency(2 * time.Second)
		if got := c.HealthStatus(); got != StatusUnhealthy {
			t.Errorf("status = %s, want unhealthy", got)
		}
	})

	t.Run("connection failures degrade", func(t *testing.T) {
		c := NewCollector()
		for i := 0; i < 90; i++ {
			c.IncrementConnections()
		}
		for i := 0; i < 10; i++ {
			c.IncrementConnectionFailures()
		}
		if got := c.HealthStatus(); got != StatusDegraded {
			t.Errorf("status = %s, want degraded", got)
		}
	})

	t.Run("worst signal wins", func(t *testing.T) {
		c := NewCollector()
		c.RecordLatency(300 * time.Millisecond) // degraded
		for i := 0; i < 2; i++ {
			c.IncrementConnections()
		}
		for i := 0; i < 2; i++ {
			c.IncrementConnectionFailures() // 50% failure: unhealthy
		}
		if got := c.HealthStatus(); got != StatusUnhealthy {
			t.Errorf("status = %s, want unhealthy", got)
		}
	})
}

func TestReset(t *testing.T) {
	c := NewCollector()
	c.IncrementConnections()
	c.RecordLatency(time.Second)
	c.RecordError("x")
	c.Reset()

	s := c.Snapshot()
	if s.ConnectionsTotal != 0 || s.AvgLatencyMs != 0 || len(s.Errors) != 0 {
		t.Errorf("reset left state: %+v", s)
	}
}
