package metrics

import (
	"time"
)

// StateCounter reports how many sessions are in each lifecycle state.
type StateCounter interface {
	StateCounts() map[string]int
}

// Collector periodically refreshes session gauges.
type Collector struct {
	source   StateCounter
	interval time.Duration
	stopCh   chan struct{}
	known    map[string]struct{}
}

// NewCollector creates a collector polling source every interval.
func NewCollector(source StateCounter, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
		known:    map[string]struct{}{},
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.Collect()
		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect refreshes the gauges once. States that disappeared are reset to zero.
func (c *Collector) Collect() {
	counts := c.source.StateCounts()
	for state := range c.known {
		if _, ok := counts[state]; !ok {
			SessionsTotal.WithLabelValues(state).Set(0)
		}
	}
	for state, n := range counts {
		c.known[state] = struct{}{}
		SessionsTotal.WithLabelValues(state).Set(float64(n))
	}
}
