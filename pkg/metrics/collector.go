package metrics

import (
	"time"

	"github.com/cuemby/vrm/pkg/component"
)

// Collector periodically walks a VRM component tree and the
// reservation store backing it, publishing the per-component gauges
// (fragmentation as 1 - Satisfaction, load utilization) and store-wide reservation
// counts this package defines. Grounded on the teacher's
// metrics.Collector ticker shape, re-pointed from ListNodes/
// ListServices/ListTasks at a component tree walk.
type Collector struct {
	root   component.Component
	counts func() map[string]map[string]int // kind -> state -> count, supplied by the caller's store
	stopCh chan struct{}
}

// NewCollector builds a Collector over root (normally the master ADC).
// counts supplies a reservation-kind/state breakdown on demand; the
// manager package wires this to its reservation store rather than the
// metrics package depending on pkg/reservation directly.
func NewCollector(root component.Component, counts func() map[string]map[string]int) *Collector {
	return &Collector{root: root, counts: counts, stopCh: make(chan struct{})}
}

// Start begins collecting metrics every 15 seconds, matching the
// teacher's collection interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectComponentTree(c.root)
	c.collectReservationCounts()
}

func (c *Collector) collectComponentTree(comp component.Component) {
	if comp == nil {
		return
	}

	Fragmentation.WithLabelValues(comp.ID()).Set(1 - comp.Satisfaction())

	lm := comp.LoadMetric()
	LoadUtilization.WithLabelValues(comp.ID()).Set(lm.Utilization)

	for _, child := range comp.Children() {
		c.collectComponentTree(child)
	}
}

func (c *Collector) collectReservationCounts() {
	if c.counts == nil {
		return
	}
	for kind, states := range c.counts() {
		for state, count := range states {
			ReservationsTotal.WithLabelValues(kind, state).Set(float64(count))
		}
	}
}
