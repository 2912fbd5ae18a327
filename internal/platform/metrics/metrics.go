package metrics

import (
	"sync/atomic"
	"time"
)

// Collector tracks request throughput plus the two domain actions the
// dashboard cares about. Counters only; scraping happens via the
// /metrics payload.
type Collector struct {
	totalRequests   uint64
	errorRequests   uint64
	rateLimited     uint64
	totalDurationMs uint64
	updatesAccepted uint64
	decisionsMade   uint64
}

func New() *Collector {
	return &Collector{}
}

func (c *Collector) Record(status int, duration time.Duration) {
	atomic.AddUint64(&c.totalRequests, 1)
	if status >= 500 {
		atomic.AddUint64(&c.errorRequests, 1)
	}
	if status == 429 {
		atomic.AddUint64(&c.rateLimited, 1)
	}
	atomic.AddUint64(&c.totalDurationMs, uint64(duration.Milliseconds()))
}

func (c *Collector) RecordUpdate() {
	atomic.AddUint64(&c.updatesAccepted, 1)
}

func (c *Collector) RecordDecision() {
	atomic.AddUint64(&c.decisionsMade, 1)
}

func (c *Collector) Snapshot() map[string]any {
	total := atomic.LoadUint64(&c.totalRequests)
	totalMs := atomic.LoadUint64(&c.totalDurationMs)
	avg := float64(0)
	if total > 0 {
		avg = float64(totalMs) / float64(total)
	}
	return map[string]any{
		"requestsTotal":    total,
		"errorsTotal":      atomic.LoadUint64(&c.errorRequests),
		"rateLimitedTotal": atomic.LoadUint64(&c.rateLimited),
		"avgDurationMs":    avg,
		"updatesAccepted":  atomic.LoadUint64(&c.updatesAccepted),
		"decisionsMade":    atomic.LoadUint64(&c.decisionsMade),
	}
}
