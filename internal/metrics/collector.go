// Package metrics provides in-memory runtime statistics for the
// synchronization subsystem. Counters reset with the process.
package metrics

import (
	"math"
	"sync"
	"time"
)

// RequestMetrics holds aggregated timings for one REST operation.
type RequestMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// RequestSnapshot provides computed stats from raw request metrics.
type RequestSnapshot struct {
	Count       int64
	Errors      int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64
}

// Snapshot is the full set of sync statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Events        map[string]int64
	Reconnects    int64
	Polls         int64
	Refetches     int64
	StaleDemoted  int64
	Requests      map[string]RequestSnapshot
}

// REST operation names for the collector.
const (
	OpGetRoadmap    = "get_roadmap"
	OpTaskStatus    = "task_status"
	OpStatusCheck   = "status_check"
	OpRetryFailed   = "retry_failed"
	OpApproveReview = "approve_review"
)

// Collector aggregates in-memory sync statistics.
// All methods are thread-safe.
type Collector struct {
	mu           sync.RWMutex
	startTime    time.Time
	events       map[string]int64
	reconnects   int64
	polls        int64
	refetches    int64
	staleDemoted int64
	requests     map[string]*RequestMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		events:    make(map[string]int64),
		requests:  make(map[string]*RequestMetrics),
	}
}

// RecordEvent counts one received channel event by type.
func (c *Collector) RecordEvent(eventType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[eventType]++
}

// RecordReconnect counts one scheduled socket reconnect.
func (c *Collector) RecordReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
}

// RecordPoll counts one polling-fallback cycle.
func (c *Collector) RecordPoll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
}

// RecordRefetch counts one forced full roadmap refetch.
func (c *Collector) RecordRefetch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refetches++
}

// RecordStaleDemotion counts one stale concept demoted to failed.
func (c *Collector) RecordStaleDemotion() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staleDemoted++
}

// RecordRequest records timing and outcome for one REST call.
func (c *Collector) RecordRequest(op string, duration time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.requests[op]
	if !ok {
		m = &RequestMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.requests[op] = m
	}
	m.Count++
	if err != nil {
		m.Errors++
	}
	m.TotalTime += duration
	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Events:        make(map[string]int64, len(c.events)),
		Reconnects:    c.reconnects,
		Polls:         c.polls,
		Refetches:     c.refetches,
		StaleDemoted:  c.staleDemoted,
		Requests:      make(map[string]RequestSnapshot, len(c.requests)),
	}
	for k, v := range c.events {
		snap.Events[k] = v
	}
	for op, m := range c.requests {
		if m.Count == 0 {
			continue
		}
		snap.Requests[op] = RequestSnapshot{
			Count:       m.Count,
			Errors:      m.Errors,
			TotalTimeMs: m.TotalTime.Milliseconds(),
			AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
			MinTimeMs:   m.MinTime.Milliseconds(),
			MaxTimeMs:   m.MaxTime.Milliseconds(),
		}
	}
	return snap
}
