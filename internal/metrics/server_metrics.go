// Package metrics collects health and traffic counters for protocol engines.
// file: internal/metrics/server_metrics.go
package metrics

import (
	"runtime"
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	StartTime     time.Time     `json:"startTime"`
	Uptime        time.Duration `json:"uptime"`
	GoVersion     string        `json:"goVersion"`
	NumGoroutines int           `json:"numGoroutines"`

	MemoryAllocated uint64 `json:"memoryAllocated"`
	MemoryGCCount   uint32 `json:"memoryGCCount"`

	// Connection stats, one connection per attached peer.
	ActiveConnections int `json:"activeConnections"`
	TotalConnections  int `json:"totalConnections"`
	FailedConnections int `json:"failedConnections"`

	// Inbound requests answered by this process.
	TotalRequests    int            `json:"totalRequests"`
	FailedRequests   int            `json:"failedRequests"`
	RequestLatencies map[string]int `json:"requestLatencies"` // Method to average ms.

	// Outbound calls issued through a correlator.
	OutboundCalls    int `json:"outboundCalls"`
	OutboundTimeouts int `json:"outboundTimeouts"`
	OutboundErrors   int `json:"outboundErrors"`

	RejectedOrigins  map[string]int `json:"rejectedOrigins,omitempty"`
	DroppedMessages  int            `json:"droppedMessages"`
	DeliveryFailures int            `json:"deliveryFailures"`

	LastErrors []ErrorInfo `json:"lastErrors,omitempty"`
}

// ErrorInfo contains details about an error that occurred.
type ErrorInfo struct {
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
}

type latency struct {
	count int
	total time.Duration
}

// Collector accumulates metrics. The zero value is not usable; call NewCollector. Record
// methods on a nil *Collector do nothing.
type Collector struct {
	mu          sync.RWMutex
	metrics     Snapshot
	latencies   map[string]latency
	errorBuffer []ErrorInfo
	bufferSize  int
	active      map[string]bool
}

// NewCollector creates a collector keeping the last errorBufferSize errors.
func NewCollector(errorBufferSize int) *Collector {
	if errorBufferSize < 1 {
		errorBufferSize = 1
	}
	return &Collector{
		metrics: Snapshot{
			StartTime:       time.Now(),
			GoVersion:       runtime.Version(),
			RejectedOrigins: make(map[string]int),
		},
		latencies:   make(map[string]latency),
		errorBuffer: make([]ErrorInfo, 0, errorBufferSize),
		bufferSize:  errorBufferSize,
		active:      make(map[string]bool),
	}
}

// Snapshot returns a copy of the current metrics.
func (c *Collector) Snapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.metrics
	s.Uptime = time.Since(s.StartTime)
	s.NumGoroutines = runtime.NumGoroutine()
	s.MemoryAllocated = memStats.Alloc
	s.MemoryGCCount = memStats.NumGC

	s.RequestLatencies = make(map[string]int, len(c.latencies))
	for method, l := range c.latencies {
		s.RequestLatencies[method] = int((l.total / time.Duration(l.count)).Milliseconds())
	}
	s.RejectedOrigins = make(map[string]int, len(c.metrics.RejectedOrigins))
	for origin, n := range c.metrics.RejectedOrigins {
		s.RejectedOrigins[origin] = n
	}
	if len(c.errorBuffer) > 0 {
		s.LastErrors = make([]ErrorInfo, len(c.errorBuffer))
		copy(s.LastErrors, c.errorBuffer)
	}
	return s
}

// RecordRequest records one answered inbound request.
func (c *Collector) RecordRequest(method string, elapsed time.Duration, success bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.TotalRequests++
	if !success {
		c.metrics.FailedRequests++
	}
	l := c.latencies[method]
	l.count++
	l.total += elapsed
	c.latencies[method] = l
}

// RecordOutbound records the outcome of one outbound call.
func (c *Collector) RecordOutbound(timedOut bool, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.OutboundCalls++
	switch {
	case timedOut:
		c.metrics.OutboundTimeouts++
	case err != nil:
		c.metrics.OutboundErrors++
	}
}

// RecordRejectedOrigin counts a message refused by the origin allow-list.
func (c *Collector) RecordRejectedOrigin(origin string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.RejectedOrigins[origin]++
}

// RecordDropped counts an inbound message that was discarded without a reply.
func (c *Collector) RecordDropped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.DroppedMessages++
}

// RecordDeliveryFailure counts an outbound message the peer did not accept.
func (c *Collector) RecordDeliveryFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.DeliveryFailures++
}

// RecordConnection tracks a peer attaching (active) or detaching.
func (c *Collector) RecordConnection(connectionID string, active bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if active {
		if !c.active[connectionID] {
			c.active[connectionID] = true
			c.metrics.TotalConnections++
		}
	} else {
		delete(c.active, connectionID)
	}
	c.metrics.ActiveConnections = len(c.active)
}

// RecordConnectionFailure increments the failed connections counter.
func (c *Collector) RecordConnectionFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.FailedConnections++
}

// RecordError adds an error to the ring of recent errors.
func (c *Collector) RecordError(component, message string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.errorBuffer) >= c.bufferSize {
		c.errorBuffer = c.errorBuffer[1:]
	}
	c.errorBuffer = append(c.errorBuffer, ErrorInfo{
		Timestamp: time.Now(),
		Component: component,
		Message:   message,
	})
}
