// file: internal/metrics/server_metrics_test.go
package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RequestLatencyAverages(t *testing.T) {
	c := NewCollector(5)
	c.RecordRequest("tools/call", 10*time.Millisecond, true)
	c.RecordRequest("tools/call", 30*time.Millisecond, false)
	c.RecordRequest("ping", time.Millisecond, true)

	s := c.Snapshot()
	assert.Equal(t, 3, s.TotalRequests)
	assert.Equal(t, 1, s.FailedRequests)
	assert.Equal(t, 20, s.RequestLatencies["tools/call"])
	assert.Equal(t, 1, s.RequestLatencies["ping"])
}

func TestCollector_OutboundAndRejections(t *testing.T) {
	c := NewCollector(5)
	c.RecordOutbound(false, nil)
	c.RecordOutbound(true, errors.New("timeout"))
	c.RecordOutbound(false, errors.New("remote"))
	c.RecordRejectedOrigin("https://evil.com")
	c.RecordRejectedOrigin("https://evil.com")
	c.RecordDropped()
	c.RecordDeliveryFailure()

	s := c.Snapshot()
	assert.Equal(t, 3, s.OutboundCalls)
	assert.Equal(t, 1, s.OutboundTimeouts)
	assert.Equal(t, 1, s.OutboundErrors)
	assert.Equal(t, 2, s.RejectedOrigins["https://evil.com"])
	assert.Equal(t, 1, s.DroppedMessages)
	assert.Equal(t, 1, s.DeliveryFailures)

	s.RejectedOrigins["https://evil.com"] = 99
	assert.Equal(t, 2, c.Snapshot().RejectedOrigins["https://evil.com"], "snapshot maps are copies")
}

func TestCollector_Connections(t *testing.T) {
	c := NewCollector(1)
	c.RecordConnection("a", true)
	c.RecordConnection("a", true)
	c.RecordConnection("b", true)
	c.RecordConnection("a", false)
	c.RecordConnectionFailure()

	s := c.Snapshot()
	assert.Equal(t, 1, s.ActiveConnections)
	assert.Equal(t, 2, s.TotalConnections)
	assert.Equal(t, 1, s.FailedConnections)
}

func TestCollector_ErrorRing(t *testing.T) {
	c := NewCollector(2)
	for i := 0; i < 3; i++ {
		c.RecordError("server", fmt.Sprintf("err %d", i))
	}
	s := c.Snapshot()
	require.Len(t, s.LastErrors, 2)
	assert.Equal(t, "err 1", s.LastErrors[0].Message)
	assert.Equal(t, "err 2", s.LastErrors[1].Message)
	assert.True(t, s.Uptime >= 0)
	assert.NotEmpty(t, s.GoVersion)
}
