package metrics

import (
	"sync"
)

// Drop reasons recorded by the collector. Every discarded datagram is
// counted under exactly one of these.
const (
	DropMalformed     = "malformed"
	DropBlacklisted   = "blacklisted"
	DropQueueOverflow = "queue_overflow"
	DropCollision     = "collision"
	DropStale         = "stale"
	DropUnknownRole   = "unknown_role"
	DropLimitClients  = "limit_clients"
	DropLimitStreams  = "limit_streams"
	DropShutdown      = "shutdown"
)

// Collector collects YSF-Nexus metrics
type Collector struct {
	mu sync.RWMutex

	// Client metrics
	totalClients  uint64
	activeClients int

	// Packet metrics
	packetsReceived map[string]uint64
	packetsSent     uint64
	bytesReceived   uint64
	bytesSent       uint64

	// Drop metrics
	drops map[string]uint64

	// Stream metrics
	totalStreams  uint64
	activeStreams int

	// Transmission metrics
	framesRelayed uint64
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		packetsReceived: make(map[string]uint64),
		drops:           make(map[string]uint64),
	}
}

// ClientConnected records a new client session
func (c *Collector) ClientConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalClients++
}

// SetActiveClients updates the active client gauge
func (c *Collector) SetActiveClients(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeClients = n
}

// PacketReceived records a received packet by type (poll, unlink, data,
// status, version)
func (c *Collector) PacketReceived(packetType string, bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.packetsReceived[packetType]++
	c.bytesReceived += uint64(bytes)
}

// PacketSent records a sent packet
func (c *Collector) PacketSent(bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.packetsSent++
	c.bytesSent += uint64(bytes)
}

// Dropped records a discarded datagram under one drop reason
func (c *Collector) Dropped(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.drops[reason]++
}

// StreamStarted records a stream open
func (c *Collector) StreamStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalStreams++
	c.activeStreams++
}

// StreamEnded records a stream close
func (c *Collector) StreamEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeStreams > 0 {
		c.activeStreams--
	}
}

// SetActiveStreams updates the active stream gauge from a sweep
func (c *Collector) SetActiveStreams(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeStreams = n
}

// FrameRelayed records one data frame fanned out to peers
func (c *Collector) FrameRelayed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.framesRelayed++
}

// Reset clears the gauges (useful for testing)
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeClients = 0
	c.activeStreams = 0
	// Cumulative counters are not reset
}

// Getters for metrics

// GetTotalClients returns total client sessions ever created
func (c *Collector) GetTotalClients() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalClients
}

// GetActiveClients returns the active client gauge
func (c *Collector) GetActiveClients() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeClients
}

// GetPacketsReceived returns total packets received across all types
func (c *Collector) GetPacketsReceived() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total uint64
	for _, n := range c.packetsReceived {
		total += n
	}
	return total
}

// GetPacketsReceivedByType returns received counts keyed by packet type
func (c *Collector) GetPacketsReceivedByType() map[string]uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]uint64, len(c.packetsReceived))
	for k, v := range c.packetsReceived {
		out[k] = v
	}
	return out
}

// GetPacketsSent returns total packets sent
func (c *Collector) GetPacketsSent() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.packetsSent
}

// GetBytesReceived returns total bytes received
func (c *Collector) GetBytesReceived() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytesReceived
}

// GetBytesSent returns total bytes sent
func (c *Collector) GetBytesSent() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytesSent
}

// GetDrops returns drop counts keyed by reason
func (c *Collector) GetDrops() map[string]uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]uint64, len(c.drops))
	for k, v := range c.drops {
		out[k] = v
	}
	return out
}

// GetDropped returns the drop count for one reason
func (c *Collector) GetDropped(reason string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.drops[reason]
}

// GetTotalStreams returns total streams ever opened
func (c *Collector) GetTotalStreams() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalStreams
}

// GetActiveStreams returns the active stream gauge
func (c *Collector) GetActiveStreams() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeStreams
}

// GetFramesRelayed returns total frames fanned out
func (c *Collector) GetFramesRelayed() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.framesRelayed
}
