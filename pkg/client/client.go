package client

import (
	"net"
	"sync"
	"time"
)

// State is the lifecycle state of a client session
type State int

const (
	StatePending State = iota
	StateActive
	StateExpired
)

// String returns the string representation of the session state
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Client is one registered gateway session, keyed by its UDP address
type Client struct {
	Addr     *net.UDPAddr
	Callsign string
	Socket   string // Identity of the socket the client registered on

	state     State
	talkGroup uint8
	createdAt time.Time
	lastHeard time.Time

	// Statistics
	packetsReceived uint64
	packetsSent     uint64
	bytesReceived   uint64
	bytesSent       uint64

	mu sync.RWMutex
}

// NewClient creates a pending session for the given address
func NewClient(addr *net.UDPAddr, callsign, socket string) *Client {
	now := time.Now()
	return &Client{
		Addr:      addr,
		Callsign:  callsign,
		Socket:    socket,
		state:     StatePending,
		createdAt: now,
		lastHeard: now,
	}
}

// Key returns the address key the session is registered under
func (c *Client) Key() string {
	return c.Addr.String()
}

// State returns the session state
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Activate promotes a pending session to active
func (c *Client) Activate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePending {
		c.state = StateActive
	}
}

// Expire marks the session expired ahead of removal
func (c *Client) Expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateExpired
}

// TalkGroup returns the session's current DG-ID
func (c *Client) TalkGroup() uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.talkGroup
}

// Refresh advances the last-activity timestamp. The timestamp never moves
// backwards while the session is active.
func (c *Client) Refresh(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.After(c.lastHeard) {
		c.lastHeard = now
	}
	if c.state == StatePending {
		c.state = StateActive
	}
}

// LastHeard returns the last-activity timestamp
func (c *Client) LastHeard() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeard
}

// CreatedAt returns the session creation time
func (c *Client) CreatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.createdAt
}

// IsTimedOut reports whether no activity was seen within timeout of now
func (c *Client) IsTimedOut(now time.Time, timeout time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return now.Sub(c.lastHeard) > timeout
}

// CountReceived records an inbound packet from this client
func (c *Client) CountReceived(bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packetsReceived++
	c.bytesReceived += uint64(bytes)
}

// CountSent records a packet relayed to this client
func (c *Client) CountSent(bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packetsSent++
	c.bytesSent += uint64(bytes)
}

// Stats returns the session's packet and byte counters
func (c *Client) Stats() (packetsReceived, packetsSent, bytesReceived, bytesSent uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.packetsReceived, c.packetsSent, c.bytesReceived, c.bytesSent
}

// setTalkGroup is called by the registry with the registry lock held so the
// grouping index moves in the same step.
func (c *Client) setTalkGroup(tg uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.talkGroup = tg
}
