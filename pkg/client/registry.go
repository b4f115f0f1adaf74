// Package client holds the session registry: one session per UDP address,
// indexed both by address and by DG-ID so fan-out lookups stay O(1).
package client

import (
	"net"
	"sync"
	"time"
)

// RegisterResult is the outcome of a registration attempt
type RegisterResult int

const (
	Registered RegisterResult = iota
	Refreshed
	LimitReached
)

// String returns the string representation of the register result
func (r RegisterResult) String() string {
	switch r {
	case Registered:
		return "registered"
	case Refreshed:
		return "refreshed"
	case LimitReached:
		return "limit_reached"
	default:
		return "unknown"
	}
}

// Registry is the thread-safe session store. A single lock covers both the
// address map and the DG-ID grouping index; they change in the same critical
// section so concurrent readers never see them disagree.
type Registry struct {
	mu      sync.RWMutex
	byAddr  map[string]*Client
	byGroup map[uint8]map[string]*Client
	max     int
}

// NewRegistry creates a registry bounded by maxClients sessions
func NewRegistry(maxClients int) *Registry {
	return &Registry{
		byAddr:  make(map[string]*Client),
		byGroup: make(map[uint8]map[string]*Client),
		max:     maxClients,
	}
}

// Register creates a session for addr, or refreshes the existing one. When
// the registry is full no session is created and LimitReached is returned.
func (r *Registry) Register(addr *net.UDPAddr, callsign, socket string) (*Client, RegisterResult) {
	key := addr.String()
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.byAddr[key]; ok {
		c.Refresh(now)
		if callsign != "" {
			c.Callsign = callsign
		}
		return c, Refreshed
	}

	if r.max > 0 && len(r.byAddr) >= r.max {
		return nil, LimitReached
	}

	c := NewClient(addr, callsign, socket)
	r.byAddr[key] = c
	r.addToGroup(c)
	return c, Registered
}

// Find returns the session registered for addr, or nil
func (r *Registry) Find(addr *net.UDPAddr) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byAddr[addr.String()]
}

// FindKey returns the session registered under an address key, or nil
func (r *Registry) FindKey(key string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byAddr[key]
}

// Remove drops the session for addr from both indices. It reports whether
// a session existed.
func (r *Registry) Remove(addr *net.UDPAddr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(addr.String())
}

// SetTalkGroup moves a session to a new DG-ID, keeping the grouping index
// in step with the session's own field.
func (r *Registry) SetTalkGroup(addr *net.UDPAddr, tg uint8) {
	key := addr.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byAddr[key]
	if !ok {
		return
	}
	old := c.TalkGroup()
	if old == tg {
		return
	}

	if group, ok := r.byGroup[old]; ok {
		delete(group, key)
		if len(group) == 0 {
			delete(r.byGroup, old)
		}
	}
	c.setTalkGroup(tg)
	r.addToGroup(c)
}

// ListByTalkGroup returns the sessions currently on a DG-ID
func (r *Registry) ListByTalkGroup(tg uint8) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group := r.byGroup[tg]
	out := make([]*Client, 0, len(group))
	for _, c := range group {
		out = append(out, c)
	}
	return out
}

// All returns every registered session
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.byAddr))
	for _, c := range r.byAddr {
		out = append(out, c)
	}
	return out
}

// Count returns the number of registered sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAddr)
}

// SweepTimeouts removes sessions with no activity within timeout of now and
// returns how many were dropped.
func (r *Registry) SweepTimeouts(now time.Time, timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, c := range r.byAddr {
		if c.IsTimedOut(now, timeout) {
			c.Expire()
			r.removeLocked(key)
			removed++
		}
	}
	return removed
}

func (r *Registry) addToGroup(c *Client) {
	tg := c.TalkGroup()
	group, ok := r.byGroup[tg]
	if !ok {
		group = make(map[string]*Client)
		r.byGroup[tg] = group
	}
	group[c.Key()] = c
}

func (r *Registry) removeLocked(key string) bool {
	c, ok := r.byAddr[key]
	if !ok {
		return false
	}
	delete(r.byAddr, key)

	tg := c.TalkGroup()
	if group, ok := r.byGroup[tg]; ok {
		delete(group, key)
		if len(group) == 0 {
			delete(r.byGroup, tg)
		}
	}
	return true
}

// CheckIndexes verifies that every grouped session is also present in the
// address index. A mismatch means an internal invariant was violated; the
// caller logs it loudly and continues.
func (r *Registry) CheckIndexes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []string
	for _, group := range r.byGroup {
		for key := range group {
			if _, ok := r.byAddr[key]; !ok {
				stale = append(stale, key)
			}
		}
	}
	return stale
}
