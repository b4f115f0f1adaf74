// Package stream tracks in-flight transmissions. At most one stream is
// active per DG-ID; competing headers are rejected first-wins, and idle
// streams are closed by the timeout sweep.
package stream

import (
	"sync"
	"time"
)

// DefaultTimeout is the inactivity window after which a stream is closed
const DefaultTimeout = 2000 * time.Millisecond

// SequenceState tracks which frame roles a stream has seen
type SequenceState int

const (
	HeaderSeen SequenceState = iota
	DataSeen
	TerminatorSeen
)

// CloseReason says why a stream ended
type CloseReason int

const (
	CloseTerminator CloseReason = iota
	CloseTimeout
	CloseReset
)

// String returns the string representation of the close reason
func (r CloseReason) String() string {
	switch r {
	case CloseTerminator:
		return "terminator"
	case CloseTimeout:
		return "timeout"
	case CloseReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Stream is one in-flight transmission
type Stream struct {
	Token     uint32
	TalkGroup uint8
	Origin    string // Address key of the originating session
	Gateway   string
	Source    string
	StartedAt time.Time

	lastFrame time.Time
	frames    uint32
	state     SequenceState
}

// LastFrame returns the time of the most recent frame
func (s *Stream) LastFrame() time.Time { return s.lastFrame }

// Frames returns how many frames the stream has carried
func (s *Stream) Frames() uint32 { return s.frames }

// State returns the stream's sequence state
func (s *Stream) State() SequenceState { return s.state }

// BeginResult is the outcome of an attempt to open a stream
type BeginResult int

const (
	Accepted BeginResult = iota
	Collision
	LimitReached
)

// String returns the string representation of the begin result
func (r BeginResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Collision:
		return "collision"
	case LimitReached:
		return "limit_reached"
	default:
		return "unknown"
	}
}

// AdvanceResult is the outcome of advancing a stream with a frame
type AdvanceResult int

const (
	Forwarded AdvanceResult = iota
	Stale
)

// CloseHook is invoked, outside the manager lock, for every closed stream
type CloseHook func(s Stream, reason CloseReason)

// Manager owns all active streams. One lock covers the per-group and
// per-token indices; both change together.
type Manager struct {
	mu        sync.Mutex
	byGroup   map[uint8]*Stream
	byToken   map[uint32]*Stream
	max       int
	timeout   time.Duration
	nextToken uint32
	onClose   CloseHook
}

// NewManager creates a manager bounded by maxStreams concurrent streams
func NewManager(maxStreams int, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		byGroup: make(map[uint8]*Stream),
		byToken: make(map[uint32]*Stream),
		max:     maxStreams,
		timeout: timeout,
	}
}

// SetCloseHook installs a callback fired for every stream close
func (m *Manager) SetCloseHook(hook CloseHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = hook
}

// BeginOrReject opens a stream on a DG-ID. The first header wins: while a
// stream is active on the group, a header from any other origin gets
// Collision and a repeated header from the same origin returns the existing
// stream. YSF carries no on-air stream id, so the correlation token is
// minted here.
func (m *Manager) BeginOrReject(tg uint8, origin, gateway, source string, now time.Time) (*Stream, BeginResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if active, ok := m.byGroup[tg]; ok {
		if active.Origin == origin {
			active.lastFrame = now
			return active, Accepted
		}
		return nil, Collision
	}

	if m.max > 0 && len(m.byToken) >= m.max {
		return nil, LimitReached
	}

	m.nextToken++
	s := &Stream{
		Token:     m.nextToken,
		TalkGroup: tg,
		Origin:    origin,
		Gateway:   gateway,
		Source:    source,
		StartedAt: now,
		lastFrame: now,
		state:     HeaderSeen,
	}
	m.byGroup[tg] = s
	m.byToken[s.Token] = s
	return s, Accepted
}

// Advance records a data frame on a stream. Stale means the token no longer
// names an active stream and the frame must not be relayed. When last is
// set the stream closes in the same step.
func (m *Manager) Advance(token uint32, now time.Time, last bool) AdvanceResult {
	m.mu.Lock()

	s, ok := m.byToken[token]
	if !ok {
		m.mu.Unlock()
		return Stale
	}

	if now.After(s.lastFrame) {
		s.lastFrame = now
	}
	s.frames++
	if s.state == HeaderSeen {
		s.state = DataSeen
	}

	if !last {
		m.mu.Unlock()
		return Forwarded
	}

	s.state = TerminatorSeen
	closed, hook := m.closeLocked(s)
	m.mu.Unlock()

	if hook != nil {
		hook(closed, CloseTerminator)
	}
	return Forwarded
}

// Terminate closes a stream by token (administrative reset)
func (m *Manager) Terminate(token uint32) bool {
	m.mu.Lock()

	s, ok := m.byToken[token]
	if !ok {
		m.mu.Unlock()
		return false
	}
	closed, hook := m.closeLocked(s)
	m.mu.Unlock()

	if hook != nil {
		hook(closed, CloseReset)
	}
	return true
}

// Active returns the stream currently open on a DG-ID, or nil
func (m *Manager) Active(tg uint8) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byGroup[tg]
}

// Count returns the number of active streams
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byToken)
}

// All returns a snapshot of the active streams
func (m *Manager) All() []Stream {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Stream, 0, len(m.byToken))
	for _, s := range m.byToken {
		out = append(out, *s)
	}
	return out
}

// SweepTimeouts closes streams with no frame within the inactivity window
// and returns how many were closed. Only the sweep closes by timeout.
func (m *Manager) SweepTimeouts(now time.Time) int {
	return m.sweep(now, m.timeout)
}

// SweepIdle closes streams idle for longer than window. Used by the
// resource monitor to expire streams ahead of their normal timeout.
func (m *Manager) SweepIdle(now time.Time, window time.Duration) int {
	return m.sweep(now, window)
}

func (m *Manager) sweep(now time.Time, window time.Duration) int {
	m.mu.Lock()

	var closed []Stream
	hook := m.onClose
	for _, s := range m.byToken {
		if now.Sub(s.lastFrame) > window {
			c, _ := m.closeLocked(s)
			closed = append(closed, c)
		}
	}
	m.mu.Unlock()

	if hook != nil {
		for _, c := range closed {
			hook(c, CloseTimeout)
		}
	}
	return len(closed)
}

// closeLocked removes the stream from both indices and returns a copy for
// the hook, which must run after the lock is released.
func (m *Manager) closeLocked(s *Stream) (Stream, CloseHook) {
	delete(m.byToken, s.Token)
	if m.byGroup[s.TalkGroup] == s {
		delete(m.byGroup, s.TalkGroup)
	}
	return *s, m.onClose
}
