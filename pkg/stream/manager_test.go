package stream

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestBeginOrReject(t *testing.T) {
	m := NewManager(10, 0)
	now := time.Now()

	s, res := m.BeginOrReject(7, "10.0.0.1:42000", "GW1", "N0CALL", now)
	if res != Accepted {
		t.Fatalf("expected Accepted, got %v", res)
	}
	if s == nil || s.TalkGroup != 7 || s.Token == 0 {
		t.Fatalf("unexpected stream %+v", s)
	}
	if m.Count() != 1 {
		t.Errorf("expected 1 active stream, got %d", m.Count())
	}
}

func TestBeginOrReject_FirstHeaderWins(t *testing.T) {
	m := NewManager(10, 0)
	now := time.Now()

	first, res := m.BeginOrReject(7, "10.0.0.1:42000", "GW1", "N0CALL", now)
	if res != Accepted {
		t.Fatalf("expected Accepted, got %v", res)
	}

	// Competing header from another origin on the same DG-ID
	s, res := m.BeginOrReject(7, "10.0.0.2:42000", "GW2", "K1ABC", now)
	if res != Collision {
		t.Errorf("expected Collision, got %v", res)
	}
	if s != nil {
		t.Error("collision should not return a stream")
	}

	// Repeated header from the same origin rides the existing stream
	s, res = m.BeginOrReject(7, "10.0.0.1:42000", "GW1", "N0CALL", now.Add(time.Millisecond))
	if res != Accepted {
		t.Errorf("expected Accepted on repeat header, got %v", res)
	}
	if s != first {
		t.Error("repeat header should return the existing stream")
	}
	if m.Count() != 1 {
		t.Errorf("expected 1 active stream, got %d", m.Count())
	}
}

func TestBeginOrReject_DifferentGroups(t *testing.T) {
	m := NewManager(10, 0)
	now := time.Now()

	if _, res := m.BeginOrReject(7, "10.0.0.1:42000", "GW1", "N0CALL", now); res != Accepted {
		t.Fatalf("expected Accepted, got %v", res)
	}
	if _, res := m.BeginOrReject(8, "10.0.0.2:42000", "GW2", "K1ABC", now); res != Accepted {
		t.Fatalf("streams on distinct DG-IDs must coexist, got %v", res)
	}
	if m.Count() != 2 {
		t.Errorf("expected 2 active streams, got %d", m.Count())
	}
}

func TestBeginOrReject_LimitReached(t *testing.T) {
	m := NewManager(2, 0)
	now := time.Now()

	m.BeginOrReject(1, "10.0.0.1:42000", "GW1", "N0CALL", now)
	m.BeginOrReject(2, "10.0.0.2:42000", "GW2", "K1ABC", now)

	if _, res := m.BeginOrReject(3, "10.0.0.3:42000", "GW3", "W2XYZ", now); res != LimitReached {
		t.Errorf("expected LimitReached, got %v", res)
	}
}

func TestAdvance(t *testing.T) {
	m := NewManager(10, 0)
	now := time.Now()

	s, _ := m.BeginOrReject(7, "10.0.0.1:42000", "GW1", "N0CALL", now)

	if res := m.Advance(s.Token, now.Add(100*time.Millisecond), false); res != Forwarded {
		t.Fatalf("expected Forwarded, got %v", res)
	}
	if s.Frames() != 1 {
		t.Errorf("expected 1 frame, got %d", s.Frames())
	}
	if s.State() != DataSeen {
		t.Errorf("expected DataSeen, got %v", s.State())
	}
}

func TestAdvance_Stale(t *testing.T) {
	m := NewManager(10, 0)

	if res := m.Advance(99, time.Now(), false); res != Stale {
		t.Errorf("expected Stale for unknown token, got %v", res)
	}
}

func TestAdvance_TerminatorClosesInStep(t *testing.T) {
	m := NewManager(10, 0)
	now := time.Now()

	var closedReason CloseReason
	var closedFrames uint32
	closes := 0
	m.SetCloseHook(func(s Stream, reason CloseReason) {
		closes++
		closedReason = reason
		closedFrames = s.Frames()
	})

	s, _ := m.BeginOrReject(7, "10.0.0.1:42000", "GW1", "N0CALL", now)
	m.Advance(s.Token, now.Add(100*time.Millisecond), false)

	// The terminator frame is forwarded and the stream closes in the same step
	if res := m.Advance(s.Token, now.Add(200*time.Millisecond), true); res != Forwarded {
		t.Fatalf("terminator must still be forwarded, got %v", res)
	}
	if m.Count() != 0 {
		t.Errorf("expected 0 active streams after terminator, got %d", m.Count())
	}
	if closes != 1 || closedReason != CloseTerminator {
		t.Errorf("expected one terminator close, got %d closes reason %v", closes, closedReason)
	}
	if closedFrames != 2 {
		t.Errorf("expected 2 frames in closed stream, got %d", closedFrames)
	}

	// Late frame after the close is stale
	if res := m.Advance(s.Token, now.Add(300*time.Millisecond), false); res != Stale {
		t.Errorf("expected Stale after close, got %v", res)
	}
}

func TestGroupFreeAfterClose(t *testing.T) {
	m := NewManager(10, 0)
	now := time.Now()

	s, _ := m.BeginOrReject(7, "10.0.0.1:42000", "GW1", "N0CALL", now)
	m.Advance(s.Token, now, true)

	// A new origin can open the group immediately
	if _, res := m.BeginOrReject(7, "10.0.0.2:42000", "GW2", "K1ABC", now); res != Accepted {
		t.Errorf("expected Accepted on freed DG-ID, got %v", res)
	}
}

func TestSweepTimeouts(t *testing.T) {
	m := NewManager(10, 2*time.Second)
	now := time.Now()

	var reasons []CloseReason
	m.SetCloseHook(func(s Stream, reason CloseReason) {
		reasons = append(reasons, reason)
	})

	stale, _ := m.BeginOrReject(7, "10.0.0.1:42000", "GW1", "N0CALL", now)
	fresh, _ := m.BeginOrReject(8, "10.0.0.2:42000", "GW2", "K1ABC", now)
	m.Advance(fresh.Token, now.Add(2500*time.Millisecond), false)

	closed := m.SweepTimeouts(now.Add(3 * time.Second))
	if closed != 1 {
		t.Fatalf("expected 1 closed stream, got %d", closed)
	}
	if m.Active(7) != nil {
		t.Error("stale stream should be gone")
	}
	if m.Active(8) != fresh {
		t.Error("fresh stream should survive the sweep")
	}
	if len(reasons) != 1 || reasons[0] != CloseTimeout {
		t.Errorf("expected one timeout close, got %v", reasons)
	}
	if res := m.Advance(stale.Token, now.Add(3*time.Second), false); res != Stale {
		t.Errorf("expected Stale after timeout close, got %v", res)
	}
}

func TestSweepIdle_EarlyExpiry(t *testing.T) {
	m := NewManager(10, 2*time.Second)
	now := time.Now()

	m.BeginOrReject(7, "10.0.0.1:42000", "GW1", "N0CALL", now)

	// Under pressure the monitor sweeps with a tighter window
	if closed := m.SweepIdle(now.Add(600*time.Millisecond), 500*time.Millisecond); closed != 1 {
		t.Errorf("expected 1 closed stream, got %d", closed)
	}
}

func TestTerminate(t *testing.T) {
	m := NewManager(10, 0)
	now := time.Now()

	var reason CloseReason
	m.SetCloseHook(func(s Stream, r CloseReason) { reason = r })

	s, _ := m.BeginOrReject(7, "10.0.0.1:42000", "GW1", "N0CALL", now)
	if !m.Terminate(s.Token) {
		t.Fatal("expected Terminate to find the stream")
	}
	if reason != CloseReset {
		t.Errorf("expected reset close, got %v", reason)
	}
	if m.Terminate(s.Token) {
		t.Error("second Terminate should report not found")
	}
}

func TestTokensUnique(t *testing.T) {
	m := NewManager(0, 0)
	now := time.Now()

	seen := make(map[uint32]bool)
	for i := 0; i < 100; i++ {
		s, res := m.BeginOrReject(uint8(i%100), fmt.Sprintf("10.0.0.%d:42000", i), "GW", "N0CALL", now)
		if res != Accepted {
			t.Fatalf("stream %d: expected Accepted, got %v", i, res)
		}
		if seen[s.Token] {
			t.Fatalf("token %d reused", s.Token)
		}
		seen[s.Token] = true
		m.Advance(s.Token, now, true)
	}
}

func TestConcurrentStreams(t *testing.T) {
	m := NewManager(0, time.Second)
	var wg sync.WaitGroup

	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			origin := fmt.Sprintf("10.0.%d.1:42000", g)
			for i := 0; i < 50; i++ {
				now := time.Now()
				s, res := m.BeginOrReject(uint8(g), origin, "GW", "N0CALL", now)
				if res != Accepted {
					continue
				}
				m.Advance(s.Token, now, false)
				m.Advance(s.Token, now, true)
			}
		}(g)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			m.SweepTimeouts(time.Now())
			m.All()
		}
	}()

	wg.Wait()

	if m.Count() != 0 {
		t.Errorf("expected all streams closed, got %d", m.Count())
	}
}
