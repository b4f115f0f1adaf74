package reflector

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/dbehnke/ysf-nexus/pkg/acl"
	"github.com/dbehnke/ysf-nexus/pkg/config"
	"github.com/dbehnke/ysf-nexus/pkg/logger"
	"github.com/dbehnke/ysf-nexus/pkg/queue"
	"github.com/dbehnke/ysf-nexus/pkg/ysf"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Name:        "TEST",
			Description: "unit test",
			Host:        "127.0.0.1",
			Port:        0, // Use any available port
			Workers:     2,
		},
		Limits: config.LimitsConfig{
			MaxClients: 10,
			MaxStreams: 4,
			MaxTasks:   8,
			QueueSize:  64,
		},
		Timeouts: config.TimeoutsConfig{
			Client:     time.Minute,
			Stream:     2 * time.Second,
			Drain:      time.Second,
			WorkerJoin: 2 * time.Second,
			SweepEvery: 100 * time.Millisecond,
		},
	}
}

func startTestServer(t *testing.T, cfg *config.Config) (*Server, *net.UDPAddr, context.CancelFunc) {
	t.Helper()

	log := logger.New(logger.Config{Level: "error"})
	srv := NewServer(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := srv.Start(ctx); err != nil && err != context.Canceled {
			t.Logf("srv.Start error: %v", err)
		}
	}()
	if err := srv.WaitStarted(ctx); err != nil {
		cancel()
		t.Fatalf("server failed to start: %v", err)
	}

	addr, err := srv.Addr()
	if err != nil {
		cancel()
		t.Fatalf("Addr error: %v", err)
	}
	return srv, addr, cancel
}

func dialTestServer(t *testing.T, addr *net.UDPAddr) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("Failed to create client connection: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readReply(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	buf := make([]byte, 512)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Failed to read reply: %v", err)
	}
	return buf[:n]
}

// buildFrame assembles a YSFD frame with an encoded FICH for tests
func buildFrame(t *testing.T, gateway, source string, fi byte, dgid uint8, counter byte) []byte {
	t.Helper()
	fich := &ysf.FICH{FI: fi, DT: 2, FT: 6, SQ: dgid}
	data, err := ysf.BuildData(gateway, source, "ALL", counter, fich)
	if err != nil {
		t.Fatalf("BuildData failed: %v", err)
	}
	return data
}

func registerClient(t *testing.T, conn *net.UDPConn, callsign string) {
	t.Helper()
	if _, err := conn.Write(ysf.BuildPoll(callsign)); err != nil {
		t.Fatalf("Failed to send poll: %v", err)
	}
	reply := readReply(t, conn)
	if len(reply) != ysf.PollLength || string(reply[0:4]) != ysf.MagicPoll {
		t.Fatalf("Expected poll echo, got %d bytes %q", len(reply), reply[:4])
	}
}

func TestServer_New(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	srv := NewServer(testConfig(), log)

	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
	if srv.registry.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", srv.registry.Count())
	}
}

func TestServer_StartStop(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	srv := NewServer(testConfig(), log)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	if err := srv.WaitStarted(ctx); err != nil {
		t.Fatalf("server failed to start: %v", err)
	}

	cancel()

	select {
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			t.Errorf("Unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop in time")
	}
}

func TestServer_PollRegistersSession(t *testing.T) {
	srv, addr, cancel := startTestServer(t, testConfig())
	defer cancel()

	conn := dialTestServer(t, addr)
	registerClient(t, conn, "W1AW")

	if srv.Registry().Count() != 1 {
		t.Errorf("Expected 1 registered client, got %d", srv.Registry().Count())
	}

	// The echo carries the reflector name
	if _, err := conn.Write(ysf.BuildPoll("W1AW")); err != nil {
		t.Fatalf("Failed to send poll: %v", err)
	}
	reply := readReply(t, conn)
	if got := ysf.TrimCallsign(string(reply[4:14])); got != "TEST" {
		t.Errorf("Expected reflector name in poll echo, got %q", got)
	}

	// Repeated polls refresh rather than duplicate
	if srv.Registry().Count() != 1 {
		t.Errorf("Expected 1 client after repeat poll, got %d", srv.Registry().Count())
	}
}

func TestServer_StatusReply(t *testing.T) {
	srv, addr, cancel := startTestServer(t, testConfig())
	defer cancel()

	conn := dialTestServer(t, addr)
	registerClient(t, conn, "W1AW")

	if _, err := conn.Write([]byte(ysf.MagicStatus)); err != nil {
		t.Fatalf("Failed to send status query: %v", err)
	}
	reply := readReply(t, conn)
	if len(reply) != ysf.StatusReplyLength {
		t.Fatalf("Expected %d byte status reply, got %d", ysf.StatusReplyLength, len(reply))
	}
	if string(reply[0:4]) != ysf.MagicStatus {
		t.Errorf("Expected YSFS magic, got %q", reply[0:4])
	}
	if !strings.Contains(string(reply), "TEST") {
		t.Errorf("Expected reflector name in status reply: %q", reply)
	}
	if got := string(reply[39:42]); got != "001" {
		t.Errorf("Expected client count 001, got %q", got)
	}
	_ = srv
}

func TestServer_VersionReply(t *testing.T) {
	_, addr, cancel := startTestServer(t, testConfig())
	defer cancel()

	conn := dialTestServer(t, addr)
	if _, err := conn.Write([]byte(ysf.MagicVersion)); err != nil {
		t.Fatalf("Failed to send version query: %v", err)
	}
	reply := readReply(t, conn)
	if string(reply[0:4]) != ysf.MagicVersion {
		t.Errorf("Expected YSFV magic, got %q", reply[0:4])
	}
	if !strings.Contains(string(reply), Version) {
		t.Errorf("Expected version in reply: %q", reply)
	}
}

func TestServer_DataRelay(t *testing.T) {
	srv, addr, cancel := startTestServer(t, testConfig())
	defer cancel()

	sender := dialTestServer(t, addr)
	listener := dialTestServer(t, addr)
	registerClient(t, sender, "W1AW")
	registerClient(t, listener, "K1ABC")

	// Header, one data frame, terminator on the wildcard DG-ID
	frames := [][]byte{
		buildFrame(t, "W1AW", "N0CALL", ysf.FIHeader, 0, 0x00),
		buildFrame(t, "W1AW", "N0CALL", ysf.FICommunication, 0, 0x02),
		buildFrame(t, "W1AW", "N0CALL", ysf.FITerminator, 0, 0x05),
	}
	for _, frame := range frames {
		if _, err := sender.Write(frame); err != nil {
			t.Fatalf("Failed to send frame: %v", err)
		}
	}

	// The listener gets all three frames verbatim
	for i := 0; i < 3; i++ {
		got := readReply(t, listener)
		if len(got) != ysf.FrameLength {
			t.Fatalf("frame %d: expected %d bytes, got %d", i, ysf.FrameLength, len(got))
		}
		if string(got[0:4]) != ysf.MagicData {
			t.Errorf("frame %d: expected YSFD magic", i)
		}
		if gw := ysf.TrimCallsign(string(got[4:14])); gw != "W1AW" {
			t.Errorf("frame %d: expected gateway W1AW, got %q", i, gw)
		}
	}

	// The sender must not hear its own transmission
	buf := make([]byte, 512)
	_ = sender.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if n, err := sender.Read(buf); err == nil {
		t.Errorf("sender received %d bytes of its own transmission", n)
	}

	// Terminator closed the stream
	deadline := time.Now().Add(2 * time.Second)
	for srv.Streams().Count() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Streams().Count() != 0 {
		t.Errorf("Expected stream closed after terminator, got %d active", srv.Streams().Count())
	}
}

func TestServer_DataRelayOnTalkGroup(t *testing.T) {
	srv, addr, cancel := startTestServer(t, testConfig())
	defer cancel()

	sender := dialTestServer(t, addr)
	inGroup := dialTestServer(t, addr)
	registerClient(t, sender, "W1AW")
	registerClient(t, inGroup, "K1ABC")

	// Move the second session onto DG-ID 21 with its own transmission
	frames := [][]byte{
		buildFrame(t, "K1ABC", "K1ABC", ysf.FIHeader, 21, 0x00),
		buildFrame(t, "K1ABC", "K1ABC", ysf.FITerminator, 21, 0x03),
	}
	for _, frame := range frames {
		if _, err := inGroup.Write(frame); err != nil {
			t.Fatalf("Failed to send frame: %v", err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		clients := srv.Registry().ListByTalkGroup(21)
		if len(clients) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := len(srv.Registry().ListByTalkGroup(21)); got != 1 {
		t.Fatalf("Expected 1 session on DG-ID 21, got %d", got)
	}

	// Drain anything relayed to the sender from the group move
	drainBuf := make([]byte, 512)
	_ = sender.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	for {
		if _, err := sender.Read(drainBuf); err != nil {
			break
		}
	}

	// A transmission on DG-ID 21 now reaches the group member
	if _, err := sender.Write(buildFrame(t, "W1AW", "N0CALL", ysf.FIHeader, 21, 0x00)); err != nil {
		t.Fatalf("Failed to send header: %v", err)
	}
	got := readReply(t, inGroup)
	if gw := ysf.TrimCallsign(string(got[4:14])); gw != "W1AW" {
		t.Errorf("Expected relayed header from W1AW, got %q", gw)
	}
}

func TestServer_StreamCollision(t *testing.T) {
	srv, addr, cancel := startTestServer(t, testConfig())
	defer cancel()

	first := dialTestServer(t, addr)
	second := dialTestServer(t, addr)
	registerClient(t, first, "W1AW")
	registerClient(t, second, "K1ABC")

	if _, err := first.Write(buildFrame(t, "W1AW", "N0CALL", ysf.FIHeader, 7, 0x00)); err != nil {
		t.Fatalf("Failed to send header: %v", err)
	}
	// second hears the first header
	readReply(t, second)

	// Competing header on the same DG-ID is rejected
	if _, err := second.Write(buildFrame(t, "K1ABC", "K1ABC", ysf.FIHeader, 7, 0x00)); err != nil {
		t.Fatalf("Failed to send competing header: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.Collector().GetDropped("collision") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Collector().GetDropped("collision") != 1 {
		t.Errorf("Expected 1 collision drop, got %d", srv.Collector().GetDropped("collision"))
	}
	if srv.Streams().Count() != 1 {
		t.Errorf("Expected the original stream to survive, got %d", srv.Streams().Count())
	}

	// The first header must not have been relayed back to the winner,
	// and the loser's header must not reach the winner either
	buf := make([]byte, 512)
	_ = first.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := first.Read(buf); err == nil {
		t.Error("collision frame leaked to the active sender")
	}
}

func TestServer_UnlinkRemovesSession(t *testing.T) {
	srv, addr, cancel := startTestServer(t, testConfig())
	defer cancel()

	conn := dialTestServer(t, addr)
	registerClient(t, conn, "W1AW")

	if _, err := conn.Write(ysf.BuildUnlink("W1AW")); err != nil {
		t.Fatalf("Failed to send unlink: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.Registry().Count() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Registry().Count() != 0 {
		t.Errorf("Expected empty registry after unlink, got %d", srv.Registry().Count())
	}
}

func TestServer_BlockedCallsignNotRelayed(t *testing.T) {
	srv, addr, cancel := startTestServer(t, testConfig())
	defer cancel()

	if err := srv.Lookup().Reload(acl.CallsignBlock, []string{"BADGUY"}); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	sender := dialTestServer(t, addr)
	listener := dialTestServer(t, addr)
	registerClient(t, sender, "W1AW")
	registerClient(t, listener, "K1ABC")

	if _, err := sender.Write(buildFrame(t, "W1AW", "BADGUY", ysf.FIHeader, 0, 0x00)); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}

	buf := make([]byte, 512)
	_ = listener.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if n, err := listener.Read(buf); err == nil {
		t.Errorf("blocked callsign relayed %d bytes", n)
	}

	if srv.Collector().GetDropped("blacklisted") == 0 {
		t.Error("Expected a blacklist drop to be counted")
	}
}

func TestServer_ImplicitRegistrationOnData(t *testing.T) {
	srv, addr, cancel := startTestServer(t, testConfig())
	defer cancel()

	// No poll first; a data frame alone creates the session
	conn := dialTestServer(t, addr)
	if _, err := conn.Write(buildFrame(t, "W1AW", "N0CALL", ysf.FIHeader, 0, 0x00)); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.Registry().Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Registry().Count() != 1 {
		t.Errorf("Expected implicit registration, got %d clients", srv.Registry().Count())
	}
}

func TestServer_SameOriginFramesKeepOrder(t *testing.T) {
	// Two workers; header and terminator sent back-to-back must still be
	// processed in arrival order, leaving no zombie stream behind.
	srv, addr, cancel := startTestServer(t, testConfig())
	defer cancel()

	first := dialTestServer(t, addr)
	second := dialTestServer(t, addr)
	registerClient(t, first, "W1AW")
	registerClient(t, second, "K1ABC")

	for i := 0; i < 5; i++ {
		if _, err := first.Write(buildFrame(t, "W1AW", "N0CALL", ysf.FIHeader, 5, 0x00)); err != nil {
			t.Fatalf("Failed to send header: %v", err)
		}
		if _, err := first.Write(buildFrame(t, "W1AW", "N0CALL", ysf.FITerminator, 5, 0x03)); err != nil {
			t.Fatalf("Failed to send terminator: %v", err)
		}
		deadline := time.Now().Add(2 * time.Second)
		for srv.Streams().Count() > 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if srv.Streams().Count() != 0 {
			t.Fatalf("iteration %d: stream left open after terminator", i)
		}
	}

	// The DG-ID is free: another gateway's header is accepted, not a
	// collision against a leftover stream
	drainBuf := make([]byte, 512)
	_ = second.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	for {
		if _, err := second.Read(drainBuf); err != nil {
			break
		}
	}
	if _, err := second.Write(buildFrame(t, "K1ABC", "K1ABC", ysf.FIHeader, 5, 0x00)); err != nil {
		t.Fatalf("Failed to send header: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for srv.Streams().Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if srv.Streams().Count() != 1 {
		t.Errorf("Expected the new header to open a stream, got %d", srv.Streams().Count())
	}
	if got := srv.Collector().GetDropped("collision"); got != 0 {
		t.Errorf("Expected no collision drops, got %d", got)
	}
}

func TestServer_HeaderOnNewTalkGroupSupersedes(t *testing.T) {
	srv, addr, cancel := startTestServer(t, testConfig())
	defer cancel()

	sender := dialTestServer(t, addr)
	parked := dialTestServer(t, addr)
	registerClient(t, sender, "W1AW")
	registerClient(t, parked, "K1ABC")

	// Park the listener on DG-ID 5 with its own short transmission
	if _, err := parked.Write(buildFrame(t, "K1ABC", "K1ABC", ysf.FIHeader, 5, 0x00)); err != nil {
		t.Fatalf("Failed to send header: %v", err)
	}
	if _, err := parked.Write(buildFrame(t, "K1ABC", "K1ABC", ysf.FITerminator, 5, 0x03)); err != nil {
		t.Fatalf("Failed to send terminator: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(srv.Registry().ListByTalkGroup(5)) != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	drainBuf := make([]byte, 512)
	_ = sender.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	for {
		if _, err := sender.Read(drainBuf); err != nil {
			break
		}
	}

	// The sender opens DG-ID 5; the parked listener hears the header
	if _, err := sender.Write(buildFrame(t, "W1AW", "N0CALL", ysf.FIHeader, 5, 0x00)); err != nil {
		t.Fatalf("Failed to send header: %v", err)
	}
	readReply(t, parked)

	// Lost terminator: a header on DG-ID 7 takes over, and the data
	// frames that follow belong to the new stream
	if _, err := sender.Write(buildFrame(t, "W1AW", "N0CALL", ysf.FIHeader, 7, 0x00)); err != nil {
		t.Fatalf("Failed to send header: %v", err)
	}
	if _, err := sender.Write(buildFrame(t, "W1AW", "N0CALL", ysf.FICommunication, 7, 0x02)); err != nil {
		t.Fatalf("Failed to send data: %v", err)
	}
	if _, err := sender.Write(buildFrame(t, "W1AW", "N0CALL", ysf.FICommunication, 7, 0x04)); err != nil {
		t.Fatalf("Failed to send data: %v", err)
	}

	var onSeven bool
	var frames uint32
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		onSeven = false
		for _, st := range srv.Streams().All() {
			if st.TalkGroup == 7 {
				onSeven = true
				frames = st.Frames()
			}
		}
		if onSeven && frames >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !onSeven {
		t.Fatal("Expected an active stream on DG-ID 7")
	}
	if frames < 2 {
		t.Errorf("Data frames did not follow the new stream, frames=%d", frames)
	}
	for _, st := range srv.Streams().All() {
		if st.TalkGroup == 5 {
			t.Error("Superseded DG-ID 5 stream still open")
		}
	}

	// Nothing from the DG-ID 7 transmission reaches the DG-ID 5 listener
	_ = parked.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if n, err := parked.Read(drainBuf); err == nil {
		t.Errorf("DG-ID 7 frame leaked to a DG-ID 5 listener (%d bytes)", n)
	}
}

func TestServer_DrainCreatesNoSessions(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	srv := NewServer(testConfig(), log)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	defer func() { _ = conn.Close() }()
	srv.conn = conn

	known := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40001}
	entry := func(data []byte, addr *net.UDPAddr) queue.Entry {
		return queue.Entry{Data: data, Addr: addr, ReceivedAt: time.Now(), Socket: "test"}
	}

	// Before the drain a poll registers normally
	srv.handleEntry(entry(ysf.BuildPoll("W1AW"), known))
	if srv.Registry().Count() != 1 {
		t.Fatalf("Expected 1 session before drain, got %d", srv.Registry().Count())
	}

	srv.draining.Store(true)

	// Keep-alives for the existing session are still serviced
	srv.handleEntry(entry(ysf.BuildPoll("W1AW"), known))
	if srv.Registry().Count() != 1 {
		t.Errorf("Keep-alive changed the session count: %d", srv.Registry().Count())
	}

	// A queued poll from a fresh address must not register
	fresh := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40002}
	srv.handleEntry(entry(ysf.BuildPoll("K1ABC"), fresh))
	if srv.Registry().Count() != 1 {
		t.Errorf("Drain registered a new session, count=%d", srv.Registry().Count())
	}

	// Nor may a queued header open a stream
	srv.handleEntry(entry(buildFrame(t, "W1AW", "N0CALL", ysf.FIHeader, 5, 0x00), known))
	if srv.Streams().Count() != 0 {
		t.Errorf("Drain opened a stream, count=%d", srv.Streams().Count())
	}

	if got := srv.Collector().GetDropped("shutdown"); got != 2 {
		t.Errorf("Expected 2 shutdown drops, got %d", got)
	}
}

func TestServer_MalformedDropped(t *testing.T) {
	srv, addr, cancel := startTestServer(t, testConfig())
	defer cancel()

	conn := dialTestServer(t, addr)
	if _, err := conn.Write([]byte("GARBAGE PACKET")); err != nil {
		t.Fatalf("Failed to send garbage: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.Collector().GetDropped("malformed") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Collector().GetDropped("malformed") == 0 {
		t.Error("Expected malformed drop to be counted")
	}
	if srv.Registry().Count() != 0 {
		t.Errorf("Garbage must not register a session, got %d", srv.Registry().Count())
	}
}
