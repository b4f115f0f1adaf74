// Package reflector implements the YSF reflector core: the UDP listener,
// the bounded inbound queue, the worker pool and the relay fan-out.
package reflector

import (
	"context"
	"fmt"
	"hash/fnv"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbehnke/ysf-nexus/pkg/acl"
	"github.com/dbehnke/ysf-nexus/pkg/client"
	"github.com/dbehnke/ysf-nexus/pkg/config"
	"github.com/dbehnke/ysf-nexus/pkg/logger"
	"github.com/dbehnke/ysf-nexus/pkg/metrics"
	"github.com/dbehnke/ysf-nexus/pkg/queue"
	"github.com/dbehnke/ysf-nexus/pkg/scheduler"
	"github.com/dbehnke/ysf-nexus/pkg/stream"
	"github.com/dbehnke/ysf-nexus/pkg/ysf"
)

// Version is reported in YSFV replies and on the status API
const Version = "1.0.0"

// writeTimeout bounds a single UDP send so one dead peer cannot stall the
// fan-out loop
const writeTimeout = 250 * time.Millisecond

// StreamRecord describes one finished transmission
type StreamRecord struct {
	Gateway   string
	Source    string
	TalkGroup uint8
	StartedAt time.Time
	EndedAt   time.Time
	Frames    uint32
	Reason    string
}

// Hooks are optional callbacks for reflector events. They run on worker
// goroutines and must not block.
type Hooks struct {
	ClientConnected    func(callsign, addr string)
	ClientDisconnected func(callsign, addr string)
	StreamStarted      func(tg uint8, gateway, source string)
	StreamEnded        func(rec StreamRecord)
}

// originStream links a session to its in-flight transmission
type originStream struct {
	token uint32
	tg    uint8
}

// Server is the YSF reflector
type Server struct {
	cfg      *config.Config
	log      *logger.Logger
	conn     *net.UDPConn
	registry *client.Registry
	streams  *stream.Manager
	lookup   *acl.Lookup
	stats    *metrics.Collector
	tasks    *scheduler.Scheduler
	hooks    Hooks

	// inbound is sharded by origin address, one queue per worker, so
	// frames from one gateway are always processed in arrival order.
	inbound []*queue.Queue

	// draining is set on shutdown: queued datagrams still get serviced
	// up to the drain deadline, but no new session or stream may open.
	draining atomic.Bool

	// started is closed once the UDP listener is bound and ready
	started chan struct{}

	// tokenByOrigin correlates frames to streams: YSF carries no stream
	// id on the air, so a frame belongs to whatever transmission its
	// origin address has open.
	tokenByOrigin   map[string]originStream
	tokenByOriginMu sync.Mutex
}

// NewServer creates a reflector server from config
func NewServer(cfg *config.Config, log *logger.Logger) *Server {
	workers := cfg.Server.Workers
	if workers <= 0 {
		workers = 1
	}
	shardCap := cfg.Limits.QueueSize / workers
	if shardCap <= 0 {
		shardCap = 1
	}
	inbound := make([]*queue.Queue, workers)
	for i := range inbound {
		inbound[i] = queue.New(shardCap)
	}

	s := &Server{
		cfg:           cfg,
		log:           log.WithComponent("reflector"),
		registry:      client.NewRegistry(cfg.Limits.MaxClients),
		streams:       stream.NewManager(cfg.Limits.MaxStreams, cfg.Timeouts.Stream),
		lookup:        acl.NewLookup(),
		inbound:       inbound,
		stats:         metrics.NewCollector(),
		started:       make(chan struct{}),
		tokenByOrigin: make(map[string]originStream),
	}
	s.streams.SetCloseHook(s.onStreamClosed)
	return s
}

// WithLookup injects a shared ACL lookup (instead of the internal one)
func (s *Server) WithLookup(l *acl.Lookup) *Server {
	s.lookup = l
	return s
}

// WithCollector injects a shared metrics collector
func (s *Server) WithCollector(c *metrics.Collector) *Server {
	s.stats = c
	return s
}

// WithScheduler injects a shared scheduler for housekeeping tasks
func (s *Server) WithScheduler(sch *scheduler.Scheduler) *Server {
	s.tasks = sch
	return s
}

// SetHooks sets optional callbacks for reflector events
func (s *Server) SetHooks(h Hooks) {
	s.hooks = h
}

// Registry exposes the client registry for status snapshots
func (s *Server) Registry() *client.Registry { return s.registry }

// Streams exposes the stream manager for status snapshots
func (s *Server) Streams() *stream.Manager { return s.streams }

// Lookup exposes the ACL lookup for reloads
func (s *Server) Lookup() *acl.Lookup { return s.lookup }

// Collector exposes the metrics collector
func (s *Server) Collector() *metrics.Collector { return s.stats }

// QueueDepth reports the total inbound queue length and drop count
// across all shards
func (s *Server) QueueDepth() (length int, drops uint64) {
	for _, q := range s.inbound {
		length += q.Len()
		drops += q.Drops()
	}
	return length, drops
}

// Start binds the UDP socket and runs the reflector until ctx is
// cancelled, then drains the queue and joins the workers.
func (s *Server) Start(ctx context.Context) error {
	if err := s.lookup.ReloadFromFiles(s.listFiles()); err != nil {
		s.log.Warn("ACL load incomplete", logger.Error(err))
	}

	localAddr := &net.UDPAddr{
		IP:   net.ParseIP(s.cfg.Server.Host),
		Port: s.cfg.Server.Port,
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	s.conn = conn
	select {
	case <-s.started: // already closed
	default:
		close(s.started)
	}
	defer func() {
		_ = s.conn.Close()
	}()

	s.log.Info("Reflector started",
		logger.String("addr", conn.LocalAddr().String()),
		logger.String("name", s.cfg.Server.Name),
		logger.Int("max_clients", s.cfg.Limits.MaxClients))

	// Workers drain the queue on their own context so shutdown can keep
	// them running past ctx cancellation until the drain deadline.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var workers sync.WaitGroup
	for _, shard := range s.inbound {
		workers.Add(1)
		go func(q *queue.Queue) {
			defer workers.Done()
			s.workerLoop(workerCtx, q)
		}(shard)
	}

	var reader sync.WaitGroup
	reader.Add(1)
	go func() {
		defer reader.Done()
		s.readLoop(ctx)
	}()

	if err := s.runHousekeeping(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	// Intake stops first: no new sessions or streams past this point,
	// then join the reader and close the shards so the workers see the
	// end of input.
	s.draining.Store(true)
	reader.Wait()
	for _, q := range s.inbound {
		q.Close()
	}

	// Let the workers drain what is already queued, up to the deadline
	drainDeadline := time.Now().Add(s.cfg.Timeouts.Drain)
	for {
		remaining, _ := s.QueueDepth()
		if remaining == 0 || !time.Now().Before(drainDeadline) {
			if remaining > 0 {
				s.log.Warn("Discarding queued datagrams at shutdown",
					logger.Int("remaining", remaining))
			}
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	stopWorkers()

	// Bounded join: a stuck worker must not hang process exit
	joined := make(chan struct{})
	go func() {
		workers.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(s.cfg.Timeouts.WorkerJoin):
		s.log.Error("Worker join timed out")
	}

	_, drops := s.QueueDepth()
	s.log.Info("Reflector stopped",
		logger.Uint64("queue_drops", drops))
	return ctx.Err()
}

// WaitStarted blocks until the UDP listener is bound or the context is canceled.
func (s *Server) WaitStarted(ctx context.Context) error {
	select {
	case <-s.started:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the local UDP address the server is bound to. It should be called after WaitStarted.
func (s *Server) Addr() (*net.UDPAddr, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("server not started")
	}
	udpAddr, ok := s.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("not a UDP address")
	}
	return udpAddr, nil
}

// readLoop receives datagrams and feeds the queue. Gates that need no
// session state run here, before a queue slot is spent: datagrams that
// cannot be YSF and datagrams from blocked addresses never reach a worker.
func (s *Server) readLoop(ctx context.Context) {
	buffer := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Set read deadline to allow context checking
		if err := s.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			s.log.Warn("Failed to set read deadline", logger.Error(err))
			continue
		}
		n, addr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.log.Error("Failed to read from UDP", logger.Error(err))
			continue
		}

		magic := ysf.Classify(buffer[:n])
		if magic == "" {
			s.stats.Dropped(metrics.DropMalformed)
			continue
		}
		if s.lookup.BlockedAddress(addr.IP.String()) {
			s.stats.Dropped(metrics.DropBlacklisted)
			continue
		}

		// The read buffer is reused; the entry gets its own copy
		data := make([]byte, n)
		copy(data, buffer[:n])

		if !s.inbound[s.shardFor(addr)].Push(queue.Entry{
			Data:       data,
			Addr:       addr,
			ReceivedAt: time.Now(),
			Socket:     s.conn.LocalAddr().String(),
		}) {
			s.stats.Dropped(metrics.DropQueueOverflow)
		}
	}
}

// shardFor maps an origin address to its worker shard. Same-origin
// datagrams always land on the same shard, which keeps one gateway's
// frames in arrival order through the pool.
func (s *Server) shardFor(addr *net.UDPAddr) int {
	if len(s.inbound) == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(addr.String()))
	return int(h.Sum32() % uint32(len(s.inbound)))
}

// workerLoop drains one shard until it is closed or ctx is cancelled
func (s *Server) workerLoop(ctx context.Context, q *queue.Queue) {
	for {
		entry, ok := q.Pop(ctx)
		if !ok {
			return
		}
		s.handleEntry(entry)
	}
}

// runHousekeeping registers the periodic sweeps. Without an injected
// scheduler the server runs one of its own.
func (s *Server) runHousekeeping(ctx context.Context) error {
	sch := s.tasks
	if sch == nil {
		sch = scheduler.New(s.cfg.Limits.MaxTasks, s.log)
		go sch.Run(ctx)
	}

	if err := sch.Add("sweep-clients", s.cfg.Timeouts.SweepEvery, 0, func(context.Context) error {
		if removed := s.registry.SweepTimeouts(time.Now(), s.cfg.Timeouts.Client); removed > 0 {
			s.log.Info("Expired idle clients", logger.Int("count", removed))
		}
		s.stats.SetActiveClients(s.registry.Count())
		return nil
	}); err != nil {
		return fmt.Errorf("failed to schedule client sweep: %w", err)
	}

	if err := sch.Add("sweep-streams", s.cfg.Timeouts.SweepEvery, 0, func(context.Context) error {
		s.streams.SweepTimeouts(time.Now())
		s.stats.SetActiveStreams(s.streams.Count())
		return nil
	}); err != nil {
		return fmt.Errorf("failed to schedule stream sweep: %w", err)
	}

	if err := sch.Add("refresh-acl", 5*time.Minute, 0, func(context.Context) error {
		return s.lookup.ReloadFromFiles(s.listFiles())
	}); err != nil {
		return fmt.Errorf("failed to schedule ACL refresh: %w", err)
	}

	if err := sch.Add("check-indexes", time.Minute, 0, func(context.Context) error {
		for _, key := range s.registry.CheckIndexes() {
			s.log.Error("Registry index desynchronized",
				logger.String("key", key))
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to schedule index check: %w", err)
	}

	return nil
}

// onStreamClosed runs for every stream close, on whichever goroutine
// closed it. It releases the origin correlation and fires the end hook.
func (s *Server) onStreamClosed(st stream.Stream, reason stream.CloseReason) {
	s.tokenByOriginMu.Lock()
	if cur, ok := s.tokenByOrigin[st.Origin]; ok && cur.token == st.Token {
		delete(s.tokenByOrigin, st.Origin)
	}
	s.tokenByOriginMu.Unlock()

	s.stats.StreamEnded()

	ended := time.Now()
	s.log.Info("Stream closed",
		logger.Uint8("dgid", st.TalkGroup),
		logger.String("gateway", st.Gateway),
		logger.Uint32("frames", st.Frames()),
		logger.String("reason", reason.String()))

	if s.hooks.StreamEnded != nil {
		s.hooks.StreamEnded(StreamRecord{
			Gateway:   st.Gateway,
			Source:    st.Source,
			TalkGroup: st.TalkGroup,
			StartedAt: st.StartedAt,
			EndedAt:   ended,
			Frames:    st.Frames(),
			Reason:    reason.String(),
		})
	}
}

// listFiles maps the configured list paths onto ACL categories
func (s *Server) listFiles() acl.Files {
	return acl.Files{
		AddressBlock:   s.cfg.Lists.BlockedAddresses,
		GatewayBlock:   s.cfg.Lists.BlockedGateways,
		GatewayAllow:   s.cfg.Lists.AllowedGateways,
		CallsignBlock:  s.cfg.Lists.BlockedCallsigns,
		CallsignAllow:  s.cfg.Lists.AllowedCallsigns,
		TalkGroupAllow: s.cfg.Lists.AllowedGroups,
	}
}

// ReloadLists re-reads the ACL files; wired to SIGHUP by the command
func (s *Server) ReloadLists() error {
	err := s.lookup.ReloadFromFiles(s.listFiles())
	if err != nil {
		s.log.Warn("ACL reload incomplete", logger.Error(err))
	} else {
		s.log.Info("ACL lists reloaded")
	}
	return err
}

func (s *Server) setOrigin(origin string, token uint32, tg uint8) {
	s.tokenByOriginMu.Lock()
	s.tokenByOrigin[origin] = originStream{token: token, tg: tg}
	s.tokenByOriginMu.Unlock()
}

func (s *Server) originFor(origin string) (originStream, bool) {
	s.tokenByOriginMu.Lock()
	defer s.tokenByOriginMu.Unlock()
	os, ok := s.tokenByOrigin[origin]
	return os, ok
}
