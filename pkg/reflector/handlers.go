package reflector

import (
	"net"
	"time"

	"github.com/dbehnke/ysf-nexus/pkg/client"
	"github.com/dbehnke/ysf-nexus/pkg/logger"
	"github.com/dbehnke/ysf-nexus/pkg/metrics"
	"github.com/dbehnke/ysf-nexus/pkg/queue"
	"github.com/dbehnke/ysf-nexus/pkg/stream"
	"github.com/dbehnke/ysf-nexus/pkg/ysf"
)

// handleEntry dispatches one queued datagram by its magic
func (s *Server) handleEntry(e queue.Entry) {
	switch ysf.Classify(e.Data) {
	case ysf.MagicPoll:
		s.stats.PacketReceived("poll", len(e.Data))
		s.handlePoll(e)
	case ysf.MagicUnlink:
		s.stats.PacketReceived("unlink", len(e.Data))
		s.handleUnlink(e)
	case ysf.MagicData:
		s.stats.PacketReceived("data", len(e.Data))
		s.handleData(e)
	case ysf.MagicStatus:
		s.stats.PacketReceived("status", len(e.Data))
		s.handleStatus(e)
	case ysf.MagicVersion:
		s.stats.PacketReceived("version", len(e.Data))
		s.handleVersion(e)
	default:
		s.stats.Dropped(metrics.DropMalformed)
	}
}

// handlePoll registers or refreshes a session and echoes a poll carrying
// the reflector name. A blocked gateway gets no session and no reply.
func (s *Server) handlePoll(e queue.Entry) {
	poll, err := ysf.ParsePoll(e.Data)
	if err != nil {
		s.stats.Dropped(metrics.DropMalformed)
		return
	}

	if s.lookup.BlockedGateway(poll.Callsign) {
		s.stats.Dropped(metrics.DropBlacklisted)
		s.log.Debug("Poll from blocked gateway",
			logger.String("callsign", poll.Callsign),
			logger.String("addr", e.Addr.String()))
		return
	}

	// During the drain existing sessions still get their keep-alives
	// serviced, but a queued poll must not register a new one.
	if s.draining.Load() && s.registry.Find(e.Addr) == nil {
		s.stats.Dropped(metrics.DropShutdown)
		return
	}

	c, result := s.registry.Register(e.Addr, poll.Callsign, e.Socket)
	switch result {
	case client.Registered:
		s.stats.ClientConnected()
		s.stats.SetActiveClients(s.registry.Count())
		s.log.Info("Client registered",
			logger.String("callsign", poll.Callsign),
			logger.String("addr", e.Addr.String()))
		if s.hooks.ClientConnected != nil {
			s.hooks.ClientConnected(poll.Callsign, e.Addr.String())
		}
	case client.Refreshed:
		// Keep-alive on an existing session
	case client.LimitReached:
		s.stats.Dropped(metrics.DropLimitClients)
		s.log.Warn("Client limit reached, rejecting poll",
			logger.String("callsign", poll.Callsign),
			logger.String("addr", e.Addr.String()))
		return
	}

	c.CountReceived(len(e.Data))
	s.send(ysf.BuildPoll(s.cfg.Server.Name), e.Addr, c)
}

// handleUnlink removes the origin's session
func (s *Server) handleUnlink(e queue.Entry) {
	unlink, err := ysf.ParseUnlink(e.Data)
	if err != nil {
		s.stats.Dropped(metrics.DropMalformed)
		return
	}

	c := s.registry.Find(e.Addr)
	if c == nil {
		// Unlink for a session we never had, or one already swept
		return
	}

	// An open transmission from this origin dies with the session
	if os, ok := s.originFor(c.Key()); ok {
		s.streams.Terminate(os.token)
	}

	s.registry.Remove(e.Addr)
	s.stats.SetActiveClients(s.registry.Count())
	s.log.Info("Client unlinked",
		logger.String("callsign", unlink.Callsign),
		logger.String("addr", e.Addr.String()))
	if s.hooks.ClientDisconnected != nil {
		s.hooks.ClientDisconnected(c.Callsign, e.Addr.String())
	}
}

// handleData relays one YSFD frame. The origin must hold a session; the
// frame's role decides whether it opens, advances or closes a stream.
func (s *Server) handleData(e queue.Entry) {
	pkt, err := ysf.ParseData(e.Data)
	if err != nil {
		s.stats.Dropped(metrics.DropMalformed)
		return
	}

	now := e.ReceivedAt

	c := s.registry.Find(e.Addr)
	if c == nil {
		if s.draining.Load() {
			s.stats.Dropped(metrics.DropShutdown)
			return
		}
		// Data before any poll: treat the frame as an implicit
		// registration so a reflector restart does not silence
		// gateways mid-transmission.
		if s.lookup.BlockedGateway(pkt.Gateway) {
			s.stats.Dropped(metrics.DropBlacklisted)
			return
		}
		var result client.RegisterResult
		c, result = s.registry.Register(e.Addr, pkt.Gateway, e.Socket)
		if result == client.LimitReached {
			s.stats.Dropped(metrics.DropLimitClients)
			return
		}
		s.stats.ClientConnected()
		s.stats.SetActiveClients(s.registry.Count())
		if s.hooks.ClientConnected != nil {
			s.hooks.ClientConnected(pkt.Gateway, e.Addr.String())
		}
	} else {
		c.Refresh(now)
	}
	c.CountReceived(len(e.Data))

	if s.lookup.BlockedCallsign(pkt.Source) {
		s.stats.Dropped(metrics.DropBlacklisted)
		s.log.Debug("Frame from blocked callsign",
			logger.String("source", pkt.Source))
		return
	}

	origin := c.Key()

	switch pkt.Role {
	case ysf.RoleHeader:
		st, ok := s.openStream(pkt, origin, e.Addr, now)
		if !ok {
			return
		}
		s.relay(e.Data, st.TalkGroup, origin)

	case ysf.RoleData, ysf.RoleTerminator:
		os, ok := s.originFor(origin)
		if !ok {
			// Header lost on the way in. A readable FICH still names
			// the DG-ID, so the frame can open the stream itself.
			if !pkt.FICHValid {
				s.stats.Dropped(metrics.DropStale)
				return
			}
			st, opened := s.openStream(pkt, origin, e.Addr, now)
			if !opened {
				return
			}
			os = originStream{token: st.Token, tg: st.TalkGroup}
		}

		last := pkt.Role == ysf.RoleTerminator
		if s.streams.Advance(os.token, now, last) == stream.Stale {
			s.stats.Dropped(metrics.DropStale)
			return
		}
		s.relay(e.Data, os.tg, origin)

	default:
		s.stats.Dropped(metrics.DropUnknownRole)
	}
}

// openStream begins a transmission for a header (or a data frame standing
// in for a lost header). Returns false when the frame must not be relayed.
func (s *Server) openStream(pkt *ysf.DataPacket, origin string, addr *net.UDPAddr, now time.Time) (*stream.Stream, bool) {
	if s.draining.Load() {
		s.stats.Dropped(metrics.DropShutdown)
		return nil, false
	}
	if !s.lookup.TalkGroupAllowed(pkt.DGID) {
		s.stats.Dropped(metrics.DropBlacklisted)
		s.log.Debug("Transmission on disallowed DG-ID",
			logger.Uint8("dgid", pkt.DGID),
			logger.String("gateway", pkt.Gateway))
		return nil, false
	}

	// A header on a different DG-ID supersedes whatever this origin has
	// open: the old transmission lost its terminator or the operator
	// retuned inside the inactivity window. Closing it clears the origin
	// mapping so the new stream takes over below.
	if os, known := s.originFor(origin); known && os.tg != pkt.DGID {
		s.streams.Terminate(os.token)
	}

	st, result := s.streams.BeginOrReject(pkt.DGID, origin, pkt.Gateway, pkt.Source, now)
	switch result {
	case stream.Collision:
		s.stats.Dropped(metrics.DropCollision)
		s.log.Debug("Stream collision",
			logger.Uint8("dgid", pkt.DGID),
			logger.String("gateway", pkt.Gateway))
		return nil, false
	case stream.LimitReached:
		s.stats.Dropped(metrics.DropLimitStreams)
		s.log.Warn("Stream limit reached",
			logger.Uint8("dgid", pkt.DGID))
		return nil, false
	}

	if _, known := s.originFor(origin); !known {
		s.setOrigin(origin, st.Token, st.TalkGroup)
		s.registry.SetTalkGroup(addr, st.TalkGroup)
		s.stats.StreamStarted()
		s.log.Info("Stream opened",
			logger.Uint8("dgid", st.TalkGroup),
			logger.String("gateway", st.Gateway),
			logger.String("source", st.Source))
		if s.hooks.StreamStarted != nil {
			s.hooks.StreamStarted(st.TalkGroup, st.Gateway, st.Source)
		}
	}
	return st, true
}

// handleStatus answers a YSFS query with name, description and client count
func (s *Server) handleStatus(e queue.Entry) {
	reply := ysf.BuildStatusReply(s.cfg.Server.Name, s.cfg.Server.Description, s.registry.Count())
	s.send(reply, e.Addr, s.registry.Find(e.Addr))
}

// handleVersion answers a YSFV query with the software version
func (s *Server) handleVersion(e queue.Entry) {
	s.send(ysf.BuildVersionReply(Version), e.Addr, s.registry.Find(e.Addr))
}

// relay fans a frame out to every listening session except the originator.
// DG-ID 0 is the wildcard group: streams on it reach everyone, and sessions
// parked on it hear everything.
func (s *Server) relay(data []byte, tg uint8, origin string) {
	var targets []*client.Client
	if tg == 0 {
		targets = s.registry.All()
	} else {
		targets = s.registry.ListByTalkGroup(tg)
		targets = append(targets, s.registry.ListByTalkGroup(0)...)
	}

	relayed := false
	for _, target := range targets {
		if target.Key() == origin {
			continue
		}
		s.send(data, target.Addr, target)
		relayed = true
	}
	if relayed {
		s.stats.FrameRelayed()
	}
}

// send writes one datagram with a bounded deadline
func (s *Server) send(data []byte, addr *net.UDPAddr, c *client.Client) {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		s.log.Warn("Failed to set write deadline", logger.Error(err))
	}
	n, err := s.conn.WriteToUDP(data, addr)
	if err != nil {
		s.log.Warn("Failed to send",
			logger.String("addr", addr.String()),
			logger.Error(err))
		return
	}
	s.stats.PacketSent(n)
	if c != nil {
		c.CountSent(n)
	}
}
