// Package testhelpers provides a mock YSF gateway and an integration suite
// for exercising the reflector over real UDP sockets.
package testhelpers

import (
	"net"
	"sync"
	"time"

	"github.com/dbehnke/ysf-nexus/pkg/ysf"
)

// MockGateway simulates a YSF gateway/repeater for testing
type MockGateway struct {
	Callsign      string
	conn          *net.UDPConn
	reflectorAddr *net.UDPAddr
	mu            sync.RWMutex
	packets       [][]byte
	closed        bool
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(callsign string) *MockGateway {
	return &MockGateway{
		Callsign: callsign,
		packets:  make([][]byte, 0),
	}
}

// Connect connects the mock gateway to a reflector
func (m *MockGateway) Connect(reflectorAddr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr, err := net.ResolveUDPAddr("udp", reflectorAddr)
	if err != nil {
		return err
	}
	m.reflectorAddr = addr

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return err
	}
	m.conn = conn

	return nil
}

// SendPoll sends a YSFP keep-alive
func (m *MockGateway) SendPoll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.conn == nil {
		return nil
	}
	_, err := m.conn.Write(ysf.BuildPoll(m.Callsign))
	return err
}

// SendUnlink sends a YSFU deregistration
func (m *MockGateway) SendUnlink() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.conn == nil {
		return nil
	}
	_, err := m.conn.Write(ysf.BuildUnlink(m.Callsign))
	return err
}

// SendStatusQuery sends a YSFS query
func (m *MockGateway) SendStatusQuery() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.conn == nil {
		return nil
	}
	_, err := m.conn.Write([]byte(ysf.MagicStatus))
	return err
}

// SendFrame sends one YSFD frame with an encoded FICH
func (m *MockGateway) SendFrame(source string, fi byte, dgid uint8, counter byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.conn == nil {
		return nil
	}
	fich := &ysf.FICH{FI: fi, DT: 2, FT: 6, SQ: dgid}
	data, err := ysf.BuildData(m.Callsign, source, "ALL", counter, fich)
	if err != nil {
		return err
	}
	_, err = m.conn.Write(data)
	return err
}

// SendTransmission sends a complete header/data/terminator sequence
func (m *MockGateway) SendTransmission(source string, dgid uint8, dataFrames int) error {
	if err := m.SendFrame(source, ysf.FIHeader, dgid, 0x00); err != nil {
		return err
	}
	counter := byte(1)
	for i := 0; i < dataFrames; i++ {
		if err := m.SendFrame(source, ysf.FICommunication, dgid, counter<<1); err != nil {
			return err
		}
		counter++
	}
	return m.SendFrame(source, ysf.FITerminator, dgid, counter<<1|0x01)
}

// ReadPacket reads one datagram from the reflector with a timeout
func (m *MockGateway) ReadPacket(timeout time.Duration) ([]byte, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil {
		return nil, nil
	}

	buf := make([]byte, 512)
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}

	packet := make([]byte, n)
	copy(packet, buf[:n])

	m.mu.Lock()
	m.packets = append(m.packets, packet)
	m.mu.Unlock()

	return packet, nil
}

// ReceivedPackets returns all packets read so far
func (m *MockGateway) ReceivedPackets() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([][]byte, len(m.packets))
	copy(out, m.packets)
	return out
}

// Close closes the gateway connection
func (m *MockGateway) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.conn == nil {
		return nil
	}
	m.closed = true
	return m.conn.Close()
}
