package testhelpers

import (
	"context"
	"testing"
	"time"

	"github.com/dbehnke/ysf-nexus/pkg/config"
	"github.com/dbehnke/ysf-nexus/pkg/logger"
	"github.com/dbehnke/ysf-nexus/pkg/reflector"
)

// IntegrationSuite provides infrastructure for integration tests
type IntegrationSuite struct {
	T        *testing.T
	Config   *config.Config
	Logger   *logger.Logger
	Ctx      context.Context
	Cancel   context.CancelFunc
	Gateways []*MockGateway
	Server   *reflector.Server

	serverDone chan error
}

// NewIntegrationSuite creates a new integration test suite
func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	log := logger.New(logger.Config{
		Level: "debug",
	})

	return &IntegrationSuite{
		T:        t,
		Config:   CreateDefaultConfig(),
		Logger:   log,
		Ctx:      ctx,
		Cancel:   cancel,
		Gateways: make([]*MockGateway, 0),
	}
}

// CreateMockGateway creates a new mock gateway and adds it to the suite
func (s *IntegrationSuite) CreateMockGateway(callsign string) *MockGateway {
	gw := NewMockGateway(callsign)
	s.Gateways = append(s.Gateways, gw)
	return gw
}

// StartReflector starts a reflector on an ephemeral port and waits until
// its socket is bound
func (s *IntegrationSuite) StartReflector() *reflector.Server {
	srv := reflector.NewServer(s.Config, s.Logger)
	s.Server = srv
	s.serverDone = make(chan error, 1)

	go func() {
		s.serverDone <- srv.Start(s.Ctx)
	}()

	if err := srv.WaitStarted(s.Ctx); err != nil {
		s.T.Fatalf("reflector did not start: %v", err)
	}

	return srv
}

// ConnectGateway creates a gateway, connects it and registers it with a poll
func (s *IntegrationSuite) ConnectGateway(callsign string) *MockGateway {
	gw := s.CreateMockGateway(callsign)
	addr, err := s.Server.Addr()
	if err != nil {
		s.T.Fatalf("reflector address: %v", err)
	}
	if err := gw.Connect(addr.String()); err != nil {
		s.T.Fatalf("connect %s: %v", callsign, err)
	}
	if err := gw.SendPoll(); err != nil {
		s.T.Fatalf("poll %s: %v", callsign, err)
	}
	if _, err := gw.ReadPacket(2 * time.Second); err != nil {
		s.T.Fatalf("no poll reply for %s: %v", callsign, err)
	}
	return gw
}

// Cleanup closes all gateways and stops the reflector
func (s *IntegrationSuite) Cleanup() {
	for _, gw := range s.Gateways {
		_ = gw.Close()
	}

	s.Cancel()

	if s.serverDone != nil {
		select {
		case <-s.serverDone:
		case <-time.After(5 * time.Second):
			s.T.Log("reflector did not shut down in time")
		}
	}
}

// WaitFor waits for a condition to be true
func (s *IntegrationSuite) WaitFor(condition func() bool, timeout time.Duration, message string) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.T.Logf("WaitFor timeout: %s", message)
	return false
}

// AssertEventually asserts that a condition becomes true within timeout
func (s *IntegrationSuite) AssertEventually(condition func() bool, timeout time.Duration, message string) {
	if !s.WaitFor(condition, timeout, message) {
		s.T.Errorf("Assertion failed: %s", message)
	}
}

// CreateDefaultConfig creates a default test configuration
func CreateDefaultConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Name:        "ITEST",
			Description: "Integration",
			Host:        "127.0.0.1",
			Port:        0,
			Workers:     2,
		},
		Limits: config.LimitsConfig{
			MaxClients: 16,
			MaxStreams: 4,
			MaxTasks:   8,
			QueueSize:  128,
		},
		Timeouts: config.TimeoutsConfig{
			Client:     time.Minute,
			Stream:     2 * time.Second,
			Drain:      time.Second,
			WorkerJoin: 2 * time.Second,
			SweepEvery: 100 * time.Millisecond,
		},
		Web: config.WebConfig{
			Enabled: false,
		},
		Database: config.DatabaseConfig{
			Enabled: false,
		},
		Metrics: config.MetricsConfig{
			Enabled: false,
		},
	}
}
