//go:build integration
// +build integration

package testhelpers

import (
	"testing"
	"time"

	"github.com/dbehnke/ysf-nexus/pkg/ysf"
)

// TestIntegrationSuite_Basic tests basic integration suite functionality
func TestIntegrationSuite_Basic(t *testing.T) {
	suite := NewIntegrationSuite(t)
	defer suite.Cleanup()

	if suite.Logger == nil {
		t.Error("Expected logger to be initialized")
	}

	if suite.Ctx == nil {
		t.Error("Expected context to be initialized")
	}
}

// TestIntegrationSuite_MockGateway tests creating mock gateways
func TestIntegrationSuite_MockGateway(t *testing.T) {
	suite := NewIntegrationSuite(t)
	defer suite.Cleanup()

	gw := suite.CreateMockGateway("W1ABC")
	if gw == nil {
		t.Fatal("Expected non-nil gateway")
	}

	if gw.Callsign != "W1ABC" {
		t.Errorf("Expected callsign W1ABC, got %s", gw.Callsign)
	}

	if len(suite.Gateways) != 1 {
		t.Errorf("Expected 1 mock gateway, got %d", len(suite.Gateways))
	}
}

// TestIntegrationSuite_WaitFor tests the WaitFor helper
func TestIntegrationSuite_WaitFor(t *testing.T) {
	suite := NewIntegrationSuite(t)
	defer suite.Cleanup()

	counter := 0
	condition := func() bool {
		counter++
		return counter >= 5
	}

	result := suite.WaitFor(condition, 1*time.Second, "counter >= 5")
	if !result {
		t.Error("Expected WaitFor to succeed")
	}
}

// TestIntegration_FullCycle drives a complete gateway lifecycle through a
// running reflector: register, transmit, hear the relay, unlink.
func TestIntegration_FullCycle(t *testing.T) {
	suite := NewIntegrationSuite(t)
	defer suite.Cleanup()

	srv := suite.StartReflector()

	sender := suite.ConnectGateway("W1ABC")
	listener := suite.ConnectGateway("K2DEF")

	if srv.Registry().Count() != 2 {
		t.Fatalf("Expected 2 registered gateways, got %d", srv.Registry().Count())
	}

	if err := sender.SendTransmission("N0CALL", 0, 3); err != nil {
		t.Fatalf("SendTransmission failed: %v", err)
	}

	// Header + 3 data frames + terminator
	for i := 0; i < 5; i++ {
		pkt, err := listener.ReadPacket(2 * time.Second)
		if err != nil {
			t.Fatalf("listener missed frame %d: %v", i, err)
		}
		if len(pkt) != ysf.FrameLength || string(pkt[:4]) != ysf.MagicData {
			t.Fatalf("frame %d: unexpected packet %q len %d", i, pkt[:4], len(pkt))
		}
	}

	suite.AssertEventually(func() bool {
		return srv.Streams().Count() == 0
	}, 2*time.Second, "stream closed after terminator")

	if got := srv.Collector().GetFramesRelayed(); got != 5 {
		t.Errorf("Expected 5 relayed frames, got %d", got)
	}

	if err := sender.SendUnlink(); err != nil {
		t.Fatalf("SendUnlink failed: %v", err)
	}

	suite.AssertEventually(func() bool {
		return srv.Registry().Count() == 1
	}, 2*time.Second, "sender deregistered after unlink")
}

// TestIntegration_StatusQuery checks the YSFS reply over a live socket
func TestIntegration_StatusQuery(t *testing.T) {
	suite := NewIntegrationSuite(t)
	defer suite.Cleanup()

	suite.StartReflector()
	gw := suite.ConnectGateway("W1ABC")

	if err := gw.SendStatusQuery(); err != nil {
		t.Fatalf("SendStatusQuery failed: %v", err)
	}

	reply, err := gw.ReadPacket(2 * time.Second)
	if err != nil {
		t.Fatalf("no status reply: %v", err)
	}
	if len(reply) != ysf.StatusReplyLength {
		t.Errorf("Expected %d byte reply, got %d", ysf.StatusReplyLength, len(reply))
	}
	if string(reply[:4]) != ysf.MagicStatus {
		t.Errorf("Expected YSFS magic, got %q", reply[:4])
	}
}
