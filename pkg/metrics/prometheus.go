package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/dbehnke/ysf-nexus/pkg/logger"
)

// PrometheusConfig holds Prometheus server configuration
type PrometheusConfig struct {
	Enabled bool
	Port    int
	Path    string
}

// PrometheusHandler renders the collector in Prometheus text format
type PrometheusHandler struct {
	collector *Collector
}

// NewPrometheusHandler creates a new Prometheus handler
func NewPrometheusHandler(collector *Collector) *PrometheusHandler {
	return &PrometheusHandler{
		collector: collector,
	}
}

// ServeHTTP handles HTTP requests for metrics
func (h *PrometheusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	var output strings.Builder

	// Client metrics
	output.WriteString("# HELP ysf_clients_total Total number of client sessions\n")
	output.WriteString("# TYPE ysf_clients_total counter\n")
	output.WriteString(fmt.Sprintf("ysf_clients_total %d\n", h.collector.GetTotalClients()))

	output.WriteString("# HELP ysf_clients_active Number of currently registered clients\n")
	output.WriteString("# TYPE ysf_clients_active gauge\n")
	output.WriteString(fmt.Sprintf("ysf_clients_active %d\n", h.collector.GetActiveClients()))

	// Packet metrics, labelled by packet type
	output.WriteString("# HELP ysf_packets_received_total Total packets received by type\n")
	output.WriteString("# TYPE ysf_packets_received_total counter\n")
	byType := h.collector.GetPacketsReceivedByType()
	for _, pt := range sortedKeys(byType) {
		output.WriteString(fmt.Sprintf("ysf_packets_received_total{type=%q} %d\n", pt, byType[pt]))
	}

	output.WriteString("# HELP ysf_packets_sent_total Total packets sent\n")
	output.WriteString("# TYPE ysf_packets_sent_total counter\n")
	output.WriteString(fmt.Sprintf("ysf_packets_sent_total %d\n", h.collector.GetPacketsSent()))

	// Byte metrics
	output.WriteString("# HELP ysf_bytes_received_total Total bytes received\n")
	output.WriteString("# TYPE ysf_bytes_received_total counter\n")
	output.WriteString(fmt.Sprintf("ysf_bytes_received_total %d\n", h.collector.GetBytesReceived()))

	output.WriteString("# HELP ysf_bytes_sent_total Total bytes sent\n")
	output.WriteString("# TYPE ysf_bytes_sent_total counter\n")
	output.WriteString(fmt.Sprintf("ysf_bytes_sent_total %d\n", h.collector.GetBytesSent()))

	// Drop metrics, labelled by reason
	output.WriteString("# HELP ysf_drops_total Total datagrams discarded by reason\n")
	output.WriteString("# TYPE ysf_drops_total counter\n")
	drops := h.collector.GetDrops()
	for _, reason := range sortedKeys(drops) {
		output.WriteString(fmt.Sprintf("ysf_drops_total{reason=%q} %d\n", reason, drops[reason]))
	}

	// Stream metrics
	output.WriteString("# HELP ysf_streams_total Total transmissions opened\n")
	output.WriteString("# TYPE ysf_streams_total counter\n")
	output.WriteString(fmt.Sprintf("ysf_streams_total %d\n", h.collector.GetTotalStreams()))

	output.WriteString("# HELP ysf_streams_active Number of active transmissions\n")
	output.WriteString("# TYPE ysf_streams_active gauge\n")
	output.WriteString(fmt.Sprintf("ysf_streams_active %d\n", h.collector.GetActiveStreams()))

	output.WriteString("# HELP ysf_frames_relayed_total Total data frames fanned out\n")
	output.WriteString("# TYPE ysf_frames_relayed_total counter\n")
	output.WriteString(fmt.Sprintf("ysf_frames_relayed_total %d\n", h.collector.GetFramesRelayed()))

	w.Write([]byte(output.String()))
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PrometheusServer is an HTTP server for Prometheus metrics
type PrometheusServer struct {
	config    PrometheusConfig
	collector *Collector
	log       *logger.Logger
	server    *http.Server
}

// NewPrometheusServer creates a new Prometheus metrics server
func NewPrometheusServer(config PrometheusConfig, collector *Collector, log *logger.Logger) *PrometheusServer {
	if log == nil {
		log = logger.New(logger.Config{Level: "info"})
	}

	return &PrometheusServer{
		config:    config,
		collector: collector,
		log:       log.WithComponent("metrics"),
	}
}

// Start starts the Prometheus metrics server and blocks until ctx is
// cancelled or the server fails
func (s *PrometheusServer) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.log.Info("Prometheus metrics server disabled")
		return nil
	}

	handler := NewPrometheusHandler(s.collector)
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, handler)

	// Use a listener to get the actual port (useful for testing with port 0)
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	actualPort := listener.Addr().(*net.TCPAddr).Port

	s.server = &http.Server{
		Handler: mux,
	}

	s.log.Info("Starting Prometheus metrics server",
		logger.Int("port", actualPort),
		logger.String("path", s.config.Path))

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Shutting down Prometheus metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown error: %w", err)
		}
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// Stop stops the Prometheus metrics server
func (s *PrometheusServer) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
	}
}
