package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dbehnke/ysf-nexus/pkg/logger"
)

// ClientInfo is one registered session as reported by the API
type ClientInfo struct {
	Callsign  string    `json:"callsign"`
	Address   string    `json:"address"`
	TalkGroup uint8     `json:"talk_group"`
	State     string    `json:"state"`
	LastHeard time.Time `json:"last_heard"`
}

// StreamInfo is one active transmission as reported by the API
type StreamInfo struct {
	TalkGroup uint8     `json:"talk_group"`
	Gateway   string    `json:"gateway"`
	Source    string    `json:"source"`
	StartedAt time.Time `json:"started_at"`
	Frames    uint32    `json:"frames"`
}

// TransmissionInfo is one logged transmission as reported by the API
type TransmissionInfo struct {
	Gateway   string    `json:"gateway"`
	Source    string    `json:"source"`
	TalkGroup uint8     `json:"talk_group"`
	Duration  float64   `json:"duration"`
	EndReason string    `json:"end_reason"`
	StartTime time.Time `json:"start_time"`
}

// Providers supplies the API with live reflector state. Each provider
// returns a snapshot; nil providers render as empty results.
type Providers struct {
	Status        func() map[string]interface{}
	Clients       func() []ClientInfo
	Streams       func() []StreamInfo
	Transmissions func(limit int) []TransmissionInfo
}

// API handles REST API endpoints
type API struct {
	logger    *logger.Logger
	providers Providers
}

// NewAPI creates a new API instance
func NewAPI(log *logger.Logger, providers Providers) *API {
	return &API{
		logger:    log,
		providers: providers,
	}
}

// HandleStatus handles the /api/status endpoint
func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status":  "running",
		"service": "ysf-nexus",
	}
	if a.providers.Status != nil {
		for k, v := range a.providers.Status() {
			response[k] = v
		}
	}

	writeJSON(w, response)
}

// HandleClients handles the /api/clients endpoint
func (a *API) HandleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clients := []ClientInfo{}
	if a.providers.Clients != nil {
		clients = a.providers.Clients()
	}
	writeJSON(w, clients)
}

// HandleStreams handles the /api/streams endpoint
func (a *API) HandleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	streams := []StreamInfo{}
	if a.providers.Streams != nil {
		streams = a.providers.Streams()
	}
	writeJSON(w, streams)
}

// HandleTransmissions handles the /api/transmissions endpoint
func (a *API) HandleTransmissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	transmissions := []TransmissionInfo{}
	if a.providers.Transmissions != nil {
		transmissions = a.providers.Transmissions(limit)
	}
	writeJSON(w, transmissions)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
