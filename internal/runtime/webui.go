package runtime

import (
	"net/http"
	"strings"
	"time"

	"github.com/drblury/relay/internal/runtime/jsoncodec"
)

// BrokerInfo is served on /api/broker.
type BrokerInfo struct {
	Shutdown     bool                  `json:"shutdown"`
	Subscribers  int                   `json:"subscribers"`
	Destinations int                   `json:"destinations"`
	Metrics      BrokerMetricsSnapshot `json:"metrics"`
	Resource     ResourceUsage         `json:"resource"`
	CollectedAt  time.Time             `json:"collected_at"`
}

// Info returns the broker overview served by the introspection API.
func (b *Broker) Info() BrokerInfo {
	b.writeMu.Lock()
	subscribers := len(b.names)
	b.writeMu.Unlock()

	return BrokerInfo{
		Shutdown:     b.IsShutdown(),
		Subscribers:  subscribers,
		Destinations: b.registry.Len(),
		Metrics:      b.metrics.Snapshot(),
		Resource:     b.resources.Snapshot(),
		CollectedAt:  time.Now().UTC(),
	}
}

func (b *Broker) startWebUIServer() {
	if !b.conf.WebUIEnabled {
		return
	}

	b.registerHTTPHandler(b.conf.WebUIPort, "/api/subscribers", http.HandlerFunc(b.handleGetSubscribers))
	b.registerHTTPHandler(b.conf.WebUIPort, "/api/broker", http.HandlerFunc(b.handleGetBroker))
}

func (b *Broker) handleGetSubscribers(w http.ResponseWriter, r *http.Request) {
	b.writeJSON(w, r, func() any { return b.Subscribers() })
}

func (b *Broker) handleGetBroker(w http.ResponseWriter, r *http.Request) {
	b.writeJSON(w, r, func() any { return b.Info() })
}

func (b *Broker) writeJSON(w http.ResponseWriter, r *http.Request, body func() any) {
	w.Header().Set("Content-Type", "application/json")

	if len(b.conf.WebUICORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		allowedOrigin := b.getAllowedCORSOrigin(origin)
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	// Handle preflight requests
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := jsoncodec.Encode(w, body()); err != nil {
		b.logger.Error("Failed to encode response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (b *Broker) getAllowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range b.conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
