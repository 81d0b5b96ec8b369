package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relay/internal/runtime/jsoncodec"
)

func TestHandleGetSubscribersReturnsJSON(t *testing.T) {
	conf := testConfig()
	conf.WebUICORSAllowedOrigins = []string{"*"}
	b, _ := newTestBroker(t, conf, BrokerDependencies{})
	newTestSubscriber(t, b, "orders", DirectSynced, noop)
	require.NoError(t, b.Send(context.Background(), b.EnvelopeTo("orders", 1)))

	req := httptest.NewRequest(http.MethodGet, "/api/subscribers", nil)
	rec := httptest.NewRecorder()
	b.handleGetSubscribers(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var payload []SubscriberInfo
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload, 1)
	assert.Equal(t, "orders", payload[0].Name)
	assert.Equal(t, "direct_synced", payload[0].Mode)
	assert.Equal(t, uint64(1), payload[0].Stats.Delivered)
}

func TestHandleGetBroker(t *testing.T) {
	b, _ := newTestBroker(t, nil, BrokerDependencies{})
	newTestSubscriber(t, b, "a", QueuedUnbounded, noop)

	rec := httptest.NewRecorder()
	b.handleGetBroker(rec, httptest.NewRequest(http.MethodGet, "/api/broker", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var info BrokerInfo
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 1, info.Subscribers)
	assert.Equal(t, 3, info.Destinations)
	assert.False(t, info.Shutdown)
	assert.Positive(t, info.Resource.Goroutines)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebUICORS(t *testing.T) {
	conf := testConfig()
	conf.WebUICORSAllowedOrigins = []string{"https://ops.example"}
	b, _ := newTestBroker(t, conf, BrokerDependencies{})

	req := httptest.NewRequest(http.MethodOptions, "/api/subscribers", nil)
	req.Header.Set("Origin", "https://OPS.example")
	rec := httptest.NewRecorder()
	b.handleGetSubscribers(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://OPS.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/subscribers", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	b.handleGetSubscribers(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebUIRejectsWrites(t *testing.T) {
	b, _ := newTestBroker(t, nil, BrokerDependencies{})

	rec := httptest.NewRecorder()
	b.handleGetSubscribers(rec, httptest.NewRequest(http.MethodPost, "/api/subscribers", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsHandlerServesBrokerCollectors(t *testing.T) {
	b, _ := newTestBroker(t, nil, BrokerDependencies{})
	require.NoError(t, b.Send(context.Background(), NewEnvelope(Drop, nil)))

	rec := httptest.NewRecorder()
	b.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `relay_broker_sends_total{result="accepted"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}

func TestRegisterHTTPHandlerSharesMuxPerPort(t *testing.T) {
	b, _ := newTestBroker(t, nil, BrokerDependencies{})

	b.registerHTTPHandler(9100, "/metrics", b.MetricsHandler())
	b.registerHTTPHandler(9100, "/api/broker", http.HandlerFunc(b.handleGetBroker))
	b.registerHTTPHandler(9101, "/api/subscribers", http.HandlerFunc(b.handleGetSubscribers))

	b.httpMu.Lock()
	mux := b.httpMuxes[9100]
	count := len(b.httpMuxes)
	b.httpMu.Unlock()
	require.Equal(t, 2, count)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/broker", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/subscribers", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
