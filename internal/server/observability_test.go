package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/triestore/internal/metrics"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.UpdateIndexStats(3, 10)

	srv := NewObservabilityServer("127.0.0.1:0", reg, nil, nil)
	rec := get(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "triestore_indexed_items 3")
	assert.Contains(t, rec.Body.String(), "triestore_resident_nodes 10")
}

func TestReadyReportsStatus(t *testing.T) {
	srv := NewObservabilityServer("127.0.0.1:0", prometheus.NewRegistry(), func() (any, error) {
		return map[string]int{"items": 2}, nil
	}, nil)

	rec := get(t, srv.Handler(), "/ready")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status string         `json:"status"`
		Index  map[string]int `json:"index"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, 2, body.Index["items"])

	rec = get(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "healthy"))
}

func TestReadyUnavailable(t *testing.T) {
	srv := NewObservabilityServer("127.0.0.1:0", prometheus.NewRegistry(), func() (any, error) {
		return nil, errors.New("index: closed")
	}, nil)

	rec := get(t, srv.Handler(), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "index: closed")
}
