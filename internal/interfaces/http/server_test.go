package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/tickpipe/internal/market"
	"github.com/quantforge/tickpipe/internal/metrics"
)

type fakeVectors struct {
	vectors map[string]market.FeatureVector
}

func (f *fakeVectors) GetLatest(_ context.Context, symbol string) (market.FeatureVector, bool, error) {
	v, ok := f.vectors[symbol]
	return v, ok, nil
}

func newTestServer() *Server {
	vectors := &fakeVectors{vectors: map[string]market.FeatureVector{
		"EURUSD": {
			BarID: 10, AsOfBar: 9,
			Values: map[string]float64{"log_return": 1.25},
			Valid:  map[string]bool{"log_return": true},
		},
	}}
	return NewServer(":0", metrics.NewRegistry(), vectors)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.TicksConsumed.Add(7)
	srv := NewServer(":0", reg, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tickpipe_ticks_consumed_total 7")
}

func TestLatestFeaturesEndpoint(t *testing.T) {
	srv := newTestServer()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/features/latest/EURUSD", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var vec market.FeatureVector
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vec))
	assert.Equal(t, int64(10), vec.BarID)
	assert.Equal(t, 1.25, vec.Values["log_return"])

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/features/latest/GBPUSD", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
