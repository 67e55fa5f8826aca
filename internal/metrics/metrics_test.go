package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.FramesReceived.Add(3)
	m.FramesDecodeSkipped.Add(1)
	m.SessionsActive.Store(1)
	m.ObserveInference(20 * time.Millisecond)

	srv := httptest.NewServer(m.NewServer("").Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "detection_frames_received_total 3")
	assert.Contains(t, text, "detection_frames_decode_skipped_total 1")
	assert.Contains(t, text, "detection_sessions_active 1")
	assert.Contains(t, text, "detection_inference_duration_seconds_count 1")
	assert.Contains(t, text, "detection_inference_latency_ms 20")
}

func TestSnapshot(t *testing.T) {
	m := New()
	m.SessionsAccepted.Add(2)
	m.DetectionsTotal.Add(5)
	m.ObserveInference(1500 * time.Microsecond)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.SessionsAccepted)
	assert.Equal(t, uint64(5), snap.DetectionsTotal)
	assert.InDelta(t, 1.5, snap.InferenceLatencyMs, 1e-9)
}
