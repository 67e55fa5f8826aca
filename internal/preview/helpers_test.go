package preview

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/session"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/pkg/types"
)

type fixture struct {
	hub     *Hub
	metrics *metrics.Metrics
	server  *httptest.Server
}

func newFixture(t *testing.T, cfg config.PreviewConfig) *fixture {
	t.Helper()
	log := logger.New(logger.SILENT, io.Discard, false)
	m := metrics.New()
	hub := NewHub(HubOptions{Metrics: m, Logger: log})
	hub.Start()

	srv, err := NewServer(cfg, hub, m, log)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return &fixture{hub: hub, metrics: m, server: ts}
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 90, G: 90, B: 90, A: 255})
		}
	}
	return img
}

func appleObservation(seq uint64, img image.Image) session.Observation {
	return session.Observation{
		SessionID:  "sess-1",
		Seq:        seq,
		ReceivedAt: time.Now(),
		Image:      img,
		Format:     "png",
		Batch: types.Batch{{
			ClassName:  "red apple",
			Confidence: 0.87,
			Box:        types.Box{X1: 10, Y1: 10, X2: 50, Y2: 50},
		}},
	}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, body
}

// sseStream reads server-sent events, skipping comment-only events
type sseStream struct {
	resp   *http.Response
	reader *bufio.Reader
	cancel context.CancelFunc
}

func openSSE(t *testing.T, url string, accept string) *sseStream {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	s := &sseStream{resp: resp, reader: bufio.NewReader(resp.Body), cancel: cancel}
	t.Cleanup(func() {
		cancel()
		_ = resp.Body.Close()
	})
	return s
}

// next returns the data of the next event; comment-only events return ""
func (s *sseStream) next() (string, error) {
	var data []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read sse: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return strings.Join(data, "\n"), nil
		}
		if strings.HasPrefix(line, "data:") {
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

func (s *sseStream) nextData(t *testing.T) string {
	t.Helper()
	for {
		data, err := s.next()
		require.NoError(t, err)
		if data != "" {
			return data
		}
	}
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload), "body=%s", body)
	return payload
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	require.True(t, ok, "expected %s to be object, got %T", field, value)
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	require.True(t, ok, "expected %s to be array, got %T", field, value)
	return s
}

func assertDetectionRecord(t *testing.T, raw any) {
	t.Helper()
	det := requireMap(t, raw, "detection")
	require.Equal(t, "red apple", det["class_name"])
	require.Equal(t, 0.87, det["confidence"])
	require.Equal(t, []any{10.0, 10.0, 50.0, 50.0}, det["box"])
}
