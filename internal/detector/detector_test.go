package detector

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/pkg/types"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.SILENT, io.Discard, false)
}

func whiteWithSquares(w, h int, squares ...image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	for _, sq := range squares {
		for y := sq.Min.Y; y < sq.Max.Y; y++ {
			for x := sq.Min.X; x < sq.Max.X; x++ {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func TestSimpleDetectorFindsDarkBlobs(t *testing.T) {
	det := NewSimpleDetector(config.SimpleConfig{Threshold: 60, Mode: "dark", ClassName: "apple", MinPixels: 4})
	img := whiteWithSquares(100, 100, image.Rect(10, 10, 50, 50), image.Rect(70, 60, 90, 80), image.Rect(0, 95, 1, 96))

	batch, err := det.Detect(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, batch, 2, "single stray pixel is below min pixels")

	boxes := []types.Box{batch[0].Box, batch[1].Box}
	assert.Contains(t, boxes, types.Box{X1: 10, Y1: 10, X2: 50, Y2: 50})
	assert.Contains(t, boxes, types.Box{X1: 70, Y1: 60, X2: 90, Y2: 80})
	for _, d := range batch {
		assert.Equal(t, "apple", d.ClassName)
		assert.InDelta(t, 1.0, d.Confidence, 1e-9)
	}
}

func TestSimpleDetectorBrightMode(t *testing.T) {
	det := NewSimpleDetector(config.SimpleConfig{Threshold: 200, Mode: "bright"})
	img := whiteWithSquares(20, 20, image.Rect(0, 0, 20, 10))

	batch, err := det.Detect(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "object", batch[0].ClassName)
	assert.Equal(t, types.Box{X1: 0, Y1: 10, X2: 20, Y2: 20}, batch[0].Box)
}

func TestPostprocessors(t *testing.T) {
	in := types.Batch{
		{ClassName: "red apple", Confidence: 0.9, Box: types.Box{X1: 50, Y1: 50, X2: 10, Y2: 10}},
		{ClassName: "red apple", Confidence: 0.1, Box: types.Box{X1: 0, Y1: 0, X2: 100, Y2: 100}},
		{ClassName: "pear", Confidence: 0.8, Box: types.Box{X1: 0, Y1: 0, X2: 100, Y2: 100}},
		{ClassName: "green apple", Confidence: 1.7, Box: types.Box{X1: 0, Y1: 0, X2: 2, Y2: 2}},
		{ClassName: "green apple", Confidence: math.NaN(), Box: types.Box{X1: 0, Y1: 0, X2: 40, Y2: 40}},
	}

	pp := NewPostprocessor(config.DetectorConfig{
		MinConfidence: 0.25,
		Classes:       []string{"red apple", "green apple"},
		MinArea:       100,
	})
	out := pp(in)

	require.Len(t, out, 1)
	assert.Equal(t, types.Box{X1: 10, Y1: 10, X2: 50, Y2: 50}, out[0].Box)
	assert.Equal(t, 0.9, out[0].Confidence)

	clamped := Normalize()(types.Batch{in[3]})
	require.Len(t, clamped, 1)
	assert.Equal(t, 1.0, clamped[0].Confidence)
}

func TestClassFilterEmptyKeepsAll(t *testing.T) {
	in := types.Batch{{ClassName: "a"}, {ClassName: "b"}}
	assert.Equal(t, in, NewClassFilter(nil)(in))
}

func TestGuardPolicy(t *testing.T) {
	boom := errors.New("boom")
	failing := DetectorFunc(func(context.Context, image.Image) (types.Batch, error) { return nil, boom })
	unusable := DetectorFunc(func(context.Context, image.Image) (types.Batch, error) {
		return nil, errors.Wrap(ErrUnusable, "model gone")
	})
	panicking := DetectorFunc(func(context.Context, image.Image) (types.Batch, error) { panic("bad tensor") })

	tests := []struct {
		name    string
		det     Detector
		policy  config.FailurePolicy
		fatal   bool
		skipped bool
	}{
		{"skip degrades to empty", failing, config.PolicySkip, false, true},
		{"fatal terminates", failing, config.PolicyFatal, true, false},
		{"unusable is always fatal", unusable, config.PolicySkip, true, false},
		{"panic is skipped", panicking, config.PolicySkip, false, true},
		{"default policy is skip", failing, "", false, true},
	}

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuard(tt.det, tt.policy, nil, quietLogger())
			out, err := g.Run(context.Background(), 7, img)

			var infErr *InferenceError
			require.True(t, errors.As(out.Err, &infErr))
			assert.Equal(t, uint64(7), infErr.Seq)
			assert.Equal(t, tt.skipped, out.Skipped)
			if tt.fatal {
				require.Error(t, err)
				assert.True(t, errors.As(err, &infErr))
			} else {
				require.NoError(t, err)
				assert.NotNil(t, out.Batch)
				assert.Empty(t, out.Batch)
			}
		})
	}
}

func TestGuardCancelledIsNotAnInferenceError(t *testing.T) {
	var logs bytes.Buffer
	det := NewSimpleDetector(config.SimpleConfig{Threshold: 128})
	g := NewGuard(det, config.PolicySkip, nil, logger.New(logger.WARN, &logs, false))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := g.Run(ctx, 3, image.NewRGBA(image.Rect(0, 0, 8, 8)))

	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, out.Err)
	assert.False(t, out.Skipped)
	assert.Empty(t, logs.String())
}

func TestGuardAppliesPostprocessing(t *testing.T) {
	det := DetectorFunc(func(context.Context, image.Image) (types.Batch, error) {
		return types.Batch{
			{ClassName: "keep", Confidence: 0.9},
			{ClassName: "drop", Confidence: 0.1},
		}, nil
	})
	g := NewGuard(det, config.PolicySkip, NewScoreFilter(0.5), quietLogger())

	out, err := g.Run(context.Background(), 1, image.NewRGBA(image.Rect(0, 0, 1, 1)))
	require.NoError(t, err)
	assert.NoError(t, out.Err)
	require.Len(t, out.Batch, 1)
	assert.Equal(t, "keep", out.Batch[0].ClassName)
}

func TestRemoteDetector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "image/jpeg" {
			http.Error(w, "want jpeg", http.StatusUnsupportedMediaType)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if _, _, err := image.Decode(bytes.NewReader(body)); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`[{"class_name":"red apple","confidence":0.87,"box":[10,10,50,50]}]`))
	}))
	defer srv.Close()

	det, err := New(config.DetectorConfig{Backend: "remote", Remote: config.RemoteConfig{URL: srv.URL}})
	require.NoError(t, err)
	defer det.Close()

	batch, err := det.Detect(context.Background(), whiteWithSquares(32, 32))
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "red apple", batch[0].ClassName)
	assert.Equal(t, types.Box{X1: 10, Y1: 10, X2: 50, Y2: 50}, batch[0].Box)
}

func TestRemoteDetectorNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	det, err := NewRemoteDetector(config.RemoteConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = det.Detect(context.Background(), whiteWithSquares(8, 8))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(config.DetectorConfig{Backend: "quantum"})
	assert.Error(t, err)

	_, err = NewRemoteDetector(config.RemoteConfig{})
	assert.Error(t, err)
}
