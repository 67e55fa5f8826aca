package listener

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/framing"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/session"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/pkg/types"
)

func jpegFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{G: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func startListener(t *testing.T) (*Listener, *metrics.Metrics, chan error, context.CancelFunc) {
	t.Helper()
	log := logger.New(logger.SILENT, io.Discard, false)
	det := detector.DetectorFunc(func(context.Context, image.Image) (types.Batch, error) {
		return types.Batch{{ClassName: "green apple", Confidence: 0.5, Box: types.Box{X2: 10, Y2: 10}}}, nil
	})
	m := metrics.New()
	l, err := Listen("127.0.0.1:0", session.Options{
		Guard:   detector.NewGuard(det, config.PolicySkip, nil, log),
		Metrics: m,
		Logger:  log,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()
	t.Cleanup(cancel)
	return l, m, done, cancel
}

func dial(t *testing.T, l *Listener) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", l.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestTruncatedFrameThenNewConnection(t *testing.T) {
	l, m, _, _ := startListener(t)

	first := dial(t, l)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 16)
	_, err := first.Write(append(hdr[:], make([]byte, 10)...))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := dial(t, l)
	require.NoError(t, second.SetDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, framing.WriteFrame(second, jpegFrame(t)))
	resp, err := framing.ReadFrame(second)
	require.NoError(t, err)
	assert.Contains(t, string(resp), `"class_name":"green apple"`)

	assert.Equal(t, uint64(2), m.SessionsAccepted.Load())
	assert.Equal(t, uint64(1), m.IOErrors.Load())
}

func TestSecondClientWaitsForFirst(t *testing.T) {
	l, _, _, _ := startListener(t)

	first := dial(t, l)
	require.NoError(t, framing.WriteFrame(first, jpegFrame(t)))
	_, err := framing.ReadFrame(first)
	require.NoError(t, err)

	second := dial(t, l)
	require.NoError(t, framing.WriteFrame(second, jpegFrame(t)))
	require.NoError(t, second.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, err = framing.ReadFrame(second)
	require.Error(t, err, "second client must not be served while the first is active")

	require.NoError(t, first.Close())
	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	resp, err := framing.ReadFrame(second)
	require.NoError(t, err)
	assert.NotEqual(t, "[]", string(resp))
}

func TestServeReturnsOnCancel(t *testing.T) {
	l, _, done, cancel := startListener(t)

	conn := dial(t, l)
	require.NoError(t, framing.WriteFrame(conn, jpegFrame(t)))
	_, err := framing.ReadFrame(conn)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return l.Active() != nil }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Nil(t, l.Active())
	assert.NoError(t, l.Close())
}

func TestServeReturnsOnClose(t *testing.T) {
	l, _, done, _ := startListener(t)
	require.NoError(t, l.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
