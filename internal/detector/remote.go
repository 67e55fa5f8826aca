package detector

import (
	"bytes"
	"context"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/imaging"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/results"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/pkg/types"
)

// maxRemoteReply bounds the inference service response body
const maxRemoteReply = 4 << 20

// remoteDetector posts each frame as JPEG to an HTTP inference service and
// reads back a JSON batch in the wire record format.
type remoteDetector struct {
	url     string
	client  *http.Client
	encoder *imaging.Transport
}

// NewRemoteDetector creates a detector backed by an HTTP inference service
func NewRemoteDetector(cfg config.RemoteConfig) (Detector, error) {
	if cfg.URL == "" {
		return nil, errors.New("remote detector: url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &remoteDetector{
		url:     cfg.URL,
		client:  &http.Client{Timeout: timeout},
		encoder: imaging.NewTransport(0, cfg.JPEGQuality),
	}, nil
}

func (rd *remoteDetector) Name() string { return "remote" }

func (rd *remoteDetector) Close() error {
	rd.client.CloseIdleConnections()
	return nil
}

func (rd *remoteDetector) Detect(ctx context.Context, img image.Image) (types.Batch, error) {
	body, err := rd.encoder.EncodeForDisplay(img)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rd.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build inference request")
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := rd.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "inference request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteReply))
	if err != nil {
		return nil, errors.Wrap(err, "read inference reply")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("inference service returned %s", resp.Status)
	}
	return results.Decode(data)
}
