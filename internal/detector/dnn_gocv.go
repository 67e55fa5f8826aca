//go:build gocv

package detector

import (
	"bufio"
	"context"
	"image"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/pkg/types"
)

// dnnDetector runs an SSD-style OpenCV DNN. Each output row is
// [batch_id, class_id, confidence, x1, y1, x2, y2] with coordinates in [0,1].
type dnnDetector struct {
	mu     sync.Mutex
	net    gocv.Net
	labels []string
	size   int
	scale  float64
	mean   gocv.Scalar
	swapRB bool
}

// NewDNNDetector loads the network. A network that fails to load is unusable.
func NewDNNDetector(cfg config.DNNConfig) (Detector, error) {
	if _, err := os.Stat(cfg.Model); err != nil {
		return nil, errors.Wrapf(ErrUnusable, "model file %s: %v", cfg.Model, err)
	}
	if cfg.Config != "" {
		if _, err := os.Stat(cfg.Config); err != nil {
			return nil, errors.Wrapf(ErrUnusable, "model config %s: %v", cfg.Config, err)
		}
	}

	net := gocv.ReadNet(cfg.Model, cfg.Config)
	if net.Empty() {
		return nil, errors.Wrap(ErrUnusable, "failed to load network")
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, errors.Wrap(err, "set dnn backend")
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, errors.Wrap(err, "set dnn target")
	}

	labels, err := loadLabels(cfg.Labels)
	if err != nil {
		net.Close()
		return nil, err
	}

	size := cfg.InputSize
	if size <= 0 {
		size = 300
	}
	mean := gocv.NewScalar(0, 0, 0, 0)
	if len(cfg.Mean) == 3 {
		mean = gocv.NewScalar(cfg.Mean[0], cfg.Mean[1], cfg.Mean[2], 0)
	}

	return &dnnDetector{
		net:    net,
		labels: labels,
		size:   size,
		scale:  cfg.Scale,
		mean:   mean,
		swapRB: cfg.SwapRB,
	}, nil
}

func (d *dnnDetector) Name() string { return "dnn" }

func (d *dnnDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

func (d *dnnDetector) Detect(ctx context.Context, img image.Image) (types.Batch, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, errors.Wrap(err, "convert image to mat")
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, errors.New("converted image is empty")
	}

	blob := gocv.BlobFromImage(mat, d.scale, image.Pt(d.size, d.size), d.mean, d.swapRB, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	d.mu.Unlock()
	defer output.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cols, rows := float64(mat.Cols()), float64(mat.Rows())
	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()

	batch := types.Batch{}
	for i := 0; i < reshaped.Rows(); i++ {
		conf := float64(reshaped.GetFloatAt(i, 2))
		if conf <= 0 {
			continue
		}
		classID := int(reshaped.GetFloatAt(i, 1))
		batch = append(batch, types.Detection{
			ClassName:  d.label(classID),
			Confidence: conf,
			Box: types.Box{
				X1: float64(reshaped.GetFloatAt(i, 3)) * cols,
				Y1: float64(reshaped.GetFloatAt(i, 4)) * rows,
				X2: float64(reshaped.GetFloatAt(i, 5)) * cols,
				Y2: float64(reshaped.GetFloatAt(i, 6)) * rows,
			},
		})
	}
	return batch, nil
}

func (d *dnnDetector) label(id int) string {
	if id >= 0 && id < len(d.labels) && d.labels[id] != "" {
		return d.labels[id]
	}
	return "class_" + strconv.Itoa(id)
}

func loadLabels(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open labels")
	}
	defer f.Close()

	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		labels = append(labels, strings.TrimSpace(sc.Text()))
	}
	return labels, errors.Wrap(sc.Err(), "read labels")
}
