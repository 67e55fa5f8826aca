package detector

import (
	"context"
	"image"
	"image/color"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/pkg/types"
)

// simpleDetector converts an image to gray and finds the 4-connected
// components passing a luminance threshold. Confidence is the fraction of the
// bounding box covered by the component.
type simpleDetector struct {
	threshold float64
	bright    bool
	className string
	minPixels int
}

// NewSimpleDetector creates a model-free detector for dark (or bright) blobs
func NewSimpleDetector(cfg config.SimpleConfig) Detector {
	name := cfg.ClassName
	if name == "" {
		name = "object"
	}
	minPixels := cfg.MinPixels
	if minPixels < 1 {
		minPixels = 1
	}
	return &simpleDetector{
		threshold: cfg.Threshold,
		bright:    cfg.Mode == "bright",
		className: name,
		minPixels: minPixels,
	}
}

func (sd *simpleDetector) Name() string { return "simple" }

func (sd *simpleDetector) Close() error { return nil }

func (sd *simpleDetector) Detect(ctx context.Context, img image.Image) (types.Batch, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			lum := float64(color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y)
			mask[y*w+x] = sd.pass(lum)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make([]bool, w*h)
	queue := make([]int, 0, 64)
	batch := types.Batch{}
	for start := range mask {
		if seen[start] || !mask[start] {
			continue
		}
		seen[start] = true
		queue = append(queue[:0], start)
		x0, y0, x1, y1 := w, h, -1, -1
		count := 0
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			count++
			px, py := idx%w, idx/w
			x0, x1 = min(x0, px), max(x1, px)
			y0, y1 = min(y0, py), max(y1, py)
			for _, n := range [4][2]int{{px, py - 1}, {px, py + 1}, {px - 1, py}, {px + 1, py}} {
				if n[0] < 0 || n[0] >= w || n[1] < 0 || n[1] >= h {
					continue
				}
				ni := n[1]*w + n[0]
				if seen[ni] || !mask[ni] {
					continue
				}
				seen[ni] = true
				queue = append(queue, ni)
			}
		}
		if count < sd.minPixels {
			continue
		}
		box := types.Box{
			X1: float64(b.Min.X + x0),
			Y1: float64(b.Min.Y + y0),
			X2: float64(b.Min.X + x1 + 1),
			Y2: float64(b.Min.Y + y1 + 1),
		}
		batch = append(batch, types.Detection{
			ClassName:  sd.className,
			Confidence: float64(count) / box.Area(),
			Box:        box,
		})
	}
	return batch, nil
}

func (sd *simpleDetector) pass(lum float64) bool {
	if sd.bright {
		return lum > sd.threshold
	}
	return lum < sd.threshold
}
