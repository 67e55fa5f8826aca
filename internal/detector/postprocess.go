package detector

import (
	"math"

	"github.com/samber/lo"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/pkg/types"
)

// Postprocessor filters or modifies a batch of detections
type Postprocessor func(types.Batch) types.Batch

// Chain runs postprocessors in order
func Chain(pps ...Postprocessor) Postprocessor {
	return func(in types.Batch) types.Batch {
		for _, pp := range pps {
			in = pp(in)
		}
		return in
	}
}

// Normalize swaps inverted corners, clamps confidence to [0,1] and drops
// detections carrying NaN values.
func Normalize() Postprocessor {
	return func(in types.Batch) types.Batch {
		return lo.FilterMap(in, func(d types.Detection, _ int) (types.Detection, bool) {
			if math.IsNaN(d.Confidence) || hasNaN(d.Box) {
				return d, false
			}
			d.Box = d.Box.Normalized()
			d.Confidence = math.Max(0, math.Min(1, d.Confidence))
			return d, true
		})
	}
}

// NewScoreFilter drops detections below a confidence
func NewScoreFilter(conf float64) Postprocessor {
	return func(in types.Batch) types.Batch {
		return lo.Filter(in, func(d types.Detection, _ int) bool {
			return d.Confidence >= conf
		})
	}
}

// NewAreaFilter drops detections whose box is smaller than area square pixels
func NewAreaFilter(area float64) Postprocessor {
	return func(in types.Batch) types.Batch {
		return lo.Filter(in, func(d types.Detection, _ int) bool {
			return d.Box.Normalized().Area() >= area
		})
	}
}

// NewClassFilter keeps only the listed classes. An empty list keeps everything.
func NewClassFilter(classes []string) Postprocessor {
	if len(classes) == 0 {
		return func(in types.Batch) types.Batch { return in }
	}
	allowed := lo.SliceToMap(classes, func(c string) (string, struct{}) {
		return c, struct{}{}
	})
	return func(in types.Batch) types.Batch {
		return lo.Filter(in, func(d types.Detection, _ int) bool {
			_, ok := allowed[d.ClassName]
			return ok
		})
	}
}

func hasNaN(b types.Box) bool {
	return lo.SomeBy([]float64{b.X1, b.Y1, b.X2, b.Y2}, math.IsNaN)
}
