// Package results converts detection batches to and from the textual payload
// sent back over the detection protocol.
//
// Wire format, one object per detection:
//
//	[{"class_name":"red apple","confidence":0.87,"box":[10.0,10.0,50.0,50.0]}]
package results

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/pkg/errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/pkg/types"
)

const (
	// DefaultPrecision is the number of decimals kept for confidence
	DefaultPrecision = 2
	// DefaultBoxPrecision is the number of decimals kept for box coordinates
	DefaultBoxPrecision = 1
)

// Record is the JSON shape of one detection
type Record struct {
	ClassName  string     `json:"class_name"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

// Encoder renders batches with fixed decimal precision
type Encoder struct {
	precision    int
	boxPrecision int
}

// NewEncoder creates an Encoder. Negative precisions select the defaults.
func NewEncoder(precision, boxPrecision int) *Encoder {
	if precision < 0 {
		precision = DefaultPrecision
	}
	if boxPrecision < 0 {
		boxPrecision = DefaultBoxPrecision
	}
	return &Encoder{precision: precision, boxPrecision: boxPrecision}
}

// Encode renders a batch as a JSON array. It never fails: non-finite numbers
// are written as 0 and an empty batch is "[]".
func (e *Encoder) Encode(batch types.Batch) []byte {
	var buf bytes.Buffer
	buf.Grow(2 + len(batch)*80)
	buf.WriteByte('[')
	for i, d := range batch {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`{"class_name":`)
		name, _ := json.Marshal(d.ClassName) // strings always marshal
		buf.Write(name)
		buf.WriteString(`,"confidence":`)
		buf.WriteString(formatFloat(d.Confidence, e.precision))
		buf.WriteString(`,"box":[`)
		for j, v := range [4]float64{d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2} {
			if j > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(formatFloat(v, e.boxPrecision))
		}
		buf.WriteString("]}")
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// Records converts a batch to its JSON shape, rounded like Encode
func (e *Encoder) Records(batch types.Batch) []Record {
	out := make([]Record, 0, len(batch))
	for _, d := range batch {
		out = append(out, Record{
			ClassName:  d.ClassName,
			Confidence: round(d.Confidence, e.precision),
			Box: [4]float64{
				round(d.Box.X1, e.boxPrecision),
				round(d.Box.Y1, e.boxPrecision),
				round(d.Box.X2, e.boxPrecision),
				round(d.Box.Y2, e.boxPrecision),
			},
		})
	}
	return out
}

// Decode parses a payload produced by Encode (or any producer of the same format)
func Decode(data []byte) (types.Batch, error) {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrap(err, "decode detection batch")
	}
	batch := make(types.Batch, 0, len(records))
	for _, r := range records {
		batch = append(batch, types.Detection{
			ClassName:  r.ClassName,
			Confidence: r.Confidence,
			Box:        types.Box{X1: r.Box[0], Y1: r.Box[1], X2: r.Box[2], Y2: r.Box[3]},
		})
	}
	return batch, nil
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func round(v float64, decimals int) float64 {
	v = sanitize(v)
	p := math.Pow10(decimals)
	r := math.Round(v*p) / p
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return v
	}
	return r
}

func formatFloat(v float64, decimals int) string {
	s := strconv.FormatFloat(round(v, decimals), 'f', decimals, 64)
	if len(s) > 1 && s[0] == '-' && isZero(s[1:]) {
		return s[1:]
	}
	return s
}

func isZero(s string) bool {
	for _, c := range s {
		if c != '0' && c != '.' {
			return false
		}
	}
	return true
}
