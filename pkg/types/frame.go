package types

import (
	"sort"
	"time"
)

// Frame is one length-prefixed compressed image received from the peer
type Frame struct {
	Seq        uint64    // Per-session sequence number, starting at 1
	Payload    []byte    // Compressed image bytes (codec chosen by the peer)
	ReceivedAt time.Time // Time the payload was fully read
}

// Box is an axis-aligned bounding box in image pixel coordinates.
// A normalized box satisfies X1 <= X2 and Y1 <= Y2.
type Box struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

// Width returns the box width
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area in square pixels
func (b Box) Area() float64 { return b.Width() * b.Height() }

// Normalized returns the box with corners swapped where inverted
func (b Box) Normalized() Box {
	if b.X1 > b.X2 {
		b.X1, b.X2 = b.X2, b.X1
	}
	if b.Y1 > b.Y2 {
		b.Y1, b.Y2 = b.Y2, b.Y1
	}
	return b
}

// Detection is one recognized object instance
type Detection struct {
	ClassName  string
	Confidence float64 // In [0,1]
	Box        Box
}

// Batch is the ordered set of detections for one frame.
// Order is the detector's native output order.
type Batch []Detection

// Len returns the number of detections
func (b Batch) Len() int { return len(b) }

// CountByClass tallies detections per class name
func (b Batch) CountByClass() map[string]int {
	counts := make(map[string]int, len(b))
	for _, d := range b {
		counts[d.ClassName]++
	}
	return counts
}

// ClassCount is a single entry of a sorted class tally
type ClassCount struct {
	ClassName string
	Count     int
}

// SortedCounts returns the class tally ordered by descending count, then name
func (b Batch) SortedCounts() []ClassCount {
	return SortCounts(b.CountByClass())
}

// SortCounts orders a class tally by descending count, then name
func SortCounts(counts map[string]int) []ClassCount {
	out := make([]ClassCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, ClassCount{ClassName: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ClassName < out[j].ClassName
	})
	return out
}
