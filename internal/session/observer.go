package session

import (
	"image"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/pkg/types"
)

// Observation is what a session reports after answering one frame
type Observation struct {
	SessionID     string
	Seq           uint64
	ReceivedAt    time.Time
	Image         image.Image // nil when decoding failed
	Format        string
	Batch         types.Batch
	InferenceTime time.Duration
	DecodeFailed  bool
}

// Observer receives per-frame observations.
// Observe is called on the session goroutine and must not block.
type Observer interface {
	Observe(Observation)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Observation)

// Observe implements Observer
func (f ObserverFunc) Observe(o Observation) { f(o) }

// Info identifies a session to lifecycle observers
type Info struct {
	ID         string
	RemoteAddr string
	Frames     uint64
}

// LifecycleObserver is optionally implemented by an Observer that also wants
// session start and end events. err is nil for a clean end.
type LifecycleObserver interface {
	SessionStarted(Info)
	SessionEnded(Info, error)
}
