// Package preview replaces a local display window with a small web server:
// sessions report every answered frame to a Hub, which annotates and fans
// frames out to MJPEG, websocket and SSE viewers.
package preview

import (
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/imaging"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/results"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/session"
)

type job struct {
	obs    session.Observation
	result DetectionResult
}

// Hub receives observations from sessions and renders them for viewers.
// Observe never blocks: while a frame is being rendered, at most one further
// observation waits and the rest are dropped.
type Hub struct {
	monitor   *Monitor
	frames    *Broadcaster[[]byte]
	events    *Broadcaster[*SerializedEvent]
	transport *imaging.Transport
	maxWidth  int
	metrics   *metrics.Metrics
	log       *logger.Logger

	mailbox   chan job
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// HubOptions configures a Hub
type HubOptions struct {
	Transport *imaging.Transport
	Encoder   *results.Encoder
	MaxWidth  int // 0 keeps the original size
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

// NewHub creates a Hub. Call Start before observations are expected.
func NewHub(opts HubOptions) *Hub {
	if opts.Transport == nil {
		opts.Transport = imaging.NewTransport(0, 0)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	return &Hub{
		monitor:   NewMonitor(opts.Encoder),
		frames:    NewBroadcaster[[]byte]("FrameBroadcaster", opts.Logger),
		events:    NewBroadcaster[*SerializedEvent]("DetectionBroadcaster", opts.Logger),
		transport: opts.Transport,
		maxWidth:  opts.MaxWidth,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		mailbox:   make(chan job, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Monitor returns the status monitor
func (h *Hub) Monitor() *Monitor { return h.monitor }

// Frames returns the annotated JPEG broadcaster
func (h *Hub) Frames() *Broadcaster[[]byte] { return h.frames }

// Events returns the detection event broadcaster
func (h *Hub) Events() *Broadcaster[*SerializedEvent] { return h.events }

// Start launches the render goroutine
func (h *Hub) Start() {
	h.startOnce.Do(func() { go h.run() })
}

// Close stops rendering and disconnects all viewers
func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.startOnce.Do(func() { close(h.done) })
		<-h.done
		h.frames.Close()
		h.events.Close()
	})
}

// Observe implements session.Observer
func (h *Hub) Observe(obs session.Observation) {
	j := job{obs: obs, result: h.monitor.Record(obs)}
	select {
	case h.mailbox <- j:
	default:
		h.metrics.PreviewFramesDropped.Add(1)
	}
}

// SessionStarted implements session.LifecycleObserver
func (h *Hub) SessionStarted(info session.Info) {
	h.monitor.SessionStarted(info)
}

// SessionEnded implements session.LifecycleObserver
func (h *Hub) SessionEnded(info session.Info, err error) {
	h.monitor.SessionEnded(info, err)
}

func (h *Hub) run() {
	defer close(h.done)
	h.log.Info("Preview", "Render loop started")

	for {
		select {
		case <-h.stop:
			return
		case j := <-h.mailbox:
			h.render(j)
		}
	}
}

func (h *Hub) render(j job) {
	if h.events.Clients() > 0 {
		event, err := serializeDetection(j.result)
		if err != nil {
			h.log.Error("Preview", "Serialize detection event: %v", err)
		} else {
			h.events.Broadcast(event)
		}
	}

	if j.obs.Image == nil || h.frames.Clients() == 0 {
		return
	}

	annotated := imaging.Annotate(j.obs.Image, j.obs.Batch)
	data, err := h.transport.EncodeForDisplay(imaging.Fit(annotated, h.maxWidth))
	if err != nil {
		h.log.Warn("Preview", "Frame %d: %v", j.obs.Seq, err)
		return
	}
	h.frames.Broadcast(data)
	h.metrics.PreviewFramesRendered.Add(1)
}
