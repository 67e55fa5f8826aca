// Package session runs the per-connection detection pipeline:
// read frame, decode, detect, encode, send, repeat.
package session

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/framing"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/imaging"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/results"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/pkg/types"
)

// State is the position of a session in its per-frame cycle
type State int32

const (
	AwaitingFrame State = iota
	Decoding
	Inferring
	Encoding
	Sending
	Terminated
)

func (s State) String() string {
	switch s {
	case AwaitingFrame:
		return "awaiting_frame"
	case Decoding:
		return "decoding"
	case Inferring:
		return "inferring"
	case Encoding:
		return "encoding"
	case Sending:
		return "sending"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Options carries the shared collaborators of every session
type Options struct {
	Codec        *framing.Codec
	Transport    *imaging.Transport
	Guard        *detector.Guard
	Encoder      *results.Encoder
	Observer     Observer // optional
	Metrics      *metrics.Metrics
	Logger       *logger.Logger
	ReadTimeout  time.Duration // 0 disables
	WriteTimeout time.Duration // 0 disables
}

// Session owns one accepted connection. At most one frame is in flight.
type Session struct {
	id    string
	conn  net.Conn
	opts  Options
	log   *logger.Logger
	state atomic.Int32
	seq   atomic.Uint64
}

// New creates a session for conn. Guard is required; other nil collaborators
// fall back to defaults.
func New(conn net.Conn, opts Options) *Session {
	if opts.Codec == nil {
		opts.Codec = framing.NewCodec(0)
	}
	if opts.Transport == nil {
		opts.Transport = imaging.NewTransport(0, 0)
	}
	if opts.Encoder == nil {
		opts.Encoder = results.NewEncoder(results.DefaultPrecision, results.DefaultBoxPrecision)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}

	id := uuid.NewString()
	return &Session{
		id:   id,
		conn: conn,
		opts: opts,
		log:  opts.Logger.With("session", id[:8]),
	}
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// State returns the current state
func (s *Session) State() State { return State(s.state.Load()) }

// Frames returns the number of frames received so far
func (s *Session) Frames() uint64 { return s.seq.Load() }

// RemoteAddr returns the peer address
func (s *Session) RemoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Run processes frames until the peer disconnects, a fatal error occurs or
// ctx is cancelled. A clean disconnect or cancellation returns nil.
// The connection is closed when Run returns.
func (s *Session) Run(ctx context.Context) (err error) {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer func() {
		stop()
		_ = s.conn.Close()
		s.setState(Terminated)
		s.notifyEnd(err)
	}()

	s.notifyStart()
	s.log.Info("Session", "Client connected: %s", s.RemoteAddr())

	for {
		s.setState(AwaitingFrame)
		if err := s.deadline(s.conn.SetReadDeadline, s.opts.ReadTimeout); err != nil {
			return err
		}
		payload, err := s.opts.Codec.ReadFrame(s.conn)
		if err != nil {
			if errors.Is(err, framing.ErrPeerClosed) {
				s.log.Info("Session", "Client disconnected after %d frames", s.Frames())
				return nil
			}
			if ctx.Err() != nil {
				s.log.Info("Session", "Closed by shutdown after %d frames", s.Frames())
				return nil
			}
			s.countFatal(err)
			return err
		}

		frame := types.Frame{
			Seq:        s.seq.Add(1),
			Payload:    payload,
			ReceivedAt: time.Now(),
		}
		s.opts.Metrics.FramesReceived.Add(1)
		s.opts.Metrics.BytesIn.Add(uint64(len(payload)))

		if err := s.handle(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// handle runs one frame through decode, inference, encode and send
func (s *Session) handle(ctx context.Context, frame types.Frame) error {
	obs := Observation{
		SessionID:  s.id,
		Seq:        frame.Seq,
		ReceivedAt: frame.ReceivedAt,
	}

	s.setState(Decoding)
	start := time.Now()
	img, format, decErr := s.opts.Transport.Decode(frame.Payload)
	s.opts.Metrics.ObserveDecode(time.Since(start))
	frame.Payload = nil

	batch := types.Batch{}
	if decErr != nil {
		s.opts.Metrics.FramesDecodeSkipped.Add(1)
		s.log.Warn("Session", "Frame %d: %v (sending empty result)", frame.Seq, decErr)
		obs.DecodeFailed = true
	} else {
		s.setState(Inferring)
		out, err := s.opts.Guard.Run(ctx, frame.Seq, img)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.opts.Metrics.ObserveInference(out.Duration)
		obs.InferenceTime = out.Duration
		if out.Err != nil {
			s.opts.Metrics.InferenceErrors.Add(1)
		}
		if err != nil {
			s.log.Error("Session", "Frame %d: %v", frame.Seq, err)
			return err
		}
		batch = out.Batch
		obs.Image = img
		obs.Format = format
	}
	obs.Batch = batch

	s.setState(Encoding)
	payload := s.opts.Encoder.Encode(batch)

	s.setState(Sending)
	if err := s.deadline(s.conn.SetWriteDeadline, s.opts.WriteTimeout); err != nil {
		return err
	}
	if err := s.opts.Codec.WriteFrame(s.conn, payload); err != nil {
		if ctx.Err() == nil {
			s.countFatal(err)
		}
		return err
	}

	s.opts.Metrics.FramesProcessed.Add(1)
	s.opts.Metrics.DetectionsTotal.Add(uint64(len(batch)))
	s.opts.Metrics.BytesOut.Add(uint64(len(payload)))
	s.opts.Metrics.UpdateFrameLatency(frame.ReceivedAt)

	if len(batch) > 0 {
		s.log.Debug("Session", "Frame %d: %d detections %v", frame.Seq, len(batch), batch.CountByClass())
	}

	if s.opts.Observer != nil {
		s.opts.Observer.Observe(obs)
	}
	return nil
}

func (s *Session) deadline(set func(time.Time) error, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if err := set(time.Now().Add(d)); err != nil {
		return &framing.IOError{Op: "deadline", Err: err}
	}
	return nil
}

func (s *Session) countFatal(err error) {
	var protoErr *framing.ProtocolError
	if errors.As(err, &protoErr) {
		s.opts.Metrics.ProtocolErrors.Add(1)
		return
	}
	s.opts.Metrics.IOErrors.Add(1)
}

func (s *Session) info() Info {
	return Info{ID: s.id, RemoteAddr: s.RemoteAddr(), Frames: s.Frames()}
}

func (s *Session) notifyStart() {
	if lo, ok := s.opts.Observer.(LifecycleObserver); ok {
		lo.SessionStarted(s.info())
	}
}

func (s *Session) notifyEnd(err error) {
	if lo, ok := s.opts.Observer.(LifecycleObserver); ok {
		lo.SessionEnded(s.info(), err)
	}
}
