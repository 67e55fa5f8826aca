package preview

import (
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/results"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/session"
)

// historySize is the number of recent non-empty results kept for /api/status
const historySize = 8

// Monitor keeps the latest detection state for the status API
type Monitor struct {
	startTime time.Time
	encoder   *results.Encoder

	mu               sync.Mutex
	framesObserved   uint64
	sessionsSeen     uint64
	detectionVersion int
	latestDetection  *DetectionResult
	detectionHistory []DetectionResult
	session          *SessionStatus
	lastFrameAt      time.Time
	fps              float64
}

// NewMonitor creates a Monitor rendering detections with encoder's precision
func NewMonitor(encoder *results.Encoder) *Monitor {
	if encoder == nil {
		encoder = results.NewEncoder(results.DefaultPrecision, results.DefaultBoxPrecision)
	}
	return &Monitor{
		startTime: time.Now(),
		encoder:   encoder,
	}
}

// Record stores an observation and returns the resulting detection entry
func (m *Monitor) Record(obs session.Observation) DetectionResult {
	result := DetectionResult{
		SessionID:     obs.SessionID,
		FrameNumber:   obs.Seq,
		Timestamp:     unixSeconds(obs.ReceivedAt),
		NumDetections: len(obs.Batch),
		DecodeFailed:  obs.DecodeFailed,
		InferenceMs:   float64(obs.InferenceTime.Microseconds()) / 1000,
		Counts:        obs.Batch.CountByClass(),
		Detections:    m.encoder.Records(obs.Batch),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.framesObserved++
	m.detectionVersion++
	result.Version = m.detectionVersion
	m.latestDetection = &result
	if result.NumDetections > 0 {
		m.detectionHistory = append([]DetectionResult{result}, m.detectionHistory...)
		if len(m.detectionHistory) > historySize {
			m.detectionHistory = m.detectionHistory[:historySize]
		}
	}
	if m.session != nil && m.session.ID == obs.SessionID {
		m.session.Frames = obs.Seq
	}
	m.updateFPSLocked(obs.ReceivedAt)

	return result
}

// SessionStarted implements session.LifecycleObserver
func (m *Monitor) SessionStarted(info session.Info) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessionsSeen++
	m.session = &SessionStatus{
		ID:         info.ID,
		RemoteAddr: info.RemoteAddr,
		Active:     true,
		StartedAt:  unixSeconds(time.Now()),
	}
	m.lastFrameAt = time.Time{}
	m.fps = 0
}

// SessionEnded implements session.LifecycleObserver
func (m *Monitor) SessionEnded(info session.Info, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || m.session.ID != info.ID {
		return
	}
	m.session.Active = false
	m.session.Frames = info.Frames
	m.session.EndedAt = unixSeconds(time.Now())
	if err != nil {
		m.session.Error = err.Error()
	}
	m.fps = 0
}

// Snapshot returns the current stats, the session, the latest result and a copy of the history
func (m *Monitor) Snapshot() (MonitorStats, *SessionStatus, *DetectionResult, []DetectionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		FramesObserved: m.framesObserved,
		CurrentFPS:     m.fps,
		SessionsSeen:   m.sessionsSeen,
		UptimeSeconds:  time.Since(m.startTime).Seconds(),
	}

	var latest *DetectionResult
	if m.latestDetection != nil {
		stats.DetectionCount = m.latestDetection.NumDetections
		cp := *m.latestDetection
		latest = &cp
	}

	var sess *SessionStatus
	if m.session != nil {
		cp := *m.session
		sess = &cp
	}

	historyCopy := make([]DetectionResult, len(m.detectionHistory))
	copy(historyCopy, m.detectionHistory)

	return stats, sess, latest, historyCopy
}

// updateFPSLocked keeps an exponentially weighted frame rate
func (m *Monitor) updateFPSLocked(at time.Time) {
	if !m.lastFrameAt.IsZero() {
		if dt := at.Sub(m.lastFrameAt).Seconds(); dt > 0 {
			inst := 1 / dt
			if m.fps == 0 {
				m.fps = inst
			} else {
				m.fps = 0.8*m.fps + 0.2*inst
			}
		}
	}
	m.lastFrameAt = at
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMicro()) / 1e6
}
