package preview

import "github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/results"

// DetectionResult is one answered frame as shown by the status API
type DetectionResult struct {
	SessionID     string           `json:"session_id"`
	FrameNumber   uint64           `json:"frame_number"`
	Timestamp     float64          `json:"timestamp"`
	NumDetections int              `json:"num_detections"`
	Version       int              `json:"version"`
	DecodeFailed  bool             `json:"decode_failed,omitempty"`
	InferenceMs   float64          `json:"inference_ms"`
	Counts        map[string]int   `json:"counts"`
	Detections    []results.Record `json:"detections"`
}

// SessionStatus describes the connected (or last) detection client
type SessionStatus struct {
	ID         string  `json:"id"`
	RemoteAddr string  `json:"remote_addr"`
	Active     bool    `json:"active"`
	Frames     uint64  `json:"frames"`
	StartedAt  float64 `json:"started_at"`
	EndedAt    float64 `json:"ended_at,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// MonitorStats summarizes preview-side counters
type MonitorStats struct {
	FramesObserved uint64  `json:"frames_observed"`
	CurrentFPS     float64 `json:"current_fps"`
	DetectionCount int     `json:"detection_count"`
	SessionsSeen   uint64  `json:"sessions_seen"`
	PreviewClients int     `json:"preview_clients"`
	FramesRendered uint64  `json:"frames_rendered"`
	FramesDropped  uint64  `json:"frames_dropped"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}
