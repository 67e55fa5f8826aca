package preview

import (
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// detectionEvent is the payload for /api/detections/stream
type detectionEvent struct {
	SessionID   string         `json:"session_id"`
	FrameNumber uint64         `json:"frame_number"`
	Timestamp   float64        `json:"timestamp"`
	Counts      map[string]int `json:"counts"`
	Detections  any            `json:"detections"`
}

// serializeDetection encodes a result as JSON and as a base64 protobuf Struct
// carrying the same fields.
func serializeDetection(result DetectionResult) (*SerializedEvent, error) {
	event := detectionEvent{
		SessionID:   result.SessionID,
		FrameNumber: result.FrameNumber,
		Timestamp:   result.Timestamp,
		Counts:      result.Counts,
		Detections:  result.Detections,
	}
	jsonData, err := json.Marshal(event)
	if err != nil {
		return nil, errors.Wrap(err, "marshal detection event")
	}

	// structpb only accepts generic JSON values, so go through a map
	var generic map[string]any
	if err := json.Unmarshal(jsonData, &generic); err != nil {
		return nil, errors.Wrap(err, "convert detection event")
	}
	pbEvent, err := structpb.NewStruct(generic)
	if err != nil {
		return nil, errors.Wrap(err, "build protobuf detection event")
	}
	pbData, err := proto.Marshal(pbEvent)
	if err != nil {
		return nil, errors.Wrap(err, "marshal protobuf detection event")
	}

	// Base64 encode for SSE transport
	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
