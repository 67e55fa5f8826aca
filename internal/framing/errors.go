package framing

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrPeerClosed reports that the peer closed the stream at (or inside) a length prefix.
// It is a clean end of session, not a failure.
var ErrPeerClosed = errors.New("peer closed connection")

// IOError is a transport failure: reset, short write, truncated payload or timeout.
// It is fatal to the session.
type IOError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("frame %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ProtocolError is a framing violation by the peer (or a caller handing
// WriteFrame an unsendable payload). It is fatal to the session.
type ProtocolError struct {
	Length uint64
	Limit  uint32
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("protocol error: %s (length=%d, max=%d)", e.Reason, e.Length, e.Limit)
	}
	return fmt.Sprintf("protocol error: %s (length=%d)", e.Reason, e.Length)
}

// IsFatal reports whether err ends a session abnormally.
// A clean peer close and nil are not fatal.
func IsFatal(err error) bool {
	if err == nil || errors.Is(err, ErrPeerClosed) {
		return false
	}
	return true
}
