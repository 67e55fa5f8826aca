// Package framing implements the length-prefixed wire format used in both
// directions of the detection protocol: a 4-byte unsigned big-endian length
// immediately followed by exactly that many payload bytes.
package framing

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"
)

const (
	// HeaderSize is the size of the length prefix
	HeaderSize = 4

	// DefaultMaxFrameSize bounds a single payload when no limit is configured
	DefaultMaxFrameSize uint32 = 16 << 20
)

// Codec reads and writes framed messages
type Codec struct {
	maxFrameSize uint32
}

// NewCodec creates a codec rejecting payloads larger than maxFrameSize.
// Zero selects DefaultMaxFrameSize.
func NewCodec(maxFrameSize uint32) *Codec {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Codec{maxFrameSize: maxFrameSize}
}

// MaxFrameSize returns the configured payload cap
func (c *Codec) MaxFrameSize() uint32 {
	return c.maxFrameSize
}

// ReadFrame reads one complete frame from r.
//
// The length prefix is validated before any payload buffer is allocated.
// End of stream before the prefix is complete returns ErrPeerClosed; end of
// stream inside the payload returns an *IOError.
func (c *Codec) ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrPeerClosed
		}
		return nil, &IOError{Op: "read", Err: errors.Wrap(err, "length prefix")}
	}

	length := binary.BigEndian.Uint32(hdr[:])
	if length == 0 {
		return nil, &ProtocolError{Length: 0, Reason: "zero-length frame"}
	}
	if length > c.maxFrameSize {
		return nil, &ProtocolError{Length: uint64(length), Limit: c.maxFrameSize, Reason: "frame exceeds maximum size"}
	}

	payload := make([]byte, length)
	n, err := io.ReadFull(r, payload)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, &IOError{Op: "read", Err: errors.Wrapf(err, "payload truncated at %d of %d bytes", n, length)}
	}
	return payload, nil
}

// WriteFrame writes payload to w with its length prefix.
// Prefix and payload go out in one vectored write where w supports it.
func (c *Codec) WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return &ProtocolError{Length: 0, Reason: "refusing to send zero-length frame"}
	}
	if uint64(len(payload)) > uint64(c.maxFrameSize) {
		return &ProtocolError{Length: uint64(len(payload)), Limit: c.maxFrameSize, Reason: "payload exceeds maximum size"}
	}

	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))

	bufs := net.Buffers{hdr[:], payload}
	want := int64(HeaderSize + len(payload))
	n, err := bufs.WriteTo(w)
	if err != nil {
		return &IOError{Op: "write", Err: errors.Wrapf(err, "wrote %d of %d bytes", n, want)}
	}
	if n != want {
		return &IOError{Op: "write", Err: errors.Wrapf(io.ErrShortWrite, "wrote %d of %d bytes", n, want)}
	}
	return nil
}

// ReadFrame reads one frame with a default-limit codec
func ReadFrame(r io.Reader) ([]byte, error) {
	return NewCodec(0).ReadFrame(r)
}

// WriteFrame writes one frame with a default-limit codec
func WriteFrame(w io.Writer, payload []byte) error {
	return NewCodec(0).WriteFrame(w, payload)
}
