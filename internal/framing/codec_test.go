package framing

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"testing/iotest"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prefixed(length uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, length)
	return append(buf, payload...)
}

func TestRoundTrip(t *testing.T) {
	codec := NewCodec(1024)
	payloads := [][]byte{
		{0x01},
		[]byte("hello"),
		bytes.Repeat([]byte{0xff, 0x00}, 512), // exactly the cap
	}

	var buf bytes.Buffer
	for _, p := range payloads {
		require.NoError(t, codec.WriteFrame(&buf, p))
	}
	for _, p := range payloads {
		got, err := codec.ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := codec.ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestReadFrameLoopsOverPartialReads(t *testing.T) {
	payload := []byte("jpeg-ish payload delivered one byte at a time")
	r := iotest.OneByteReader(bytes.NewReader(prefixed(uint32(len(payload)), payload)))

	got, err := NewCodec(0).ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFramePrefixBoundary(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty stream", nil},
		{"one byte of prefix", []byte{0x00}},
		{"three bytes of prefix", []byte{0x00, 0x00, 0x10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCodec(0).ReadFrame(bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, ErrPeerClosed)
			assert.False(t, IsFatal(err))
		})
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	// declared 16, delivered 10, then EOF
	data := prefixed(16, bytes.Repeat([]byte{0xab}, 10))

	_, err := NewCodec(0).ReadFrame(bytes.NewReader(data))
	require.Error(t, err)

	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr), "expected IOError, got %T", err)
	assert.Equal(t, "read", ioErr.Op)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.True(t, IsFatal(err))
}

// countingReader fails the test if more than limit bytes are requested.
type countingReader struct {
	t     *testing.T
	r     io.Reader
	read  int
	limit int
}

func (c *countingReader) Read(p []byte) (int, error) {
	if c.read+len(p) > c.limit {
		c.t.Fatalf("reader asked for %d bytes beyond the prefix", c.read+len(p)-c.limit)
	}
	n, err := c.r.Read(p)
	c.read += n
	return n, err
}

func TestReadFrameOversizeRejectedBeforeRead(t *testing.T) {
	codec := NewCodec(1 << 10)
	data := prefixed(0xFFFFFFF0, nil)
	r := &countingReader{t: t, r: bytes.NewReader(data), limit: HeaderSize}

	_, err := codec.ReadFrame(r)
	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr), "expected ProtocolError, got %v", err)
	assert.Equal(t, uint64(0xFFFFFFF0), protoErr.Length)
	assert.Equal(t, uint32(1<<10), protoErr.Limit)
	assert.Equal(t, HeaderSize, r.read)
}

func TestReadFrameZeroLength(t *testing.T) {
	_, err := NewCodec(0).ReadFrame(bytes.NewReader(prefixed(0, nil)))
	var protoErr *ProtocolError
	assert.True(t, errors.As(err, &protoErr))
	assert.True(t, IsFatal(err))
}

func TestReadFrameTransportError(t *testing.T) {
	boom := errors.New("connection reset by peer")
	_, err := NewCodec(0).ReadFrame(iotest.ErrReader(boom))

	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
	assert.ErrorIs(t, err, boom)
}

func TestWriteFrameRejectsInvalidPayloads(t *testing.T) {
	codec := NewCodec(8)
	var buf bytes.Buffer

	var protoErr *ProtocolError
	assert.True(t, errors.As(codec.WriteFrame(&buf, nil), &protoErr))
	assert.True(t, errors.As(codec.WriteFrame(&buf, make([]byte, 9)), &protoErr))
	assert.Zero(t, buf.Len())
}

type shortWriter struct{ limit int }

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) > s.limit {
		return s.limit, io.ErrShortWrite
	}
	s.limit -= len(p)
	return len(p), nil
}

func TestWriteFrameShortWrite(t *testing.T) {
	err := NewCodec(0).WriteFrame(&shortWriter{limit: 6}, []byte("0123456789"))

	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "write", ioErr.Op)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestFramesOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	codec := NewCodec(0)
	payload := bytes.Repeat([]byte("frame"), 1000)

	go func() {
		defer client.Close()
		for i := 0; i < 3; i++ {
			if err := codec.WriteFrame(client, payload); err != nil {
				return
			}
		}
	}()

	for i := 0; i < 3; i++ {
		got, err := codec.ReadFrame(server)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	}
	_, err := codec.ReadFrame(server)
	assert.ErrorIs(t, err, ErrPeerClosed)
}
