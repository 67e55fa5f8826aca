// Package client is a Go client for the detection server: it sends encoded
// images as length-prefixed frames and reads back one result batch per frame.
package client

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/framing"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/results"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/pkg/types"
)

// Options configures a Client
type Options struct {
	// MaxFrameSize caps both outgoing images and incoming replies.
	// Zero selects framing.DefaultMaxFrameSize.
	MaxFrameSize uint32
	DialTimeout  time.Duration
}

// Client holds one connection to a detection server.
// Detect calls are serialized; the protocol answers frames strictly in order.
type Client struct {
	conn  net.Conn
	codec *framing.Codec

	mu   sync.Mutex
	sent uint64
}

// Dial connects to a detection server at addr
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return New(conn, opts), nil
}

// New wraps an existing connection
func New(conn net.Conn, opts Options) *Client {
	return &Client{
		conn:  conn,
		codec: framing.NewCodec(opts.MaxFrameSize),
	}
}

// Detect sends one encoded image and waits for its detections.
// ctx bounds the whole round trip; after a timeout or cancellation the
// connection is out of step and should be closed.
func (c *Client) Detect(ctx context.Context, image []byte) (types.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := c.codec.WriteFrame(c.conn, image); err != nil {
		return nil, c.ctxErr(ctx, errors.Wrapf(err, "send frame %d", c.sent+1))
	}
	c.sent++

	reply, err := c.codec.ReadFrame(c.conn)
	if err != nil {
		return nil, c.ctxErr(ctx, errors.Wrapf(err, "reply to frame %d", c.sent))
	}
	batch, err := results.Decode(reply)
	if err != nil {
		return nil, errors.Wrapf(err, "reply to frame %d", c.sent)
	}
	return batch, nil
}

// Sent returns the number of frames written so far
func (c *Client) Sent() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// ctxErr attributes a deadline hit to ctx. The conn deadline and the ctx
// timer share an instant, so wait for ctx before reporting.
func (c *Client) ctxErr(ctx context.Context, err error) error {
	if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
		<-ctx.Done()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(ctxErr, err.Error())
	}
	return err
}
