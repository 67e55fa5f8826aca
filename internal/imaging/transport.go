// Package imaging turns received compressed-image bytes into decoded pixel
// buffers and renders annotated frames for local display.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	// DefaultMaxPixels rejects images above ~40 megapixels
	DefaultMaxPixels = 40_000_000
	// DefaultJPEGQuality is used for display encoding
	DefaultJPEGQuality = 80
)

// DecodeError means the bytes were not a decodable image.
// It is recoverable: the frame is skipped and the session continues.
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %d-byte image: %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrTooLarge is wrapped by DecodeError when the declared pixel count exceeds the limit
var ErrTooLarge = errors.New("image dimensions exceed limit")

// Transport decodes inbound frames and encodes annotated frames for display
type Transport struct {
	maxPixels   int
	jpegQuality int
}

// NewTransport creates a Transport. Zero values select the defaults.
func NewTransport(maxPixels, jpegQuality int) *Transport {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}
	return &Transport{maxPixels: maxPixels, jpegQuality: jpegQuality}
}

// decodeImage is the full decoder; swapped in tests
var decodeImage = image.Decode

// Decode auto-detects the image format from its header and decodes it.
// Dimensions are checked from the header before the full decode. A decoder
// panic is reported as a DecodeError.
func (t *Transport) Decode(data []byte) (img image.Image, format string, err error) {
	if len(data) == 0 {
		return nil, "", &DecodeError{Size: 0, Err: errors.New("empty payload")}
	}

	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = &DecodeError{Size: len(data), Err: errors.Errorf("decoder panic: %v", r)}
		}
	}()

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", &DecodeError{Size: len(data), Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, format, &DecodeError{Size: len(data), Err: errors.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)}
	}
	// Header dimensions can be up to 32 bits each; the product fits in uint64
	if uint64(cfg.Width)*uint64(cfg.Height) > uint64(t.maxPixels) {
		return nil, format, &DecodeError{Size: len(data), Err: errors.Wrapf(ErrTooLarge, "%dx%d > %d pixels", cfg.Width, cfg.Height, t.maxPixels)}
	}

	img, format, err = decodeImage(bytes.NewReader(data))
	if err != nil {
		return nil, format, &DecodeError{Size: len(data), Err: err}
	}
	return img, format, nil
}

// EncodeForDisplay encodes img as JPEG. The result is for local display only
// and is never sent over the detection protocol.
func (t *Transport) EncodeForDisplay(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: t.jpegQuality}); err != nil {
		return nil, errors.Wrap(err, "encode jpeg")
	}
	return buf.Bytes(), nil
}
