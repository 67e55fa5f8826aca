package imaging

import (
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/pkg/types"
)

const boxThickness = 2

// palette is cycled by class-name hash so a class keeps its color across frames
var palette = []color.RGBA{
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 64, B: 64, A: 255},
	{R: 64, G: 128, B: 255, A: 255},
	{R: 255, G: 200, B: 0, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 255, G: 128, B: 0, A: 255},
	{R: 160, G: 96, B: 255, A: 255},
}

// ClassColor returns the stable overlay color for a class name
func ClassColor(className string) color.RGBA {
	h := fnv.New32a()
	_, _ = h.Write([]byte(className))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Annotate draws boxes and "label conf" captions onto a copy of img.
// The input image is never modified.
func Annotate(img image.Image, batch types.Batch) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	for _, det := range batch {
		c := ClassColor(det.ClassName)
		r := clampRect(det.Box, out.Bounds())
		if r.Empty() {
			continue
		}
		drawRect(out, r, c, boxThickness)

		label := fmt.Sprintf("%s %.2f", det.ClassName, det.Confidence)
		labelY := r.Min.Y - 2
		if labelY-basicfont.Face7x13.Height < 0 {
			labelY = r.Max.Y + basicfont.Face7x13.Height
		}
		drawLabel(out, r.Min.X, labelY, label, c)
	}
	return out
}

// Fit scales img down so its width is at most maxWidth, keeping aspect ratio.
// Images already narrow enough are returned unchanged.
func Fit(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := int(math.Round(float64(b.Dy()) * float64(maxWidth) / float64(b.Dx())))
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func clampRect(box types.Box, bounds image.Rectangle) image.Rectangle {
	box = box.Normalized()
	r := image.Rect(
		int(math.Round(box.X1)), int(math.Round(box.Y1)),
		int(math.Round(box.X2)), int(math.Round(box.Y2)),
	)
	return r.Intersect(bounds)
}

func drawRect(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	fill := image.NewUniform(c)
	for i := 0; i < thickness; i++ {
		top := image.Rect(r.Min.X, r.Min.Y+i, r.Max.X, r.Min.Y+i+1)
		bottom := image.Rect(r.Min.X, r.Max.Y-i-1, r.Max.X, r.Max.Y-i)
		left := image.Rect(r.Min.X+i, r.Min.Y, r.Min.X+i+1, r.Max.Y)
		right := image.Rect(r.Max.X-i-1, r.Min.Y, r.Max.X-i, r.Max.Y)
		for _, edge := range []image.Rectangle{top, bottom, left, right} {
			draw.Draw(img, edge.Intersect(img.Bounds()), fill, image.Point{}, draw.Src)
		}
	}
}

func drawLabel(img *image.RGBA, x, baseline int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	bg := image.Rect(x, baseline-face.Ascent-1, x+width+2, baseline+face.Descent+1)
	draw.Draw(img, bg.Intersect(img.Bounds()), image.NewUniform(color.RGBA{A: 255}), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x+1, baseline),
	}
	d.DrawString(text)
}
