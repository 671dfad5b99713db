package videocomp

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const stampFormat = "2006-01-02 15:04:05.000"

// stampTimestamp burns the capture timestamp into the lower-left corner of a
// JPEG frame. Payloads that do not decode as JPEG are passed through
// untouched so one bad frame never sinks the whole encode.
func stampTimestamp(data []byte, ts time.Time) []byte {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}

	bounds := src.Bounds()
	img := image.NewRGBA(bounds)
	draw.Draw(img, bounds, src, bounds.Min, draw.Src)

	label := ts.Format(stampFormat)
	face := basicfont.Face7x13
	width := font.MeasureString(face, label).Ceil()

	pad := 4
	boxH := face.Metrics().Height.Ceil() + 2*pad
	box := image.Rect(
		bounds.Min.X,
		bounds.Max.Y-boxH,
		bounds.Min.X+width+2*pad,
		bounds.Max.Y,
	)
	draw.Draw(img, box, image.NewUniform(color.RGBA{0, 0, 0, 200}), image.Point{}, draw.Over)

	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot: fixed.P(
			bounds.Min.X+pad,
			bounds.Max.Y-pad-face.Metrics().Descent.Ceil(),
		),
	}
	d.DrawString(label)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return data
	}
	return buf.Bytes()
}
