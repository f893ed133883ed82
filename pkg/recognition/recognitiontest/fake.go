// Package recognitiontest provides deterministic Detector and Recognizer
// implementations for tests that must not load dlib models.
//
// The default behavior treats an image whose top-left pixel is black as
// containing no face, and otherwise reports the whole image as the face. The
// default embedding is the mean RGB color of the crop scaled to [0,1], so two
// solid images of the same color always match and strongly different colors
// never do.
package recognitiontest

import (
	"image"
	"image/color"
	"sync/atomic"
	"testing"

	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
)

// Common test colors.
var (
	Black = color.RGBA{A: 255}
	Red   = color.RGBA{R: 220, G: 30, B: 30, A: 255}
	Green = color.RGBA{R: 30, G: 200, B: 40, A: 255}
	Blue  = color.RGBA{R: 20, G: 40, B: 230, A: 255}
)

// Detector is a fake recognition.Detector.
type Detector struct {
	DetectFunc func(img image.Image) (image.Rectangle, bool, error)
	calls      atomic.Int64
}

// DetectLargest implements recognition.Detector.
func (d *Detector) DetectLargest(img image.Image) (image.Rectangle, bool, error) {
	d.calls.Add(1)
	if d.DetectFunc != nil {
		return d.DetectFunc(img)
	}
	return ColorDetect(img)
}

// Calls returns how many times DetectLargest ran.
func (d *Detector) Calls() int {
	return int(d.calls.Load())
}

// ColorDetect reports no face for a black top-left pixel, else the full bounds.
func ColorDetect(img image.Image) (image.Rectangle, bool, error) {
	b := img.Bounds()
	if b.Empty() {
		return image.Rectangle{}, false, nil
	}
	r, g, bl, _ := img.At(b.Min.X, b.Min.Y).RGBA()
	if r == 0 && g == 0 && bl == 0 {
		return image.Rectangle{}, false, nil
	}
	return b, true, nil
}

// Recognizer is a fake recognition.Recognizer.
type Recognizer struct {
	EmbedFunc func(crop image.Image) (recognition.Embedding, error)
	// Threshold defaults to recognition.DefaultThreshold when zero.
	Threshold float64
	calls     atomic.Int64
}

// Embed implements recognition.Recognizer.
func (r *Recognizer) Embed(crop image.Image) (recognition.Embedding, error) {
	r.calls.Add(1)
	if r.EmbedFunc != nil {
		return r.EmbedFunc(crop)
	}
	return MeanColor(crop), nil
}

// Compare implements recognition.Recognizer.
func (r *Recognizer) Compare(reference, probe recognition.Embedding) (float64, bool) {
	threshold := r.Threshold
	if threshold == 0 {
		threshold = recognition.DefaultThreshold
	}
	return recognition.Match(reference, probe, threshold)
}

// Calls returns how many times Embed ran.
func (r *Recognizer) Calls() int {
	return int(r.calls.Load())
}

// MeanColor returns the average RGB of img scaled to [0,1].
func MeanColor(img image.Image) recognition.Embedding {
	b := img.Bounds()
	var sr, sg, sb float64
	n := float64(b.Dx() * b.Dy())
	if n == 0 {
		return recognition.Embedding{0, 0, 0}
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			sr += float64(c.R)
			sg += float64(c.G)
			sb += float64(c.B)
		}
	}
	return recognition.Embedding{
		float32(sr / n / 255),
		float32(sg / n / 255),
		float32(sb / n / 255),
	}
}

// SolidImage returns a w×h image filled with c.
func SolidImage(c color.Color, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// DataURI encodes img as a PNG data URI, failing the test on error.
func DataURI(tb testing.TB, img image.Image) string {
	tb.Helper()
	uri, err := imaging.EncodeDataURI(img, imaging.FormatPNG)
	if err != nil {
		tb.Fatalf("encode data uri: %v", err)
	}
	return uri
}

// SolidFrame is shorthand for DataURI(tb, SolidImage(c, 64, 64)).
func SolidFrame(tb testing.TB, c color.Color) string {
	tb.Helper()
	return DataURI(tb, SolidImage(c, 64, 64))
}
