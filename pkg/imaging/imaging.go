// Package imaging decodes the image payloads clients submit and produces the
// face crops and evidence files the rest of facecheck stores.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	// Registered decoders for image.Decode.
	_ "image/gif"

	_ "golang.org/x/image/webp"
	"golang.org/x/image/draw"
)

// Format is an output encoding.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// JPEGQuality is used for every JPEG this package writes.
const JPEGQuality = 90

// ErrMalformedPayload is returned when a payload has no header/body separator.
var ErrMalformedPayload = errors.New("malformed image payload")

// ErrInvalidBase64 is returned when the payload body is not valid base64.
var ErrInvalidBase64 = errors.New("invalid base64 image data")

// ErrUndecodableImage is returned when the bytes are not a supported image.
var ErrUndecodableImage = errors.New("undecodable image data")

// DecodeDataURI decodes a payload of the form "<header>,<base64 body>",
// e.g. "data:image/jpeg;base64,/9j/4AAQ...".
func DecodeDataURI(payload string) (image.Image, error) {
	_, body, ok := strings.Cut(payload, ",")
	if !ok {
		return nil, ErrMalformedPayload
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}

	return Decode(data)
}

// Decode decodes raw JPEG, PNG, GIF or WebP bytes.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrUndecodableImage
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableImage, err)
	}
	return img, nil
}

// Crop cuts box out of img and scales it to a size×size square.
// The box is clamped to the image bounds; an empty result is an error.
func Crop(img image.Image, box image.Rectangle, size int) (image.Image, error) {
	box = box.Intersect(img.Bounds())
	if box.Empty() {
		return nil, fmt.Errorf("crop box %v outside image bounds %v", box, img.Bounds())
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, box, draw.Src, nil)
	return dst, nil
}

// Encode writes img in the requested format.
func Encode(img image.Image, format Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality})
	case FormatPNG:
		err = png.Encode(&buf, img)
	default:
		return nil, fmt.Errorf("unsupported image format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEG is shorthand for Encode(img, FormatJPEG).
func EncodeJPEG(img image.Image) ([]byte, error) {
	return Encode(img, FormatJPEG)
}

// EncodePNG is shorthand for Encode(img, FormatPNG).
func EncodePNG(img image.Image) ([]byte, error) {
	return Encode(img, FormatPNG)
}

// EncodeDataURI encodes img as a base64 data URI.
func EncodeDataURI(img image.Image, format Format) (string, error) {
	data, err := Encode(img, format)
	if err != nil {
		return "", err
	}
	return BytesToDataURI(data, "image/"+string(format)), nil
}

// BytesToDataURI wraps already-encoded image bytes in a data URI.
func BytesToDataURI(data []byte, mimeType string) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
