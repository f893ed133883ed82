package imaging

import (
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"testing"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func TestDecodeDataURI(t *testing.T) {
	src := gradient(32, 24)
	uri, err := EncodeDataURI(src, FormatPNG)
	if err != nil {
		t.Fatalf("EncodeDataURI failed: %v", err)
	}

	img, err := DecodeDataURI(uri)
	if err != nil {
		t.Fatalf("DecodeDataURI failed: %v", err)
	}
	if img.Bounds() != src.Bounds() {
		t.Errorf("bounds = %v, want %v", img.Bounds(), src.Bounds())
	}

	r1, g1, b1, _ := img.At(10, 5).RGBA()
	r2, g2, b2, _ := src.At(10, 5).RGBA()
	if r1 != r2 || g1 != g2 || b1 != b2 {
		t.Error("PNG round-trip changed pixel values")
	}
}

func TestDecodeDataURI_JPEG(t *testing.T) {
	uri, err := EncodeDataURI(gradient(16, 16), FormatJPEG)
	if err != nil {
		t.Fatalf("EncodeDataURI failed: %v", err)
	}
	if _, err := DecodeDataURI(uri); err != nil {
		t.Fatalf("DecodeDataURI failed: %v", err)
	}
}

func TestDecodeDataURI_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"empty", "", ErrMalformedPayload},
		{"no comma", "data:image/png;base64" + base64.StdEncoding.EncodeToString([]byte("x")), ErrMalformedPayload},
		{"bad base64", "data:image/png;base64,!!!not-base64!!!", ErrInvalidBase64},
		{"empty body", "data:image/png;base64,", ErrUndecodableImage},
		{"not an image", "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("hello world")), ErrUndecodableImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodeDataURI(tt.payload)
			if img != nil {
				t.Error("expected nil image")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCrop(t *testing.T) {
	img := gradient(200, 100)

	crop, err := Crop(img, image.Rect(50, 10, 150, 90), 160)
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if crop.Bounds() != image.Rect(0, 0, 160, 160) {
		t.Errorf("crop bounds = %v, want 160x160", crop.Bounds())
	}
}

func TestCrop_ClampsToBounds(t *testing.T) {
	img := gradient(50, 50)

	if _, err := Crop(img, image.Rect(-20, -20, 30, 30), 32); err != nil {
		t.Errorf("partially outside box should be clamped, got %v", err)
	}
	if _, err := Crop(img, image.Rect(60, 60, 80, 80), 32); err == nil {
		t.Error("box fully outside image should fail")
	}
}

func TestCrop_Deterministic(t *testing.T) {
	img := gradient(64, 64)
	box := image.Rect(8, 8, 56, 56)

	a, _ := Crop(img, box, 40)
	b, _ := Crop(img, box, 40)

	pa, _ := EncodePNG(a)
	pb, _ := EncodePNG(b)
	if string(pa) != string(pb) {
		t.Error("identical crops should encode identically")
	}
}

func TestEncode_UnsupportedFormat(t *testing.T) {
	if _, err := Encode(gradient(4, 4), Format("bmp")); err == nil {
		t.Error("expected error for unsupported format")
	}
}
