package imagebuf

import (
	"image"
	"image/color"
	"testing"

	"github.com/becksclair/screenshot-capture-engine/internal/model"
)

func gradient(w, h int) *Buffer {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: byte(x % 256),
				G: byte(y % 256),
				B: byte((x + y) % 256),
				A: 255,
			})
		}
	}
	return New(img)
}

func TestEncodeDecodeRoundTripPNG(t *testing.T) {
	buf := gradient(64, 48)
	data, err := buf.Encode(model.FormatPNG, 50)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data, model.FormatPNG)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	w, h := decoded.Dimensions()
	if w != 64 || h != 48 {
		t.Fatalf("dims = %dx%d, want 64x48", w, h)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if buf.img.RGBAAt(x, y) != decoded.img.RGBAAt(x, y) {
				t.Fatalf("pixel mismatch at (%d,%d)", x, y)
			}
		}
	}
}

func TestEncodeDecodeRoundTripWebP(t *testing.T) {
	buf := gradient(32, 32)
	data30, err := buf.Encode(model.FormatWebP, 30)
	if err != nil {
		t.Fatalf("encode q30: %v", err)
	}
	data90, err := buf.Encode(model.FormatWebP, 90)
	if err != nil {
		t.Fatalf("encode q90: %v", err)
	}
	if string(data30) != string(data90) {
		t.Fatalf("webp quality irrelevance violated: q30 len=%d q90 len=%d", len(data30), len(data90))
	}
	decoded, err := Decode(data30, model.FormatWebP)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	w, h := decoded.Dimensions()
	if w != 32 || h != 32 {
		t.Fatalf("dims = %dx%d, want 32x32", w, h)
	}
}

func TestEncodeJPEGDimensionsAndQualityMonotonicity(t *testing.T) {
	buf := gradient(128, 96)
	low, err := buf.Encode(model.FormatJPEG, 10)
	if err != nil {
		t.Fatalf("encode low: %v", err)
	}
	high, err := buf.Encode(model.FormatJPEG, 95)
	if err != nil {
		t.Fatalf("encode high: %v", err)
	}
	if len(low) > len(high) {
		t.Fatalf("quality monotonicity violated: q10 len=%d > q95 len=%d", len(low), len(high))
	}
	decoded, err := Decode(high, model.FormatJPEG)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	w, h := decoded.Dimensions()
	if w != 128 || h != 96 {
		t.Fatalf("dims = %dx%d, want 128x96", w, h)
	}
}

func TestCropBounds(t *testing.T) {
	buf := gradient(1920, 1080)
	cropped, err := buf.Crop(model.Region{X: 100, Y: 100, Width: 800, Height: 600})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	w, h := cropped.Dimensions()
	if w != 800 || h != 600 {
		t.Fatalf("dims = %dx%d, want 800x600", w, h)
	}

	if _, err := buf.Crop(model.Region{X: 1900, Y: 1000, Width: 200, Height: 200}); err == nil {
		t.Fatalf("expected error for out-of-bounds region")
	}
}

func TestScaleClamping(t *testing.T) {
	buf := gradient(100, 100)
	over := buf.Scale(5.0)
	w, h := over.Dimensions()
	if w != 200 || h != 200 {
		t.Fatalf("over-scale dims = %dx%d, want 200x200 (clamped to 2.0)", w, h)
	}
	under := buf.Scale(0.01)
	w, h = under.Dimensions()
	if w != 10 || h != 10 {
		t.Fatalf("under-scale dims = %dx%d, want 10x10 (clamped to 0.1)", w, h)
	}
}

func TestScaleIdentityShortCircuits(t *testing.T) {
	buf := gradient(10, 10)
	same := buf.Scale(1.0)
	if same != buf {
		t.Fatalf("expected identity scale to return the same buffer")
	}
}

func TestFromRawStrideValidation(t *testing.T) {
	if _, err := FromRaw(make([]byte, 10), 4, 4); err == nil {
		t.Fatalf("expected stride mismatch error")
	}
	buf, err := FromRaw(make([]byte, 4*4*4), 4, 4)
	if err != nil {
		t.Fatalf("from raw: %v", err)
	}
	w, h := buf.Dimensions()
	if w != 4 || h != 4 {
		t.Fatalf("dims = %dx%d, want 4x4", w, h)
	}
}

func TestApplyOptionsCropThenScaleThenMaxDimension(t *testing.T) {
	buf := gradient(1000, 500)
	region := model.Region{X: 0, Y: 0, Width: 800, Height: 400}
	maxDim := uint32(100)
	out, err := buf.ApplyOptions(model.CaptureOptions{Region: &region, Scale: 1.0, MaxDimension: &maxDim})
	if err != nil {
		t.Fatalf("apply options: %v", err)
	}
	w, h := out.Dimensions()
	if w > 100 || h > 100 {
		t.Fatalf("dims = %dx%d, want both <= 100 after max-dimension downscale", w, h)
	}
	// Aspect ratio (2:1) must be preserved.
	if w != h*2 {
		t.Fatalf("dims = %dx%d, aspect ratio not preserved", w, h)
	}
}

func TestApplyOptionsWithoutRegionOrMaxDimensionIsScaleOnly(t *testing.T) {
	buf := gradient(50, 50)
	out, err := buf.ApplyOptions(model.CaptureOptions{Scale: 2.0})
	if err != nil {
		t.Fatalf("apply options: %v", err)
	}
	w, h := out.Dimensions()
	if w != 100 || h != 100 {
		t.Fatalf("dims = %dx%d, want 100x100", w, h)
	}
}

func TestEncodeZeroDimensionFails(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 0, 0))
	buf := New(img)
	if _, err := buf.Encode(model.FormatPNG, 50); err == nil {
		t.Fatalf("expected error encoding zero-dimension buffer")
	}
}
