// Package imagebuf implements the capture engine's in-memory image buffer:
// construction from decoded pixels, cropping, high-quality resampling and
// encoding to PNG, JPEG or lossless WebP (spec §4.1).
//
// PNG and JPEG are encoded with the standard library's image/png and
// image/jpeg codecs — every repo in the retrieval pack that touches these
// two well-specified formats reaches for the stdlib codec rather than a
// third-party one (see DESIGN.md). WebP has no stdlib codec at all, so
// encoding uses github.com/gen2brain/webp; scaling uses
// github.com/disintegration/imaging for its Lanczos resampler.
package imagebuf

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"

	"github.com/becksclair/screenshot-capture-engine/internal/engineerror"
	"github.com/becksclair/screenshot-capture-engine/internal/model"
)

// Buffer is an owned pixel grid of known dimensions and color format.
// Transformations (Crop, Scale) return new buffers; Buffer itself is never
// mutated in place once constructed.
type Buffer struct {
	img *image.RGBA
}

// New wraps a decoded image into a Buffer, converting to RGBA if necessary.
func New(src image.Image) *Buffer {
	if rgba, ok := src.(*image.RGBA); ok {
		return &Buffer{img: rgba}
	}
	b := src.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x, y, src.At(x, y))
		}
	}
	return &Buffer{img: dst}
}

// FromRaw builds a Buffer directly from a tightly packed RGBA pixel slice,
// validating that its length matches width*height*4 exactly (spec §4.1:
// "Input-buffer stride is validated against declared dimensions").
func FromRaw(pix []byte, width, height int) (*Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, engineerror.NewInvalidParameter("dimensions", "width and height must be positive")
	}
	want := width * height * 4
	if len(pix) != want {
		return nil, engineerror.NewImageError("from_raw", fmt.Sprintf("expected %d bytes for %dx%d RGBA, got %d", want, width, height, len(pix)))
	}
	img := &image.RGBA{
		Pix:    append([]byte(nil), pix...),
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
	return &Buffer{img: img}, nil
}

// Dimensions returns the buffer's width and height in pixels.
func (b *Buffer) Dimensions() (int, int) {
	r := b.img.Bounds()
	return r.Dx(), r.Dy()
}

// Image exposes the underlying image.Image for callers that need to read
// pixels directly (e.g. tests asserting round-trip equality).
func (b *Buffer) Image() *image.RGBA { return b.img }

// Crop returns a new Buffer containing only the pixels inside region. The
// region must lie entirely within the source bounds (spec §3, §8).
func (b *Buffer) Crop(r model.Region) (*Buffer, error) {
	if !r.Valid() {
		return nil, engineerror.NewInvalidParameter("region", "width and height must be positive")
	}
	rect := r.Rect()
	bounds := b.img.Bounds()
	if rect.Min.X < bounds.Min.X || rect.Min.Y < bounds.Min.Y || rect.Max.X > bounds.Max.X || rect.Max.Y > bounds.Max.Y {
		return nil, engineerror.NewInvalidParameter("region", "region lies outside the source image")
	}
	cropped := imaging.Crop(b.img, rect)
	return &Buffer{img: toRGBA(cropped)}, nil
}

// Scale returns a new Buffer resampled by factor, clamped to [0.1, 2.0]. A
// factor of 1.0 (within tolerance) short-circuits and returns b unchanged.
func (b *Buffer) Scale(factor float64) *Buffer {
	factor = model.ClampScale(factor)
	if diff := factor - 1.0; diff > -1e-6 && diff < 1e-6 {
		return b
	}
	w, h := b.Dimensions()
	newW := int(float64(w)*factor + 0.5)
	newH := int(float64(h)*factor + 0.5)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}
	resized := imaging.Resize(b.img, newW, newH, imaging.Lanczos)
	return &Buffer{img: toRGBA(resized)}
}

// ApplyOptions runs the shared post-capture pipeline every backend applies
// to a freshly captured buffer: crop (if a region is set), then scale, then
// an additional downscale to fit MaxDimension if set (spec §3, §4.5 step 9).
func (b *Buffer) ApplyOptions(opts model.CaptureOptions) (*Buffer, error) {
	out := b
	if opts.Region != nil {
		cropped, err := out.Crop(*opts.Region)
		if err != nil {
			return nil, err
		}
		out = cropped
	}
	out = out.Scale(opts.Scale)
	if opts.MaxDimension != nil {
		w, h := out.Dimensions()
		limit := int(*opts.MaxDimension)
		if limit > 0 && (w > limit || h > limit) {
			factor := float64(limit) / float64(w)
			if hf := float64(limit) / float64(h); hf < factor {
				factor = hf
			}
			// Resize directly rather than through Scale, whose [0.1, 2.0]
			// clamp would leave large sources above the limit.
			newW := int(float64(w)*factor + 0.5)
			newH := int(float64(h)*factor + 0.5)
			if newW < 1 {
				newW = 1
			}
			if newH < 1 {
				newH = 1
			}
			out = &Buffer{img: toRGBA(imaging.Resize(out.img, newW, newH, imaging.Lanczos))}
		}
	}
	return out, nil
}

func toRGBA(img *image.NRGBA) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x, y, img.At(x, y))
		}
	}
	return dst
}

// pngEffort maps the [0,100] quality knob onto PNG compression effort per
// spec §4.1: [0,33] -> fast, [34,66] -> default, [67,100] -> best.
func pngEffort(quality int) png.CompressionLevel {
	switch {
	case quality <= 33:
		return png.BestSpeed
	case quality <= 66:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

// Encode renders the buffer to bytes in the given format. quality is
// interpreted per format: PNG maps it to compression effort (always
// lossless), JPEG clamps it to [1,100] and drops alpha, WebP accepts it for
// API symmetry but produces byte-identical lossless output regardless of its
// value (spec §4.1, §8).
func (b *Buffer) Encode(format model.Format, quality int) ([]byte, error) {
	w, h := b.Dimensions()
	if w == 0 || h == 0 {
		return nil, engineerror.NewInvalidParameter("dimensions", "cannot encode a zero-dimension buffer")
	}
	var buf bytes.Buffer
	switch format {
	case model.FormatPNG:
		enc := &png.Encoder{CompressionLevel: pngEffort(quality)}
		if err := enc.Encode(&buf, b.img); err != nil {
			return nil, engineerror.NewEncodingFailed(string(format), err.Error())
		}
	case model.FormatJPEG:
		q := model.ClampQuality(quality)
		opaque := stripAlpha(b.img)
		if err := jpeg.Encode(&buf, opaque, &jpeg.Options{Quality: q}); err != nil {
			return nil, engineerror.NewEncodingFailed(string(format), err.Error())
		}
	case model.FormatWebP:
		// quality is intentionally ignored: WebP output is lossless-only
		// in this engine (spec §4.1, §8 "WebP quality irrelevance").
		out, err := webp.Encode(b.img, webp.Options{Lossless: true})
		if err != nil {
			return nil, engineerror.NewEncodingFailed(string(format), err.Error())
		}
		return out, nil
	default:
		return nil, engineerror.NewInvalidParameter("format", fmt.Sprintf("unrecognized format %q", format))
	}
	return buf.Bytes(), nil
}

// stripAlpha flattens an RGBA buffer onto an opaque white background and
// returns a fully opaque NRGBA image, which image/jpeg encodes as 3-channel
// YCbCr (spec §4.1: "alpha channel is removed before encoding").
func stripAlpha(src *image.RGBA) image.Image {
	b := src.Bounds()
	dst := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := src.At(x, y).RGBA()
			if a == 0xffff {
				dst.Set(x, y, color.NRGBA{R: byte(r >> 8), G: byte(g >> 8), B: byte(bl >> 8), A: 0xff})
				continue
			}
			// Alpha-composite over white, matching the "opaque 3-channel
			// output" contract without introducing a transparency fringe.
			// RGBA() returns alpha-premultiplied channels, so only the white
			// background is weighted by (1-alpha).
			white := float64(0xffff - a)
			rf := math.Min((float64(r)+white)/257, 255)
			gf := math.Min((float64(g)+white)/257, 255)
			bf := math.Min((float64(bl)+white)/257, 255)
			dst.Set(x, y, color.NRGBA{R: byte(rf), G: byte(gf), B: byte(bf), A: 0xff})
		}
	}
	return dst
}

// Decode parses previously encoded bytes back into a Buffer. It is used by
// tests asserting the round-trip properties of spec §8.
func Decode(data []byte, format model.Format) (*Buffer, error) {
	switch format {
	case model.FormatPNG:
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, engineerror.NewImageError("decode", err.Error())
		}
		return New(img), nil
	case model.FormatJPEG:
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, engineerror.NewImageError("decode", err.Error())
		}
		return New(img), nil
	case model.FormatWebP:
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, engineerror.NewImageError("decode", err.Error())
		}
		return New(img), nil
	default:
		return nil, engineerror.NewInvalidParameter("format", fmt.Sprintf("unrecognized format %q", format))
	}
}
