// Package wincapture implements the Windows backend (spec §4.7): Win32
// window enumeration and a one-shot GDI capture path (PrintWindow for a
// window, BitBlt for the desktop) whose frames go through the same
// stride-stripping conversion a Graphics Capture frame needs. The Graphics
// Capture API itself is not called.
//
// The platform-specific syscall bodies live in wincapture_windows.go
// (//go:build windows); wincapture_stub.go supplies the same functions as
// BackendNotAvailable stubs everywhere else, mirroring the teacher's
// platform_stub.go/portal_stub.go split. This file holds the
// platform-independent dispatch and the pure pixel/version-gate helpers so
// they can be exercised without a Windows host.
package wincapture

import (
	"context"
	"fmt"
	"image"

	"github.com/becksclair/screenshot-capture-engine/internal/engineconfig"
	"github.com/becksclair/screenshot-capture-engine/internal/engineerror"
	"github.com/becksclair/screenshot-capture-engine/internal/imagebuf"
	"github.com/becksclair/screenshot-capture-engine/internal/matcher"
	"github.com/becksclair/screenshot-capture-engine/internal/model"
)

// minimumBuildNumber is the lowest Windows 10 build exposing a Graphics
// Capture session reliably across window and monitor capture items (1809,
// build 17763). Hosts below this gate fail UnsupportedPlatformVersion
// rather than risk a silently-empty or corrupted frame (spec §4.7).
const minimumBuildNumber = 17763

// Backend implements the Enumerator, Resolver and ScreenCapture capability
// contracts against the Win32/GDI surface. It is stateless:
// every capture acquires and tears down its own session (spec §5).
type Backend struct {
	cfg engineconfig.Config
}

// New constructs a Windows backend.
func New(cfg engineconfig.Config) *Backend {
	return &Backend{cfg: cfg}
}

// ListWindows enumerates visible top-level windows with non-empty titles,
// running on a dedicated goroutine bounded by WindowsEnumerationTimeout
// (spec §4.7 "Enumeration runs on a blocking worker with a 1.5s timeout").
func (b *Backend) ListWindows(ctx context.Context) ([]model.WindowInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.WindowsEnumerationTimeout)
	defer cancel()

	type result struct {
		windows []model.WindowInfo
		err     error
	}
	done := make(chan result, 1)
	go func() {
		windows, err := enumerateWindowsPlatform()
		done <- result{windows, err}
	}()

	select {
	case <-ctx.Done():
		return nil, engineerror.NewCaptureTimeout("list_windows", b.cfg.WindowsEnumerationTimeout.Milliseconds())
	case r := <-done:
		return r.windows, r.err
	}
}

// Resolve delegates to the shared matcher over this backend's enumeration.
func (b *Backend) Resolve(ctx context.Context, selector model.WindowSelector) (string, error) {
	windows, err := b.ListWindows(ctx)
	if err != nil {
		return "", err
	}
	return matcher.FindMatch(selector, windows)
}

// CaptureWindow captures handle once through PrintWindow (spec §4.7),
// gated on the minimum host build and bounded by
// WindowsCaptureTimeout.
func (b *Backend) CaptureWindow(ctx context.Context, handle string, opts model.CaptureOptions) (*imagebuf.Buffer, error) {
	if err := checkMinimumBuild(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.WindowsCaptureTimeout)
	defer cancel()

	type result struct {
		img *image.RGBA
		err error
	}
	done := make(chan result, 1)
	go func() {
		img, err := captureWindowPlatform(handle)
		done <- result{img, err}
	}()

	select {
	case <-ctx.Done():
		return nil, engineerror.NewCaptureTimeout("capture_window", b.cfg.WindowsCaptureTimeout.Milliseconds())
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return imagebuf.New(r.img).ApplyOptions(opts)
	}
}

// CaptureDisplay captures the desktop window once through BitBlt. displayID
// is not used: every call captures the desktop window, whichever monitor
// displayID names.
func (b *Backend) CaptureDisplay(ctx context.Context, displayID *string, opts model.CaptureOptions) (*imagebuf.Buffer, error) {
	if err := checkMinimumBuild(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.WindowsCaptureTimeout)
	defer cancel()

	selector := ""
	if displayID != nil {
		selector = *displayID
	}

	type result struct {
		img *image.RGBA
		err error
	}
	done := make(chan result, 1)
	go func() {
		img, err := captureDisplayPlatform(selector)
		done <- result{img, err}
	}()

	select {
	case <-ctx.Done():
		return nil, engineerror.NewCaptureTimeout("capture_display", b.cfg.WindowsCaptureTimeout.Milliseconds())
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return imagebuf.New(r.img).ApplyOptions(opts)
	}
}

// Capture dispatches to CaptureWindow, CaptureDisplay, or a display-capture-
// then-crop for an arbitrary region (spec §4.4).
func (b *Backend) Capture(ctx context.Context, source model.CaptureSource, opts model.CaptureOptions) (*imagebuf.Buffer, error) {
	if handle, ok := source.IsWindow(); ok {
		return b.CaptureWindow(ctx, handle, opts)
	}
	if displayID, ok := source.IsDisplay(); ok {
		return b.CaptureDisplay(ctx, displayID, opts)
	}
	if rect, ok := source.IsRegion(); ok {
		full, err := b.CaptureDisplay(ctx, nil, model.CaptureOptions{Scale: 1.0})
		if err != nil {
			return nil, err
		}
		region := model.Region{X: rect.Min.X, Y: rect.Min.Y, Width: rect.Dx(), Height: rect.Dy()}
		cropped, err := full.Crop(region)
		if err != nil {
			return nil, err
		}
		return cropped.ApplyOptions(model.CaptureOptions{Scale: opts.Scale, MaxDimension: opts.MaxDimension})
	}
	return nil, engineerror.NewInvalidParameter("source", "capture source has no recognized kind")
}

// checkMinimumBuild gates every capture path on the host OS build number
// (spec §4.7 "Minimum host build check").
func checkMinimumBuild() error {
	current, err := osBuildNumber()
	if err != nil {
		return err
	}
	if current < minimumBuildNumber {
		return engineerror.NewUnsupportedPlatformVersion(fmt.Sprintf("%d", current), fmt.Sprintf("%d", minimumBuildNumber))
	}
	return nil
}

// bgraFrameToRGBA converts a mapped Graphics Capture frame buffer into a
// tightly packed RGBA image, stripping any GPU row padding (spec §4.7:
// "convert BGRA→RGBA stripping GPU stride padding ... this MUST NOT use a
// raw buffer that includes per-row padding"). rowPitch is the distance in
// bytes between the start of consecutive scanlines in mapped, which may
// exceed width*4 when the capture surface's row pitch was GPU-aligned.
func bgraFrameToRGBA(mapped []byte, rowPitch, width, height int) (*image.RGBA, error) {
	rowBytes := width * 4
	if rowPitch < rowBytes {
		return nil, engineerror.NewImageError("capture", fmt.Sprintf("row pitch %d smaller than row bytes %d", rowPitch, rowBytes))
	}
	if len(mapped) < rowPitch*(height-1)+rowBytes {
		return nil, engineerror.NewImageError("capture", "mapped frame buffer shorter than declared geometry")
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		srcRow := mapped[y*rowPitch : y*rowPitch+rowBytes]
		dstOff := y * img.Stride
		for x := 0; x < width; x++ {
			so := x * 4
			do := dstOff + x*4
			b, g, r, a := srcRow[so], srcRow[so+1], srcRow[so+2], srcRow[so+3]
			img.Pix[do+0], img.Pix[do+1], img.Pix[do+2], img.Pix[do+3] = r, g, b, a
		}
	}
	return img, nil
}

// gpuAlignedRowPitch returns the row pitch a D3D11 staging-texture map
// typically reports for a surface of the given width: the byte width
// rounded up to the next 256-byte GPU row-alignment boundary. Used when
// emulating the Graphics Capture frame pool's mapped buffer shape.
func gpuAlignedRowPitch(width int) int {
	const alignment = 256
	rowBytes := width * 4
	if rowBytes%alignment == 0 {
		return rowBytes
	}
	return (rowBytes/alignment + 1) * alignment
}
