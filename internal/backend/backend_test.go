package backend

import (
	"context"
	"image"
	"testing"

	"github.com/becksclair/screenshot-capture-engine/internal/engineerror"
	"github.com/becksclair/screenshot-capture-engine/internal/imagebuf"
	"github.com/becksclair/screenshot-capture-engine/internal/model"
)

// stubBackend is a minimal fake satisfying every capability interface, used
// to exercise Composite and Layered without a real platform backend.
type stubBackend struct {
	name string

	listErr    error
	resolveErr error
	captureErr error

	resolveHandle string
}

func (s *stubBackend) ListWindows(ctx context.Context) ([]model.WindowInfo, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return []model.WindowInfo{{Handle: s.name + "-1", Backend: s.name}}, nil
}

func (s *stubBackend) Resolve(ctx context.Context, selector model.WindowSelector) (string, error) {
	if s.resolveErr != nil {
		return "", s.resolveErr
	}
	return s.resolveHandle, nil
}

func (s *stubBackend) CaptureWindow(ctx context.Context, handle string, opts model.CaptureOptions) (*imagebuf.Buffer, error) {
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	return imagebuf.New(blankImage()), nil
}

func (s *stubBackend) CaptureDisplay(ctx context.Context, displayID *string, opts model.CaptureOptions) (*imagebuf.Buffer, error) {
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	return imagebuf.New(blankImage()), nil
}

func (s *stubBackend) Capture(ctx context.Context, source model.CaptureSource, opts model.CaptureOptions) (*imagebuf.Buffer, error) {
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	return imagebuf.New(blankImage()), nil
}

func blankImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 1, 1))
}

func composite(name string, s *stubBackend) *Composite {
	return &Composite{
		Platform:   name,
		Enumerator: s,
		Resolver:   s,
		Capture:    s,
	}
}

func TestCompositeReportsNotSupportedForNilCapability(t *testing.T) {
	c := &Composite{Platform: "wayland"}
	_, err := c.ListWindows(context.Background())
	if !engineerror.HasKind(err, engineerror.KindNotSupported) {
		t.Fatalf("expected NotSupported, got %v", err)
	}
}

func TestLayeredResolveFallsBackOnTransientError(t *testing.T) {
	primary := &stubBackend{name: "wayland", resolveErr: engineerror.NewPortalUnavailable("resolve", nil)}
	fallback := &stubBackend{name: "x11", resolveHandle: "x11-handle"}
	l := &Layered{Primary: composite("wayland", primary), Fallback: composite("x11", fallback)}

	handle, err := l.Resolve(context.Background(), model.WindowSelector{Title: "anything"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle != "x11-handle" {
		t.Fatalf("handle = %q, want x11-handle", handle)
	}
}

func TestLayeredResolveDoesNotFallBackOnNonWhitelistedError(t *testing.T) {
	primary := &stubBackend{name: "wayland", resolveErr: engineerror.NewInvalidParameter("title", "bad pattern")}
	fallback := &stubBackend{name: "x11", resolveHandle: "x11-handle"}
	l := &Layered{Primary: composite("wayland", primary), Fallback: composite("x11", fallback)}

	_, err := l.Resolve(context.Background(), model.WindowSelector{Title: "anything"})
	if !engineerror.HasKind(err, engineerror.KindInvalidParameter) {
		t.Fatalf("expected the primary's InvalidParameter to propagate, got %v", err)
	}
}

func TestLayeredResolveDisablesFallbackForExplicitWaylandSelector(t *testing.T) {
	primary := &stubBackend{name: "wayland", resolveErr: engineerror.NewWindowNotFound("resolve", "no token")}
	fallback := &stubBackend{name: "x11", resolveHandle: "x11-handle"}
	l := &Layered{Primary: composite("wayland", primary), Fallback: composite("x11", fallback)}

	_, err := l.Resolve(context.Background(), model.WindowSelector{Exe: "wayland:abc"})
	if !engineerror.HasKind(err, engineerror.KindWindowNotFound) {
		t.Fatalf("expected WindowNotFound with fallback disabled, got %v", err)
	}
}

func TestLayeredCaptureWindowDisablesFallbackForWaylandHandle(t *testing.T) {
	primary := &stubBackend{name: "wayland", captureErr: engineerror.NewCaptureTimeout("capture", 5000)}
	fallback := &stubBackend{name: "x11"}
	l := &Layered{Primary: composite("wayland", primary), Fallback: composite("x11", fallback)}

	_, err := l.CaptureWindow(context.Background(), "wayland:source-1", model.DefaultCaptureOptions())
	if !engineerror.HasKind(err, engineerror.KindCaptureTimeout) {
		t.Fatalf("expected CaptureTimeout with fallback disabled, got %v", err)
	}
}

func TestLayeredCaptureWindowFallsBackForOrdinaryHandle(t *testing.T) {
	primary := &stubBackend{name: "wayland", captureErr: engineerror.NewBackendNotAvailable("wayland")}
	fallback := &stubBackend{name: "x11"}
	l := &Layered{Primary: composite("wayland", primary), Fallback: composite("x11", fallback)}

	buf, err := l.CaptureWindow(context.Background(), "12345", model.DefaultCaptureOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf == nil {
		t.Fatalf("expected a buffer from the fallback backend")
	}
}

func TestLayeredCapabilitiesUnionPrimaryAndFallback(t *testing.T) {
	l := &Layered{
		Primary:  &Composite{Platform: "wayland", Capabilities: model.Capabilities{WaylandRestore: true}},
		Fallback: &Composite{Platform: "x11", Capabilities: model.Capabilities{WindowEnumeration: true}},
	}
	caps := l.Capabilities()
	if !caps.WaylandRestore || !caps.WindowEnumeration {
		t.Fatalf("expected union of capabilities, got %+v", caps)
	}
}
