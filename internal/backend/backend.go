// Package backend defines the polymorphic capture backend contract (spec
// §4.4): four independent capability interfaces, a per-platform composite
// that exposes each as an optional field, and a layered Wayland-primary/
// X11-fallback composite for XWayland sessions.
package backend

import (
	"context"
	"strings"

	"github.com/becksclair/screenshot-capture-engine/internal/engineerror"
	"github.com/becksclair/screenshot-capture-engine/internal/imagebuf"
	"github.com/becksclair/screenshot-capture-engine/internal/model"
)

// waylandExePrefix marks a selector or handle as explicitly Wayland-scoped,
// disabling X11 fallback for that call (spec §4.4).
const waylandExePrefix = "wayland:"

// Enumerator lists every capturable window. Wayland forbids cross-process
// window listing, so the Wayland backend's implementation returns a
// synthetic list of primed sources instead (spec §4.5).
type Enumerator interface {
	ListWindows(ctx context.Context) ([]model.WindowInfo, error)
}

// Resolver resolves a selector to an opaque window handle. Present on every
// backend.
type Resolver interface {
	Resolve(ctx context.Context, selector model.WindowSelector) (string, error)
}

// ScreenCapture captures pixels from a window, a display, or an arbitrary
// source value.
type ScreenCapture interface {
	CaptureWindow(ctx context.Context, handle string, opts model.CaptureOptions) (*imagebuf.Buffer, error)
	CaptureDisplay(ctx context.Context, displayID *string, opts model.CaptureOptions) (*imagebuf.Buffer, error)
	Capture(ctx context.Context, source model.CaptureSource, opts model.CaptureOptions) (*imagebuf.Buffer, error)
}

// WaylandRestoreCapable primes portal consent and issues a restore token.
// Wayland only.
type WaylandRestoreCapable interface {
	PrimeConsent(ctx context.Context, sourceType model.SourceType, sourceID string, includeCursor bool) (model.PrimeConsentResult, error)
}

// Composite aggregates the capability interfaces a single backend
// implements, plus a static capability bitset and platform tag for
// diagnostics (spec §4.4). Capability fields are nil when the backend
// doesn't implement that contract; callers query presence by nil-checking
// rather than type-asserting.
type Composite struct {
	Platform       string
	Capabilities   model.Capabilities
	Enumerator     Enumerator
	Resolver       Resolver
	Capture        ScreenCapture
	WaylandRestore WaylandRestoreCapable
}

// ListWindows delegates to the underlying Enumerator, or reports
// NotSupported when the composite has no Enumerator.
func (c *Composite) ListWindows(ctx context.Context) ([]model.WindowInfo, error) {
	if c.Enumerator == nil {
		return nil, engineerror.NewNotSupported("list_windows", c.Platform)
	}
	return c.Enumerator.ListWindows(ctx)
}

// Resolve delegates to the underlying Resolver.
func (c *Composite) Resolve(ctx context.Context, selector model.WindowSelector) (string, error) {
	if c.Resolver == nil {
		return "", engineerror.NewNotSupported("resolve", c.Platform)
	}
	return c.Resolver.Resolve(ctx, selector)
}

// CaptureWindow delegates to the underlying ScreenCapture.
func (c *Composite) CaptureWindow(ctx context.Context, handle string, opts model.CaptureOptions) (*imagebuf.Buffer, error) {
	if c.Capture == nil {
		return nil, engineerror.NewNotSupported("capture_window", c.Platform)
	}
	return c.Capture.CaptureWindow(ctx, handle, opts)
}

// CaptureDisplay delegates to the underlying ScreenCapture.
func (c *Composite) CaptureDisplay(ctx context.Context, displayID *string, opts model.CaptureOptions) (*imagebuf.Buffer, error) {
	if c.Capture == nil {
		return nil, engineerror.NewNotSupported("capture_display", c.Platform)
	}
	return c.Capture.CaptureDisplay(ctx, displayID, opts)
}

// Capture delegates to the underlying ScreenCapture.
func (c *Composite) Capture(ctx context.Context, source model.CaptureSource, opts model.CaptureOptions) (*imagebuf.Buffer, error) {
	if c.Capture == nil {
		return nil, engineerror.NewNotSupported("capture", c.Platform)
	}
	return c.Capture.Capture(ctx, source, opts)
}

// PrimeConsent delegates to the underlying WaylandRestoreCapable, or reports
// NotSupported on non-Wayland backends.
func (c *Composite) PrimeConsent(ctx context.Context, sourceType model.SourceType, sourceID string, includeCursor bool) (model.PrimeConsentResult, error) {
	if c.WaylandRestore == nil {
		return model.PrimeConsentResult{}, engineerror.NewNotSupported("prime_consent", c.Platform)
	}
	return c.WaylandRestore.PrimeConsent(ctx, sourceType, sourceID, includeCursor)
}

// transientFallbackKinds is the whitelist of error kinds that trigger
// falling back from Wayland to X11 on a layered composite (spec §4.4). Any
// other error propagates immediately.
var transientFallbackKinds = map[engineerror.Kind]bool{
	engineerror.KindPortalUnavailable:   true,
	engineerror.KindBackendNotAvailable: true,
	engineerror.KindCaptureTimeout:      true,
	engineerror.KindWindowNotFound:      true,
	engineerror.KindTokenNotFound:       true,
}

func shouldFallback(err error) bool {
	kind, ok := engineerror.KindOf(err)
	return ok && transientFallbackKinds[kind]
}

// Layered is the Wayland-primary/X11-fallback composite constructed when a
// Wayland session additionally exposes an XWayland surface (spec §4.4).
// Fallback is disabled for any call whose selector or handle explicitly
// targets a Wayland source (the "wayland:" exe/handle prefix).
type Layered struct {
	Primary  *Composite
	Fallback *Composite
}

// Platform reports the primary backend's platform tag; the layered
// composite presents itself as that platform to diagnostics.
func (l *Layered) Platform() string { return l.Primary.Platform }

// Capabilities unions the primary and fallback capability bitsets.
func (l *Layered) Capabilities() model.Capabilities {
	p, f := l.Primary.Capabilities, l.Fallback.Capabilities
	return model.Capabilities{
		Cursor:            p.Cursor || f.Cursor,
		Region:            p.Region || f.Region,
		WaylandRestore:    p.WaylandRestore || f.WaylandRestore,
		WindowEnumeration: p.WindowEnumeration || f.WindowEnumeration,
		DisplayCapture:    p.DisplayCapture || f.DisplayCapture,
	}
}

func isWaylandTargeted(s string) bool {
	return strings.HasPrefix(s, waylandExePrefix)
}

// ListWindows enumerates via the primary backend, falling back to X11 on a
// whitelisted transient error; Wayland has no native enumeration, so this
// call typically serves the synthetic primed-source list unless fallback
// triggers.
func (l *Layered) ListWindows(ctx context.Context) ([]model.WindowInfo, error) {
	windows, err := l.Primary.ListWindows(ctx)
	if err == nil || !shouldFallback(err) {
		return windows, err
	}
	return l.Fallback.ListWindows(ctx)
}

// Resolve tries the primary backend first, falling back to X11 on a
// whitelisted transient error unless the selector explicitly targets
// Wayland.
func (l *Layered) Resolve(ctx context.Context, selector model.WindowSelector) (string, error) {
	handle, err := l.Primary.Resolve(ctx, selector)
	if err == nil || !shouldFallback(err) || isWaylandTargeted(selector.Exe) {
		return handle, err
	}
	return l.Fallback.Resolve(ctx, selector)
}

// CaptureWindow tries the primary backend first, falling back to X11 on a
// whitelisted transient error unless handle explicitly targets Wayland.
func (l *Layered) CaptureWindow(ctx context.Context, handle string, opts model.CaptureOptions) (*imagebuf.Buffer, error) {
	buf, err := l.Primary.CaptureWindow(ctx, handle, opts)
	if err == nil || !shouldFallback(err) || isWaylandTargeted(handle) {
		return buf, err
	}
	return l.Fallback.CaptureWindow(ctx, handle, opts)
}

// CaptureDisplay tries the primary backend first, falling back to X11 on a
// whitelisted transient error.
func (l *Layered) CaptureDisplay(ctx context.Context, displayID *string, opts model.CaptureOptions) (*imagebuf.Buffer, error) {
	buf, err := l.Primary.CaptureDisplay(ctx, displayID, opts)
	if err == nil || !shouldFallback(err) {
		return buf, err
	}
	return l.Fallback.CaptureDisplay(ctx, displayID, opts)
}

// Capture tries the primary backend first, falling back to X11 on a
// whitelisted transient error unless source is an explicitly Wayland
// window handle.
func (l *Layered) Capture(ctx context.Context, source model.CaptureSource, opts model.CaptureOptions) (*imagebuf.Buffer, error) {
	buf, err := l.Primary.Capture(ctx, source, opts)
	if err == nil || !shouldFallback(err) {
		return buf, err
	}
	if handle, ok := source.IsWindow(); ok && isWaylandTargeted(handle) {
		return buf, err
	}
	return l.Fallback.Capture(ctx, source, opts)
}

// PrimeConsent is Wayland-only and never falls back.
func (l *Layered) PrimeConsent(ctx context.Context, sourceType model.SourceType, sourceID string, includeCursor bool) (model.PrimeConsentResult, error) {
	return l.Primary.PrimeConsent(ctx, sourceType, sourceID, includeCursor)
}
