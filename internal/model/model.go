// Package model holds the data types shared by every backend and by the
// matcher, key store and image pipeline: selectors, window records, capture
// options and the capability bitset.
package model

import "image"

// WindowSelector is a polymorphic match predicate over enumerated windows.
// At least one field must be set; an all-empty selector matches nothing and
// the matcher reports WindowNotFound for it (spec §3).
type WindowSelector struct {
	// Title is matched as regex, then substring, then fuzzy (spec §4.2).
	Title string
	// Class is matched case-insensitively, exact equality.
	Class string
	// Exe is the owner/executable name, matched case-insensitively, exact
	// equality. The Wayland backend additionally recognizes the
	// "wayland:<source-id>" sugar on this field (spec §4.5).
	Exe string
}

// Empty reports whether no selector field is set.
func (s WindowSelector) Empty() bool {
	return s.Title == "" && s.Class == "" && s.Exe == ""
}

// WindowInfo is an enumeration record produced by a backend and consumed
// read-only by the matcher and callers.
type WindowInfo struct {
	Handle     string
	Title      string
	Class      string
	Owner      string // executable name
	PID        uint32
	Backend    string // "x11" | "windows" | "wayland"
}

// Format is a recognized output image encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// Region is a post-capture crop rectangle expressed in source pixels.
type Region struct {
	X, Y, Width, Height int
}

// Rect converts a Region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Valid reports whether the region has a positive extent.
func (r Region) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// CaptureOptions configures a single capture operation (spec §3).
type CaptureOptions struct {
	Format        Format
	Quality       int // [1,100]; JPEG quality, PNG compression effort, ignored by WebP
	Scale         float64 // [0.1, 2.0], default 1.0
	IncludeCursor bool
	Region        *Region
	MaxDimension  *uint32
}

// DefaultCaptureOptions mirrors the defaults named in spec §3.
func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{
		Format: FormatWebP,
		Scale:  1.0,
	}
}

// ClampScale clamps f to [0.1, 2.0] per spec §4.1's scale contract.
func ClampScale(f float64) float64 {
	switch {
	case f < 0.1:
		return 0.1
	case f > 2.0:
		return 2.0
	default:
		return f
	}
}

// ClampQuality clamps q to [1,100].
func ClampQuality(q int) int {
	switch {
	case q < 1:
		return 1
	case q > 100:
		return 100
	default:
		return q
	}
}

// Capabilities is a boolean capability bitset reported per backend.
type Capabilities struct {
	Cursor             bool
	Region             bool
	WaylandRestore     bool
	WindowEnumeration  bool
	DisplayCapture     bool
}

// SourceType selects what a Wayland portal screencast session may capture.
type SourceType int

const (
	SourceMonitor SourceType = 1 << iota
	SourceWindow
	SourceVirtual
)

// PersistMode selects whether (and how) the portal persists consent across
// sessions — the input that controls restore-token issuance (spec §4.5).
type PersistMode int

const (
	PersistDoNotPersist PersistMode = iota
	PersistTransientWhileRunning
	PersistUntilRevoked
)

// PrimeConsentResult is returned by the Wayland-only prime-consent operation.
type PrimeConsentResult struct {
	PrimarySourceID string
	AllSourceIDs    []string
	NumStreams      int
}

// CaptureSource selects what a composite's capture() call targets (spec §4.4).
// Exactly one of the constructors below should be used.
type CaptureSource struct {
	kind   captureSourceKind
	handle string
	displayID *string
	region image.Rectangle
}

type captureSourceKind int

const (
	sourceKindWindow captureSourceKind = iota
	sourceKindDisplay
	sourceKindRegion
)

// WindowSource targets a specific window handle.
func WindowSource(handle string) CaptureSource {
	return CaptureSource{kind: sourceKindWindow, handle: handle}
}

// DisplaySource targets a display, or the backend's default display when id
// is nil.
func DisplaySource(id *string) CaptureSource {
	return CaptureSource{kind: sourceKindDisplay, displayID: id}
}

// RegionSource targets an arbitrary rectangle of the whole desktop. Backends
// without native region capture implement this as display-capture-then-crop
// (spec §4.4).
func RegionSource(rect image.Rectangle) CaptureSource {
	return CaptureSource{kind: sourceKindRegion, region: rect}
}

// IsWindow reports whether the source targets a window, returning its handle.
func (c CaptureSource) IsWindow() (string, bool) {
	return c.handle, c.kind == sourceKindWindow
}

// IsDisplay reports whether the source targets a display, returning its id.
func (c CaptureSource) IsDisplay() (*string, bool) {
	return c.displayID, c.kind == sourceKindDisplay
}

// IsRegion reports whether the source targets an arbitrary region.
func (c CaptureSource) IsRegion() (image.Rectangle, bool) {
	return c.region, c.kind == sourceKindRegion
}
