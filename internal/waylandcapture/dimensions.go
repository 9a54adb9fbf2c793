package waylandcapture

import (
	"math"

	"github.com/becksclair/screenshot-capture-engine/internal/telemetry"
)

// commonResolution is one entry of the byte-count lookup table used when a
// PipeWire sample doesn't carry negotiated width/height (spec §4.5 step 8).
type commonResolution struct {
	width  int
	height int
}

// commonResolutions lists widespread desktop resolutions. Their pixel counts
// are all distinct, so at most one entry's byte count (RGBA, 4 bytes/pixel)
// matches the delivered buffer size.
var commonResolutions = []commonResolution{
	{7680, 4320},
	{3840, 2160},
	{2560, 1600},
	{2560, 1440},
	{1920, 1200},
	{1920, 1080},
	{1680, 1050},
	{1600, 900},
	{1440, 900},
	{1366, 768},
	{1280, 1024},
	{1280, 800},
	{1280, 720},
	{1024, 768},
}

// inferDimensions resolves a delivered frame's width/height. Negotiated
// dimensions from the sample's caps win outright; otherwise the byte count
// is matched against commonResolutions, falling back to a square
// sqrt(pixel-count) guess with a logged warning (spec §4.5 step 8).
func inferDimensions(negotiatedW, negotiatedH int, byteLen int) (int, int) {
	if negotiatedW > 0 && negotiatedH > 0 {
		return negotiatedW, negotiatedH
	}
	pixelCount := byteLen / 4
	for _, r := range commonResolutions {
		if r.width*r.height == pixelCount {
			return r.width, r.height
		}
	}
	side := int(math.Sqrt(float64(pixelCount)))
	if side < 1 {
		side = 1
	}
	telemetry.Component("waylandcapture").Warn().
		Int("byte_len", byteLen).
		Int("inferred_side", side).
		Msg("no negotiated or known resolution matched frame byte count, falling back to sqrt(pixel-count)")
	return side, side
}
