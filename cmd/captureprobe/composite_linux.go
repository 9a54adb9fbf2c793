//go:build linux

package main

import (
	"os"

	"github.com/becksclair/screenshot-capture-engine/internal/backend"
	"github.com/becksclair/screenshot-capture-engine/internal/engineconfig"
	"github.com/becksclair/screenshot-capture-engine/internal/keystore"
	"github.com/becksclair/screenshot-capture-engine/internal/model"
	"github.com/becksclair/screenshot-capture-engine/internal/waylandcapture"
	"github.com/becksclair/screenshot-capture-engine/internal/x11capture"
)

// buildEngine builds the host composite for Linux (spec §4.4): a bare X11
// composite on a pure X11 session, or a Wayland-primary/X11-fallback
// Layered composite when WAYLAND_DISPLAY is set (the common XWayland
// arrangement); whether a compositor is actually running is not checked.
func buildEngine(cfg engineconfig.Config) engine {
	x11 := x11capture.New()
	x11Composite := &backend.Composite{
		Platform: "x11",
		Capabilities: model.Capabilities{
			Region:            true,
			WindowEnumeration: true,
			DisplayCapture:    true,
		},
		Enumerator: x11,
		Resolver:   x11,
		Capture:    x11,
	}

	if os.Getenv("WAYLAND_DISPLAY") == "" {
		return x11Composite
	}

	keys := keystore.New(cfg)
	wl := waylandcapture.New(keys, cfg)
	wlComposite := &backend.Composite{
		Platform: "wayland",
		Capabilities: model.Capabilities{
			Cursor:         true,
			WaylandRestore: true,
			DisplayCapture: true,
		},
		Enumerator:     wl,
		Resolver:       wl,
		Capture:        wl,
		WaylandRestore: wl,
	}
	return &backend.Layered{Primary: wlComposite, Fallback: x11Composite}
}
