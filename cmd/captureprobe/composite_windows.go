//go:build windows

package main

import (
	"github.com/becksclair/screenshot-capture-engine/internal/backend"
	"github.com/becksclair/screenshot-capture-engine/internal/engineconfig"
	"github.com/becksclair/screenshot-capture-engine/internal/model"
	"github.com/becksclair/screenshot-capture-engine/internal/wincapture"
)

// buildEngine builds the host composite for Windows (spec §4.7): Win32
// enumeration plus the one-shot GDI capture path, with no Wayland
// restore-token contract.
func buildEngine(cfg engineconfig.Config) engine {
	win := wincapture.New(cfg)
	return &backend.Composite{
		Platform: "windows",
		Capabilities: model.Capabilities{
			WindowEnumeration: true,
			DisplayCapture:    true,
		},
		Enumerator: win,
		Resolver:   win,
		Capture:    win,
	}
}
