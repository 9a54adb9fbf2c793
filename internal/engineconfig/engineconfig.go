// Package engineconfig holds the small set of in-process knobs the capture
// engine exposes: data-dir resolution for the key store's file fallback, the
// opt-in flag gating that fallback, and the timeouts governing portal and
// PipeWire operations (spec §4.3, §4.5, §5).
//
// Process-level concerns like CLI flag parsing and file-based config
// loading are out of scope for the engine itself (spec §1 Non-goals); this
// package only holds the resolved values and their defaults.
package engineconfig

import (
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

const (
	dataDirEnvOverride = "SCREENSHOT_ENGINE_DATA_DIR"
	appDirName         = "screenshot-mcp"
)

// Config holds the engine's runtime configuration.
type Config struct {
	// AllowFileFallback opts into the encrypted-file key store fallback
	// when the OS keyring is unavailable (spec §4.3). Disabled by default:
	// keyring unavailability surfaces as KeyringUnavailable.
	AllowFileFallback bool

	// PortalTimeout bounds every Wayland portal round-trip (spec §4.5, §5).
	PortalTimeout time.Duration
	// PipewireFrameTimeout bounds waiting for the first delivered frame.
	PipewireFrameTimeout time.Duration
	// PipewireIterationBudget bounds a single event-loop iteration while
	// waiting for a frame.
	PipewireIterationBudget time.Duration
	// WindowsEnumerationTimeout bounds the Win32 enumeration call.
	WindowsEnumerationTimeout time.Duration
	// WindowsCaptureTimeout bounds a single Graphics Capture session.
	WindowsCaptureTimeout time.Duration
}

// Default returns the engine's default configuration, matching the
// timeouts named throughout spec §4 and §5.
func Default() Config {
	return Config{
		AllowFileFallback:         false,
		PortalTimeout:             30 * time.Second,
		PipewireFrameTimeout:      5 * time.Second,
		PipewireIterationBudget:   100 * time.Millisecond,
		WindowsEnumerationTimeout: 1500 * time.Millisecond,
		WindowsCaptureTimeout:     2 * time.Second,
	}
}

// DataDir resolves the directory backing the key store's encrypted-file
// fallback and its source-id index, following the order named in spec §6:
// explicit environment override, then the user data dir, then /tmp.
func DataDir() string {
	if v := os.Getenv(dataDirEnvOverride); v != "" {
		return filepath.Join(v, appDirName)
	}
	if xdg.DataHome != "" {
		return filepath.Join(xdg.DataHome, appDirName)
	}
	return filepath.Join(os.TempDir(), appDirName)
}

// TokenFilePath is the encrypted token store's on-disk path (spec §6).
func TokenFilePath() string {
	return filepath.Join(DataDir(), "token-store.enc")
}

// IndexFilePath is the source-id index's on-disk path (spec §6).
func IndexFilePath() string {
	return filepath.Join(DataDir(), "wayland-source-index.json")
}
