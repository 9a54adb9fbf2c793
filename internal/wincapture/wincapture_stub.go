//go:build !windows

package wincapture

import (
	"image"

	"github.com/becksclair/screenshot-capture-engine/internal/engineerror"
	"github.com/becksclair/screenshot-capture-engine/internal/model"
)

func enumerateWindowsPlatform() ([]model.WindowInfo, error) {
	return nil, engineerror.NewBackendNotAvailable("windows")
}

func captureWindowPlatform(string) (*image.RGBA, error) {
	return nil, engineerror.NewBackendNotAvailable("windows")
}

func captureDisplayPlatform(string) (*image.RGBA, error) {
	return nil, engineerror.NewBackendNotAvailable("windows")
}

func osBuildNumber() (uint32, error) {
	return 0, engineerror.NewBackendNotAvailable("windows")
}
