//go:build !linux && !windows

package main

import (
	"context"

	"github.com/becksclair/screenshot-capture-engine/internal/engineconfig"
	"github.com/becksclair/screenshot-capture-engine/internal/engineerror"
	"github.com/becksclair/screenshot-capture-engine/internal/imagebuf"
	"github.com/becksclair/screenshot-capture-engine/internal/model"
)

// unsupportedEngine reports BackendNotAvailable for every operation on a
// host platform with no backend implementation (spec §4.4's backend
// contract is platform-agnostic; coverage is not).
type unsupportedEngine struct{}

func buildEngine(_ engineconfig.Config) engine { return unsupportedEngine{} }

func (unsupportedEngine) ListWindows(context.Context) ([]model.WindowInfo, error) {
	return nil, engineerror.NewBackendNotAvailable("host platform")
}

func (unsupportedEngine) Resolve(context.Context, model.WindowSelector) (string, error) {
	return "", engineerror.NewBackendNotAvailable("host platform")
}

func (unsupportedEngine) CaptureWindow(context.Context, string, model.CaptureOptions) (*imagebuf.Buffer, error) {
	return nil, engineerror.NewBackendNotAvailable("host platform")
}

func (unsupportedEngine) CaptureDisplay(context.Context, *string, model.CaptureOptions) (*imagebuf.Buffer, error) {
	return nil, engineerror.NewBackendNotAvailable("host platform")
}

func (unsupportedEngine) Capture(context.Context, model.CaptureSource, model.CaptureOptions) (*imagebuf.Buffer, error) {
	return nil, engineerror.NewBackendNotAvailable("host platform")
}

func (unsupportedEngine) PrimeConsent(context.Context, model.SourceType, string, bool) (model.PrimeConsentResult, error) {
	return model.PrimeConsentResult{}, engineerror.NewBackendNotAvailable("host platform")
}
