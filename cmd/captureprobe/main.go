// Command captureprobe is a diagnostic CLI over the capture engine's
// composite backend contract (spec §4.4): list windows, resolve a selector,
// capture a window or display, and prime Wayland restore-token consent.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/becksclair/screenshot-capture-engine/internal/engineconfig"
	"github.com/becksclair/screenshot-capture-engine/internal/imagebuf"
	"github.com/becksclair/screenshot-capture-engine/internal/model"
	"github.com/becksclair/screenshot-capture-engine/internal/telemetry"
)

// engine is the subset of backend.Composite/backend.Layered this CLI drives.
// Both satisfy it without modification; defining it here keeps main.go free
// of a platform-specific backend import.
type engine interface {
	ListWindows(ctx context.Context) ([]model.WindowInfo, error)
	Resolve(ctx context.Context, selector model.WindowSelector) (string, error)
	CaptureWindow(ctx context.Context, handle string, opts model.CaptureOptions) (*imagebuf.Buffer, error)
	CaptureDisplay(ctx context.Context, displayID *string, opts model.CaptureOptions) (*imagebuf.Buffer, error)
	Capture(ctx context.Context, source model.CaptureSource, opts model.CaptureOptions) (*imagebuf.Buffer, error)
	PrimeConsent(ctx context.Context, sourceType model.SourceType, sourceID string, includeCursor bool) (model.PrimeConsentResult, error)
}

var verbose bool

func main() {
	root := &cobra.Command{
		Use:   "captureprobe",
		Short: "Drive the screen capture engine's backends from the command line",
	}
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "log at debug level")

	root.AddCommand(
		newListWindowsCmd(),
		newResolveCmd(),
		newCaptureWindowCmd(),
		newCaptureDisplayCmd(),
		newPrimeConsentCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "captureprobe:", err)
		os.Exit(1)
	}
}

func currentEngine() engine {
	if verbose {
		telemetry.SetLevel(zerolog.DebugLevel)
	}
	return buildEngine(engineconfig.Default())
}

func writeImage(buf *imagebuf.Buffer, format model.Format, quality int, outPath string) error {
	data, err := buf.Encode(format, quality)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if outPath == "" || outPath == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}
