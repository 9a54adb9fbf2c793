package telemetry

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetOutputRedirectsLogger(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Logger().Info().Msg("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected log output to contain message, got %q", buf.String())
	}
}

func TestSetLevelFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(zerolog.WarnLevel)
	defer func() {
		SetOutput(os.Stderr)
		SetLevel(zerolog.DebugLevel)
	}()

	Logger().Info().Msg("should be filtered")
	if buf.Len() != 0 {
		t.Fatalf("expected info log to be filtered at warn level, got %q", buf.String())
	}

	Logger().Warn().Msg("should pass")
	if !strings.Contains(buf.String(), "should pass") {
		t.Fatalf("expected warn log to pass through, got %q", buf.String())
	}
}
