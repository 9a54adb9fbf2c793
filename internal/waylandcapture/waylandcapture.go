// Package waylandcapture implements the Wayland screencast-portal backend
// (spec §4.5): consent priming through the xdg-desktop-portal ScreenCast
// interface, frame delivery over PipeWire, and atomic single-use restore
// token rotation around each headless capture. Grounded on the teacher's
// portal_unix.go for the Request/Response D-Bus idiom, generalized from the
// simpler Screenshot portal to the multi-round-trip ScreenCast protocol, and
// on helixml-helix's gst_pipeline.go for the go-gst appsink capture idiom.
package waylandcapture

import (
	"context"
	"fmt"
	"strings"

	"github.com/becksclair/screenshot-capture-engine/internal/engineconfig"
	"github.com/becksclair/screenshot-capture-engine/internal/engineerror"
	"github.com/becksclair/screenshot-capture-engine/internal/imagebuf"
	"github.com/becksclair/screenshot-capture-engine/internal/keystore"
	"github.com/becksclair/screenshot-capture-engine/internal/model"
	"github.com/becksclair/screenshot-capture-engine/internal/telemetry"
)

const walledSourcePrefix = "wayland:"

// captureState names one node of the per-capture state machine (spec §4.5
// "State machine (per capture)"). It exists for logging/diagnostics; the
// orchestration below enforces the transition invariants directly rather
// than through a generic state-transition table.
type captureState string

const (
	stateIdle            captureState = "idle"
	stateSessionCreated  captureState = "session_created"
	stateSourcesSelected captureState = "sources_selected"
	stateStarted         captureState = "started"
	stateTokenRotated    captureState = "token_rotated"
	stateFrameDelivered  captureState = "frame_delivered"
	stateTransformed     captureState = "transformed"
	stateDone            captureState = "done"
	stateUserDenied      captureState = "user_denied"
	stateTokenStale      captureState = "token_stale"
	stateTimeout         captureState = "timeout"
	statePortalDown      captureState = "portal_down"
)

// enterState logs a state-machine transition for one capture attempt. It is
// purely diagnostic — the invariants themselves ("TokenRotated never
// follows FrameDelivered", "no retained new token outside Done/TokenStale")
// are enforced structurally by captureHeadless's call order, not by this
// tracker.
func enterState(op string, s captureState) {
	telemetry.Component("waylandcapture").Debug().Str("op", op).Str("state", string(s)).Msg("state transition")
}

// Backend implements the Enumerator, Resolver, ScreenCapture and
// WaylandRestoreCapable capability contracts against the desktop portal.
// State: only a shared KeyStore handle (spec §4.5 "Portal/PipeWire
// connections are ephemeral per operation").
type Backend struct {
	keys *keystore.Store
	cfg  engineconfig.Config
}

// New constructs a Wayland backend sharing the given key store.
func New(keys *keystore.Store, cfg engineconfig.Config) *Backend {
	return &Backend{keys: keys, cfg: cfg}
}

// ListWindows returns a synthetic enumeration derived from the key store's
// source-id index, since Wayland forbids cross-process window listing (spec
// §4.5). When the index is empty a single instructional pseudo-entry is
// returned guiding the caller to PrimeConsent.
func (b *Backend) ListWindows(ctx context.Context) ([]model.WindowInfo, error) {
	ids, err := b.keys.ListSourceIDs()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.WindowInfo{{
			Handle:  walledSourcePrefix + "none",
			Title:   "no primed Wayland capture source — call prime_consent first",
			Backend: "wayland",
		}}, nil
	}
	windows := make([]model.WindowInfo, 0, len(ids))
	for _, id := range ids {
		windows = append(windows, model.WindowInfo{
			Handle:  walledSourcePrefix + id,
			Title:   fmt.Sprintf("Wayland capture source %s", id),
			Backend: "wayland",
		})
	}
	return windows, nil
}

// Resolve accepts only the "wayland:<id>" sugar on Selector.Exe, returning
// the handle "wayland:<id>" (not the bare <id>) iff a token is stored for it
// (spec §4.5 "Resolution"); CaptureWindow accepts that handle as is.
func (b *Backend) Resolve(ctx context.Context, selector model.WindowSelector) (string, error) {
	if !strings.HasPrefix(selector.Exe, walledSourcePrefix) {
		return "", engineerror.NewWindowNotFound("resolve", "wayland backend only resolves wayland:<source-id> selectors")
	}
	id := strings.TrimPrefix(selector.Exe, walledSourcePrefix)
	if !b.keys.HasToken(id) {
		return "", engineerror.NewTokenNotFound(id)
	}
	return walledSourcePrefix + id, nil
}

// PrimeConsent runs the prime-consent protocol (spec §4.5): opens an
// ephemeral screencast session, prompts the user via the portal's picker,
// persists the issued restore token, and reports the primed sources.
// sourceID, when non-empty, overrides the stream-derived primary source id
// under which the token is stored — useful for re-priming a known source
// deterministically rather than letting the node id pick a fresh one.
func (b *Backend) PrimeConsent(ctx context.Context, sourceType model.SourceType, sourceID string, includeCursor bool) (model.PrimeConsentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.PortalTimeout)
	defer cancel()

	conn, err := dialFn()
	if err != nil {
		return model.PrimeConsentResult{}, engineerror.NewPortalUnavailable("prime_consent", err)
	}
	defer conn.Close()

	session, err := createSession(ctx, conn)
	if err != nil {
		return model.PrimeConsentResult{}, classifyPortalError("prime_consent.create_session", ctx, err, b.cfg.PortalTimeout.Milliseconds())
	}
	defer closeSession(conn, session)

	if err := selectSources(ctx, conn, session, sourceType, model.PersistUntilRevoked, includeCursor, ""); err != nil {
		return model.PrimeConsentResult{}, classifyPortalError("prime_consent.select_sources", ctx, err, b.cfg.PortalTimeout.Milliseconds())
	}

	streams, restoreToken, err := startSession(ctx, conn, session)
	if err != nil {
		if pre, ok := err.(*portalResponseError); ok && pre.userCancelled() {
			return model.PrimeConsentResult{}, engineerror.NewPermissionDenied("prime_consent", "user cancelled the capture prompt")
		}
		return model.PrimeConsentResult{}, classifyPortalError("prime_consent.start", ctx, err, b.cfg.PortalTimeout.Milliseconds())
	}
	if len(streams) == 0 {
		return model.PrimeConsentResult{}, engineerror.NewPermissionDenied("prime_consent", "portal returned no streams")
	}
	if restoreToken == "" {
		return model.PrimeConsentResult{}, engineerror.NewPermissionDenied("prime_consent", "portal returned no restore token")
	}

	primaryID := sourceID
	if primaryID == "" {
		primaryID = fmt.Sprintf("%d", streams[0].nodeID)
	}
	if err := b.keys.StoreToken(primaryID, restoreToken); err != nil {
		return model.PrimeConsentResult{}, err
	}

	allIDs := make([]string, 0, len(streams))
	for i, s := range streams {
		if i == 0 {
			allIDs = append(allIDs, primaryID)
			continue
		}
		allIDs = append(allIDs, fmt.Sprintf("%d", s.nodeID))
	}
	return model.PrimeConsentResult{
		PrimarySourceID: primaryID,
		AllSourceIDs:    allIDs,
		NumStreams:      len(streams),
	}, nil
}

// CaptureWindow treats handle as a "wayland:<source-id>" (or bare source-id)
// reference and runs the headless-capture-with-rotation protocol.
func (b *Backend) CaptureWindow(ctx context.Context, handle string, opts model.CaptureOptions) (*imagebuf.Buffer, error) {
	sourceID := strings.TrimPrefix(handle, walledSourcePrefix)
	return b.captureHeadless(ctx, sourceID, opts)
}

// CaptureDisplay runs the headless protocol against displayID when it names
// a primed source. Otherwise displayID is not used: a fresh portal session
// prompts the user, who picks the monitor in the portal's own picker.
func (b *Backend) CaptureDisplay(ctx context.Context, displayID *string, opts model.CaptureOptions) (*imagebuf.Buffer, error) {
	if displayID != nil && *displayID != "" && b.keys.HasToken(*displayID) {
		return b.captureHeadless(ctx, *displayID, opts)
	}
	return b.captureDisplayFallback(ctx, opts, model.SourceMonitor)
}

// Capture dispatches on the CaptureSource's kind: a window source targets a
// primed source-id, a display source optionally targets one, and a region
// source is implemented as a fresh display capture followed by a crop (spec
// §4.4's display+crop rule applies here just as it does on X11).
func (b *Backend) Capture(ctx context.Context, source model.CaptureSource, opts model.CaptureOptions) (*imagebuf.Buffer, error) {
	if handle, ok := source.IsWindow(); ok {
		return b.CaptureWindow(ctx, handle, opts)
	}
	if displayID, ok := source.IsDisplay(); ok {
		return b.CaptureDisplay(ctx, displayID, opts)
	}
	if rect, ok := source.IsRegion(); ok {
		full, err := b.captureDisplayFallback(ctx, model.CaptureOptions{Scale: 1.0}, model.SourceMonitor)
		if err != nil {
			return nil, err
		}
		region := model.Region{X: rect.Min.X, Y: rect.Min.Y, Width: rect.Dx(), Height: rect.Dy()}
		cropped, err := full.Crop(region)
		if err != nil {
			return nil, err
		}
		return cropped.ApplyOptions(model.CaptureOptions{Scale: opts.Scale, MaxDimension: opts.MaxDimension})
	}
	return nil, engineerror.NewInvalidParameter("source", "capture source has no recognized kind")
}

// captureHeadless runs the headless-capture-with-atomic-rotation protocol
// (spec §4.5 steps 1-9). Rotation happens strictly before frame delivery:
// once the new token is accepted into the key store, a subsequent frame
// failure does not strand the caller without a usable token for next time.
func (b *Backend) captureHeadless(ctx context.Context, sourceID string, opts model.CaptureOptions) (*imagebuf.Buffer, error) {
	oldToken, err := b.keys.RetrieveToken(sourceID)
	if err != nil {
		return nil, err
	}
	if oldToken == "" {
		// No stored token is a feature, not an error (spec §4.5 step 1):
		// fall back to a fresh one-shot display capture.
		return b.captureDisplayFallback(ctx, opts, model.SourceMonitor)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.PortalTimeout)
	defer cancel()

	conn, err := dialFn()
	if err != nil {
		return nil, engineerror.NewPortalUnavailable("capture", err)
	}
	defer conn.Close()

	session, err := createSession(ctx, conn)
	if err != nil {
		enterState("capture", statePortalDown)
		return nil, classifyPortalError("capture.create_session", ctx, err, b.cfg.PortalTimeout.Milliseconds())
	}
	enterState("capture", stateSessionCreated)
	defer closeSession(conn, session)

	if err := selectSources(ctx, conn, session, model.SourceMonitor, model.PersistUntilRevoked, opts.IncludeCursor, oldToken); err != nil {
		if isTokenInvalidError(err) {
			enterState("capture", stateTokenStale)
			if derr := b.keys.DeleteToken(sourceID); derr != nil {
				return nil, derr
			}
			return b.captureDisplayFallback(ctx, opts, model.SourceMonitor)
		}
		return nil, classifyPortalError("capture.select_sources", ctx, err, b.cfg.PortalTimeout.Milliseconds())
	}
	enterState("capture", stateSourcesSelected)

	streams, newToken, err := startSession(ctx, conn, session)
	if err != nil {
		return nil, classifyPortalError("capture.start", ctx, err, b.cfg.PortalTimeout.Milliseconds())
	}
	enterState("capture", stateStarted)
	if len(streams) == 0 {
		return nil, engineerror.NewPermissionDenied("capture", "portal returned no streams on restore")
	}

	// Rotate before reading the frame (mandatory ordering, spec §4.5 step 6):
	// TokenRotated must precede FrameDelivered, never follow it.
	if newToken != "" {
		if err := b.keys.RotateToken(sourceID, newToken); err != nil {
			return nil, err
		}
		enterState("capture", stateTokenRotated)
	}

	buf, err := b.deliverFrame(ctx, streams[0].nodeID, opts)
	if err != nil {
		enterState("capture", stateTimeout)
		return nil, err
	}
	enterState("capture", stateDone)
	return buf, nil
}

// captureDisplayFallback opens a fresh ephemeral session with no restore
// token (do-not-persist), always prompting the user (spec §4.5 "Display
// capture").
func (b *Backend) captureDisplayFallback(ctx context.Context, opts model.CaptureOptions, sourceType model.SourceType) (*imagebuf.Buffer, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.PortalTimeout)
	defer cancel()

	conn, err := dialFn()
	if err != nil {
		return nil, engineerror.NewPortalUnavailable("capture_display", err)
	}
	defer conn.Close()

	session, err := createSession(ctx, conn)
	if err != nil {
		enterState("capture_display", statePortalDown)
		return nil, classifyPortalError("capture_display.create_session", ctx, err, b.cfg.PortalTimeout.Milliseconds())
	}
	enterState("capture_display", stateSessionCreated)
	defer closeSession(conn, session)

	if err := selectSources(ctx, conn, session, sourceType, model.PersistDoNotPersist, opts.IncludeCursor, ""); err != nil {
		return nil, classifyPortalError("capture_display.select_sources", ctx, err, b.cfg.PortalTimeout.Milliseconds())
	}
	enterState("capture_display", stateSourcesSelected)

	streams, _, err := startSession(ctx, conn, session)
	if err != nil {
		if pre, ok := err.(*portalResponseError); ok && pre.userCancelled() {
			enterState("capture_display", stateUserDenied)
			return nil, engineerror.NewPermissionDenied("capture_display", "user cancelled the capture prompt")
		}
		return nil, classifyPortalError("capture_display.start", ctx, err, b.cfg.PortalTimeout.Milliseconds())
	}
	enterState("capture_display", stateStarted)
	if len(streams) == 0 {
		return nil, engineerror.NewPermissionDenied("capture_display", "portal returned no streams")
	}

	buf, err := b.deliverFrame(ctx, streams[0].nodeID, opts)
	if err != nil {
		enterState("capture_display", stateTimeout)
		return nil, err
	}
	enterState("capture_display", stateDone)
	return buf, nil
}

// deliverFrame runs the PipeWire side of the protocol (spec §4.5 steps 7-9):
// open the stream, pull the first buffer, infer dimensions, build a Buffer,
// and apply the shared crop/scale/max-dimension pipeline.
func (b *Backend) deliverFrame(ctx context.Context, nodeID uint32, opts model.CaptureOptions) (*imagebuf.Buffer, error) {
	frame, err := captureOneFrame(ctx, nodeID, b.cfg.PipewireFrameTimeout, b.cfg.PipewireIterationBudget)
	if err != nil {
		return nil, engineerror.NewCaptureTimeout("deliver_frame", b.cfg.PipewireFrameTimeout.Milliseconds())
	}
	enterState("deliver_frame", stateFrameDelivered)
	width, height := inferDimensions(frame.width, frame.height, len(frame.pixels))
	buf, err := imagebuf.FromRaw(frame.pixels, width, height)
	if err != nil {
		return nil, err
	}
	out, err := buf.ApplyOptions(opts)
	if err != nil {
		return nil, err
	}
	enterState("deliver_frame", stateTransformed)
	return out, nil
}

// classifyPortalError maps a raw portal/D-Bus error onto the engine's
// taxonomy: a context deadline becomes CaptureTimeout, a bus-level failure
// becomes PortalUnavailable, a portal-level decline becomes PermissionDenied.
func classifyPortalError(op string, ctx context.Context, err error, timeoutMS int64) error {
	if ctx.Err() != nil {
		return engineerror.NewCaptureTimeout(op, timeoutMS)
	}
	if pre, ok := err.(*portalResponseError); ok {
		if pre.userCancelled() {
			return engineerror.NewPermissionDenied(op, "user cancelled the capture prompt")
		}
		return engineerror.NewPermissionDenied(op, pre.Error())
	}
	if isPortalUnreachable(err) {
		return engineerror.NewPortalUnavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

