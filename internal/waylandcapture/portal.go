package waylandcapture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/becksclair/screenshot-capture-engine/internal/model"
)

const (
	portalBusName    = "org.freedesktop.portal.Desktop"
	portalObjectPath = "/org/freedesktop/portal/desktop"
	screenCastIface  = "org.freedesktop.portal.ScreenCast"

	cursorModeHidden   uint32 = 1
	cursorModeEmbedded uint32 = 2
)

// dialFn is overridden in tests to avoid a real session bus connection.
var dialFn = dbus.ConnectSessionBus

// newHandleToken mints a per-request portal handle token, following the
// teacher's newPortalHandleToken idiom (time-based, not meant to be secret).
func newHandleToken() string {
	return fmt.Sprintf("scengine%d", time.Now().UnixNano())
}

// portalResponseError carries a portal Request.Response result code that is
// not success (0), distinguishing user-cancellation (1) from other portal
// errors (2) per the xdg-desktop-portal Request contract.
type portalResponseError struct {
	code uint32
}

func (e *portalResponseError) Error() string {
	return fmt.Sprintf("portal request failed with response code %d", e.code)
}

func (e *portalResponseError) userCancelled() bool { return e.code == 1 }

// callRequest invokes a portal method that replies asynchronously through a
// Request object's Response signal, mirroring the teacher's
// AddMatch/Signal/RemoveMatch idiom in portal_unix.go but generalized to an
// arbitrary method and a context-bounded wait instead of an unbounded
// `range` over the signal channel.
func callRequest(ctx context.Context, conn *dbus.Conn, obj dbus.BusObject, method string, args ...interface{}) (map[string]dbus.Variant, error) {
	var handle dbus.ObjectPath
	call := obj.Call(method, 0, args...)
	if call.Err != nil {
		return nil, fmt.Errorf("portal call %s: %w", method, call.Err)
	}
	if err := call.Store(&handle); err != nil {
		return nil, fmt.Errorf("portal call %s response: %w", method, err)
	}

	sigc := make(chan *dbus.Signal, 1)
	conn.Signal(sigc)
	defer conn.RemoveSignal(sigc)

	rule := fmt.Sprintf("type='signal',interface='org.freedesktop.portal.Request',member='Response',path='%s'", handle)
	if err := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return nil, fmt.Errorf("portal subscribe %s: %w", method, err)
	}
	defer conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case sig, ok := <-sigc:
			if !ok {
				return nil, fmt.Errorf("portal call %s: signal channel closed", method)
			}
			if sig.Path != handle || sig.Name != "org.freedesktop.portal.Request.Response" {
				continue
			}
			if len(sig.Body) < 2 {
				return nil, fmt.Errorf("portal call %s: malformed response", method)
			}
			code, _ := sig.Body[0].(uint32)
			if code != 0 {
				return nil, &portalResponseError{code: code}
			}
			results, _ := sig.Body[1].(map[string]dbus.Variant)
			return results, nil
		}
	}
}

func createSession(ctx context.Context, conn *dbus.Conn) (dbus.ObjectPath, error) {
	obj := conn.Object(portalBusName, portalObjectPath)
	options := map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(newHandleToken()),
		"session_handle_token": dbus.MakeVariant(newHandleToken()),
	}
	results, err := callRequest(ctx, conn, obj, screenCastIface+".CreateSession", options)
	if err != nil {
		return "", err
	}
	sh, ok := results["session_handle"].Value().(string)
	if !ok || sh == "" {
		return "", fmt.Errorf("portal CreateSession: missing session_handle")
	}
	return dbus.ObjectPath(sh), nil
}

func selectSources(ctx context.Context, conn *dbus.Conn, session dbus.ObjectPath, sourceType model.SourceType, persist model.PersistMode, cursorEmbedded bool, restoreToken string) error {
	obj := conn.Object(portalBusName, portalObjectPath)
	cursorMode := cursorModeHidden
	if cursorEmbedded {
		cursorMode = cursorModeEmbedded
	}
	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(newHandleToken()),
		"types":        dbus.MakeVariant(uint32(sourceType)),
		"cursor_mode":  dbus.MakeVariant(cursorMode),
		"persist_mode": dbus.MakeVariant(uint32(persist)),
	}
	if restoreToken != "" {
		options["restore_token"] = dbus.MakeVariant(restoreToken)
	}
	_, err := callRequest(ctx, conn, obj, screenCastIface+".SelectSources", session, options)
	return err
}

type portalStream struct {
	nodeID uint32
	width  int
	height int
}

func startSession(ctx context.Context, conn *dbus.Conn, session dbus.ObjectPath) ([]portalStream, string, error) {
	obj := conn.Object(portalBusName, portalObjectPath)
	options := map[string]dbus.Variant{"handle_token": dbus.MakeVariant(newHandleToken())}
	results, err := callRequest(ctx, conn, obj, screenCastIface+".Start", session, "", options)
	if err != nil {
		return nil, "", err
	}

	raw, ok := results["streams"].Value().([][]interface{})
	if !ok || len(raw) == 0 {
		return nil, "", fmt.Errorf("portal Start: no streams in response")
	}
	streams := make([]portalStream, 0, len(raw))
	for _, item := range raw {
		if len(item) < 2 {
			continue
		}
		nodeID, _ := item[0].(uint32)
		props, _ := item[1].(map[string]dbus.Variant)
		s := portalStream{nodeID: nodeID}
		if size, ok := props["size"].Value().([]int32); ok && len(size) == 2 {
			s.width, s.height = int(size[0]), int(size[1])
		}
		streams = append(streams, s)
	}
	if len(streams) == 0 {
		return nil, "", fmt.Errorf("portal Start: streams present but none decodable")
	}
	restoreToken, _ := results["restore_token"].Value().(string)
	return streams, restoreToken, nil
}

func closeSession(conn *dbus.Conn, session dbus.ObjectPath) {
	obj := conn.Object(portalBusName, session)
	_ = obj.Call("org.freedesktop.portal.Session.Close", 0).Err
}

// isTokenInvalidError matches the textual signature spec §4.5 step 3 names
// for reclassifying a SelectSources failure as TokenNotFound: "token",
// "invalid", "expired".
func isTokenInvalidError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "token") || strings.Contains(lower, "invalid") || strings.Contains(lower, "expired")
}

// isPortalUnreachable classifies bus-level failures (service missing, no
// reply, disconnected) the same way the teacher's isPortalUnsupportedError
// does for the simpler Screenshot portal.
func isPortalUnreachable(err error) bool {
	if err == nil {
		return false
	}
	var dbusErr *dbus.Error
	if errors.As(err, &dbusErr) {
		switch dbusErr.Name {
		case "org.freedesktop.DBus.Error.ServiceUnknown",
			"org.freedesktop.DBus.Error.NoReply",
			"org.freedesktop.DBus.Error.Disconnected":
			return true
		}
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "disconnected from message bus") || strings.Contains(lower, "service unknown") || strings.Contains(lower, "connect:")
}
