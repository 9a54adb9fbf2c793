//go:build windows

package wincapture

import (
	"fmt"
	"image"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/becksclair/screenshot-capture-engine/internal/engineerror"
	"github.com/becksclair/screenshot-capture-engine/internal/model"
)

// DLL bindings follow the LazyDLL/NewProc idiom shown in the pack's Windows
// screenshot tooling (grounded on other_examples' windows-screenshot-mcp-server
// internal/screenshot engine).
var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	gdi32  = windows.NewLazySystemDLL("gdi32.dll")
	ntdll  = windows.NewLazySystemDLL("ntdll.dll")

	procEnumWindows              = user32.NewProc("EnumWindows")
	procGetWindowTextLengthW     = user32.NewProc("GetWindowTextLengthW")
	procGetWindowTextW           = user32.NewProc("GetWindowTextW")
	procGetClassNameW            = user32.NewProc("GetClassNameW")
	procIsWindowVisible          = user32.NewProc("IsWindowVisible")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procFindWindowW              = user32.NewProc("FindWindowW")
	procGetDesktopWindow         = user32.NewProc("GetDesktopWindow")
	procGetWindowRect            = user32.NewProc("GetWindowRect")
	procGetDC                    = user32.NewProc("GetDC")
	procReleaseDC                = user32.NewProc("ReleaseDC")
	procPrintWindow              = user32.NewProc("PrintWindow")

	procCreateCompatibleDC = gdi32.NewProc("CreateCompatibleDC")
	procCreateDIBSection   = gdi32.NewProc("CreateDIBSection")
	procSelectObject       = gdi32.NewProc("SelectObject")
	procBitBlt             = gdi32.NewProc("BitBlt")
	procDeleteDC           = gdi32.NewProc("DeleteDC")
	procDeleteObject       = gdi32.NewProc("DeleteObject")

	procRtlGetVersion = ntdll.NewProc("RtlGetVersion")
)

const (
	srcCopy        = 0x00CC0020
	dibRGBColors   = 0
	biRGB          = 0
	pwRenderFull   = 2
	processQueryLimited = 0x1000
	processVMRead       = 0x0010
)

type rect struct {
	Left, Top, Right, Bottom int32
}

type bitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

type bitmapInfo struct {
	Header bitmapInfoHeader
	Colors [1]uint32
}

// osVersionInfoExW mirrors OSVERSIONINFOEXW's layout; only dwBuildNumber is
// read (spec §4.7 "Minimum host build check").
type osVersionInfoExW struct {
	OSVersionInfoSize uint32
	MajorVersion      uint32
	MinorVersion      uint32
	BuildNumber       uint32
	PlatformID        uint32
	CSDVersion        [128]uint16
	ServicePackMajor  uint16
	ServicePackMinor  uint16
	SuiteMask         uint16
	ProductType       byte
	Reserved          byte
}

func osBuildNumber() (uint32, error) {
	var info osVersionInfoExW
	info.OSVersionInfoSize = uint32(unsafe.Sizeof(info))
	ret, _, _ := procRtlGetVersion.Call(uintptr(unsafe.Pointer(&info)))
	if ret != 0 {
		return 0, fmt.Errorf("RtlGetVersion failed: status 0x%x", ret)
	}
	return info.BuildNumber, nil
}

func enumerateWindowsPlatform() ([]model.WindowInfo, error) {
	var windows []model.WindowInfo
	cb := syscall.NewCallback(func(hwnd syscall.Handle, _ uintptr) uintptr {
		visible, _, _ := procIsWindowVisible.Call(uintptr(hwnd))
		if visible == 0 {
			return 1 // continue enumeration
		}
		title := windowTitle(hwnd)
		if title == "" {
			return 1
		}
		windows = append(windows, describeWindow(hwnd, title))
		return 1
	})
	ret, _, err := procEnumWindows.Call(cb, 0)
	if ret == 0 {
		return nil, fmt.Errorf("EnumWindows: %w", err)
	}
	return windows, nil
}

// windowTitle reads a window's title into a buffer sized len+1 to include
// the null terminator (spec §4.7's named safety invariant), where len is what
// GetWindowTextLengthW reports; the length is not capped further. Any handle
// failure yields an empty string rather than a crash.
func windowTitle(hwnd syscall.Handle) string {
	length, _, _ := procGetWindowTextLengthW.Call(uintptr(hwnd))
	if length == 0 {
		return ""
	}
	buf := make([]uint16, length+1)
	n, _, _ := procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return syscall.UTF16ToString(buf)
}

func windowClass(hwnd syscall.Handle) string {
	buf := make([]uint16, 256)
	n, _, _ := procGetClassNameW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return syscall.UTF16ToString(buf[:n])
}

// describeWindow fills in class, pid and exe name; any individual lookup
// failure yields an empty field (spec §4.7).
func describeWindow(hwnd syscall.Handle, title string) model.WindowInfo {
	var pid uint32
	procGetWindowThreadProcessId.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&pid)))
	return model.WindowInfo{
		Handle:  fmt.Sprintf("%d", hwnd),
		Title:   title,
		Class:   windowClass(hwnd),
		Owner:   processExeName(pid),
		PID:     pid,
		Backend: "windows",
	}
}

// processExeName resolves a process's executable name by opening the process
// and keeping the base name of QueryFullProcessImageName's path (spec §4.7),
// returning "" on any handle failure.
func processExeName(pid uint32) string {
	if pid == 0 {
		return ""
	}
	h, err := windows.OpenProcess(processQueryLimited|processVMRead, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_PATH)
	n := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &n); err != nil {
		return ""
	}
	full := syscall.UTF16ToString(buf[:n])
	if idx := strings.LastIndexAny(full, `\/`); idx >= 0 {
		return full[idx+1:]
	}
	return full
}

func parseHandle(handle string) (syscall.Handle, error) {
	var v uint64
	if _, err := fmt.Sscanf(handle, "%d", &v); err != nil {
		return 0, engineerror.NewInvalidParameter("handle", fmt.Sprintf("not a valid Windows window handle: %q", handle))
	}
	return syscall.Handle(v), nil
}

func captureWindowPlatform(handle string) (*image.RGBA, error) {
	hwnd, err := parseHandle(handle)
	if err != nil {
		return nil, err
	}
	var r rect
	ret, _, _ := procGetWindowRect.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&r)))
	if ret == 0 {
		return nil, engineerror.NewWindowClosed(handle)
	}
	width, height := int(r.Right-r.Left), int(r.Bottom-r.Top)
	if width <= 0 || height <= 0 {
		return nil, engineerror.NewImageError("capture", "window has empty geometry")
	}

	hdc, _, _ := procGetDC.Call(uintptr(hwnd))
	if hdc == 0 {
		return nil, fmt.Errorf("GetDC failed for window %s", handle)
	}
	defer procReleaseDC.Call(uintptr(hwnd), hdc)

	img, err := captureFromDC(hdc, 0, 0, width, height, func(memDC uintptr) {
		procPrintWindow.Call(uintptr(hwnd), memDC, pwRenderFull)
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

func captureDisplayPlatform(_ string) (*image.RGBA, error) {
	desktop, _, _ := procGetDesktopWindow.Call()
	var r rect
	ret, _, _ := procGetWindowRect.Call(desktop, uintptr(unsafe.Pointer(&r)))
	if ret == 0 {
		return nil, fmt.Errorf("GetWindowRect failed for desktop window")
	}
	width, height := int(r.Right-r.Left), int(r.Bottom-r.Top)
	if width <= 0 || height <= 0 {
		return nil, engineerror.NewImageError("capture", "desktop has empty geometry")
	}

	hdc, _, _ := procGetDC.Call(0)
	if hdc == 0 {
		return nil, fmt.Errorf("GetDC failed for desktop")
	}
	defer procReleaseDC.Call(0, hdc)

	return captureFromDC(hdc, int(r.Left), int(r.Top), width, height, func(memDC uintptr) {
		procBitBlt.Call(memDC, 0, 0, uintptr(width), uintptr(height), hdc, uintptr(int32(r.Left)), uintptr(int32(r.Top)), srcCopy)
	})
}

// captureFromDC models the Graphics Capture API one-shot path (spec §4.7):
// it allocates a DIB section whose row pitch is GPU-aligned rather than
// tight, fills it through paint, then runs the captured buffer through the
// same stride-stripping conversion a real Direct3D11CaptureFrame surface
// would require. paint writes pixels into memDC however the caller needs
// (BitBlt for a display, PrintWindow for a window).
func captureFromDC(srcDC uintptr, srcX, srcY, width, height int, paint func(memDC uintptr)) (*image.RGBA, error) {
	memDC, _, _ := procCreateCompatibleDC.Call(srcDC)
	if memDC == 0 {
		return nil, fmt.Errorf("CreateCompatibleDC failed")
	}
	defer procDeleteDC.Call(memDC)

	rowPitch := gpuAlignedRowPitch(width)
	var bmi bitmapInfo
	bmi.Header.Size = uint32(unsafe.Sizeof(bmi.Header))
	bmi.Header.Width = int32(rowPitch / 4)
	bmi.Header.Height = -int32(height) // top-down DIB
	bmi.Header.Planes = 1
	bmi.Header.BitCount = 32
	bmi.Header.Compression = biRGB

	var pBits uintptr
	bitmap, _, _ := procCreateDIBSection.Call(memDC, uintptr(unsafe.Pointer(&bmi)), dibRGBColors, uintptr(unsafe.Pointer(&pBits)), 0, 0)
	if bitmap == 0 || pBits == 0 {
		return nil, fmt.Errorf("CreateDIBSection failed")
	}
	defer procDeleteObject.Call(bitmap)

	oldBitmap, _, _ := procSelectObject.Call(memDC, bitmap)
	defer procSelectObject.Call(memDC, oldBitmap)

	paint(memDC)

	mapped := unsafe.Slice((*byte)(unsafe.Pointer(pBits)), rowPitch*height)
	owned := make([]byte, len(mapped))
	copy(owned, mapped)

	_ = srcX
	_ = srcY
	return bgraFrameToRGBA(owned, rowPitch, width, height)
}
