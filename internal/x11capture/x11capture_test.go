package x11capture

import (
	"errors"
	"testing"

	"github.com/jezek/xgb/xproto"
)

func TestParseHandleHexAndDecimal(t *testing.T) {
	cases := []struct {
		in   string
		want uint32
	}{
		{"0x1a2b", 0x1a2b},
		{"1a2b", 0x1a2b},
		{"6699", 6699},
	}
	for _, c := range cases {
		got, err := parseHandle(c.in)
		if err != nil {
			t.Fatalf("parseHandle(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("parseHandle(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseHandleRejectsGarbage(t *testing.T) {
	if _, err := parseHandle("not-a-handle"); err == nil {
		t.Fatalf("expected error for non-numeric handle")
	}
}

func TestIsWindowGoneErrorMatchesBadWindow(t *testing.T) {
	if !isWindowGoneError(errors.New("BadWindow (invalid Window parameter)")) {
		t.Fatalf("expected BadWindow error to be classified as window-gone")
	}
	if isWindowGoneError(errors.New("connection refused")) {
		t.Fatalf("connection refused should not be classified as window-gone")
	}
}

func TestXImageToRGBAConvertsBGRAToRGBA(t *testing.T) {
	setup := &xproto.SetupInfo{
		PixmapFormats: []xproto.Format{{Depth: 24, BitsPerPixel: 32}},
	}
	// A single 2x1 BGRA image: pixel 0 = blue, pixel 1 = red.
	data := []byte{
		0xFF, 0x00, 0x00, 0xFF, // pixel 0: B=FF G=00 R=00 A=FF -> blue
		0x00, 0x00, 0xFF, 0xFF, // pixel 1: B=00 G=00 R=FF A=FF -> red
	}
	reply := &xproto.GetImageReply{Depth: 24, Data: data}

	img, err := ximageToRGBA(setup, reply, 2, 1)
	if err != nil {
		t.Fatalf("ximageToRGBA: %v", err)
	}
	r0, g0, b0, _ := img.At(0, 0).RGBA()
	if r0>>8 != 0 || g0>>8 != 0 || b0>>8 != 0xFF {
		t.Fatalf("pixel 0 = (%d,%d,%d), want blue", r0>>8, g0>>8, b0>>8)
	}
	r1, g1, b1, _ := img.At(1, 0).RGBA()
	if r1>>8 != 0xFF || g1>>8 != 0 || b1>>8 != 0 {
		t.Fatalf("pixel 1 = (%d,%d,%d), want red", r1>>8, g1>>8, b1>>8)
	}
}

func TestXImageToRGBARejectsUnknownDepth(t *testing.T) {
	setup := &xproto.SetupInfo{PixmapFormats: []xproto.Format{{Depth: 24, BitsPerPixel: 32}}}
	reply := &xproto.GetImageReply{Depth: 99, Data: []byte{1, 2, 3, 4}}
	if _, err := ximageToRGBA(setup, reply, 1, 1); err == nil {
		t.Fatalf("expected error for unrecognized depth")
	}
}
