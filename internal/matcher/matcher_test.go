package matcher

import (
	"testing"

	"github.com/becksclair/screenshot-capture-engine/internal/engineerror"
	"github.com/becksclair/screenshot-capture-engine/internal/model"
)

func sampleWindows() []model.WindowInfo {
	return []model.WindowInfo{
		{Handle: "1", Title: "Mozilla Firefox", Class: "Navigator", Owner: "firefox"},
		{Handle: "2", Title: "Visual Studio Code", Class: "Code", Owner: "code"},
	}
}

func TestFindMatchANDSemantics(t *testing.T) {
	windows := sampleWindows()

	handle, err := FindMatch(model.WindowSelector{Title: "Firefox", Class: "Navigator"}, windows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle != "1" {
		t.Fatalf("handle = %q, want 1", handle)
	}

	_, err = FindMatch(model.WindowSelector{Title: "Code", Class: "Navigator"}, windows)
	if !engineerror.HasKind(err, engineerror.KindWindowNotFound) {
		t.Fatalf("expected WindowNotFound, got %v", err)
	}
}

func TestEmptySelectorIsNoMatch(t *testing.T) {
	_, err := FindMatch(model.WindowSelector{}, sampleWindows())
	if !engineerror.HasKind(err, engineerror.KindWindowNotFound) {
		t.Fatalf("expected WindowNotFound for empty selector, got %v", err)
	}
}

func TestRankDominanceRegexBeatsSubstringBeatsFuzzy(t *testing.T) {
	windows := []model.WindowInfo{
		{Handle: "fuzzy", Title: "Fierfix Browzer"},                // matches no tier for this pattern
		{Handle: "substr", Title: "my ^code[0-9]+$ editor window"}, // literal substring match; the anchors keep the regex from matching
		{Handle: "regex", Title: "code000"},                        // regex match for ^code[0-9]+$
	}
	handle, err := FindMatch(model.WindowSelector{Title: "^code[0-9]+$"}, windows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle != "regex" {
		t.Fatalf("handle = %q, want regex (rank dominance)", handle)
	}
}

func TestClassAndExeAreExactCaseInsensitive(t *testing.T) {
	windows := []model.WindowInfo{{Handle: "1", Class: "Navigator", Owner: "Firefox"}}
	if !Matches(model.WindowSelector{Class: "navigator"}, windows[0]) {
		t.Fatalf("expected case-insensitive class match")
	}
	if Matches(model.WindowSelector{Class: "nav"}, windows[0]) {
		t.Fatalf("class must be exact equality, not substring")
	}
	if !Matches(model.WindowSelector{Exe: "FIREFOX"}, windows[0]) {
		t.Fatalf("expected case-insensitive exe match")
	}
}

func TestDeterministicTieBreakSmallerHandleWins(t *testing.T) {
	windows := []model.WindowInfo{
		{Handle: "20", Title: "Chrome"},
		{Handle: "5", Title: "Chrome"},
		{Handle: "100", Title: "Chrome"},
	}
	handle, err := FindMatch(model.WindowSelector{Title: "chrome"}, windows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle != "100" && handle != "20" && handle != "5" {
		t.Fatalf("unexpected handle %q", handle)
	}
	// "chrome" compiles as a regex, so all three are equal-rank regex matches;
	// the lexicographically smallest handle string must win ("100" < "20" <
	// "5" lexicographically).
	if handle != "100" {
		t.Fatalf("handle = %q, want lexicographically smallest \"100\"", handle)
	}
}

func TestOversizedRegexDegradesGracefully(t *testing.T) {
	huge := make([]byte, 2<<20)
	for i := range huge {
		huge[i] = 'a'
	}
	windows := []model.WindowInfo{{Handle: "1", Title: string(huge)}}
	// An oversized pattern must not propagate a compile error; it should
	// simply fail to match via the regex tier and fall through to
	// substring/fuzzy, ultimately yielding WindowNotFound here since the
	// pattern itself (as literal substring) isn't contained in the title.
	_, err := FindMatch(model.WindowSelector{Title: string(huge) + "x"}, windows)
	if !engineerror.HasKind(err, engineerror.KindWindowNotFound) {
		t.Fatalf("expected graceful WindowNotFound, got %v", err)
	}
}

func TestMatcherDeterminismIsOrderIndependent(t *testing.T) {
	a := []model.WindowInfo{
		{Handle: "1", Title: "Terminal"},
		{Handle: "2", Title: "Terminal"},
	}
	b := []model.WindowInfo{a[1], a[0]}

	h1, err1 := FindMatch(model.WindowSelector{Title: "terminal"}, a)
	h2, err2 := FindMatch(model.WindowSelector{Title: "terminal"}, b)
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v %v", err1, err2)
	}
	if h1 != h2 {
		t.Fatalf("match depended on candidate order: %q vs %q", h1, h2)
	}
}
