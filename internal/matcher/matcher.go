// Package matcher resolves a WindowSelector against a list of enumerated
// windows, implementing the AND-semantics, three-tier title strategy and
// deterministic tie-break of spec §4.2.
package matcher

import (
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sahilm/fuzzy"

	"github.com/becksclair/screenshot-capture-engine/internal/engineerror"
	"github.com/becksclair/screenshot-capture-engine/internal/model"
)

const (
	// maxRegexSize caps the compiled pattern's source length (spec §4.2).
	maxRegexSize = 1 << 20 // 1 MiB
	// maxDFASize caps the estimated program size of the compiled regex.
	// Go's regexp package has no direct DFA-size knob the way the Rust
	// regex crate does; programSize estimates it from the length of the
	// compiled pattern's string form as a stand-in (see SPEC_FULL.md §4.2).
	maxDFASize = 10 << 20 // 10 MiB
	// fuzzyThreshold is the minimum skim-style fuzzy score that counts as
	// a match (spec §4.2).
	fuzzyThreshold = 60
	// regexCacheSize bounds the process-wide regex LRU (spec §4.2).
	regexCacheSize = 32
)

// titleRank orders title-match strategies; higher always wins ties against
// lower ranks regardless of score (spec §4.2 "rank dominance").
type titleRank int

const (
	rankNone titleRank = iota
	rankFuzzy
	rankSubstring
	rankRegex
)

type regexCacheEntry struct {
	re *regexp.Regexp // nil if compilation failed or the pattern breached a cap
}

// regexCache is the process-wide LRU of compiled patterns, memoizing both
// successful compiles and cap-breach failures to avoid repeated work (spec
// §4.2).
var regexCache = mustNewCache()

func mustNewCache() *lru.Cache[string, regexCacheEntry] {
	c, err := lru.New[string, regexCacheEntry](regexCacheSize)
	if err != nil {
		// regexCacheSize is a positive compile-time constant; lru.New only
		// fails for size <= 0.
		panic(err)
	}
	return c
}

// compileRegex returns a compiled, case-insensitive regex for pattern, or
// nil if the pattern is empty, exceeds the size caps, or fails to compile.
// A nil return is not an error: callers simply skip the regex tier (spec
// §4.2, §8 "Regex > 1 MiB => regex tier silently disabled").
func compileRegex(pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	if entry, ok := regexCache.Get(pattern); ok {
		return entry.re
	}
	re := doCompile(pattern)
	regexCache.Add(pattern, regexCacheEntry{re: re})
	return re
}

func doCompile(pattern string) *regexp.Regexp {
	if len(pattern) > maxRegexSize {
		return nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil
	}
	if programSize(re) > maxDFASize {
		return nil
	}
	return re
}

// programSize estimates the compiled regex's footprint from its string
// representation length as a cheap, deterministic proxy for the underlying
// program/DFA size. Exact instruction counts aren't exposed by regexp, so
// this mirrors the intent of the cap (bound worst-case pathological
// patterns) rather than the Rust crate's literal metric.
func programSize(re *regexp.Regexp) int {
	return len(re.String()) * 64
}

type candidateScore struct {
	window    model.WindowInfo
	rank      titleRank
	fuzzy     int
}

// FindMatch resolves selector against windows, returning the single
// best-matching handle. An empty selector or a list with no qualifying
// candidate yields WindowNotFound, never a panic (spec §8 boundary
// behaviors).
func FindMatch(selector model.WindowSelector, windows []model.WindowInfo) (string, error) {
	if selector.Empty() {
		return "", engineerror.NewWindowNotFound("find_match", "selector has no fields set")
	}

	var candidates []candidateScore
	for _, w := range windows {
		score, ok := scoreWindow(selector, w)
		if !ok {
			continue
		}
		candidates = append(candidates, score)
	}
	if len(candidates) == 0 {
		return "", engineerror.NewWindowNotFound("find_match", "no window matched the selector")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return isBetter(candidates[i], candidates[j])
	})
	return candidates[0].window.Handle, nil
}

// Matches reports whether window satisfies every non-empty field of
// selector (spec §8 "Matcher AND-semantics").
func Matches(selector model.WindowSelector, window model.WindowInfo) bool {
	_, ok := scoreWindow(selector, window)
	return ok
}

func scoreWindow(selector model.WindowSelector, w model.WindowInfo) (candidateScore, bool) {
	if selector.Class != "" && !strings.EqualFold(selector.Class, w.Class) {
		return candidateScore{}, false
	}
	if selector.Exe != "" && !strings.EqualFold(selector.Exe, w.Owner) {
		return candidateScore{}, false
	}
	rank, fuzzyScore := rankNone, 0
	if selector.Title != "" {
		var ok bool
		rank, fuzzyScore, ok = scoreTitle(selector.Title, w.Title)
		if !ok {
			return candidateScore{}, false
		}
	}
	return candidateScore{window: w, rank: rank, fuzzy: fuzzyScore}, true
}

// scoreTitle tries regex, then substring, then fuzzy, in that rank order,
// returning the first strategy that matches.
func scoreTitle(pattern, title string) (titleRank, int, bool) {
	if re := compileRegex(pattern); re != nil {
		if re.MatchString(title) {
			return rankRegex, 0, true
		}
	}
	if strings.Contains(strings.ToLower(title), strings.ToLower(pattern)) {
		return rankSubstring, 0, true
	}
	matches := fuzzy.Find(pattern, []string{title})
	if len(matches) > 0 && matches[0].Score >= fuzzyThreshold {
		return rankFuzzy, matches[0].Score, true
	}
	return rankNone, 0, false
}

// isBetter implements the deterministic tie-break of spec §4.2: higher
// title rank first, then higher fuzzy score, then lexicographically smaller
// handle.
func isBetter(a, b candidateScore) bool {
	if a.rank != b.rank {
		return a.rank > b.rank
	}
	if a.rank == rankFuzzy && a.fuzzy != b.fuzzy {
		return a.fuzzy > b.fuzzy
	}
	return a.window.Handle < b.window.Handle
}
