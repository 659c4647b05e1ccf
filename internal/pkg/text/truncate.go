package text

import "unicode/utf8"

// Truncate cuts s to at most max bytes, ending in "..." when it cut.
func Truncate(s string, max int) string {
	return TruncateWithMarker(s, max, "...")
}

// TruncateWithMarker cuts s to at most max bytes, ending in marker so the
// reader can tell content was dropped rather than absent. The marker counts
// against the budget. The cut never splits a rune, so the result stays
// valid UTF-8 whenever the input was.
func TruncateWithMarker(s string, max int, marker string) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= len(marker) {
		return s[:runeFloor(s, max)]
	}
	return s[:runeFloor(s, max-len(marker))] + marker
}

// runeFloor backs i down to the nearest rune start.
func runeFloor(s string, i int) int {
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
