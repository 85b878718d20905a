package tgui

// TruncRunes shortens s to at most n runes, ending in "…" when it had to cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	seen := 0
	for i := range s {
		if seen == n {
			// Keep the ellipsis inside the budget.
			return string([]rune(s[:i])[:n-1]) + "…"
		}
		seen++
	}
	return s
}
