package adapter

import "strings"

// Telegram rejects messages above 4096 characters; keep some headroom.
const telegramTextLimit = 4000

// splitTelegramText cuts s into chunks of at most limit runes. It prefers a
// newline near the end of each window, and in MarkdownV2 never leaves a
// trailing escape backslash separated from the character it escapes.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	markdown := strings.EqualFold(parseMode, "MarkdownV2")

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			// Avoid tiny chunks: only accept a newline in the last two thirds.
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
			if markdown {
				end = backOffEscape(rs, start, end)
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// backOffEscape moves end left past an odd run of trailing backslashes so an
// escape sequence stays in one chunk.
func backOffEscape(rs []rune, start, end int) int {
	n := 0
	for i := end - 1; i >= start && rs[i] == '\\'; i-- {
		n++
	}
	if n%2 == 1 && end-1 > start {
		return end - 1
	}
	return end
}
