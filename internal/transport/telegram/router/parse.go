package router

import (
	"strings"

	"github.com/google/uuid"
)

func newReqID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

// tokenizeCommandLine splits command text on whitespace. Single or double
// quotes group words and a backslash escapes the next character:
//
//	/delrem "ab 12"  ->  ["/delrem", "ab 12"]
func tokenizeCommandLine(s string) []string {
	var (
		out     []string
		buf     strings.Builder
		quote   rune
		escaped bool
		started bool
	)
	flush := func() {
		if started {
			out = append(out, buf.String())
			buf.Reset()
			started = false
		}
	}
	for _, r := range strings.TrimSpace(s) {
		switch {
		case escaped:
			buf.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped, started = true, true
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			buf.WriteRune(r)
		case r == '"' || r == '\'':
			quote, started = r, true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			buf.WriteRune(r)
			started = true
		}
	}
	flush()
	return out
}

// commandWord extracts the lower-cased command from a "/cmd@bot" token.
func commandWord(tok string) string {
	w := strings.TrimPrefix(tok, "/")
	if i := strings.IndexByte(w, '@'); i >= 0 {
		w = w[:i]
	}
	return strings.ToLower(w)
}
