package tgui

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedMarkdownVersion is returned for a rule version other than 1 or 2.
var ErrUnsupportedMarkdownVersion = errors.New("unsupported markdown version")

// Both rule versions share one character set today; they stay separate so a
// future divergence does not change callers.
var markdownReserved = map[int]string{
	1: "_*[]()~`>#+-=|{}.!",
	2: "_*[]()~`>#+-=|{}.!",
}

// EscapeMarkdown prefixes every reserved character in s with a backslash.
func EscapeMarkdown(s string, version int) (string, error) {
	set, ok := markdownReserved[version]
	if !ok {
		return "", fmt.Errorf("%w: %d (only 1 and 2 are supported)", ErrUnsupportedMarkdownVersion, version)
	}
	var b strings.Builder
	b.Grow(len(s) + len(s)/4)
	for _, r := range s {
		if strings.ContainsRune(set, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}

// MustEscapeMarkdown is EscapeMarkdown for constant versions; it panics on misuse.
func MustEscapeMarkdown(s string, version int) string {
	out, err := EscapeMarkdown(s, version)
	if err != nil {
		panic(err)
	}
	return out
}

// MD is MarkdownV2 text that is safe to send as-is.
type MD string

func (m MD) String() string { return string(m) }

// Esc escapes plain text for MarkdownV2.
func Esc(s string) MD { return MD(MustEscapeMarkdown(s, 2)) }

// Bold renders s in bold.
func Bold(s string) MD { return MD("*" + MustEscapeMarkdown(s, 2) + "*") }

// Code renders s as inline code. Inside code spans only ` and \ are reserved.
func Code(s string) MD {
	r := strings.NewReplacer("\\", "\\\\", "`", "\\`")
	return MD("`" + r.Replace(s) + "`")
}

// JoinMD joins safe parts with a plain separator, which is escaped.
func JoinMD(sep string, parts ...MD) MD {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		ss = append(ss, p.String())
	}
	return MD(strings.Join(ss, MustEscapeMarkdown(sep, 2)))
}
