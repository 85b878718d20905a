package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTelegramTextShortIsUntouched(t *testing.T) {
	t.Parallel()
	got := splitTelegramText("hello\nworld", 4000, "")
	if len(got) != 1 || got[0] != "hello\nworld" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("a", 30)
	s := strings.Join([]string{line, line, line, line}, "\n")
	got := splitTelegramText(s, 70, "")
	if len(got) != 2 {
		t.Fatalf("chunks = %d: %q", len(got), got)
	}
	for _, c := range got {
		if utf8.RuneCountInString(c) > 70 {
			t.Fatalf("chunk too long: %d", utf8.RuneCountInString(c))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk has edge newline: %q", c)
		}
	}
	if got[0] != line+"\n"+line {
		t.Fatalf("first chunk = %q", got[0])
	}
}

func TestSplitTelegramTextHardCutCountsRunes(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("ä", 25)
	got := splitTelegramText(s, 10, "")
	if len(got) != 3 || got[2] != strings.Repeat("ä", 5) {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTelegramTextKeepsMarkdownEscapes(t *testing.T) {
	t.Parallel()
	// The 10th rune is an escape backslash; the cut must not orphan it.
	s := strings.Repeat("x", 9) + `\.` + strings.Repeat("y", 9)
	got := splitTelegramText(s, 10, "MarkdownV2")
	if got[0] != strings.Repeat("x", 9) || !strings.HasPrefix(got[1], `\.`) {
		t.Fatalf("got %q", got)
	}
	plain := splitTelegramText(s, 10, "")
	if !strings.HasSuffix(plain[0], `\`) {
		t.Fatalf("plain mode should cut at the limit: %q", plain)
	}
}
