package tgui

import "fmt"

// Page is one window over a list. Index is 0-based and already clamped.
type Page[T any] struct {
	Items   []T
	Index   int
	Count   int
	From    int // first item, 0-based
	To      int // one past the last item
	Total   int
	HasPrev bool
	HasNext bool
}

// Paginate cuts items into pages of size and returns page index, clamped to
// the valid range. A non-positive size means 10.
func Paginate[T any](items []T, index, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	count := max((total+size-1)/size, 1)
	index = min(max(index, 0), count-1)
	from := min(index*size, total)
	to := min(from+size, total)
	return Page[T]{
		Items:   items[from:to],
		Index:   index,
		Count:   count,
		From:    from,
		To:      to,
		Total:   total,
		HasPrev: index > 0,
		HasNext: to < total,
	}
}

// Label renders e.g. "Page 2/3 (6-10 of 12)".
func (p Page[T]) Label() string {
	if p.Total == 0 {
		return "Page 1/1"
	}
	return fmt.Sprintf("Page %d/%d (%d-%d of %d)", p.Index+1, p.Count, p.From+1, p.To, p.Total)
}
