package history

// window is a bounded FIFO; pushing past capacity evicts the oldest entry.
type window[T any] struct {
	limit   int
	entries []T
}

func newWindow[T any](limit int) *window[T] {
	return &window[T]{limit: limit, entries: make([]T, 0, limit)}
}

func (w *window[T]) push(value T) {
	if len(w.entries) == w.limit {
		copy(w.entries, w.entries[1:])
		w.entries = w.entries[:w.limit-1]
	}
	w.entries = append(w.entries, value)
}

// tail returns up to n most recent entries, oldest first.
func (w *window[T]) tail(n int) []T {
	if n <= 0 {
		return nil
	}
	if n > len(w.entries) {
		n = len(w.entries)
	}
	out := make([]T, n)
	copy(out, w.entries[len(w.entries)-n:])
	return out
}

func (w *window[T]) len() int {
	return len(w.entries)
}
