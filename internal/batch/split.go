// Package batch partitions oversized inputs into bounded chunks.
package batch

import "fmt"

// Split partitions items into contiguous, ordered, non-overlapping sub-slices
// of at most size elements. Concatenating the result reproduces items exactly.
//
// The returned batches alias the input; no elements are copied. When the input
// is shorter than size the result is a single batch equal to the input. An empty
// input yields nil, so callers should short-circuit before reaching this point.
//
// Panics if size is not positive.
func Split[T any](items []T, size int) [][]T {
	if size <= 0 {
		panic(fmt.Sprintf("batch: size must be positive, got %d", size))
	}
	if len(items) == 0 {
		return nil
	}
	if len(items) <= size {
		return [][]T{items}
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		// Full slice expression caps each batch so an append cannot spill into the next one.
		batches = append(batches, items[start:end:end])
	}
	return batches
}

// Count returns how many batches Split would produce for n items.
func Count(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
