package staging

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Namer produces the unique suffix of a staging table name.
type Namer interface {
	Suffix() string
}

// UUIDv7Namer derives suffixes from time-sortable UUIDv7 values, hex encoded
// without separators so the result is a plain identifier.
//
// Thread-safety: UUIDv7Namer is stateless and safe for concurrent use.
type UUIDv7Namer struct{}

// Suffix returns 32 lowercase hex characters.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Namer) Suffix() string {
	return strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")
}

// FixedNamer returns predetermined suffixes for testing.
//
// Thread-safety: FixedNamer is safe for concurrent use via internal mutex.
type FixedNamer struct {
	mu       sync.Mutex
	suffixes []string
	idx      int
}

// NewFixedNamer creates a namer that returns suffixes in order.
//
// Example:
//
//	n := NewFixedNamer("a", "b")
//	n.Suffix() // "a"
//	n.Suffix() // "b"
//	n.Suffix() // panic: all suffixes exhausted
func NewFixedNamer(suffixes ...string) *FixedNamer {
	return &FixedNamer{suffixes: suffixes}
}

// Suffix returns the next predetermined suffix.
//
// Panics if all suffixes have been consumed, which catches a test that runs
// more operations than it planned for.
func (n *FixedNamer) Suffix() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.idx >= len(n.suffixes) {
		panic("FixedNamer: all suffixes exhausted")
	}
	s := n.suffixes[n.idx]
	n.idx++
	return s
}
