package guest

const (
	// DefaultChunkSize is the size of an arena's first chunk.
	DefaultChunkSize = 64 << 10

	align = 8
)

// Arena is a bump allocator reclaimed in bulk by Reset. Memory is carved
// from chunks that are never moved or resized, so a slice returned by Alloc
// keeps its address until the next Reset.
//
// An Arena is not safe for concurrent use. Guests are single-threaded.
type Arena struct {
	chunks    [][]byte
	off       int
	chunkSize int
	used      int
	high      int
}

// NewArena returns an arena whose first chunk holds chunkSize bytes.
// Non-positive sizes select DefaultChunkSize. No memory is reserved until
// the first allocation.
func NewArena(chunkSize int) *Arena {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Arena{chunkSize: chunkSize}
}

// Alloc returns n bytes aligned to 8 bytes within their chunk. The slice
// has capacity n, so appending to it never writes into a neighbour.
func (a *Arena) Alloc(n int) []byte {
	if n < 0 {
		panic("guest: negative allocation")
	}
	if n == 0 {
		return []byte{}
	}

	start := alignUp(a.off)
	if len(a.chunks) == 0 || start+n > len(a.current()) {
		a.grow(n)
		start = 0
	}
	a.used += start - a.off + n
	a.off = start + n
	if a.used > a.high {
		a.high = a.used
	}
	return a.current()[start:a.off:a.off]
}

// Copy allocates len(b) bytes and copies b into them.
func (a *Arena) Copy(b []byte) []byte {
	dst := a.Alloc(len(b))
	copy(dst, b)
	return dst
}

// Reset releases every allocation. The largest chunk is kept for reuse and
// the others are dropped for the garbage collector.
func (a *Arena) Reset() {
	if len(a.chunks) > 1 {
		largest := a.chunks[0]
		for _, c := range a.chunks[1:] {
			if len(c) > len(largest) {
				largest = c
			}
		}
		clear(a.chunks)
		a.chunks = append(a.chunks[:0], largest)
	}
	a.off = 0
	a.used = 0
}

// Used returns the bytes handed out since the last Reset, alignment
// padding included.
func (a *Arena) Used() int { return a.used }

// HighWater returns the largest Used value the arena has reached.
func (a *Arena) HighWater() int { return a.high }

// Cap returns the total size of the chunks the arena holds.
func (a *Arena) Cap() int {
	total := 0
	for _, c := range a.chunks {
		total += len(c)
	}
	return total
}

func (a *Arena) current() []byte {
	return a.chunks[len(a.chunks)-1]
}

// grow starts a chunk that fits n bytes. Chunk sizes double so a run of
// large allocations creates few chunks.
func (a *Arena) grow(n int) {
	size := a.chunkSize
	if len(a.chunks) > 0 {
		size = 2 * len(a.current())
	}
	if size < n {
		size = alignUp(n)
	}
	a.chunks = append(a.chunks, make([]byte, size))
	a.off = 0
}

func alignUp(n int) int {
	return (n + align - 1) &^ (align - 1)
}
