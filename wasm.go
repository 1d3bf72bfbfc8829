package wasmbridge

// Memory represents guest linear memory as seen by the host.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU32(offset uint32) (uint32, error)
	WriteU32(offset uint32, value uint32) error
	// Size returns the current size of linear memory in bytes.
	Size() uint32
}

// Allocator allocates memory inside a guest's arena
type Allocator interface {
	Alloc(size uint32) (uint32, error)
	// Reset releases every allocation made since the previous reset.
	Reset() error
}
