//go:build !wasip1

package guest

import "fmt"

// This file stands in for linear memory so the package can be tested on
// the host. Addresses are handed out sequentially and resolve only to the
// exact slice they were issued for.

var (
	regions  = map[uint32][]byte{}
	nextAddr = uint32(align)
)

func addr(b []byte) uint32 {
	p := nextAddr
	regions[p] = b
	nextAddr += uint32(alignUp(len(b))) + align
	return p
}

func view(ptr, length uint32) []byte {
	if length == 0 {
		return nil
	}
	b, ok := regions[ptr]
	if !ok || uint32(len(b)) < length {
		panic(fmt.Sprintf("guest: no %d-byte region at %d", length, ptr))
	}
	return b[:length]
}

func forget() {
	clear(regions)
	nextAddr = align
}
