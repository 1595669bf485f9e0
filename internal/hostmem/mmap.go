// Package hostmem wraps the host mmap primitives the engine needs:
// anonymous executable regions for JIT chunks, and read-only/copy-on-write
// file maps for ROM and ghost-image (shared ROM/IOS blob) loading.
package hostmem

import "errors"

// ErrUnsupported is returned on platforms without the required mmap flags.
var ErrUnsupported = errors.New("hostmem: unsupported on this platform")

// Region is a host memory mapping. Addr is a direct view of the mapped
// bytes; on 64-bit hosts &Addr[0] is a stable pointer for the lifetime of
// the mapping (Go's GC never moves mmap'd memory since it isn't
// GC-managed in the first place).
type Region struct {
	Addr []byte
}

// Len returns the mapped length in bytes.
func (r *Region) Len() int { return len(r.Addr) }
