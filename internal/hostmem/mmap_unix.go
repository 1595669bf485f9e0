//go:build !windows

package hostmem

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MapExecAnon allocates an anonymous PROT_READ|WRITE|EXEC region of size
// bytes. This backs one TCB JIT chunk (spec.md §4.F "Chunks of JIT
// memory allocated CHUNK_BYTES at a time").
func MapExecAnon(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("hostmem: invalid size %d", size)
	}
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("hostmem: mmap anon exec: %w", err)
	}
	return &Region{Addr: b}, nil
}

// MapFileRO maps path read-only for its full size (ROM images).
func MapFileRO(path string) (*Region, error) {
	return mapFile(path, unix.PROT_READ, unix.MAP_SHARED)
}

// MapFileCOW maps path copy-on-write: writes are private to this mapping
// and never reach disk, which is how ghost-image sharing lets several VMs
// map the same ROM/IOS file without corrupting one another's view.
func MapFileCOW(path string) (*Region, error) {
	return mapFile(path, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE)
}

func mapFile(path string, prot, flags int) (*Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hostmem: open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("hostmem: stat %s: %w", path, err)
	}
	size := fi.Size()
	if size == 0 {
		return nil, fmt.Errorf("hostmem: %s is empty", path)
	}

	b, err := unix.Mmap(int(f.Fd()), 0, int(size), prot, flags)
	if err != nil {
		return nil, fmt.Errorf("hostmem: mmap %s: %w", path, err)
	}
	return &Region{Addr: b}, nil
}

// MapFileCreate creates (or truncates) path to size bytes and maps it
// read-write shared, used for NVRAM/flash-image backing stores.
func MapFileCreate(path string, size int64) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("hostmem: create %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return nil, fmt.Errorf("hostmem: truncate %s: %w", path, err)
	}

	b, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("hostmem: mmap %s: %w", path, err)
	}
	return &Region{Addr: b}, nil
}

// Unmap releases a mapping obtained from this package.
func Unmap(r *Region) error {
	if r == nil || r.Addr == nil {
		return nil
	}
	err := unix.Munmap(r.Addr)
	r.Addr = nil
	return err
}
