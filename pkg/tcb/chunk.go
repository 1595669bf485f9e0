package tcb

import (
	"fmt"
	"sync"

	"github.com/dynamips/dynamips-go/internal/hostmem"
)

// ChunkBytes is the size of one JIT memory chunk; bump-allocated until
// less than MinFree bytes remain, per spec.md §4.F.
const ChunkBytes = 256 * 1024

// MinFree is the low-water mark that triggers attaching a new chunk.
const MinFree = 4 * 1024

// chunk is one bump-allocated region of executable host memory (or, in
// NOJIT-only builds, a region that never actually needs execute
// permission but still tracks free space the same way).
type chunk struct {
	region *hostmem.Region
	off    int
}

func newChunk() (*chunk, error) {
	r, err := hostmem.MapExecAnon(ChunkBytes)
	if err != nil {
		return nil, fmt.Errorf("tcb: alloc chunk: %w", err)
	}
	return &chunk{region: r}, nil
}

func (c *chunk) free() int { return len(c.region.Addr) - c.off }

// alloc reserves n bytes from the chunk's bump pointer, returning the
// slice to write into, or ok=false if the chunk can't satisfy it.
func (c *chunk) alloc(n int) ([]byte, bool) {
	if c.free() < n {
		return nil, false
	}
	b := c.region.Addr[c.off : c.off+n]
	c.off += n
	return b, true
}

// chunkPool owns the set of chunks backing one CPU's (or the TSG's)
// JIT allocations; compaction only happens at flush(threshold) time
// per spec.md §4.F.
type chunkPool struct {
	mu     sync.Mutex
	chunks []*chunk
}

func (p *chunkPool) reserve(n int) ([]byte, *chunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.chunks) > 0 {
		last := p.chunks[len(p.chunks)-1]
		if last.free() >= n+MinFree {
			b, ok := last.alloc(n)
			if ok {
				return b, last, nil
			}
		}
	}
	c, err := newChunk()
	if err != nil {
		return nil, nil, err
	}
	p.chunks = append(p.chunks, c)
	b, ok := c.alloc(n)
	if !ok {
		return nil, nil, fmt.Errorf("tcb: chunk too small for %d bytes", n)
	}
	return b, c, nil
}

// compact drops chunks that are entirely free, reclaiming their host
// mappings; called only from flush(threshold), never mid-execution.
func (p *chunkPool) compact(totalLiveBytes int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if totalLiveBytes > 0 {
		return
	}
	for _, c := range p.chunks {
		hostmem.Unmap(c.region)
	}
	p.chunks = p.chunks[:0]
}
