// Package arena implements the Memory Arena & VM Mapping component: a
// contiguous virtual-memory region reserved up front and bump-allocated
// from the low end by the host (base tables, string literals, index
// scratch), while the high end remains free for the guest's heap. The same
// region is later aliased as the guest's Wasm linear memory, eliminating a
// copy at the main() boundary.
package arena

import (
	"fmt"

	"github.com/tetraquery/wasmquery/wasmerr"
)

// PageSize is the host-side page granularity every region append rounds up
// to, matching the Wasm linear memory page size so the arena can be
// aliased directly onto guest memory without re-striping.
const PageSize = 65536

// Config bit-set flags recognized by Arena, per spec §3/§6.
type Config struct {
	// TrapGuardPages reserves a guard page after every appended region and
	// records it (see IsGuardPage); no later region is placed on it. An
	// Arena from New leaves that page accessible, so an overshooting access
	// is not trapped; only the mmap-backed arena's Append revokes access to
	// it.
	TrapGuardPages bool
}

// Region describes one host-appended slice of the arena.
type Region struct {
	Name   string
	Offset uint32
	Size   uint32
}

// Arena is a page-aligned virtual-memory region shared between host and
// guest. Concurrent queries must not share one Arena; each query owns one
// for the duration of execution (§4.1 Contract).
type Arena struct {
	cfg     Config
	backing []byte // reserved region; len(backing) == capacity
	heap    uint32 // page-aligned offset of the first free byte
	regions []Region
	guarded map[uint32]bool // offset -> true for pages that must stay unmapped
}

// New reserves an Arena of the given capacity (rounded up to PageSize).
// The backing store is always a plain Go byte slice, so guard pages are
// only recorded, never access-protected; NewMapped (arena_unix.go) is the
// separate constructor for an mmap-backed arena.
func New(capacity uint32, cfg Config) *Arena {
	capacity = roundUpPage(capacity)
	return newArena(make([]byte, capacity), cfg)
}

// newArena wraps a freshly allocated backing slice, reserving the first
// page as a null region so offset 0 is never handed out to a real
// host-appended region. offset=0 is the Result-Set Reader's "no result"
// sentinel (spec §4.7); without this reservation, the very first region
// ever appended to a fresh arena would legitimately land at offset 0 and
// be indistinguishable from the empty-result sentinel.
func newArena(backing []byte, cfg Config) *Arena {
	a := &Arena{
		cfg:     cfg,
		backing: backing,
		heap:    PageSize,
		regions: []Region{{Name: "null", Offset: 0, Size: PageSize}},
		guarded: map[uint32]bool{},
	}
	return a
}

func roundUpPage(n uint32) uint32 {
	if n%PageSize == 0 {
		return n
	}
	return (n/PageSize + 1) * PageSize
}

// Base returns the raw backing slice. Guest pointers are 32-bit offsets
// into this slice; translation is base[offset:offset+n].
func (a *Arena) Base() []byte { return a.backing }

// Heap returns the current bump-allocation watermark. Invariant: always a
// multiple of PageSize (§3).
func (a *Arena) Heap() uint32 { return a.heap }

// Cap returns the total reserved capacity of the arena.
func (a *Arena) Cap() uint32 { return uint32(len(a.backing)) }

// Append bump-allocates a new region of size bytes at the current heap
// offset, copies data into it (if non-nil), rounds the heap up to the next
// page, and — if TrapGuardPages is set — marks the following page as an
// unmapped guard. Returns the region's base offset.
func (a *Arena) Append(name string, data []byte) (uint32, error) {
	size := uint32(len(data))
	offset := a.heap
	end := offset + size
	needed := roundUpPage(end)
	if a.cfg.TrapGuardPages {
		needed += PageSize // reserve a following guard page
	}
	if needed > uint32(len(a.backing)) {
		return 0, &wasmerr.ConfigError{Reason: fmt.Sprintf(
			"arena exhausted: need %d bytes for region %q, have %d remaining",
			needed-offset, name, uint32(len(a.backing))-offset)}
	}
	if data != nil {
		copy(a.backing[offset:end], data)
	}
	a.regions = append(a.regions, Region{Name: name, Offset: offset, Size: size})
	newHeap := roundUpPage(end)
	if a.cfg.TrapGuardPages {
		a.guarded[newHeap] = true
		newHeap += PageSize // the guard page itself is never allocatable
	}
	a.heap = newHeap
	if a.heap%PageSize != 0 {
		return 0, &wasmerr.ConfigError{Reason: "heap not page-aligned after append"}
	}
	return offset, nil
}

// Reserve bump-allocates size zeroed bytes without supplying contents
// (used for index scratch and the result buffer, which the guest fills in).
func (a *Arena) Reserve(name string, size uint32) (uint32, error) {
	return a.Append(name, make([]byte, size))
}

// IsGuardPage reports whether offset falls on a page the host reserved as
// the guard page after an appended region (testable property §8.3).
func (a *Arena) IsGuardPage(offset uint32) bool {
	return a.guarded[roundDownPage(offset)]
}

func roundDownPage(n uint32) uint32 { return (n / PageSize) * PageSize }

// Regions returns the list of appended regions in append order.
func (a *Arena) Regions() []Region { return append([]Region(nil), a.regions...) }

// Read returns a view of byteCount bytes starting at offset, or false if
// the range runs past the arena's reserved capacity. The whole reserved
// region is readable this way, including guest-written bytes above Heap().
func (a *Arena) Read(offset, byteCount uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(a.backing)) {
		return nil, false
	}
	return a.backing[offset:end], true
}

// Write copies data into the arena at offset, returning false if it would
// overflow the backing capacity.
func (a *Arena) Write(offset uint32, data []byte) bool {
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(a.backing)) {
		return false
	}
	copy(a.backing[offset:end], data)
	return true
}
