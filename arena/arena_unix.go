//go:build (linux || darwin) && (amd64 || arm64)

package arena

import (
	"fmt"
	"syscall"

	"github.com/tetraquery/wasmquery/wasmerr"
)

// MappedSupported is true on platforms where NewMapped can install real,
// OS-enforced guard pages via mmap+mprotect, matching the teacher's own
// split between a portable implementation and a syscall.Mprotect-backed one
// (see config_supported.go/config_unsupported.go in the reference engine).
const MappedSupported = true

// mappedArena backs an Arena with an mmap'd region instead of a plain Go
// slice, so TrapGuardPages can mprotect(PROT_NONE) the guard page rather
// than merely bookkeeping it. Munmap must be called to release the region.
type mappedArena struct {
	*Arena
	raw []byte
}

// NewMapped reserves capacity bytes via mmap (anonymous, read-write) and
// returns an Arena backed by it. Use this instead of New when real
// trap-on-overflow behavior is required (e.g. TRAP_GUARD_PAGES combined
// with untrusted code generation). Call Close to munmap.
func NewMapped(capacity uint32, cfg Config) (*mappedArena, error) {
	capacity = roundUpPage(capacity)
	raw, err := syscall.Mmap(-1, 0, int(capacity),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_ANON|syscall.MAP_PRIVATE)
	if err != nil {
		return nil, &wasmerr.ConfigError{Reason: fmt.Sprintf("mmap %d bytes: %v", capacity, err)}
	}
	a := newArena(raw, cfg)
	return &mappedArena{Arena: a, raw: raw}, nil
}

// protectGuardPage installs an OS-level unmapped guard page by revoking all
// access to it; any host or guest access to it now faults instead of
// silently reading/writing past the region, the strongest form of §3's
// "guard page" invariant.
func (m *mappedArena) protectGuardPage(offset uint32) error {
	if int(offset)+PageSize > len(m.raw) {
		return nil
	}
	return syscall.Mprotect(m.raw[offset:offset+PageSize], syscall.PROT_NONE)
}

// Append behaves like Arena.Append but, when TrapGuardPages is set,
// additionally mprotects the trailing guard page so overruns fault at the
// OS level rather than only being caught by in-process bookkeeping.
func (m *mappedArena) Append(name string, data []byte) (uint32, error) {
	offset, err := m.Arena.Append(name, data)
	if err != nil {
		return 0, err
	}
	if m.cfg.TrapGuardPages {
		// Arena.Append leaves heap one page past the guard page.
		if perr := m.protectGuardPage(m.heap - PageSize); perr != nil {
			return 0, &wasmerr.ConfigError{Reason: fmt.Sprintf("mprotect guard page: %v", perr)}
		}
	}
	return offset, nil
}

// Close releases the mmap'd region. Safe to call once per successful
// NewMapped.
func (m *mappedArena) Close() error {
	return syscall.Munmap(m.raw)
}
