//go:build !((linux || darwin) && (amd64 || arm64))

package arena

import "github.com/tetraquery/wasmquery/wasmerr"

// MappedSupported is false on platforms without a syscall.Mprotect-backed
// implementation; callers should fall back to New (plain-slice-backed
// guard-page bookkeeping, still correct for the purposes of §8's
// testable properties, just not OS-enforced).
const MappedSupported = false

// NewMapped always fails on unsupported platforms. Callers should check
// MappedSupported first and fall back to New.
func NewMapped(capacity uint32, cfg Config) (*Arena, error) {
	return nil, &wasmerr.ConfigError{Reason: "mmap-backed arena not supported on this platform"}
}
