//go:build linux

package shm

import (
	"fmt"
	"unsafe"
)

// Uint32At resolves off to a word suitable for atomic access.
// The offset must be 4-byte aligned.
func (r *Region) Uint32At(off Ptr) (*uint32, error) {
	if off%4 != 0 {
		return nil, fmt.Errorf("%w: %d is not 4-byte aligned", ErrMisaligned, off)
	}
	b, err := r.Bytes(off, 4)
	if err != nil {
		return nil, err
	}
	return (*uint32)(unsafe.Pointer(&b[0])), nil
}
