//go:build linux

// Package shm maps System V shared memory regions that are visible to
// two independent processes at possibly different base addresses.
//
// Every location inside a region that is exchanged across the process
// boundary is expressed as a Ptr (a byte offset relative to the region
// base), never as a raw address. Resolving a Ptr back to local memory
// goes through the owning Region, which is the single conversion point.
package shm

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	ErrOutOfRange = errors.New("offset out of region range")
	ErrMisaligned = errors.New("misaligned offset")
	ErrUnmapped   = errors.New("region is unmapped")
)

// Key identifies a shared memory segment to both cooperating processes.
type Key uint32

// shmHugeTLB is SHM_HUGETLB from include/uapi/linux/shm.h, which
// x/sys/unix does not export.
const shmHugeTLB = 0o4000

// Ptr is a region-relative byte offset. A Ptr stored in shared memory
// remains meaningful after the region is mapped into another process's
// address space at a different base address.
type Ptr uint64

// Region is an owned mapping of contiguous memory shared with another
// process. The zero offset is the region base.
type Region struct {
	base  []byte
	key   Key
	shmID int // -1 for anonymous mappings
}

// Map creates or attaches the System V segment identified by key.
// With hugePages set it first requests 2MB-page backing and falls back
// to regular pages if the kernel has none reserved.
func Map(key Key, size uint64, hugePages bool) (*Region, error) {
	if hugePages {
		id, err := unix.SysvShmGet(int(key), int(size),
			unix.IPC_CREAT|shmHugeTLB|0o600)
		if err == nil {
			return attach(id, key)
		}
		switch {
		case errors.Is(err, unix.ENOMEM),
			errors.Is(err, unix.EPERM),
			errors.Is(err, unix.EINVAL):
			// No huge pages available; retry with regular pages.
		default:
			return nil, fmt.Errorf("shmget(huge) key %#x: %w", key, err)
		}
	}

	id, err := unix.SysvShmGet(int(key), int(size), unix.IPC_CREAT|0o600)
	if err != nil {
		return nil, fmt.Errorf("shmget key %#x: %w", key, err)
	}
	return attach(id, key)
}

func attach(id int, key Key) (*Region, error) {
	b, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("shmat key %#x: %w", key, err)
	}
	return &Region{base: b, key: key, shmID: id}, nil
}

// MapAnonymous maps a private region not backed by any segment.
// It behaves like a shared Region for offset resolution and is intended
// for single-process setups and tests.
func MapAnonymous(size uint64) (*Region, error) {
	b, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap anonymous: %w", err)
	}
	return &Region{base: b, shmID: -1}, nil
}

// Key returns the segment key. Zero for anonymous regions.
func (r *Region) Key() Key { return r.key }

// Len returns the mapped byte length. Zero after Unmap.
func (r *Region) Len() uint64 { return uint64(len(r.base)) }

// Bytes resolves [off, off+n) to local memory.
func (r *Region) Bytes(off Ptr, n uint64) ([]byte, error) {
	if r.base == nil {
		return nil, ErrUnmapped
	}
	end := uint64(off) + n
	if end < uint64(off) || end > uint64(len(r.base)) {
		return nil, fmt.Errorf("%w: [%d, %d) in region of %d bytes",
			ErrOutOfRange, off, end, len(r.base))
	}
	return r.base[off:end:end], nil
}

// Unmap releases the mapping. The region must not be resolved afterwards;
// any Ptr resolution on an unmapped region fails.
func (r *Region) Unmap() error {
	if r.base == nil {
		return nil
	}
	b := r.base
	r.base = nil
	if r.shmID < 0 {
		return unix.Munmap(b)
	}
	return unix.SysvShmDetach(b)
}

// Remove marks the underlying segment for destruction once every
// process has detached. No-op for anonymous regions.
func (r *Region) Remove() error {
	if r.shmID < 0 {
		return nil
	}
	if _, err := unix.SysvShmCtl(r.shmID, unix.IPC_RMID, nil); err != nil {
		return fmt.Errorf("shmctl(IPC_RMID) key %#x: %w", r.key, err)
	}
	return nil
}
