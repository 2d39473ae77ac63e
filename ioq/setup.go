//go:build linux

package ioq

import (
	"errors"
	"fmt"
	"net"
	"unsafe"

	"go.uber.org/zap"

	"github.com/romshark/iokring-go/shm"
)

// Runtime is the process-wide IPC context shared with the IOKernel.
// It is created once by Init before any execution thread starts, is
// mutated only during setup and per-thread binding, and is logically
// read-only afterwards.
type Runtime struct {
	// Key is the control/egress region key derived from MAC.
	Key shm.Key
	// MAC is the runtime identity announced in the control header.
	MAC EthAddr

	// ThreadCount is fixed for the process lifetime.
	ThreadCount uint32
	// Threads holds one spec per execution thread, carved by Init and
	// copied verbatim into the control header by Register.
	Threads []ThreadSpec

	// TxRegion is the control/egress region (header, channels, egress
	// buffer pool). RxRegion is the fixed-size ingress buffer region.
	TxRegion *shm.Region
	RxRegion *shm.Region

	// TxBufOff/TxBufLen locate the egress buffer pool inside TxRegion.
	// NextFree is the pool's bump-allocation cursor, advanced by
	// AllocEgressBuf; it never moves backwards.
	TxBufOff shm.Ptr
	TxBufLen uint64
	NextFree shm.Ptr

	sockPath string
	dial     func(path string) (net.Conn, error)
	conn     net.Conn

	claimLock spinLock
	claimed   uint32
	barrier   *barrier
	allocLock spinLock

	log *zap.Logger
}

// Init performs the one-time bootstrap: identity, region sizing and
// mapping, channel carving and egress pool bookkeeping. It must be
// called before any per-thread BindThread call. On failure nothing
// stays mapped.
func Init(conf Config, log *zap.Logger) (*Runtime, error) {
	if err := conf.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	rt := &Runtime{
		ThreadCount: uint32(conf.Threads),
		sockPath:    conf.SocketPath,
		dial:        conf.dialControl,
		barrier:     newBarrier(conf.Threads),
		log:         log,
	}
	if err := rt.shmSetup(conf); err != nil {
		return nil, err
	}

	log.Info("mapped runtime <-> iokernel regions",
		zap.String("mac", rt.MAC.String()),
		zap.Uint32("key", uint32(rt.Key)),
		zap.Uint32("threads", rt.ThreadCount),
		zap.Uint64("control_egress_bytes", rt.TxRegion.Len()),
		zap.Uint64("ingress_bytes", rt.RxRegion.Len()),
	)
	return rt, nil
}

func (rt *Runtime) shmSetup(conf Config) error {
	mac, err := GenerateMAC()
	if err != nil {
		return fmt.Errorf("generating runtime identity: %w", err)
	}
	rt.MAC = mac
	rt.Key = keyFromMAC(mac)

	size := ControlRegionSize(rt.ThreadCount)
	tx, err := conf.mapRegion(rt.Key, size, conf.HugePages)
	if err != nil {
		return fmt.Errorf("mapping control/egress region: %w", err)
	}

	rx, err := conf.mapRegion(IngressShmKey, IngressShmSize, conf.HugePages)
	if err != nil {
		_ = tx.Unmap()
		return fmt.Errorf("mapping ingress region: %w", err)
	}
	rt.TxRegion, rt.RxRegion = tx, rx

	// Carve the per-thread channels right after the header and thread
	// spec array, cache-line aligned.
	cursor := alignUp(controlHdrSize+threadSpecSize*uint64(rt.ThreadCount),
		CacheLineSize)

	rt.Threads = make([]ThreadSpec, rt.ThreadCount)
	for i := range rt.Threads {
		carveThread(&rt.Threads[i], &cursor)
	}

	// The remainder of the region, from the next huge-page boundary on,
	// is the egress buffer pool.
	cursor = alignUp(cursor, PageSize2MB)
	rt.TxBufOff = shm.Ptr(cursor)
	rt.TxBufLen = EgressBufLen * PacketQueueSlots
	rt.NextFree = rt.TxBufOff

	return nil
}

// shmCleanup detaches both regions. Used on handshake failure and by
// Close; partial shared-memory state cannot be resumed mid-setup.
func (rt *Runtime) shmCleanup() {
	if rt.TxRegion != nil {
		_ = rt.TxRegion.Unmap()
	}
	if rt.RxRegion != nil {
		_ = rt.RxRegion.Unmap()
	}
}

// Close releases the control socket and both regions.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.conn != nil {
		if err := rt.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing control socket: %w", err))
		}
		rt.conn = nil
	}
	if rt.TxRegion != nil {
		if err := rt.TxRegion.Unmap(); err != nil {
			errs = append(errs, fmt.Errorf("unmapping control/egress region: %w", err))
		}
	}
	if rt.RxRegion != nil {
		if err := rt.RxRegion.Unmap(); err != nil {
			errs = append(errs, fmt.Errorf("unmapping ingress region: %w", err))
		}
	}
	return errors.Join(errs...)
}

// controlHdr resolves the header at the region base. The layout planner
// guarantees it fits, so resolution failure is an invariant violation.
func (rt *Runtime) controlHdr() *ControlHdr {
	b, err := rt.TxRegion.Bytes(0, controlHdrSize)
	if err != nil {
		panic(fmt.Sprintf("ioq: resolving control header: %v", err))
	}
	return (*ControlHdr)(unsafe.Pointer(&b[0]))
}

// threadSpecs resolves the spec array following the header in place.
func (rt *Runtime) threadSpecs() []ThreadSpec {
	b, err := rt.TxRegion.Bytes(shm.Ptr(controlHdrSize),
		threadSpecSize*uint64(rt.ThreadCount))
	if err != nil {
		panic(fmt.Sprintf("ioq: resolving thread spec array: %v", err))
	}
	return unsafe.Slice((*ThreadSpec)(unsafe.Pointer(&b[0])), rt.ThreadCount)
}

// EgressPool resolves the egress packet-buffer pool. Buffer i occupies
// pool[i*EgressBufLen : (i+1)*EgressBufLen].
func (rt *Runtime) EgressPool() ([]byte, error) {
	return rt.TxRegion.Bytes(rt.TxBufOff, rt.TxBufLen)
}

// AllocEgressBuf claims the next fixed-size buffer from the egress
// pool. The offset identifies the buffer to the IOKernel, the slice is
// the local view of the same bytes. Buffers are never freed; the pool
// holds one per packet-queue slot, so a runtime that recycles buffers
// on transmit completion cannot exhaust it. Safe for concurrent use.
func (rt *Runtime) AllocEgressBuf() (shm.Ptr, []byte, error) {
	rt.allocLock.lock()
	off := rt.NextFree
	if uint64(off)+EgressBufLen > uint64(rt.TxBufOff)+rt.TxBufLen {
		rt.allocLock.unlock()
		return 0, nil, ErrEgressPoolExhausted
	}
	rt.NextFree += EgressBufLen
	rt.allocLock.unlock()

	b, err := rt.TxRegion.Bytes(off, EgressBufLen)
	if err != nil {
		return 0, nil, err
	}
	return off, b, nil
}
