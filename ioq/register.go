//go:build linux

package ioq

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"
)

// Register publishes the control header in the mapped region and
// performs the registration handshake with the IOKernel: connect to the
// control socket, write the region key (4 bytes) then the region length
// (8 bytes), both in host order. Each write must complete in full.
//
// This is the sole synchronization point with the IOKernel; it maps the
// region from the received key and length and parses the header on its
// own. All execution threads must have completed BindThread before the
// handshake counts as complete program-wide.
//
// Any failure tears down both regions and returns the underlying OS
// error wrapped; no retry is attempted.
func (rt *Runtime) Register() error {
	hdr := rt.controlHdr()
	hdr.Magic = controlHdrMagic
	hdr.ThreadCount = rt.ThreadCount
	hdr.MAC = rt.MAC
	hdr.Sched = SchedSpec{
		Priority: SchedPriorityNormal,
		MaxCores: rt.ThreadCount,
		// Latency thresholds stay zero; the IOKernel applies its own
		// policy defaults.
		CongestionLatencyUS: 0,
		ScaleoutLatencyUS:   0,
	}
	copy(rt.threadSpecs(), rt.Threads)

	conn, err := rt.dial(rt.sockPath)
	if err != nil {
		rt.shmCleanup()
		return fmt.Errorf("connecting to iokernel at %q: %w", rt.sockPath, err)
	}

	var key [4]byte
	binary.NativeEndian.PutUint32(key[:], uint32(rt.Key))
	if _, err := conn.Write(key[:]); err != nil {
		_ = conn.Close()
		rt.shmCleanup()
		return fmt.Errorf("sending region key: %w", err)
	}

	var length [8]byte
	binary.NativeEndian.PutUint64(length[:], rt.TxRegion.Len())
	if _, err := conn.Write(length[:]); err != nil {
		_ = conn.Close()
		rt.shmCleanup()
		return fmt.Errorf("sending region length: %w", err)
	}

	rt.conn = conn
	rt.log.Info("registered with iokernel",
		zap.Uint32("key", uint32(rt.Key)),
		zap.Uint64("region_bytes", rt.TxRegion.Len()),
	)
	return nil
}
