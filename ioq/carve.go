//go:build linux

package ioq

import (
	"github.com/romshark/iokring-go/lrpc"
	"github.com/romshark/iokring-go/shm"
)

// carveQueue emits one QueueSpec at the cursor and advances it past the
// slot array and the write-back word, each aligned to a cache line.
// Offsets are recorded region-relative so the spec stays meaningful in
// the IOKernel's address space. Bounds are guaranteed by the layout
// planner; carving more than planned is a programming error.
func carveQueue(q *QueueSpec, cursor *uint64, slots uint64) {
	q.MsgBuf = shm.Ptr(*cursor)
	*cursor += alignUp(slots*lrpc.MsgSize, CacheLineSize)

	q.Wb = shm.Ptr(*cursor)
	*cursor += alignUp(4, CacheLineSize)

	q.MsgCount = slots
}

// carveThread emits the three channels of one execution thread in
// contract order: ingress, egress-packet, egress-command.
func carveThread(ts *ThreadSpec, cursor *uint64) {
	carveQueue(&ts.RxQ, cursor, PacketQueueSlots)
	carveQueue(&ts.TxPktQ, cursor, PacketQueueSlots)
	carveQueue(&ts.TxCmdQ, cursor, CommandQueueSlots)
}
