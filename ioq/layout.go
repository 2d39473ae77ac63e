//go:build linux

package ioq

import "github.com/romshark/iokring-go/lrpc"

// alignUp rounds v up to the next multiple of align (a power of two).
func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// queueBytes returns the region footprint of one channel: the slot
// array rounded up to a cache line plus the write-back word rounded up
// to a cache line.
func queueBytes(slots uint64) uint64 {
	n := alignUp(slots*lrpc.MsgSize, CacheLineSize)
	n += alignUp(4, CacheLineSize)
	return n
}

// queueRegionEnd returns the offset one past the last carved channel
// for the given thread count, before huge-page padding. The carver's
// cursor never exceeds this bound.
func queueRegionEnd(threads uint32) uint64 {
	n := controlHdrSize + threadSpecSize*uint64(threads)
	n = alignUp(n, CacheLineSize)
	n += 2 * queueBytes(PacketQueueSlots) * uint64(threads)
	n += queueBytes(CommandQueueSlots) * uint64(threads)
	return n
}

// ControlRegionSize computes the total byte size of the control/egress
// region for the given thread count: header and thread specs, then the
// per-thread channels, padded to a huge page, then the egress buffer
// pool, padded to a huge page again. Deterministic; both processes must
// arrive at the same value.
func ControlRegionSize(threads uint32) uint64 {
	n := queueRegionEnd(threads)
	n = alignUp(n, PageSize2MB)
	n += EgressBufLen * PacketQueueSlots
	return alignUp(n, PageSize2MB)
}
