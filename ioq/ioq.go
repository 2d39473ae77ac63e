//go:build linux

// Package ioq bootstraps the shared-memory channel between a per-core
// user-level runtime and the IOKernel control process.
//
// It computes the byte layout of the control/egress region, carves it
// into fixed-capacity lrpc channels (one ingress and two egress per
// execution thread), publishes the control header describing that
// layout and registers the region with the IOKernel over a unix control
// socket. Both processes compile the same layout rules independently,
// so every constant and struct in this package that is marked as part
// of the wire contract must stay byte-identical on both sides.
package ioq

import (
	"unsafe"

	"github.com/romshark/iokring-go/shm"
)

const (
	// PacketQueueSlots is the slot capacity of the ingress and
	// egress-packet channels. Part of the wire contract.
	PacketQueueSlots = 8192
	// CommandQueueSlots is the slot capacity of the egress-command
	// channel. Part of the wire contract.
	CommandQueueSlots = 8192

	// CacheLineSize is the alignment boundary of the header and every
	// carved channel.
	CacheLineSize = 64
	// PageSize2MB is the huge-page boundary of the egress buffer pool
	// and of the total region size.
	PageSize2MB = 2 << 20

	// EgressBufLen is the fixed size of one egress packet buffer.
	EgressBufLen = 2048
	// EthMaxLen is the largest frame an egress buffer must hold.
	EthMaxLen = 1518
	// TxNetHdrLen is the transmit header preceding the frame payload.
	TxNetHdrLen = 32

	// ControlSockPath is the well-known IOKernel control socket.
	ControlSockPath = "/tmp/iokernel.sock"

	controlHdrMagic uint32 = 0x696f6b31 // "iok1"

	// IngressShmKey is the well-known key of the ingress buffer region,
	// shared by convention with the IOKernel.
	IngressShmKey shm.Key = 0x696d736b // "imsk"
	// IngressShmSize is the fixed ingress region size, independent of
	// the thread count.
	IngressShmSize = 32 << 20
)

// Egress buffers must hold a max-size frame plus its transmit header,
// and a huge page must carve into an exact number of buffers.
const (
	_ uint = EgressBufLen - (EthMaxLen + TxNetHdrLen)
	_ uint = -(PageSize2MB % EgressBufLen)
)

// EthAddr is a 6-byte hardware address. It doubles as the runtime's
// logical identity and as the source of its shared-memory key.
type EthAddr [6]byte

const (
	ethAddrGroup      = 0x01 // multicast/group bit
	ethAddrLocalAdmin = 0x02 // locally administered bit
)

// QueueSpec describes one lrpc channel inside the control/egress
// region. All locations are region-relative offsets. Part of the wire
// contract.
type QueueSpec struct {
	MsgBuf   shm.Ptr
	Wb       shm.Ptr
	MsgCount uint64
}

// ThreadSpec bundles the three channels of one execution thread:
// ingress, egress-packet and egress-command. Part of the wire contract.
type ThreadSpec struct {
	RxQ    QueueSpec
	TxPktQ QueueSpec
	TxCmdQ QueueSpec
}

// Scheduler priority classes understood by the IOKernel.
const (
	SchedPrioritySystem uint32 = iota
	SchedPriorityNormal
	SchedPriorityBatch
)

// SchedSpec is the scheduler configuration consumed by the IOKernel.
// Part of the wire contract.
type SchedSpec struct {
	Priority            uint32
	MaxCores            uint32
	CongestionLatencyUS uint32
	ScaleoutLatencyUS   uint32
}

// ControlHdr sits at the base of the control/egress region and is the
// structure the IOKernel parses after mapping the region. Field order
// and alignment are part of the wire contract; the ThreadSpec array
// follows immediately after the header.
type ControlHdr struct {
	Magic       uint32
	ThreadCount uint32
	MAC         EthAddr
	_           [2]byte
	Sched       SchedSpec
}

const (
	controlHdrSize = uint64(unsafe.Sizeof(ControlHdr{}))
	threadSpecSize = uint64(unsafe.Sizeof(ThreadSpec{}))
)
