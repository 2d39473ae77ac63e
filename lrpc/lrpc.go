//go:build linux

// Package lrpc implements the single-producer/single-consumer message
// channels that live inside a shared memory region and carry traffic
// between the runtime and the IOKernel.
//
// A channel is a power-of-two ring of 16-byte slots plus one write-back
// word through which the consumer publishes its read progress to the
// producer. Publication of a slot flips a parity bit in the command
// word, so neither side ever writes the other side's indices.
package lrpc

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/romshark/iokring-go/shm"
)

// Msg is one channel slot. Its layout is part of the wire contract with
// the IOKernel and must not change.
type Msg struct {
	Cmd     uint64
	Payload uint64
}

// MsgSize is the byte size of one slot.
const MsgSize = uint64(unsafe.Sizeof(Msg{}))

const (
	// DoneParity marks a slot as published for the current lap.
	DoneParity uint64 = 1 << 63
	// CmdMask strips the parity bit off a received command word.
	CmdMask = ^DoneParity
)

var ErrNotPowerOfTwo = errors.New("slot count must be a power of two")

// Out is the producer end of a channel.
//
// WARNING: Out is not safe for concurrent use.
type Out struct {
	slots    []Msg
	recvHead *uint32 // consumer progress write-back
	sendHead uint32
	sendTail uint32
	size     uint32
}

// In is the consumer end of a channel.
//
// WARNING: In is not safe for concurrent use.
type In struct {
	slots    []Msg
	wb       *uint32
	recvHead uint32
	size     uint32
}

func resolve(r *shm.Region, bufOff, wbOff shm.Ptr, count uint64) ([]Msg, *uint32, error) {
	if count == 0 || count&(count-1) != 0 {
		return nil, nil, fmt.Errorf("%w: %d", ErrNotPowerOfTwo, count)
	}
	b, err := r.Bytes(bufOff, count*MsgSize)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving slot array: %w", err)
	}
	wb, err := r.Uint32At(wbOff)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving write-back word: %w", err)
	}
	slots := unsafe.Slice((*Msg)(unsafe.Pointer(&b[0])), count)
	return slots, wb, nil
}

// AttachOut binds a producer end to the channel described by the given
// region-relative offsets.
func AttachOut(r *shm.Region, bufOff, wbOff shm.Ptr, count uint64) (*Out, error) {
	slots, wb, err := resolve(r, bufOff, wbOff, count)
	if err != nil {
		return nil, err
	}
	return &Out{slots: slots, recvHead: wb, size: uint32(count)}, nil
}

// AttachIn binds a consumer end to the channel described by the given
// region-relative offsets.
func AttachIn(r *shm.Region, bufOff, wbOff shm.Ptr, count uint64) (*In, error) {
	slots, wb, err := resolve(r, bufOff, wbOff, count)
	if err != nil {
		return nil, err
	}
	return &In{slots: slots, wb: wb, size: uint32(count)}, nil
}

// Send publishes cmd and payload. It returns false when the ring is
// full even after reloading the consumer's write-back word.
// cmd must not use the parity bit.
func (c *Out) Send(cmd, payload uint64) bool {
	if c.sendHead-c.sendTail >= c.size {
		c.sendTail = atomic.LoadUint32(c.recvHead)
		if c.sendHead-c.sendTail >= c.size {
			return false
		}
	}

	m := &c.slots[c.sendHead&(c.size-1)]
	if c.sendHead&c.size == 0 {
		cmd |= DoneParity
	}
	c.sendHead++

	m.Payload = payload
	// The command word is written last; its parity flip is what makes
	// the slot visible to the consumer.
	atomic.StoreUint64(&m.Cmd, cmd)
	return true
}

// Recv consumes the next published slot, if any, and advertises the new
// read position through the write-back word.
func (c *In) Recv() (cmd, payload uint64, ok bool) {
	m := &c.slots[c.recvHead&(c.size-1)]

	var parity uint64
	if c.recvHead&c.size == 0 {
		parity = DoneParity
	}

	w := atomic.LoadUint64(&m.Cmd)
	if w&DoneParity != parity {
		return 0, 0, false
	}

	payload = m.Payload
	c.recvHead++
	atomic.StoreUint32(c.wb, c.recvHead)
	return w & CmdMask, payload, true
}

// Size returns the slot capacity of the channel.
func (c *Out) Size() uint32 { return c.size }

// Size returns the slot capacity of the channel.
func (c *In) Size() uint32 { return c.size }
