//go:build linux

package ioq

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/romshark/iokring-go/lrpc"
)

// spinLock is a busy-wait mutual exclusion primitive. Slot claims are
// O(1) and contended only for microseconds at process startup, so a
// blocking lock would cost more than it saves.
type spinLock struct {
	v atomic.Uint32
}

func (l *spinLock) lock() {
	for !l.v.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (l *spinLock) unlock() {
	l.v.Store(0)
}

// barrier blocks parties until all n have arrived, then releases them
// simultaneously. One-shot; it has no timeout, a thread that never
// starts blocks the rest indefinitely.
type barrier struct {
	mu      sync.Mutex
	n       int
	arrived int
	release chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, release: make(chan struct{})}
}

func (b *barrier) wait() {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.n {
		close(b.release)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	<-b.release
}

// ThreadQueues are one execution thread's attached channel endpoints.
type ThreadQueues struct {
	// RxQ receives packets from the IOKernel.
	RxQ *lrpc.In
	// TxPktQ sends packets, TxCmdQ sends control messages.
	TxPktQ *lrpc.Out
	TxCmdQ *lrpc.Out
}

// BindThread must be called exactly once by each execution thread
// during its startup, strictly after Init. It claims the next unclaimed
// ThreadSpec, attaches the thread's channel endpoints and blocks until
// every execution thread has done the same, so no thread touches its
// channels before all bindings exist.
//
// Claiming more slots than were planned, or failing to attach a
// channel, indicates a build or configuration mismatch between the
// cooperating processes and panics: continuing would imply an already
// corrupt shared-memory contract.
func (rt *Runtime) BindThread() *ThreadQueues {
	rt.claimLock.lock()
	if rt.claimed >= rt.ThreadCount {
		rt.claimLock.unlock()
		panic(fmt.Sprintf(
			"ioq: thread %d bound, but setup planned for %d threads",
			rt.claimed+1, rt.ThreadCount))
	}
	ts := &rt.Threads[rt.claimed]
	rt.claimed++
	rt.claimLock.unlock()

	rxq, err := lrpc.AttachIn(rt.TxRegion, ts.RxQ.MsgBuf, ts.RxQ.Wb, ts.RxQ.MsgCount)
	if err != nil {
		panic(fmt.Sprintf("ioq: attaching ingress channel: %v", err))
	}
	txpktq, err := lrpc.AttachOut(rt.TxRegion, ts.TxPktQ.MsgBuf, ts.TxPktQ.Wb, ts.TxPktQ.MsgCount)
	if err != nil {
		panic(fmt.Sprintf("ioq: attaching egress packet channel: %v", err))
	}
	txcmdq, err := lrpc.AttachOut(rt.TxRegion, ts.TxCmdQ.MsgBuf, ts.TxCmdQ.Wb, ts.TxCmdQ.MsgCount)
	if err != nil {
		panic(fmt.Sprintf("ioq: attaching egress command channel: %v", err))
	}

	rt.barrier.wait()

	return &ThreadQueues{RxQ: rxq, TxPktQ: txpktq, TxCmdQ: txcmdq}
}
