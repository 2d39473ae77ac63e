//go:build linux

package ioq

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romshark/iokring-go/lrpc"
)

func TestBindThreadAllSlotsClaimedOnce(t *testing.T) {
	const threads = 4
	rt := initRuntime(t, threads)

	var wg sync.WaitGroup
	queues := make([]*ThreadQueues, threads)
	for i := range threads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := rt.BindThread()
			// Tag the claimed slot through its command channel.
			assert.True(t, q.TxCmdQ.Send(uint64(i), 0))
			queues[i] = q
		}()
	}
	wg.Wait()

	for _, q := range queues {
		require.NotNil(t, q)
		require.NotNil(t, q.RxQ)
		require.NotNil(t, q.TxPktQ)
		require.NotNil(t, q.TxCmdQ)
	}

	// Every planned ThreadSpec must have been claimed by exactly one
	// thread: each command channel carries exactly one message.
	claims := 0
	for _, ts := range rt.Threads {
		in, err := lrpc.AttachIn(rt.TxRegion, ts.TxCmdQ.MsgBuf, ts.TxCmdQ.Wb, ts.TxCmdQ.MsgCount)
		require.NoError(t, err)

		if _, _, ok := in.Recv(); !ok {
			continue
		}
		claims++
		_, _, ok := in.Recv()
		assert.False(t, ok, "a slot must carry exactly one claim tag")
	}
	assert.Equal(t, threads, claims, "every slot must be claimed exactly once")
}

func TestBindThreadBarrierReleasesOnLastArrival(t *testing.T) {
	const threads = 3
	rt := initRuntime(t, threads)

	done := make(chan int, threads)
	for i := range threads - 1 {
		go func() {
			rt.BindThread()
			done <- i
		}()
	}

	select {
	case <-done:
		t.Fatal("barrier released before the last thread arrived")
	case <-time.After(50 * time.Millisecond):
	}

	go func() {
		rt.BindThread()
		done <- threads - 1
	}()

	for range threads {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("barrier did not release after the last arrival")
		}
	}
}

func TestBindThreadOverrunPanics(t *testing.T) {
	const threads = 2
	rt := initRuntime(t, threads)

	var wg sync.WaitGroup
	for range threads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.BindThread()
		}()
	}
	wg.Wait()

	assert.Panics(t, func() { rt.BindThread() },
		"claiming more slots than planned must not silently wrap")
}

func TestBoundQueuesRoundTrip(t *testing.T) {
	rt := initRuntime(t, 1)
	q := rt.BindThread()

	// Peer endpoints as the IOKernel would attach them after mapping:
	// producer on the thread's ingress ring, consumers on its egress rings.
	ts := rt.Threads[0]
	iokRx, err := lrpc.AttachOut(rt.TxRegion, ts.RxQ.MsgBuf, ts.RxQ.Wb, ts.RxQ.MsgCount)
	require.NoError(t, err)
	iokTxPkt, err := lrpc.AttachIn(rt.TxRegion, ts.TxPktQ.MsgBuf, ts.TxPktQ.Wb, ts.TxPktQ.MsgCount)
	require.NoError(t, err)

	require.True(t, iokRx.Send(7, 42))
	cmd, payload, ok := q.RxQ.Recv()
	require.True(t, ok)
	assert.EqualValues(t, 7, cmd)
	assert.EqualValues(t, 42, payload)

	require.True(t, q.TxPktQ.Send(9, 1000))
	cmd, payload, ok = iokTxPkt.Recv()
	require.True(t, ok)
	assert.EqualValues(t, 9, cmd)
	assert.EqualValues(t, 1000, payload)
}

func TestSpinLockMutualExclusion(t *testing.T) {
	var l spinLock
	counter := 0

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				l.lock()
				counter++
				l.unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000, counter)
}
