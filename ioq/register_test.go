//go:build linux

package ioq

import (
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romshark/iokring-go/shm"
)

func initRuntimeWithSocket(t *testing.T, threads int, sockPath string) *Runtime {
	t.Helper()
	rt, err := Init(Config{
		Threads:    threads,
		SocketPath: sockPath,
		mapRegion:  mapAnon,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestRegisterHandshake(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "iokernel.sock")
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	defer ln.Close()

	type handshake struct {
		key    uint32
		length uint64
		err    error
	}
	got := make(chan handshake, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			got <- handshake{err: err}
			return
		}
		defer conn.Close()

		var buf [12]byte
		if _, err := io.ReadFull(conn, buf[:]); err != nil {
			got <- handshake{err: err}
			return
		}
		got <- handshake{
			key:    binary.NativeEndian.Uint32(buf[0:4]),
			length: binary.NativeEndian.Uint64(buf[4:12]),
		}
	}()

	rt := initRuntimeWithSocket(t, 4, sockPath)
	require.NoError(t, rt.Register())

	hs := <-got
	require.NoError(t, hs.err)
	assert.Equal(t, uint32(rt.Key), hs.key)
	assert.Equal(t, rt.TxRegion.Len(), hs.length)
}

func TestRegisterPopulatesHeader(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "iokernel.sock")
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var buf [12]byte
		_, _ = io.ReadFull(conn, buf[:])
	}()

	rt := initRuntimeWithSocket(t, 2, sockPath)
	require.NoError(t, rt.Register())

	// Parse the header the way the IOKernel would after mapping.
	base, err := rt.TxRegion.Bytes(0, controlHdrSize+threadSpecSize*2)
	require.NoError(t, err)
	hdr := (*ControlHdr)(unsafe.Pointer(&base[0]))

	assert.Equal(t, controlHdrMagic, hdr.Magic)
	assert.EqualValues(t, 2, hdr.ThreadCount)
	assert.Equal(t, rt.MAC, hdr.MAC)
	assert.Equal(t, SchedPriorityNormal, hdr.Sched.Priority)
	assert.EqualValues(t, 2, hdr.Sched.MaxCores)
	assert.Zero(t, hdr.Sched.CongestionLatencyUS)
	assert.Zero(t, hdr.Sched.ScaleoutLatencyUS)

	specs := unsafe.Slice(
		(*ThreadSpec)(unsafe.Pointer(&base[controlHdrSize])), 2)
	assert.Equal(t, rt.Threads, []ThreadSpec(specs))
}

func TestRegisterConnectFailureUnmapsRegions(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "nobody-listens.sock")
	rt := initRuntimeWithSocket(t, 1, sockPath)

	err := rt.Register()
	require.Error(t, err)

	_, err = rt.TxRegion.Bytes(0, 1)
	assert.ErrorIs(t, err, shm.ErrUnmapped)
	_, err = rt.RxRegion.Bytes(0, 1)
	assert.ErrorIs(t, err, shm.ErrUnmapped)
}

func TestRegisterWriteFailureUnmapsRegions(t *testing.T) {
	// The peer accepts the connection but goes away before reading
	// anything, so the fixed-size writes cannot complete.
	dialClosedPeer := func(string) (net.Conn, error) {
		client, server := net.Pipe()
		_ = server.Close()
		return client, nil
	}

	rt, err := Init(Config{
		Threads:     1,
		SocketPath:  "unused",
		mapRegion:   mapAnon,
		dialControl: dialClosedPeer,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	err = rt.Register()
	require.Error(t, err, "registration against a closed peer must fail")

	_, err = rt.TxRegion.Bytes(0, 1)
	assert.ErrorIs(t, err, shm.ErrUnmapped)
	_, err = rt.RxRegion.Bytes(0, 1)
	assert.ErrorIs(t, err, shm.ErrUnmapped)
}
