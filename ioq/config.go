//go:build linux

package ioq

import (
	"errors"
	"net"

	"github.com/romshark/iokring-go/shm"
)

var (
	ErrNoThreads           = errors.New("thread count must be >= 1")
	ErrTooManyThreads      = errors.New("thread count exceeds MaxThreads")
	ErrEgressPoolExhausted = errors.New("egress buffer pool exhausted")
)

// MaxThreads bounds the per-runtime execution thread count.
const MaxThreads = 512

// Config controls runtime <-> IOKernel bootstrap.
type Config struct {
	// Threads is the number of execution threads. Fixed for the process
	// lifetime; the region layout is computed from it.
	Threads int `yaml:"threads" envconfig:"IOK_THREADS"`
	// SocketPath overrides the IOKernel control socket path.
	SocketPath string `yaml:"socket-path" envconfig:"IOK_SOCKET_PATH"`
	// HugePages requests 2MB-page backing for both regions.
	HugePages bool `yaml:"huge-pages" envconfig:"IOK_HUGE_PAGES"`

	// mapRegion and dialControl let tests substitute the mapping
	// primitive and the control-channel dialer.
	mapRegion   func(key shm.Key, size uint64, huge bool) (*shm.Region, error)
	dialControl func(path string) (net.Conn, error)
}

func (c *Config) ValidateAndSetDefaults() error {
	if c.Threads < 1 {
		return ErrNoThreads
	}
	if c.Threads > MaxThreads {
		return ErrTooManyThreads
	}
	if c.SocketPath == "" {
		c.SocketPath = ControlSockPath
	}
	if c.mapRegion == nil {
		c.mapRegion = shm.Map
	}
	if c.dialControl == nil {
		c.dialControl = func(path string) (net.Conn, error) {
			return net.Dial("unix", path)
		}
	}
	return nil
}
