//go:build linux

package ioq

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"unsafe"

	"github.com/romshark/iokring-go/shm"
)

// GenerateMAC returns a random locally-administered, non-multicast
// hardware address read from the OS entropy source. Failure to obtain
// enough entropy is fatal to setup.
func GenerateMAC() (EthAddr, error) {
	var mac EthAddr
	if _, err := io.ReadFull(rand.Reader, mac[:]); err != nil {
		return EthAddr{}, fmt.Errorf("reading entropy: %w", err)
	}
	mac[0] &^= ethAddrGroup
	mac[0] |= ethAddrLocalAdmin
	return mac, nil
}

// The identity must be at least as wide as the key derived from it.
const _ uint = uint(unsafe.Sizeof(EthAddr{})) - uint(unsafe.Sizeof(shm.Key(0)))

// keyFromMAC derives the control/egress region key from the runtime
// identity, reinterpreting its leading bytes in host order exactly as
// the IOKernel does.
func keyFromMAC(mac EthAddr) shm.Key {
	return shm.Key(binary.NativeEndian.Uint32(mac[:4]))
}

func (a EthAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		a[0], a[1], a[2], a[3], a[4], a[5])
}
