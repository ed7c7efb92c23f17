//go:build linux

package capture

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Tap is a raw AF_PACKET socket bound to one interface. It delivers every
// Ethernet frame seen on the interface, which the caller demultiplexes with
// Demux.
type Tap struct {
	fd      int
	ifName  string
	bufSize int
}

// OpenTap opens a raw packet socket on the named interface. Requires
// CAP_NET_RAW.
func OpenTap(ifName string) (*Tap, error) {
	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("lookup interface %s: %w", ifName, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("open packet socket: %w", err)
	}
	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind packet socket to %s: %w", ifName, err)
	}

	return &Tap{fd: fd, ifName: ifName, bufSize: 65536}, nil
}

// Read blocks until the next frame arrives and returns a copy of it.
func (t *Tap) Read() ([]byte, error) {
	buf := make([]byte, t.bufSize)
	n, _, err := unix.Recvfrom(t.fd, buf, 0)
	if err != nil {
		return nil, fmt.Errorf("read from %s: %w", t.ifName, err)
	}
	return buf[:n], nil
}

// Close releases the socket. A blocked Read returns with an error.
func (t *Tap) Close() error {
	return unix.Close(t.fd)
}

func (t *Tap) Interface() string { return t.ifName }

func htons(v int) uint16 {
	return uint16(v)<<8 | uint16(v)>>8
}
