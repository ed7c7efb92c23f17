// Package capture ingests MAVLink traffic from a link-layer tap instead of
// bound UDP sockets, for deployments where the proxy sits on a mirrored or
// bridged segment rather than in the addressing path.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

var (
	ErrFrameTooShort = errors.New("ethernet frame too short")
	ErrNotIPv4       = errors.New("not an ipv4 packet")
	ErrNotUDP        = errors.New("not a udp segment")
)

const (
	etherHeaderLen = 14
	etherTypeIPv4  = 0x0800
	protoUDP       = 17
	udpHeaderLen   = 8
)

// LinkInfo describes where a demultiplexed datagram came from on the wire.
type LinkInfo struct {
	SrcMAC  net.HardwareAddr
	DstMAC  net.HardwareAddr
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
}

func (l LinkInfo) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d", l.SrcIP, l.SrcPort, l.DstIP, l.DstPort)
}

// Demux peels the Ethernet II, IPv4 and UDP headers off a captured frame and
// returns the UDP payload with its addressing. Frames that are not IPv4/UDP,
// or that are too short for the headers they claim, are rejected with an
// error describing the layer that failed.
func Demux(frame []byte) ([]byte, *LinkInfo, error) {
	if len(frame) < etherHeaderLen {
		return nil, nil, ErrFrameTooShort
	}
	etherType := binary.BigEndian.Uint16(frame[12:14])
	if etherType != etherTypeIPv4 {
		return nil, nil, fmt.Errorf("%w: ether type 0x%04X", ErrNotIPv4, etherType)
	}

	ip := frame[etherHeaderLen:]
	if len(ip) < 20 {
		return nil, nil, fmt.Errorf("%w: truncated header", ErrNotIPv4)
	}
	if ip[0]>>4 != 4 {
		return nil, nil, fmt.Errorf("%w: version %d", ErrNotIPv4, ip[0]>>4)
	}
	ihl := int(ip[0]&0x0F) * 4
	if ihl < 20 || len(ip) < ihl {
		return nil, nil, fmt.Errorf("%w: ihl %d", ErrNotIPv4, ihl)
	}
	if ip[9] != protoUDP {
		return nil, nil, fmt.Errorf("%w: protocol %d", ErrNotUDP, ip[9])
	}

	udp := ip[ihl:]
	if len(udp) < udpHeaderLen {
		return nil, nil, fmt.Errorf("%w: truncated header", ErrNotUDP)
	}
	udpLen := int(binary.BigEndian.Uint16(udp[4:6]))
	if udpLen < udpHeaderLen || udpLen > len(udp) {
		return nil, nil, fmt.Errorf("%w: length %d exceeds segment (%d)", ErrNotUDP, udpLen, len(udp))
	}

	info := &LinkInfo{
		SrcMAC:  net.HardwareAddr(append([]byte(nil), frame[6:12]...)),
		DstMAC:  net.HardwareAddr(append([]byte(nil), frame[0:6]...)),
		SrcIP:   net.IP(append([]byte(nil), ip[12:16]...)),
		DstIP:   net.IP(append([]byte(nil), ip[16:20]...)),
		SrcPort: binary.BigEndian.Uint16(udp[0:2]),
		DstPort: binary.BigEndian.Uint16(udp[2:4]),
	}
	return udp[udpHeaderLen:udpLen], info, nil
}
