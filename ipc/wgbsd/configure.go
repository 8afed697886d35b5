//go:build openbsd

package wgbsd

import (
	"fmt"
	"net"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"wg-ipc/wgtypes"
)

// marshalConfig serializes cfg into one flat set buffer.  The exact size
// is known up front from the peer and allowed-ip counts, so the buffer is
// allocated once and filled in place.
func marshalConfig(cfg wgtypes.Config) ([]byte, error) {
	size := sizeofInterfaceIO
	for _, p := range cfg.Peers {
		size += sizeofPeerIO + len(p.AllowedIPs)*sizeofAIPIO
	}
	buf := make([]byte, size)

	ifio := (*wgInterfaceIO)(unsafe.Pointer(&buf[0]))
	if cfg.PrivateKey != nil {
		ifio.Private = *cfg.PrivateKey
		ifio.Flags |= interfaceHasPrivate
	}
	if cfg.ListenPort != nil {
		ifio.Port = uint16(*cfg.ListenPort)
		ifio.Flags |= interfaceHasPort
	}
	if cfg.FirewallMark != nil {
		ifio.Rtable = int32(*cfg.FirewallMark)
		ifio.Flags |= interfaceHasRtable
	}
	if cfg.ReplacePeers {
		ifio.Flags |= interfaceReplacePeers
	}
	ifio.PeersCount = uint64(len(cfg.Peers))

	off := sizeofInterfaceIO
	for _, p := range cfg.Peers {
		pio := (*wgPeerIO)(unsafe.Pointer(&buf[off]))
		off += sizeofPeerIO

		pio.Flags = peerHasPublic
		pio.Public = p.PublicKey
		if p.PresharedKey != nil {
			pio.PSK = *p.PresharedKey
			pio.Flags |= peerHasPSK
		}
		if p.PersistentKeepaliveInterval != nil {
			pio.PKA = uint16(*p.PersistentKeepaliveInterval / time.Second)
			pio.Flags |= peerHasPKA
		}
		if p.Endpoint != nil {
			if err := packEndpoint(&pio.Endpoint, p.Endpoint); err != nil {
				return nil, err
			}
			pio.Flags |= peerHasEndpoint
		}
		if p.ReplaceAllowedIPs {
			pio.Flags |= peerReplaceAIPs
		}
		if p.Remove {
			pio.Flags |= peerRemove
		}
		pio.AIPCount = uint64(len(p.AllowedIPs))

		for _, ipn := range p.AllowedIPs {
			aip := (*wgAIPIO)(unsafe.Pointer(&buf[off]))
			off += sizeofAIPIO
			if err := packAllowedIP(aip, ipn); err != nil {
				return nil, err
			}
		}
	}

	return buf, nil
}

// packEndpoint stores ep as a raw sockaddr_in or sockaddr_in6.
func packEndpoint(dst *[unix.SizeofSockaddrInet6]byte, ep *net.UDPAddr) error {
	if ip4 := ep.IP.To4(); ip4 != nil {
		sa := unix.RawSockaddrInet4{
			Len:    unix.SizeofSockaddrInet4,
			Family: unix.AF_INET,
			Port:   sockaddrPort(ep.Port),
		}
		copy(sa.Addr[:], ip4)
		*(*unix.RawSockaddrInet4)(unsafe.Pointer(dst)) = sa
		return nil
	}
	if ip6 := ep.IP.To16(); ip6 != nil {
		sa := unix.RawSockaddrInet6{
			Len:    unix.SizeofSockaddrInet6,
			Family: unix.AF_INET6,
			Port:   sockaddrPort(ep.Port),
		}
		copy(sa.Addr[:], ip6)
		*(*unix.RawSockaddrInet6)(unsafe.Pointer(dst)) = sa
		return nil
	}
	return fmt.Errorf("wgbsd: invalid endpoint IP: %s", ep.IP)
}

// packAllowedIP stores ipn as one allowed-ip record.
func packAllowedIP(dst *wgAIPIO, ipn net.IPNet) error {
	ones, bits := ipn.Mask.Size()
	switch {
	case bits == 32 && ipn.IP.To4() != nil:
		dst.Af = unix.AF_INET
		dst.CIDR = int32(ones)
		copy(dst.Addr[:], ipn.IP.To4())
		return nil
	case bits == 128 && ipn.IP.To16() != nil:
		dst.Af = unix.AF_INET6
		dst.CIDR = int32(ones)
		copy(dst.Addr[:], ipn.IP.To16())
		return nil
	default:
		return fmt.Errorf("wgbsd: invalid allowed ip: %s", ipn.String())
	}
}

// sockaddrPort stores port in the byte order the kernel expects for
// sin_port and sin6_port.
func sockaddrPort(port int) uint16 {
	b := [2]byte{byte(port >> 8), byte(port)}
	return *(*uint16)(unsafe.Pointer(&b[0]))
}

// sockaddrPortToInt is the inverse of sockaddrPort.
func sockaddrPortToInt(port uint16) int {
	b := *(*[2]byte)(unsafe.Pointer(&port))
	return int(b[0])<<8 | int(b[1])
}
