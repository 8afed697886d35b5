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

// parseInterface decodes the flat get buffer: one wgInterfaceIO header,
// then a run of wgPeerIO records, each immediately followed by its own
// wgAIPIO records.  The declared counts drive the walk, so every step is
// bounds-checked against the buffer.
func parseInterface(name string, buf []byte) (*wgtypes.Device, error) {
	if len(buf) < sizeofInterfaceIO {
		return nil, fmt.Errorf("wgbsd: interface buffer too short: %d bytes", len(buf))
	}
	ifio := (*wgInterfaceIO)(unsafe.Pointer(&buf[0]))

	d := &wgtypes.Device{
		Name: name,
		Type: wgtypes.OpenBSDKernel,
	}
	if ifio.Flags&interfaceHasPort != 0 {
		d.ListenPort = int(ifio.Port)
	}
	if ifio.Flags&interfaceHasRtable != 0 {
		d.FirewallMark = int(ifio.Rtable)
	}
	if ifio.Flags&interfaceHasPublic != 0 {
		copy(d.PublicKey[:], ifio.Public[:])
	}
	if ifio.Flags&interfaceHasPrivate != 0 {
		copy(d.PrivateKey[:], ifio.Private[:])
	}

	off := sizeofInterfaceIO
	for i := uint64(0); i < ifio.PeersCount; i++ {
		if len(buf)-off < sizeofPeerIO {
			return nil, fmt.Errorf("wgbsd: truncated peer %d at offset %d", i, off)
		}
		pio := (*wgPeerIO)(unsafe.Pointer(&buf[off]))
		off += sizeofPeerIO

		p := wgtypes.Peer{
			ProtocolVersion: int(pio.Protocol),
			ReceiveBytes:    int64(pio.RxBytes),
			TransmitBytes:   int64(pio.TxBytes),
		}
		if pio.Flags&peerHasPublic != 0 {
			copy(p.PublicKey[:], pio.Public[:])
		}
		if pio.Flags&peerHasPSK != 0 {
			copy(p.PresharedKey[:], pio.PSK[:])
		}
		if pio.Flags&peerHasPKA != 0 {
			p.PersistentKeepaliveInterval = time.Duration(pio.PKA) * time.Second
		}
		if pio.Flags&peerHasEndpoint != 0 {
			p.Endpoint = parseEndpoint(&pio.Endpoint)
		}
		if pio.LastHandshake.Sec != 0 || pio.LastHandshake.Nsec != 0 {
			p.LastHandshakeTime = time.Unix(pio.LastHandshake.Sec, pio.LastHandshake.Nsec)
		}

		for j := uint64(0); j < pio.AIPCount; j++ {
			if len(buf)-off < sizeofAIPIO {
				return nil, fmt.Errorf("wgbsd: truncated allowed ip %d of peer %d at offset %d", j, i, off)
			}
			aip := (*wgAIPIO)(unsafe.Pointer(&buf[off]))
			off += sizeofAIPIO

			ipn, err := allowedIP(aip)
			if err != nil {
				return nil, err
			}
			p.AllowedIPs = append(p.AllowedIPs, ipn)
		}

		d.Peers = append(d.Peers, p)
	}

	return d, nil
}

// allowedIP validates one decoded allowed-ip record.
func allowedIP(aip *wgAIPIO) (net.IPNet, error) {
	switch aip.Af {
	case unix.AF_INET:
		if aip.CIDR < 0 || aip.CIDR > 32 {
			return net.IPNet{}, fmt.Errorf("wgbsd: invalid IPv4 allowed ip cidr: %d", aip.CIDR)
		}
		return net.IPNet{
			IP:   append(net.IP(nil), aip.Addr[:net.IPv4len]...),
			Mask: net.CIDRMask(int(aip.CIDR), 32),
		}, nil
	case unix.AF_INET6:
		if aip.CIDR < 0 || aip.CIDR > 128 {
			return net.IPNet{}, fmt.Errorf("wgbsd: invalid IPv6 allowed ip cidr: %d", aip.CIDR)
		}
		return net.IPNet{
			IP:   append(net.IP(nil), aip.Addr[:]...),
			Mask: net.CIDRMask(int(aip.CIDR), 128),
		}, nil
	default:
		return net.IPNet{}, fmt.Errorf("wgbsd: invalid allowed ip address family: %d", aip.Af)
	}
}

// parseEndpoint decodes the raw sockaddr_in or sockaddr_in6 stored in a
// peer record.  An unknown family leaves the endpoint absent.
func parseEndpoint(b *[unix.SizeofSockaddrInet6]byte) *net.UDPAddr {
	switch b[1] {
	case unix.AF_INET:
		sa := (*unix.RawSockaddrInet4)(unsafe.Pointer(b))
		return &net.UDPAddr{
			IP:   append(net.IP(nil), sa.Addr[:]...),
			Port: sockaddrPortToInt(sa.Port),
		}
	case unix.AF_INET6:
		sa := (*unix.RawSockaddrInet6)(unsafe.Pointer(b))
		return &net.UDPAddr{
			IP:   append(net.IP(nil), sa.Addr[:]...),
			Port: sockaddrPortToInt(sa.Port),
		}
	default:
		return nil
	}
}
