//go:build linux

package wglinux

import (
	"fmt"
	"net"
	"time"
	"unsafe"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"

	"wg-ipc/wgtypes"
)

// parseDevice decodes the messages of a get dump into a Device.  The kernel
// may split one peer's allowed-ip list across messages, so adjacent peers
// with the same public key are coalesced once the full dump is decoded.
func parseDevice(msgs []genetlink.Message) (*wgtypes.Device, error) {
	d := &wgtypes.Device{Type: wgtypes.LinuxKernel}

	for _, m := range msgs {
		ad, err := netlink.NewAttributeDecoder(m.Data)
		if err != nil {
			return nil, err
		}

		for ad.Next() {
			switch ad.Type() {
			case deviceAIfindex:
				if b := ad.Bytes(); len(b) == 4 {
					d.Ifindex = int(nlenc.Uint32(b))
				}
			case deviceAIfname:
				d.Name = ad.String()
			case deviceAPrivateKey:
				parseKey(ad.Bytes(), &d.PrivateKey)
			case deviceAPublicKey:
				parseKey(ad.Bytes(), &d.PublicKey)
			case deviceAListenPort:
				if b := ad.Bytes(); len(b) == 2 {
					d.ListenPort = int(nlenc.Uint16(b))
				}
			case deviceAFlags:
				// Only meaningful on set requests.
			case deviceAFwmark:
				if b := ad.Bytes(); len(b) == 4 {
					d.FirewallMark = int(nlenc.Uint32(b))
				}
			case deviceAPeers:
				ad.Nested(func(nad *netlink.AttributeDecoder) error {
					// Netlink arrays use the type field as an index.
					for nad.Next() {
						p, err := parsePeer(nad)
						if err != nil {
							return err
						}
						d.Peers = append(d.Peers, p)
					}
					return nil
				})
			}
		}

		if err := ad.Err(); err != nil {
			return nil, err
		}
	}

	d.Peers = coalescePeers(d.Peers)
	return d, nil
}

// parsePeer decodes one element of the peers array.  Unrecognized attribute
// types and malformed fixed-size attributes are skipped rather than fatal,
// but a peer without a public key is a protocol error.
func parsePeer(ad *netlink.AttributeDecoder) (wgtypes.Peer, error) {
	var (
		p      wgtypes.Peer
		hasKey bool
	)

	ad.Nested(func(nad *netlink.AttributeDecoder) error {
		for nad.Next() {
			switch nad.Type() {
			case peerAPublicKey:
				if b := nad.Bytes(); len(b) == wgtypes.KeyLen {
					parseKey(b, &p.PublicKey)
					hasKey = true
				}
			case peerAPresharedKey:
				var psk wgtypes.Key
				parseKey(nad.Bytes(), &psk)
				// An all-zero key means no preshared key is configured.
				if !psk.IsZero() {
					p.PresharedKey = psk
				}
			case peerAEndpoint:
				p.Endpoint = parseSockaddr(nad.Bytes())
			case peerAPersistentKeepaliveInterval:
				if b := nad.Bytes(); len(b) == 2 {
					p.PersistentKeepaliveInterval = time.Duration(nlenc.Uint16(b)) * time.Second
				}
			case peerALastHandshakeTime:
				p.LastHandshakeTime = parseTimespec(nad.Bytes())
			case peerARxBytes:
				if b := nad.Bytes(); len(b) == 8 {
					p.ReceiveBytes = int64(nlenc.Uint64(b))
				}
			case peerATxBytes:
				if b := nad.Bytes(); len(b) == 8 {
					p.TransmitBytes = int64(nlenc.Uint64(b))
				}
			case peerAProtocolVersion:
				if b := nad.Bytes(); len(b) == 4 {
					p.ProtocolVersion = int(nlenc.Uint32(b))
				}
			case peerAAllowedips:
				if err := parseAllowedIPs(nad, &p); err != nil {
					return err
				}
			}
		}
		return nil
	})
	// Closure errors accumulate on the decoder.
	if err := ad.Err(); err != nil {
		return wgtypes.Peer{}, err
	}
	if !hasKey {
		return wgtypes.Peer{}, fmt.Errorf("wglinux: peer returned without a public key")
	}

	return p, nil
}

// parseAllowedIPs decodes the allowed-ips array nested under a peer.  A
// record with an unknown family or an out-of-range prefix is rejected,
// never clamped.
func parseAllowedIPs(ad *netlink.AttributeDecoder, p *wgtypes.Peer) error {
	ad.Nested(func(nad *netlink.AttributeDecoder) error {
		for nad.Next() {
			var (
				family int
				addr   []byte
				cidr   = -1
			)

			nad.Nested(func(nnad *netlink.AttributeDecoder) error {
				for nnad.Next() {
					switch nnad.Type() {
					case allowedipAFamily:
						if b := nnad.Bytes(); len(b) == 2 {
							family = int(nlenc.Uint16(b))
						}
					case allowedipAIpaddr:
						if b := nnad.Bytes(); len(b) == net.IPv4len || len(b) == net.IPv6len {
							addr = append([]byte(nil), b...)
						}
					case allowedipACidrMask:
						if b := nnad.Bytes(); len(b) == 1 {
							cidr = int(b[0])
						}
					}
				}
				return nil
			})
			if err := nad.Err(); err != nil {
				return err
			}

			ipn, err := allowedIP(family, addr, cidr)
			if err != nil {
				return err
			}
			p.AllowedIPs = append(p.AllowedIPs, ipn)
		}
		return nil
	})
	return ad.Err()
}

// allowedIP validates a decoded family/address/prefix triple.
func allowedIP(family int, addr []byte, cidr int) (net.IPNet, error) {
	switch family {
	case unix.AF_INET:
		if len(addr) != net.IPv4len || cidr < 0 || cidr > 32 {
			return net.IPNet{}, fmt.Errorf("wglinux: invalid IPv4 allowed ip: addr %d bytes, cidr %d", len(addr), cidr)
		}
		return net.IPNet{IP: net.IP(addr), Mask: net.CIDRMask(cidr, 32)}, nil
	case unix.AF_INET6:
		if len(addr) != net.IPv6len || cidr < 0 || cidr > 128 {
			return net.IPNet{}, fmt.Errorf("wglinux: invalid IPv6 allowed ip: addr %d bytes, cidr %d", len(addr), cidr)
		}
		return net.IPNet{IP: net.IP(addr), Mask: net.CIDRMask(cidr, 128)}, nil
	default:
		return net.IPNet{}, fmt.Errorf("wglinux: invalid allowed ip address family: %d", family)
	}
}

// parseKey copies b into key when it has the exact key length; anything
// else is skipped.
func parseKey(b []byte, key *wgtypes.Key) {
	if len(b) == wgtypes.KeyLen {
		copy(key[:], b)
	}
}

// parseSockaddr decodes a raw sockaddr_in or sockaddr_in6.  Any other size
// or family is skipped, leaving the endpoint absent.
func parseSockaddr(b []byte) *net.UDPAddr {
	switch len(b) {
	case unix.SizeofSockaddrInet4:
		sa := (*unix.RawSockaddrInet4)(unsafe.Pointer(&b[0]))
		if sa.Family != unix.AF_INET {
			return nil
		}
		return &net.UDPAddr{
			IP:   net.IP(append([]byte(nil), sa.Addr[:]...)),
			Port: sockaddrPortToInt(sa.Port),
		}
	case unix.SizeofSockaddrInet6:
		sa := (*unix.RawSockaddrInet6)(unsafe.Pointer(&b[0]))
		if sa.Family != unix.AF_INET6 {
			return nil
		}
		return &net.UDPAddr{
			IP:   net.IP(append([]byte(nil), sa.Addr[:]...)),
			Port: sockaddrPortToInt(sa.Port),
		}
	default:
		return nil
	}
}

// parseTimespec decodes a kernel __kernel_timespec.  A zero timespec keeps
// the zero time.Time, meaning no handshake has happened.
func parseTimespec(b []byte) time.Time {
	if len(b) != 16 {
		return time.Time{}
	}

	sec := int64(nlenc.Uint64(b[0:8]))
	nsec := int64(nlenc.Uint64(b[8:16]))

	if sec == 0 && nsec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, nsec)
}

// coalescePeers merges each run of adjacent peers that share a public key
// into its first member, concatenating their allowed-ip lists in order.
// Running it again on its own output changes nothing.
func coalescePeers(peers []wgtypes.Peer) []wgtypes.Peer {
	if len(peers) == 0 {
		return peers
	}

	out := peers[:1]
	for _, p := range peers[1:] {
		last := &out[len(out)-1]
		if p.PublicKey == last.PublicKey {
			last.AllowedIPs = append(last.AllowedIPs, p.AllowedIPs...)
			continue
		}
		out = append(out, p)
	}

	return out
}
