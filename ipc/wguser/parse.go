package wguser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"wg-ipc/wgtypes"
)

// errProtocol indicates a response that violates the configuration protocol
// grammar.  The operation that hit it is aborted and no partial device is
// returned.
var errProtocol = errors.New("wguser: protocol violation")

// Device retrieves the full state of the userspace device called name.
func (c *Client) Device(name string) (*wgtypes.Device, error) {
	conn, err := c.connect(name)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, "get=1\n\n"); err != nil {
		return nil, err
	}

	return parseGetResponse(bufio.NewReader(conn), name)
}

// A getParser accumulates key=value records into a Device.  Device-scoped
// keys are only accepted before the first public_key record; after that,
// records attach to the peer most recently started.
type getParser struct {
	d      *wgtypes.Device
	peer   *wgtypes.Peer
	hsSec  int64
	hsNsec int64
}

// parseGetResponse decodes the response to a get=1 request.  The stream is a
// run of key=value lines closed by one blank line; an errno=0 record must
// appear before the blank line for the response to be a success.
func parseGetResponse(r *bufio.Reader, name string) (*wgtypes.Device, error) {
	p := getParser{d: &wgtypes.Device{
		Name: name,
		Type: wgtypes.Userspace,
	}}

	// No errno record seen yet.
	status := -1

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			// EOF or a line missing its terminator before the response was
			// closed by a blank line.
			return nil, fmt.Errorf("%w: unterminated response", errProtocol)
		}
		if line == "\n" {
			switch {
			case status == 0:
				p.flushPeer()
				return p.d, nil
			case status > 0:
				return nil, fmt.Errorf("wguser: device returned error: %w", unix.Errno(status))
			default:
				return nil, fmt.Errorf("%w: response ended without errno", errProtocol)
			}
		}

		key, value, ok := strings.Cut(strings.TrimSuffix(line, "\n"), "=")
		if !ok {
			return nil, fmt.Errorf("%w: malformed line %q", errProtocol, strings.TrimSuffix(line, "\n"))
		}

		if key == "errno" {
			v, err := parseNum(value, 31)
			if err != nil {
				return nil, err
			}
			status = int(v)
			continue
		}

		if err := p.record(key, value); err != nil {
			return nil, err
		}
	}
}

// record applies one key=value record.  Keys that are unknown, or that are
// scoped to a section the stream is no longer in, are ignored; this matches
// the protocol's forward-compatibility contract.
func (p *getParser) record(key, value string) error {
	switch key {
	case "private_key":
		if p.peer != nil {
			return nil
		}
		k, err := wgtypes.ParseHexKey(value)
		if err != nil {
			return fmt.Errorf("%w: %v", errProtocol, err)
		}
		p.d.PrivateKey = k
		p.d.PublicKey = k.PublicKey()
	case "listen_port":
		if p.peer != nil {
			return nil
		}
		v, err := parseNum(value, 16)
		if err != nil {
			return err
		}
		p.d.ListenPort = int(v)
	case "fwmark":
		if p.peer != nil {
			return nil
		}
		v, err := parseNum(value, 32)
		if err != nil {
			return err
		}
		p.d.FirewallMark = int(v)
	case "public_key":
		k, err := wgtypes.ParseHexKey(value)
		if err != nil {
			return fmt.Errorf("%w: %v", errProtocol, err)
		}
		p.flushPeer()
		p.d.Peers = append(p.d.Peers, wgtypes.Peer{PublicKey: k})
		p.peer = &p.d.Peers[len(p.d.Peers)-1]
	case "preshared_key":
		if p.peer == nil {
			return nil
		}
		k, err := wgtypes.ParseHexKey(value)
		if err != nil {
			return fmt.Errorf("%w: %v", errProtocol, err)
		}
		// An all-zero key means no preshared key is configured.
		if !k.IsZero() {
			p.peer.PresharedKey = k
		}
	case "endpoint":
		if p.peer == nil {
			return nil
		}
		ep, err := parseEndpoint(value)
		if err != nil {
			return err
		}
		p.peer.Endpoint = ep
	case "persistent_keepalive_interval":
		if p.peer == nil {
			return nil
		}
		v, err := parseNum(value, 16)
		if err != nil {
			return err
		}
		p.peer.PersistentKeepaliveInterval = time.Duration(v) * time.Second
	case "allowed_ip":
		if p.peer == nil {
			return nil
		}
		ipn, err := parseAllowedIP(value)
		if err != nil {
			return err
		}
		p.peer.AllowedIPs = append(p.peer.AllowedIPs, ipn)
	case "last_handshake_time_sec":
		if p.peer == nil {
			return nil
		}
		v, err := parseNum(value, 63)
		if err != nil {
			return err
		}
		p.hsSec = int64(v)
	case "last_handshake_time_nsec":
		if p.peer == nil {
			return nil
		}
		v, err := parseNum(value, 63)
		if err != nil {
			return err
		}
		p.hsNsec = int64(v)
	case "rx_bytes":
		if p.peer == nil {
			return nil
		}
		v, err := parseNum(value, 64)
		if err != nil {
			return err
		}
		p.peer.ReceiveBytes = int64(v)
	case "tx_bytes":
		if p.peer == nil {
			return nil
		}
		v, err := parseNum(value, 64)
		if err != nil {
			return err
		}
		p.peer.TransmitBytes = int64(v)
	case "protocol_version":
		if p.peer == nil {
			return nil
		}
		v, err := parseNum(value, 32)
		if err != nil {
			return err
		}
		p.peer.ProtocolVersion = int(v)
	}

	return nil
}

// flushPeer finalizes the handshake timestamp of the peer being assembled.
// A peer that never reported a handshake keeps the zero time.Time.
func (p *getParser) flushPeer() {
	if p.peer != nil && (p.hsSec != 0 || p.hsNsec != 0) {
		p.peer.LastHandshakeTime = time.Unix(p.hsSec, p.hsNsec)
	}
	p.hsSec, p.hsNsec = 0, 0
}

// parseNum parses an unsigned decimal value of at most bits bits.  Signs,
// whitespace, and other bases are rejected, and the entire value must be
// consumed.
func parseNum(value string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(value, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid numeric value %q", errProtocol, value)
	}
	return v, nil
}

// parseEndpoint parses a host:port endpoint, with the host bracketed when
// it is an IPv6 literal.  Only numeric IPv4 and IPv6 hosts are accepted:
// a device renders its endpoints from resolved socket addresses, so a
// hostname in a get response can only mean a broken device, and resolving
// it here would turn a read into a DNS lookup.
func parseEndpoint(value string) (*net.UDPAddr, error) {
	host, port, err := net.SplitHostPort(value)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed endpoint %q", errProtocol, value)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("%w: malformed endpoint host %q", errProtocol, host)
	}
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}

	p, err := parseNum(port, 16)
	if err != nil {
		return nil, err
	}

	return &net.UDPAddr{IP: ip, Port: int(p)}, nil
}

// parseAllowedIP parses an address/cidr pair, enforcing the per-family
// prefix length limit.  Out-of-range prefixes are rejected, never clamped.
func parseAllowedIP(value string) (net.IPNet, error) {
	ipStr, cidrStr, ok := strings.Cut(value, "/")
	if !ok {
		return net.IPNet{}, fmt.Errorf("%w: malformed allowed_ip %q", errProtocol, value)
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return net.IPNet{}, fmt.Errorf("%w: malformed allowed_ip address %q", errProtocol, ipStr)
	}

	cidr, err := parseNum(cidrStr, 8)
	if err != nil {
		return net.IPNet{}, err
	}

	if ip4 := ip.To4(); ip4 != nil {
		if cidr > 32 {
			return net.IPNet{}, fmt.Errorf("%w: IPv4 prefix length %d out of range", errProtocol, cidr)
		}
		return net.IPNet{IP: ip4, Mask: net.CIDRMask(int(cidr), 32)}, nil
	}

	if cidr > 128 {
		return net.IPNet{}, fmt.Errorf("%w: IPv6 prefix length %d out of range", errProtocol, cidr)
	}
	return net.IPNet{IP: ip, Mask: net.CIDRMask(int(cidr), 128)}, nil
}
