package wguser

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"wg-ipc/wgtypes"
)

// ConfigureDevice applies cfg to the userspace device called name.
func (c *Client) ConfigureDevice(name string, cfg wgtypes.Config) error {
	conn, err := c.connect(name)
	if err != nil {
		return err
	}
	defer conn.Close()

	w := bufio.NewWriter(conn)
	writeConfig(w, cfg)
	if err := w.Flush(); err != nil {
		return err
	}

	return parseSetResponse(bufio.NewReader(conn))
}

// writeConfig renders cfg as a set=1 request.  Write errors are sticky in
// the buffered writer and surface when the caller flushes.
func writeConfig(w io.Writer, cfg wgtypes.Config) {
	io.WriteString(w, "set=1\n")

	if cfg.PrivateKey != nil {
		fmt.Fprintf(w, "private_key=%s\n", cfg.PrivateKey.HexString())
	}
	if cfg.ListenPort != nil {
		fmt.Fprintf(w, "listen_port=%d\n", *cfg.ListenPort)
	}
	if cfg.FirewallMark != nil {
		fmt.Fprintf(w, "fwmark=%d\n", *cfg.FirewallMark)
	}
	if cfg.ReplacePeers {
		io.WriteString(w, "replace_peers=true\n")
	}

	for _, p := range cfg.Peers {
		fmt.Fprintf(w, "public_key=%s\n", p.PublicKey.HexString())
		if p.Remove {
			// Removal needs nothing but the key.
			io.WriteString(w, "remove=true\n")
			continue
		}
		if p.UpdateOnly {
			io.WriteString(w, "update_only=true\n")
		}
		if p.PresharedKey != nil {
			fmt.Fprintf(w, "preshared_key=%s\n", p.PresharedKey.HexString())
		}
		if p.Endpoint != nil {
			fmt.Fprintf(w, "endpoint=%s\n", endpointString(p.Endpoint))
		}
		if p.PersistentKeepaliveInterval != nil {
			fmt.Fprintf(w, "persistent_keepalive_interval=%d\n", int(p.PersistentKeepaliveInterval.Seconds()))
		}
		if p.ReplaceAllowedIPs {
			io.WriteString(w, "replace_allowed_ips=true\n")
		}
		for _, ipn := range p.AllowedIPs {
			if ipn.IP.To16() == nil {
				continue
			}
			ones, _ := ipn.Mask.Size()
			fmt.Fprintf(w, "allowed_ip=%s/%d\n", ipn.IP.String(), ones)
		}
	}

	io.WriteString(w, "\n")
}

// endpointString renders an endpoint as host:port, bracketing the host when
// it is an IPv6 literal containing colons.
func endpointString(ep *net.UDPAddr) string {
	host := ep.IP.String()
	if ep.IP.To4() == nil && strings.Contains(host, ":") {
		return fmt.Sprintf("[%s]:%d", host, ep.Port)
	}
	return fmt.Sprintf("%s:%d", host, ep.Port)
}

// parseSetResponse reads the response to a set=1 request, which must be
// exactly an errno record followed by a blank line.
func parseSetResponse(r *bufio.Reader) error {
	line, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("%w: unterminated response", errProtocol)
	}

	value, ok := strings.CutPrefix(strings.TrimSuffix(line, "\n"), "errno=")
	if !ok {
		return fmt.Errorf("%w: unexpected response %q", errProtocol, strings.TrimSuffix(line, "\n"))
	}

	status, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		return fmt.Errorf("%w: invalid errno value %q", errProtocol, value)
	}

	if blank, err := r.ReadString('\n'); err != nil || blank != "\n" {
		return fmt.Errorf("%w: response not closed by blank line", errProtocol)
	}

	if status == 0 {
		return nil
	}
	if status < 0 {
		status = -status
	}
	return fmt.Errorf("wguser: device returned error: %w", unix.Errno(status))
}
