package wguser

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"

	"wg-ipc/wgtypes"
)

func TestWriteConfigFullRequest(t *testing.T) {
	priv := hexKey(t, devPriv)
	psk := hexKey(t, "188515093e952f5f22e865cef3012e72f8b5f0b598ac0309d5dacce3b70fcf52")
	port := 51820
	fwmark := 0
	keepalive := 10 * time.Second

	cfg := wgtypes.Config{
		PrivateKey:   &priv,
		ListenPort:   &port,
		FirewallMark: &fwmark,
		ReplacePeers: true,
		Peers: []wgtypes.PeerConfig{
			{
				PublicKey:    hexKey(t, peerPub),
				PresharedKey: &psk,
				Endpoint: &net.UDPAddr{
					IP:   net.ParseIP("2001:db8::1"),
					Port: 51821,
				},
				PersistentKeepaliveInterval: &keepalive,
				ReplaceAllowedIPs:           true,
				AllowedIPs: []net.IPNet{
					{IP: net.IP{10, 0, 0, 0}, Mask: net.CIDRMask(24, 32)},
					{IP: net.ParseIP("fd00::"), Mask: net.CIDRMask(64, 128)},
				},
			},
			{
				PublicKey: hexKey(t, peerPub2),
				Remove:    true,
				// Ignored after remove=true.
				UpdateOnly: true,
			},
		},
	}

	var buf bytes.Buffer
	writeConfig(&buf, cfg)

	want := strings.Join([]string{
		"set=1",
		"private_key=" + devPriv,
		"listen_port=51820",
		"fwmark=0",
		"replace_peers=true",
		"public_key=" + peerPub,
		"preshared_key=188515093e952f5f22e865cef3012e72f8b5f0b598ac0309d5dacce3b70fcf52",
		"endpoint=[2001:db8::1]:51821",
		"persistent_keepalive_interval=10",
		"replace_allowed_ips=true",
		"allowed_ip=10.0.0.0/24",
		"allowed_ip=fd00::/64",
		"public_key=" + peerPub2,
		"remove=true",
		"",
	}, "\n") + "\n"

	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("unexpected request (-want +got):\n%s", diff)
	}
}

func TestWriteConfigEmpty(t *testing.T) {
	var buf bytes.Buffer
	writeConfig(&buf, wgtypes.Config{})

	if got := buf.String(); got != "set=1\n\n" {
		t.Fatalf("unexpected request: %q", got)
	}
}

func TestWriteConfigIPv4Endpoint(t *testing.T) {
	var buf bytes.Buffer
	writeConfig(&buf, wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{
			PublicKey: hexKey(t, peerPub),
			Endpoint:  &net.UDPAddr{IP: net.IPv4(203, 0, 113, 4), Port: 1024},
		}},
	})

	if !strings.Contains(buf.String(), "endpoint=203.0.113.4:1024\n") {
		t.Fatalf("unexpected request: %q", buf.String())
	}
}

func TestParseSetResponse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{name: "ok", input: "errno=0\n\n", want: nil},
		{name: "eperm", input: "errno=1\n\n", want: unix.EPERM},
		{name: "negative errno", input: "errno=-22\n\n", want: unix.EINVAL},
		{name: "garbage", input: "cool=story\n\n", want: errProtocol},
		{name: "missing blank line", input: "errno=0\n", want: errProtocol},
		{name: "trailing garbage", input: "errno=0\nmore=1\n", want: errProtocol},
		{name: "empty", input: "", want: errProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseSetResponse(bufio.NewReader(strings.NewReader(tt.input)))
			if !errors.Is(err, tt.want) {
				t.Fatalf("unexpected error: got %v, want %v", err, tt.want)
			}
		})
	}
}
