//go:build linux

package wglinux

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"wg-ipc/wgtypes"
)

func mustKey(t *testing.T) wgtypes.Key {
	t.Helper()
	k, err := wgtypes.GenerateKey()
	require.NoError(t, err)
	return k
}

func ipv4Net(t *testing.T, i int) net.IPNet {
	t.Helper()
	_, ipn, err := net.ParseCIDR(fmt.Sprintf("10.%d.%d.0/24", i/256, i%256))
	require.NoError(t, err)
	return *ipn
}

func TestBuildBatchesSmallPassthrough(t *testing.T) {
	priv := mustKey(t)
	cfg := wgtypes.Config{
		PrivateKey:   &priv,
		ReplacePeers: true,
		Peers: []wgtypes.PeerConfig{{
			PublicKey:  mustKey(t),
			AllowedIPs: []net.IPNet{ipv4Net(t, 0)},
		}},
	}

	batches := buildBatches(cfg)
	require.Len(t, batches, 1)
	if diff := cmp.Diff(cfg, batches[0]); diff != "" {
		t.Fatalf("small config must pass through unchanged (-want +got):\n%s", diff)
	}
}

func TestBuildBatchesSplitsLargeConfig(t *testing.T) {
	var (
		priv      = mustKey(t)
		psk       = mustKey(t)
		port      = 51820
		fwmark    = 52
		keepalive = 25 * time.Second

		bigPeer    = mustKey(t)
		smallPeer  = mustKey(t)
		removePeer = mustKey(t)
	)

	// One peer with enough allowed IPs to need several messages on its own.
	bigIPs := make([]net.IPNet, 2*ipBatchChunk+1)
	for i := range bigIPs {
		bigIPs[i] = ipv4Net(t, i)
	}

	cfg := wgtypes.Config{
		PrivateKey:   &priv,
		ListenPort:   &port,
		FirewallMark: &fwmark,
		ReplacePeers: true,
		Peers: []wgtypes.PeerConfig{
			{
				PublicKey:                   bigPeer,
				PresharedKey:                &psk,
				Endpoint:                    &net.UDPAddr{IP: net.IPv4(203, 0, 113, 1), Port: 1111},
				PersistentKeepaliveInterval: &keepalive,
				ReplaceAllowedIPs:           true,
				AllowedIPs:                  bigIPs,
			},
			{
				PublicKey:  smallPeer,
				AllowedIPs: []net.IPNet{ipv4Net(t, 1000)},
			},
			{
				PublicKey: removePeer,
				Remove:    true,
			},
		},
	}

	batches := buildBatches(cfg)
	require.GreaterOrEqual(t, len(batches), 2)

	// Device-level attributes only appear in the first message.
	require.NotNil(t, batches[0].PrivateKey)
	require.True(t, batches[0].ReplacePeers)
	for i, b := range batches[1:] {
		require.Nil(t, b.PrivateKey, "batch %d", i+1)
		require.Nil(t, b.ListenPort, "batch %d", i+1)
		require.Nil(t, b.FirewallMark, "batch %d", i+1)
		require.False(t, b.ReplacePeers, "batch %d", i+1)
	}

	// Concatenating the batches must reconstruct the original request with
	// every allowed IP exactly once and the one-shot peer fields only on a
	// peer's first occurrence.
	var (
		gotIPs     = make(map[wgtypes.Key][]net.IPNet)
		firstOnly  = make(map[wgtypes.Key]int)
		gotRemoves = make(map[wgtypes.Key]bool)
	)
	for _, b := range batches {
		for _, p := range b.Peers {
			gotIPs[p.PublicKey] = append(gotIPs[p.PublicKey], p.AllowedIPs...)
			if p.PresharedKey != nil || p.Endpoint != nil || p.PersistentKeepaliveInterval != nil || p.ReplaceAllowedIPs {
				firstOnly[p.PublicKey]++
			}
			if p.Remove {
				gotRemoves[p.PublicKey] = true
			}
		}
	}

	if diff := cmp.Diff(bigIPs, gotIPs[bigPeer]); diff != "" {
		t.Fatalf("allowed IPs not reconstructed exactly once (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(cfg.Peers[1].AllowedIPs, gotIPs[smallPeer]); diff != "" {
		t.Fatalf("unexpected small peer allowed IPs (-want +got):\n%s", diff)
	}
	require.Equal(t, 1, firstOnly[bigPeer], "one-shot peer fields must appear exactly once")
	require.Zero(t, firstOnly[smallPeer])
	require.True(t, gotRemoves[removePeer])
	require.False(t, gotRemoves[bigPeer])
}

func TestShouldBatch(t *testing.T) {
	require.False(t, shouldBatch(wgtypes.Config{}))

	peers := make([]wgtypes.PeerConfig, peerBatchChunk+1)
	require.True(t, shouldBatch(wgtypes.Config{Peers: peers}))

	ips := make([]net.IPNet, ipBatchChunk+1)
	for i := range ips {
		ips[i] = ipv4Net(t, i)
	}
	require.True(t, shouldBatch(wgtypes.Config{Peers: []wgtypes.PeerConfig{{AllowedIPs: ips}}}))
}

func TestSockaddrRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ep   net.UDPAddr
	}{
		{
			name: "IPv4",
			ep:   net.UDPAddr{IP: net.IP{203, 0, 113, 4}, Port: 51820},
		},
		{
			name: "IPv6",
			ep:   net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := sockaddrBytes(tt.ep)
			require.NoError(t, err)

			got := parseSockaddr(b)
			require.NotNil(t, got)
			if diff := cmp.Diff(&tt.ep, got); diff != "" {
				t.Fatalf("unexpected endpoint (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSockaddrBytesInvalidIP(t *testing.T) {
	_, err := sockaddrBytes(net.UDPAddr{IP: net.IP{0xde, 0xad}, Port: 1})
	require.Error(t, err)
}
