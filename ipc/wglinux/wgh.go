//go:build linux

package wglinux

// Generic netlink family identity and attribute values from the kernel's
// wireguard uapi (linux/wireguard.h).
const (
	familyName    = "wireguard"
	familyVersion = 1

	cmdGetDevice = 0
	cmdSetDevice = 1
)

// Device-level attributes.
const (
	deviceAUnspec = iota
	deviceAIfindex
	deviceAIfname
	deviceAPrivateKey
	deviceAPublicKey
	deviceAFlags
	deviceAListenPort
	deviceAFwmark
	deviceAPeers
)

const deviceFReplacePeers = 1 << 0

// Peer-level attributes.
const (
	peerAUnspec = iota
	peerAPublicKey
	peerAPresharedKey
	peerAFlags
	peerAEndpoint
	peerAPersistentKeepaliveInterval
	peerALastHandshakeTime
	peerARxBytes
	peerATxBytes
	peerAAllowedips
	peerAProtocolVersion
)

const (
	peerFRemoveMe          = 1 << 0
	peerFReplaceAllowedips = 1 << 1
	peerFUpdateOnly        = 1 << 2
)

// Allowed-ip attributes.
const (
	allowedipAUnspec = iota
	allowedipAFamily
	allowedipAIpaddr
	allowedipACidrMask
)
