//go:build openbsd

package wgbsd

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"wg-ipc/wgtypes"
)

const (
	// ifGroupName is the interface group the driver registers its
	// devices under.
	ifGroupName = "wg"

	// ifNameSize is IFNAMSIZ, including the NUL terminator.
	ifNameSize = 16
)

// Flag bits of wgInterfaceIO.Flags.
const (
	interfaceHasPublic uint8 = 1 << iota
	interfaceHasPrivate
	interfaceHasPort
	interfaceHasRtable
	interfaceReplacePeers
)

// Flag bits of wgPeerIO.Flags.
const (
	peerHasPublic int32 = 1 << iota
	peerHasPSK
	peerHasPKA
	peerHasEndpoint
	peerReplaceAIPs
	peerRemove
)

// wgDataIO is struct wg_data_io, the argument of both the get and the set
// ioctl.  Interface points at a caller-owned buffer of Size bytes.
type wgDataIO struct {
	Name      [ifNameSize]byte
	Size      uint64
	Interface *byte
}

// wgInterfaceIO is struct wg_interface_io, the header of the flat buffer.
// PeersCount wgPeerIO records follow it contiguously, each one followed by
// its own AIPCount wgAIPIO records.
type wgInterfaceIO struct {
	Flags      uint8
	_          [1]byte
	Port       uint16
	Rtable     int32
	Public     [wgtypes.KeyLen]byte
	Private    [wgtypes.KeyLen]byte
	PeersCount uint64
}

// wgPeerIO is struct wg_peer_io.  Endpoint holds a raw sockaddr_in or
// sockaddr_in6, discriminated by its embedded sa_family byte.
type wgPeerIO struct {
	Flags         int32
	Protocol      int32
	Public        [wgtypes.KeyLen]byte
	PSK           [wgtypes.KeyLen]byte
	PKA           uint16
	_             [2]byte
	Endpoint      [unix.SizeofSockaddrInet6]byte
	TxBytes       uint64
	RxBytes       uint64
	LastHandshake unix.Timespec
	AIPCount      uint64
}

// wgAIPIO is struct wg_aip_io, one allowed-ip record.
type wgAIPIO struct {
	Af   uint8
	_    [3]byte
	CIDR int32
	Addr [16]byte
}

// ifgReq is struct ifg_req, one member of an interface group.
type ifgReq struct {
	Name [ifNameSize]byte
}

// ifGroupReq is struct ifgroupreq for SIOCGIFGMEMB.  With Groups nil the
// ioctl reports the required Len in bytes; with Groups set it fills in
// Len/sizeof(ifg_req) member records.  The trailing padding carries the
// ifgr_ifgru union out to its ifgru_group[IFNAMSIZ] width; the size feeds
// the _IOWR request number, which the kernel switches on.
type ifGroupReq struct {
	Name   [ifNameSize]byte
	Len    uint32
	_      [4]byte
	Groups *ifgReq
	_      [8]byte
}

const (
	sizeofInterfaceIO = int(unsafe.Sizeof(wgInterfaceIO{}))
	sizeofPeerIO      = int(unsafe.Sizeof(wgPeerIO{}))
	sizeofAIPIO       = int(unsafe.Sizeof(wgAIPIO{}))
	sizeofIfgReq      = int(unsafe.Sizeof(ifgReq{}))
)

// iowr builds an _IOWR request number from sys/ioccom.h.
func iowr(group, num byte, size uintptr) uint {
	const (
		iocOut      = 0x40000000
		iocIn       = 0x80000000
		iocParmMask = 0x1fff
	)
	return iocIn | iocOut | (uint(size)&iocParmMask)<<16 | uint(group)<<8 | uint(num)
}

var (
	siocSWG      = iowr('i', 210, unsafe.Sizeof(wgDataIO{}))
	siocGWG      = iowr('i', 211, unsafe.Sizeof(wgDataIO{}))
	siocGIFGMEMB = iowr('i', 138, unsafe.Sizeof(ifGroupReq{}))
)
