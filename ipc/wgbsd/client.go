//go:build openbsd

// Package wgbsd configures WireGuard devices through the OpenBSD kernel
// driver's ioctl interface.
package wgbsd

import (
	"fmt"
	"os"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"wg-ipc/wgtypes"
)

// A Client speaks the kernel driver's ioctl protocol on a plain datagram
// socket.  It holds no state: every operation opens its own socket and
// closes it before returning.
type Client struct {
	// ioctl issues one request against a fresh socket.  Swapped out by
	// tests.
	ioctl func(req uint, arg unsafe.Pointer) error
}

// New creates a Client.
func New() (*Client, error) {
	return &Client{ioctl: sysIoctl}, nil
}

// Close releases resources held by the Client.
func (c *Client) Close() error {
	return nil
}

func sysIoctl(req uint, arg unsafe.Pointer) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg)); errno != 0 {
		return errno
	}
	return nil
}

// DeviceNames lists the members of the driver's interface group.
func (c *Client) DeviceNames() ([]string, error) {
	var ifg ifGroupReq
	copy(ifg.Name[:], ifGroupName)

	// Sized query: the first call reports the membership size in bytes,
	// the second fills in the member records.
	if err := c.ioctl(siocGIFGMEMB, unsafe.Pointer(&ifg)); err != nil {
		if err == unix.ENOENT {
			// The group does not exist until the first device is
			// created.
			return nil, nil
		}
		return nil, err
	}

	n := int(ifg.Len) / sizeofIfgReq
	if n == 0 {
		return nil, nil
	}

	members := make([]ifgReq, n)
	ifg.Groups = &members[0]
	if err := c.ioctl(siocGIFGMEMB, unsafe.Pointer(&ifg)); err != nil {
		return nil, err
	}

	names := make([]string, 0, n)
	for _, m := range members {
		if name := unix.ByteSliceToString(m.Name[:]); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// Device retrieves the full state of the device with the given name.
func (c *Client) Device(name string) (*wgtypes.Device, error) {
	data, err := newDataIO(name)
	if err != nil {
		return nil, err
	}

	// The flat buffer's length depends on how many peers and allowed
	// IPs the device has, so ask for the size first and grow until the
	// kernel stops reporting a larger one.
	var buf []byte
	for {
		if err := c.ioctl(siocGWG, unsafe.Pointer(&data)); err != nil {
			return nil, devErr(name, err)
		}
		if uint64(len(buf)) >= data.Size {
			break
		}

		zap.S().Debugw("growing ioctl get buffer",
			"device", name,
			"size", data.Size,
		)
		buf = make([]byte, data.Size)
		data.Interface = &buf[0]
	}

	return parseInterface(name, buf[:data.Size])
}

// ConfigureDevice applies cfg to the device with the given name.  The
// whole configuration is serialized into one buffer and applied with a
// single ioctl.
func (c *Client) ConfigureDevice(name string, cfg wgtypes.Config) error {
	buf, err := marshalConfig(cfg)
	if err != nil {
		return err
	}

	data, err := newDataIO(name)
	if err != nil {
		return err
	}
	data.Size = uint64(len(buf))
	data.Interface = &buf[0]

	if err := c.ioctl(siocSWG, unsafe.Pointer(&data)); err != nil {
		return devErr(name, err)
	}
	return nil
}

func newDataIO(name string) (wgDataIO, error) {
	var data wgDataIO
	if name == "" || len(name) >= ifNameSize {
		return data, fmt.Errorf("wgbsd: invalid interface name %q", name)
	}
	copy(data.Name[:], name)
	return data, nil
}

// devErr normalizes "no such device" errnos so callers can test against
// os.ErrNotExist regardless of backend.
func devErr(name string, err error) error {
	switch err {
	case unix.ENXIO, unix.ENODEV, unix.ENOENT:
		return fmt.Errorf("wgbsd: device %q: %w", name, os.ErrNotExist)
	default:
		return err
	}
}
