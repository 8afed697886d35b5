//go:build linux

// Package wglinux provides access to WireGuard devices owned by the Linux
// kernel module, over its generic netlink family.
package wglinux

import (
	"errors"
	"fmt"
	"os"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"wg-ipc/wgtypes"
)

// A Client speaks the WireGuard generic netlink protocol.  Every operation
// dials its own netlink socket, so independent operations may run
// concurrently from separate goroutines.
type Client struct{}

// New creates a Client.
func New() (*Client, error) {
	return &Client{}, nil
}

// Close releases resources used by a Client.
func (c *Client) Close() error { return nil }

// dial opens a generic netlink connection bound to the WireGuard family.
// The caller owns the returned connection.
func dial() (*genetlink.Conn, genetlink.Family, error) {
	conn, err := genetlink.Dial(nil)
	if err != nil {
		return nil, genetlink.Family{}, err
	}

	family, err := conn.GetFamily(familyName)
	if err != nil {
		_ = conn.Close()
		if errors.Is(err, os.ErrNotExist) {
			return nil, genetlink.Family{}, fmt.Errorf("wglinux: generic netlink family %q not available: %w", familyName, os.ErrNotExist)
		}
		return nil, genetlink.Family{}, err
	}

	return conn, family, nil
}

// errDumpInterrupted indicates that the kernel's state changed while it
// was being dumped, signaled by the NLM_F_DUMP_INTR flag on a reply.  The
// caller decides whether to keep the partial result set or start over.
var errDumpInterrupted = errors.New("wglinux: dump interrupted")

// dumpInterrupted reports whether any reply in a dump carries the
// interrupted flag.
func dumpInterrupted(msgs []netlink.Message) bool {
	for _, m := range msgs {
		if m.Header.Flags&netlink.DumpInterrupted != 0 {
			return true
		}
	}
	return false
}

// execute performs a single WireGuard netlink request with the specified
// command, header flags, and attribute arguments.
func execute(command uint8, flags netlink.HeaderFlags, attrb []byte) ([]genetlink.Message, error) {
	conn, family, err := dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	msg := genetlink.Message{
		Header: genetlink.Header{
			Command: command,
			Version: familyVersion,
		},
		Data: attrb,
	}

	// Send and receive by hand instead of Execute so the raw netlink
	// headers stay visible: the dump-interrupted condition only exists as
	// a flag on them.
	req, err := conn.Send(msg, family.ID, flags)
	if err != nil {
		return nil, executeError(err)
	}

	msgs, nmsgs, err := conn.Receive()
	if err != nil {
		return nil, executeError(err)
	}
	if err := netlink.Validate(req, nmsgs); err != nil {
		return nil, err
	}

	if dumpInterrupted(nmsgs) {
		return msgs, errDumpInterrupted
	}
	return msgs, nil
}

// executeError unpacks netlink errors for use with os.IsNotExist and
// similar, so they are not exposed to callers directly.
func executeError(err error) error {
	oerr, ok := err.(*netlink.OpError)
	if !ok {
		// Expect all errors to conform to netlink.OpError.
		return fmt.Errorf("wglinux: netlink operation returned non-netlink error: %v", err)
	}

	switch oerr.Err {
	// Convert "no such device" and "not a wireguard device" to an error
	// compatible with os.IsNotExist for easy checking.
	case unix.ENODEV, unix.ENOTSUP:
		return os.ErrNotExist
	default:
		// Expose the inner error directly (such as EPERM).
		return oerr.Err
	}
}

// Device retrieves the full state of the kernel device called name.
func (c *Client) Device(name string) (*wgtypes.Device, error) {
	// Don't bother querying netlink with empty input.
	if name == "" {
		return nil, os.ErrNotExist
	}

	// Fetching a device by interface index is possible as well, but we only
	// support fetching by name as it seems to be more convenient in general.
	b, err := netlink.MarshalAttributes([]netlink.Attribute{{
		Type: deviceAIfname,
		Data: nlenc.Bytes(name),
	}})
	if err != nil {
		return nil, err
	}

	for {
		msgs, err := execute(cmdGetDevice, netlink.Request|netlink.Dump, b)
		if errors.Is(err, errDumpInterrupted) {
			// The device changed while it was being dumped.  A single
			// device's attribute stream cannot be resumed mid-record, so
			// drop everything decoded so far and start the dump over.
			zap.S().Debugf("wglinux: get of %s interrupted; restarting", name)
			continue
		}
		if err != nil {
			return nil, err
		}

		return parseDevice(msgs)
	}
}

// DeviceNames uses rtnetlink to fetch the names of all WireGuard interfaces
// registered with the kernel.
func (c *Client) DeviceNames() ([]string, error) {
	conn, err := netlink.Dial(unix.NETLINK_ROUTE, nil)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := netlink.Message{
		Header: netlink.Header{
			Type:  unix.RTM_GETLINK,
			Flags: netlink.Request | netlink.Dump,
		},
		// An ifinfomsg with AF_UNSPEC and no filters dumps every link.
		Data: make([]byte, unix.SizeofIfInfomsg),
	}

	msgs, err := conn.Execute(req)
	if err != nil {
		return nil, err
	}
	if dumpInterrupted(msgs) {
		// The interface set changed during the dump.  That's pretty common
		// on busy systems that add and remove tunnels all the time, and
		// retrying could loop indefinitely, so keep the partial results.
		zap.S().Debugf("wglinux: link dump interrupted; keeping partial results")
	}

	return parseLinkNames(msgs)
}

// parseLinkNames unpacks rtnetlink link messages and returns the names of
// WireGuard interfaces.
func parseLinkNames(msgs []netlink.Message) ([]string, error) {
	var names []string
	for _, m := range msgs {
		// Only deal with link messages, and they must have an ifinfomsg
		// structure appear before the attributes.
		if m.Header.Type != unix.RTM_NEWLINK {
			continue
		}
		if len(m.Data) < unix.SizeofIfInfomsg {
			return nil, fmt.Errorf("wglinux: rtnetlink message is too short for ifinfomsg: %d", len(m.Data))
		}

		ad, err := netlink.NewAttributeDecoder(m.Data[unix.SizeofIfInfomsg:])
		if err != nil {
			return nil, err
		}

		// Determine the interface's name and if it's a WireGuard device.
		var (
			name string
			isWG bool
		)

		for ad.Next() {
			switch ad.Type() {
			case unix.IFLA_IFNAME:
				name = ad.String()
			case unix.IFLA_LINKINFO:
				ad.Do(isWGKind(&isWG))
			}
		}

		if err := ad.Err(); err != nil {
			return nil, err
		}

		if isWG && name != "" {
			names = append(names, name)
		}
	}

	return names, nil
}

// isWGKind parses netlink attributes to determine if a link is a WireGuard
// device, then populates ok with the result.
func isWGKind(ok *bool) func(b []byte) error {
	return func(b []byte) error {
		ad, err := netlink.NewAttributeDecoder(b)
		if err != nil {
			return err
		}

		for ad.Next() {
			if ad.Type() != unix.IFLA_INFO_KIND {
				continue
			}

			if ad.String() == familyName {
				*ok = true
				return nil
			}
		}

		return ad.Err()
	}
}
