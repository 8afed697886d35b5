//go:build linux

package wglinux

import (
	"testing"

	"github.com/mdlayher/netlink"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// linkMessage builds one RTM_NEWLINK dump reply for a link of the given
// kind.
func linkMessage(t *testing.T, name, kind string, flags netlink.HeaderFlags) netlink.Message {
	t.Helper()

	ae := netlink.NewAttributeEncoder()
	ae.String(unix.IFLA_IFNAME, name)
	ae.Nested(unix.IFLA_LINKINFO, func(nae *netlink.AttributeEncoder) error {
		nae.String(unix.IFLA_INFO_KIND, kind)
		return nil
	})
	b, err := ae.Encode()
	require.NoError(t, err)

	return netlink.Message{
		Header: netlink.Header{
			Type:  unix.RTM_NEWLINK,
			Flags: flags,
		},
		Data: append(make([]byte, unix.SizeofIfInfomsg), b...),
	}
}

func TestParseLinkNamesFiltersKinds(t *testing.T) {
	msgs := []netlink.Message{
		linkMessage(t, "wg0", familyName, 0),
		linkMessage(t, "veth0", "veth", 0),
		linkMessage(t, "wg1", familyName, 0),
		// Non-link messages in the dump are skipped entirely.
		{Header: netlink.Header{Type: unix.NLMSG_DONE}},
	}

	names, err := parseLinkNames(msgs)
	require.NoError(t, err)
	require.Equal(t, []string{"wg0", "wg1"}, names)
}

func TestParseLinkNamesShortIfinfomsg(t *testing.T) {
	msgs := []netlink.Message{{
		Header: netlink.Header{Type: unix.RTM_NEWLINK},
		Data:   make([]byte, unix.SizeofIfInfomsg-1),
	}}

	_, err := parseLinkNames(msgs)
	require.Error(t, err)
}

func TestLinkDumpInterruptedKeepsPartialResults(t *testing.T) {
	// The interface set changed mid-dump: the kernel flags the replies
	// with NLM_F_DUMP_INTR but still delivers what it collected.  The
	// names gathered so far must survive, without a retry.
	msgs := []netlink.Message{
		linkMessage(t, "wg0", familyName, 0),
		linkMessage(t, "wg1", familyName, netlink.DumpInterrupted),
	}

	require.True(t, dumpInterrupted(msgs))

	names, err := parseLinkNames(msgs)
	require.NoError(t, err)
	require.Equal(t, []string{"wg0", "wg1"}, names)
}

func TestDumpInterruptedClean(t *testing.T) {
	msgs := []netlink.Message{
		linkMessage(t, "wg0", familyName, 0),
	}
	require.False(t, dumpInterrupted(msgs))
}
