package ipc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringListFlatten(t *testing.T) {
	var l StringList
	l.Add("wg0")
	l.Add("")
	l.Add("tun7")

	require.Equal(t, []string{"wg0", "tun7"}, l.Strings())
	require.Equal(t, []byte("wg0\x00tun7\x00\x00"), l.Flatten())
}

func TestStringListEmpty(t *testing.T) {
	var l StringList
	require.Empty(t, l.Strings())
	require.Equal(t, []byte{0}, l.Flatten())
}
