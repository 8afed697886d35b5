// Package wguser provides access to userspace WireGuard devices over the
// line-oriented configuration protocol spoken on their UNIX control sockets.
package wguser

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// socketDirectory is the well-known runtime directory where userspace
// WireGuard implementations place their control sockets.
const socketDirectory = "/var/run/wireguard"

// socketSuffix is appended to an interface name to form its socket filename.
const socketSuffix = ".sock"

// A Client speaks the userspace configuration protocol.  Every operation
// opens its own connection, so a single Client may be shared freely.
type Client struct {
	dir  string
	dial func(path string) (net.Conn, error)
}

// New creates a Client using the well-known control socket directory.
func New() *Client {
	return &Client{
		dir:  socketDirectory,
		dial: dialUnix,
	}
}

// Close releases resources used by a Client.
func (c *Client) Close() error { return nil }

func dialUnix(path string) (net.Conn, error) {
	return net.Dial("unix", path)
}

// socketPath derives the control socket path for the interface name.
func (c *Client) socketPath(name string) (string, error) {
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("wguser: invalid interface name %q: %w", name, unix.EINVAL)
	}

	return filepath.Join(c.dir, name+socketSuffix), nil
}

// connect opens a connection to the control socket for name.  A socket file
// whose process is gone is unlinked as cleanup and reported as not present
// rather than as a failure.
func (c *Client) connect(name string) (net.Conn, error) {
	path, err := c.socketPath(name)
	if err != nil {
		return nil, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		// Includes the not-exists case for callers using os.IsNotExist.
		return nil, err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return nil, fmt.Errorf("wguser: %s is not a socket: %w", path, unix.EBADF)
	}

	conn, err := c.dial(path)
	if err != nil {
		if errors.Is(err, unix.ECONNREFUSED) {
			// The process that owned the socket is gone; remove the stale
			// file so it stops shadowing the name.
			zap.S().Debugf("wguser: removing stale control socket %s", path)
			_ = os.Remove(path)
			return nil, os.ErrNotExist
		}
		return nil, err
	}

	return conn, nil
}

// Has reports whether a live userspace device called name exists.
func (c *Client) Has(name string) bool {
	conn, err := c.connect(name)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Interfaces returns the names of all live userspace devices, determined by
// scanning the control socket directory.  A missing directory means no
// devices rather than an error.
func (c *Client) Interfaces() ([]string, error) {
	ents, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, ent := range ents {
		name, ok := strings.CutSuffix(ent.Name(), socketSuffix)
		if !ok || name == "" {
			continue
		}
		// Liveness check; stale sockets are cleaned up as a side effect and
		// must not be reported as interfaces.
		if !c.Has(name) {
			continue
		}
		names = append(names, name)
	}

	return names, nil
}
