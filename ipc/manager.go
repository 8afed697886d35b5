// Package ipc routes WireGuard device operations to whichever backend
// owns an interface: the platform's kernel driver, or a userspace
// implementation listening on a UNIX socket.  A live userspace socket
// always wins; the two backends are mutually exclusive per interface.
package ipc

import (
	"errors"
	"fmt"
	"os"

	"wg-ipc/ipc/wguser"
	"wg-ipc/wgtypes"
)

// kernelClient is the platform kernel backend.  Platforms without a
// kernel driver construct none and fall back to userspace only.
type kernelClient interface {
	Close() error
	DeviceNames() ([]string, error)
	Device(name string) (*wgtypes.Device, error)
	ConfigureDevice(name string, cfg wgtypes.Config) error
}

// userClient is the userspace text-protocol backend.
type userClient interface {
	Close() error
	Interfaces() ([]string, error)
	Has(name string) bool
	Device(name string) (*wgtypes.Device, error)
	ConfigureDevice(name string, cfg wgtypes.Config) error
}

// A Manager dispatches between the kernel and userspace backends.  It is
// stateless beyond the backends themselves; operations may run
// concurrently so long as callers serialize get and set against the same
// interface.
type Manager struct {
	kernel kernelClient
	user   userClient
}

// NewManager constructs a Manager with the platform's backends.
func NewManager() (*Manager, error) {
	kernel, err := newKernelClient()
	if err != nil {
		return nil, err
	}
	return &Manager{
		kernel: kernel,
		user:   wguser.New(),
	}, nil
}

// Close releases the backends.
func (m *Manager) Close() error {
	if m.kernel != nil {
		if err := m.kernel.Close(); err != nil {
			return err
		}
	}
	return m.user.Close()
}

// DeviceNames enumerates every configurable interface: the union of the
// kernel driver's devices and the live userspace sockets.
func (m *Manager) DeviceNames() ([]string, error) {
	var list StringList

	if m.kernel != nil {
		names, err := m.kernel.DeviceNames()
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			list.Add(n)
		}
	}

	names, err := m.user.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		list.Add(n)
	}

	return list.Strings(), nil
}

// Devices retrieves every enumerated device.  A device that disappears
// between enumeration and retrieval is skipped.
func (m *Manager) Devices() ([]*wgtypes.Device, error) {
	names, err := m.DeviceNames()
	if err != nil {
		return nil, err
	}

	devices := make([]*wgtypes.Device, 0, len(names))
	for _, name := range names {
		d, err := m.Device(name)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// Device retrieves the device with the given name from the backend that
// owns it.
func (m *Manager) Device(name string) (*wgtypes.Device, error) {
	if m.user.Has(name) {
		return m.user.Device(name)
	}
	if m.kernel == nil {
		return nil, fmt.Errorf("ipc: device %q: %w", name, os.ErrNotExist)
	}
	return m.kernel.Device(name)
}

// ConfigureDevice applies cfg to the device with the given name through
// the backend that owns it.
func (m *Manager) ConfigureDevice(name string, cfg wgtypes.Config) error {
	if m.user.Has(name) {
		return m.user.ConfigureDevice(name, cfg)
	}
	if m.kernel == nil {
		return fmt.Errorf("ipc: device %q: %w", name, os.ErrNotExist)
	}
	return m.kernel.ConfigureDevice(name, cfg)
}
