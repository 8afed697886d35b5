package ipc

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"wg-ipc/wgtypes"
)

type fakeKernel struct {
	names    []string
	namesErr error
	devices  map[string]*wgtypes.Device
	configs  map[string]wgtypes.Config
}

func (f *fakeKernel) Close() error { return nil }

func (f *fakeKernel) DeviceNames() ([]string, error) {
	return f.names, f.namesErr
}

func (f *fakeKernel) Device(name string) (*wgtypes.Device, error) {
	d, ok := f.devices[name]
	if !ok {
		return nil, fmt.Errorf("device %q: %w", name, os.ErrNotExist)
	}
	return d, nil
}

func (f *fakeKernel) ConfigureDevice(name string, cfg wgtypes.Config) error {
	if _, ok := f.devices[name]; !ok {
		return fmt.Errorf("device %q: %w", name, os.ErrNotExist)
	}
	if f.configs == nil {
		f.configs = make(map[string]wgtypes.Config)
	}
	f.configs[name] = cfg
	return nil
}

type fakeUser struct {
	fakeKernel
}

func (f *fakeUser) Interfaces() ([]string, error) {
	return f.names, f.namesErr
}

func (f *fakeUser) Has(name string) bool {
	_, ok := f.devices[name]
	return ok
}

func device(name string) *wgtypes.Device {
	return &wgtypes.Device{Name: name, Type: wgtypes.Userspace}
}

func TestManagerDeviceNamesUnion(t *testing.T) {
	m := &Manager{
		kernel: &fakeKernel{names: []string{"wg0", "wg1"}},
		user:   &fakeUser{fakeKernel{names: []string{"tun7"}}},
	}

	names, err := m.DeviceNames()
	require.NoError(t, err)
	require.Equal(t, []string{"wg0", "wg1", "tun7"}, names)
}

func TestManagerDeviceNamesKernelError(t *testing.T) {
	errBroken := errors.New("broken")
	m := &Manager{
		kernel: &fakeKernel{namesErr: errBroken},
		user:   &fakeUser{},
	}

	_, err := m.DeviceNames()
	require.ErrorIs(t, err, errBroken)
}

func TestManagerDeviceNamesNoKernel(t *testing.T) {
	m := &Manager{
		user: &fakeUser{fakeKernel{names: []string{"tun7"}}},
	}

	names, err := m.DeviceNames()
	require.NoError(t, err)
	require.Equal(t, []string{"tun7"}, names)
}

func TestManagerDeviceUserspaceWins(t *testing.T) {
	// The same name on both backends must resolve to userspace.
	m := &Manager{
		kernel: &fakeKernel{devices: map[string]*wgtypes.Device{
			"wg0": {Name: "wg0", Type: wgtypes.LinuxKernel},
		}},
		user: &fakeUser{fakeKernel{devices: map[string]*wgtypes.Device{
			"wg0": device("wg0"),
		}}},
	}

	d, err := m.Device("wg0")
	require.NoError(t, err)
	require.Equal(t, wgtypes.Userspace, d.Type)
}

func TestManagerDeviceFallsBackToKernel(t *testing.T) {
	m := &Manager{
		kernel: &fakeKernel{devices: map[string]*wgtypes.Device{
			"wg0": {Name: "wg0", Type: wgtypes.LinuxKernel},
		}},
		user: &fakeUser{},
	}

	d, err := m.Device("wg0")
	require.NoError(t, err)
	require.Equal(t, wgtypes.LinuxKernel, d.Type)
}

func TestManagerDeviceNotExist(t *testing.T) {
	m := &Manager{
		kernel: &fakeKernel{},
		user:   &fakeUser{},
	}

	_, err := m.Device("wg0")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestManagerDeviceNotExistNoKernel(t *testing.T) {
	m := &Manager{user: &fakeUser{}}

	_, err := m.Device("wg0")
	require.ErrorIs(t, err, os.ErrNotExist)

	err = m.ConfigureDevice("wg0", wgtypes.Config{})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestManagerConfigureDeviceDispatch(t *testing.T) {
	port := 51820

	kernel := &fakeKernel{devices: map[string]*wgtypes.Device{
		"wg0": {Name: "wg0", Type: wgtypes.LinuxKernel},
	}}
	user := &fakeUser{fakeKernel{devices: map[string]*wgtypes.Device{
		"tun7": device("tun7"),
	}}}
	m := &Manager{kernel: kernel, user: user}

	require.NoError(t, m.ConfigureDevice("wg0", wgtypes.Config{ListenPort: &port}))
	require.Contains(t, kernel.configs, "wg0")
	require.NotContains(t, user.configs, "wg0")

	require.NoError(t, m.ConfigureDevice("tun7", wgtypes.Config{ListenPort: &port}))
	require.Contains(t, user.configs, "tun7")
}

func TestManagerDevicesSkipsVanished(t *testing.T) {
	// wg1 is enumerated but gone by the time it is retrieved.
	m := &Manager{
		kernel: &fakeKernel{
			names: []string{"wg0", "wg1"},
			devices: map[string]*wgtypes.Device{
				"wg0": {Name: "wg0", Type: wgtypes.LinuxKernel},
			},
		},
		user: &fakeUser{},
	}

	devices, err := m.Devices()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "wg0", devices[0].Name)
}
