//go:build linux

package ipc

import "wg-ipc/ipc/wglinux"

func newKernelClient() (kernelClient, error) {
	return wglinux.New()
}
