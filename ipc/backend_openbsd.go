//go:build openbsd

package ipc

import "wg-ipc/ipc/wgbsd"

func newKernelClient() (kernelClient, error) {
	return wgbsd.New()
}
