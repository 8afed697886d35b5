//go:build !linux && !openbsd

package ipc

// Platforms without a kernel driver use the userspace backend only.
func newKernelClient() (kernelClient, error) {
	return nil, nil
}
