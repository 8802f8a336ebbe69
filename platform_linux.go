//go:build linux

package vmsched

import (
	"errors"

	"golang.org/x/sys/unix"
)

const kvmDevice = "/dev/kvm"

// Supported returns true if the host exposes hardware virtualization through
// an accessible KVM device.
func Supported() (bool, error) {
	err := unix.Access(kvmDevice, unix.R_OK|unix.W_OK)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.ENOENT):
		return false, nil
	default:
		return false, err
	}
}
