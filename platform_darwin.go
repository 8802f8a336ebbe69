//go:build darwin

package vmsched

import (
	"golang.org/x/sys/unix"
)

// Supported returns true if the host exposes hardware virtualization.
func Supported() (bool, error) {
	supported, err := unix.SysctlUint32("kern.hv_support")
	if err != nil {
		return false, err
	}
	return supported != 0, nil
}
