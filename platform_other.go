//go:build !darwin && !linux

package vmsched

import "fmt"

// Supported returns false on platforms without a virtualization probe.
func Supported() (bool, error) {
	return false, fmt.Errorf("vmsched: hardware virtualization probe not supported on this platform")
}
