package vmsched

import (
	"testing"
)

func TestSupportedConsistency(t *testing.T) {
	t.Run("should return consistent results", func(t *testing.T) {
		first, firstErr := Supported()
		t.Logf("Hypervisor support: %v (err: %v)", first, firstErr)

		for i := 0; i < 5; i++ {
			supported, err := Supported()
			if (err == nil) != (firstErr == nil) {
				t.Fatalf("Supported() call %d error changed: %v vs %v", i, err, firstErr)
			}
			if supported != first {
				t.Errorf("Inconsistent result at call %d: got %v, want %v", i, supported, first)
			}
		}
	})
}
