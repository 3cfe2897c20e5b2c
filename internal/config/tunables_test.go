package config

import (
	"os"
	"testing"
)

func TestClampDuration(t *testing.T) {
	d := Defaults()
	if got := clampDuration(1, d.BruteForceMin, d.BruteForceMax); got != d.BruteForceMin {
		t.Errorf("clamp below range = %v, want %v", got, d.BruteForceMin)
	}
	if got := clampDuration(d.BruteForceMax*2, d.BruteForceMin, d.BruteForceMax); got != d.BruteForceMax {
		t.Errorf("clamp above range = %v, want %v", got, d.BruteForceMax)
	}
}

func TestDefaultsWithinOwnBounds(t *testing.T) {
	d := Defaults()
	if d.BruteForceInterval < d.BruteForceMin || d.BruteForceInterval > d.BruteForceMax {
		t.Errorf("default bruteforce interval %v out of bounds [%v, %v]", d.BruteForceInterval, d.BruteForceMin, d.BruteForceMax)
	}
}

// TestLoadFromEnvFragmentSizeLeavesBoundsAlone guards against regressing
// the fragment-size override back into clamping the Min bound itself
// instead of the configured default.
func TestLoadFromEnvFragmentSizeLeavesBoundsAlone(t *testing.T) {
	os.Setenv("MARLIN_WS_FRAGMENT_SIZE", "8192")
	defer os.Unsetenv("MARLIN_WS_FRAGMENT_SIZE")

	d := Defaults()
	t2 := loadFromEnv()

	if t2.WSFragmentMin != d.WSFragmentMin {
		t.Errorf("WSFragmentMin bound was mutated: got %d, want %d", t2.WSFragmentMin, d.WSFragmentMin)
	}
	if t2.WSFragmentDefault != 8192 {
		t.Errorf("WSFragmentDefault = %d, want 8192", t2.WSFragmentDefault)
	}
}

func TestLoadFromEnvFragmentSizeClampsOutOfRange(t *testing.T) {
	os.Setenv("MARLIN_WS_FRAGMENT_SIZE", "1")
	defer os.Unsetenv("MARLIN_WS_FRAGMENT_SIZE")

	got := loadFromEnv()
	if got.WSFragmentDefault != got.WSFragmentMin {
		t.Errorf("WSFragmentDefault = %d, want clamped to WSFragmentMin %d", got.WSFragmentDefault, got.WSFragmentMin)
	}
}
