// Package config loads the Marlin event bus's tunable constants from the
// environment, clamping out-of-range values to the bounds the subsystem
// documents rather than rejecting them.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"
)

// Tunables holds every adjustable constant of the event-delivery subsystem.
type Tunables struct {
	MonitorIntervalMin time.Duration
	MonitorIntervalMax time.Duration
	PollIntervalMin    time.Duration
	PollIntervalMax    time.Duration
	WSFragmentMin      int
	WSFragmentMax      int
	WSFragmentDefault  int
	KeepaliveMin       time.Duration
	KeepaliveMax       time.Duration
	BruteForceMin      time.Duration
	BruteForceMax      time.Duration
	MonitorEndLoops    int
	MonitorEndWait     time.Duration
	SSEOpenWaitLoops   int
	SSEOpenWaitStep    time.Duration

	// BruteForceInterval is the configured (clamped) minimum interval
	// between attach attempts from the same sender.
	BruteForceInterval time.Duration
}

var (
	tunables     *Tunables
	tunablesMu   sync.RWMutex
	tunablesOnce sync.Once
)

// Defaults returns the subsystem's documented default Tunables, before any
// environment overrides are applied.
func Defaults() *Tunables {
	return &Tunables{
		MonitorIntervalMin: 500 * time.Millisecond,
		MonitorIntervalMax: 10 * time.Second,
		PollIntervalMin:    100 * time.Millisecond,
		PollIntervalMax:    60 * time.Second,
		WSFragmentMin:      4*1024 - 14,
		WSFragmentMax:      1024*1024 - 14,
		WSFragmentDefault:  4*1024 - 14,
		KeepaliveMin:       500 * time.Millisecond,
		KeepaliveMax:       7 * time.Second,
		BruteForceMin:      3 * time.Second,
		BruteForceMax:      60 * time.Second,
		MonitorEndLoops:    100,
		MonitorEndWait:     100 * time.Millisecond,
		SSEOpenWaitLoops:   100,
		SSEOpenWaitStep:    100 * time.Millisecond,
		BruteForceInterval: 5 * time.Second,
	}
}

// Get returns the process-wide Tunables, loading them from the environment
// on first call and caching the result (mirrors the once-loaded,
// RWMutex-guarded singleton the client configuration in the ambient stack
// uses).
func Get() *Tunables {
	tunablesOnce.Do(func() {
		tunablesMu.Lock()
		defer tunablesMu.Unlock()
		tunables = loadFromEnv()
	})
	tunablesMu.RLock()
	defer tunablesMu.RUnlock()
	return tunables
}

// Reload re-reads the environment and replaces the process-wide Tunables.
func Reload() *Tunables {
	t := loadFromEnv()
	tunablesMu.Lock()
	tunables = t
	tunablesMu.Unlock()
	slog.Info("tunables reloaded", "bruteforce_interval", t.BruteForceInterval)
	return t
}

func loadFromEnv() *Tunables {
	t := Defaults()

	if v, ok := envDuration("MARLIN_BRUTEFORCE_INTERVAL"); ok {
		t.BruteForceInterval = clampDuration(v, t.BruteForceMin, t.BruteForceMax)
	}
	if v, ok := envInt("MARLIN_WS_FRAGMENT_SIZE"); ok {
		t.WSFragmentDefault = clampInt(v, t.WSFragmentMin, t.WSFragmentMax)
	}

	return t
}

func envDuration(name string) (time.Duration, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid duration in environment, ignoring", "var", name, "value", raw)
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid integer in environment, ignoring", "var", name, "value", raw)
		return 0, false
	}
	return n, true
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
