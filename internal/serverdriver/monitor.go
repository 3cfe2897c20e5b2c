package serverdriver

import (
	"log/slog"
	"time"

	"marlin-events/internal/channel"
	"marlin-events/internal/config"
	"marlin-events/internal/pool"
)

// Monitor is the single background goroutine that periodically flushes
// every channel's outbound queue and dispatches inbound events to their
// application callbacks. Its tick interval adapts: it doubles on a
// quiet pass (nothing delivered) up to MonitorIntervalMax, and resets
// to MonitorIntervalMin the moment any channel has something to send or
// deliver, so an idle bus doesn't busy-poll but an active one reacts
// quickly.
type Monitor struct {
	driver   *EventDriver
	tunables *config.Tunables
	pool     pool.Pool
	log      *slog.Logger

	interval time.Duration
	running  bool
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor creates a Monitor dispatching inbound events through p.
func NewMonitor(d *EventDriver, p pool.Pool) *Monitor {
	return &Monitor{
		driver:   d,
		tunables: d.tunables,
		pool:     p,
		log:      slog.Default().With("component", "monitor"),
		interval: d.tunables.MonitorIntervalMin,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the monitor loop until Stop is called. While the monitor
// is running, channels flush lazily on this loop rather than
// synchronously on PostEvent, so the driver disables each channel's
// autoFlush for the duration.
func (m *Monitor) Start() {
	m.running = true
	m.setChannelsAutoFlush(false)
	go m.loop()
}

func (m *Monitor) loop() {
	defer close(m.done)
	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-m.stop:
			m.drainOnShutdown()
			return
		case <-timer.C:
			active := m.tick()
			if active {
				m.interval = m.tunables.MonitorIntervalMin
			} else if m.interval < m.tunables.MonitorIntervalMax {
				m.interval *= 2
				if m.interval > m.tunables.MonitorIntervalMax {
					m.interval = m.tunables.MonitorIntervalMax
				}
			}
			timer.Reset(m.interval)
		}
	}
}

// tick flushes every registered channel's outbound queue and dispatches
// any inbound events to their application callback, reporting whether
// anything was delivered this pass.
func (m *Monitor) tick() bool {
	active := false
	for _, ch := range m.snapshotChannels() {
		if n := ch.Flush(); n > 0 {
			active = true
		}
		inbound := ch.DrainInbound()
		if len(inbound) == 0 {
			continue
		}
		active = true
		cb := ch.Callback()
		if cb == nil {
			continue
		}
		for _, e := range inbound {
			ev := e
			if err := pool.SafeDispatch(m.pool, m.log, func() { cb(ev) }); err != nil {
				m.log.Error("failed to dispatch inbound event", "error", err)
			}
		}
	}
	return active
}

func (m *Monitor) snapshotChannels() []*channel.Channel {
	m.driver.mu.RLock()
	defer m.driver.mu.RUnlock()
	out := make([]*channel.Channel, 0, len(m.driver.byID))
	for _, ch := range m.driver.byID {
		out = append(out, ch)
	}
	return out
}

func (m *Monitor) setChannelsAutoFlush(v bool) {
	for _, ch := range m.snapshotChannels() {
		ch.SetAutoFlush(v)
	}
}

// drainOnShutdown gives every channel a bounded number of extra ticks to
// flush whatever remains queued before the monitor goroutine exits, per
// MonitorEndLoops x MonitorEndWait.
func (m *Monitor) drainOnShutdown() {
	for i := 0; i < m.tunables.MonitorEndLoops; i++ {
		if !m.tick() {
			return
		}
		time.Sleep(m.tunables.MonitorEndWait)
	}
}

// Stop halts the monitor loop, runs one final bounded drain, and
// re-enables synchronous autoFlush on every channel so PostEvent keeps
// working after the monitor is gone.
func (m *Monitor) Stop() {
	if !m.running {
		return
	}
	close(m.stop)
	<-m.done
	m.running = false
	m.setChannelsAutoFlush(true)
}
