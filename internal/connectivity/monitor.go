// Package connectivity decides whether the remote API is reachable and
// reports online/offline transitions.
package connectivity

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

const (
	defaultProbeInterval = 15 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// Monitor probes a target URL. Any HTTP response counts as online; a
// transport failure counts as offline. It starts out online.
type Monitor struct {
	target string
	hc     *http.Client
	logger func(format string, v ...any)

	mu        sync.Mutex
	online    bool
	onOnline  []func()
	onOffline []func()
}

func NewMonitor(target string, hc *http.Client) *Monitor {
	if hc == nil {
		hc = &http.Client{Timeout: defaultProbeTimeout}
	}
	return &Monitor{target: target, hc: hc, logger: log.Printf, online: true}
}

func (m *Monitor) SetLogger(l func(format string, v ...any)) {
	if l != nil {
		m.logger = l
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnOnline registers fn to run on every offline to online transition.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	m.onOnline = append(m.onOnline, fn)
	m.mu.Unlock()
}

// OnOffline registers fn to run on every online to offline transition.
func (m *Monitor) OnOffline(fn func()) {
	m.mu.Lock()
	m.onOffline = append(m.onOffline, fn)
	m.mu.Unlock()
}

// SetOnline records the current state and fires callbacks when it changed.
// Callbacks run on the caller's goroutine.
func (m *Monitor) SetOnline(v bool) {
	m.mu.Lock()
	if m.online == v {
		m.mu.Unlock()
		return
	}
	m.online = v
	var fns []func()
	if v {
		fns = append(fns, m.onOnline...)
	} else {
		fns = append(fns, m.onOffline...)
	}
	m.mu.Unlock()

	if v {
		m.logger("connectivity: online")
	} else {
		m.logger("connectivity: offline")
	}
	for _, fn := range fns {
		fn()
	}
}

// Probe checks the target once and updates the state.
func (m *Monitor) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.target, nil)
	if err != nil {
		m.logger("connectivity probe %s: %v", m.target, err)
		m.SetOnline(false)
		return false
	}
	resp, err := m.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return m.Online()
		}
		m.SetOnline(false)
		return false
	}
	resp.Body.Close()
	m.SetOnline(true)
	return true
}

// Start probes at a fixed cadence in a background goroutine until ctx ends.
// It returns immediately.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			m.Probe(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
