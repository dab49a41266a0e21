// Package network tracks connectivity to the backend and tells subscribers
// about online/offline transitions.
package network

import (
	"sync"

	"go.uber.org/zap"
)

// Listener receives the new connectivity state.
type Listener func(online bool)

type subscriber struct {
	id int
	fn Listener
}

// Monitor holds the last observed connectivity state and its subscribers.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   []subscriber
	next   int
	logger *zap.Logger
}

// NewMonitor creates a monitor starting in the given state.
func NewMonitor(online bool, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{online: online, logger: logger.Named("network")}
}

// IsOnline returns the last observed state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Status returns "online" or "offline".
func (m *Monitor) Status() string {
	if m.IsOnline() {
		return "online"
	}
	return "offline"
}

// Subscribe registers fn and returns a function that removes it.
func (m *Monitor) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Set records online and calls every listener with it, synchronously and in
// registration order. Repeated identical states are delivered again.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	prev := m.online
	m.online = online
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if prev != online {
		m.logger.Info("connectivity changed", zap.Bool("online", online))
	}
	for _, s := range subs {
		s.fn(online)
	}
}

// Close drops every subscriber.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.subs = nil
	m.mu.Unlock()
}
