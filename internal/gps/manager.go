// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/locfix/internal/location"
	"github.com/relabs-tech/locfix/internal/observability"
)

// ErrNoProvider is returned when no enabled provider satisfies the criteria.
var ErrNoProvider = errors.New("no enabled location provider matches criteria")

// Reconnect backoff bounds.
const (
	DefaultInitialBackoff = 200 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
)

// Provider is one named NMEA source with its accuracy class.
type Provider struct {
	Name     string
	Accuracy location.Accuracy
	Open     Opener
}

type providerState struct {
	Provider
	enabled bool
	status  location.ProviderStatus
}

type registration struct {
	provider    string
	minTime     time.Duration
	minDistance float64

	delivered bool
	last      location.Location
	lastAt    time.Time
}

// Manager implements location.ProviderManager over a set of NMEA streams.
// Providers are enabled while their stream is open and delivering.
type Manager struct {
	clock   clockwork.Clock
	logger  logrus.FieldLogger
	metrics *observability.Metrics

	initialBackoff time.Duration
	maxBackoff     time.Duration
	observe        func(location.Location)

	mu        sync.Mutex
	order     []string
	providers map[string]*providerState
	listeners map[location.Listener]*registration
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock sets the clock used for backoff and min-time filtering.
func WithClock(c clockwork.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics counts decoded fixes per provider.
func WithMetrics(mt *observability.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithBackoff overrides the reconnect backoff bounds.
func WithBackoff(initial, limit time.Duration) ManagerOption {
	return func(m *Manager) {
		m.initialBackoff = initial
		m.maxBackoff = limit
	}
}

// WithObserver calls f with every decoded fix from any provider, before
// listener dispatch. f runs on the provider's read goroutine.
func WithObserver(f func(location.Location)) ManagerOption {
	return func(m *Manager) { m.observe = f }
}

// NewManager returns a manager for providers. Names must be unique.
func NewManager(providers []Provider, opts ...ManagerOption) *Manager {
	m := &Manager{
		clock:          clockwork.NewRealClock(),
		logger:         observability.Discard(),
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		providers:      make(map[string]*providerState, len(providers)),
		listeners:      make(map[location.Listener]*registration),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = observability.NewMetricsWith(nil)
	}
	for _, p := range providers {
		m.order = append(m.order, p.Name)
		m.providers[p.Name] = &providerState{Provider: p, status: location.OutOfService}
	}
	return m
}

// IsProviderEnabled reports whether the named provider's stream is up.
func (m *Manager) IsProviderEnabled(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[name]
	return ok && p.enabled
}

// RequestLocationUpdates registers l for fixes from the provider that best
// matches c. Registering the same listener again replaces its registration.
func (m *Manager) RequestLocationUpdates(minTime time.Duration, minDistance float64, c location.Criteria, l location.Listener) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name, ok := m.selectLocked(c)
	if !ok {
		return fmt.Errorf("%s criteria: %w", c.Accuracy, ErrNoProvider)
	}
	m.listeners[l] = &registration{
		provider:    name,
		minTime:     minTime,
		minDistance: minDistance,
	}
	m.logger.WithFields(logrus.Fields{
		"provider": name,
		"criteria": c.Accuracy,
	}).Debug("listener registered")
	return nil
}

// RemoveUpdates unregisters l. Unknown listeners are ignored.
func (m *Manager) RemoveUpdates(l location.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, l)
}

// selectLocked picks a provider: fine criteria need a fine provider, coarse
// prefers a coarse one and falls back to anything enabled.
func (m *Manager) selectLocked(c location.Criteria) (string, bool) {
	var fallback string
	for _, name := range m.order {
		p := m.providers[name]
		if !p.enabled {
			continue
		}
		if p.Accuracy == c.Accuracy {
			return name, true
		}
		if c.Accuracy == location.AccuracyCoarse && fallback == "" {
			fallback = name
		}
	}
	return fallback, fallback != ""
}

// Run keeps every provider stream open until ctx ends, reconnecting with
// exponential backoff. It returns nil on cancellation.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range m.order {
		p := m.providers[name].Provider
		g.Go(func() error {
			m.runProvider(ctx, p)
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) runProvider(ctx context.Context, p Provider) {
	log := m.logger.WithField("provider", p.Name)
	delay := m.initialBackoff
	for {
		connected, err := m.stream(ctx, p)
		if ctx.Err() != nil {
			return
		}
		if connected {
			delay = m.initialBackoff
		}
		log.WithError(err).WithField("retry_in", delay).Warn("nmea stream lost")

		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(delay):
		}
		delay *= 2
		if delay > m.maxBackoff {
			delay = m.maxBackoff
		}
	}
}

// stream reads one connection of p until it fails. connected reports whether
// the stream was opened at all.
func (m *Manager) stream(ctx context.Context, p Provider) (connected bool, err error) {
	rc, err := p.Open(ctx)
	if err != nil {
		return false, err
	}
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer func() {
		stop()
		rc.Close()
		m.setEnabled(p.Name, false)
	}()

	m.setEnabled(p.Name, true)
	m.logger.WithField("provider", p.Name).Info("nmea stream open")

	dec := NewDecoder(p.Name)
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		loc, ok, err := dec.Decode(sc.Text())
		if err != nil {
			m.logger.WithField("provider", p.Name).WithError(err).Debug("nmea parse error")
			continue
		}
		if ok {
			m.dispatch(p.Name, loc)
		}
	}
	if err := sc.Err(); err != nil {
		return true, fmt.Errorf("read %s: %w", p.Name, err)
	}
	return true, fmt.Errorf("read %s: stream closed", p.Name)
}

// dispatch delivers loc to every listener of provider whose min time and
// min distance allow it. Listeners are called without the lock held.
func (m *Manager) dispatch(provider string, loc location.Location) {
	m.metrics.BackendFixes.WithLabelValues(provider).Inc()
	if m.observe != nil {
		m.observe(loc)
	}
	now := m.clock.Now()

	var targets []location.Listener
	m.mu.Lock()
	for l, r := range m.listeners {
		if r.provider != provider {
			continue
		}
		if r.delivered {
			if now.Sub(r.lastAt) < r.minTime {
				continue
			}
			if r.minDistance > 0 && location.Distance(r.last, loc) < r.minDistance {
				continue
			}
		}
		r.delivered = true
		r.last = loc
		r.lastAt = now
		targets = append(targets, l)
	}
	m.mu.Unlock()

	for _, l := range targets {
		l.OnLocationChanged(loc)
	}
}

// setEnabled flips a provider and notifies its listeners on change.
func (m *Manager) setEnabled(name string, enabled bool) {
	m.mu.Lock()
	p := m.providers[name]
	if p.enabled == enabled {
		m.mu.Unlock()
		return
	}
	p.enabled = enabled
	p.status = location.TemporarilyUnavailable
	if enabled {
		p.status = location.Available
	}
	status := p.status
	var targets []location.Listener
	for l, r := range m.listeners {
		if r.provider == name {
			targets = append(targets, l)
		}
	}
	m.mu.Unlock()

	for _, l := range targets {
		if enabled {
			l.OnProviderEnabled(name)
		} else {
			l.OnProviderDisabled(name)
		}
		l.OnStatusChanged(name, status)
	}
}
