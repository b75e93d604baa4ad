package location_test

import (
	"sync"
	"testing"
	"time"

	"github.com/relabs-tech/locfix/internal/location"
)

type fakeManager struct {
	mu        sync.Mutex
	enabled   map[string]bool
	err       error
	listeners []location.Listener
	criteria  []location.Criteria
	removed   int
}

func newFakeManager(enabled ...string) *fakeManager {
	m := &fakeManager{enabled: map[string]bool{}}
	for _, p := range enabled {
		m.enabled[p] = true
	}
	return m
}

func (m *fakeManager) IsProviderEnabled(provider string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[provider]
}

func (m *fakeManager) RequestLocationUpdates(_ time.Duration, _ float64, c location.Criteria, l location.Listener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.listeners = append(m.listeners, l)
	m.criteria = append(m.criteria, c)
	return nil
}

func (m *fakeManager) RemoveUpdates(l location.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, x := range m.listeners {
		if x == l {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			m.removed++
			return
		}
	}
}

func (m *fakeManager) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// deliver calls every registered listener, like a provider emitting a fix.
func (m *fakeManager) deliver(loc location.Location) {
	m.mu.Lock()
	ls := append([]location.Listener(nil), m.listeners...)
	m.mu.Unlock()
	for _, l := range ls {
		l.OnLocationChanged(loc)
	}
}

type fakeFused struct {
	mu        sync.Mutex
	err       error
	requests  []location.UpdateRequest
	callbacks []location.LocationCallback
	removed   int
}

func (f *fakeFused) RequestLocationUpdates(req location.UpdateRequest, cb location.LocationCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	f.callbacks = append(f.callbacks, cb)
	return nil
}

func (f *fakeFused) RemoveLocationUpdates(cb location.LocationCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, x := range f.callbacks {
		if x == cb {
			f.callbacks = append(f.callbacks[:i], f.callbacks[i+1:]...)
			f.removed++
			return
		}
	}
}

func (f *fakeFused) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.callbacks)
}

func (f *fakeFused) deliver(batch []location.Location) {
	f.mu.Lock()
	cbs := append([]location.LocationCallback(nil), f.callbacks...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb.OnLocationResult(batch)
	}
}

type denyAll struct{}

func (denyAll) CheckPermission() error { return location.ErrPermissionDenied }

func waitResult(t *testing.T, call *location.Call) location.Result {
	t.Helper()
	select {
	case res, ok := <-call.Done():
		if !ok {
			t.Fatal("result channel closed without a result")
		}
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for location result")
		return location.Result{}
	}
}

func requirePending(t *testing.T, call *location.Call) {
	t.Helper()
	select {
	case res := <-call.Done():
		t.Fatalf("expected request to be pending, got %+v", res)
	case <-time.After(50 * time.Millisecond):
	}
}

func sampleLocation(provider string) location.Location {
	return location.Location{
		Provider:  provider,
		Latitude:  37.0,
		Longitude: -122.0,
		Accuracy:  15.0,
		Altitude:  12.5,
		Speed:     1.5,
		Bearing:   90,
		Time:      time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC),
	}
}
