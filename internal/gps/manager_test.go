package gps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/locfix/internal/location"
	"github.com/relabs-tech/locfix/internal/observability"
)

// pipeSource hands out one io.Pipe per open so tests can feed NMEA lines.
type pipeSource struct {
	opened chan *io.PipeWriter
}

func newPipeSource() *pipeSource {
	return &pipeSource{opened: make(chan *io.PipeWriter, 8)}
}

func (s *pipeSource) open(context.Context) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	s.opened <- pw
	return pr, nil
}

func (s *pipeSource) next(t *testing.T) *io.PipeWriter {
	t.Helper()
	select {
	case pw := <-s.opened:
		return pw
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not opened")
		return nil
	}
}

type recordingListener struct {
	mu       sync.Mutex
	fixes    chan location.Location
	enabled  []string
	disabled []string
	statuses []location.ProviderStatus
}

func newRecordingListener() *recordingListener {
	return &recordingListener{fixes: make(chan location.Location, 16)}
}

func (l *recordingListener) OnLocationChanged(loc location.Location) { l.fixes <- loc }

func (l *recordingListener) OnStatusChanged(_ string, s location.ProviderStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, s)
}

func (l *recordingListener) OnProviderEnabled(p string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = append(l.enabled, p)
}

func (l *recordingListener) OnProviderDisabled(p string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disabled = append(l.disabled, p)
}

func (l *recordingListener) disabledCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.disabled)
}

func (l *recordingListener) next(t *testing.T) location.Location {
	t.Helper()
	select {
	case loc := <-l.fixes:
		return loc
	case <-time.After(2 * time.Second):
		t.Fatal("no location delivered")
		return location.Location{}
	}
}

func (l *recordingListener) none(t *testing.T) {
	t.Helper()
	select {
	case loc := <-l.fixes:
		t.Fatalf("unexpected location %+v", loc)
	case <-time.After(50 * time.Millisecond):
	}
}

// startManager runs m until the test ends.
func startManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("manager did not stop")
		}
	})
}

func writeLine(t *testing.T, pw *io.PipeWriter, line string) {
	t.Helper()
	_, err := fmt.Fprintf(pw, "%s\r\n", line)
	require.NoError(t, err)
}

func TestManager_DeliversDecodedFixes(t *testing.T) {
	src := newPipeSource()
	metrics := observability.NewMetricsForTesting()
	m := NewManager([]Provider{{Name: "gps", Accuracy: location.AccuracyFine, Open: src.open}},
		WithMetrics(metrics))

	err := m.RequestLocationUpdates(0, 0, location.Criteria{Accuracy: location.AccuracyFine}, newRecordingListener())
	require.ErrorIs(t, err, ErrNoProvider)

	startManager(t, m)
	pw := src.next(t)
	require.Eventually(t, func() bool { return m.IsProviderEnabled("gps") }, time.Second, time.Millisecond)
	assert.False(t, m.IsProviderEnabled("network"))

	l := newRecordingListener()
	require.NoError(t, m.RequestLocationUpdates(0, 0, location.Criteria{Accuracy: location.AccuracyFine}, l))

	writeLine(t, pw, ggaFix)
	writeLine(t, pw, rmcVoid)
	writeLine(t, pw, rmcValid)

	loc := l.next(t)
	assert.Equal(t, "gps", loc.Provider)
	assert.InDelta(t, 4.5, loc.Accuracy, 1e-9)
	l.none(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BackendFixes.WithLabelValues("gps")))

	m.RemoveUpdates(l)
	writeLine(t, pw, rmcFarOff)
	l.none(t)
}

func TestManager_MinDistanceFilter(t *testing.T) {
	src := newPipeSource()
	m := NewManager([]Provider{{Name: "gps", Accuracy: location.AccuracyFine, Open: src.open}})
	startManager(t, m)
	pw := src.next(t)
	require.Eventually(t, func() bool { return m.IsProviderEnabled("gps") }, time.Second, time.Millisecond)

	l := newRecordingListener()
	require.NoError(t, m.RequestLocationUpdates(0, 100, location.Criteria{Accuracy: location.AccuracyCoarse}, l))

	writeLine(t, pw, rmcValid)
	first := l.next(t)

	writeLine(t, pw, rmcNear)
	l.none(t)

	writeLine(t, pw, rmcFarOff)
	far := l.next(t)
	assert.Greater(t, location.Distance(first, far), 100.0)
}

func TestManager_ProviderSelection(t *testing.T) {
	gpsSrc, netSrc := newPipeSource(), newPipeSource()
	m := NewManager([]Provider{
		{Name: location.GPSProvider, Accuracy: location.AccuracyFine, Open: gpsSrc.open},
		{Name: location.NetworkProvider, Accuracy: location.AccuracyCoarse, Open: netSrc.open},
	})
	startManager(t, m)
	gpsW := gpsSrc.next(t)
	netW := netSrc.next(t)
	require.Eventually(t, func() bool {
		return m.IsProviderEnabled(location.GPSProvider) && m.IsProviderEnabled(location.NetworkProvider)
	}, time.Second, time.Millisecond)

	fine, coarse := newRecordingListener(), newRecordingListener()
	require.NoError(t, m.RequestLocationUpdates(0, 0, location.Criteria{Accuracy: location.AccuracyFine}, fine))
	require.NoError(t, m.RequestLocationUpdates(0, 0, location.Criteria{Accuracy: location.AccuracyCoarse}, coarse))

	writeLine(t, netW, rmcValid)
	assert.Equal(t, location.NetworkProvider, coarse.next(t).Provider)
	fine.none(t)

	writeLine(t, gpsW, rmcValid)
	assert.Equal(t, location.GPSProvider, fine.next(t).Provider)
	coarse.none(t)
}

func TestManager_CoarseFallsBackToFineProvider(t *testing.T) {
	src := newPipeSource()
	m := NewManager([]Provider{
		{Name: location.GPSProvider, Accuracy: location.AccuracyFine, Open: src.open},
		{Name: location.NetworkProvider, Accuracy: location.AccuracyCoarse, Open: func(context.Context) (io.ReadCloser, error) {
			return nil, errors.New("connection refused")
		}},
	}, WithBackoff(time.Millisecond, 5*time.Millisecond))
	startManager(t, m)
	src.next(t)
	require.Eventually(t, func() bool { return m.IsProviderEnabled(location.GPSProvider) }, time.Second, time.Millisecond)

	assert.NoError(t, m.RequestLocationUpdates(0, 0, location.Criteria{Accuracy: location.AccuracyCoarse}, newRecordingListener()))
	assert.False(t, m.IsProviderEnabled(location.NetworkProvider))
}

func TestManager_FineNeedsFineProvider(t *testing.T) {
	src := newPipeSource()
	m := NewManager([]Provider{{Name: location.NetworkProvider, Accuracy: location.AccuracyCoarse, Open: src.open}})
	startManager(t, m)
	src.next(t)
	require.Eventually(t, func() bool { return m.IsProviderEnabled(location.NetworkProvider) }, time.Second, time.Millisecond)

	err := m.RequestLocationUpdates(0, 0, location.Criteria{Accuracy: location.AccuracyFine}, newRecordingListener())
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestManager_ReconnectsAndNotifies(t *testing.T) {
	src := newPipeSource()
	m := NewManager([]Provider{{Name: "gps", Accuracy: location.AccuracyFine, Open: src.open}},
		WithBackoff(time.Millisecond, 5*time.Millisecond))
	startManager(t, m)
	pw := src.next(t)
	require.Eventually(t, func() bool { return m.IsProviderEnabled("gps") }, time.Second, time.Millisecond)

	l := newRecordingListener()
	require.NoError(t, m.RequestLocationUpdates(0, 0, location.Criteria{Accuracy: location.AccuracyFine}, l))

	require.NoError(t, pw.Close())
	require.Eventually(t, func() bool { return l.disabledCount() == 1 }, time.Second, time.Millisecond)

	pw = src.next(t)
	require.Eventually(t, func() bool { return m.IsProviderEnabled("gps") }, time.Second, time.Millisecond)

	writeLine(t, pw, rmcValid)
	assert.Equal(t, "gps", l.next(t).Provider)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, []string{"gps"}, l.disabled)
	assert.Equal(t, []string{"gps"}, l.enabled)
	assert.Equal(t, []location.ProviderStatus{location.TemporarilyUnavailable, location.Available}, l.statuses)
}

func TestManager_ObserverSeesEveryFix(t *testing.T) {
	src := newPipeSource()
	seen := make(chan location.Location, 4)
	m := NewManager([]Provider{{Name: "gps", Accuracy: location.AccuracyFine, Open: src.open}},
		WithObserver(func(loc location.Location) { seen <- loc }))
	startManager(t, m)
	pw := src.next(t)

	writeLine(t, pw, rmcValid)
	writeLine(t, pw, rmcNear)

	for i := 0; i < 2; i++ {
		select {
		case loc := <-seen:
			assert.Equal(t, "gps", loc.Provider)
		case <-time.After(2 * time.Second):
			t.Fatal("observer not called")
		}
	}
}
