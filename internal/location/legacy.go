package location

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// LegacyStrategy drives a provider manager with accuracy criteria, a listener
// and its own deadline timer.
type LegacyStrategy struct {
	manager ProviderManager
}

// NewLegacyStrategy returns a strategy over manager.
func NewLegacyStrategy(manager ProviderManager) *LegacyStrategy {
	return &LegacyStrategy{manager: manager}
}

func (l *LegacyStrategy) Name() string { return "legacy" }

// Start registers a listener with zero min time and distance, so the first
// fix from the selected provider is delivered, and arms the deadline.
func (l *LegacyStrategy) Start(s *Session, req Request) error {
	criteria := Criteria{Accuracy: AccuracyCoarse}
	if req.HighAccuracy {
		criteria.Accuracy = AccuracyFine
	}
	s.Logger().WithField("criteria", criteria.Accuracy).Debug("legacy location criteria set")

	listener := &legacyListener{session: s}
	if err := l.manager.RequestLocationUpdates(0, 0, criteria, listener); err != nil {
		return err
	}
	s.Defer(func() { l.manager.RemoveUpdates(listener) })

	if req.Timeout > 0 {
		s.ArmTimeout(req.Timeout)
	}
	return nil
}

// legacyListener forwards only the first location it sees. found closes the
// window between the first fix and the manager honoring RemoveUpdates.
type legacyListener struct {
	session *Session
	found   atomic.Bool
}

func (l *legacyListener) OnLocationChanged(loc Location) {
	if !l.found.CompareAndSwap(false, true) {
		return
	}
	l.session.Logger().WithFields(logrus.Fields{
		"lat": loc.Latitude,
		"lon": loc.Longitude,
	}).Debug("location received")
	l.session.Resolve(loc)
}

func (l *legacyListener) OnStatusChanged(provider string, status ProviderStatus) {
	l.session.Logger().WithFields(logrus.Fields{
		"provider": provider,
		"status":   status,
	}).Debug("provider status changed")
}

func (l *legacyListener) OnProviderEnabled(provider string) {
	l.session.Logger().WithField("provider", provider).Debug("provider enabled")
}

func (l *legacyListener) OnProviderDisabled(provider string) {
	l.session.Logger().WithField("provider", provider).Debug("provider disabled")
}
