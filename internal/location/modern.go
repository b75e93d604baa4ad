package location

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultUpdateInterval is the fused update interval used when the
	// request has no timeout.
	DefaultUpdateInterval = 10 * time.Second
	// MinUpdateDistance is the fused min update distance in meters.
	MinUpdateDistance = 10
)

// ModernStrategy requests updates from a fused, batched back-end and takes
// the most recent location of the first non-empty batch.
type ModernStrategy struct {
	client FusedClient
}

// NewModernStrategy returns a strategy over client.
func NewModernStrategy(client FusedClient) *ModernStrategy {
	return &ModernStrategy{client: client}
}

func (m *ModernStrategy) Name() string { return "modern" }

// Start registers a fused subscription for s. The update interval is the
// request timeout, or DefaultUpdateInterval without one. A deadline timer is
// armed only when the request has a timeout.
func (m *ModernStrategy) Start(s *Session, req Request) error {
	interval := req.Timeout
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	priority := PriorityBalancedPowerAccuracy
	if req.HighAccuracy {
		priority = PriorityHighAccuracy
	}

	ur := UpdateRequest{
		Priority:          priority,
		Interval:          interval,
		Granularity:       GranularityFine,
		MinUpdateDistance: MinUpdateDistance,
	}
	cb := &fusedCallback{session: s}

	if err := m.client.RequestLocationUpdates(ur, cb); err != nil {
		if isPermission(err) {
			return err
		}
		return newError(KindError, "Error using fused location method", err)
	}
	s.Defer(func() { m.client.RemoveLocationUpdates(cb) })

	s.Logger().WithFields(logrus.Fields{
		"priority": priority,
		"interval": interval,
	}).Debug("fused location updates requested")

	if req.Timeout > 0 {
		s.ArmTimeout(req.Timeout)
	}
	return nil
}

type fusedCallback struct {
	session *Session
}

func (c *fusedCallback) OnLocationResult(batch []Location) {
	if len(batch) == 0 {
		return
	}
	c.session.Resolve(batch[len(batch)-1])
}
