// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package location

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/relabs-tech/locfix/internal/observability"
)

// Strategy obtains one fix from a specific back-end for the given session.
// Start registers whatever it needs and returns; results arrive later through
// the session. Teardown must be attached with Session.Defer.
type Strategy interface {
	Name() string
	Start(s *Session, req Request) error
}

// Result is the single outcome of a request: a fix or a non-nil Err.
type Result struct {
	Fix Fix
	Err error
}

// Call is the caller's handle on a submitted request.
type Call struct {
	ID     string
	result chan Result
}

// Done delivers exactly one Result and is then closed.
func (c *Call) Done() <-chan Result { return c.result }

// Wait blocks until the call completes or ctx ends. It does not cancel the
// request; use Bridge.Get for that.
func (c *Call) Wait(ctx context.Context) (Fix, error) {
	select {
	case res := <-c.result:
		return res.Fix, res.Err
	case <-ctx.Done():
		return Fix{}, ctx.Err()
	}
}

func finishedCall(err error) *Call {
	c := &Call{ID: uuid.NewString(), result: make(chan Result, 1)}
	c.result <- Result{Err: err}
	close(c.result)
	return c
}

// Bridge serves one outstanding location request at a time.
type Bridge struct {
	platform Platform
	manager  ProviderManager
	strategy Strategy
	perms    PermissionChecker
	clock    clockwork.Clock
	logger   logrus.FieldLogger
	metrics  *observability.Metrics

	mu      sync.Mutex
	pending *Session
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithClock sets the time source for request timers.
func WithClock(c clockwork.Clock) Option {
	return func(b *Bridge) { b.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithPermissionChecker enables the permission precondition on Submit.
func WithPermissionChecker(p PermissionChecker) Option {
	return func(b *Bridge) { b.perms = p }
}

// NewBridge builds a bridge. The manager answers "is any location source
// enabled" and backs the legacy tier; fused may be nil. The strategy is chosen
// here, once: modern when the platform advertises fused updates and a fused
// client is given, legacy otherwise.
func NewBridge(p Platform, manager ProviderManager, fused FusedClient, opts ...Option) *Bridge {
	b := &Bridge{
		platform: p,
		manager:  manager,
		clock:    clockwork.NewRealClock(),
		logger:   observability.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = observability.NewMetricsWith(nil)
	}

	if p.FusedUpdates && fused != nil {
		b.strategy = NewModernStrategy(fused)
	} else {
		b.strategy = NewLegacyStrategy(manager)
	}
	b.logger.WithField("strategy", b.strategy.Name()).Info("location bridge ready")
	return b
}

// Strategy returns the name of the strategy selected at construction.
func (b *Bridge) Strategy() string { return b.strategy.Name() }

// Submit starts a request and returns immediately. The call's Done channel
// yields exactly one Result. A submit while another request is outstanding
// fails with ErrBusy and leaves the outstanding request untouched.
func (b *Bridge) Submit(req Request) *Call {
	s, err := b.submit(req)
	if err != nil {
		return finishedCall(err)
	}
	return s.call
}

func (b *Bridge) submit(req Request) (*Session, error) {
	b.mu.Lock()
	if b.pending != nil {
		busyID := b.pending.call.ID
		b.mu.Unlock()
		b.metrics.Requests.WithLabelValues(b.strategy.Name(), string(KindBusy)).Inc()
		b.logger.WithField("request_id", busyID).Warn("location request rejected, another is outstanding")
		return nil, ErrBusy
	}
	s := &Session{
		bridge:  b,
		call:    &Call{ID: uuid.NewString(), result: make(chan Result, 1)},
		started: b.clock.Now(),
	}
	s.logger = b.logger.WithFields(logrus.Fields{
		"request_id": s.call.ID,
		"strategy":   b.strategy.Name(),
	})
	b.pending = s
	b.metrics.RequestPending.Set(1)
	b.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"high_accuracy": req.HighAccuracy,
		"timeout":       req.Timeout,
	}).Debug("location request submitted")

	if !b.locationEnabled() {
		s.reject(newError(KindUnavailable, ErrUnavailable.Message, nil))
		return s, nil
	}

	if b.perms != nil {
		if err := b.perms.CheckPermission(); err != nil {
			s.reject(classify(err))
			return s, nil
		}
	}

	if err := b.strategy.Start(s, req); err != nil {
		s.logger.WithError(err).Warn("location strategy setup failed")
		s.reject(classify(err))
	}
	return s, nil
}

// Cancel rejects the outstanding request with ErrCancelled. It is a no-op
// when nothing is outstanding.
func (b *Bridge) Cancel() {
	b.mu.Lock()
	s := b.pending
	b.mu.Unlock()
	if s == nil {
		return
	}
	s.reject(newError(KindCancelled, ErrCancelled.Message, nil))
}

// Get submits req and waits for its result. If ctx ends first the request is
// cancelled and its (cancelled) result returned.
func (b *Bridge) Get(ctx context.Context, req Request) (Fix, error) {
	ctx, span := otel.Tracer("locfix/location").Start(ctx, "location.Get")
	defer span.End()
	span.SetAttributes(
		attribute.Bool("location.high_accuracy", req.HighAccuracy),
		attribute.Int64("location.timeout_ms", req.Timeout.Milliseconds()),
		attribute.String("location.strategy", b.strategy.Name()),
	)

	s, err := b.submit(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Fix{}, err
	}

	var res Result
	select {
	case res = <-s.call.result:
	case <-ctx.Done():
		s.reject(newError(KindCancelled, "Location request abandoned by caller", ctx.Err()))
		res = <-s.call.result
	}

	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Error())
		return Fix{}, res.Err
	}
	span.SetAttributes(attribute.String("location.provider", res.Fix.Provider))
	return res.Fix, nil
}

// locationEnabled reports whether any location provider is turned on.
func (b *Bridge) locationEnabled() bool {
	if b.manager == nil {
		return false
	}
	return b.manager.IsProviderEnabled(GPSProvider) || b.manager.IsProviderEnabled(NetworkProvider)
}

// complete is the single latch shared by every event source. Only the first
// caller for s wins; it detaches s, runs its teardown and delivers res.
func (b *Bridge) complete(s *Session, res Result) bool {
	b.mu.Lock()
	if s.done || b.pending != s {
		b.mu.Unlock()
		return false
	}
	s.done = true
	b.pending = nil
	b.metrics.RequestPending.Set(0)
	teardown := s.teardown
	s.teardown = nil
	b.mu.Unlock()

	for i := len(teardown) - 1; i >= 0; i-- {
		teardown[i]()
	}

	outcome := "ok"
	if res.Err != nil {
		outcome = string(KindOf(res.Err))
		s.logger.WithError(res.Err).Info("location request failed")
	} else {
		s.logger.WithFields(logrus.Fields{
			"provider": res.Fix.Provider,
			"lat":      res.Fix.Latitude,
			"lon":      res.Fix.Longitude,
			"accuracy": res.Fix.Accuracy,
			"mock":     res.Fix.IsFakeLocation,
		}).Info("location request resolved")
	}
	b.metrics.Requests.WithLabelValues(b.strategy.Name(), outcome).Inc()
	b.metrics.RequestDuration.WithLabelValues(b.strategy.Name()).Observe(b.clock.Since(s.started).Seconds())

	s.call.result <- res
	close(s.call.result)
	return true
}
