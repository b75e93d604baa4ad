package location

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Session is the bookkeeping of the one outstanding request: its completion
// handle, timer and registered teardown. It is owned by the Bridge; strategies
// get it as a handle to resolve the request and attach teardown.
type Session struct {
	bridge  *Bridge
	call    *Call
	started time.Time
	logger  logrus.FieldLogger

	// guarded by bridge.mu
	done     bool
	teardown []func()
}

// ID identifies the request in logs.
func (s *Session) ID() string { return s.call.ID }

// Logger returns a logger carrying the request fields.
func (s *Session) Logger() logrus.FieldLogger { return s.logger }

// Done reports whether the request has already been completed.
func (s *Session) Done() bool {
	s.bridge.mu.Lock()
	defer s.bridge.mu.Unlock()
	return s.done
}

// Resolve completes the request with a fix built from loc. It reports whether
// this call won; later calls are no-ops.
func (s *Session) Resolve(loc Location) bool {
	return s.bridge.complete(s, Result{Fix: NewFix(s.bridge.platform, loc)})
}

// Reject completes the request with err.
func (s *Session) Reject(err error) bool {
	return s.reject(classify(err))
}

func (s *Session) reject(err *Error) bool {
	return s.bridge.complete(s, Result{Err: err})
}

// Defer registers f to run when the request completes. If it already has,
// f runs immediately, so a registration that raced a completion is still
// removed.
func (s *Session) Defer(f func()) {
	s.bridge.mu.Lock()
	if !s.done {
		s.teardown = append(s.teardown, f)
		s.bridge.mu.Unlock()
		return
	}
	s.bridge.mu.Unlock()
	f()
}

// ArmTimeout schedules a one-shot rejection with ErrTimeout after d.
func (s *Session) ArmTimeout(d time.Duration) {
	t := s.bridge.clock.AfterFunc(d, func() {
		if s.reject(newError(KindTimeout, ErrTimeout.Message, nil)) {
			s.logger.WithField("timeout", d).Debug("location request deadline reached")
		}
	})
	s.Defer(func() { t.Stop() })
}
