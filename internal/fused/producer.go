package fused

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/locfix/internal/location"
	"github.com/relabs-tech/locfix/internal/observability"
)

// DefaultBatchInterval is used while no client has asked for a shorter one.
const DefaultBatchInterval = time.Second

// maxPending bounds the fixes held between flushes; older ones are dropped.
const maxPending = 64

// Producer collects fixes and publishes them as batches while at least one
// client has updates requested. The batch interval is the shortest interval
// any active client asked for, capped by the default.
type Producer struct {
	conn            Conn
	topics          Topics
	clock           clockwork.Clock
	defaultInterval time.Duration
	logger          logrus.FieldLogger
	metrics         *observability.Metrics

	mu      sync.Mutex
	pending []location.Location
	active  map[string]time.Duration
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithProducerClock sets the clock that paces batches.
func WithProducerClock(c clockwork.Clock) ProducerOption {
	return func(p *Producer) { p.clock = c }
}

// WithProducerLogger sets the logger.
func WithProducerLogger(l logrus.FieldLogger) ProducerOption {
	return func(p *Producer) { p.logger = l }
}

// WithProducerMetrics counts published fixes.
func WithProducerMetrics(m *observability.Metrics) ProducerOption {
	return func(p *Producer) { p.metrics = m }
}

// WithBatchInterval overrides DefaultBatchInterval.
func WithBatchInterval(d time.Duration) ProducerOption {
	return func(p *Producer) {
		if d > 0 {
			p.defaultInterval = d
		}
	}
}

// NewProducer returns a producer publishing on topics.Updates and listening
// for requests on topics.Requests.
func NewProducer(conn Conn, topics Topics, opts ...ProducerOption) *Producer {
	p := &Producer{
		conn:            conn,
		topics:          topics,
		clock:           clockwork.NewRealClock(),
		defaultInterval: DefaultBatchInterval,
		logger:          observability.Discard(),
		active:          make(map[string]time.Duration),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = observability.NewMetricsWith(nil)
	}
	return p
}

// Add queues one fix for the next batch.
func (p *Producer) Add(loc location.Location) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, loc)
	if len(p.pending) > maxPending {
		p.pending = p.pending[len(p.pending)-maxPending:]
	}
}

// Active returns the number of clients with updates requested.
func (p *Producer) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Run subscribes to update requests and publishes batches until ctx ends.
func (p *Producer) Run(ctx context.Context) error {
	if err := p.conn.Subscribe(p.topics.Requests, p.handleRequest); err != nil {
		return err
	}
	defer func() {
		if err := p.conn.Unsubscribe(p.topics.Requests); err != nil {
			p.logger.WithError(err).Warn("unsubscribe requests failed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.clock.After(p.interval()):
		}
		if err := p.flush(); err != nil {
			p.logger.WithError(err).Warn("fused batch not published")
		}
	}
}

func (p *Producer) interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.defaultInterval
	for _, iv := range p.active {
		if iv > 0 && iv < d {
			d = iv
		}
	}
	return d
}

// flush publishes pending fixes if anyone is listening. Fixes gathered
// while nobody listens are discarded.
func (p *Producer) flush() error {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	listening := len(p.active) > 0
	p.mu.Unlock()

	if !listening || len(batch) == 0 {
		return nil
	}
	payload, err := EncodeBatch(batch)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.topics.Updates, false, payload); err != nil {
		return err
	}
	p.metrics.BackendFixes.WithLabelValues("fused").Add(float64(len(batch)))
	p.logger.WithField("fixes", len(batch)).Debug("fused batch published")
	return nil
}

func (p *Producer) handleRequest(payload []byte) {
	var r Request
	if err := json.Unmarshal(payload, &r); err != nil || r.ClientID == "" {
		p.logger.WithError(err).Warn("dropping malformed fused request")
		return
	}

	p.mu.Lock()
	switch r.Op {
	case OpAdd:
		p.active[r.ClientID] = time.Duration(r.IntervalMS) * time.Millisecond
	case OpRemove:
		delete(p.active, r.ClientID)
	}
	n := len(p.active)
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"client_id": r.ClientID,
		"op":        r.Op,
		"active":    n,
	}).Info("fused update request")
}
