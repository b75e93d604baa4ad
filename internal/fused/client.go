package fused

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/locfix/internal/location"
	"github.com/relabs-tech/locfix/internal/observability"
)

// ErrInvalidRequest is returned for update requests the producer cannot serve.
var ErrInvalidRequest = errors.New("invalid fused update request")

// Topics names the MQTT topics shared with the producer.
type Topics struct {
	Updates  string
	Requests string
}

type subscription struct {
	req       location.UpdateRequest
	delivered bool
	last      location.Location
}

// Client implements location.FusedClient over a Conn.
type Client struct {
	conn     Conn
	clientID string
	topics   Topics
	logger   logrus.FieldLogger
	metrics  *observability.Metrics

	// regMu serializes registration changes so subscribe and unsubscribe
	// calls on conn never interleave. mu guards subs and is taken by the
	// message handler.
	regMu      sync.Mutex
	subscribed bool

	mu   sync.Mutex
	subs map[location.LocationCallback]*subscription
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithMetrics counts received fixes.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient returns a fused client identified to the producer as clientID.
func NewClient(conn Conn, clientID string, topics Topics, opts ...ClientOption) *Client {
	c := &Client{
		conn:     conn,
		clientID: clientID,
		topics:   topics,
		logger:   observability.Discard(),
		subs:     make(map[location.LocationCallback]*subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observability.NewMetricsWith(nil)
	}
	return c
}

// RequestLocationUpdates asks the producer for updates and registers cb.
func (c *Client) RequestLocationUpdates(req location.UpdateRequest, cb location.LocationCallback) error {
	if err := validate(req); err != nil {
		return err
	}

	c.regMu.Lock()
	defer c.regMu.Unlock()

	if !c.subscribed {
		if err := c.conn.Subscribe(c.topics.Updates, c.handle); err != nil {
			return err
		}
		c.subscribed = true
	}

	c.mu.Lock()
	c.subs[cb] = &subscription{req: req}
	c.mu.Unlock()

	if err := c.publish(NewAddRequest(c.clientID, req)); err != nil {
		c.removeLocked(cb)
		return err
	}
	c.logger.WithFields(logrus.Fields{
		"priority": req.Priority,
		"interval": req.Interval,
	}).Debug("fused updates requested")
	return nil
}

// RemoveLocationUpdates unregisters cb. The producer tracks clients, not
// callbacks, so the remove request is only published once no callback
// remains, together with the unsubscribe.
func (c *Client) RemoveLocationUpdates(cb location.LocationCallback) {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	c.mu.Lock()
	_, ok := c.subs[cb]
	c.mu.Unlock()
	if !ok {
		return
	}
	if !c.removeLocked(cb) {
		return
	}
	if err := c.publish(Request{ClientID: c.clientID, Op: OpRemove}); err != nil {
		c.logger.WithError(err).Warn("fused remove request not published")
	}
}

// removeLocked drops cb and reports whether it was the last one; regMu
// must be held.
func (c *Client) removeLocked(cb location.LocationCallback) bool {
	c.mu.Lock()
	delete(c.subs, cb)
	empty := len(c.subs) == 0
	c.mu.Unlock()

	if empty && c.subscribed {
		if err := c.conn.Unsubscribe(c.topics.Updates); err != nil {
			c.logger.WithError(err).Warn("fused unsubscribe failed")
		}
		c.subscribed = false
	}
	return empty
}

func (c *Client) publish(r Request) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode fused request: %w", err)
	}
	return c.conn.Publish(c.topics.Requests, false, payload)
}

// handle filters a batch per callback by its min update distance and
// delivers the remainder without holding the lock.
func (c *Client) handle(payload []byte) {
	batch, err := DecodeBatch(payload)
	if err != nil {
		c.logger.WithError(err).Warn("dropping malformed fused batch")
		return
	}
	c.metrics.BackendFixes.WithLabelValues("fused").Add(float64(len(batch)))

	type delivery struct {
		cb   location.LocationCallback
		locs []location.Location
	}
	var out []delivery

	c.mu.Lock()
	for cb, sub := range c.subs {
		var keep []location.Location
		for _, loc := range batch {
			if sub.delivered && location.Distance(sub.last, loc) < sub.req.MinUpdateDistance {
				continue
			}
			sub.delivered = true
			sub.last = loc
			keep = append(keep, loc)
		}
		if len(keep) > 0 {
			out = append(out, delivery{cb: cb, locs: keep})
		}
	}
	c.mu.Unlock()

	for _, d := range out {
		d.cb.OnLocationResult(d.locs)
	}
}

func validate(req location.UpdateRequest) error {
	switch {
	case req.Interval <= 0:
		return fmt.Errorf("%w: interval %v", ErrInvalidRequest, req.Interval)
	case math.IsNaN(req.MinUpdateDistance) || req.MinUpdateDistance < 0:
		return fmt.Errorf("%w: min distance %v", ErrInvalidRequest, req.MinUpdateDistance)
	}
	return nil
}
