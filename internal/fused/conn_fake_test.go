package fused

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeConn is an in-memory Conn; deliver calls handlers synchronously.
type fakeConn struct {
	mu           sync.Mutex
	handlers     map[string]Handler
	published    []published
	unsubscribed []string
	subErr       error
	pubErr       error
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: map[string]Handler{}}
}

func (c *fakeConn) Publish(topic string, retained bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pubErr != nil {
		return c.pubErr
	}
	c.published = append(c.published, published{topic, retained, payload})
	return nil
}

func (c *fakeConn) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		return c.subErr
	}
	c.handlers[topic] = h
	return nil
}

func (c *fakeConn) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, topic)
	c.unsubscribed = append(c.unsubscribed, topic)
	return nil
}

func (c *fakeConn) subscribedTo(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[topic]
	return ok
}

func (c *fakeConn) deliver(topic string, payload []byte) {
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func (c *fakeConn) publishedOn(topic string) []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []published
	for _, p := range c.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (c *fakeConn) requests(t *testing.T, topic string) []Request {
	t.Helper()
	var out []Request
	for _, p := range c.publishedOn(topic) {
		var r Request
		require.NoError(t, json.Unmarshal(p.payload, &r))
		out = append(out, r)
	}
	return out
}

var testTopics = Topics{Updates: "locfix/updates", Requests: "locfix/requests"}

var baseTime = time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
