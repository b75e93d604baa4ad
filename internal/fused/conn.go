package fused

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler receives a message payload.
type Handler func(payload []byte)

// Conn is the pub/sub transport used by the client and producer.
type Conn interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, h Handler) error
	Unsubscribe(topic string) error
}

// Connect dials an MQTT broker. Handlers run unordered so a handler may
// publish or unsubscribe and wait for the token.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return client, nil
}

type pahoConn struct {
	client mqtt.Client
	qos    byte
}

// NewPahoConn adapts a connected paho client. Messages use QoS 0.
func NewPahoConn(client mqtt.Client) Conn {
	return &pahoConn{client: client}
}

func (c *pahoConn) Publish(topic string, retained bool, payload []byte) error {
	token := c.client.Publish(topic, c.qos, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *pahoConn) Subscribe(topic string, h Handler) error {
	token := c.client.Subscribe(topic, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (c *pahoConn) Unsubscribe(topic string) error {
	token := c.client.Unsubscribe(topic)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}
