// Package mqtttest provides an in-memory MQTT client for tests.
package mqtttest

import (
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Token completes once release is closed; a nil release is already
// complete.
type Token struct {
	Err     error
	release <-chan struct{}
}

func (t *Token) Wait() bool {
	<-t.Done()
	return true
}

func (t *Token) WaitTimeout(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.Done():
		return true
	case <-timer.C:
		return false
	}
}

func (t *Token) Error() error { return t.Err }

func (t *Token) Done() <-chan struct{} {
	if t.release != nil {
		return t.release
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Message is a received or published message.
type Message struct {
	TopicName string
	QoS       byte
	Retain    bool
	Body      []byte
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return m.QoS }
func (m *Message) Retained() bool    { return m.Retain }
func (m *Message) Topic() string     { return m.TopicName }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.Body }
func (m *Message) Ack()              {}

// Client records publishes and routes them to matching subscriptions.
// Methods not listed panic through the nil embedded interface.
type Client struct {
	mqtt.Client

	mu         sync.Mutex
	connected  bool
	published  []*Message
	handlers   map[string]mqtt.MessageHandler
	PublishErr error
	// Hold, when set, keeps publish tokens pending until it is closed.
	Hold chan struct{}
}

// NewClient returns a connected fake client.
func NewClient() *Client {
	return &Client{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetConnected flips the connection state.
func (c *Client) SetConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) Disconnect(uint) { c.SetConnected(false) }

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	case string:
		body = []byte(p)
	}
	c.mu.Lock()
	if c.PublishErr != nil {
		err := c.PublishErr
		c.mu.Unlock()
		return &Token{Err: err}
	}
	msg := &Message{TopicName: topic, QoS: qos, Retain: retained, Body: body}
	c.published = append(c.published, msg)
	var matched []mqtt.MessageHandler
	for filter, h := range c.handlers {
		if Match(filter, topic) {
			matched = append(matched, h)
		}
	}
	hold := c.Hold
	c.mu.Unlock()
	for _, h := range matched {
		h(c, msg)
	}
	if hold != nil {
		return &Token{release: hold}
	}
	return &Token{}
}

func (c *Client) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
	return &Token{}
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
	}
	return &Token{}
}

// Published returns the messages published on topic.
func (c *Client) Published(topic string) []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Message
	for _, m := range c.published {
		if m.TopicName == topic {
			out = append(out, m)
		}
	}
	return out
}

// Subscribed reports whether a handler is registered for filter.
func (c *Client) Subscribed(filter string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[filter]
	return ok
}

// Match reports whether topic matches an MQTT filter with + and # wildcards.
func Match(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
