package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/mqttutil"
	"github.com/banshee-data/tofcam/internal/tof"
	"github.com/banshee-data/tofcam/internal/tof/frames"
)

// ErrNotConnected is returned when the broker connection is down.
var ErrNotConnected = errors.New("mqtt not connected")

// Message is the JSON payload of a published frame. Validity carries one
// byte per pixel (0 valid, 1 range error) and is base64 encoded by
// encoding/json.
type Message struct {
	Timestamp time.Time  `json:"timestamp"`
	Region    tof.Region `json:"region"`
	Distances []float32  `json:"distances"`
	Validity  []byte     `json:"validity"`
	Valid     int        `json:"valid_pixels"`
	Overall   string     `json:"overall_validity"`
}

// NewMessage converts a frame to its wire form.
func NewMessage(f frames.Frame) Message {
	m := Message{
		Timestamp: f.Attributes.Timestamp,
		Region:    f.Region,
		Distances: make([]float32, len(f.Distances)),
		Validity:  make([]byte, len(f.Validity)),
		Valid:     f.ValidCount(),
		Overall:   "valid",
	}
	if f.Attributes.Validity != frames.SampleValid {
		m.Overall = "invalid"
	}
	for i, d := range f.Distances {
		m.Distances[i] = float32(d)
	}
	for i, v := range f.Validity {
		m.Validity[i] = byte(v)
	}
	return m
}

// MQTTClient is the subset of mqtt.Client used for publishing.
type MQTTClient interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTStats counts publisher outcomes.
type MQTTStats struct {
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// MQTTPublisher sends frames to a topic as JSON.
type MQTTPublisher struct {
	client  MQTTClient
	topic   string
	qos     byte
	timeout time.Duration

	published atomic.Uint64
	errors    atomic.Uint64
}

// NewMQTTPublisher publishes to topic with QoS 0.
func NewMQTTPublisher(client MQTTClient, topic string) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic, timeout: 2 * time.Second}
}

// SetQoS sets the publish QoS level.
func (p *MQTTPublisher) SetQoS(qos byte) { p.qos = qos }

// Topic returns the frame topic.
func (p *MQTTPublisher) Topic() string { return p.topic }

// PublishFrame encodes and sends one frame.
func (p *MQTTPublisher) PublishFrame(f frames.Frame) error {
	if !p.client.IsConnected() {
		p.errors.Add(1)
		return ErrNotConnected
	}
	payload, err := json.Marshal(NewMessage(f))
	if err != nil {
		p.errors.Add(1)
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := mqttutil.Wait(p.client.Publish(p.topic, p.qos, false, payload), p.timeout); err != nil {
		p.errors.Add(1)
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	p.published.Add(1)
	return nil
}

// Run publishes frames from ch until ctx is done or ch is closed. Errors
// are logged and counted; the frame is dropped.
func (p *MQTTPublisher) Run(ctx context.Context, ch <-chan frames.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-ch:
			if !ok {
				return
			}
			if err := p.PublishFrame(f); err != nil {
				monitoring.Debugf("mqtt publisher: %v", err)
			}
		}
	}
}

// Stats returns publisher counters.
func (p *MQTTPublisher) Stats() MQTTStats {
	return MQTTStats{Published: p.published.Load(), Errors: p.errors.Load()}
}
