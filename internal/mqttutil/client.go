// Package mqttutil connects the node to its MQTT broker.
package mqttutil

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/tofcam/internal/monitoring"
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt operation timed out")

// Options configures the broker connection.
type Options struct {
	Broker         string // host:port or a full tcp:// URL
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	// StatusTopic receives a retained "offline" will message.
	StatusTopic string
}

// Connect dials the broker with auto-reconnect enabled.
func Connect(o Options) (mqtt.Client, error) {
	broker := o.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	if o.StatusTopic != "" {
		opts.SetWill(o.StatusTopic, `{"state":"offline"}`, 1, true)
	}
	opts.OnConnect = func(mqtt.Client) {
		monitoring.Infof("mqtt: connected to %s as %s", broker, o.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		monitoring.Warnf("mqtt: connection to %s lost, reconnecting: %v", broker, err)
	}

	c := mqtt.NewClient(opts)
	if err := Wait(c.Connect(), timeout); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return c, nil
}

// Wait blocks on t for at most timeout.
func Wait(t mqtt.Token, timeout time.Duration) error {
	if !t.WaitTimeout(timeout) {
		return ErrTimeout
	}
	return t.Error()
}
