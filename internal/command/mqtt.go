package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"google.golang.org/grpc/codes"

	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/mqttutil"
	"github.com/banshee-data/tofcam/internal/tof"
	"github.com/banshee-data/tofcam/internal/tof/acquisition"
	"github.com/banshee-data/tofcam/internal/tof/camera"
)

// Client is the subset of mqtt.Client used by the command surface.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// Topics under a node prefix such as "tofcam/front".
type Topics struct {
	Command string // requests
	Reply   string // replies
	Status  string // retained lifecycle status
	Events  string // session and fault events
}

// NewTopics derives the standard topics from prefix.
func NewTopics(prefix string) Topics {
	return Topics{
		Command: prefix + "/cmd",
		Reply:   prefix + "/reply",
		Status:  prefix + "/status",
		Events:  prefix + "/events",
	}
}

// Event is published on the events topic.
type Event struct {
	Type      string             `json:"type"`
	Time      time.Time          `json:"time"`
	From      *camera.State      `json:"from,omitempty"`
	To        *camera.State      `json:"to,omitempty"`
	Session   string             `json:"session,omitempty"`
	Stats     *acquisition.Stats `json:"stats,omitempty"`
	Message   string             `json:"message,omitempty"`
	ErrorCode string             `json:"code,omitempty"`
}

// EventBuffer is the number of lifecycle events queued for the worker. A
// full queue drops the event.
const EventBuffer = 64

// MQTTServer executes requests from the command topic on a single worker
// goroutine and publishes lifecycle status and events. It implements
// camera.Observer; observer calls only queue work for the worker and never
// wait on the broker.
type MQTTServer struct {
	client  Client
	topics  Topics
	disp    *Dispatcher
	status  func() camera.Status
	timeout time.Duration

	requests chan Request
	events   chan Event
	refresh  chan struct{}
	wg       sync.WaitGroup
}

// NewMQTTServer wires a dispatcher to client. status supplies the retained
// status payload; it may be nil before the camera exists.
func NewMQTTServer(client Client, topics Topics, disp *Dispatcher, status func() camera.Status) *MQTTServer {
	return &MQTTServer{
		client:   client,
		topics:   topics,
		disp:     disp,
		status:   status,
		timeout:  2 * time.Second,
		requests: make(chan Request, 16),
		events:   make(chan Event, EventBuffer),
		refresh:  make(chan struct{}, 1),
	}
}

// SetDispatcher sets the dispatcher when the camera is built after the
// server. It must be called before Start.
func (s *MQTTServer) SetDispatcher(d *Dispatcher) { s.disp = d }

// SetStatusFunc sets the source of the retained status payload.
func (s *MQTTServer) SetStatusFunc(f func() camera.Status) { s.status = f }

// Start subscribes to the command topic and processes requests until ctx is
// done.
func (s *MQTTServer) Start(ctx context.Context) error {
	if s.disp == nil {
		return errors.New("command: no dispatcher")
	}
	if err := mqttutil.Wait(s.client.Subscribe(s.topics.Command, 1, s.onMessage), 5*time.Second); err != nil {
		return err
	}
	monitoring.Infof("command: listening on %s", s.topics.Command)
	s.PublishStatus()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				s.drainEvents()
				return
			case ev := <-s.events:
				s.publish(s.topics.Events, false, ev)
			case req := <-s.requests:
				s.reply(s.disp.Dispatch(req))
			case <-s.refresh:
				s.PublishStatus()
			}
		}
	}()
	return nil
}

// Stop unsubscribes and waits for the worker to exit. ctx passed to Start
// must be cancelled first.
func (s *MQTTServer) Stop() {
	if s.client.IsConnected() {
		if err := mqttutil.Wait(s.client.Unsubscribe(s.topics.Command), s.timeout); err != nil {
			monitoring.Warnf("command: unsubscribe: %v", err)
		}
	}
	s.wg.Wait()
}

func (s *MQTTServer) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var req Request
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		s.reply(Reply{Code: codes.InvalidArgument.String(), Message: "invalid JSON: " + err.Error()})
		return
	}
	select {
	case s.requests <- req:
	default:
		s.reply(Reply{ID: req.ID, Command: req.Command, Code: codes.ResourceExhausted.String(), Message: "command queue full"})
	}
}

func (s *MQTTServer) reply(r Reply) {
	s.publish(s.topics.Reply, false, r)
}

func (s *MQTTServer) publish(topic string, retained bool, v interface{}) {
	if !s.client.IsConnected() {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		monitoring.Warnf("command: marshal for %s: %v", topic, err)
		return
	}
	if err := mqttutil.Wait(s.client.Publish(topic, 1, retained, payload), s.timeout); err != nil {
		monitoring.Warnf("command: publish %s: %v", topic, err)
	}
}

// drainEvents publishes events still queued when the worker stops.
func (s *MQTTServer) drainEvents() {
	for {
		select {
		case ev := <-s.events:
			s.publish(s.topics.Events, false, ev)
		default:
			return
		}
	}
}

func (s *MQTTServer) enqueue(ev Event) {
	select {
	case s.events <- ev:
	default:
		monitoring.Warnf("command: event queue full, dropping %s event", ev.Type)
	}
}

// PublishStatus publishes the retained status snapshot.
func (s *MQTTServer) PublishStatus() {
	if s.status == nil {
		return
	}
	s.publish(s.topics.Status, true, s.status())
}

// StateChanged queues the transition and a status refresh for the worker.
// Observers run under the camera lock, so the status snapshot cannot be
// taken here.
func (s *MQTTServer) StateChanged(from, to camera.State) {
	s.enqueue(Event{Type: "state", Time: time.Now().UTC(), From: &from, To: &to})
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

func (s *MQTTServer) SessionStarted(info camera.SessionInfo) {
	s.enqueue(Event{Type: "session_started", Time: time.Now().UTC(), Session: info.ID})
}

func (s *MQTTServer) SessionEnded(id string, stats acquisition.Stats, fault *tof.Fault) {
	ev := Event{Type: "session_ended", Time: time.Now().UTC(), Session: id, Stats: &stats}
	if fault != nil {
		ev.Message = fault.Message
		ev.ErrorCode = Code(*fault).String()
	}
	s.enqueue(ev)
}

func (s *MQTTServer) Fault(err error) {
	s.enqueue(Event{
		Type:      "fault",
		Time:      time.Now().UTC(),
		Message:   err.Error(),
		ErrorCode: Code(err).String(),
	})
}
