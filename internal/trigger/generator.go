// Package trigger drives an external trigger generator over a serial line.
//
// The generator speaks a newline-terminated text protocol:
//
//	ARM <generator> <output> <offset_us> <period_us>
//	DISARM <generator>
//
// and answers every command with either "OK" or "ERR <reason>". Other lines
// (status chatter) are ignored.
package trigger

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/serialmux"
)

var (
	// ErrRejected means the generator answered ERR.
	ErrRejected = errors.New("trigger generator rejected command")
	// ErrNoReply means no answer arrived within the reply timeout.
	ErrNoReply = errors.New("trigger generator did not reply")
)

// Config addresses one output of one generator.
type Config struct {
	GeneratorID  int           `json:"generator_id"`
	CameraOutput int           `json:"camera_output"`
	OffsetUS     int64         `json:"offset_us"`
	ReplyTimeout time.Duration `json:"-"`
}

// DefaultReplyTimeout bounds the wait for OK/ERR.
const DefaultReplyTimeout = time.Second

// Generator implements camera.TriggerGenerator over a serial mux. The mux's
// Monitor must be running for replies to arrive.
type Generator struct {
	mux serialmux.SerialMuxInterface
	cfg Config

	mu     sync.Mutex
	armed  bool
	period int64
}

// NewGenerator creates a generator client.
func NewGenerator(mux serialmux.SerialMuxInterface, cfg Config) *Generator {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	return &Generator{mux: mux, cfg: cfg}
}

// Arm starts pulses on the camera output with the given period.
func (g *Generator) Arm(periodUS int64) error {
	if periodUS <= 0 {
		return fmt.Errorf("invalid trigger period %d us", periodUS)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	cmd := fmt.Sprintf("ARM %d %d %d %d", g.cfg.GeneratorID, g.cfg.CameraOutput, g.cfg.OffsetUS, periodUS)
	if err := g.exchange(cmd); err != nil {
		return err
	}
	g.armed = true
	g.period = periodUS
	monitoring.Infof("trigger generator %d armed: output %d, offset %d us, period %d us",
		g.cfg.GeneratorID, g.cfg.CameraOutput, g.cfg.OffsetUS, periodUS)
	return nil
}

// Disarm stops the generator. The generator is considered disarmed even if
// the command fails.
func (g *Generator) Disarm() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.armed = false
	if err := g.exchange(fmt.Sprintf("DISARM %d", g.cfg.GeneratorID)); err != nil {
		return err
	}
	monitoring.Infof("trigger generator %d disarmed", g.cfg.GeneratorID)
	return nil
}

// Armed reports whether the last Arm succeeded and no Disarm followed, and
// the armed period.
func (g *Generator) Armed() (bool, int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed, g.period
}

func (g *Generator) exchange(cmd string) error {
	id, replies := g.mux.Subscribe()
	defer g.mux.Unsubscribe(id)

	if err := g.mux.SendCommand(cmd); err != nil {
		return fmt.Errorf("send %q: %w", cmd, err)
	}

	timer := time.NewTimer(g.cfg.ReplyTimeout)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-replies:
			if !ok {
				return fmt.Errorf("%w to %q: link closed", ErrNoReply, cmd)
			}
			ok, reason, matched := parseReply(line)
			if !matched {
				monitoring.Debugf("trigger: ignoring %q", line)
				continue
			}
			if !ok {
				return fmt.Errorf("%w %q: %s", ErrRejected, cmd, reason)
			}
			return nil
		case <-timer.C:
			return fmt.Errorf("%w to %q within %s", ErrNoReply, cmd, g.cfg.ReplyTimeout)
		}
	}
}

func parseReply(line string) (ok bool, reason string, matched bool) {
	line = strings.TrimSpace(line)
	switch {
	case line == "OK":
		return true, "", true
	case line == "ERR":
		return false, "unspecified", true
	case strings.HasPrefix(line, "ERR "):
		return false, strings.TrimSpace(line[len("ERR "):]), true
	}
	return false, "", false
}
