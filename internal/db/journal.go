package db

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/timeutil"
	"github.com/banshee-data/tofcam/internal/tof"
	"github.com/banshee-data/tofcam/internal/tof/acquisition"
	"github.com/banshee-data/tofcam/internal/tof/camera"
)

// Session is a journaled acquisition session.
type Session struct {
	ID         string     `json:"id"`
	Camera     string     `json:"camera"`
	Trigger    string     `json:"trigger"`
	RateHz     float64    `json:"rate_hz,omitempty"`
	Region     string     `json:"region"`
	MinDepthMM int64      `json:"min_depth_mm"`
	MaxDepthMM int64      `json:"max_depth_mm"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Frames     uint64     `json:"frames"`
	Timeouts   uint64     `json:"timeouts"`
	Failures   uint64     `json:"failures"`
	Fault      string     `json:"fault,omitempty"`
}

// FaultRecord is a journaled fault.
type FaultRecord struct {
	ID       string    `json:"id"`
	Camera   string    `json:"camera"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	RaisedAt time.Time `json:"raised_at"`
}

// StateChange is a journaled lifecycle transition.
type StateChange struct {
	Camera    string    `json:"camera"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ChangedAt time.Time `json:"changed_at"`
}

// CodeFunc classifies an error for the faults table.
type CodeFunc func(error) string

// Journal records camera events. It implements camera.Observer; events are
// queued and written by Run so the camera lock is never held across a
// database write.
type Journal struct {
	db     *DB
	camera string
	clock  timeutil.Clock
	code   CodeFunc

	queue   chan func() error
	dropped uint64
	mu      sync.Mutex
}

// NewJournal journals events of the named camera.
func NewJournal(db *DB, cameraName string, clock timeutil.Clock, code CodeFunc) *Journal {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if code == nil {
		code = func(error) string { return "Unknown" }
	}
	return &Journal{
		db:     db,
		camera: cameraName,
		clock:  clock,
		code:   code,
		queue:  make(chan func() error, 256),
	}
}

// Run writes queued events until ctx is done, then drains the queue.
func (j *Journal) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case op := <-j.queue:
					j.apply(op)
				default:
					return
				}
			}
		case op := <-j.queue:
			j.apply(op)
		}
	}
}

// Sync blocks until every event queued before the call is written.
func (j *Journal) Sync(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case j.queue <- func() error { close(done); return nil }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns the number of events lost to a full queue.
func (j *Journal) Dropped() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped
}

func (j *Journal) apply(op func() error) {
	if err := op(); err != nil {
		monitoring.Warnf("journal: %v", err)
	}
}

func (j *Journal) enqueue(op func() error) {
	select {
	case j.queue <- op:
	default:
		j.mu.Lock()
		j.dropped++
		j.mu.Unlock()
		monitoring.Warnf("journal: queue full, event dropped")
	}
}

func (j *Journal) StateChanged(from, to camera.State) {
	at := j.clock.Now().UTC()
	j.enqueue(func() error {
		_, err := j.db.Exec(`INSERT INTO state_changes (camera, from_state, to_state, changed_at) VALUES (?, ?, ?, ?)`,
			j.camera, from.String(), to.String(), at)
		return err
	})
}

func (j *Journal) SessionStarted(info camera.SessionInfo) {
	at := j.clock.Now().UTC()
	j.enqueue(func() error {
		_, err := j.db.Exec(`INSERT INTO sessions (
				session_id, camera, trigger_mode, rate_hz, region, min_depth_mm, max_depth_mm, started_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			info.ID, j.camera, info.Trigger.Kind.String(), info.Trigger.RateHz, info.Region.String(),
			info.Range.MinMM, info.Range.MaxMM, at)
		return err
	})
}

func (j *Journal) SessionEnded(id string, stats acquisition.Stats, fault *tof.Fault) {
	at := j.clock.Now().UTC()
	var msg sql.NullString
	if fault != nil {
		msg = sql.NullString{String: fault.Error(), Valid: true}
	}
	j.enqueue(func() error {
		res, err := j.db.Exec(`UPDATE sessions SET ended_at = ?, frames = ?, timeouts = ?, failures = ?, fault = ?
			WHERE session_id = ?`,
			at, int64(stats.Frames), int64(stats.Timeouts), int64(stats.Failures), msg, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("session %s not found", id)
		}
		return nil
	})
}

func (j *Journal) Fault(err error) {
	at := j.clock.Now().UTC()
	code := j.code(err)
	msg := err.Error()
	j.enqueue(func() error {
		_, err := j.db.Exec(`INSERT INTO faults (fault_id, camera, code, message, raised_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), j.camera, code, msg, at)
		return err
	})
}

// Sessions returns the most recent sessions, newest first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT session_id, camera, trigger_mode, rate_hz, region, min_depth_mm, max_depth_mm,
			started_at, ended_at, frames, timeouts, failures, fault
		FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s        Session
			rate     sql.NullFloat64
			ended    sql.NullTime
			fault    sql.NullString
			frames   int64
			timeouts int64
			failures int64
		)
		if err := rows.Scan(&s.ID, &s.Camera, &s.Trigger, &rate, &s.Region, &s.MinDepthMM, &s.MaxDepthMM,
			&s.StartedAt, &ended, &frames, &timeouts, &failures, &fault); err != nil {
			return nil, err
		}
		s.RateHz = rate.Float64
		if ended.Valid {
			t := ended.Time
			s.EndedAt = &t
		}
		s.Frames, s.Timeouts, s.Failures = uint64(frames), uint64(timeouts), uint64(failures)
		s.Fault = fault.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// Faults returns the most recent faults, newest first.
func (db *DB) Faults(limit int) ([]FaultRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT fault_id, camera, code, message, raised_at
		FROM faults ORDER BY raised_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FaultRecord
	for rows.Next() {
		var f FaultRecord
		if err := rows.Scan(&f.ID, &f.Camera, &f.Code, &f.Message, &f.RaisedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// StateChanges returns transitions in the order they happened.
func (db *DB) StateChanges(limit int) ([]StateChange, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT camera, from_state, to_state, changed_at
		FROM state_changes ORDER BY change_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StateChange
	for rows.Next() {
		var c StateChange
		if err := rows.Scan(&c.Camera, &c.From, &c.To, &c.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}
