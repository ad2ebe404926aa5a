// Package audit appends a JSON-lines trail of job outcomes. Recording is
// asynchronous and never blocks or fails the job it describes; when the
// trail cannot keep up, events are dropped rather than stalling a backup.
package audit

import (
	"encoding/json"
	"sync"
	"time"

	"tunneldump/internal/fs"
	"tunneldump/internal/logger"
)

// queueDepth bounds buffered events between Record and the writer
const queueDepth = 128

// Event is one audit trail entry
type Event struct {
	Time    time.Time      `json:"time"`
	Action  string         `json:"action"`
	Outcome string         `json:"outcome"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder appends events to a JSON-lines file. A nil Recorder and a
// Recorder built with an empty path both discard events, so callers never
// branch on whether auditing is configured.
type Recorder struct {
	log    logger.Logger
	ch     chan Event
	done   chan struct{}
	closed sync.Once
}

// NewRecorder opens the trail at path for appending. An empty path returns
// a disabled recorder.
func NewRecorder(path string, log logger.Logger) (*Recorder, error) {
	if path == "" {
		return nil, nil
	}

	f, err := fs.SecureOpenAppend(path)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		log:  log,
		ch:   make(chan Event, queueDepth),
		done: make(chan struct{}),
	}

	go func() {
		defer close(r.done)
		defer f.Close()
		for ev := range r.ch {
			line, err := json.Marshal(ev)
			if err != nil {
				log.Debug("Dropping unencodable audit event", "action", ev.Action, "error", err)
				continue
			}
			if _, err := f.Write(append(line, '\n')); err != nil {
				log.Warn("Audit trail write failed", "error", err)
			}
		}
	}()
	return r, nil
}

// Record queues an event. It never blocks: when the queue is full the event
// is dropped.
func (r *Recorder) Record(action, outcome string, fields map[string]any) {
	if r == nil {
		return
	}
	ev := Event{
		Time:    time.Now().UTC(),
		Action:  action,
		Outcome: outcome,
		Fields:  fields,
	}
	select {
	case r.ch <- ev:
	default:
		r.log.Debug("Audit queue full, dropping event", "action", action)
	}
}

// Close flushes queued events and closes the trail file
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.closed.Do(func() {
		close(r.ch)
	})
	<-r.done
	return nil
}
