package runstore

import (
	"bufio"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/mr-tron/base58"

	"github.com/veritas-nexus/veritas/config"
	"github.com/veritas-nexus/veritas/errors"
)

// Event is one line in a job's append-only event log. The log records every
// stage transition in order; snapshots in status.json overwrite each other,
// the event log never does.
type Event struct {
	EventID  string    `json:"event_id"`
	TS       time.Time `json:"ts"`
	Stage    string    `json:"stage"`
	State    string    `json:"state"`
	Progress float64   `json:"progress"`
	Note     string    `json:"note,omitempty"`
}

// NewEvent stamps a transition with a fresh id and the current time.
func NewEvent(stage, state string, progress float64, note string) (Event, error) {
	id, err := newEventID()
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:  id,
		TS:       time.Now().UTC(),
		Stage:    stage,
		State:    state,
		Progress: progress,
		Note:     note,
	}, nil
}

func newEventID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "failed to generate event id")
	}
	return base58.Encode(buf), nil
}

// AppendEvent appends one event line to the job's events.jsonl.
func (s *Store) AppendEvent(jobID string, ev Event) error {
	path := filepath.Join(s.RunDir(jobID), eventsFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, config.DefaultFilePermissions)
	if err != nil {
		return errors.Wrapf(err, "open event log for job %s", jobID)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return errors.Wrapf(err, "append event for job %s", jobID)
	}
	return nil
}

// ReadEvents loads a job's full event log in append order. A job with no
// recorded events yields an empty slice, not an error.
func (s *Store) ReadEvents(jobID string) ([]Event, error) {
	path := filepath.Join(s.RunDir(jobID), eventsFile)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return []Event{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open event log for job %s", jobID)
	}
	defer f.Close()

	events := []Event{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, errors.Wrapf(err, "decode event %d for job %s", len(events)+1, jobID)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read event log for job %s", jobID)
	}
	return events, nil
}
