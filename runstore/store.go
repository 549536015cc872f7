// Package runstore owns the per-job artifact directories: the immutable
// request, the latest status snapshot, the corpus streams, the final
// results, and the append-only event log.
//
// Every job exclusively owns its directory under <root>/runs/<job_id>/, so
// no cross-job locking exists here. Within a job the status snapshot is
// overwritten wholesale by the single worker executing it.
package runstore

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/veritas-nexus/veritas/config"
	"github.com/veritas-nexus/veritas/errors"
)

const (
	requestFile = "request.json"
	statusFile  = "status.json"
	resultsFile = "results.json"
	corpusFile  = "corpus.jsonl"
	provFile    = "corpus_prov.jsonl"
	eventsFile  = "events.jsonl"
)

// Status is the wholesale-overwritten snapshot of a job's pipeline position.
type Status struct {
	State    string             `json:"state"`
	Stage    string             `json:"stage"`
	Progress float64            `json:"progress"`
	Metrics  map[string]float64 `json:"metrics"`
	Message  string             `json:"message,omitempty"`
}

// Store resolves job ids to their artifact directories.
type Store struct {
	root string
}

// New creates a store rooted at root. Run directories are created lazily
// under <root>/runs/.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// RunDir returns the artifact directory for a job without creating it.
func (s *Store) RunDir(jobID string) string {
	return filepath.Join(s.root, "runs", jobID)
}

// CreateRun creates a job's directory and persists its immutable request
// plus the initial queued status snapshot.
func (s *Store) CreateRun(jobID string, request any) error {
	dir := s.RunDir(jobID)
	if err := os.MkdirAll(dir, config.DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "create run directory %s", dir)
	}

	if err := s.writeJSON(jobID, requestFile, request); err != nil {
		return err
	}

	return s.WriteStatus(jobID, Status{
		State:    "queued",
		Stage:    "queued",
		Progress: 0.0,
		Metrics:  map[string]float64{},
	})
}

// ReadRequest decodes request.json into out.
func (s *Store) ReadRequest(jobID string, out any) error {
	return s.readJSON(jobID, requestFile, out)
}

// WriteStatus overwrites the status snapshot wholesale. Only the one worker
// executing the job may call this after creation.
func (s *Store) WriteStatus(jobID string, status Status) error {
	return s.writeJSON(jobID, statusFile, status)
}

// ReadStatus loads the latest status snapshot.
func (s *Store) ReadStatus(jobID string) (*Status, error) {
	var status Status
	if err := s.readJSON(jobID, statusFile, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// WriteResults persists the terminal results object. Written exactly once,
// when the job reaches done; the single-writer guarantee enforces the once.
func (s *Store) WriteResults(jobID string, results any) error {
	return s.writeJSON(jobID, resultsFile, results)
}

// ReadResults returns the raw results document, or ErrNotFound while the
// job has not produced one.
func (s *Store) ReadResults(jobID string) (json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(s.RunDir(jobID), resultsFile))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(errors.ErrNotFound, "results for job %s", jobID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read results for job %s", jobID)
	}
	return json.RawMessage(data), nil
}

// CorpusPath returns the canonical corpus stream path.
func (s *Store) CorpusPath(jobID string) string {
	return filepath.Join(s.RunDir(jobID), corpusFile)
}

// ProvCorpusPath returns the provenance corpus stream path.
func (s *Store) ProvCorpusPath(jobID string) string {
	return filepath.Join(s.RunDir(jobID), provFile)
}

// CreateCorpus opens a fresh canonical corpus stream for writing,
// truncating any previous content.
func (s *Store) CreateCorpus(jobID string) (io.WriteCloser, error) {
	return s.createStream(jobID, corpusFile)
}

// OpenCorpus opens the canonical corpus stream for reading.
func (s *Store) OpenCorpus(jobID string) (io.ReadCloser, error) {
	return s.openStream(jobID, corpusFile)
}

// CreateProvCorpus opens a fresh provenance corpus stream for writing.
func (s *Store) CreateProvCorpus(jobID string) (io.WriteCloser, error) {
	return s.createStream(jobID, provFile)
}

// OpenProvCorpus opens the provenance corpus stream for reading.
func (s *Store) OpenProvCorpus(jobID string) (io.ReadCloser, error) {
	return s.openStream(jobID, provFile)
}

func (s *Store) createStream(jobID, name string) (io.WriteCloser, error) {
	path := filepath.Join(s.RunDir(jobID), name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, config.DefaultFilePermissions)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s for job %s", name, jobID)
	}
	return f, nil
}

func (s *Store) openStream(jobID, name string) (io.ReadCloser, error) {
	path := filepath.Join(s.RunDir(jobID), name)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(errors.ErrNotFound, "%s for job %s", name, jobID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s for job %s", name, jobID)
	}
	return f, nil
}

func (s *Store) writeJSON(jobID, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s for job %s", name, jobID)
	}

	path := filepath.Join(s.RunDir(jobID), name)
	if err := os.WriteFile(path, data, config.DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "write %s for job %s", name, jobID)
	}
	return nil
}

func (s *Store) readJSON(jobID, name string, out any) error {
	path := filepath.Join(s.RunDir(jobID), name)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return errors.Wrapf(errors.ErrNotFound, "%s for job %s", name, jobID)
	}
	if err != nil {
		return errors.Wrapf(err, "read %s for job %s", name, jobID)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s for job %s", name, jobID)
	}
	return nil
}
