package pipeline

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/veritas-nexus/veritas/connector"
	"github.com/veritas-nexus/veritas/errors"
)

// Request defaults, applied explicitly at the decode boundary so the stored
// request.json always carries the effective values.
const (
	DefaultMaxItems   = 10
	DefaultCrawlDepth = 1

	// BudgetGate is the one gate every request carries.
	BudgetGate = "budget_usd_per_run"
)

// DefaultConnector handles requests that name no connectors.
const DefaultConnector = "youtube"

// RunRequest is the immutable submission that defines a run.
type RunRequest struct {
	// Target identifies what to ingest: a channel or playlist URL for
	// youtube, a page URL for web, a path or manifest for document.
	Target string `json:"target"`

	// Connectors names the enabled source connectors in the order
	// discovery consults them.
	Connectors []string `json:"connectors"`

	// MaxItems caps how many discovered items the run ingests.
	MaxItems int `json:"max_items"`

	// CrawlDepth bounds link expansion for depth-aware connectors.
	CrawlDepth int `json:"crawl_depth"`

	// Gates carries numeric execution gates, at minimum budget_usd_per_run.
	Gates map[string]float64 `json:"gates"`

	// Order picks which end of the timeline discovery keeps.
	Order connector.Order `json:"order"`

	// VideoIDs bypasses discovery with an explicit item list, kept in the
	// given order and fetched through the first enabled connector.
	VideoIDs []string `json:"video_ids,omitempty"`

	// Since drops discovered items uploaded before this YYYYMMDD date.
	// Items without an upload date are kept. Empty disables the filter.
	Since string `json:"since,omitempty"`
}

// ParseRunRequest strict-decodes a submission body, applies defaults, and
// validates. Unknown fields are rejected at this boundary, not deeper in.
func ParseRunRequest(r io.Reader) (*RunRequest, error) {
	req, err := decodeRunRequest(r)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// DecodeRunRequest strict-decodes a stored payload and applies defaults.
// Validation stays with the caller, which may fill fields from job context
// first; an empty payload yields a default request.
func DecodeRunRequest(data []byte) (*RunRequest, error) {
	if len(data) == 0 {
		var req RunRequest
		req.ApplyDefaults()
		return &req, nil
	}
	return decodeRunRequest(bytes.NewReader(data))
}

func decodeRunRequest(r io.Reader) (*RunRequest, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var req RunRequest
	if err := dec.Decode(&req); err != nil {
		return nil, errors.NewInvalidRequestError("decode run request: %v", err)
	}
	req.ApplyDefaults()
	return &req, nil
}

// ApplyDefaults fills unset fields in place. Zero values with no run
// meaning (max_items 0, empty order) take their defaults too.
func (r *RunRequest) ApplyDefaults() {
	if len(r.Connectors) == 0 {
		r.Connectors = []string{DefaultConnector}
	}
	if r.MaxItems == 0 {
		r.MaxItems = DefaultMaxItems
	}
	if r.CrawlDepth == 0 {
		r.CrawlDepth = DefaultCrawlDepth
	}
	if r.Order == "" {
		r.Order = connector.OrderOldest
	}
	if r.Gates == nil {
		r.Gates = map[string]float64{}
	}
	if _, ok := r.Gates[BudgetGate]; !ok {
		r.Gates[BudgetGate] = 0.0
	}
}

// Validate rejects requests no stage could execute.
func (r *RunRequest) Validate() error {
	if r.Target == "" {
		return errors.NewInvalidRequestError("target is required")
	}
	if r.MaxItems < 1 {
		return errors.NewInvalidRequestError("max_items must be positive, got %d", r.MaxItems)
	}
	if r.CrawlDepth < 1 {
		return errors.NewInvalidRequestError("crawl_depth must be positive, got %d", r.CrawlDepth)
	}
	if !r.Order.Valid() {
		return errors.NewInvalidRequestError("order must be %q or %q, got %q",
			connector.OrderOldest, connector.OrderNewest, r.Order)
	}
	for _, name := range r.Connectors {
		if name == "" {
			return errors.NewInvalidRequestError("connector names cannot be empty")
		}
	}
	for gate, value := range r.Gates {
		if value < 0 {
			return errors.NewInvalidRequestError("gate %s cannot be negative, got %v", gate, value)
		}
	}
	if r.Since != "" && !validSince(r.Since) {
		return errors.NewInvalidRequestError("since must be YYYYMMDD, got %q", r.Since)
	}
	return nil
}

// BudgetUSD returns the per-run budget gate.
func (r *RunRequest) BudgetUSD() float64 {
	return r.Gates[BudgetGate]
}

// Payload serializes the request for queue transport.
func (r *RunRequest) Payload() (json.RawMessage, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "marshal run request")
	}
	return data, nil
}

func validSince(s string) bool {
	if len(s) != 8 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
