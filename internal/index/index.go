// Package index drives the external search-index service: per-matter stores,
// document indexing jobs and store-scoped question answering.
package index

import (
	"context"
	"errors"
	"fmt"
)

// ErrStoreNotFound is returned by LookupStore when a matter has no store yet.
var ErrStoreNotFound = errors.New("index: store not found")

// State is the lifecycle position of an indexing job.
type State string

const (
	StateSubmitted State = "submitted"
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// Upload is the payload handed to a backend for indexing.
type Upload struct {
	Content     []byte
	DisplayName string
	MIMEType    string
}

// FileRef identifies an already indexed file for query grounding.
type FileRef struct {
	Name        string
	URI         string
	MIMEType    string
	DisplayName string
}

// Job is the handle of one in-flight indexing operation.
type Job struct {
	// ID is the backend's operation name.
	ID        string
	StoreName string
	FileName  string
	FileURI   string
	MIMEType  string

	state   State
	outcome Outcome
	// handle carries backend specific operation state between polls.
	handle any
}

// State returns the job's current state.
func (j *Job) State() State {
	if j.state == "" {
		return StateSubmitted
	}
	return j.state
}

// Status is a single observation of an external operation.
type Status struct {
	Done  bool
	Error string
}

// Outcome is the result of AwaitCompletion.
type Outcome struct {
	State    State  `json:"state"`
	Attempts int    `json:"attempts"`
	FileName string `json:"file_name,omitempty"`
	FileURI  string `json:"file_uri,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Backend is the external index service. Implementations are selected by config.
type Backend interface {
	Name() string
	CreateStore(ctx context.Context, displayName string) (string, error)
	Submit(ctx context.Context, storeName string, upload Upload) (*Job, error)
	Status(ctx context.Context, job *Job) (Status, error)
	Query(ctx context.Context, storeName, question string, refs []FileRef) (string, error)
}

// QueryError wraps a backend failure while answering a question.
type QueryError struct {
	StoreName string
	Err       error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query store %s: %v", e.StoreName, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// DisplayName is the human readable store label for a matter.
func DisplayName(matterID string) string {
	return "Matter-" + matterID
}
