// Package types provides core data types shared across splitagg services.
package types

import "time"

// TaskStatus is the lifecycle state of a processing task.
type TaskStatus string

const (
	// StatusQueued is set when the task is created and waiting for a worker.
	StatusQueued TaskStatus = "QUEUED"

	// StatusInProgress is set when a worker picks the task up.
	StatusInProgress TaskStatus = "IN_PROGRESS"

	// StatusCompleted is set once the output file has been produced.
	StatusCompleted TaskStatus = "COMPLETED"

	// StatusFailed is set when validation or processing fails.
	StatusFailed TaskStatus = "FAILED"

	// StatusDownloaded is set after the result has been handed to the client.
	StatusDownloaded TaskStatus = "DOWNLOADED"
)

// IsTerminal reports whether no further processing will happen for the status.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDownloaded:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusCompleted, StatusFailed, StatusDownloaded:
		return true
	default:
		return false
	}
}

// FieldErrors maps a field name to the messages reported for it.
type FieldErrors map[string][]string

// Add appends a message for field.
func (fe FieldErrors) Add(field, message string) {
	fe[field] = append(fe[field], message)
}

// Clone returns a deep copy of fe. A nil map clones to nil.
func (fe FieldErrors) Clone() FieldErrors {
	if fe == nil {
		return nil
	}
	cp := make(FieldErrors, len(fe))
	for field, msgs := range fe {
		cp[field] = append([]string(nil), msgs...)
	}
	return cp
}

// Task is a request to aggregate one CSV input file.
type Task struct {
	// ID identifies the task across the store, the queue and the workspace
	ID string `json:"id"`

	// Status is the current lifecycle state
	Status TaskStatus `json:"status"`

	// InputFilePath points at the uploaded CSV (nil when nothing was uploaded)
	InputFilePath *string `json:"input_file_path"`

	// OutputFilePath points at the aggregated CSV; set only once COMPLETED
	OutputFilePath *string `json:"output_file_path"`

	// ResultObject is the object storage path of the published output, if any
	ResultObject *string `json:"result_object,omitempty"`

	// Errors holds field-level failure messages; non-empty only when FAILED
	Errors FieldErrors `json:"errors"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.InputFilePath = cloneString(t.InputFilePath)
	cp.OutputFilePath = cloneString(t.OutputFilePath)
	cp.ResultObject = cloneString(t.ResultObject)
	cp.Errors = t.Errors.Clone()
	return &cp
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
