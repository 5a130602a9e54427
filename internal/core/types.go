package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrTaskNotFound   = errors.New("import task not found")
	ErrBatchNotFound  = errors.New("import batch not found")
	ErrTaskFinalized  = errors.New("import task already finished")
	ErrEmptyFile      = errors.New("empty file")
	ErrNotSpreadsheet = errors.New("not an xlsx spreadsheet")
	ErrFileTooLarge   = errors.New("file too large")
	ErrHeaderMismatch = errors.New("header row does not match the import template")
	ErrNoFile         = errors.New("no file provided")
	ErrUnsupportedExt = errors.New("unsupported file type")
)

// TaskState is the lifecycle state of an import task.
type TaskState string

const (
	StateProcessing TaskState = "PROCESSING"
	StateCompleted  TaskState = "COMPLETED"
	StateFailed     TaskState = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// TaskStatus is a point-in-time snapshot of an import task. Values returned
// by a TaskStore are copies and never change after they are returned.
type TaskStatus struct {
	TaskID           string     `json:"taskId"`
	BatchID          string     `json:"batchId,omitempty"`
	FileName         string     `json:"fileName"`
	State            TaskState  `json:"state"`
	TotalRows        int        `json:"totalRows"`
	ProcessedRows    int        `json:"processedRows"`
	SuccessRows      int        `json:"successRows"`
	FailedRows       int        `json:"failedRows"`
	Progress         float64    `json:"progress"`
	FailedRowNumbers []int      `json:"failedRowNumbers"`
	Errors           []string   `json:"errors"`
	Error            string     `json:"error,omitempty"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
}

func (s TaskStatus) clone() TaskStatus {
	s.FailedRowNumbers = slices.Clone(s.FailedRowNumbers)
	s.Errors = slices.Clone(s.Errors)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		s.FinishedAt = &t
	}
	return s
}

// share returns a snapshot whose slices alias the receiver's backing arrays
// capped at their current length. Later appends to the receiver never show
// through, and an append on the snapshot reallocates.
func (s TaskStatus) share() TaskStatus {
	s.FailedRowNumbers = s.FailedRowNumbers[:len(s.FailedRowNumbers):len(s.FailedRowNumbers)]
	s.Errors = s.Errors[:len(s.Errors):len(s.Errors)]
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		s.FinishedAt = &t
	}
	return s
}

// recordRow counts one processed row and refreshes progress.
func (s *TaskStatus) recordRow(rowIndex int, rowErr error) {
	s.ProcessedRows++
	if rowErr == nil {
		s.SuccessRows++
	} else {
		s.FailedRows++
		s.FailedRowNumbers = append(s.FailedRowNumbers, rowIndex)
		s.Errors = append(s.Errors, fmt.Sprintf("row %d: %s", rowIndex, rowMessage(rowErr)))
	}
	if s.TotalRows > 0 {
		s.Progress = float64(s.ProcessedRows) / float64(s.TotalRows)
	}
}

// complete moves the task to COMPLETED with progress pinned to 1.
func (s *TaskStatus) complete(at time.Time) {
	s.State = StateCompleted
	s.Progress = 1
	s.FinishedAt = &at
}

// fail moves the task to FAILED, keeping the counts reached so far.
func (s *TaskStatus) fail(cause error, at time.Time) {
	s.State = StateFailed
	s.Error = cause.Error()
	s.FinishedAt = &at
}

// RowFields maps canonical column names to the raw cell text of one row.
type RowFields map[string]string

// Get returns the trimmed value of a column, or "" when absent.
func (f RowFields) Get(column string) string {
	return strings.TrimSpace(f[column])
}

// RowError is a row-level failure: the row is skipped and the run continues.
type RowError struct {
	Field   string
	Message string
	Err     error
}

func (e *RowError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *RowError) Unwrap() error {
	return e.Err
}

func rowErrorf(field, format string, args ...any) *RowError {
	return &RowError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func rowMessage(err error) string {
	var re *RowError
	if errors.As(err, &re) {
		return re.Error()
	}
	return err.Error()
}

// ImportProgress is the client-facing projection of a task.
type ImportProgress struct {
	TaskID           string     `json:"taskId"`
	BatchID          string     `json:"batchId,omitempty"`
	State            TaskState  `json:"state"`
	Progress         float64    `json:"progress"`
	TotalRows        int        `json:"totalRows"`
	ProcessedRows    int        `json:"processedRows"`
	SuccessRows      int        `json:"successRows"`
	FailedRows       int        `json:"failedRows"`
	FailedRowNumbers []int      `json:"failedRowNumbers"`
	Errors           []string   `json:"errors"`
	Error            string     `json:"error,omitempty"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
}

// Percent returns progress as a whole percentage.
func (p ImportProgress) Percent() int {
	return int(p.Progress * 100)
}

func progressFromStatus(s TaskStatus) ImportProgress {
	return ImportProgress{
		TaskID:           s.TaskID,
		BatchID:          s.BatchID,
		State:            s.State,
		Progress:         s.Progress,
		TotalRows:        s.TotalRows,
		ProcessedRows:    s.ProcessedRows,
		SuccessRows:      s.SuccessRows,
		FailedRows:       s.FailedRows,
		FailedRowNumbers: nonNil(s.FailedRowNumbers),
		Errors:           nonNil(s.Errors),
		Error:            s.Error,
		StartedAt:        s.StartedAt,
		FinishedAt:       s.FinishedAt,
	}
}

// ImportResult summarises a finished batch from the persisted records.
type ImportResult struct {
	BatchID      string    `json:"batchId"`
	State        string    `json:"state"`
	FileName     string    `json:"fileName"`
	ImportTime   time.Time `json:"importTime"`
	TotalAssets  int       `json:"totalAssets"`
	SuccessCount int       `json:"successCount"`
	FailedCount  int       `json:"failedCount"`
	ImportUser   string    `json:"importUser,omitempty"`
	CostTime     float64   `json:"costTime"` // seconds
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
