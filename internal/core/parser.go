package core

// parser.go walks an uploaded workbook row by row.
//
// Parsing is split in two so the caller can hand the task id back before any
// row is read:
//  1. Begin checks the upload, opens the workbook and registers the task
//  2. ImportTask.Run reads the sheet and feeds every data row to a RowProcessor
//
// Rows are processed sequentially. The task snapshot is replaced after every
// row, so pollers always see consistent counts.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// RowProcessor converts one data row into domain writes. A returned error
// marks the row as failed; the run continues with the next row.
type RowProcessor interface {
	ProcessRow(ctx context.Context, fields RowFields, rowIndex int) error
}

// RowProcessorFunc adapts a function to RowProcessor.
type RowProcessorFunc func(ctx context.Context, fields RowFields, rowIndex int) error

func (f RowProcessorFunc) ProcessRow(ctx context.Context, fields RowFields, rowIndex int) error {
	return f(ctx, fields, rowIndex)
}

// HeaderPreparer is implemented by processors that own the header layout.
// PrepareHeader returns the column name for each header cell; an error
// fails the whole task.
type HeaderPreparer interface {
	PrepareHeader(header []string) ([]string, error)
}

// Upload is a workbook received for import.
type Upload struct {
	FileName string
	Data     []byte
	BatchID  string // optional, copied into the task snapshot
}

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Parser registers and runs import tasks.
type Parser struct {
	tasks TaskStore
	sheet string
	now   func() time.Time
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithSheet reads the named worksheet instead of the first one.
func WithSheet(name string) ParserOption {
	return func(p *Parser) { p.sheet = name }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ParserOption {
	return func(p *Parser) { p.now = now }
}

func NewParser(tasks TaskStore, opts ...ParserOption) *Parser {
	p := &Parser{tasks: tasks, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Begin validates the upload, opens it as a workbook and registers a task
// in PROCESSING. No task is created when validation fails. The returned
// task must be Run or Abort-ed to release the workbook.
func (p *Parser) Begin(ctx context.Context, u Upload) (*ImportTask, error) {
	if len(u.Data) == 0 {
		return nil, ErrEmptyFile
	}
	if bytes.HasPrefix(u.Data, oleMagic) {
		return nil, fmt.Errorf("%w: legacy .xls workbooks are not supported, save the file as .xlsx", ErrNotSpreadsheet)
	}
	if !bytes.HasPrefix(u.Data, zipMagic) {
		return nil, ErrNotSpreadsheet
	}

	f, err := excelize.OpenReader(bytes.NewReader(u.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSpreadsheet, err)
	}

	task := &ImportTask{
		id:     uuid.NewString(),
		parser: p,
		file:   f,
		done:   make(chan struct{}),
	}

	status := TaskStatus{
		TaskID:    task.id,
		BatchID:   u.BatchID,
		FileName:  u.FileName,
		State:     StateProcessing,
		StartedAt: p.now(),
	}
	if err := p.tasks.Create(ctx, status); err != nil {
		f.Close()
		return nil, fmt.Errorf("register task: %w", err)
	}
	return task, nil
}

// ParseFile registers a task and processes it synchronously. The task id is
// returned even when the run ends in FAILED.
func (p *Parser) ParseFile(ctx context.Context, u Upload, proc RowProcessor) (string, error) {
	task, err := p.Begin(ctx, u)
	if err != nil {
		return "", err
	}
	task.Run(ctx, proc)
	return task.ID(), nil
}

// TaskStatus returns the current snapshot of a task.
func (p *Parser) TaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	return p.tasks.Get(ctx, taskID)
}

// ImportTask is the owning handle of one registered import.
type ImportTask struct {
	id     string
	parser *Parser
	file   *excelize.File

	once  sync.Once
	done  chan struct{}
	final TaskStatus
}

func (t *ImportTask) ID() string { return t.id }

// Done is closed once the task reached a terminal state.
func (t *ImportTask) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx ends.
func (t *ImportTask) Wait(ctx context.Context) (TaskStatus, error) {
	select {
	case <-t.done:
		return t.final, nil
	case <-ctx.Done():
		return TaskStatus{}, ctx.Err()
	}
}

// Run processes every data row with proc and returns the final snapshot.
// Calling Run again returns the same snapshot without re-reading the file.
func (t *ImportTask) Run(ctx context.Context, proc RowProcessor) TaskStatus {
	t.once.Do(func() {
		defer close(t.done)
		defer t.file.Close()
		t.final = t.run(ctx, proc)
	})
	<-t.done
	return t.final
}

// Abort fails a task that will not be run.
func (t *ImportTask) Abort(ctx context.Context, cause error) TaskStatus {
	t.once.Do(func() {
		defer close(t.done)
		defer t.file.Close()
		t.final = t.finish(ctx, func(s *TaskStatus) { s.fail(cause, t.parser.now()) })
	})
	<-t.done
	return t.final
}

func (t *ImportTask) run(ctx context.Context, proc RowProcessor) TaskStatus {
	sheet := t.parser.sheet
	if sheet == "" {
		sheets := t.file.GetSheetList()
		if len(sheets) == 0 {
			return t.fail(ctx, errors.New("workbook has no sheets"))
		}
		sheet = sheets[0]
	}

	rows, err := t.file.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return t.fail(ctx, fmt.Errorf("read sheet %q: %w", sheet, err))
	}
	if len(rows) == 0 {
		return t.fail(ctx, fmt.Errorf("%w: sheet %q has no header row", ErrHeaderMismatch, sheet))
	}

	columns, err := prepareHeader(rows[0], proc)
	if err != nil {
		return t.fail(ctx, err)
	}

	type dataRow struct {
		index int
		cells []string
	}
	var data []dataRow
	for i, cells := range rows[1:] {
		if isBlankRow(cells) {
			continue
		}
		data = append(data, dataRow{index: i + 1, cells: cells})
	}

	if _, err := t.parser.tasks.Update(ctx, t.id, func(s *TaskStatus) { s.TotalRows = len(data) }); err != nil {
		return t.snapshot(ctx)
	}

	for _, row := range data {
		if err := ctx.Err(); err != nil {
			return t.fail(ctx, fmt.Errorf("import interrupted: %w", err))
		}

		rowErr := safeProcess(ctx, proc, toFields(columns, row.cells), row.index)
		if rowErr != nil && ctx.Err() != nil && errors.Is(rowErr, ctx.Err()) {
			return t.fail(ctx, fmt.Errorf("import interrupted: %w", ctx.Err()))
		}

		if _, err := t.parser.tasks.Update(ctx, t.id, func(s *TaskStatus) { s.recordRow(row.index, rowErr) }); err != nil {
			slog.Warn("task update rejected", "task_id", t.id, "error", err)
			return t.snapshot(ctx)
		}
	}

	return t.finish(ctx, func(s *TaskStatus) { s.complete(t.parser.now()) })
}

func (t *ImportTask) fail(ctx context.Context, cause error) TaskStatus {
	return t.finish(ctx, func(s *TaskStatus) { s.fail(cause, t.parser.now()) })
}

// finish applies the terminal transition. The task store is written with a
// context detached from cancellation so an interrupted run is still recorded.
func (t *ImportTask) finish(ctx context.Context, fn func(*TaskStatus)) TaskStatus {
	final, err := t.parser.tasks.Update(context.WithoutCancel(ctx), t.id, fn)
	if err != nil {
		return t.snapshot(ctx)
	}
	return final
}

func (t *ImportTask) snapshot(ctx context.Context) TaskStatus {
	s, _ := t.parser.tasks.Get(context.WithoutCancel(ctx), t.id)
	return s
}

func prepareHeader(header []string, proc RowProcessor) ([]string, error) {
	if hp, ok := proc.(HeaderPreparer); ok {
		return hp.PrepareHeader(header)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}
	return columns, nil
}

// safeProcess runs one row, turning a panic into a row failure.
func safeProcess(ctx context.Context, proc RowProcessor, fields RowFields, rowIndex int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("row processor panic", "row", rowIndex, "panic", r)
			err = &RowError{Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()
	return proc.ProcessRow(ctx, fields, rowIndex)
}

func toFields(columns, cells []string) RowFields {
	fields := make(RowFields, len(columns))
	for i, col := range columns {
		if col == "" {
			continue
		}
		if _, seen := fields[col]; seen {
			continue
		}
		if i < len(cells) {
			fields[col] = cells[i]
		} else {
			fields[col] = ""
		}
	}
	return fields
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
