package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newProcessingStatus(id string) TaskStatus {
	return TaskStatus{TaskID: id, State: StateProcessing, StartedAt: time.Now()}
}

func TestMemoryTaskStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	ts := NewMemoryTaskStore(time.Hour)

	if err := ts.Create(ctx, newProcessingStatus("t1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ts.Create(ctx, newProcessingStatus("t1")); err == nil {
		t.Error("Create with a used id should fail")
	}

	got, err := ts.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != StateProcessing {
		t.Errorf("State = %s, want %s", got.State, StateProcessing)
	}

	if _, err := ts.Get(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrTaskNotFound", err)
	}
}

func TestMemoryTaskStore_SnapshotsAreCopies(t *testing.T) {
	ctx := context.Background()
	ts := NewMemoryTaskStore(time.Hour)
	_ = ts.Create(ctx, newProcessingStatus("t1"))

	_, err := ts.Update(ctx, "t1", func(s *TaskStatus) {
		s.TotalRows = 2
		s.recordRow(1, errors.New("bad"))
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	snap, _ := ts.Get(ctx, "t1")
	snap.Errors[0] = "changed"
	snap.FailedRowNumbers[0] = 99

	again, _ := ts.Get(ctx, "t1")
	if again.Errors[0] != "row 1: bad" {
		t.Errorf("Errors[0] = %q, want %q", again.Errors[0], "row 1: bad")
	}
	if again.FailedRowNumbers[0] != 1 {
		t.Errorf("FailedRowNumbers[0] = %d, want 1", again.FailedRowNumbers[0])
	}
}

func TestMemoryTaskStore_TerminalIsFinal(t *testing.T) {
	ctx := context.Background()
	ts := NewMemoryTaskStore(time.Hour)
	_ = ts.Create(ctx, newProcessingStatus("t1"))

	done, err := ts.Update(ctx, "t1", func(s *TaskStatus) { s.complete(time.Now()) })
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Progress != 1 {
		t.Errorf("Progress = %v, want 1", done.Progress)
	}

	called := false
	_, err = ts.Update(ctx, "t1", func(s *TaskStatus) {
		called = true
		s.State = StateProcessing
	})
	if !errors.Is(err, ErrTaskFinalized) {
		t.Errorf("Update after completion error = %v, want ErrTaskFinalized", err)
	}
	if called {
		t.Error("update func must not run on a finished task")
	}

	got, _ := ts.Get(ctx, "t1")
	if got.State != StateCompleted {
		t.Errorf("State = %s, want %s", got.State, StateCompleted)
	}
}

func TestMemoryTaskStore_UpdateKeepsID(t *testing.T) {
	ctx := context.Background()
	ts := NewMemoryTaskStore(time.Hour)
	_ = ts.Create(ctx, newProcessingStatus("t1"))

	got, err := ts.Update(ctx, "t1", func(s *TaskStatus) { s.TaskID = "other" })
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.TaskID != "t1" {
		t.Errorf("TaskID = %q, want t1", got.TaskID)
	}
}

func TestMemoryTaskStore_Sweep(t *testing.T) {
	ctx := context.Background()
	ts := NewMemoryTaskStore(time.Hour)
	now := time.Now()

	_ = ts.Create(ctx, newProcessingStatus("running"))
	_ = ts.Create(ctx, newProcessingStatus("old"))
	_ = ts.Create(ctx, newProcessingStatus("recent"))

	_, _ = ts.Update(ctx, "old", func(s *TaskStatus) { s.complete(now.Add(-2 * time.Hour)) })
	_, _ = ts.Update(ctx, "recent", func(s *TaskStatus) { s.fail(errors.New("boom"), now.Add(-time.Minute)) })

	if removed := ts.Sweep(ctx, now); removed != 1 {
		t.Errorf("Sweep() = %d, want 1", removed)
	}
	if _, err := ts.Get(ctx, "old"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expired task still present: %v", err)
	}
	if _, err := ts.Get(ctx, "recent"); err != nil {
		t.Errorf("recent task evicted: %v", err)
	}

	// processing tasks are never evicted
	if removed := ts.Sweep(ctx, now.Add(48*time.Hour)); removed != 1 {
		t.Errorf("second Sweep() = %d, want 1", removed)
	}
	if ts.Len() != 1 {
		t.Errorf("Len() = %d, want 1", ts.Len())
	}
	if _, err := ts.Get(ctx, "running"); err != nil {
		t.Errorf("processing task evicted: %v", err)
	}
}

func TestTaskStatus_RecordRow(t *testing.T) {
	s := TaskStatus{TotalRows: 4}

	s.recordRow(1, nil)
	s.recordRow(2, rowErrorf(ColStatus, "unknown status %q", "broken"))

	if s.ProcessedRows != 2 || s.SuccessRows != 1 || s.FailedRows != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", s.ProcessedRows, s.SuccessRows, s.FailedRows)
	}
	if s.Progress != 0.5 {
		t.Errorf("Progress = %v, want 0.5", s.Progress)
	}
	want := `row 2: Status: unknown status "broken"`
	if len(s.Errors) != 1 || s.Errors[0] != want {
		t.Errorf("Errors = %q, want [%q]", s.Errors, want)
	}
}

func TestMemoryTaskStore_UpdateSnapshotsStayFixed(t *testing.T) {
	ctx := context.Background()
	ts := NewMemoryTaskStore(time.Hour)
	_ = ts.Create(ctx, newProcessingStatus("t1"))
	_, _ = ts.Update(ctx, "t1", func(s *TaskStatus) { s.TotalRows = 3 })

	first, err := ts.Update(ctx, "t1", func(s *TaskStatus) { s.recordRow(1, errors.New("bad")) })
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	second, _ := ts.Update(ctx, "t1", func(s *TaskStatus) { s.recordRow(2, errors.New("worse")) })

	if len(first.Errors) != 1 || first.FailedRows != 1 {
		t.Errorf("first snapshot changed: errors=%q failed=%d", first.Errors, first.FailedRows)
	}
	if len(second.Errors) != 2 {
		t.Fatalf("second snapshot errors = %q, want 2 entries", second.Errors)
	}

	// appending to a snapshot must not leak into the store
	first.Errors = append(first.Errors, "local")
	_, _ = ts.Update(ctx, "t1", func(s *TaskStatus) { s.recordRow(3, errors.New("third")) })
	got, _ := ts.Get(ctx, "t1")
	if got.Errors[1] != "row 2: worse" || got.Errors[2] != "row 3: third" {
		t.Errorf("Errors = %q", got.Errors)
	}
	if second.Errors[1] != "row 2: worse" {
		t.Errorf("second.Errors[1] = %q, want %q", second.Errors[1], "row 2: worse")
	}
}

func TestMemoryTaskStore_ManyFailingRows(t *testing.T) {
	ctx := context.Background()
	ts := NewMemoryTaskStore(time.Hour)
	_ = ts.Create(ctx, newProcessingStatus("t1"))

	const rows = 50000
	_, _ = ts.Update(ctx, "t1", func(s *TaskStatus) { s.TotalRows = rows })

	rowErr := rowErrorf(ColStatus, "unknown status %q", "on fire")
	start := time.Now()
	for i := 1; i <= rows; i++ {
		if _, err := ts.Update(ctx, "t1", func(s *TaskStatus) { s.recordRow(i, rowErr) }); err != nil {
			t.Fatalf("Update row %d: %v", i, err)
		}
	}
	elapsed := time.Since(start)

	got, _ := ts.Get(ctx, "t1")
	if got.FailedRows != rows || len(got.Errors) != rows || len(got.FailedRowNumbers) != rows {
		t.Fatalf("failed=%d errors=%d numbers=%d, want %d", got.FailedRows, len(got.Errors), len(got.FailedRowNumbers), rows)
	}
	// a copying store needs tens of seconds here
	if elapsed > 5*time.Second {
		t.Errorf("%d failing row updates took %v", rows, elapsed)
	}
}
