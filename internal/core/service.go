package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/itassets/internal/logging"
	"github.com/JonMunkholm/itassets/internal/store"
)

// DefaultImportTimeout bounds one background import run.
const DefaultImportTimeout = 30 * time.Minute

// DefaultMaxFileSize is the upload size limit when none is configured.
const DefaultMaxFileSize = 20 << 20

// finishTimeout bounds writing the batch outcome after a run.
const finishTimeout = 10 * time.Second

var allowedExtensions = map[string]bool{
	".xlsx": true,
	".xlsm": true,
}

// ServiceConfig holds the import limits.
type ServiceConfig struct {
	MaxFileSize   int64
	MaxConcurrent int
	MaxWaitTime   time.Duration
	TaskTTL       time.Duration
	Timeout       time.Duration
	SheetName     string
}

// Service runs Excel imports in the background and answers progress and
// result queries.
type Service struct {
	store   store.Store
	tasks   TaskStore
	parser  *Parser
	limiter *ImportLimiter
	cfg     ServiceConfig
	now     func() time.Time

	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu      sync.Mutex
	running map[string]*importRun
}

// importRun is the service's handle on one background import. done closes
// after the batch record is finalised.
type importRun struct {
	task *ImportTask
	done chan struct{}
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithTaskStore replaces the in-memory task store.
func WithTaskStore(ts TaskStore) ServiceOption {
	return func(s *Service) { s.tasks = ts }
}

// WithServiceClock replaces time.Now, for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service persisting through st.
func NewService(st store.Store, cfg ServiceConfig, opts ...ServiceOption) *Service {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultImportTimeout
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:     st,
		limiter:   NewImportLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		cfg:       cfg,
		now:       time.Now,
		baseCtx:   baseCtx,
		cancelAll: cancel,
		running:   make(map[string]*importRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tasks == nil {
		s.tasks = NewMemoryTaskStore(cfg.TaskTTL)
	}

	var parserOpts []ParserOption
	if cfg.SheetName != "" {
		parserOpts = append(parserOpts, WithSheet(cfg.SheetName))
	}
	parserOpts = append(parserOpts, WithClock(s.now))
	s.parser = NewParser(s.tasks, parserOpts...)
	return s
}

// ImportExcelAsync validates the upload, registers an import task and
// starts processing it in the background. The returned task id is
// queryable as soon as the call returns.
func (s *Service) ImportExcelAsync(ctx context.Context, fileName string, data []byte) (string, error) {
	if fileName == "" && len(data) == 0 {
		return "", ErrNoFile
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("%w %q: upload an .xlsx workbook", ErrUnsupportedExt, ext)
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		return "", fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrFileTooLarge, len(data), s.cfg.MaxFileSize)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	batchID := NewBatchID(s.now())
	task, err := s.parser.Begin(ctx, Upload{FileName: fileName, Data: data, BatchID: batchID})
	if err != nil {
		s.limiter.Release()
		return "", err
	}

	log := logging.WithFields(ctx, "task_id", task.ID(), "batch_id", batchID, "file", fileName)

	batch := store.Batch{
		ID:         batchID,
		TaskID:     task.ID(),
		FileName:   fileName,
		ImportedBy: ClientIPFromContext(ctx),
		State:      store.BatchProcessing,
		StartedAt:  s.now(),
	}
	if err := s.store.CreateBatch(ctx, batch); err != nil {
		task.Abort(ctx, fmt.Errorf("create batch: %w", err))
		s.limiter.Release()
		log.Error("failed to record import batch", "error", err)
		return "", fmt.Errorf("create batch: %w", err)
	}

	r := &importRun{task: task, done: make(chan struct{})}
	s.mu.Lock()
	s.running[task.ID()] = r
	s.mu.Unlock()

	log.Info("import accepted",
		"size_bytes", len(data),
		"client_ip", batch.ImportedBy,
		"user_agent", UserAgentFromContext(ctx),
	)

	go s.run(r, batchID, log)

	return task.ID(), nil
}

// run processes one task and finalises its batch record.
func (s *Service) run(r *importRun, batchID string, log *slog.Logger) {
	defer s.forget(r)
	defer s.limiter.Release()
	task := r.task

	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	final := s.runRecovered(ctx, task, batchID, log)

	s.finishBatch(batchID, final, log)

	log.Info("import finished",
		"state", final.State,
		"total_rows", final.TotalRows,
		"success_rows", final.SuccessRows,
		"failed_rows", final.FailedRows,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (s *Service) runRecovered(ctx context.Context, task *ImportTask, batchID string, log *slog.Logger) (final TaskStatus) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("import panicked", "panic", r)
			cause := fmt.Errorf("import panicked: %v", r)
			var err error
			final, err = s.tasks.Update(context.WithoutCancel(ctx), task.ID(), func(st *TaskStatus) { st.fail(cause, s.now()) })
			if err != nil {
				final, _ = s.tasks.Get(context.WithoutCancel(ctx), task.ID())
			}
		}
	}()

	log.Debug("import started")
	final = task.Run(ctx, NewAssetRowProcessor(s.store, batchID))
	for i, msg := range final.Errors {
		log.Debug("row failed", "row", final.FailedRowNumbers[i], "error", msg)
	}
	if final.State == StateFailed {
		log.Warn("import failed", "error", final.Error)
	}
	return final
}

func (s *Service) finishBatch(batchID string, final TaskStatus, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	finishedAt := s.now()
	if final.FinishedAt != nil {
		finishedAt = *final.FinishedAt
	}
	state := store.BatchCompleted
	if final.State != StateCompleted {
		state = store.BatchFailed
	}

	err := s.store.FinishBatch(ctx, batchID, store.BatchOutcome{
		State:       state,
		TotalRows:   final.TotalRows,
		SuccessRows: final.SuccessRows,
		FailedRows:  final.FailedRows,
		Error:       final.Error,
		FinishedAt:  finishedAt,
	})
	if err != nil {
		log.Error("failed to finalise import batch", "error", err)
	}
}

func (s *Service) forget(r *importRun) {
	s.mu.Lock()
	delete(s.running, r.task.ID())
	s.mu.Unlock()
	close(r.done)
}

// WaitForTask blocks until a background import and its batch record are
// finished, then returns the final progress.
func (s *Service) WaitForTask(ctx context.Context, taskID string) (ImportProgress, error) {
	s.mu.Lock()
	r, ok := s.running[taskID]
	s.mu.Unlock()

	if ok {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ImportProgress{}, ctx.Err()
		}
	}
	return s.GetImportProgress(ctx, taskID)
}

// GetImportProgress returns the current progress of a task.
func (s *Service) GetImportProgress(ctx context.Context, taskID string) (ImportProgress, error) {
	status, err := s.parser.TaskStatus(ctx, taskID)
	if err != nil {
		return ImportProgress{}, err
	}
	return progressFromStatus(status), nil
}

// GetImportResult summarises a batch from the persisted records. The
// success count is the number of assets stamped with the batch id.
func (s *Service) GetImportResult(ctx context.Context, batchID string) (ImportResult, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ImportResult{}, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
		}
		return ImportResult{}, fmt.Errorf("get batch: %w", err)
	}

	success, err := s.store.CountAssetsByBatch(ctx, batchID)
	if err != nil {
		return ImportResult{}, fmt.Errorf("count batch assets: %w", err)
	}

	total := batch.TotalRows
	if success > total {
		total = success
	}

	result := ImportResult{
		BatchID:      batch.ID,
		State:        batch.State,
		FileName:     batch.FileName,
		ImportTime:   batch.StartedAt,
		TotalAssets:  total,
		SuccessCount: success,
		FailedCount:  total - success,
		ImportUser:   batch.ImportedBy,
	}
	if batch.FinishedAt != nil {
		result.CostTime = batch.FinishedAt.Sub(batch.StartedAt).Seconds()
	} else {
		result.CostTime = s.now().Sub(batch.StartedAt).Seconds()
	}
	return result, nil
}

// LimiterStatus reports import slot usage.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until every running import finished. When ctx
// ends first, the remaining imports are interrupted and marked FAILED.
func (s *Service) WaitForImports(ctx context.Context) error {
	err := s.limiter.WaitForDrain(ctx)
	if err == nil {
		return nil
	}

	s.cancelAll()

	s.mu.Lock()
	runs := make([]*importRun, 0, len(s.running))
	for _, r := range s.running {
		runs = append(runs, r)
	}
	s.mu.Unlock()

	deadline := time.After(finishTimeout)
	for _, r := range runs {
		select {
		case <-r.done:
		case <-deadline:
			return err
		}
	}
	return err
}

// Ping checks the persistence layer.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
