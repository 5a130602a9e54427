package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/itassets/internal/core"
	"github.com/JonMunkholm/itassets/internal/logging"
	"github.com/JonMunkholm/itassets/internal/web/views"
)

// multipartSlack covers the multipart framing around the workbook.
const multipartSlack = 1 << 20

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleImportExcel accepts a workbook in the "file" form field and starts
// an import. The response data is the task id to poll.
func (s *Server) handleImportExcel(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartSlack)

	if err := r.ParseMultipartForm(multipartSlack); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondError(w, r, fmt.Errorf("%w: request exceeds %d bytes", core.ErrFileTooLarge, tooBig.Limit))
			return
		}
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrNoFile, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrNoFile, err))
		return
	}
	defer file.Close()

	if header.Size > maxSize {
		respondError(w, r, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", core.ErrFileTooLarge, header.Size, maxSize))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	taskID, err := s.service.ImportExcelAsync(r.Context(), header.Filename, data)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("import submitted", "task_id", taskID, "file", header.Filename)
	writeOK(w, r, taskID, "Import task submitted")
}

// handleImportProgress returns the current progress of a task.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.service.GetImportProgress(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeOK(w, r, progress, "")
}

// handleImportResult returns the persisted summary of a batch.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.GetImportResult(r.Context(), chi.URLParam(r, "batchId"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeOK(w, r, result, "")
}

// handleImportTemplate serves the blank import workbook.
func (s *Server) handleImportTemplate(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.TemplateWorkbook()
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="asset_import_template.xlsx"`)
	if _, err := w.Write(data); err != nil {
		logging.FromContext(r.Context()).Warn("template write failed", "error", err)
	}
}

// handleImportPage renders the status page of a task. The page refreshes
// itself until the task is finished.
func (s *Server) handleImportPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	progress, err := s.service.GetImportProgress(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		status := statusFor(err)
		msg := core.MapError(err)
		w.WriteHeader(status)
		if rerr := views.ErrorPage(msg.Message, msg.Action, msg.Code).Render(r.Context(), w); rerr != nil {
			logging.FromContext(r.Context()).Error("render error page", "error", rerr)
		}
		return
	}

	if err := views.ImportStatusPage(progress).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render status page", "error", err)
	}
}

// handleHealth reports database reachability and import slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	data := map[string]any{"imports": s.service.LimiterStatus()}
	if err := s.service.Ping(ctx); err != nil {
		logging.FromContext(r.Context()).Warn("health check failed", "error", err)
		writeJSON(w, r, http.StatusServiceUnavailable, Envelope{
			Success: false,
			Data:    data,
			Message: core.MapError(err).Message,
		})
		return
	}
	writeOK(w, r, data, "ok")
}
