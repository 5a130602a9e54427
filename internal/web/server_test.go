package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/itassets/internal/config"
	"github.com/JonMunkholm/itassets/internal/core"
	"github.com/JonMunkholm/itassets/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Import: config.ImportConfig{MaxFileSize: 1 << 20},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *core.Service) {
	t.Helper()
	svc := core.NewService(store.NewMemoryStore(), core.ServiceConfig{MaxFileSize: cfg.Import.MaxFileSize})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.WaitForImports(ctx)
	})
	srv := NewServer(svc, cfg)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, svc
}

func workbook(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func uploadRequest(t *testing.T, fileName string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write(data)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/import/excel", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.RemoteAddr = "192.0.2.10:5555"
	return req
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestImportFlow(t *testing.T) {
	srv, svc := newTestServer(t, testConfig())

	data := workbook(t,
		[]any{core.ColAssetNo, core.ColAssetName, core.ColStatus},
		[]any{"A-1", "Server 1", "IN_USE"},
		[]any{"A-2", "Server 2", "on fire"},
	)
	rec := serve(srv, uploadRequest(t, "assets.xlsx", data))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}
	env := decode(t, rec)
	taskID, _ := env["data"].(string)
	if env["success"] != true || taskID == "" {
		t.Fatalf("upload envelope = %v", env)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	final, err := svc.WaitForTask(ctx, taskID)
	if err != nil {
		t.Fatalf("WaitForTask: %v", err)
	}

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/import/progress/"+taskID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("progress status = %d", rec.Code)
	}
	progress := decode(t, rec)["data"].(map[string]any)
	if progress["state"] != "COMPLETED" || progress["successRows"] != float64(1) || progress["failedRows"] != float64(1) {
		t.Errorf("progress = %v", progress)
	}

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/import/result/"+final.BatchID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("result status = %d", rec.Code)
	}
	result := decode(t, rec)["data"].(map[string]any)
	if result["successCount"] != float64(1) || result["totalAssets"] != float64(2) || result["importUser"] != "192.0.2.10" {
		t.Errorf("result = %v", result)
	}

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/import/"+taskID, nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "COMPLETED") {
		t.Errorf("status page = %d %s", rec.Code, rec.Body.String())
	}
}

func TestImportRejections(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxFileSize = 2048
	srv, _ := newTestServer(t, cfg)

	tests := []struct {
		name     string
		fileName string
		data     []byte
		status   int
		code     string
	}{
		{"no file", "", nil, http.StatusBadRequest, "FILE004"},
		{"csv", "assets.csv", []byte("a,b\n1,2\n"), http.StatusBadRequest, "FILE006"},
		{"not a workbook", "assets.xlsx", []byte("plain text"), http.StatusBadRequest, "FILE003"},
		{"too large", "assets.xlsx", bytes.Repeat([]byte("x"), 4096), http.StatusRequestEntityTooLarge, "FILE001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(srv, uploadRequest(t, tt.fileName, tt.data))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			env := decode(t, rec)
			if env["success"] != false || env["code"] != tt.code || env["message"] == "" {
				t.Errorf("envelope = %v, want code %s", env, tt.code)
			}
		})
	}
}

type busyImporter struct{ *core.Service }

func (busyImporter) ImportExcelAsync(context.Context, string, []byte) (string, error) {
	return "", core.ErrTooManyImports
}

func TestImportBusy(t *testing.T) {
	_, svc := newTestServer(t, testConfig())
	srv := NewServer(busyImporter{svc}, testConfig())

	rec := serve(srv, uploadRequest(t, "assets.xlsx", workbook(t, []any{core.ColAssetNo, core.ColAssetName})))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if env := decode(t, rec); env["code"] != "IMP001" {
		t.Errorf("envelope = %v", env)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	for _, path := range []string{"/api/import/progress/missing", "/api/import/result/IMPORT-missing"} {
		rec := serve(srv, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, rec.Code)
			continue
		}
		if env := decode(t, rec); env["success"] != false {
			t.Errorf("%s envelope = %v", path, env)
		}
	}

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/import/missing", nil))
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "IMP002") {
		t.Errorf("status page = %d %s", rec.Code, rec.Body.String())
	}
}

func TestTemplateDownload(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/import/template", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "attachment") {
		t.Error("template should be an attachment")
	}

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("template is not a workbook: %v", err)
	}
	f.Close()
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	env := decode(t, rec)
	data, _ := env["data"].(map[string]any)
	if env["success"] != true || data["imports"] == nil {
		t.Errorf("envelope = %v", env)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestUploadRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, UploadLimit: 1}
	srv, svc := newTestServer(t, cfg)

	data := workbook(t, []any{core.ColAssetNo, core.ColAssetName}, []any{"A-1", "Server"})
	first := serve(srv, uploadRequest(t, "a.xlsx", data))
	if first.Code != http.StatusOK {
		t.Fatalf("first upload = %d", first.Code)
	}
	second := serve(srv, uploadRequest(t, "a.xlsx", data))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second upload = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}

	// other endpoints use the general budget
	if rec := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}

	taskID := decode(t, first)["data"].(string)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := svc.WaitForTask(ctx, taskID); err != nil {
		t.Fatalf("WaitForTask: %v", err)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	srv, _ := newTestServer(t, cfg)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/import/template", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without key = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/import/template", nil)
	req.Header.Set("X-API-Key", "secret")
	if rec := serve(srv, req); rec.Code != http.StatusOK {
		t.Errorf("with key = %d, want 200", rec.Code)
	}

	// health stays open for load balancers
	if rec := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", rec.Code)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	defer rl.stop()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.allow("a") || !rl.allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("a") {
		t.Error("third request should be limited")
	}
	if !rl.allow("b") {
		t.Error("other clients have their own budget")
	}

	now = now.Add(2 * time.Minute)
	if !rl.allow("a") {
		t.Error("budget should reset after the window")
	}
}

func TestServerStartShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Host = "127.0.0.1"
	srv, _ := newTestServer(t, cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("Start() = %v, want http.ErrServerClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
