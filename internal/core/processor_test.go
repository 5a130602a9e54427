package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/itassets/internal/store"
)

func newTestProcessor(st store.Store) *AssetRowProcessor {
	p := NewAssetRowProcessor(st, "IMPORT-20240102030405-abcdef")
	p.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local) }
	return p
}

func fullRow() RowFields {
	return RowFields{
		ColAssetNo:        "A-001",
		ColAssetName:      "Core switch",
		ColStatus:         "IN_USE",
		ColCategoryL1:     "Network",
		ColCategoryL2:     "Switch",
		ColSerialNo:       "SN-1",
		ColModel:          "N9K",
		ColDataCenter:     "DC1",
		ColRoom:           "R101",
		ColCabinet:        "C07",
		ColUPosition:      "U12",
		ColContractNo:     "CT-9",
		ColWarrantyStart:  "2024-01-01",
		ColWarrantyEnd:    "2026-12-31",
		ColProvider:       "Acme",
		ColLifeYears:      "6",
		ColAcceptanceDate: "45292",
	}
}

func TestAssetRowProcessor_PersistsRow(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	p := newTestProcessor(st)

	if err := p.ProcessRow(ctx, fullRow(), 1); err != nil {
		t.Fatalf("ProcessRow: %v", err)
	}

	asset, err := st.FindAssetByNo(ctx, "A-001")
	if err != nil {
		t.Fatalf("FindAssetByNo: %v", err)
	}
	if asset.Status != store.StatusInUse {
		t.Errorf("Status = %q, want IN_USE", asset.Status)
	}
	if asset.ImportBatch != "IMPORT-20240102030405-abcdef" {
		t.Errorf("ImportBatch = %q", asset.ImportBatch)
	}
	if !strings.HasPrefix(asset.UUID, "AST20240102-") {
		t.Errorf("UUID = %q, want AST20240102- prefix", asset.UUID)
	}
	if asset.Fingerprint != Fingerprint("A-001", "Core switch", "SN-1", "N9K") {
		t.Errorf("Fingerprint mismatch")
	}
	if asset.SpaceID == 0 || asset.WarrantyID == 0 {
		t.Errorf("SpaceID/WarrantyID = %d/%d, want both linked", asset.SpaceID, asset.WarrantyID)
	}

	var hierarchy map[string]string
	if err := json.Unmarshal([]byte(asset.CategoryHierarchy), &hierarchy); err != nil {
		t.Fatalf("CategoryHierarchy: %v", err)
	}
	if hierarchy["l1"] != "Network" || hierarchy["l2"] != "Switch" || hierarchy["l3"] != "" {
		t.Errorf("CategoryHierarchy = %v", hierarchy)
	}

	l1, err := st.FindCategory(ctx, "Network", 1, 0)
	if err != nil {
		t.Fatalf("level 1 category: %v", err)
	}
	l2, err := st.FindCategory(ctx, "Switch", 2, l1.ID)
	if err != nil {
		t.Fatalf("level 2 category: %v", err)
	}
	if asset.CategoryID != l2.ID {
		t.Errorf("CategoryID = %d, want deepest level %d", asset.CategoryID, l2.ID)
	}

	w, err := st.FindWarrantyByContract(ctx, "CT-9")
	if err != nil {
		t.Fatalf("FindWarrantyByContract: %v", err)
	}
	if w.Provider != "Acme" || w.LifeYears != 6 || w.ProviderLevel != 1 {
		t.Errorf("warranty = %+v", w)
	}
	if w.AcceptanceDate == nil || w.AcceptanceDate.Format(time.DateOnly) != "2024-01-01" {
		t.Errorf("AcceptanceDate = %v, want 2024-01-01", w.AcceptanceDate)
	}
	if w.Status != "ACTIVE" {
		t.Errorf("warranty Status = %q, want ACTIVE", w.Status)
	}

	traces, err := st.ListChangeTraces(ctx, asset.ID)
	if err != nil {
		t.Fatalf("ListChangeTraces: %v", err)
	}
	if len(traces) != 1 || traces[0].ChangeType != store.ChangeInitial {
		t.Fatalf("traces = %+v, want one INITIAL", traces)
	}
	var delta InitialDelta
	if err := json.Unmarshal([]byte(traces[0].Delta), &delta); err != nil {
		t.Fatalf("INITIAL delta: %v", err)
	}
	if delta.Source != "EXCEL_IMPORT" || delta.Batch != asset.ImportBatch {
		t.Errorf("INITIAL delta = %+v", delta)
	}
	if traces[0].OperatedBy != OperatorExcelImport {
		t.Errorf("OperatedBy = %q", traces[0].OperatedBy)
	}
}

func TestAssetRowProcessor_Defaults(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	p := newTestProcessor(st)

	row := RowFields{ColAssetNo: "A-2", ColAssetName: "Laptop", ColContractNo: "CT-1"}
	if err := p.ProcessRow(ctx, row, 1); err != nil {
		t.Fatalf("ProcessRow: %v", err)
	}

	asset, _ := st.FindAssetByNo(ctx, "A-2")
	if asset.Status != store.StatusInventory {
		t.Errorf("Status = %q, want INVENTORY", asset.Status)
	}
	if asset.SpaceID != 0 {
		t.Errorf("SpaceID = %d, want 0 without location columns", asset.SpaceID)
	}
	if _, err := st.FindCategory(ctx, UncategorizedName, 1, 0); err != nil {
		t.Errorf("Uncategorized category not created: %v", err)
	}

	w, _ := st.FindWarrantyByContract(ctx, "CT-1")
	if got := w.StartDate.Format(time.DateOnly); got != "2024-01-02" {
		t.Errorf("StartDate = %s, want import day", got)
	}
	if got := w.EndDate.Format(time.DateOnly); got != "2025-01-02" {
		t.Errorf("EndDate = %s, want one year after start", got)
	}
	if w.LifeYears != DefaultLifeYears {
		t.Errorf("LifeYears = %d, want %d", w.LifeYears, DefaultLifeYears)
	}
}

func TestAssetRowProcessor_RowErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(RowFields)
		wantMsg string
	}{
		{"missing asset no", func(f RowFields) { f[ColAssetNo] = " " }, "Asset No: required"},
		{"missing name", func(f RowFields) { delete(f, ColAssetName) }, "Asset Name: required"},
		{"unknown status", func(f RowFields) { f[ColStatus] = "lost" }, "unknown status"},
		{"level 2 without level 1", func(f RowFields) { f[ColCategoryL1] = "" }, "invalid category path"},
		{"level 3 without level 2", func(f RowFields) { f[ColCategoryL2] = ""; f[ColCategoryL3] = "Leaf" }, "invalid category path"},
		{"slash in category", func(f RowFields) { f[ColCategoryL2] = "Switch/Router" }, "invalid category path"},
		{"long category", func(f RowFields) { f[ColCategoryL1] = strings.Repeat("x", 101) }, "invalid category path"},
		{"non-numeric life years", func(f RowFields) { f[ColLifeYears] = "six" }, "Life Years"},
		{"bad date", func(f RowFields) { f[ColWarrantyStart] = "soon" }, "Warranty Start"},
		{"end before start", func(f RowFields) { f[ColWarrantyEnd] = "2023-01-01" }, "ends before"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := store.NewMemoryStore()
			p := newTestProcessor(st)

			row := fullRow()
			tt.mutate(row)

			err := p.ProcessRow(ctx, row, 4)
			var re *RowError
			if !errors.As(err, &re) {
				t.Fatalf("ProcessRow() error = %v, want *RowError", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err, tt.wantMsg)
			}
			if n, _ := st.CountAssetsByBatch(ctx, "IMPORT-20240102030405-abcdef"); n != 0 {
				t.Errorf("%d assets written for an invalid row", n)
			}
		})
	}
}

func TestAssetRowProcessor_DuplicateAssetNo(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	p := newTestProcessor(st)

	if err := p.ProcessRow(ctx, fullRow(), 1); err != nil {
		t.Fatalf("first ProcessRow: %v", err)
	}

	dup := fullRow()
	dup[ColSerialNo] = "SN-2"
	err := p.ProcessRow(ctx, dup, 2)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("ProcessRow(duplicate) error = %v, want already exists", err)
	}
}

func TestAssetRowProcessor_ReusesCategoriesAndContracts(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	p := newTestProcessor(st)

	first := fullRow()
	second := fullRow()
	second[ColAssetNo] = "A-002"
	second[ColSerialNo] = "SN-2"
	second[ColProvider] = "Globex"
	second[ColWarrantyStart] = ""
	second[ColWarrantyEnd] = "2027-06-30"

	for i, row := range []RowFields{first, second} {
		if err := p.ProcessRow(ctx, row, i+1); err != nil {
			t.Fatalf("ProcessRow(%d): %v", i+1, err)
		}
	}

	a1, _ := st.FindAssetByNo(ctx, "A-001")
	a2, _ := st.FindAssetByNo(ctx, "A-002")
	if a1.CategoryID != a2.CategoryID {
		t.Errorf("CategoryID = %d and %d, want shared category", a1.CategoryID, a2.CategoryID)
	}
	if a1.WarrantyID != a2.WarrantyID {
		t.Errorf("WarrantyID = %d and %d, want shared contract", a1.WarrantyID, a2.WarrantyID)
	}

	w, _ := st.FindWarrantyByContract(ctx, "CT-9")
	if w.Provider != "Globex" {
		t.Errorf("Provider = %q, want updated to Globex", w.Provider)
	}
	if got := w.StartDate.Format(time.DateOnly); got != "2024-01-01" {
		t.Errorf("StartDate = %s, want kept 2024-01-01", got)
	}
	if got := w.EndDate.Format(time.DateOnly); got != "2027-06-30" {
		t.Errorf("EndDate = %s, want 2027-06-30", got)
	}
}

func TestAssetRowProcessor_SpaceMove(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	p := newTestProcessor(st)

	row := fullRow()
	row[ColNewCabinet] = "C09"
	row[ColNewUPosition] = "U20"

	if err := p.ProcessRow(ctx, row, 1); err != nil {
		t.Fatalf("ProcessRow: %v", err)
	}

	asset, _ := st.FindAssetByNo(ctx, "A-001")
	traces, _ := st.ListChangeTraces(ctx, asset.ID)
	if len(traces) != 2 {
		t.Fatalf("got %d traces, want SPACE and INITIAL", len(traces))
	}
	if traces[0].ChangeType != store.ChangeSpace || traces[1].ChangeType != store.ChangeInitial {
		t.Errorf("trace types = %s, %s", traces[0].ChangeType, traces[1].ChangeType)
	}

	var delta SpaceDelta
	if err := json.Unmarshal([]byte(traces[0].Delta), &delta); err != nil {
		t.Fatalf("SPACE delta: %v", err)
	}
	want := SpaceDelta{
		Field:  "space",
		Before: SpaceSnapshot{DataCenter: "DC1", Room: "R101", Cabinet: "C07", UPosition: "U12"},
		After:  SpaceSnapshot{DataCenter: "DC1", Room: "R101", Cabinet: "C09", UPosition: "U20"},
	}
	if delta != want {
		t.Errorf("SPACE delta = %+v, want %+v", delta, want)
	}
}

func TestAssetRowProcessor_RollsBackFailedRow(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	p := newTestProcessor(&failingSpaceStore{MemoryStore: mem})

	err := p.ProcessRow(ctx, fullRow(), 1)
	var re *RowError
	if !errors.As(err, &re) {
		t.Fatalf("ProcessRow() error = %v, want *RowError", err)
	}
	if re.Message != "Database connection was interrupted" {
		t.Errorf("Message = %q", re.Message)
	}
	var ue *UserError
	if !errors.As(err, &ue) {
		t.Fatalf("row error does not carry a *UserError: %v", err)
	}
	if ue.User.Code != "DB005" {
		t.Errorf("User.Code = %q", ue.User.Code)
	}
	if !strings.Contains(ue.Technical.Error(), "connection reset") {
		t.Errorf("Technical = %v, want the store error", ue.Technical)
	}

	if _, err := mem.FindAssetByNo(ctx, "A-001"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("asset survived a failed row: %v", err)
	}
	if _, err := mem.FindCategory(ctx, "Network", 1, 0); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("category survived a failed row: %v", err)
	}
}

func TestAssetRowProcessor_PrepareHeader(t *testing.T) {
	p := NewAssetRowProcessor(nil, "")

	cols, err := p.PrepareHeader([]string{"资产编号", " 资产名称", "Model", "Owner"})
	if err != nil {
		t.Fatalf("PrepareHeader: %v", err)
	}
	want := []string{ColAssetNo, ColAssetName, ColModel, "Owner"}
	for i := range want {
		if cols[i] != want[i] {
			t.Errorf("column %d = %q, want %q", i, cols[i], want[i])
		}
	}

	_, err = p.PrepareHeader([]string{"Asset No", "Model"})
	if !errors.Is(err, ErrHeaderMismatch) {
		t.Fatalf("PrepareHeader() error = %v, want ErrHeaderMismatch", err)
	}
	if !strings.Contains(err.Error(), ColAssetName) {
		t.Errorf("error %q does not name the missing column", err)
	}
}

// failingSpaceStore fails every space write inside a transaction.
type failingSpaceStore struct {
	*store.MemoryStore
}

func (s *failingSpaceStore) InTx(ctx context.Context, fn func(q store.Querier) error) error {
	return s.MemoryStore.InTx(ctx, func(q store.Querier) error {
		return fn(failingSpaceQuerier{q})
	})
}

type failingSpaceQuerier struct {
	store.Querier
}

func (failingSpaceQuerier) CreateSpace(context.Context, *store.Space) error {
	return errors.New("write tcp 10.0.0.2:5432: connection reset by peer")
}
