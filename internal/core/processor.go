package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JonMunkholm/itassets/internal/store"
)

// UncategorizedName is the level-1 category of rows without a category.
const UncategorizedName = "Uncategorized"

const maxCategoryNameLen = 100

// AssetRowProcessor persists one asset per spreadsheet row. Every row is
// written in its own transaction: a failed row leaves nothing behind.
type AssetRowProcessor struct {
	store   store.Store
	batchID string
	now     func() time.Time
}

var (
	_ RowProcessor   = (*AssetRowProcessor)(nil)
	_ HeaderPreparer = (*AssetRowProcessor)(nil)
)

// NewAssetRowProcessor binds a processor to one import batch.
func NewAssetRowProcessor(st store.Store, batchID string) *AssetRowProcessor {
	return &AssetRowProcessor{store: st, batchID: batchID, now: time.Now}
}

// PrepareHeader maps header cells to canonical column names and checks
// that the required columns are present.
func (p *AssetRowProcessor) PrepareHeader(header []string) ([]string, error) {
	columns := make([]string, len(header))
	present := make(map[string]bool, len(header))
	for i, h := range header {
		columns[i] = CanonicalColumn(h)
		present[columns[i]] = true
	}

	var missing []string
	for _, col := range RequiredColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrHeaderMismatch, strings.Join(missing, ", "))
	}
	return columns, nil
}

// assetRow is a validated spreadsheet row.
type assetRow struct {
	assetNo    string
	name       string
	status     string
	serialNo   string
	model      string
	categories []string

	location    store.Space
	newLocation *store.Space

	contractNo     string
	provider       string
	warrantyStatus string
	warrantyStart  *time.Time
	warrantyEnd    *time.Time
	lifeYears      int
	acceptance     *time.Time
}

func (p *AssetRowProcessor) ProcessRow(ctx context.Context, fields RowFields, rowIndex int) error {
	row, err := parseAssetRow(fields)
	if err != nil {
		return err
	}

	err = p.store.InTx(ctx, func(q store.Querier) error {
		return p.persist(ctx, q, row)
	})
	if err == nil {
		return nil
	}

	var re *RowError
	if errors.As(err, &re) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	ue := NewUserError(err)
	return &RowError{Message: ue.Error(), Err: ue}
}

func parseAssetRow(fields RowFields) (assetRow, error) {
	row := assetRow{
		assetNo:        CleanCell(fields.Get(ColAssetNo)),
		name:           CleanCell(fields.Get(ColAssetName)),
		serialNo:       CleanCell(fields.Get(ColSerialNo)),
		model:          CleanCell(fields.Get(ColModel)),
		contractNo:     CleanCell(fields.Get(ColContractNo)),
		provider:       CleanCell(fields.Get(ColProvider)),
		warrantyStatus: CleanCell(fields.Get(ColWarrantyStatus)),
	}

	if row.assetNo == "" {
		return row, rowErrorf(ColAssetNo, "required")
	}
	if row.name == "" {
		return row, rowErrorf(ColAssetName, "required")
	}

	status, err := normalizeStatus(fields.Get(ColStatus))
	if err != nil {
		return row, rowErrorf(ColStatus, "%v", err)
	}
	row.status = status

	if row.categories, err = categoryPath(fields); err != nil {
		return row, err
	}

	if row.lifeYears, err = parseLifeYears(fields.Get(ColLifeYears)); err != nil {
		return row, rowErrorf(ColLifeYears, "%v", err)
	}

	dates := []struct {
		col string
		dst **time.Time
	}{
		{ColWarrantyStart, &row.warrantyStart},
		{ColWarrantyEnd, &row.warrantyEnd},
		{ColAcceptanceDate, &row.acceptance},
	}
	for _, d := range dates {
		t, ok, err := parseCellDate(fields.Get(d.col))
		if err != nil {
			return row, rowErrorf(d.col, "%v", err)
		}
		if ok {
			*d.dst = &t
		}
	}
	if row.warrantyStart != nil && row.warrantyEnd != nil && row.warrantyEnd.Before(*row.warrantyStart) {
		return row, rowErrorf(ColWarrantyEnd, "ends before %s", row.warrantyStart.Format(time.DateOnly))
	}

	row.location = store.Space{
		DataCenter: CleanCell(fields.Get(ColDataCenter)),
		Room:       CleanCell(fields.Get(ColRoom)),
		Cabinet:    CleanCell(fields.Get(ColCabinet)),
		UPosition:  CleanCell(fields.Get(ColUPosition)),
	}
	moved := store.Space{
		DataCenter: CleanCell(fields.Get(ColNewDataCenter)),
		Room:       CleanCell(fields.Get(ColNewRoom)),
		Cabinet:    CleanCell(fields.Get(ColNewCabinet)),
		UPosition:  CleanCell(fields.Get(ColNewUPosition)),
	}
	if hasLocation(moved) {
		next := mergeLocation(row.location, moved)
		row.newLocation = &next
	}

	return row, nil
}

// categoryPath validates the three category columns. A lower level may
// only be given together with every level above it.
func categoryPath(fields RowFields) ([]string, error) {
	cols := []string{ColCategoryL1, ColCategoryL2, ColCategoryL3}
	names := make([]string, 0, len(cols))
	gap := ""
	for _, col := range cols {
		name := CleanCell(fields.Get(col))
		if name == "" {
			if gap == "" {
				gap = col
			}
			continue
		}
		if gap != "" {
			return nil, rowErrorf(col, "invalid category path: %s is empty", gap)
		}
		if strings.Contains(name, "/") {
			return nil, rowErrorf(col, "invalid category path: %q contains '/'", name)
		}
		if utf8.RuneCountInString(name) > maxCategoryNameLen {
			return nil, rowErrorf(col, "invalid category path: name longer than %d characters", maxCategoryNameLen)
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		names = append(names, UncategorizedName)
	}
	return names, nil
}

func hasLocation(sp store.Space) bool {
	return sp.DataCenter != "" || sp.Room != "" || sp.Cabinet != "" || sp.UPosition != ""
}

// mergeLocation applies the moved-to columns on top of the current
// location; blank target columns keep the current value.
func mergeLocation(cur, moved store.Space) store.Space {
	out := cur
	if moved.DataCenter != "" {
		out.DataCenter = moved.DataCenter
	}
	if moved.Room != "" {
		out.Room = moved.Room
	}
	if moved.Cabinet != "" {
		out.Cabinet = moved.Cabinet
	}
	if moved.UPosition != "" {
		out.UPosition = moved.UPosition
	}
	return out
}

func locationPath(sp store.Space) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{sp.DataCenter, sp.Room, sp.Cabinet, sp.UPosition} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

func (p *AssetRowProcessor) persist(ctx context.Context, q store.Querier, row assetRow) error {
	now := p.now()

	if _, err := q.FindAssetByNo(ctx, row.assetNo); err == nil {
		return rowErrorf(ColAssetNo, "asset %s already exists", row.assetNo)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	fp := Fingerprint(row.assetNo, row.name, row.serialNo, row.model)
	if existing, err := q.FindAssetByFingerprint(ctx, fp); err == nil {
		return rowErrorf("", "duplicate of asset %s imported in batch %s", existing.AssetNo, existing.ImportBatch)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	categoryID, err := ensureCategories(ctx, q, row.categories)
	if err != nil {
		return err
	}

	hierarchy, err := json.Marshal(categoryHierarchy(row.categories))
	if err != nil {
		return fmt.Errorf("encode category hierarchy: %w", err)
	}

	asset := &store.Asset{
		UUID:              NewAssetUUID(now),
		AssetNo:           row.assetNo,
		Name:              row.name,
		Status:            row.status,
		SerialNo:          row.serialNo,
		Model:             row.model,
		CategoryID:        categoryID,
		CategoryHierarchy: string(hierarchy),
		Fingerprint:       fp,
		ImportBatch:       p.batchID,
		CreatedAt:         now,
	}
	if err := q.CreateAsset(ctx, asset); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return rowErrorf(ColAssetNo, "asset %s already exists", row.assetNo)
		}
		return err
	}

	spaceID, err := p.writeSpaces(ctx, q, asset.ID, row, now)
	if err != nil {
		return err
	}

	warrantyID, err := upsertWarranty(ctx, q, row, now)
	if err != nil {
		return err
	}

	if spaceID != 0 || warrantyID != 0 {
		if err := q.LinkAsset(ctx, asset.ID, spaceID, warrantyID); err != nil {
			return err
		}
	}

	return recordChangeTrace(ctx, q, ChangeTraceParams{
		AssetID:    asset.ID,
		ChangeType: store.ChangeInitial,
		Delta: InitialDelta{
			Source:     OperatorExcelImport,
			Batch:      p.batchID,
			ImportTime: now.Format(time.RFC3339),
		},
		OperatedAt: now,
	})
}

// ensureCategories finds or creates each level and returns the id of the
// deepest one.
func ensureCategories(ctx context.Context, q store.Querier, names []string) (int64, error) {
	var parentID int64
	for i, name := range names {
		level := i + 1
		c, err := q.FindCategory(ctx, name, level, parentID)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrNotFound):
			c = store.Category{
				Name:     name,
				Level:    level,
				ParentID: parentID,
				Code:     categoryCode(level, names[:level]),
			}
			if err := q.CreateCategory(ctx, &c); err != nil {
				return 0, err
			}
		default:
			return 0, err
		}
		parentID = c.ID
	}
	return parentID, nil
}

func categoryCode(level int, path []string) string {
	sum := sha256.Sum256([]byte(strings.Join(path, "/")))
	return fmt.Sprintf("L%d-%s", level, strings.ToUpper(hex.EncodeToString(sum[:4])))
}

func categoryHierarchy(names []string) map[string]string {
	h := map[string]string{"l1": "", "l2": "", "l3": ""}
	for i, name := range names {
		h[fmt.Sprintf("l%d", i+1)] = name
	}
	return h
}

// writeSpaces records the location timeline and returns the id of the
// current space, or 0 when the row has no location.
func (p *AssetRowProcessor) writeSpaces(ctx context.Context, q store.Querier, assetID int64, row assetRow, now time.Time) (int64, error) {
	var current *store.Space

	if hasLocation(row.location) {
		sp := row.location
		sp.AssetID = assetID
		sp.LocationPath = locationPath(sp)
		sp.IsCurrent = row.newLocation == nil
		sp.ValidFrom = now
		if !sp.IsCurrent {
			sp.ValidTo = &now
		}
		if err := q.CreateSpace(ctx, &sp); err != nil {
			return 0, err
		}
		current = &sp
	}

	if row.newLocation == nil {
		if current == nil {
			return 0, nil
		}
		return current.ID, nil
	}

	before := store.Space{}
	if current != nil {
		before = *current
	}
	next := *row.newLocation
	next.AssetID = assetID
	next.LocationPath = locationPath(next)
	next.IsCurrent = true
	next.ValidFrom = now
	if err := q.CreateSpace(ctx, &next); err != nil {
		return 0, err
	}

	err := recordChangeTrace(ctx, q, ChangeTraceParams{
		AssetID:    assetID,
		ChangeType: store.ChangeSpace,
		Delta: SpaceDelta{
			Field:  "space",
			Before: snapshotOf(before),
			After:  snapshotOf(next),
		},
		OperatedAt: now,
	})
	if err != nil {
		return 0, err
	}
	return next.ID, nil
}

// upsertWarranty updates the contract when it exists and creates it
// otherwise. Rows without a contract number have no warranty.
func upsertWarranty(ctx context.Context, q store.Querier, row assetRow, now time.Time) (int64, error) {
	if row.contractNo == "" {
		return 0, nil
	}

	existing, err := q.FindWarrantyByContract(ctx, row.contractNo)
	switch {
	case err == nil:
		w := existing
		if row.provider != "" {
			w.Provider = row.provider
		}
		if row.warrantyStart != nil {
			w.StartDate = *row.warrantyStart
		}
		if row.warrantyEnd != nil {
			w.EndDate = *row.warrantyEnd
		}
		if w.EndDate.Before(w.StartDate) {
			return 0, rowErrorf(ColWarrantyEnd, "contract %s would end before it starts", row.contractNo)
		}
		if row.acceptance != nil {
			w.AcceptanceDate = row.acceptance
		}
		w.LifeYears = row.lifeYears
		w.Status = warrantyStatus(row.warrantyStatus, w.EndDate, now)
		if err := q.UpdateWarranty(ctx, w); err != nil {
			return 0, err
		}
		return w.ID, nil

	case errors.Is(err, store.ErrNotFound):
		start := truncateDay(now)
		if row.warrantyStart != nil {
			start = *row.warrantyStart
		}
		end := start.AddDate(1, 0, 0)
		if row.warrantyEnd != nil {
			end = *row.warrantyEnd
		}
		if end.Before(start) {
			return 0, rowErrorf(ColWarrantyEnd, "ends before %s", start.Format(time.DateOnly))
		}
		w := &store.Warranty{
			ContractNo:     row.contractNo,
			Provider:       row.provider,
			ProviderLevel:  1,
			Status:         warrantyStatus(row.warrantyStatus, end, now),
			StartDate:      start,
			EndDate:        end,
			LifeYears:      row.lifeYears,
			AcceptanceDate: row.acceptance,
		}
		if err := q.CreateWarranty(ctx, w); err != nil {
			return 0, err
		}
		return w.ID, nil

	default:
		return 0, err
	}
}

// warrantyStatus keeps an explicit status and otherwise derives one from
// the end date.
func warrantyStatus(explicit string, end, now time.Time) string {
	if explicit != "" {
		return explicit
	}
	if end.Before(truncateDay(now)) {
		return "EXPIRED"
	}
	return "ACTIVE"
}
