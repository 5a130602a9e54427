package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite" // also registers the "sqlite" database/sql driver
	sqlite3 "modernc.org/sqlite/lib"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	*sqlQuerier
	db      *sql.DB
	onClose func()
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps an open database. Call Migrate before first use.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		sqlQuerier: &sqlQuerier{db: db, dialect: dialect},
		db:         db,
	}
}

// Migrate creates any missing tables and indexes.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	err := s.db.Close()
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

func (s *SQLStore) InTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&sqlQuerier{db: tx, dialect: s.dialect}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLStore) CreateBatch(ctx context.Context, b Batch) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO import_batches (id, task_id, file_name, imported_by, state, total_rows, success_rows, failed_rows, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		b.ID, b.TaskID, b.FileName, b.ImportedBy, b.State, b.TotalRows, b.SuccessRows, b.FailedRows, b.Error, b.StartedAt.UTC())
	if err != nil {
		return wrapWriteErr("create batch", err)
	}
	return nil
}

func (s *SQLStore) FinishBatch(ctx context.Context, id string, out BatchOutcome) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE import_batches
		SET state = ?, total_rows = ?, success_rows = ?, failed_rows = ?, error = ?, finished_at = ?
		WHERE id = ?`),
		out.State, out.TotalRows, out.SuccessRows, out.FailedRows, out.Error, out.FinishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}
	return expectOne(res, "finish batch")
}

func (s *SQLStore) GetBatch(ctx context.Context, id string) (Batch, error) {
	var (
		b        Batch
		finished sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, task_id, file_name, imported_by, state, total_rows, success_rows, failed_rows, error, started_at, finished_at
		FROM import_batches WHERE id = ?`), id).
		Scan(&b.ID, &b.TaskID, &b.FileName, &b.ImportedBy, &b.State, &b.TotalRows, &b.SuccessRows, &b.FailedRows, &b.Error, &b.StartedAt, &finished)
	if err != nil {
		return Batch{}, wrapReadErr("get batch", err)
	}
	b.FinishedAt = timePtr(finished)
	return b, nil
}

func (s *SQLStore) CountAssetsByBatch(ctx context.Context, batchID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM assets WHERE import_batch = ?`), batchID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count assets: %w", err)
	}
	return n, nil
}

// sqlQuerier implements Querier against a *sql.DB or a *sql.Tx.
type sqlQuerier struct {
	db      dbtx
	dialect Dialect
}

const assetColumns = `id, uuid, asset_no, name, status, serial_no, model, category_id,
	category_hierarchy, space_id, warranty_id, fingerprint, import_batch, created_at`

func scanAsset(row *sql.Row) (Asset, error) {
	var a Asset
	err := row.Scan(&a.ID, &a.UUID, &a.AssetNo, &a.Name, &a.Status, &a.SerialNo, &a.Model, &a.CategoryID,
		&a.CategoryHierarchy, &a.SpaceID, &a.WarrantyID, &a.Fingerprint, &a.ImportBatch, &a.CreatedAt)
	return a, err
}

func (q *sqlQuerier) FindAssetByNo(ctx context.Context, assetNo string) (Asset, error) {
	a, err := scanAsset(q.db.QueryRowContext(ctx, q.rebind(`SELECT `+assetColumns+` FROM assets WHERE asset_no = ?`), assetNo))
	if err != nil {
		return Asset{}, wrapReadErr("find asset", err)
	}
	return a, nil
}

func (q *sqlQuerier) FindAssetByFingerprint(ctx context.Context, fingerprint string) (Asset, error) {
	a, err := scanAsset(q.db.QueryRowContext(ctx, q.rebind(`SELECT `+assetColumns+` FROM assets WHERE fingerprint = ?`), fingerprint))
	if err != nil {
		return Asset{}, wrapReadErr("find asset by fingerprint", err)
	}
	return a, nil
}

func (q *sqlQuerier) CreateAsset(ctx context.Context, a *Asset) error {
	err := q.db.QueryRowContext(ctx, q.rebind(`
		INSERT INTO assets (uuid, asset_no, name, status, serial_no, model, category_id,
			category_hierarchy, space_id, warranty_id, fingerprint, import_batch, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		a.UUID, a.AssetNo, a.Name, a.Status, a.SerialNo, a.Model, a.CategoryID,
		a.CategoryHierarchy, a.SpaceID, a.WarrantyID, a.Fingerprint, a.ImportBatch, a.CreatedAt.UTC()).
		Scan(&a.ID)
	if err != nil {
		return wrapWriteErr("create asset", err)
	}
	return nil
}

func (q *sqlQuerier) LinkAsset(ctx context.Context, assetID, spaceID, warrantyID int64) error {
	res, err := q.db.ExecContext(ctx, q.rebind(`UPDATE assets SET space_id = ?, warranty_id = ? WHERE id = ?`),
		spaceID, warrantyID, assetID)
	if err != nil {
		return fmt.Errorf("link asset: %w", err)
	}
	return expectOne(res, "link asset")
}

func (q *sqlQuerier) FindCategory(ctx context.Context, name string, level int, parentID int64) (Category, error) {
	var c Category
	err := q.db.QueryRowContext(ctx, q.rebind(`
		SELECT id, name, level, parent_id, code FROM categories
		WHERE name = ? AND level = ? AND parent_id = ?`), name, level, parentID).
		Scan(&c.ID, &c.Name, &c.Level, &c.ParentID, &c.Code)
	if err != nil {
		return Category{}, wrapReadErr("find category", err)
	}
	return c, nil
}

func (q *sqlQuerier) CreateCategory(ctx context.Context, c *Category) error {
	err := q.db.QueryRowContext(ctx, q.rebind(`
		INSERT INTO categories (name, level, parent_id, code) VALUES (?, ?, ?, ?) RETURNING id`),
		c.Name, c.Level, c.ParentID, c.Code).Scan(&c.ID)
	if err != nil {
		return wrapWriteErr("create category", err)
	}
	return nil
}

func (q *sqlQuerier) FindWarrantyByContract(ctx context.Context, contractNo string) (Warranty, error) {
	var (
		w          Warranty
		acceptance sql.NullTime
	)
	err := q.db.QueryRowContext(ctx, q.rebind(`
		SELECT id, contract_no, provider, provider_level, status, start_date, end_date, life_years, acceptance_date
		FROM warranties WHERE contract_no = ?`), contractNo).
		Scan(&w.ID, &w.ContractNo, &w.Provider, &w.ProviderLevel, &w.Status, &w.StartDate, &w.EndDate, &w.LifeYears, &acceptance)
	if err != nil {
		return Warranty{}, wrapReadErr("find warranty", err)
	}
	w.AcceptanceDate = timePtr(acceptance)
	return w, nil
}

func (q *sqlQuerier) CreateWarranty(ctx context.Context, w *Warranty) error {
	err := q.db.QueryRowContext(ctx, q.rebind(`
		INSERT INTO warranties (contract_no, provider, provider_level, status, start_date, end_date, life_years, acceptance_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		w.ContractNo, w.Provider, w.ProviderLevel, w.Status, calendarDate(w.StartDate), calendarDate(w.EndDate), w.LifeYears, nullDate(w.AcceptanceDate)).
		Scan(&w.ID)
	if err != nil {
		return wrapWriteErr("create warranty", err)
	}
	return nil
}

func (q *sqlQuerier) UpdateWarranty(ctx context.Context, w Warranty) error {
	res, err := q.db.ExecContext(ctx, q.rebind(`
		UPDATE warranties
		SET provider = ?, provider_level = ?, status = ?, start_date = ?, end_date = ?, life_years = ?, acceptance_date = ?
		WHERE id = ?`),
		w.Provider, w.ProviderLevel, w.Status, calendarDate(w.StartDate), calendarDate(w.EndDate), w.LifeYears, nullDate(w.AcceptanceDate), w.ID)
	if err != nil {
		return wrapWriteErr("update warranty", err)
	}
	return expectOne(res, "update warranty")
}

func (q *sqlQuerier) CreateSpace(ctx context.Context, sp *Space) error {
	err := q.db.QueryRowContext(ctx, q.rebind(`
		INSERT INTO spaces (asset_id, data_center, room, cabinet, u_position, location_path, is_current, valid_from, valid_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		sp.AssetID, sp.DataCenter, sp.Room, sp.Cabinet, sp.UPosition, sp.LocationPath, sp.IsCurrent,
		sp.ValidFrom.UTC(), nullTime(sp.ValidTo)).
		Scan(&sp.ID)
	if err != nil {
		return wrapWriteErr("create space", err)
	}
	return nil
}

func (q *sqlQuerier) CreateChangeTrace(ctx context.Context, ct *ChangeTrace) error {
	err := q.db.QueryRowContext(ctx, q.rebind(`
		INSERT INTO change_traces (asset_id, change_type, delta, operated_by, operated_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`),
		ct.AssetID, ct.ChangeType, ct.Delta, ct.OperatedBy, ct.OperatedAt.UTC()).
		Scan(&ct.ID)
	if err != nil {
		return wrapWriteErr("create change trace", err)
	}
	return nil
}

func (q *sqlQuerier) ListChangeTraces(ctx context.Context, assetID int64) ([]ChangeTrace, error) {
	rows, err := q.db.QueryContext(ctx, q.rebind(`
		SELECT id, asset_id, change_type, delta, operated_by, operated_at
		FROM change_traces WHERE asset_id = ? ORDER BY id`), assetID)
	if err != nil {
		return nil, fmt.Errorf("list change traces: %w", err)
	}
	defer rows.Close()

	var out []ChangeTrace
	for rows.Next() {
		var ct ChangeTrace
		if err := rows.Scan(&ct.ID, &ct.AssetID, &ct.ChangeType, &ct.Delta, &ct.OperatedBy, &ct.OperatedAt); err != nil {
			return nil, fmt.Errorf("scan change trace: %w", err)
		}
		out = append(out, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list change traces: %w", err)
	}
	return out, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (q *sqlQuerier) rebind(query string) string {
	if q.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func wrapReadErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func wrapWriteErr(op string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isUniqueViolation recognises unique-constraint failures from either driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func expectOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// calendarDate keeps the wall-clock day of t as midnight UTC. DATE columns
// store the day the user typed whatever zone the server runs in.
func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nullDate(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: calendarDate(*t), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
