package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store. Records are indexed by their unique
// keys. A transaction holds the write lock and applies its writes in place,
// logging an undo step for each; a failed transaction replays the log in
// reverse, so its cost is proportional to what it wrote.
//
// Transaction functions must use the Querier they are given. Calling the
// store itself from inside fn deadlocks.
type MemoryStore struct {
	txMu sync.Mutex // serialises transactions

	mu      sync.RWMutex
	data    *memData
	batches map[string]Batch
}

var _ Store = (*MemoryStore)(nil)

type categoryKey struct {
	name     string
	level    int
	parentID int64
}

type memData struct {
	seq int64

	assets      map[int64]Asset
	assetByNo   map[string]int64
	assetByUUID map[string]int64
	assetByFP   map[string]int64

	categories    map[int64]Category
	categoryByKey map[categoryKey]int64

	warranties         map[int64]Warranty
	warrantyByContract map[string]int64

	spaces        map[int64]Space
	traces        map[int64]ChangeTrace
	tracesByAsset map[int64][]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memData{
			assets:             make(map[int64]Asset),
			assetByNo:          make(map[string]int64),
			assetByUUID:        make(map[string]int64),
			assetByFP:          make(map[string]int64),
			categories:         make(map[int64]Category),
			categoryByKey:      make(map[categoryKey]int64),
			warranties:         make(map[int64]Warranty),
			warrantyByContract: make(map[string]int64),
			spaces:             make(map[int64]Space),
			traces:             make(map[int64]ChangeTrace),
			tracesByAsset:      make(map[int64][]int64),
		},
		batches: make(map[string]Batch),
	}
}

func (d *memData) nextID() int64 {
	d.seq++
	return d.seq
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(q Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	q := &memQuerier{data: s.data, logged: true}
	seq := s.data.seq

	err := fn(q)
	if err == nil {
		if cerr := ctx.Err(); cerr != nil {
			err = fmt.Errorf("commit tx: %w", cerr)
		}
	}
	if err != nil {
		q.rollback()
		s.data.seq = seq
		return err
	}
	return nil
}

// autocommit runs a single operation as its own transaction.
func (s *MemoryStore) autocommit(ctx context.Context, fn func(q *memQuerier) error) error {
	return s.InTx(ctx, func(q Querier) error { return fn(q.(*memQuerier)) })
}

// read runs fn against the committed record set.
func (s *MemoryStore) read(fn func(q *memQuerier) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memQuerier{data: s.data})
}

func (s *MemoryStore) FindAssetByNo(ctx context.Context, assetNo string) (a Asset, err error) {
	err = s.read(func(q *memQuerier) error { a, err = q.FindAssetByNo(ctx, assetNo); return err })
	return a, err
}

func (s *MemoryStore) FindAssetByFingerprint(ctx context.Context, fingerprint string) (a Asset, err error) {
	err = s.read(func(q *memQuerier) error { a, err = q.FindAssetByFingerprint(ctx, fingerprint); return err })
	return a, err
}

func (s *MemoryStore) CreateAsset(ctx context.Context, a *Asset) error {
	return s.autocommit(ctx, func(q *memQuerier) error { return q.CreateAsset(ctx, a) })
}

func (s *MemoryStore) LinkAsset(ctx context.Context, assetID, spaceID, warrantyID int64) error {
	return s.autocommit(ctx, func(q *memQuerier) error { return q.LinkAsset(ctx, assetID, spaceID, warrantyID) })
}

func (s *MemoryStore) FindCategory(ctx context.Context, name string, level int, parentID int64) (c Category, err error) {
	err = s.read(func(q *memQuerier) error { c, err = q.FindCategory(ctx, name, level, parentID); return err })
	return c, err
}

func (s *MemoryStore) CreateCategory(ctx context.Context, c *Category) error {
	return s.autocommit(ctx, func(q *memQuerier) error { return q.CreateCategory(ctx, c) })
}

func (s *MemoryStore) FindWarrantyByContract(ctx context.Context, contractNo string) (w Warranty, err error) {
	err = s.read(func(q *memQuerier) error { w, err = q.FindWarrantyByContract(ctx, contractNo); return err })
	return w, err
}

func (s *MemoryStore) CreateWarranty(ctx context.Context, w *Warranty) error {
	return s.autocommit(ctx, func(q *memQuerier) error { return q.CreateWarranty(ctx, w) })
}

func (s *MemoryStore) UpdateWarranty(ctx context.Context, w Warranty) error {
	return s.autocommit(ctx, func(q *memQuerier) error { return q.UpdateWarranty(ctx, w) })
}

func (s *MemoryStore) CreateSpace(ctx context.Context, sp *Space) error {
	return s.autocommit(ctx, func(q *memQuerier) error { return q.CreateSpace(ctx, sp) })
}

func (s *MemoryStore) CreateChangeTrace(ctx context.Context, ct *ChangeTrace) error {
	return s.autocommit(ctx, func(q *memQuerier) error { return q.CreateChangeTrace(ctx, ct) })
}

func (s *MemoryStore) ListChangeTraces(ctx context.Context, assetID int64) (out []ChangeTrace, err error) {
	err = s.read(func(q *memQuerier) error { out, err = q.ListChangeTraces(ctx, assetID); return err })
	return out, err
}

func (s *MemoryStore) CreateBatch(ctx context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.batches[b.ID]; exists {
		return fmt.Errorf("create batch: %w", ErrConflict)
	}
	s.batches[b.ID] = b
	return nil
}

func (s *MemoryStore) FinishBatch(ctx context.Context, id string, out BatchOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[id]
	if !ok {
		return fmt.Errorf("finish batch: %w", ErrNotFound)
	}
	finished := out.FinishedAt
	b.State = out.State
	b.TotalRows = out.TotalRows
	b.SuccessRows = out.SuccessRows
	b.FailedRows = out.FailedRows
	b.Error = out.Error
	b.FinishedAt = &finished
	s.batches[id] = b
	return nil
}

func (s *MemoryStore) GetBatch(ctx context.Context, id string) (Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[id]
	if !ok {
		return Batch{}, fmt.Errorf("get batch: %w", ErrNotFound)
	}
	return b, nil
}

func (s *MemoryStore) CountAssetsByBatch(ctx context.Context, batchID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.data.assets {
		if a.ImportBatch == batchID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// memQuerier operates on one record set without locking; callers hold
// the appropriate lock. Inside a transaction every write logs its undo.
type memQuerier struct {
	data   *memData
	logged bool
	undo   []func()
}

func (q *memQuerier) onRollback(fn func()) {
	if q.logged {
		q.undo = append(q.undo, fn)
	}
}

func (q *memQuerier) rollback() {
	for i := len(q.undo) - 1; i >= 0; i-- {
		q.undo[i]()
	}
	q.undo = nil
}

func (q *memQuerier) FindAssetByNo(_ context.Context, assetNo string) (Asset, error) {
	if id, ok := q.data.assetByNo[assetNo]; ok {
		return q.data.assets[id], nil
	}
	return Asset{}, fmt.Errorf("find asset: %w", ErrNotFound)
}

func (q *memQuerier) FindAssetByFingerprint(_ context.Context, fingerprint string) (Asset, error) {
	if id, ok := q.data.assetByFP[fingerprint]; ok {
		return q.data.assets[id], nil
	}
	return Asset{}, fmt.Errorf("find asset by fingerprint: %w", ErrNotFound)
}

func (q *memQuerier) CreateAsset(_ context.Context, a *Asset) error {
	d := q.data
	_, byNo := d.assetByNo[a.AssetNo]
	_, byUUID := d.assetByUUID[a.UUID]
	_, byFP := d.assetByFP[a.Fingerprint]
	if byNo || byUUID || byFP {
		return fmt.Errorf("create asset: %w", ErrConflict)
	}
	a.ID = d.nextID()
	d.assets[a.ID] = *a
	d.assetByNo[a.AssetNo] = a.ID
	d.assetByUUID[a.UUID] = a.ID
	d.assetByFP[a.Fingerprint] = a.ID

	created := *a
	q.onRollback(func() {
		delete(d.assets, created.ID)
		delete(d.assetByNo, created.AssetNo)
		delete(d.assetByUUID, created.UUID)
		delete(d.assetByFP, created.Fingerprint)
	})
	return nil
}

func (q *memQuerier) LinkAsset(_ context.Context, assetID, spaceID, warrantyID int64) error {
	a, ok := q.data.assets[assetID]
	if !ok {
		return fmt.Errorf("link asset: %w", ErrNotFound)
	}
	prev := a
	a.SpaceID = spaceID
	a.WarrantyID = warrantyID
	q.data.assets[assetID] = a
	q.onRollback(func() { q.data.assets[assetID] = prev })
	return nil
}

func (q *memQuerier) FindCategory(_ context.Context, name string, level int, parentID int64) (Category, error) {
	if id, ok := q.data.categoryByKey[categoryKey{name, level, parentID}]; ok {
		return q.data.categories[id], nil
	}
	return Category{}, fmt.Errorf("find category: %w", ErrNotFound)
}

func (q *memQuerier) CreateCategory(_ context.Context, c *Category) error {
	key := categoryKey{c.Name, c.Level, c.ParentID}
	if _, exists := q.data.categoryByKey[key]; exists {
		return fmt.Errorf("create category: %w", ErrConflict)
	}
	c.ID = q.data.nextID()
	q.data.categories[c.ID] = *c
	q.data.categoryByKey[key] = c.ID

	id := c.ID
	q.onRollback(func() {
		delete(q.data.categories, id)
		delete(q.data.categoryByKey, key)
	})
	return nil
}

func (q *memQuerier) FindWarrantyByContract(_ context.Context, contractNo string) (Warranty, error) {
	if id, ok := q.data.warrantyByContract[contractNo]; ok {
		return q.data.warranties[id], nil
	}
	return Warranty{}, fmt.Errorf("find warranty: %w", ErrNotFound)
}

func (q *memQuerier) CreateWarranty(_ context.Context, w *Warranty) error {
	if _, exists := q.data.warrantyByContract[w.ContractNo]; exists {
		return fmt.Errorf("create warranty: %w", ErrConflict)
	}
	w.ID = q.data.nextID()
	q.data.warranties[w.ID] = withCalendarDates(*w)
	q.data.warrantyByContract[w.ContractNo] = w.ID

	id, contractNo := w.ID, w.ContractNo
	q.onRollback(func() {
		delete(q.data.warranties, id)
		delete(q.data.warrantyByContract, contractNo)
	})
	return nil
}

func (q *memQuerier) UpdateWarranty(_ context.Context, w Warranty) error {
	prev, ok := q.data.warranties[w.ID]
	if !ok {
		return fmt.Errorf("update warranty: %w", ErrNotFound)
	}
	w.ContractNo = prev.ContractNo
	q.data.warranties[w.ID] = withCalendarDates(w)
	q.onRollback(func() { q.data.warranties[prev.ID] = prev })
	return nil
}

func (q *memQuerier) CreateSpace(_ context.Context, sp *Space) error {
	if _, ok := q.data.assets[sp.AssetID]; !ok {
		return fmt.Errorf("create space: asset %d: %w", sp.AssetID, ErrNotFound)
	}
	sp.ID = q.data.nextID()
	q.data.spaces[sp.ID] = *sp

	id := sp.ID
	q.onRollback(func() { delete(q.data.spaces, id) })
	return nil
}

func (q *memQuerier) CreateChangeTrace(_ context.Context, ct *ChangeTrace) error {
	if _, ok := q.data.assets[ct.AssetID]; !ok {
		return fmt.Errorf("create change trace: asset %d: %w", ct.AssetID, ErrNotFound)
	}
	ct.ID = q.data.nextID()
	q.data.traces[ct.ID] = *ct
	q.data.tracesByAsset[ct.AssetID] = append(q.data.tracesByAsset[ct.AssetID], ct.ID)

	id, assetID := ct.ID, ct.AssetID
	q.onRollback(func() {
		delete(q.data.traces, id)
		ids := q.data.tracesByAsset[assetID]
		if len(ids) <= 1 {
			delete(q.data.tracesByAsset, assetID)
			return
		}
		q.data.tracesByAsset[assetID] = ids[:len(ids)-1]
	})
	return nil
}

func (q *memQuerier) ListChangeTraces(_ context.Context, assetID int64) ([]ChangeTrace, error) {
	ids := q.data.tracesByAsset[assetID]
	out := make([]ChangeTrace, 0, len(ids))
	for _, id := range ids {
		out = append(out, q.data.traces[id])
	}
	return out, nil
}

func withCalendarDates(w Warranty) Warranty {
	w.StartDate = calendarDate(w.StartDate)
	w.EndDate = calendarDate(w.EndDate)
	if w.AcceptanceDate != nil {
		d := calendarDate(*w.AcceptanceDate)
		w.AcceptanceDate = &d
	}
	return w
}
