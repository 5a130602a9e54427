// Package store persists the records produced by an asset import: assets,
// categories, warranty contracts, space timeline entries, change traces and
// the import batches that stamp them.
//
// Two implementations are provided. SQLStore runs on database/sql against
// PostgreSQL (through pgx) or SQLite (through modernc.org/sqlite).
// MemoryStore keeps everything in process and backs tests and local runs.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by lookups that match no record.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write violates a uniqueness rule,
	// such as a second asset with the same asset number.
	ErrConflict = errors.New("record already exists")
)

// Asset status values.
const (
	StatusInUse       = "IN_USE"
	StatusInventory   = "INVENTORY"
	StatusMaintenance = "MAINTENANCE"
	StatusRetired     = "RETIRED"
)

// Change trace types.
const (
	ChangeInitial = "INITIAL"
	ChangeSpace   = "SPACE"
)

// Batch states mirror the import task states.
const (
	BatchProcessing = "PROCESSING"
	BatchCompleted  = "COMPLETED"
	BatchFailed     = "FAILED"
)

// Asset is one managed IT asset. SpaceID and WarrantyID are zero when unset.
type Asset struct {
	ID                int64
	UUID              string
	AssetNo           string
	Name              string
	Status            string
	SerialNo          string
	Model             string
	CategoryID        int64
	CategoryHierarchy string // JSON object {"l1","l2","l3"}
	SpaceID           int64
	WarrantyID        int64
	Fingerprint       string
	ImportBatch       string
	CreatedAt         time.Time
}

// Category is one node of the three-level category tree.
type Category struct {
	ID       int64
	Name     string
	Level    int
	ParentID int64
	Code     string
}

// Warranty is a maintenance contract, unique by contract number. Its dates
// are calendar days: stores keep the Y/M/D of the value written and return
// it at midnight UTC.
type Warranty struct {
	ID             int64
	ContractNo     string
	Provider       string
	ProviderLevel  int
	Status         string
	StartDate      time.Time
	EndDate        time.Time
	LifeYears      int
	AcceptanceDate *time.Time
}

// Space is an entry in an asset's location timeline.
type Space struct {
	ID           int64
	AssetID      int64
	DataCenter   string
	Room         string
	Cabinet      string
	UPosition    string
	LocationPath string
	IsCurrent    bool
	ValidFrom    time.Time
	ValidTo      *time.Time
}

// ChangeTrace records one change to an asset. Delta holds a JSON document.
type ChangeTrace struct {
	ID         int64
	AssetID    int64
	ChangeType string
	Delta      string
	OperatedBy string
	OperatedAt time.Time
}

// Batch is the durable record of one import run.
type Batch struct {
	ID          string
	TaskID      string
	FileName    string
	ImportedBy  string
	State       string
	TotalRows   int
	SuccessRows int
	FailedRows  int
	Error       string
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// BatchOutcome carries the figures written when a batch finishes.
type BatchOutcome struct {
	State       string
	TotalRows   int
	SuccessRows int
	FailedRows  int
	Error       string
	FinishedAt  time.Time
}

// Querier is the set of operations available both on a store and inside a
// transaction. Create methods fill in the generated ID.
type Querier interface {
	FindAssetByNo(ctx context.Context, assetNo string) (Asset, error)
	FindAssetByFingerprint(ctx context.Context, fingerprint string) (Asset, error)
	CreateAsset(ctx context.Context, a *Asset) error
	LinkAsset(ctx context.Context, assetID, spaceID, warrantyID int64) error

	FindCategory(ctx context.Context, name string, level int, parentID int64) (Category, error)
	CreateCategory(ctx context.Context, c *Category) error

	FindWarrantyByContract(ctx context.Context, contractNo string) (Warranty, error)
	CreateWarranty(ctx context.Context, w *Warranty) error
	UpdateWarranty(ctx context.Context, w Warranty) error

	CreateSpace(ctx context.Context, sp *Space) error

	CreateChangeTrace(ctx context.Context, ct *ChangeTrace) error
	ListChangeTraces(ctx context.Context, assetID int64) ([]ChangeTrace, error)
}

// Store is the persistence collaborator of the import pipeline.
type Store interface {
	Querier

	// InTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(q Querier) error) error

	CreateBatch(ctx context.Context, b Batch) error
	FinishBatch(ctx context.Context, id string, out BatchOutcome) error
	GetBatch(ctx context.Context, id string) (Batch, error)
	CountAssetsByBatch(ctx context.Context, batchID string) (int, error)

	Ping(ctx context.Context) error
	Close() error
}
