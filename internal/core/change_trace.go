package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JonMunkholm/itassets/internal/store"
)

// OperatorExcelImport is recorded as the operator of every imported change.
const OperatorExcelImport = "EXCEL_IMPORT"

// SpaceSnapshot is the location part of a space change delta.
type SpaceSnapshot struct {
	DataCenter string `json:"data_center"`
	Room       string `json:"room_name"`
	Cabinet    string `json:"cabinet"`
	UPosition  string `json:"u_position"`
}

func snapshotOf(sp store.Space) SpaceSnapshot {
	return SpaceSnapshot{
		DataCenter: sp.DataCenter,
		Room:       sp.Room,
		Cabinet:    sp.Cabinet,
		UPosition:  sp.UPosition,
	}
}

// InitialDelta is the delta of the INITIAL trace written for each
// imported asset.
type InitialDelta struct {
	Source     string `json:"source"`
	Batch      string `json:"batch"`
	ImportTime string `json:"import_time"`
}

// SpaceDelta is the delta of a SPACE trace.
type SpaceDelta struct {
	Field  string        `json:"field"`
	Before SpaceSnapshot `json:"before"`
	After  SpaceSnapshot `json:"after"`
}

// ChangeTraceParams contains parameters for recording a change trace.
type ChangeTraceParams struct {
	AssetID    int64
	ChangeType string
	Delta      any
	OperatedBy string
	OperatedAt time.Time
}

// recordChangeTrace marshals the delta and writes the trace through q.
func recordChangeTrace(ctx context.Context, q store.Querier, p ChangeTraceParams) error {
	delta, err := json.Marshal(p.Delta)
	if err != nil {
		return fmt.Errorf("encode %s delta: %w", p.ChangeType, err)
	}
	if p.OperatedBy == "" {
		p.OperatedBy = OperatorExcelImport
	}
	if p.OperatedAt.IsZero() {
		p.OperatedAt = time.Now()
	}

	ct := &store.ChangeTrace{
		AssetID:    p.AssetID,
		ChangeType: p.ChangeType,
		Delta:      string(delta),
		OperatedBy: p.OperatedBy,
		OperatedAt: p.OperatedAt,
	}
	if err := q.CreateChangeTrace(ctx, ct); err != nil {
		return fmt.Errorf("record %s trace: %w", p.ChangeType, err)
	}
	return nil
}
