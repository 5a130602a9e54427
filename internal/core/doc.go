// Package core implements the asset import pipeline.
//
// An upload travels through three pieces:
//
//   - [Parser] validates the workbook, registers an import task in a
//     [TaskStore] and walks the data rows in order.
//   - A [RowProcessor] turns each row into domain writes. [AssetRowProcessor]
//     is the production implementation and persists assets, categories,
//     warranty contracts, space timeline entries and change traces through
//     a store.Store, one transaction per row.
//   - [Service] ties both together: it reserves an import slot, generates the
//     batch id, runs the task in the background and answers progress and
//     result queries.
//
// # Task lifecycle
//
// A task starts in [StateProcessing] and ends in exactly one of
// [StateCompleted] or [StateFailed]. A row that fails validation or
// persistence is counted and reported but never stops the run; only an
// unreadable workbook, a header without the required columns or an
// interrupted run fails the task. The task store refuses updates to a
// finished task, so a terminal snapshot never changes. Finished tasks are
// evicted after a TTL by the maintenance loop.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages using [MapError].
// Each error category has a code for support reference:
//
//   - DB001-DB007: database errors (duplicates, constraints, connections)
//   - VAL001-VAL006: validation errors (dates, numbers, categories)
//   - FILE001-FILE006: file errors (size, type, empty)
//   - IMP001-IMP007: import errors (busy, not found, header mismatch, interrupted)
package core
