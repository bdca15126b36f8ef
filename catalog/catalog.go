// Package catalog describes the external storage/catalog collaborator
// (spec §6 "Catalog interface consumed"): base-table stores, the physical
// data-layout factory, string interning, and the other cross-cutting
// services this backend borrows rather than owns.
package catalog

import "time"

// Store is a single base table's backing storage, as produced by
// Catalog.CreateStore. The execution core only needs enough to map the
// table into the arena (RowSize, NumRows) and to read its raw bytes.
type Store interface {
	NumRows() uint32
	RowSize() uint32
	// Bytes returns the table's row-major image, RowSize()*NumRows() long.
	Bytes() []byte
}

// Timer is a coarse wall-clock/monotonic clock abstraction, mirroring the
// catalog.timer() collaborator; used for diagnostics like bench timings.
type Timer interface {
	Now() time.Time
}

// Allocator reports the database's own allocator counters, consumed by the
// print_memory_consumption host callback (§4.3).
type Allocator interface {
	// TotalMiB and PeakMiB report allocator usage in MiB, matching the
	// units print_memory_consumption expects.
	TotalMiB() uint32
	PeakMiB() uint32
}

// Pool interns strings process-wide, mirroring catalog.pool(str); used so
// repeated identifiers (table/column names) share storage.
type Pool interface {
	Intern(s string) string
}

// PlanEnumerator is an opaque handle to a named physical-plan enumeration
// strategy; the execution core never calls into it, only threads it through
// from the catalog to whatever created the matched Plan.
type PlanEnumerator interface {
	Name() string
}

// Catalog aggregates these catalog collaborator accessors: timer(),
// allocator(), create_store(table), plan_enumerator(name), pool(str) and
// register_wasm_backend(name, desc). It declares no arg_parser() or
// data_layout() accessor; the row layout reaches the Result-Set Reader
// through wasmctx.ResultSetFactory instead.
type Catalog interface {
	Timer() Timer
	Allocator() Allocator
	CreateStore(table string) (Store, error)
	Pool() Pool
	PlanEnumerator(name string) (PlanEnumerator, error)

	// RegisterWasmBackend announces the Wasm backend to the catalog as the
	// active execution backend; engine.Driver.RunQuery calls it once per
	// query, analogous to the teacher's own host-module registration
	// pattern.
	RegisterWasmBackend(name, description string)
}
