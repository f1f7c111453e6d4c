package loader

import "io"

// Batch is one block of raw string cells, row-major, matching one
// RecordBatch in the bulk-copy pipeline (spec.md §4.8.1's "block").
type Batch [][]string

// RecordBatchSource is the producer contract every input format (CSV, NPY,
// eventually Parquet) implements so the copiers themselves never branch on
// file format (spec.md §9's redesign note against per-format copy
// functions).
type RecordBatchSource interface {
	// Schema returns the source's column names, in file order.
	Schema() ([]string, error)
	// NextBatch returns the next block of rows. It returns io.EOF once the
	// source is exhausted, possibly alongside a final non-empty Batch.
	NextBatch() (Batch, error)
}

// ReadAll drains src into one Batch plus the total row count, the count
// phase of spec.md §4.8.1. Bulk loads are expected to fit comfortably in
// memory as raw strings before being parsed into columns; a streaming count
// pass over on-disk blocks is the teacher's CSV importer's concern, not
// this loader's, since §4.8.1 only requires knowing numRows before
// initializing column chunks.
func ReadAll(src RecordBatchSource) (Batch, error) {
	var all Batch
	for {
		b, err := src.NextBatch()
		all = append(all, b...)
		if err == io.EOF {
			return all, nil
		}
		if err != nil {
			return nil, err
		}
		if len(b) == 0 {
			return all, nil
		}
	}
}
