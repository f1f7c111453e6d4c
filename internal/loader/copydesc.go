// Package loader implements the bulk COPY FROM pipeline (spec.md §4.8): a
// parallel two-pass loader that fills node/rel table structures from a CSV
// or NPY RecordBatchSource without going through the single-writer
// transaction path row by row.
package loader

// CopyDescription names one COPY FROM statement's source file and format
// options, resolved by the binder before the loader ever opens anything.
type CopyDescription struct {
	TableName string
	Path      string
	HasHeader bool
	Delimiter rune
}

// DefaultDelimiter is used when a CopyDescription leaves Delimiter unset.
const DefaultDelimiter = ','
