package loader

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/pkg/errors"
)

// csvBatchSize caps how many rows one NextBatch call returns, mirroring the
// teacher's batched-insert idiom (internal/importer/csv.go's insertAllRecords)
// so a caller can interleave Schedule calls with reads instead of holding an
// entire file's rows in memory at once.
const csvBatchSize = 2000

// CSVSource streams row batches out of a delimited text file by tokenizing
// each line; NpyBatchSource (npy_source.go) is the other RecordBatchSource,
// decoding fixed-offset binary elements instead of tokens.
type CSVSource struct {
	f      *os.File
	r      *csv.Reader
	header []string
	done   bool
}

// OpenCSVSource opens path and, if desc.HasHeader, consumes its first line
// as the column schema; otherwise the schema must be supplied by the caller
// via the table's declared property order.
func OpenCSVSource(desc CopyDescription) (*CSVSource, error) {
	f, err := os.Open(desc.Path)
	if err != nil {
		return nil, errors.Wrap(err, "loader: open copy source")
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	delim := desc.Delimiter
	if delim == 0 {
		delim = DefaultDelimiter
	}
	r.Comma = delim

	s := &CSVSource{f: f, r: r}
	if desc.HasHeader {
		header, err := r.Read()
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "loader: read CSV header")
		}
		s.header = header
	}
	return s, nil
}

// Schema returns the header row, or nil if the source was opened without one.
func (s *CSVSource) Schema() ([]string, error) { return s.header, nil }

// NextBatch reads up to csvBatchSize rows.
func (s *CSVSource) NextBatch() (Batch, error) {
	if s.done {
		return nil, io.EOF
	}
	batch := make(Batch, 0, csvBatchSize)
	for len(batch) < csvBatchSize {
		row, err := s.r.Read()
		if err == io.EOF {
			s.done = true
			s.f.Close()
			return batch, io.EOF
		}
		if err != nil {
			s.f.Close()
			return nil, errors.Wrap(err, "loader: read CSV row")
		}
		batch = append(batch, row)
	}
	return batch, nil
}
