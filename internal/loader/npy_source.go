package loader

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/vaultgraph/vgdb/internal/catalog"
	"github.com/vaultgraph/vgdb/internal/errs"
)

// NpyHeader is the subset of a .npy file's header dictionary the loader
// needs to validate a primary-key/property column copy: its element dtype
// and shape. Full NPY array decoding (nested dtypes, Fortran order, object
// arrays) is out of scope (spec.md's Non-goals) — only the flat numeric
// vectors a node-table property copy can use are supported.
type NpyHeader struct {
	DType string
	Shape []int
}

const npyMagic = "\x93NUMPY"

var npyShapeRe = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
var npyDescrRe = regexp.MustCompile(`'descr':\s*'([^']*)'`)

// ReadNpyHeader parses just enough of r's NPY container to recover its
// dtype string and shape tuple, per spec.md's "NPY copy reads only the
// header to validate shape/dtype up front" note.
func ReadNpyHeader(r io.Reader) (NpyHeader, error) {
	magicAndVersion := make([]byte, 8)
	if _, err := io.ReadFull(r, magicAndVersion); err != nil {
		return NpyHeader{}, errors.Wrap(err, "loader: read NPY magic")
	}
	if string(magicAndVersion[:6]) != npyMagic {
		return NpyHeader{}, errs.New(errs.KindCopy, "not an NPY file")
	}
	major := magicAndVersion[6]

	var headerLen int
	if major >= 2 {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return NpyHeader{}, errors.Wrap(err, "loader: read NPY header length")
		}
		headerLen = int(binary.LittleEndian.Uint32(lenBuf[:]))
	} else {
		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return NpyHeader{}, errors.Wrap(err, "loader: read NPY header length")
		}
		headerLen = int(binary.LittleEndian.Uint16(lenBuf[:]))
	}

	headerBuf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return NpyHeader{}, errors.Wrap(err, "loader: read NPY header dict")
	}
	dict := string(headerBuf)

	descrMatch := npyDescrRe.FindStringSubmatch(dict)
	if descrMatch == nil {
		return NpyHeader{}, errs.NpyShapeMismatch("missing descr field")
	}
	h := NpyHeader{DType: descrMatch[1]}

	shapeMatch := npyShapeRe.FindStringSubmatch(dict)
	if shapeMatch == nil {
		return NpyHeader{}, errs.NpyShapeMismatch("missing shape field")
	}
	for _, part := range strings.Split(shapeMatch[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return NpyHeader{}, errs.NpyShapeMismatch("non-integer shape dimension " + part)
		}
		h.Shape = append(h.Shape, n)
	}
	return h, nil
}

// NumRows reports the first shape dimension, the row count a node-table
// copy binds the column chunk to.
func (h NpyHeader) NumRows() uint64 {
	if len(h.Shape) == 0 {
		return 0
	}
	return uint64(h.Shape[0])
}

// NpySource holds one column's decoded NPY header plus its full data
// region, read eagerly since a bulk copy's row count phase (spec.md
// §4.8.1) needs every source sized up front anyway.
type NpySource struct {
	Header NpyHeader
	Path   string
	data   []byte
}

// OpenNpySource reads path's header and data region.
func OpenNpySource(path string) (*NpySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "loader: open NPY source")
	}
	defer f.Close()
	h, err := ReadNpyHeader(f)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "loader: read NPY data region")
	}
	return &NpySource{Header: h, Path: path, data: data}, nil
}

// npyDType describes how to memcpy one element of a supported NPY dtype
// out of its row-major data region and render it as the same kind of raw
// cell string encodeFixedWidth already parses for the CSV path — the
// "decode" is a fixed-offset byte slice, never a tokenizer, which is what
// distinguishes this from the CSV path per spec.md §4.8.3.
type npyDType struct {
	size   int
	decode func([]byte) string
}

var npyDTypes = map[string]npyDType{
	"<i2": {2, func(b []byte) string { return strconv.FormatInt(int64(int16(binary.LittleEndian.Uint16(b))), 10) }},
	"<i4": {4, func(b []byte) string { return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(b))), 10) }},
	"<i8": {8, func(b []byte) string { return strconv.FormatInt(int64(binary.LittleEndian.Uint64(b)), 10) }},
	"<f4": {4, func(b []byte) string {
		return strconv.FormatFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), 'g', -1, 32)
	}},
	"<f8": {8, func(b []byte) string {
		return strconv.FormatFloat(math.Float64frombits(binary.LittleEndian.Uint64(b)), 'g', -1, 64)
	}},
	"|b1": {1, func(b []byte) string {
		if b[0] != 0 {
			return "true"
		}
		return "false"
	}},
}

// npyColumn binds one opened NPY file to the property it fills.
type npyColumn struct {
	property string
	src      *NpySource
	dtype    npyDType
}

// npyBatchSize caps rows per NextBatch call, mirroring csvBatchSize.
const npyBatchSize = 2000

// NpyBatchSource implements RecordBatchSource over one NPY file per
// property, the "NPY node copy task" of spec.md §4.8.1/§4.8.3: values are
// read byte-wise out of each column's data region rather than tokenized,
// the pk column is required to be INT64, and every column must agree on
// row count.
type NpyBatchSource struct {
	columns []npyColumn
	names   []string
	numRows uint64
	pos     uint64
}

// OpenNpyNodeSource builds an NpyBatchSource for schema from paths, a
// property-name-to-NPY-file map mirroring CopyDescription's
// propertyIdToNpyMap (spec.md §3). Properties with no entry in paths are
// left unpopulated, the same way a CSV source without a header column for
// a property leaves it unset.
func OpenNpyNodeSource(schema *catalog.NodeTableSchema, paths map[string]string) (*NpyBatchSource, error) {
	pk, havePK := schema.PrimaryKeyProperty()

	var cols []npyColumn
	var names []string
	var numRows uint64
	haveRows := false

	for _, prop := range schema.Properties {
		path, ok := paths[prop.Name]
		if !ok {
			continue
		}
		src, err := OpenNpySource(path)
		if err != nil {
			return nil, err
		}
		dt, ok := npyDTypes[src.Header.DType]
		if !ok {
			return nil, errs.NpyShapeMismatch("unsupported dtype " + src.Header.DType + " for column " + prop.Name)
		}
		width, fixed := prop.Type.FixedWidth()
		if !fixed || width != dt.size {
			return nil, errs.NpyShapeMismatch("column " + prop.Name + " element size does not match property type " + prop.Type.String())
		}
		if havePK && prop.Name == pk.Name && prop.Type != catalog.TypeInt64 {
			return nil, errs.UnsupportedPkForNpy(prop.Type.String())
		}

		rows := src.Header.NumRows()
		if !haveRows {
			numRows, haveRows = rows, true
		} else if rows != numRows {
			return nil, errs.NpyShapeMismatch("column " + prop.Name + " row count disagrees with an earlier column")
		}
		if uint64(len(src.data)) < rows*uint64(dt.size) {
			return nil, errs.NpyShapeMismatch("column " + prop.Name + " data region shorter than its declared shape")
		}

		cols = append(cols, npyColumn{property: prop.Name, src: src, dtype: dt})
		names = append(names, prop.Name)
	}
	if len(cols) == 0 {
		return nil, errs.NpyShapeMismatch("no NPY columns supplied")
	}

	return &NpyBatchSource{columns: cols, names: names, numRows: numRows}, nil
}

// Schema returns the property names this source populates, in the node
// table's declared property order.
func (s *NpyBatchSource) Schema() ([]string, error) { return s.names, nil }

// NextBatch memcpy-decodes up to npyBatchSize rows at a time.
func (s *NpyBatchSource) NextBatch() (Batch, error) {
	if s.pos >= s.numRows {
		return nil, io.EOF
	}
	end := s.pos + npyBatchSize
	if end > s.numRows {
		end = s.numRows
	}
	batch := make(Batch, 0, end-s.pos)
	for r := s.pos; r < end; r++ {
		row := make([]string, len(s.columns))
		for i, col := range s.columns {
			off := int(r) * col.dtype.size
			row[i] = col.dtype.decode(col.src.data[off : off+col.dtype.size])
		}
		batch = append(batch, row)
	}
	s.pos = end
	if s.pos >= s.numRows {
		return batch, io.EOF
	}
	return batch, nil
}
