package exec

import (
	"math"
	"path/filepath"
	"time"

	"github.com/vaultgraph/vgdb/internal/catalog"
	"github.com/vaultgraph/vgdb/internal/errs"
	"github.com/vaultgraph/vgdb/internal/pager"
)

// Store is the runtime read side of the on-disk layout the bulk loader
// writes (internal/loader/node_copier.go, rel_copier.go): one directory per
// table, one fixed-width column file per property, and — for a MANY
// adjacency direction — a headers/metadata/data CSR triple. Its write side
// (mutate.go) writes single column slots for SET and CREATE; nothing in
// Store writes adjacency data.
type Store struct {
	p     *pager.Pager
	cat   *catalog.Manager
	dbDir string
}

// NewStore wires a Store to an already-open Pager and catalog rooted at
// dbDir (the same directory the loader populates).
func NewStore(p *pager.Pager, cat *catalog.Manager, dbDir string) *Store {
	return &Store{p: p, cat: cat, dbDir: dbDir}
}

func nodeTableDir(dbDir, name string) string        { return filepath.Join(dbDir, name+".node") }
func relTableDir(dbDir, name string) string         { return filepath.Join(dbDir, name+".rel") }
func columnPath(dir, propName string) string        { return filepath.Join(dir, propName+".col") }
func overflowPath(dir, propName string) string      { return filepath.Join(dir, propName+".ovf") }
func adjColumnPath(dir, direction string) string    { return filepath.Join(dir, direction+".adjcol") }
func adjHeaderPath(dir, direction string) string    { return filepath.Join(dir, direction+".headers") }
func adjMetaPath(dir, direction string) string      { return filepath.Join(dir, direction+".meta") }
func adjDataPath(dir, direction string) string      { return filepath.Join(dir, direction+".data") }

// NumNodeRows returns a node table's row count via its committed statistics.
func (s *Store) NumNodeRows(schema *catalog.NodeTableSchema, stats *catalog.StatisticsManager) uint64 {
	st, ok := stats.Get(schema.TableID, true)
	if !ok {
		return 0
	}
	return st.NumTuples
}

// readColumnSlot reads one fixed-width slot's raw bytes and null bit out of
// the property's column file for row offset n.
func (s *Store) readColumnSlot(dir, propName string, width int, n uint64) (raw []byte, isNull bool, err error) {
	fh, _, err := s.p.OpenFile(columnPath(dir, propName))
	if err != nil {
		return nil, false, err
	}
	layout := pager.ComputeColumnLayout(s.p.PageSize(), width)
	pageIdx, slot := layout.PageForOffset(n)
	buf, err := s.p.ReadPageDirect(fh, pageIdx)
	if err != nil {
		return nil, false, err
	}
	if layout.IsNull(buf, slot) {
		return nil, true, nil
	}
	out := make([]byte, width)
	copy(out, layout.ReadSlot(buf, slot))
	return out, false, nil
}

// ReadNodeProperty returns prop's decoded value for node row offset n, or
// nil if the slot is null.
func (s *Store) ReadNodeProperty(schema *catalog.NodeTableSchema, prop catalog.Property, n uint64) (any, error) {
	dir := nodeTableDir(s.dbDir, schema.Name)
	return s.readProperty(dir, prop, n)
}

// ReadRelProperty returns prop's decoded value for rel row offset (relId) n.
func (s *Store) ReadRelProperty(schema *catalog.RelTableSchema, prop catalog.Property, n uint64) (any, error) {
	dir := relTableDir(s.dbDir, schema.Name)
	return s.readProperty(dir, prop, n)
}

func (s *Store) readProperty(dir string, prop catalog.Property, n uint64) (any, error) {
	width, fixed := prop.Type.FixedWidth()
	if !fixed {
		return nil, errs.New(errs.KindExecution, "property %q has no fixed-width encoding", prop.Name)
	}
	if prop.Type == catalog.TypeString || prop.Type == catalog.TypeVarList {
		raw, isNull, err := s.readColumnSlot(dir, prop.Name, pager.DescriptorSize, n)
		if err != nil || isNull {
			return nil, err
		}
		desc := pager.DecodeDescriptor(raw)
		if desc.Inline {
			return string(desc.Payload[:desc.Length]), nil
		}
		fh, _, err := s.p.OpenFile(overflowPath(dir, prop.Name))
		if err != nil {
			return nil, err
		}
		buf, err := s.p.ReadPageDirect(fh, desc.PageIdx)
		if err != nil {
			return nil, err
		}
		ref := pager.OverflowRef{PageIdx: desc.PageIdx, Offset: int(desc.Offset), Length: int(desc.Length)}
		return string(pager.ReadValue(buf, ref)), nil
	}

	raw, isNull, err := s.readColumnSlot(dir, prop.Name, width, n)
	if err != nil || isNull {
		return nil, err
	}
	return decodeFixedWidth(prop.Type, raw), nil
}

func decodeFixedWidth(lt catalog.LogicalType, raw []byte) any {
	le := func(n int) uint64 {
		var v uint64
		for i := 0; i < n; i++ {
			v |= uint64(raw[i]) << (8 * i)
		}
		return v
	}
	switch lt {
	case catalog.TypeBool:
		return raw[0] != 0
	case catalog.TypeInt16:
		return int16(le(2))
	case catalog.TypeInt32:
		return int32(le(4))
	case catalog.TypeInt64, catalog.TypeInternalID, catalog.TypeSerial:
		return int64(le(8))
	case catalog.TypeFloat:
		return math.Float32frombits(uint32(le(4)))
	case catalog.TypeDouble:
		return math.Float64frombits(le(8))
	case catalog.TypeDate:
		return time.Unix(int64(int32(le(4)))*86400, 0).UTC()
	case catalog.TypeTimestamp:
		return time.UnixMicro(int64(le(8))).UTC()
	case catalog.TypeInterval:
		return time.Duration(int64(le(8))) * time.Microsecond
	default:
		return nil
	}
}

// NodeRow reads every declared property of schema for row offset n.
func (s *Store) NodeRow(schema *catalog.NodeTableSchema, n uint64) (map[string]any, error) {
	row := make(map[string]any, len(schema.Properties)+3)
	row["_id"] = n
	row["_table"] = schema.TableID
	row["_isNode"] = true
	for _, prop := range schema.Properties {
		v, err := s.ReadNodeProperty(schema, prop, n)
		if err != nil {
			return nil, err
		}
		row[prop.Name] = v
	}
	return row, nil
}

// RelRow reads every declared property of schema for rel row offset n.
func (s *Store) RelRow(schema *catalog.RelTableSchema, n uint64) (map[string]any, error) {
	row := make(map[string]any, len(schema.Properties)+3)
	row["_id"] = n
	row["_table"] = schema.TableID
	row["_isNode"] = false
	for _, prop := range schema.Properties {
		v, err := s.ReadRelProperty(schema, prop, n)
		if err != nil {
			return nil, err
		}
		row[prop.Name] = v
	}
	return row, nil
}

// Neighbors returns nodeOffset's adjacency entries in the given direction
// ("fwd" or "bwd"), reading the MANY-multiplicity CSR triple or the
// ONE-multiplicity dense adjacency column, whichever schema's Multiplicity
// says is in effect.
func (s *Store) Neighbors(schema *catalog.RelTableSchema, forward bool, nodeOffset uint64) ([]pager.AdjEntry, error) {
	dir := relTableDir(s.dbDir, schema.Name)
	direction := "fwd"
	mult := schema.Multiplicity.Fwd
	if !forward {
		direction = "bwd"
		mult = schema.Multiplicity.Bwd
	}

	if mult == catalog.One {
		fh, _, err := s.p.OpenFile(adjColumnPath(dir, direction))
		if err != nil {
			return nil, err
		}
		layout := pager.ComputeColumnLayout(s.p.PageSize(), pager.AdjEntrySize)
		pageIdx, slot := layout.PageForOffset(nodeOffset)
		buf, err := s.p.ReadPageDirect(fh, pageIdx)
		if err != nil {
			return nil, err
		}
		if layout.IsNull(buf, slot) {
			return nil, nil
		}
		e := pager.DecodeAdjEntry(layout.ReadSlot(buf, slot))
		return []pager.AdjEntry{e}, nil
	}

	headerFH, _, err := s.p.OpenFile(adjHeaderPath(dir, direction))
	if err != nil {
		return nil, err
	}
	headerLayout := pager.ComputeAdjHeaderLayout(s.p.PageSize())
	pageIdx, slot := headerLayout.PageForIndex(nodeOffset)
	hbuf, err := s.p.ReadPageDirect(headerFH, pageIdx)
	if err != nil {
		return nil, err
	}
	hdr := pager.DecodeAdjHeader(headerLayout.ReadRecord(hbuf, slot))
	if hdr.NumEntries == 0 {
		return nil, nil
	}

	dataFH, _, err := s.p.OpenFile(adjDataPath(dir, direction))
	if err != nil {
		return nil, err
	}
	dataLayout := pager.ComputeAdjDataLayout(s.p.PageSize())
	entries := make([]pager.AdjEntry, 0, hdr.NumEntries)
	for i := uint64(0); i < uint64(hdr.NumEntries); i++ {
		dPageIdx, dSlot := dataLayout.PageForIndex(hdr.CSROffset + i)
		dbuf, err := s.p.ReadPageDirect(dataFH, dPageIdx)
		if err != nil {
			return nil, err
		}
		entries = append(entries, pager.DecodeAdjEntry(dataLayout.ReadRecord(dbuf, dSlot)))
	}
	return entries, nil
}
