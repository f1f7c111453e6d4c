package exec

import (
	"math"
	"time"

	"github.com/vaultgraph/vgdb/internal/catalog"
	"github.com/vaultgraph/vgdb/internal/errs"
	"github.com/vaultgraph/vgdb/internal/pager"
)

// writeColumnSlot writes raw into propName's column file at row offset n,
// allocating a fresh page via AddNewPage the first time n's page is
// touched (n%perPage==0) rather than probing the file's size — node and
// rel tables only ever grow by sequential append, at runtime the same as
// in the bulk loader, so this is enough to tell "first write to this page"
// from "page already exists".
func (s *Store) writeColumnSlot(txID pager.TxID, dir, propName string, width int, n uint64, raw []byte) error {
	fh, _, err := s.p.OpenFile(columnPath(dir, propName))
	if err != nil {
		return err
	}
	layout := pager.ComputeColumnLayout(s.p.PageSize(), width)
	pageIdx, slot := layout.PageForOffset(n)

	var ref *pager.FrameRef
	if slot == 0 {
		_, ref, err = s.p.AddNewPage(fh, pager.PageTypeColumnData)
	} else {
		ref, err = s.p.Pin(fh, pageIdx, pager.PinWrite)
	}
	if err != nil {
		return err
	}
	layout.WriteSlot(ref.Data, slot, raw)
	return s.p.Unpin(txID, ref, true)
}

func (s *Store) setColumnNull(txID pager.TxID, dir, propName string, width int, n uint64) error {
	fh, _, err := s.p.OpenFile(columnPath(dir, propName))
	if err != nil {
		return err
	}
	layout := pager.ComputeColumnLayout(s.p.PageSize(), width)
	pageIdx, slot := layout.PageForOffset(n)
	var ref *pager.FrameRef
	if slot == 0 {
		_, ref, err = s.p.AddNewPage(fh, pager.PageTypeColumnData)
	} else {
		ref, err = s.p.Pin(fh, pageIdx, pager.PinWrite)
	}
	if err != nil {
		return err
	}
	layout.SetNull(ref.Data, slot, true)
	return s.p.Unpin(txID, ref, true)
}

// WriteNodeProperty encodes and writes v into prop's column at row offset n.
// Long (overflow-bound) strings cannot be inserted through the runtime
// mutation path; only the bulk loader's pass-1/finalize sequence places
// overflow payloads, so a value wider than the inline descriptor capacity
// is rejected here rather than silently truncated.
func (s *Store) WriteNodeProperty(txID pager.TxID, schema *catalog.NodeTableSchema, prop catalog.Property, n uint64, v any) error {
	dir := nodeTableDir(s.dbDir, schema.Name)
	return s.writeProperty(txID, dir, prop, n, v)
}

func (s *Store) WriteRelProperty(txID pager.TxID, schema *catalog.RelTableSchema, prop catalog.Property, n uint64, v any) error {
	dir := relTableDir(s.dbDir, schema.Name)
	return s.writeProperty(txID, dir, prop, n, v)
}

func (s *Store) writeProperty(txID pager.TxID, dir string, prop catalog.Property, n uint64, v any) error {
	if v == nil {
		width, _ := prop.Type.FixedWidth()
		if prop.Type == catalog.TypeString || prop.Type == catalog.TypeVarList {
			width = pager.DescriptorSize
		}
		return s.setColumnNull(txID, dir, prop.Name, width, n)
	}
	if prop.Type == catalog.TypeString || prop.Type == catalog.TypeVarList {
		str, _ := v.(string)
		if len(str) > pager.DescriptorInlineCap {
			return errs.New(errs.KindExecution, "runtime insert of %q exceeds inline string capacity (%d bytes)", prop.Name, pager.DescriptorInlineCap)
		}
		d := pager.StringDescriptor{Length: uint32(len(str)), Inline: true}
		copy(d.Payload[:], str)
		return s.writeColumnSlot(txID, dir, prop.Name, pager.DescriptorSize, n, pager.EncodeDescriptor(d))
	}
	width, ok := prop.Type.FixedWidth()
	if !ok {
		return errs.New(errs.KindExecution, "property %q has no fixed-width encoding", prop.Name)
	}
	raw, err := encodeValue(prop.Type, v)
	if err != nil {
		return err
	}
	return s.writeColumnSlot(txID, dir, prop.Name, width, n, raw)
}

func encodeValue(lt catalog.LogicalType, v any) ([]byte, error) {
	le := func(val uint64, n int) []byte {
		b := make([]byte, n)
		for i := 0; i < n; i++ {
			b[i] = byte(val >> (8 * i))
		}
		return b
	}
	switch lt {
	case catalog.TypeBool:
		b, _ := v.(bool)
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case catalog.TypeInt16:
		n, err := asInt64(v)
		return le(uint64(uint16(n)), 2), err
	case catalog.TypeInt32:
		n, err := asInt64(v)
		return le(uint64(uint32(n)), 4), err
	case catalog.TypeInt64, catalog.TypeInternalID, catalog.TypeSerial:
		n, err := asInt64(v)
		return le(uint64(n), 8), err
	case catalog.TypeFloat:
		f, err := asFloat64(v)
		return le(uint64(math.Float32bits(float32(f))), 4), err
	case catalog.TypeDouble:
		f, err := asFloat64(v)
		return le(math.Float64bits(f), 8), err
	case catalog.TypeDate:
		t, ok := v.(time.Time)
		if !ok {
			return nil, errs.New(errs.KindExecution, "DATE value must be a time.Time")
		}
		return le(uint64(uint32(t.Unix()/86400)), 4), nil
	case catalog.TypeTimestamp:
		t, ok := v.(time.Time)
		if !ok {
			return nil, errs.New(errs.KindExecution, "TIMESTAMP value must be a time.Time")
		}
		return le(uint64(t.UnixMicro()), 8), nil
	case catalog.TypeInterval:
		d, ok := v.(time.Duration)
		if !ok {
			return nil, errs.New(errs.KindExecution, "INTERVAL value must be a time.Duration")
		}
		return le(uint64(d.Microseconds()), 8), nil
	default:
		return nil, errs.New(errs.KindExecution, "unsupported fixed-width type %s", lt)
	}
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, errs.New(errs.KindExecution, "expected an integer value, got %T", v)
	}
}

func asFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, errs.New(errs.KindExecution, "expected a numeric value, got %T", v)
	}
}

// CreateNode appends a new row to schema, writing every property present in
// values and leaving the rest null, then advances stats so the new offset
// is visible to subsequent scans.
func (s *Store) CreateNode(txID pager.TxID, schema *catalog.NodeTableSchema, stats *catalog.StatisticsManager, values map[string]any) (uint64, error) {
	st, _ := stats.Get(schema.TableID, true)
	offset := st.NumTuples
	for _, prop := range schema.Properties {
		v := values[prop.Name]
		if err := s.WriteNodeProperty(txID, schema, prop, offset, v); err != nil {
			return 0, err
		}
	}
	stats.SetNumTuples(schema.TableID, true, offset+1)
	return offset, nil
}

// DeleteNode tombstones offset: the node table's own storage is never
// compacted, so this only marks offset deleted in statistics (spec.md's
// tombstone-on-delete model, catalog.TableStatistics.DeletedOffsets).
func (s *Store) DeleteNode(schema *catalog.NodeTableSchema, stats *catalog.StatisticsManager, offset uint64) {
	stats.MarkDeleted(schema.TableID, offset)
}
