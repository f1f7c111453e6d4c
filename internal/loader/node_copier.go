package loader

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/vaultgraph/vgdb/internal/binder"
	"github.com/vaultgraph/vgdb/internal/catalog"
	"github.com/vaultgraph/vgdb/internal/errs"
	"github.com/vaultgraph/vgdb/internal/inmem"
	"github.com/vaultgraph/vgdb/internal/pager"
)

// nodeCopyBlockSize is the row-count unit of pass-1 work, kept a multiple
// of 8 so that two blocks never share a null-bitmap byte: each block owns a
// disjoint, byte-aligned slice of every column's null bitmap, which is what
// lets pass 1 write concurrently into one ColumnChunk per property without
// any per-column locking.
const nodeCopyBlockSize = 1024

// NodeTableDir returns the directory holding tableName's physical files
// under dbDir.
func NodeTableDir(dbDir, tableName string) string {
	return filepath.Join(dbDir, tableName+".node")
}

func columnPath(dir, propName string) string   { return filepath.Join(dir, propName+".col") }
func overflowPath(dir, propName string) string { return filepath.Join(dir, propName+".ovf") }

// NodeCopier runs the count/init/pass1/finalize sequence of spec.md §4.8 for
// one node table.
type NodeCopier struct {
	p        *pager.Pager
	schema   *catalog.NodeTableSchema
	stats    *catalog.StatisticsManager
	dir      string
	sched    *TaskScheduler
	pkKind   pager.HashKeyKind
	pkMu     sync.Mutex
	pkIndex  *pager.HashIndexBuilder
	columns  map[string]*inmem.ColumnChunk
	overflow map[string]*inmem.OverflowFile
}

// NewNodeCopier prepares a copier for schema, rooted at dbDir.
func NewNodeCopier(p *pager.Pager, dbDir string, schema *catalog.NodeTableSchema, stats *catalog.StatisticsManager, sched *TaskScheduler) *NodeCopier {
	pk, _ := schema.PrimaryKeyProperty()
	kind := pager.HashKeyInt64
	if pk.Type == catalog.TypeString {
		kind = pager.HashKeyString
	}
	return &NodeCopier{
		p:        p,
		schema:   schema,
		stats:    stats,
		dir:      NodeTableDir(dbDir, schema.Name),
		sched:    sched,
		pkKind:   kind,
		pkIndex:  pager.NewHashIndexBuilder(p.PageSize(), kind, schema.Collation),
		columns:  map[string]*inmem.ColumnChunk{},
		overflow: map[string]*inmem.OverflowFile{},
	}
}

// resolveColumnOrder maps each source column position to a property,
// either by header name (desc.HasHeader) or, absent a header, by the
// schema's declared property order. A header name that names a reserved
// implicit field (binder.IsReservedPropertyName) resolves to a nil entry,
// which populateBlock skips (spec.md §4.11).
func (c *NodeCopier) resolveColumnOrder(header []string) ([]*catalog.Property, error) {
	if header == nil {
		out := make([]*catalog.Property, len(c.schema.Properties))
		for i := range c.schema.Properties {
			out[i] = &c.schema.Properties[i]
		}
		return out, nil
	}
	out := make([]*catalog.Property, 0, len(header))
	for _, name := range header {
		if binder.IsReservedPropertyName(name) {
			out = append(out, nil)
			continue
		}
		prop, ok := c.schema.PropertyByName(name)
		if !ok {
			return nil, errs.New(errs.KindCopy, "column %q in source has no matching property on table %q", name, c.schema.Name)
		}
		out = append(out, &prop)
	}
	return out, nil
}

// Load runs the full count -> init -> pass1 -> finalize sequence, returning
// the number of rows copied.
func (c *NodeCopier) Load(src RecordBatchSource, desc CopyDescription) (uint64, error) {
	header, err := src.Schema()
	if err != nil {
		return 0, err
	}
	cols, err := c.resolveColumnOrder(header)
	if err != nil {
		return 0, err
	}

	rows, err := ReadAll(src) // count phase (spec.md §4.8.1)
	if err != nil {
		return 0, err
	}
	numRows := uint64(len(rows))

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return 0, errs.Wrap(errs.KindStorageIO, err, "loader: create node table directory")
	}

	for _, prop := range cols {
		if prop == nil {
			continue
		}
		if isVariableWidth(prop.Type) {
			c.columns[prop.Name] = inmem.NewColumnChunk(numRows, pager.DescriptorSize)
			c.overflow[prop.Name] = inmem.NewOverflowFile()
			continue
		}
		width, ok := prop.Type.FixedWidth()
		if !ok {
			return 0, errs.New(errs.KindCopy, "property %q has no fixed-width encoding", prop.Name)
		}
		c.columns[prop.Name] = inmem.NewColumnChunk(numRows, width)
	}

	for start := uint64(0); start < numRows; start += nodeCopyBlockSize {
		end := start + nodeCopyBlockSize
		if end > numRows {
			end = numRows
		}
		blockStart, blockEnd := start, end
		c.sched.Schedule(func() error {
			return c.populateBlock(cols, rows, blockStart, blockEnd)
		})
		c.sched.WaitUntilEnoughTasksFinish(minimumNumCopierTasksToScheduleMore)
	}
	if err := c.sched.WaitAllTasksToCompleteOrError(); err != nil {
		return 0, err
	}

	if err := c.finalize(numRows); err != nil {
		return 0, err
	}
	return numRows, nil
}

func (c *NodeCopier) populateBlock(cols []*catalog.Property, rows Batch, start, end uint64) error {
	pkName := c.schema.PrimaryKeyName
	for rowIdx := start; rowIdx < end; rowIdx++ {
		row := rows[rowIdx]
		for ci, prop := range cols {
			if prop == nil || ci >= len(row) {
				continue
			}
			raw := row[ci]
			if raw == "" {
				c.columns[prop.Name].SetNull(rowIdx, true)
				if prop.Name == pkName {
					return errs.New(errs.KindCopy, "primary key %q may not be null at row %d", pkName, rowIdx)
				}
				continue
			}
			if isVariableWidth(prop.Type) {
				if err := c.writeVariableWidthCell(prop.Name, rowIdx, raw); err != nil {
					return err
				}
			} else {
				enc, err := encodeFixedWidth(prop.Type, raw)
				if err != nil {
					return errs.UnparseableCell(c.schema.Name, prop.Name, raw)
				}
				c.columns[prop.Name].SetValue(rowIdx, enc)
			}
			if prop.Name == pkName {
				if err := c.insertPrimaryKey(raw, rowIdx); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c *NodeCopier) insertPrimaryKey(raw string, rowIdx uint64) error {
	c.pkMu.Lock()
	ok := c.pkIndex.InsertUnique([]byte(raw), rowIdx)
	c.pkMu.Unlock()
	if !ok {
		return errs.DuplicatePrimaryKey(raw)
	}
	return nil
}

// writeVariableWidthCell inlines short payloads directly and stages long
// ones into the property's overflow file for the finalize pass to place
// (spec.md §4.8.6's overflow-sort phase).
func (c *NodeCopier) writeVariableWidthCell(propName string, rowIdx uint64, raw string) error {
	data := []byte(raw)
	if len(data) <= pager.DescriptorInlineCap {
		d := pager.StringDescriptor{Length: uint32(len(data)), Inline: true}
		copy(d.Payload[:], data)
		c.columns[propName].SetValue(rowIdx, pager.EncodeDescriptor(d))
		return nil
	}
	c.overflow[propName].Append(rowIdx, data)
	return nil
}

// finalize flushes every column (and overflow file, backpatching
// descriptors) plus the primary-key index, then logs a COPY_NODE record and
// updates statistics.
func (c *NodeCopier) finalize(numRows uint64) error {
	for _, prop := range c.schema.Properties {
		chunk := c.columns[prop.Name]
		if chunk == nil {
			continue
		}
		if ovf, ok := c.overflow[prop.Name]; ok {
			ovf.Sort()
			owners := ovf.OwnerPositions()
			fh, _, err := c.p.OpenFile(overflowPath(c.dir, prop.Name))
			if err != nil {
				return err
			}
			refs, err := ovf.Flush(c.p, fh, c.p.PageSize())
			if err != nil {
				return err
			}
			backpatchOverflowRefs(chunk, owners, refs)
		}
		width, _ := prop.Type.FixedWidth()
		if isVariableWidth(prop.Type) {
			width = pager.DescriptorSize
		}
		layout := pager.ComputeColumnLayout(c.p.PageSize(), width)
		fh, _, err := c.p.OpenFile(columnPath(c.dir, prop.Name))
		if err != nil {
			return err
		}
		if err := chunk.Flush(c.p, fh, layout); err != nil {
			return err
		}
	}

	dirFH, _, err := c.p.OpenFile(filepath.Join(c.dir, "pk.dir"))
	if err != nil {
		return err
	}
	bucketFH, _, err := c.p.OpenFile(filepath.Join(c.dir, "pk.bucket"))
	if err != nil {
		return err
	}
	if err := c.pkIndex.Flush(c.p, dirFH, bucketFH, nil); err != nil {
		return err
	}

	rec := &pager.WALRecord{Type: pager.WALRecordCopyNode, Data: pager.EncodeTableID(c.schema.TableID)}
	if _, err := c.p.WAL().AppendRecord(rec); err != nil {
		return err
	}

	c.stats.SetNumTuples(c.schema.TableID, true, numRows)
	return nil
}

// backpatchOverflowRefs rewrites each overflow-bound row's descriptor to
// point at its final on-disk location, now that Flush has placed the
// sorted values (spec.md §4.8.6). owners and refs are parallel slices, both
// in the overflow file's post-Sort order.
func backpatchOverflowRefs(chunk *inmem.ColumnChunk, owners []uint64, refs []pager.OverflowRef) {
	for i, ownerPos := range owners {
		ref := refs[i]
		d := pager.StringDescriptor{Length: uint32(ref.Length), PageIdx: ref.PageIdx, Offset: uint32(ref.Offset)}
		chunk.SetValue(ownerPos, pager.EncodeDescriptor(d))
	}
}
