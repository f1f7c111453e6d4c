package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vaultgraph/vgdb/internal/catalog"
	"github.com/vaultgraph/vgdb/internal/pager"
)

func writeTempCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func personSchema() *catalog.NodeTableSchema {
	return &catalog.NodeTableSchema{
		TableID: 1,
		Name:    "Person",
		Properties: []catalog.Property{
			{Name: "id", Type: catalog.TypeInt64, PropertyID: 0},
			{Name: "name", Type: catalog.TypeString, PropertyID: 1},
			{Name: "age", Type: catalog.TypeInt32, PropertyID: 2},
		},
		PrimaryKeyName: "id",
	}
}

func TestNodeCopierLoadsRowsAndBuildsPrimaryKeyIndex(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeTempCSV(t, dir, "person.csv", "id,name,age\n1,Alice,30\n2,Bob,25\n3,Carol,41\n")

	p, err := pager.OpenPager(pager.PagerConfig{PageSize: pager.DefaultPageSize, MaxCachePages: 256}, filepath.Join(dir, "db.wal"))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	stats := catalog.NewStatisticsManager(filepath.Join(dir, "node.stats"), filepath.Join(dir, "rel.stats"))
	schema := personSchema()
	sched := NewTaskScheduler(4)
	copier := NewNodeCopier(p, dir, schema, stats, sched)

	src, err := OpenCSVSource(CopyDescription{Path: csvPath, HasHeader: true})
	if err != nil {
		t.Fatal(err)
	}
	n, err := copier.Load(src, CopyDescription{Path: csvPath, HasHeader: true})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows copied, got %d", n)
	}

	got, ok := stats.Get(schema.TableID, true)
	if !ok || got.NumTuples != 3 {
		t.Fatalf("expected statistics NumTuples=3, got %+v ok=%v", got, ok)
	}

	if off, ok := copier.pkIndex.Lookup([]byte("2")); !ok || off != 1 {
		t.Fatalf("expected pk lookup(2) = (1, true), got (%d, %v)", off, ok)
	}

	ageFH, _, err := p.OpenFile(columnPath(NodeTableDir(dir, "Person"), "age"))
	if err != nil {
		t.Fatal(err)
	}
	layout := pager.ComputeColumnLayout(p.PageSize(), 4)
	pid, slot := layout.PageForOffset(2)
	ref, err := p.Pin(ageFH, pid, pager.PinRead)
	if err != nil {
		t.Fatal(err)
	}
	raw := layout.ReadSlot(ref.Data, slot)
	age := int32(raw[0]) | int32(raw[1])<<8 | int32(raw[2])<<16 | int32(raw[3])<<24
	p.Unpin(0, ref, false)
	if age != 41 {
		t.Fatalf("expected Carol's age 41, got %d", age)
	}
}

func TestNodeCopierRejectsDuplicatePrimaryKey(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeTempCSV(t, dir, "dups.csv", "id,name,age\n1,Alice,30\n1,AliceAgain,31\n")

	p, err := pager.OpenPager(pager.PagerConfig{PageSize: pager.DefaultPageSize, MaxCachePages: 256}, filepath.Join(dir, "db.wal"))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	stats := catalog.NewStatisticsManager(filepath.Join(dir, "node.stats"), filepath.Join(dir, "rel.stats"))
	schema := personSchema()
	sched := NewTaskScheduler(1)
	copier := NewNodeCopier(p, dir, schema, stats, sched)

	src, err := OpenCSVSource(CopyDescription{Path: csvPath, HasHeader: true})
	if err != nil {
		t.Fatal(err)
	}
	_, err = copier.Load(src, CopyDescription{Path: csvPath, HasHeader: true})
	if err == nil {
		t.Fatal("expected a duplicate primary key error")
	}
}

func TestNodeCopierHandlesLongStringViaOverflow(t *testing.T) {
	dir := t.TempDir()
	long := "a string definitely longer than twelve bytes of inline capacity"
	csvPath := writeTempCSV(t, dir, "long.csv", "id,name,age\n1,"+long+",30\n")

	p, err := pager.OpenPager(pager.PagerConfig{PageSize: pager.DefaultPageSize, MaxCachePages: 256}, filepath.Join(dir, "db.wal"))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	stats := catalog.NewStatisticsManager(filepath.Join(dir, "node.stats"), filepath.Join(dir, "rel.stats"))
	schema := personSchema()
	sched := NewTaskScheduler(1)
	copier := NewNodeCopier(p, dir, schema, stats, sched)

	src, err := OpenCSVSource(CopyDescription{Path: csvPath, HasHeader: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := copier.Load(src, CopyDescription{Path: csvPath, HasHeader: true}); err != nil {
		t.Fatal(err)
	}

	nameFH, _, err := p.OpenFile(columnPath(NodeTableDir(dir, "Person"), "name"))
	if err != nil {
		t.Fatal(err)
	}
	layout := pager.ComputeColumnLayout(p.PageSize(), pager.DescriptorSize)
	pid, slot := layout.PageForOffset(0)
	ref, err := p.Pin(nameFH, pid, pager.PinRead)
	if err != nil {
		t.Fatal(err)
	}
	desc := pager.DecodeDescriptor(layout.ReadSlot(ref.Data, slot))
	p.Unpin(0, ref, false)
	if desc.Inline {
		t.Fatal("expected a long string to be stored via overflow, not inline")
	}

	ovfFH, _, err := p.OpenFile(overflowPath(NodeTableDir(dir, "Person"), "name"))
	if err != nil {
		t.Fatal(err)
	}
	oref := pager.OverflowRef{PageIdx: desc.PageIdx, Offset: int(desc.Offset), Length: int(desc.Length)}
	oframe, err := p.Pin(ovfFH, oref.PageIdx, pager.PinRead)
	if err != nil {
		t.Fatal(err)
	}
	got := string(pager.ReadValue(oframe.Data, oref))
	p.Unpin(0, oframe, false)
	if got != long {
		t.Fatalf("expected overflow value %q, got %q", long, got)
	}
}
