package loader

import (
	"path/filepath"
	"testing"

	"github.com/vaultgraph/vgdb/internal/catalog"
	"github.com/vaultgraph/vgdb/internal/pager"
)

func knowsSchema() *catalog.RelTableSchema {
	s := &catalog.RelTableSchema{
		TableID:    2,
		Name:       "Knows",
		Properties: []catalog.Property{{Name: "since", Type: catalog.TypeInt32}},
		SrcTableID: 1,
		DstTableID: 1,
	}
	s.Multiplicity.Fwd = catalog.Many
	s.Multiplicity.Bwd = catalog.Many
	return s
}

func buildPersonIndex(t *testing.T, keys []string) *pager.HashIndexBuilder {
	t.Helper()
	b := pager.NewHashIndexBuilder(pager.DefaultPageSize, pager.HashKeyInt64, false)
	for i, k := range keys {
		if !b.InsertUnique([]byte(k), uint64(i)) {
			t.Fatalf("unexpected duplicate key %q while building index", k)
		}
	}
	return b
}

func TestRelCopierManyToManyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeTempCSV(t, dir, "knows.csv", "from,to,since\n1,2,2020\n1,3,2021\n2,3,2019\n")

	p, err := pager.OpenPager(pager.PagerConfig{PageSize: pager.DefaultPageSize, MaxCachePages: 256}, filepath.Join(dir, "db.wal"))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	stats := catalog.NewStatisticsManager(filepath.Join(dir, "node.stats"), filepath.Join(dir, "rel.stats"))
	pkIndex := buildPersonIndex(t, []string{"1", "2", "3"})
	schema := knowsSchema()
	sched := NewTaskScheduler(4)
	copier := NewRelCopier(p, dir, schema, stats, sched, pkIndex, pkIndex, 3, 3)

	src, err := OpenCSVSource(CopyDescription{Path: csvPath, HasHeader: true})
	if err != nil {
		t.Fatal(err)
	}
	n, err := copier.Load(src, CopyDescription{Path: csvPath, HasHeader: true})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rel rows, got %d", n)
	}

	got, ok := stats.Get(schema.TableID, false)
	if !ok || got.NumTuples != 3 {
		t.Fatalf("expected rel statistics NumTuples=3, got %+v ok=%v", got, ok)
	}

	headerFH, _, err := p.OpenFile(adjHeaderPath(RelTableDir(dir, "Knows"), "fwd"))
	if err != nil {
		t.Fatal(err)
	}
	headerLayout := pager.ComputeAdjHeaderLayout(p.PageSize())
	pid, slot := headerLayout.PageForIndex(0) // node offset 0 = person "1", has 2 outgoing edges
	ref, err := p.Pin(headerFH, pid, pager.PinRead)
	if err != nil {
		t.Fatal(err)
	}
	rec := pager.DecodeAdjHeader(headerLayout.ReadRecord(ref.Data, slot))
	p.Unpin(0, ref, false)
	if rec.NumEntries != 2 {
		t.Fatalf("expected person 1 to have 2 outgoing edges, got %d", rec.NumEntries)
	}
}

func TestRelCopierReportsDanglingEndpoint(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeTempCSV(t, dir, "knows.csv", "from,to,since\n1,99,2020\n")

	p, err := pager.OpenPager(pager.PagerConfig{PageSize: pager.DefaultPageSize, MaxCachePages: 256}, filepath.Join(dir, "db.wal"))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	stats := catalog.NewStatisticsManager(filepath.Join(dir, "node.stats"), filepath.Join(dir, "rel.stats"))
	pkIndex := buildPersonIndex(t, []string{"1", "2", "3"})
	schema := knowsSchema()
	sched := NewTaskScheduler(1)
	copier := NewRelCopier(p, dir, schema, stats, sched, pkIndex, pkIndex, 3, 3)

	src, err := OpenCSVSource(CopyDescription{Path: csvPath, HasHeader: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := copier.Load(src, CopyDescription{Path: csvPath, HasHeader: true}); err == nil {
		t.Fatal("expected a dangling endpoint error")
	}
}

func TestRelCopierEnforcesOneMultiplicity(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeTempCSV(t, dir, "owns.csv", "from,to\n1,2\n1,3\n")

	p, err := pager.OpenPager(pager.PagerConfig{PageSize: pager.DefaultPageSize, MaxCachePages: 256}, filepath.Join(dir, "db.wal"))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	stats := catalog.NewStatisticsManager(filepath.Join(dir, "node.stats"), filepath.Join(dir, "rel.stats"))
	pkIndex := buildPersonIndex(t, []string{"1", "2", "3"})
	schema := &catalog.RelTableSchema{TableID: 3, Name: "Owns", SrcTableID: 1, DstTableID: 1}
	schema.Multiplicity.Fwd = catalog.One
	schema.Multiplicity.Bwd = catalog.Many
	sched := NewTaskScheduler(1)
	copier := NewRelCopier(p, dir, schema, stats, sched, pkIndex, pkIndex, 3, 3)

	src, err := OpenCSVSource(CopyDescription{Path: csvPath, HasHeader: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := copier.Load(src, CopyDescription{Path: csvPath, HasHeader: true}); err == nil {
		t.Fatal("expected a multiplicity violation error since person 1 owns two things via a ONE-direction")
	}
}
