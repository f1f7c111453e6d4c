package loader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/vaultgraph/vgdb/internal/catalog"
	"github.com/vaultgraph/vgdb/internal/errs"
	"github.com/vaultgraph/vgdb/internal/pager"
)

// writeTempNpy writes a minimal v1.0 NPY file: magic, version, a
// newline-terminated header dict padded to a 64-byte boundary, then the
// raw little-endian data region.
func writeTempNpy(t *testing.T, dir, name, descr string, numRows int, data []byte) string {
	t.Helper()
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%d,), }", descr, numRows)
	total := 10 + len(dict) + 1 // magic(6)+version(2)+len(2) + dict + '\n'
	pad := (64 - total%64) % 64
	dict = dict + string(bytes.Repeat([]byte{' '}, pad)) + "\n"

	var buf bytes.Buffer
	buf.WriteString(npyMagic)
	buf.Write([]byte{1, 0})
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(dict)))
	buf.Write(lenBuf[:])
	buf.WriteString(dict)
	buf.Write(data)

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeTempNpyInt64(t *testing.T, dir, name string, values []int64) string {
	t.Helper()
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[i*8:], uint64(v))
	}
	return writeTempNpy(t, dir, name, "<i8", len(values), data)
}

func writeTempNpyFloat64(t *testing.T, dir, name string, values []float64) string {
	t.Helper()
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[i*8:], math.Float64bits(v))
	}
	return writeTempNpy(t, dir, name, "<f8", len(values), data)
}

func numericPersonSchema() *catalog.NodeTableSchema {
	return &catalog.NodeTableSchema{
		TableID: 1,
		Name:    "Measurement",
		Properties: []catalog.Property{
			{Name: "id", Type: catalog.TypeInt64, PropertyID: 0},
			{Name: "score", Type: catalog.TypeDouble, PropertyID: 1},
		},
		PrimaryKeyName: "id",
	}
}

func TestNpyBatchSourceRoundTripThroughNodeCopier(t *testing.T) {
	dir := t.TempDir()
	idPath := writeTempNpyInt64(t, dir, "id.npy", []int64{10, 20, 30})
	scorePath := writeTempNpyFloat64(t, dir, "score.npy", []float64{1.5, 2.5, 3.5})

	schema := numericPersonSchema()
	src, err := OpenNpyNodeSource(schema, map[string]string{
		"id":    idPath,
		"score": scorePath,
	})
	if err != nil {
		t.Fatal(err)
	}

	p, err := pager.OpenPager(pager.PagerConfig{PageSize: pager.DefaultPageSize, MaxCachePages: 256}, filepath.Join(dir, "db.wal"))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	stats := catalog.NewStatisticsManager(filepath.Join(dir, "node.stats"), filepath.Join(dir, "rel.stats"))
	sched := NewTaskScheduler(2)
	copier := NewNodeCopier(p, dir, schema, stats, sched)

	n, err := copier.Load(src, CopyDescription{TableName: "Measurement"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows copied, got %d", n)
	}

	if off, ok := copier.pkIndex.Lookup([]byte("20")); !ok || off != 1 {
		t.Fatalf("expected pk lookup(20) = (1, true), got (%d, %v)", off, ok)
	}

	scoreFH, _, err := p.OpenFile(columnPath(NodeTableDir(dir, "Measurement"), "score"))
	if err != nil {
		t.Fatal(err)
	}
	layout := pager.ComputeColumnLayout(p.PageSize(), 8)
	pid, slot := layout.PageForOffset(2)
	ref, err := p.Pin(scoreFH, pid, pager.PinRead)
	if err != nil {
		t.Fatal(err)
	}
	raw := layout.ReadSlot(ref.Data, slot)
	got := math.Float64frombits(binary.LittleEndian.Uint64(raw))
	p.Unpin(0, ref, false)
	if got != 3.5 {
		t.Fatalf("expected score 3.5, got %v", got)
	}
}

func TestOpenNpyNodeSourceRejectsNonInt64PrimaryKey(t *testing.T) {
	dir := t.TempDir()
	idPath := writeTempNpy(t, dir, "id.npy", "<i4", 2, []byte{1, 0, 0, 0, 2, 0, 0, 0})

	schema := &catalog.NodeTableSchema{
		TableID:        1,
		Name:           "Bad",
		Properties:     []catalog.Property{{Name: "id", Type: catalog.TypeInt32, PropertyID: 0}},
		PrimaryKeyName: "id",
	}
	_, err := OpenNpyNodeSource(schema, map[string]string{"id": idPath})
	if err == nil || !errs.Is(err, errs.KindCopy) {
		t.Fatalf("expected a CopyError for a non-INT64 NPY primary key, got %v", err)
	}
}

func TestOpenNpyNodeSourceRejectsRowCountMismatch(t *testing.T) {
	dir := t.TempDir()
	idPath := writeTempNpyInt64(t, dir, "id.npy", []int64{1, 2, 3})
	scorePath := writeTempNpyFloat64(t, dir, "score.npy", []float64{1.5, 2.5})

	schema := numericPersonSchema()
	_, err := OpenNpyNodeSource(schema, map[string]string{
		"id":    idPath,
		"score": scorePath,
	})
	if err == nil || !errs.Is(err, errs.KindCopy) {
		t.Fatalf("expected a CopyError for mismatched NPY row counts, got %v", err)
	}
}
