package catalog

import (
	"path/filepath"
	"testing"
)

func TestCreateNodeAndRelTable(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "catalog.yaml"))
	m.BeginWrite()

	person, err := m.CreateNodeTable("Person", []Property{
		{Name: "id", Type: TypeInt64, PropertyID: 0},
		{Name: "name", Type: TypeString, PropertyID: 1},
	}, "id", false)
	if err != nil {
		t.Fatal(err)
	}
	if person.TableID == 0 {
		t.Fatal("expected a non-zero table id")
	}

	_, err = m.CreateRelTable("Follows", nil, "Person", "Person", Many, Many)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.WriteShadow(); err != nil {
		t.Fatal(err)
	}
	if err := m.PromoteShadow(); err != nil {
		t.Fatal(err)
	}

	got, ok := m.GetNodeTable("Person")
	if !ok || got.TableID != person.TableID {
		t.Fatalf("expected Person table to be committed, got %+v ok=%v", got, ok)
	}
	rel, ok := m.GetRelTable("Follows")
	if !ok || rel.SrcTableID != person.TableID || rel.DstTableID != person.TableID {
		t.Fatalf("expected Follows rel table wired to Person/Person, got %+v", rel)
	}
}

func TestCreateNodeTableDuplicateNameRejected(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "catalog.yaml"))
	m.BeginWrite()
	if _, err := m.CreateNodeTable("Person", nil, "id", false); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreateNodeTable("Person", nil, "id", false); err == nil {
		t.Fatal("expected duplicate node table name to be rejected")
	}
}

func TestRollbackDiscardsStagedChanges(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "catalog.yaml"))
	m.BeginWrite()
	if _, err := m.CreateNodeTable("Person", nil, "id", false); err != nil {
		t.Fatal(err)
	}
	m.Rollback()

	if _, ok := m.GetNodeTable("Person"); ok {
		t.Fatal("expected rolled-back table to not be visible in the live catalog")
	}
}

func TestLoadRoundTripsPersistedCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	m := NewManager(path)
	m.BeginWrite()
	if _, err := m.CreateNodeTable("Person", []Property{{Name: "id", Type: TypeInt64}}, "id", false); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteShadow(); err != nil {
		t.Fatal(err)
	}
	if err := m.PromoteShadow(); err != nil {
		t.Fatal(err)
	}

	// PromoteShadow renamed the shadow onto path, so a fresh Load should see it.
	m2, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := m2.GetNodeTable("Person")
	if !ok || got.Name != "Person" {
		t.Fatalf("expected reloaded catalog to contain Person, got %+v ok=%v", got, ok)
	}
}
