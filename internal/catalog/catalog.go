package catalog

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// onDiskCatalog is the serialized form persisted to the catalog's main and
// shadow files. A plain struct (rather than the live maps) keeps the
// wire format stable across the copy-on-write rewrite in Commit.
type onDiskCatalog struct {
	NextTableID  uint64                      `yaml:"nextTableId"`
	NodeTables   map[string]*NodeTableSchema `yaml:"nodeTables"`
	RelTables    map[string]*RelTableSchema  `yaml:"relTables"`
	NodeByID     map[uint64]string           `yaml:"nodeById"`
	RelByID      map[uint64]string           `yaml:"relById"`
}

// Manager is the in-memory catalog plus its on-disk shadow-file
// persistence. Readers see a fully-formed snapshot (spec.md §4.6's
// copy-on-write catalog): writers mutate a cloned copy and only swap it
// into view on commit.
type Manager struct {
	mu   sync.RWMutex
	path string // main catalog file
	live *onDiskCatalog

	// staged holds the writer's working copy between BeginWrite and
	// Commit/Rollback; nil outside of a write transaction.
	staged *onDiskCatalog
}

// NewManager creates an empty in-memory catalog rooted at path (the main
// catalog file; its shadow lives at path+".wal").
func NewManager(path string) *Manager {
	return &Manager{
		path: path,
		live: &onDiskCatalog{
			NextTableID: 1,
			NodeTables:  map[string]*NodeTableSchema{},
			RelTables:   map[string]*RelTableSchema{},
			NodeByID:    map[uint64]string{},
			RelByID:     map[uint64]string{},
		},
	}
}

// Load reads the catalog's main file from disk, if present.
func Load(path string) (*Manager, error) {
	m := NewManager(path)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "catalog: read main file")
	}
	var odc onDiskCatalog
	if err := yaml.Unmarshal(data, &odc); err != nil {
		return nil, errors.Wrap(err, "catalog: decode main file")
	}
	m.live = &odc
	return m, nil
}

func (odc *onDiskCatalog) clone() *onDiskCatalog {
	c := &onDiskCatalog{
		NextTableID: odc.NextTableID,
		NodeTables:  make(map[string]*NodeTableSchema, len(odc.NodeTables)),
		RelTables:   make(map[string]*RelTableSchema, len(odc.RelTables)),
		NodeByID:    make(map[uint64]string, len(odc.NodeByID)),
		RelByID:     make(map[uint64]string, len(odc.RelByID)),
	}
	for k, v := range odc.NodeTables {
		cp := *v
		cp.Properties = append([]Property{}, v.Properties...)
		c.NodeTables[k] = &cp
	}
	for k, v := range odc.RelTables {
		cp := *v
		cp.Properties = append([]Property{}, v.Properties...)
		c.RelTables[k] = &cp
	}
	for k, v := range odc.NodeByID {
		c.NodeByID[k] = v
	}
	for k, v := range odc.RelByID {
		c.RelByID[k] = v
	}
	return c
}

// BeginWrite stages a mutable clone of the live catalog for a write
// transaction to mutate via CreateNodeTable/CreateRelTable/DropTable.
func (m *Manager) BeginWrite() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged = m.live.clone()
}

func (m *Manager) target() *onDiskCatalog {
	if m.staged != nil {
		return m.staged
	}
	return m.live
}

// CreateNodeTable registers a new node table against the staged catalog
// (or live, outside a write transaction — used during initial bootstrap).
func (m *Manager) CreateNodeTable(name string, props []Property, pkName string, collation bool) (*NodeTableSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.target()
	if _, exists := t.NodeTables[name]; exists {
		return nil, errors.Errorf("catalog: node table %q already exists", name)
	}
	if _, exists := t.RelTables[name]; exists {
		return nil, errors.Errorf("catalog: table name %q already used by a rel table", name)
	}
	schema := &NodeTableSchema{
		TableID:        t.NextTableID,
		Name:           name,
		Properties:     props,
		PrimaryKeyName: pkName,
		Collation:      collation,
	}
	t.NodeTables[name] = schema
	t.NodeByID[schema.TableID] = name
	t.NextTableID++
	return schema, nil
}

// CreateRelTable registers a new relationship table between two already
// registered node tables.
func (m *Manager) CreateRelTable(name string, props []Property, srcTable, dstTable string, fwd, bwd Multiplicity) (*RelTableSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.target()
	if _, exists := t.RelTables[name]; exists {
		return nil, errors.Errorf("catalog: rel table %q already exists", name)
	}
	if _, exists := t.NodeTables[name]; exists {
		return nil, errors.Errorf("catalog: table name %q already used by a node table", name)
	}
	src, ok := t.NodeTables[srcTable]
	if !ok {
		return nil, errors.Errorf("catalog: unknown src node table %q", srcTable)
	}
	dst, ok := t.NodeTables[dstTable]
	if !ok {
		return nil, errors.Errorf("catalog: unknown dst node table %q", dstTable)
	}
	schema := &RelTableSchema{
		TableID:    t.NextTableID,
		Name:       name,
		Properties: props,
		SrcTableID: src.TableID,
		DstTableID: dst.TableID,
	}
	schema.Multiplicity.Fwd = fwd
	schema.Multiplicity.Bwd = bwd
	t.RelTables[name] = schema
	t.RelByID[schema.TableID] = name
	t.NextTableID++
	return schema, nil
}

// DropTable removes a node or rel table by name from the staged catalog.
func (m *Manager) DropTable(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.target()
	if s, ok := t.NodeTables[name]; ok {
		delete(t.NodeTables, name)
		delete(t.NodeByID, s.TableID)
		return nil
	}
	if s, ok := t.RelTables[name]; ok {
		delete(t.RelTables, name)
		delete(t.RelByID, s.TableID)
		return nil
	}
	return errors.Errorf("catalog: unknown table %q", name)
}

// GetNodeTable looks up a node table schema by name from the live
// (committed) catalog.
func (m *Manager) GetNodeTable(name string) (*NodeTableSchema, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.live.NodeTables[name]
	return s, ok
}

// GetRelTable looks up a rel table schema by name from the live catalog.
func (m *Manager) GetRelTable(name string) (*RelTableSchema, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.live.RelTables[name]
	return s, ok
}

// GetNodeTableByID looks up a node table schema by its numeric id.
func (m *Manager) GetNodeTableByID(id uint64) (*NodeTableSchema, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.live.NodeByID[id]
	if !ok {
		return nil, false
	}
	s, ok := m.live.NodeTables[name]
	return s, ok
}

// GetRelTableByID looks up a rel table schema by its numeric id.
func (m *Manager) GetRelTableByID(id uint64) (*RelTableSchema, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.live.RelByID[id]
	if !ok {
		return nil, false
	}
	s, ok := m.live.RelTables[name]
	return s, ok
}

// AllNodeTables returns every registered node table schema.
func (m *Manager) AllNodeTables() []*NodeTableSchema {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*NodeTableSchema, 0, len(m.live.NodeTables))
	for _, s := range m.live.NodeTables {
		out = append(out, s)
	}
	return out
}

// AllRelTables returns every registered rel table schema.
func (m *Manager) AllRelTables() []*RelTableSchema {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*RelTableSchema, 0, len(m.live.RelTables))
	for _, s := range m.live.RelTables {
		out = append(out, s)
	}
	return out
}

// WriteShadow serializes the staged catalog to the shadow (path+".wal")
// file; the pager logs a CATALOG WAL record once this succeeds, and
// PromoteShadow makes it durable at checkpoint (spec.md §4.9).
func (m *Manager) WriteShadow() error {
	m.mu.RLock()
	t := m.target()
	m.mu.RUnlock()
	data, err := yaml.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "catalog: encode shadow")
	}
	if err := os.WriteFile(m.shadowPath(), data, 0644); err != nil {
		return errors.Wrap(err, "catalog: write shadow")
	}
	return nil
}

func (m *Manager) shadowPath() string { return m.path + ".wal" }

// PromoteShadow renames the shadow file over the main file and adopts the
// staged catalog as live. Implements catalog's half of
// pager.RecoveryHooks.PromoteCatalog.
func (m *Manager) PromoteShadow() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Rename(m.shadowPath(), m.path); err != nil {
		return errors.Wrap(err, "catalog: promote shadow")
	}
	if m.staged != nil {
		m.live = m.staged
		m.staged = nil
	}
	return nil
}

// Rollback discards the staged catalog without promoting anything.
func (m *Manager) Rollback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged = nil
	os.Remove(m.shadowPath())
}

// HasUpdates reports whether a write transaction has staged catalog
// changes pending commit.
func (m *Manager) HasUpdates() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.staged != nil
}
