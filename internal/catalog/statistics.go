package catalog

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TableStatistics holds per-table cardinality information the planner's
// cost model (C11) and the executor's scan operators consume.
type TableStatistics struct {
	TableID    uint64 `yaml:"tableId"`
	NumTuples  uint64 `yaml:"numTuples"`
	IsNodeTbl  bool   `yaml:"isNodeTable"`
	// DeletedOffsets marks node offsets freed by a delete, so scans can
	// skip tombstoned slots (node tables only; spec.md's node tables
	// never shrink their offset space on delete).
	DeletedOffsets map[uint64]struct{} `yaml:"deletedOffsets,omitempty"`
}

// onDiskStats is the serialized form of one statistics shadow file. Node
// and rel statistics are persisted to two separate files (spec.md §4.2's
// "TABLE_STATISTICS" record distinguishes isNodeTable), so that a crash
// mid-update to one never risks corrupting the other.
type onDiskStats struct {
	Tables map[uint64]*TableStatistics `yaml:"tables"`
}

// StatisticsManager manages the node- and rel-table statistics files with
// the same copy-on-write staged/live split as Manager.
type StatisticsManager struct {
	mu dualMutex

	nodePath string
	relPath  string

	liveNode   *onDiskStats
	liveRel    *onDiskStats
	stagedNode *onDiskStats
	stagedRel  *onDiskStats
}

// dualMutex is just a plain RWMutex; named so call sites read naturally as
// "mu.Lock()" regardless of which half (node/rel) is being mutated.
type dualMutex = sync.RWMutex

// NewStatisticsManager creates empty node/rel statistics rooted at the
// given paths.
func NewStatisticsManager(nodePath, relPath string) *StatisticsManager {
	return &StatisticsManager{
		nodePath: nodePath,
		relPath:  relPath,
		liveNode: &onDiskStats{Tables: map[uint64]*TableStatistics{}},
		liveRel:  &onDiskStats{Tables: map[uint64]*TableStatistics{}},
	}
}

// LoadStatistics reads both statistics files from disk, tolerating either
// being absent (a freshly initialized database).
func LoadStatistics(nodePath, relPath string) (*StatisticsManager, error) {
	sm := NewStatisticsManager(nodePath, relPath)
	if err := loadOnDiskStats(nodePath, sm.liveNode); err != nil {
		return nil, err
	}
	if err := loadOnDiskStats(relPath, sm.liveRel); err != nil {
		return nil, err
	}
	return sm, nil
}

func loadOnDiskStats(path string, into *onDiskStats) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "statistics: read")
	}
	return yaml.Unmarshal(data, into)
}

func cloneStats(s *onDiskStats) *onDiskStats {
	c := &onDiskStats{Tables: make(map[uint64]*TableStatistics, len(s.Tables))}
	for id, t := range s.Tables {
		cp := *t
		if t.DeletedOffsets != nil {
			cp.DeletedOffsets = make(map[uint64]struct{}, len(t.DeletedOffsets))
			for off := range t.DeletedOffsets {
				cp.DeletedOffsets[off] = struct{}{}
			}
		}
		c.Tables[id] = &cp
	}
	return c
}

// BeginWrite stages mutable clones of both statistics files.
func (sm *StatisticsManager) BeginWrite() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stagedNode = cloneStats(sm.liveNode)
	sm.stagedRel = cloneStats(sm.liveRel)
}

func (sm *StatisticsManager) target(isNode bool) *onDiskStats {
	if isNode {
		if sm.stagedNode != nil {
			return sm.stagedNode
		}
		return sm.liveNode
	}
	if sm.stagedRel != nil {
		return sm.stagedRel
	}
	return sm.liveRel
}

// SetNumTuples records tableID's row count in the staged statistics.
func (sm *StatisticsManager) SetNumTuples(tableID uint64, isNode bool, n uint64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	t := sm.target(isNode)
	s, ok := t.Tables[tableID]
	if !ok {
		s = &TableStatistics{TableID: tableID, IsNodeTbl: isNode}
		t.Tables[tableID] = s
	}
	s.NumTuples = n
}

// MarkDeleted tombstones a node offset by adding it to DeletedOffsets.
// NumTuples is left unchanged and keeps counting the deleted row, so it
// stays one past the highest offset ever assigned.
func (sm *StatisticsManager) MarkDeleted(tableID uint64, offset uint64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	t := sm.target(true)
	s, ok := t.Tables[tableID]
	if !ok {
		return
	}
	if s.DeletedOffsets == nil {
		s.DeletedOffsets = map[uint64]struct{}{}
	}
	s.DeletedOffsets[offset] = struct{}{}
}

// Get returns a snapshot of tableID's committed statistics.
func (sm *StatisticsManager) Get(tableID uint64, isNode bool) (TableStatistics, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	var t *onDiskStats
	if isNode {
		t = sm.liveNode
	} else {
		t = sm.liveRel
	}
	s, ok := t.Tables[tableID]
	if !ok {
		return TableStatistics{}, false
	}
	return *s, true
}

// WriteShadow serializes the staged isNode statistics file to its shadow
// path (path+".wal").
func (sm *StatisticsManager) WriteShadow(isNode bool) error {
	sm.mu.RLock()
	t := sm.target(isNode)
	sm.mu.RUnlock()
	data, err := yaml.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "statistics: encode shadow")
	}
	return os.WriteFile(sm.shadowPath(isNode), data, 0644)
}

func (sm *StatisticsManager) shadowPath(isNode bool) string {
	if isNode {
		return sm.nodePath + ".wal"
	}
	return sm.relPath + ".wal"
}

func (sm *StatisticsManager) mainPath(isNode bool) string {
	if isNode {
		return sm.nodePath
	}
	return sm.relPath
}

// PromoteShadow renames isNode's shadow file over its main file and adopts
// the staged statistics as live. Implements statistics' half of
// pager.RecoveryHooks.PromoteStatistics.
func (sm *StatisticsManager) PromoteShadow(isNode bool) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err := os.Rename(sm.shadowPath(isNode), sm.mainPath(isNode)); err != nil {
		return errors.Wrap(err, "statistics: promote shadow")
	}
	if isNode {
		if sm.stagedNode != nil {
			sm.liveNode = sm.stagedNode
			sm.stagedNode = nil
		}
	} else if sm.stagedRel != nil {
		sm.liveRel = sm.stagedRel
		sm.stagedRel = nil
	}
	return nil
}

// Rollback discards any staged statistics changes.
func (sm *StatisticsManager) Rollback() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stagedNode = nil
	sm.stagedRel = nil
	os.Remove(sm.shadowPath(true))
	os.Remove(sm.shadowPath(false))
}
