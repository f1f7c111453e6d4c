// Package txn implements the single-writer, multi-reader transaction model
// of spec.md §4.7/§5: at most one write transaction is active at a time;
// any number of read transactions may run concurrently with it; a
// checkpoint must wait for every already-active transaction to finish
// before it may run.
package txn

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// TxID identifies one transaction.
type TxID uint64

// Mode distinguishes a read transaction from the single write transaction.
type Mode uint8

const (
	ModeRead Mode = iota
	ModeWrite
)

// State is the manager's admission-control state, not any one
// transaction's state: RUNNING admits new reads and (if none is active) a
// write; STOP_NEW blocks admission of new transactions while existing ones
// drain ahead of a checkpoint; CHECKPOINTING is the brief window in which
// the checkpoint itself runs with zero active transactions.
type State uint8

const (
	StateRunning State = iota
	StateStopNew
	StateCheckpointing
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateStopNew:
		return "STOP_NEW"
	case StateCheckpointing:
		return "CHECKPOINTING"
	default:
		return "UNKNOWN"
	}
}

// Manager admits, tracks, and drains transactions.
type Manager struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state State

	nextTxID atomic.Uint64

	activeReads  map[TxID]struct{}
	activeWrite  *TxID
}

// NewManager creates a transaction manager in the RUNNING state.
func NewManager() *Manager {
	m := &Manager{
		activeReads: make(map[TxID]struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	m.nextTxID.Store(1)
	return m
}

// BeginRead admits a new read transaction, blocking if the manager is
// currently draining for or running a checkpoint.
func (m *Manager) BeginRead() (TxID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.state != StateRunning {
		m.cond.Wait()
	}
	id := TxID(m.nextTxID.Add(1))
	m.activeReads[id] = struct{}{}
	return id, nil
}

// BeginWrite admits the single write transaction. Returns an error if a
// write transaction is already active — spec.md's model has exactly
// one at a time, with no queuing (the caller is expected to retry).
func (m *Manager) BeginWrite() (TxID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.state != StateRunning {
		m.cond.Wait()
	}
	if m.activeWrite != nil {
		return 0, errors.New("txn: a write transaction is already active")
	}
	id := TxID(m.nextTxID.Add(1))
	m.activeWrite = &id
	return id, nil
}

// EndRead releases a completed (committed or rolled back) read transaction.
func (m *Manager) EndRead(id TxID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.activeReads, id)
	if len(m.activeReads) == 0 {
		m.cond.Broadcast()
	}
}

// EndWrite releases the completed write transaction.
func (m *Manager) EndWrite(id TxID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeWrite != nil && *m.activeWrite == id {
		m.activeWrite = nil
		m.cond.Broadcast()
	}
}

// ActiveWriteTx reports the currently active write transaction, if any.
func (m *Manager) ActiveWriteTx() (TxID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeWrite == nil {
		return 0, false
	}
	return *m.activeWrite, true
}

// State returns the manager's current admission state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// quiesce transitions to STOP_NEW (blocking further admission) and blocks
// until every already-active transaction has finished, then transitions to
// CHECKPOINTING. The caller must call resume() when the checkpoint body
// completes.
func (m *Manager) quiesce() {
	m.mu.Lock()
	m.state = StateStopNew
	for len(m.activeReads) > 0 || m.activeWrite != nil {
		m.cond.Wait()
	}
	m.state = StateCheckpointing
	m.mu.Unlock()
}

// resume returns the manager to RUNNING and wakes any transactions that
// were blocked waiting for the checkpoint to finish.
func (m *Manager) resume() {
	m.mu.Lock()
	m.state = StateRunning
	m.cond.Broadcast()
	m.mu.Unlock()
}
