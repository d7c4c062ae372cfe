package txn

import (
	"sync"
	"time"
)

// rowKey identifies a lockable row: one table, one record id.
type rowKey struct {
	table string
	id    uint64
}

// Manager is the lock table + wait-for graph + active-transaction clock,
// the generalized form of the teacher's TransactionRegistry (which only
// tracked snapshot LSNs for vacuum). Locks here are pessimistic,
// row-granular, and mediate every committing write; readers never take
// one, they rely on isolation-specific snapshots instead.
type Manager struct {
	mu        sync.Mutex
	active    map[uint64]time.Time // tx id -> start time
	locks     map[rowKey]uint64    // row -> holding tx id
	waitFor   map[uint64]map[uint64]struct{}
	cfg       Config
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		active:  make(map[uint64]time.Time),
		locks:   make(map[rowKey]uint64),
		waitFor: make(map[uint64]map[uint64]struct{}),
		cfg:     cfg,
	}
}

// Start registers a newly begun transaction and its start time.
func (m *Manager) Start(txID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[txID] = time.Now()
}

// End releases every lock held by txID and removes it from the active
// set and the wait-for graph.
func (m *Manager) End(txID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endLocked(txID)
}

func (m *Manager) endLocked(txID uint64) {
	for key, holder := range m.locks {
		if holder == txID {
			delete(m.locks, key)
		}
	}
	delete(m.active, txID)
	delete(m.waitFor, txID)
	for _, edges := range m.waitFor {
		delete(edges, txID)
	}
}

// TryAcquire attempts to take the lock on (table,id) for txID without
// blocking. It returns true if the lock is now held by txID (either
// freshly acquired or already owned). On failure it first checks for a
// wait-for cycle already reachable from txID; if one exists no edge is
// recorded and the caller should treat this as a deadlock. Otherwise it
// records the edge txID -> holder, which may itself close a cycle that
// a later HasDeadlock call reports.
func (m *Manager) TryAcquire(txID uint64, table string, id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rowKey{table, id}
	holder, held := m.locks[key]
	if !held {
		m.locks[key] = txID
		return true
	}
	if holder == txID {
		return true
	}

	if m.hasDeadlockLocked(txID) {
		return false
	}
	if m.waitFor[txID] == nil {
		m.waitFor[txID] = make(map[uint64]struct{})
	}
	m.waitFor[txID][holder] = struct{}{}
	return false
}

// AcquireWithRetry loops TryAcquire up to Config.MaxRetries times,
// sleeping Config.DeadlockDetectionInterval between attempts and
// aborting early if a deadlock involving txID is detected.
func (m *Manager) AcquireWithRetry(txID uint64, table string, id uint64) bool {
	for attempt := uint32(0); attempt < m.cfg.MaxRetries; attempt++ {
		if m.TryAcquire(txID, table, id) {
			return true
		}
		if m.HasDeadlock(txID) {
			return false
		}
		time.Sleep(m.cfg.DeadlockDetectionInterval)
	}
	return false
}

// Release drops the lock on (table,id) if held by txID, and clears txID
// from the wait-for graph (mirrors the original's release semantics,
// which treats any release as a chance to forget stale wait edges).
func (m *Manager) Release(txID uint64, table string, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rowKey{table, id}
	if holder, ok := m.locks[key]; ok && holder == txID {
		delete(m.locks, key)
	}
	delete(m.waitFor, txID)
	for _, edges := range m.waitFor {
		delete(edges, txID)
	}
}

// IsExpired reports whether txID has been active longer than the
// configured timeout.
func (m *Manager) IsExpired(txID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	start, ok := m.active[txID]
	if !ok {
		return false
	}
	return time.Since(start) > time.Duration(m.cfg.TimeoutSecs)*time.Second
}

// CleanupExpired ends every transaction whose timeout has elapsed.
func (m *Manager) CleanupExpired() {
	m.mu.Lock()
	var expired []uint64
	now := time.Now()
	limit := time.Duration(m.cfg.TimeoutSecs) * time.Second
	for id, start := range m.active {
		if now.Sub(start) > limit {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		m.endLocked(id)
	}
	m.mu.Unlock()
}

// HasDeadlock runs a depth-first cycle search over the wait-for graph
// starting at txID.
func (m *Manager) HasDeadlock(txID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasDeadlockLocked(txID)
}

func (m *Manager) hasDeadlockLocked(txID uint64) bool {
	visited := make(map[uint64]bool)
	path := make(map[uint64]bool)
	var visit func(uint64) bool
	visit = func(cur uint64) bool {
		if !visited[cur] {
			visited[cur] = true
			path[cur] = true
			for next := range m.waitFor[cur] {
				if !visited[next] {
					if visit(next) {
						return true
					}
				} else if path[next] {
					return true
				}
			}
		}
		path[cur] = false
		return false
	}
	return visit(txID)
}
