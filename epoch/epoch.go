// Package epoch implements the epoch-based reclamation scheme: a monotonic
// global epoch, per-worker observed-epoch publication, and deferred-free lists
// drained once every worker has moved past the epoch a resource was retired
// in. Used exclusively for shared read-mostly structures (index nodes,
// statistics); tiles use ownership routing instead.
package epoch

import (
	"sync"
	"time"

	"github.com/pingcap/failpoint"
	"go.uber.org/atomic"
)

// DrainPolicy selects how deferred-free entries are reclaimed.
type DrainPolicy int

const (
	// GlobalDrain keeps one shared deferred-free list, drained periodically.
	GlobalDrain DrainPolicy = iota
	// PerWorkerDrain keeps one deferred-free list per worker, each drained
	// by a reclamation task dispatched to that worker.
	PerWorkerDrain
)

// Epoch is a monotonically increasing logical timestamp.
type Epoch uint64

type deferred struct {
	epoch Epoch
	free  func()
}

// Manager owns the global epoch counter, per-worker observed epochs, and
// the deferred-free list(s).
type Manager struct {
	policy  DrainPolicy
	global  atomic.Uint64
	workers []atomic.Uint64

	mu       sync.Mutex
	globalQ  []deferred
	perWorkQ [][]deferred

	tickerStop chan struct{}
}

// NewManager returns a Manager for numWorkers workers using policy.
func NewManager(numWorkers int, policy DrainPolicy) *Manager {
	m := &Manager{
		policy:  policy,
		workers: make([]atomic.Uint64, numWorkers),
	}
	if policy == PerWorkerDrain {
		m.perWorkQ = make([][]deferred, numWorkers)
	}
	return m
}

// StartTicker advances the global epoch on a coarse timer every interval
// until Stop is called.
func (m *Manager) StartTicker(interval time.Duration) {
	m.tickerStop = make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				m.global.Inc()
			case <-m.tickerStop:
				return
			}
		}
	}()
}

// Stop halts the background ticker started by StartTicker, if any.
func (m *Manager) Stop() {
	if m.tickerStop != nil {
		close(m.tickerStop)
		m.tickerStop = nil
	}
}

// GlobalEpoch returns the current global epoch.
func (m *Manager) GlobalEpoch() Epoch { return Epoch(m.global.Load()) }

// Enter publishes worker w's local observed epoch at the start of a task.
func (m *Manager) Enter(worker int) {
	m.workers[worker].Store(m.global.Load())
}

// Leave is a placeholder for enter/leave symmetry; this scheme only needs
// the observed epoch published on entry, so no work is required on leave.
func (m *Manager) Leave(worker int) {}

// Retire schedules free to run once every worker's observed epoch exceeds
// the current global epoch.
func (m *Manager) Retire(worker int, free func()) {
	e := m.GlobalEpoch()
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.policy {
	case PerWorkerDrain:
		m.perWorkQ[worker] = append(m.perWorkQ[worker], deferred{epoch: e, free: free})
	default:
		m.globalQ = append(m.globalQ, deferred{epoch: e, free: free})
	}
}

// minObservedEpoch returns the slowest worker's last-published epoch.
func (m *Manager) minObservedEpoch() Epoch {
	min := m.GlobalEpoch()
	for i := range m.workers {
		e := Epoch(m.workers[i].Load())
		if e < min {
			min = e
		}
	}
	return min
}

// Drain reclaims every deferred entry whose retire-epoch is now behind
// every worker's observed epoch. For PerWorkerDrain, pass the worker whose
// reclamation task is running; for GlobalDrain, worker is ignored.
func (m *Manager) Drain(worker int) int {
	safe := m.minObservedEpoch()
	if _, err := failpoint.Eval("github.com/pingcap/tunadb/epoch/mockStalledWorker"); err == nil {
		// Simulates a worker that never advances its observed epoch, so
		// nothing is ever behind it.
		safe = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	reclaimed := 0
	switch m.policy {
	case PerWorkerDrain:
		q := m.perWorkQ[worker]
		kept := q[:0]
		for _, d := range q {
			if d.epoch < safe {
				d.free()
				reclaimed++
			} else {
				kept = append(kept, d)
			}
		}
		m.perWorkQ[worker] = kept
	default:
		kept := m.globalQ[:0]
		for _, d := range m.globalQ {
			if d.epoch < safe {
				d.free()
				reclaimed++
			} else {
				kept = append(kept, d)
			}
		}
		m.globalQ = kept
	}
	return reclaimed
}

// Pending returns the number of entries still awaiting reclamation, summed
// across all lists.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.globalQ)
	for _, q := range m.perWorkQ {
		n += len(q)
	}
	return n
}
