// Package topology models the physical core set the tasking runtime pins
// workers to: an ordered sequence of core identifiers, flagged for SMT
// siblings and NUMA nodes, indexed by a dense worker id.
package topology

import (
	"fmt"
	"runtime"
	"sort"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/pingcap/tunadb/logutil"
)

// MaxCores is the compile-time cap on the number of workers.
const MaxCores = 128

// Ordering selects how Detect lays out workers across the available cores.
type Ordering int

const (
	// Ascending numbers workers by increasing physical core id.
	Ascending Ordering = iota
	// NUMAAware groups workers by NUMA node before core id.
	NUMAAware
	// PhysicalThenSMT places every physical core before any SMT sibling.
	PhysicalThenSMT
)

// Core describes one physical or logical processing unit.
type Core struct {
	ID       int
	NUMANode int
	IsSMT    bool
	// SiblingID is the core id of this core's SMT sibling, or -1 if none.
	SiblingID int
}

// CoreSet is an ordered sequence of cores, indexed by worker id.
type CoreSet struct {
	cores   []Core
	ordered Ordering
}

// New builds a CoreSet from an explicit core list, applying ordering.
// Invariant: len(cores) <= MaxCores.
func New(cores []Core, ordering Ordering) (*CoreSet, error) {
	if len(cores) == 0 {
		return nil, errors.New("topology: empty core set")
	}
	if len(cores) > MaxCores {
		return nil, errors.Errorf("topology: %d cores exceeds MaxCores=%d", len(cores), MaxCores)
	}
	cs := &CoreSet{cores: append([]Core(nil), cores...), ordered: ordering}
	cs.reorder()
	return cs, nil
}

// Detect builds a CoreSet representing the process's visible CPUs. Without
// real NUMA topology access (out of scope for this core), every core is
// reported on NUMA node 0 with no SMT sibling — callers that need accurate
// NUMA/SMT information should construct a CoreSet with New and explicit
// Core values instead.
func Detect(ordering Ordering) (*CoreSet, error) {
	n := runtime.NumCPU()
	if n > MaxCores {
		n = MaxCores
	}
	cores := make([]Core, n)
	for i := range cores {
		cores[i] = Core{ID: i, NUMANode: 0, IsSMT: false, SiblingID: -1}
	}
	cs, err := New(cores, ordering)
	if err != nil {
		return nil, err
	}
	logutil.L().Info("topology detected", zap.Int("workers", n))
	return cs, nil
}

func (cs *CoreSet) reorder() {
	switch cs.ordered {
	case NUMAAware:
		sort.SliceStable(cs.cores, func(i, j int) bool {
			if cs.cores[i].NUMANode != cs.cores[j].NUMANode {
				return cs.cores[i].NUMANode < cs.cores[j].NUMANode
			}
			return cs.cores[i].ID < cs.cores[j].ID
		})
	case PhysicalThenSMT:
		sort.SliceStable(cs.cores, func(i, j int) bool {
			if cs.cores[i].IsSMT != cs.cores[j].IsSMT {
				return !cs.cores[i].IsSMT
			}
			return cs.cores[i].ID < cs.cores[j].ID
		})
	default:
		sort.SliceStable(cs.cores, func(i, j int) bool {
			return cs.cores[i].ID < cs.cores[j].ID
		})
	}
}

// Len returns the dense worker count N (worker ids range over [0, N)).
func (cs *CoreSet) Len() int { return len(cs.cores) }

// Core returns the physical core backing worker w.
func (cs *CoreSet) Core(w int) Core { return cs.cores[w] }

// NUMANodeID returns the NUMA node of worker w.
func (cs *CoreSet) NUMANodeID(w int) int { return cs.cores[w].NUMANode }

// SiblingWorkerID returns the worker id of w's SMT sibling, or -1 if none.
func (cs *CoreSet) SiblingWorkerID(w int) int {
	sib := cs.cores[w].SiblingID
	if sib < 0 {
		return -1
	}
	for i, c := range cs.cores {
		if c.ID == sib {
			return i
		}
	}
	return -1
}

// Describe renders a human-readable summary, used by the GetConfiguration wire
// response and the debug HTTP mux.
func (cs *CoreSet) Describe() string {
	out := fmt.Sprintf("%d workers:\n", cs.Len())
	for w, c := range cs.cores {
		out += fmt.Sprintf("  worker %d -> core %d (numa=%d smt=%v)\n", w, c.ID, c.NUMANode, c.IsSMT)
	}
	return out
}
