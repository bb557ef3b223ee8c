package operator

import (
	"sync"

	"github.com/pingcap/tunadb/dataflow"
	"github.com/pingcap/tunadb/tile"
)

// Limit drops the first Offset surviving rows and passes through at most Count
// after that. Rows arrive from possibly many workers with no defined
// cross-worker order, so which rows fall inside the window when Offset/Count
// sit mid-stream is best-effort rather than a stable choice; a Limit
// downstream of an OrderBy (the common case, optimizer rule m
// MergeOrderByLimit) sees a single producer and is exact.
type Limit struct {
	Offset, Count int64

	mu      sync.Mutex
	skipped int64
	emitted int64
	done    bool
}

// NewLimit returns a ready-to-consume limit node.
func NewLimit(offset, count int64) *Limit {
	return &Limit{Offset: offset, Count: count}
}

func (l *Limit) Arity() int                       { return 1 }
func (l *Limit) InitialTokens(int) []dataflow.Token { return nil }
func (l *Limit) RequiresOwnerWorker() bool        { return false }

func (l *Limit) Consume(worker int, em *dataflow.Emitter, _ int, tok dataflow.Token) error {
	t := tok.Set.Tile
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return nil // best-effort cancellation: later tiles are dropped, not awaited
	}
	mask := make([]bool, t.Size())
	any := false
	for i := 0; i < t.Size(); i++ {
		if !tok.Set.Alive(i) {
			continue
		}
		if l.skipped < l.Offset {
			l.skipped++
			continue
		}
		if l.emitted >= l.Count {
			l.done = true
			break
		}
		mask[i] = true
		any = true
		l.emitted++
	}
	l.mu.Unlock()
	if any {
		// Copy the window's rows into a fresh tile, so consumers that read
		// every row of a tile (the result sink among them) see only the window.
		n := t.Schema().Len()
		dst := tile.New(t.Schema())
		for i, keep := range mask {
			if !keep {
				continue
			}
			view, _ := dst.Allocate()
			if err := copyColumns(view, identity(n), rowRef{t: t, row: i}, identity(n)); err != nil {
				return err
			}
		}
		dst.Freeze()
		out := tok
		out.Set.Tile, out.Set.Mask = dst, nil
		em.Emit(out)
	}
	return nil
}
