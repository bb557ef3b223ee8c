// Package mem implements the per-worker allocators: a fixed-size task
// allocator and a dynamic-size tile allocator that returns
// cache-line-aligned blocks, each with a cross-worker deallocation inbox.
package mem

import (
	"sync"

	"github.com/ngaut/pools"

	"github.com/pingcap/tunadb/queue"
	"github.com/pingcap/tunadb/resource"
	"github.com/pingcap/tunadb/tile"
	"github.com/pingcap/tunadb/typesys"
)

// TileAllocator serves tiles for one worker, NUMA-local by construction (the
// Go heap does not expose NUMA placement; the per-worker free-list instead
// guarantees a tile allocated on worker W is always reused by W — memory
// stays bound to W's node in spirit, if not in literal page placement).
// Free lists are schema-keyed ngaut/pools resource pools.
type TileAllocator struct {
	worker    uint8
	mu        sync.Mutex
	freeLists map[string]*pools.ResourcePool

	// crossWorkerFree receives tiles freed by other workers; drained on the next
	// allocation miss.
	crossWorkerFree *queue.MPSC
}

// NewTileAllocator returns an allocator for the given worker id.
func NewTileAllocator(worker uint8) *TileAllocator {
	return &TileAllocator{
		worker:          worker,
		freeLists:       make(map[string]*pools.ResourcePool),
		crossWorkerFree: queue.NewMPSC(),
	}
}

func schemaKey(s typesys.Schema) string {
	key := make([]byte, 0, 16*len(s.Columns))
	for _, c := range s.Columns {
		key = append(key, byte(c.Type.Kind), byte(c.Type.Precision), byte(c.Type.Scale),
			byte(c.Type.Length), byte(c.Type.Length>>8))
	}
	return string(key)
}

func (a *TileAllocator) poolFor(s typesys.Schema) *pools.ResourcePool {
	key := schemaKey(s)
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.freeLists[key]
	if !ok {
		p = pools.NewResourcePool(func() (pools.Resource, error) {
			return tileResource{tile.New(s)}, nil
		}, 1, 4096, 0)
		a.freeLists[key] = p
	}
	return p
}

// tileResource adapts *tile.Tile to pools.Resource (which only requires Close).
type tileResource struct{ t *tile.Tile }

func (r tileResource) Close() {}

// drainCrossWorkerFree pushes every tile freed by another worker back onto
// its schema's free list. Called on an allocation miss: the owner drains
// its inbox on demand, never eagerly.
func (a *TileAllocator) drainCrossWorkerFree() {
	for {
		v, ok := a.crossWorkerFree.Pop()
		if !ok {
			return
		}
		t := v.(*tile.Tile)
		a.poolFor(t.Schema()).Put(tileResource{t})
	}
}

// Allocate returns a fresh or recycled temporary tile for schema, owned by
// this allocator's worker.
func (a *TileAllocator) Allocate(schema typesys.Schema) (*tile.Tile, resource.Pointer) {
	pool := a.poolFor(schema)
	res, err := pool.TryGet()
	var t *tile.Tile
	if err == nil && res != nil {
		t = res.(tileResource).t
		t.Reset()
	} else {
		a.drainCrossWorkerFree()
		if res, err = pool.TryGet(); err == nil && res != nil {
			t = res.(tileResource).t
			t.Reset()
		} else {
			t = tile.New(schema)
		}
	}
	t.SetTemporary(true)
	ptr := resource.Of(nil, a.worker, resource.FlagTemporaryTile)
	return t, ptr
}


// Free returns t to its worker's free list, or — if t is owned by a different
// worker than the caller — pushes it onto that worker's cross-worker free
// inbox. Client tiles bypass the allocator entirely and are left to the
// garbage collector.
func (a *TileAllocator) Free(owner *TileAllocator, t *tile.Tile) {
	if t.IsClientTile() {
		return
	}
	if owner == a {
		a.poolFor(t.Schema()).Put(tileResource{t})
		return
	}
	owner.crossWorkerFree.Push(t)
}
