// Package lock implements the spinlock and optimistic-lock synchronisation
// primitives used for B-link-tree-style index nodes: readers
// read-validate-retry, writers bump the version.
package lock

import (
	"time"

	"go.uber.org/atomic"
)

// pause stands in for a hardware PAUSE instruction (Go has no portable
// intrinsic for one), matching runtime.Worker's own busy-wait idiom: a
// short sleep rather than a spinning core.
func pause() { time.Sleep(10 * time.Microsecond) }

// Spinlock is a mutual-exclusion lock that busy-waits instead of parking
// the goroutine. It is not the only lock in the codebase: the catalog,
// dataflow and operator packages guard their state with
// sync.Mutex/sync.RWMutex.
type Spinlock struct {
	flag atomic.Bool
}

// TryLock attempts to acquire the lock without spinning.
func (s *Spinlock) TryLock() bool {
	return s.flag.CAS(false, true)
}

// Lock spins, pausing between attempts, until the lock is acquired.
func (s *Spinlock) Lock() {
	for {
		for s.flag.Load() {
			pause()
		}
		if s.TryLock() {
			return
		}
	}
}

// Unlock releases the lock.
func (s *Spinlock) Unlock() {
	s.flag.Store(false)
}

// IsLocked reports whether the lock is currently held.
func (s *Spinlock) IsLocked() bool {
	return s.flag.Load()
}

// Version is an OptimisticLock's version counter. The low bit is the
// locked flag (odd = locked); a single bit suffices for
// single-writer-at-a-time semantics.
type Version uint64

func (v Version) locked() bool { return v&1 == 1 }

// OptimisticLock is a version-counter lock for read-mostly structures. Readers
// call ReadValid, do their unsynchronised read, then call IsValid; a mismatch
// means retry. Writers call Lock, mutate, then Unlock.
type OptimisticLock struct {
	version atomic.Uint64
}

// ReadValid blocks (spinning) until the version is unlocked, then returns
// it for later validation.
func (l *OptimisticLock) ReadValid() Version {
	for {
		v := Version(l.version.Load())
		if !v.locked() {
			return v
		}
		pause()
	}
}

// IsValid reports whether the lock's version still matches v, i.e. no
// writer committed a change since ReadValid returned it.
func (l *OptimisticLock) IsValid(v Version) bool {
	return l.version.Load() == uint64(v)
}

// Lock acquires the write lock, spinning until no other writer is in
// progress. Writers in this codebase are additionally serialised upstream
// by the caller's own mutex, so contention here is rare.
func (l *OptimisticLock) Lock() {
	for {
		v := l.ReadValid()
		if l.version.CAS(uint64(v), uint64(v)+1) {
			return
		}
	}
}

// Unlock commits the write, bumping the version past the locked bit so
// concurrent readers observe both "unlocked" and "changed".
func (l *OptimisticLock) Unlock() {
	l.version.Add(1)
}
