// Package resource implements the 64-bit packed resource pointer used
// throughout the engine as a handle to tiles, hash tables, and squads.
//
// Layout: upper 8 bits = owning worker id, next 8 bits = flags, lower 48 bits
// = virtual address. The all-zero word is Null.
package resource

import "unsafe"

const (
	addressBits = 48
	addressMask = (uint64(1) << addressBits) - 1
	flagsShift  = addressBits
	flagsMask   = uint64(0xFF) << flagsShift
	ownerShift  = addressBits + 8
)

// Flag bits packed into the 8 flag bits of a Pointer.
type Flag uint8

const (
	// FlagNull marks the pointer as not referencing any memory.
	FlagNull Flag = 1 << iota
	// FlagTemporaryTile marks a tile as temporary (reclaimed on token destruction).
	FlagTemporaryTile
	// FlagClientTile marks a tile as client-owned (freed via the standard heap).
	FlagClientTile
	// FlagTableTile marks a tile as belonging to a table's permanent tile list.
	FlagTableTile
	// FlagSquad marks the pointer as referencing a squad (shared hash table) rather than a tile.
	FlagSquad
)

// Pointer is the packed (address, owner, flags) handle. The zero value is Null.
type Pointer uint64

// Null is the all-zero resource pointer.
const Null Pointer = 0

// Pack builds a Pointer from a raw address, owning worker id (0..127), and flags.
func Pack(addr uintptr, worker uint8, flags Flag) Pointer {
	a := uint64(addr) & addressMask
	return Pointer(a | (uint64(flags) << flagsShift) | (uint64(worker) << ownerShift))
}

// Of packs a typed pointer with its owning worker and flags, the typed
// counterpart to Pack used by allocators that already hold a *T.
func Of(p unsafe.Pointer, worker uint8, flags Flag) Pointer {
	return Pack(uintptr(p), worker, flags)
}

// IsNull reports whether r is the null pointer or carries FlagNull.
func (r Pointer) IsNull() bool {
	return r == Null || r.Has(FlagNull)
}

// Address returns the 48-bit virtual address component.
func (r Pointer) Address() uintptr {
	return uintptr(uint64(r) & addressMask)
}

// WorkerID returns the owning worker id encoded in the top 8 bits.
func (r Pointer) WorkerID() uint8 {
	return uint8(uint64(r) >> ownerShift)
}

// Flags returns the raw flag byte.
func (r Pointer) Flags() Flag {
	return Flag((uint64(r) & flagsMask) >> flagsShift)
}

// Has reports whether every bit of f is set in r's flags.
func (r Pointer) Has(f Flag) bool {
	return r.Flags()&f == f
}

// Get reinterprets the address component as *T. Callers are responsible for
// the address actually having been allocated as a T on the owning worker;
// there is no runtime type tag.
func Get[T any](r Pointer) *T {
	return (*T)(unsafe.Pointer(r.Address()))
}

// WithFlags returns a copy of r with additional flags set.
func (r Pointer) WithFlags(f Flag) Pointer {
	return Pointer(uint64(r) | (uint64(f) << flagsShift))
}

// Equal compares two pointers by their address component only; owner and
// flag bytes do not participate.
func (r Pointer) Equal(o Pointer) bool {
	return r.Address() == o.Address()
}
