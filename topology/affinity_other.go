// +build !linux

package topology

// PinCurrentThread is a no-op on platforms without sched_setaffinity; the
// runtime still functions, it simply loses core locality.
func PinCurrentThread(core Core) {}
