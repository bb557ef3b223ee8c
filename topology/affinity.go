// +build linux

package topology

import (
	"golang.org/x/sys/unix"

	"go.uber.org/zap"

	"github.com/pingcap/tunadb/logutil"
)

// PinCurrentThread pins the calling OS thread to core.ID using
// sched_setaffinity. The caller must have already called runtime.LockOSThread.
// Errors are logged and swallowed: affinity is a locality optimization, not a
// correctness requirement.
func PinCurrentThread(core Core) {
	var set unix.CPUSet
	set.Zero()
	set.Set(core.ID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		logutil.L().Warn("failed to pin worker thread", zap.Int("core", core.ID), zap.Error(err))
	}
}
