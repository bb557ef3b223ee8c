package topology

import (
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/pingcap/tunadb/logutil"
)

// ApplyGOMAXPROCS sets GOMAXPROCS to the size of cs, the way a process
// pinning one OS thread per worker wants exactly that many schedulable Ms.
// It first lets automaxprocs account for any cgroup CPU quota, then clamps
// to cs.Len().
func ApplyGOMAXPROCS(cs *CoreSet) {
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logutil.L().Sugar().Debugf(format, args...)
	})); err != nil {
		logutil.L().Warn("automaxprocs failed", zap.Error(err))
	}
	if cur := runtime.GOMAXPROCS(0); cur != cs.Len() {
		runtime.GOMAXPROCS(cs.Len())
	}
}
