// Package runtime implements the tasking runtime: worker threads, per-worker
// channels, annotation-driven dispatch, the prefetch pipeline, and task
// traces. The runtime is an explicit object passed by reference, never a
// package-level singleton.
package runtime

import "github.com/pingcap/tunadb/resource"

// AccessIntention records whether a task/token means to read or write the
// resource its annotation targets.
type AccessIntention int

const (
	// ReadOnly means the task only reads its target resource.
	ReadOnly AccessIntention = iota
	// Write means the task may mutate its target resource.
	Write
)

// Target selects which worker an Annotation resolves to.
type targetKind int

const (
	targetLocal targetKind = iota
	targetWorker
	targetResource
)

// Annotation carries the target (worker id or resource pointer), the access
// intention, and a prefetch descriptor.
type Annotation struct {
	kind     targetKind
	worker   int
	res      resource.Pointer
	Intent   AccessIntention
	Prefetch PrefetchDescriptor
}

// PrefetchDescriptor is the set of byte offsets an operator expects to touch
// for a token carrying this annotation.
type PrefetchDescriptor struct {
	Offsets []int
}

// Local returns an annotation targeting whichever worker resolves it.
func Local(intent AccessIntention) Annotation {
	return Annotation{kind: targetLocal, Intent: intent}
}

// ForWorker returns an annotation targeting a literal worker id.
func ForWorker(worker int, intent AccessIntention) Annotation {
	return Annotation{kind: targetWorker, worker: worker, Intent: intent}
}

// ForResource returns an annotation whose target worker is decoded from a
// resource pointer's owning-worker byte at dispatch time.
func ForResource(r resource.Pointer, intent AccessIntention) Annotation {
	return Annotation{kind: targetResource, res: r, Intent: intent}
}

// Resolve returns the worker id this annotation dispatches to, given the
// id of the worker currently evaluating it (used for targetLocal).
func (a Annotation) Resolve(currentWorker int) int {
	switch a.kind {
	case targetWorker:
		return a.worker
	case targetResource:
		return int(a.res.WorkerID())
	default:
		return currentWorker
	}
}

// IsLocalToCurrentWorker reports whether dispatch resolves to currentWorker
// without needing to cross a channel.
func (a Annotation) IsLocalToCurrentWorker(currentWorker int) bool {
	return a.Resolve(currentWorker) == currentWorker
}

// WithPrefetch returns a copy of a carrying the given prefetch descriptor.
func (a Annotation) WithPrefetch(p PrefetchDescriptor) Annotation {
	a.Prefetch = p
	return a
}
