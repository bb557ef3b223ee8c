package engine

import (
	"sync"

	"github.com/pingcap/tunadb/dataflow"
	"github.com/pingcap/tunadb/result"
	"github.com/pingcap/tunadb/typesys"
)

// resultSink is the dataflow.Sink every compiled plan terminates in,
// accumulating each emitted tile into a result.QueryResult. Consume may run
// concurrently across workers (RequiresOwnerWorker is false), so the
// accumulation is guarded by a mutex.
type resultSink struct {
	mu     sync.Mutex
	result *result.QueryResult
	done   chan struct{}
}

func newResultSink(schema typesys.Schema) *resultSink {
	return &resultSink{result: result.New(schema), done: make(chan struct{})}
}

func (s *resultSink) Arity() int                        { return 1 }
func (s *resultSink) InitialTokens(int) []dataflow.Token { return nil }
func (s *resultSink) RequiresOwnerWorker() bool          { return false }

func (s *resultSink) Consume(_ int, _ *dataflow.Emitter, _ int, tok dataflow.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result.Append(tok.Set.Tile)
	return nil
}

func (s *resultSink) Finish() { close(s.done) }

func (s *resultSink) wait() { <-s.done }

var _ dataflow.Sink = (*resultSink)(nil)
