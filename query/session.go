package query

import (
	"fmt"
	"log/slog"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/rotblauer/treetiles/coalesce"
)

// DefaultMemoSize bounds the number of results a session keeps for duplicates.
const DefaultMemoSize = 256

// Session serves one client's viewport events. The coalescer decides which
// events issue queries; a bounded memo returns recent results for duplicates.
// The memo never changes which queries are issued.
// A Session is used from one goroutine.
type Session struct {
	coalescer *coalesce.Coalescer
	engine    *Engine
	memo      *lru.Cache[string, Result]
	logger    *slog.Logger
}

func NewSession(c *coalesce.Coalescer, e *Engine, memoSize int) (*Session, error) {
	if memoSize <= 0 {
		memoSize = DefaultMemoSize
	}
	memo, err := lru.New[string, Result](memoSize)
	if err != nil {
		return nil, err
	}
	return &Session{
		coalescer: c,
		engine:    e,
		memo:      memo,
		logger:    slog.With("component", "session"),
	}, nil
}

func (s *Session) Coalescer() *coalesce.Coalescer {
	return s.coalescer
}

// Handle coalesces one event and, for a new key, queries the engine.
// For a duplicate the memoized result is returned when still held;
// ok is false when the session has nothing to show for the event.
func (s *Session) Handle(ev coalesce.ViewportEvent) (res Result, outcome coalesce.Outcome, ok bool, err error) {
	req, outcome := s.coalescer.Handle(ev)
	switch outcome {
	case coalesce.OutcomeEmitted:
		res, err = s.engine.Serve(req)
		if err != nil {
			return res, outcome, false, fmt.Errorf("session: %w", err)
		}
		s.memo.Add(req.Key, res)
		return res, outcome, true, nil
	case coalesce.OutcomeDuplicate:
		res, ok = s.memo.Get(req.Key)
		if !ok {
			s.logger.Debug("Duplicate key evicted from memo", "key", req.Key)
		}
		return res, outcome, ok, nil
	}
	return Result{}, outcome, false, nil
}

// Reload swaps in a rebuilt engine at a new revision, invalidating
// the served-set and the memo.
func (s *Session) Reload(e *Engine, revision uint64) {
	s.engine = e
	if s.coalescer.SetRevision(revision) {
		s.memo.Purge()
	}
}
