// Package views materializes feed, thread, profile and post detail snapshots
// and keeps them in sync with the store.
package views

import (
	"context"
	"sync"

	"spark/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// notifier hands out a channel that is closed on the next broadcast.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

func (n *notifier) wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	close(n.ch)
	n.ch = make(chan struct{})
	n.mu.Unlock()
}

// fetchResult is what a view fetch hands back to state.refresh. install runs
// under the snapshot lock and only when the fetch is still the latest.
type fetchResult struct {
	install func()
	outcome string
}

// state is the bookkeeping shared by every view: the snapshot lock, the
// generation guard and the change broadcast.
type state struct {
	view string
	log  *observability.ViewLogger

	mu       sync.RWMutex
	gen      uint64 // latest ticket issued; only it may install
	inflight uint64 // ticket of the newest refresh still running
	loading  bool
	loaded   bool
	installs uint64 // wholesale snapshot replacements
	err      error
	changed  *notifier
}

func (s *state) init(view string) {
	s.view = view
	s.log = observability.NewViewLogger(view)
	s.changed = newNotifier()
}

func (s *state) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.inflight = s.gen
	if !s.loading {
		s.loading = true
		s.changed.broadcast()
	}
	return s.gen
}

// invalidate makes every in-flight fetch stale. Callers hold mu.
func (s *state) invalidate() {
	s.gen++
}

// refresh runs fetch and installs its result if no newer refresh or local
// removal happened meanwhile. Fetch errors are logged and kept in err.
func (s *state) refresh(ctx context.Context, fetch func(context.Context) (fetchResult, error)) {
	defer observability.TrackRefresh(s.view)()
	span, ctx := observability.NewSpan(ctx, "view.refresh", attribute.String("view", s.view))
	defer span.End()

	ticket := s.begin()
	res, err := fetch(ctx)

	s.mu.Lock()
	if ticket == s.inflight {
		s.loading = false
	}
	outcome := res.outcome
	switch {
	case ticket != s.gen:
		outcome = observability.OutcomeStale
	case err != nil:
		s.err = err
		outcome = observability.OutcomeError
	default:
		if res.install != nil {
			res.install()
		}
		s.installs++
		s.loaded = true
		s.err = nil
		if outcome == "" {
			outcome = observability.OutcomeApplied
		}
	}
	s.changed.broadcast()
	s.mu.Unlock()

	observability.ViewRefreshes.WithLabelValues(s.view, outcome).Inc()
	if err != nil {
		span.SetError(err)
		s.log.LogFetchError(ctx, err, map[string]any{"ticket": ticket})
		return
	}
	s.log.LogRefresh(ctx, outcome, map[string]any{"ticket": ticket})
}

// Loading reports whether the newest refresh is still running.
func (s *state) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Loaded reports whether a snapshot was ever installed.
func (s *state) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Err returns the error of the last failed refresh, cleared by the next
// successful one.
func (s *state) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Changed returns a channel closed on the next snapshot or loading change.
func (s *state) Changed() <-chan struct{} {
	return s.changed.wait()
}
