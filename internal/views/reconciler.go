package views

import (
	"context"
	"errors"
	"sync"
	"time"

	"spark/internal/observability"
	"spark/internal/realtime"
)

var errReconcilerActive = errors.New("reconciler already active")

// Reconciler owns the change subscriptions of one view. Relevant events mark
// the view dirty; a single worker refetches, so a burst collapses into few
// refreshes.
type Reconciler struct {
	source   realtime.Subscriber
	view     string
	debounce time.Duration
	relevant func(realtime.Event) bool
	refresh  func(context.Context)

	mu   sync.Mutex
	subs []realtime.Subscription
	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewReconciler builds a reconciler. relevant runs in the publisher's
// goroutine and must not block.
func NewReconciler(source realtime.Subscriber, view string, debounce time.Duration,
	relevant func(realtime.Event) bool, refresh func(context.Context)) *Reconciler {
	return &Reconciler{
		source:   source,
		view:     view,
		debounce: debounce,
		relevant: relevant,
		refresh:  refresh,
	}
}

// Start subscribes every filter and launches the worker. On a subscribe
// failure the subscriptions made so far are released.
func (r *Reconciler) Start(ctx context.Context, filters []realtime.Filter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return errReconcilerActive
	}

	subs := make([]realtime.Subscription, 0, len(filters))
	for _, f := range filters {
		sub, err := r.source.Subscribe(f, r.handle)
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return err
		}
		subs = append(subs, sub)
	}

	r.subs = subs
	r.wake = make(chan struct{}, 1)
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(context.WithoutCancel(ctx), r.wake, r.stop, r.done)
	return nil
}

// Stop releases every subscription and waits for the worker to exit.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	subs, stop, done := r.subs, r.stop, r.done
	r.subs, r.stop, r.done, r.wake = nil, nil, nil, nil
	r.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Notify schedules a refetch.
func (r *Reconciler) Notify() {
	r.mu.Lock()
	wake := r.wake
	r.mu.Unlock()
	if wake == nil {
		return
	}
	select {
	case wake <- struct{}{}:
	default:
	}
}

func (r *Reconciler) handle(ev realtime.Event) {
	if !r.relevant(ev) {
		return
	}
	observability.ReconcileTriggers.WithLabelValues(r.view).Inc()
	r.Notify()
}

func (r *Reconciler) loop(ctx context.Context, wake, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-wake:
		}

		if r.debounce > 0 {
			timer := time.NewTimer(r.debounce)
			select {
			case <-stop:
				timer.Stop()
				return
			case <-timer.C:
			}
			// Everything that arrived during the window is covered by this refetch.
			select {
			case <-wake:
			default:
			}
		}
		r.refresh(ctx)
	}
}
