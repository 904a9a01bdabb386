package realtime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestBus_RoutesByIdentity(t *testing.T) {
	t.Parallel()
	bus := NewBus()
	ctx := context.Background()

	var tableWide, postA, postB recorder
	_, err := bus.Subscribe(TableFilter(TableComments), tableWide.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(RowFilter(TableComments, "post_id", "a"), postA.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(RowFilter(TableComments, "post_id", "b"), postB.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, NewEvent(TableComments, EventInsert, map[string]string{"id": "c1", "post_id": "a"})))
	require.NoError(t, bus.Publish(ctx, NewEvent(TableLikes, EventInsert, map[string]string{"post_id": "a", "user_id": "u"})))

	assert.Equal(t, 1, tableWide.count())
	assert.Equal(t, 1, postA.count())
	assert.Equal(t, 0, postB.count())
}

func TestBus_TypeFilter(t *testing.T) {
	t.Parallel()
	bus := NewBus()
	ctx := context.Background()

	var deletes recorder
	_, err := bus.Subscribe(RowFilter(TablePosts, "id", "p1", EventDelete), deletes.handle)
	require.NoError(t, err)

	_ = bus.Publish(ctx, NewEvent(TablePosts, EventInsert, map[string]string{"id": "p1"}))
	_ = bus.Publish(ctx, NewEvent(TablePosts, EventDelete, map[string]string{"id": "p1"}))
	assert.Equal(t, 1, deletes.count())
}

func TestBus_ResyncReachesEverySubscriber(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	var a, b recorder
	_, _ = bus.Subscribe(TableFilter(TablePosts), a.handle)
	_, _ = bus.Subscribe(RowFilter(TableFollows, "follower_id", "u1"), b.handle)

	_ = bus.Publish(context.Background(), NewEvent("", EventResync, nil))
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	var r recorder
	sub, err := bus.Subscribe(TableFilter(TablePosts), r.handle)
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Len())

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, bus.Len())

	_ = bus.Publish(context.Background(), NewEvent(TablePosts, EventInsert, map[string]string{"id": "p"}))
	assert.Equal(t, 0, r.count())
}

func TestBus_HandlerPanicIsContained(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	var after recorder
	_, _ = bus.Subscribe(TableFilter(TablePosts), func(Event) { panic("boom") })
	_, _ = bus.Subscribe(RowFilter(TablePosts, "id", "p"), after.handle)

	assert.NotPanics(t, func() {
		_ = bus.Publish(context.Background(), NewEvent(TablePosts, EventUpdate, map[string]string{"id": "p"}))
	})
	assert.Equal(t, 1, after.count())
}

func TestFilter_Validate(t *testing.T) {
	t.Parallel()
	assert.Error(t, Filter{}.Validate())
	assert.Error(t, Filter{Table: TablePosts, Column: "id"}.Validate())
	assert.Error(t, Filter{Table: TablePosts, Value: "x"}.Validate())
	assert.NoError(t, RowFilter(TablePosts, "id", "x").Validate())

	_, err := NewBus().Subscribe(Filter{}, func(Event) {})
	assert.Error(t, err)
}
