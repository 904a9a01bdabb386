// Package realtime carries change notifications from the store to the views that
// materialize the changed entities.
package realtime

import (
	"context"
	"errors"
	"time"
)

// Table names a logical table of the store.
type Table string

// Tables that publish change events.
const (
	TablePosts    Table = "posts"
	TableComments Table = "comments"
	TableLikes    Table = "likes"
	TableFollows  Table = "follows"
	TableProfiles Table = "profiles"
)

// EventType is the kind of row change.
type EventType string

// Event types. EventResync means events may have been lost and every
// subscriber should treat its view as stale.
const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
	EventResync EventType = "resync"
)

// Event describes one row change. Row carries the identity columns of the
// changed row (id, post_id, user_id, follower_id, following_id), never the body.
type Event struct {
	Table Table             `json:"table,omitempty"`
	Type  EventType         `json:"type"`
	Row   map[string]string `json:"row,omitempty"`
	At    time.Time         `json:"at"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(table Table, typ EventType, row map[string]string) Event {
	return Event{Table: table, Type: typ, Row: row, At: time.Now().UTC()}
}

// Value returns the identity column col of the changed row.
func (e Event) Value(col string) string {
	return e.Row[col]
}

// Filter selects events. An empty Column subscribes to the whole table, an
// empty Types list accepts every event type.
type Filter struct {
	Table  Table       `json:"table"`
	Types  []EventType `json:"types,omitempty"`
	Column string      `json:"column,omitempty"`
	Value  string      `json:"value,omitempty"`
}

// TableFilter subscribes to every event of a table.
func TableFilter(table Table, types ...EventType) Filter {
	return Filter{Table: table, Types: types}
}

// RowFilter subscribes to events whose row has column == value.
func RowFilter(table Table, column, value string, types ...EventType) Filter {
	return Filter{Table: table, Column: column, Value: value, Types: types}
}

// Validate reports malformed filters.
func (f Filter) Validate() error {
	if f.Table == "" {
		return errors.New("filter table is required")
	}
	if f.Column != "" && f.Value == "" {
		return errors.New("filter value is required when a column is set")
	}
	if f.Column == "" && f.Value != "" {
		return errors.New("filter column is required when a value is set")
	}
	return nil
}

// Matches reports whether ev passes the filter. Resync events match everything.
func (f Filter) Matches(ev Event) bool {
	if ev.Type == EventResync {
		return true
	}
	if ev.Table != f.Table {
		return false
	}
	if f.Column != "" && ev.Row[f.Column] != f.Value {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == ev.Type {
			return true
		}
	}
	return false
}

func (f Filter) topic() string {
	if f.Column == "" {
		return string(f.Table)
	}
	return rowTopic(f.Table, f.Column, f.Value)
}

func rowTopic(table Table, column, value string) string {
	return string(table) + "|" + column + "=" + value
}

// Handler receives matching events. Handlers run on the publishing goroutine
// and must not block.
type Handler func(Event)

// Subscription is a live registration on the channel. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Subscriber registers handlers for filtered events.
type Subscriber interface {
	Subscribe(f Filter, h Handler) (Subscription, error)
}

// Publisher delivers an event to the channel.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
