// Package feed delivers row-level change events to in-process subscribers.
// The Postgres store raises events through NOTIFY triggers; the in-memory
// store publishes straight into a Hub. Subscribers must not rely on
// delivery order or completeness; the sync engine reloads the active
// thread after a gap.
package feed

import (
	"encoding/json"
	"fmt"
	"sync"
)

type EventType string

const (
	Insert EventType = "insert"
	Update EventType = "update"
	Delete EventType = "delete"
)

// Event is one row-level change. Row is the full row encoded as JSON.
type Event struct {
	Table string          `json:"table"`
	Type  EventType       `json:"event"`
	Row   json.RawMessage `json:"row"`
}

// Source is the subscription surface consumed by the sync engine. Column
// may be empty for an unfiltered subscription; otherwise only rows whose
// column equals value are delivered. The returned cancel func is
// idempotent.
type Source interface {
	Subscribe(table, column, value string) (<-chan Event, func())
}

type subscriber struct {
	table  string
	column string
	value  string
	ch     chan Event
}

// Hub fans events out to subscribers. Slow subscribers lose events rather
// than block the publisher.
type Hub struct {
	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscriber)}
}

func (h *Hub) Subscribe(table, column, value string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	s := &subscriber{table: table, column: column, value: value, ch: make(chan Event, 64)}
	h.subs[id] = s

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if cur, ok := h.subs[id]; ok && cur == s {
				delete(h.subs, id)
				close(s.ch)
			}
			h.mu.Unlock()
		})
	}
	return s.ch, cancel
}

func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		if s.table != ev.Table {
			continue
		}
		if s.column != "" && !rowMatches(ev.Row, s.column, s.value) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
}

func rowMatches(row json.RawMessage, column, value string) bool {
	var fields map[string]any
	if err := json.Unmarshal(row, &fields); err != nil {
		return false
	}
	v, ok := fields[column]
	if !ok {
		return false
	}
	if s, ok := v.(string); ok {
		return s == value
	}
	return fmt.Sprint(v) == value
}
