package core

import (
	"container/list"
	"context"
)

// Submissions arrive over at-least-once transport, so a transition id can be
// seen more than once. Deduper is the two-tier filter in front of the engine:
// a bounded in-memory LRU for the hot path and an optional durable lookup
// (the transition log) for ids that aged out of the LRU.

// DurableDedupChecker answers whether a transition id was already logged.
type DurableDedupChecker interface {
	SeenTransition(ctx context.Context, transitionID string) (bool, error)
}

type Deduper struct {
	lru     *dedupLRU
	durable DurableDedupChecker
}

func NewDeduper(capacity int, durable DurableDedupChecker) *Deduper {
	return &Deduper{lru: newDedupLRU(capacity), durable: durable}
}

// IsDuplicate reports whether the id was already processed. A durable-lookup
// failure counts as not-duplicate: a broken database must not wedge intake,
// and the transition log's conflict clause absorbs the occasional replay.
func (d *Deduper) IsDuplicate(ctx context.Context, transitionID string) bool {
	if d.lru.contains(transitionID) {
		return true
	}
	if d.durable != nil {
		seen, err := d.durable.SeenTransition(ctx, transitionID)
		if err == nil && seen {
			d.lru.add(transitionID)
			return true
		}
	}
	return false
}

// MarkProcessed records the id after a completed apply.
func (d *Deduper) MarkProcessed(transitionID string) {
	d.lru.add(transitionID)
}

// dedupLRU is a bounded LRU of transition ids. Not safe for concurrent use;
// intake is single-threaded.
type dedupLRU struct {
	capacity int
	index    map[string]*list.Element
	order    *list.List
}

func newDedupLRU(capacity int) *dedupLRU {
	return &dedupLRU{
		capacity: capacity,
		index:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (l *dedupLRU) contains(id string) bool {
	elem, ok := l.index[id]
	if ok {
		l.order.MoveToFront(elem)
	}
	return ok
}

func (l *dedupLRU) add(id string) {
	if elem, ok := l.index[id]; ok {
		l.order.MoveToFront(elem)
		return
	}
	l.index[id] = l.order.PushFront(id)
	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.index, oldest.Value.(string))
	}
}

// Len returns the current number of cached ids.
func (d *Deduper) Len() int { return d.lru.order.Len() }
