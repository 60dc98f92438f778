// Package scheduler is the independent playlist/commercial rotation loop
// ("timer", spec §4.3). It never touches Controller state directly; its
// only interface to the Controller is the operator HTTP API (GET /current,
// GET /experiences, PUT /current).
package scheduler

import (
	"math/rand"
)

// Deck is a shuffled queue over T that reshuffles from its original source
// once drained (spec §4.3: "the top-level deck reshuffles when drained";
// "when drained, reshuffles from its source"). Generic the way the
// teacher's scheduler.Cache[T] (api/pkg/scheduler/cache.go) is generic over
// its cached value, applied here to the playlist's item type instead.
type Deck[T any] struct {
	source []T
	queue  []T
	rng    *rand.Rand
}

// NewDeck builds a Deck already shuffled from source. An empty source
// yields a Deck that always reports empty.
func NewDeck[T any](source []T, rng *rand.Rand) *Deck[T] {
	d := &Deck[T]{source: append([]T(nil), source...), rng: rng}
	d.reshuffle()
	return d
}

func (d *Deck[T]) reshuffle() {
	d.queue = append([]T(nil), d.source...)
	d.rng.Shuffle(len(d.queue), func(i, j int) {
		d.queue[i], d.queue[j] = d.queue[j], d.queue[i]
	})
}

// Pop removes and returns the next item, reshuffling from source first if
// the deck (and its source) aren't empty but the current queue is drained.
// ok is false only when the source itself is empty.
func (d *Deck[T]) Pop() (item T, ok bool) {
	if len(d.source) == 0 {
		var zero T
		return zero, false
	}
	if len(d.queue) == 0 {
		d.reshuffle()
	}
	item = d.queue[0]
	d.queue = d.queue[1:]
	return item, true
}

// Empty reports whether the deck has no source items at all (distinct from
// a momentarily-drained queue, which reshuffles on the next Pop).
func (d *Deck[T]) Empty() bool {
	return len(d.source) == 0
}

// Len reports the source size, used for playlist-fairness bookkeeping.
func (d *Deck[T]) Len() int {
	return len(d.source)
}
