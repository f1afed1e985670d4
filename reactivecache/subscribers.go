package reactivecache

import (
	"context"
	"sort"

	"github.com/goliatone/go-query-cache/cache"
)

// SubscriberID is an opaque handle of a consumer of cached results, such as
// a rendered UI component.
type SubscriberID string

// subscriberSet is replaced on every change, never mutated in place.
type subscriberSet struct {
	key     cache.Key
	members map[SubscriberID]struct{}
}

func (s subscriberSet) with(sub SubscriberID) subscriberSet {
	next := subscriberSet{key: s.key, members: make(map[SubscriberID]struct{}, len(s.members)+1)}
	for m := range s.members {
		next.members[m] = struct{}{}
	}
	next.members[sub] = struct{}{}
	return next
}

func (s subscriberSet) without(sub SubscriberID) subscriberSet {
	next := subscriberSet{key: s.key, members: make(map[SubscriberID]struct{}, len(s.members))}
	for m := range s.members {
		if m != sub {
			next.members[m] = struct{}{}
		}
	}
	return next
}

// Subscribe records sub as a consumer of key. Subscribing twice is a no-op.
func (e *Engine) Subscribe(key cache.Key, sub SubscriberID) {
	e.subscribers.Compute(e.id(key), func(old subscriberSet, loaded bool) (subscriberSet, bool) {
		if !loaded {
			old = subscriberSet{key: key}
		}
		if _, ok := old.members[sub]; ok {
			return old, false
		}
		return old.with(sub), false
	})
}

// Unsubscribe removes sub from every key. Keys left without subscribers are
// evicted from the cache; it returns those keys.
func (e *Engine) Unsubscribe(ctx context.Context, sub SubscriberID) []cache.Key {
	var ids []string
	e.subscribers.Range(func(id string, set subscriberSet) bool {
		if _, ok := set.members[sub]; ok {
			ids = append(ids, id)
		}
		return true
	})
	sort.Strings(ids)

	var emptied []cache.Key
	for _, id := range ids {
		var (
			key   cache.Key
			empty bool
		)
		e.subscribers.Compute(id, func(old subscriberSet, loaded bool) (subscriberSet, bool) {
			if !loaded {
				return old, true
			}
			next := old.without(sub)
			key, empty = next.key, len(next.members) == 0
			return next, empty
		})
		if empty {
			e.Evict(ctx, key)
			emptied = append(emptied, key)
		}
	}
	return emptied
}

// Subscribers returns the consumers of key in order.
func (e *Engine) Subscribers(key cache.Key) []SubscriberID {
	set, ok := e.subscribers.Load(e.id(key))
	if !ok {
		return nil
	}
	out := make([]SubscriberID, 0, len(set.members))
	for m := range set.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
