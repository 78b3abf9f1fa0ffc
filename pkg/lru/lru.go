// Package lru is a least recently used map. It is not safe for concurrent use.
package lru

import (
	"fmt"
)

type node[K comparable, V any] struct {
	key        K
	v          V
	prev, next *node[K, V]
}

// LRU keeps at most maxSize keys. Get moves a key to the newest position,
// Peek and Update do not, so a caller that never calls Get sees keys in
// insertion order.
type LRU[K comparable, V any] struct {
	maxSize int
	onEvict func(key K, v V)

	// root.next is the oldest node, root.prev the newest.
	root node[K, V]
	m    map[K]*node[K, V]
}

func NewLRU[K comparable, V any](maxSize int, onEvict func(key K, v V)) *LRU[K, V] {
	if maxSize <= 0 {
		panic(fmt.Sprintf("LRU: invalid max size: %d", maxSize))
	}
	q := &LRU[K, V]{
		maxSize: maxSize,
		onEvict: onEvict,
		m:       make(map[K]*node[K, V]),
	}
	q.root.next = &q.root
	q.root.prev = &q.root
	return q
}

func (q *LRU[K, V]) unlink(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

func (q *LRU[K, V]) pushNewest(n *node[K, V]) {
	n.prev = q.root.prev
	n.next = &q.root
	q.root.prev.next = n
	q.root.prev = n
}

// Add inserts or updates key and makes it the newest. Inserting into a full
// LRU evicts the oldest key.
func (q *LRU[K, V]) Add(key K, v V) {
	if n, ok := q.m[key]; ok {
		n.v = v
		q.unlink(n)
		q.pushNewest(n)
		return
	}

	var n *node[K, V]
	if len(q.m) >= q.maxSize {
		n = q.root.next
		q.unlink(n)
		delete(q.m, n.key)
		if q.onEvict != nil {
			q.onEvict(n.key, n.v)
		}
	} else {
		n = new(node[K, V])
	}
	n.key, n.v = key, v
	q.m[key] = n
	q.pushNewest(n)
}

// Update replaces the value of key in place. It returns false if key is absent.
func (q *LRU[K, V]) Update(key K, v V) bool {
	n, ok := q.m[key]
	if !ok {
		return false
	}
	n.v = v
	return true
}

func (q *LRU[K, V]) Get(key K) (v V, ok bool) {
	n, ok := q.m[key]
	if !ok {
		return
	}
	q.unlink(n)
	q.pushNewest(n)
	return n.v, true
}

func (q *LRU[K, V]) Peek(key K) (v V, ok bool) {
	n, ok := q.m[key]
	if !ok {
		return
	}
	return n.v, true
}

// Del removes key without calling onEvict.
func (q *LRU[K, V]) Del(key K) (v V, ok bool) {
	n, ok := q.m[key]
	if !ok {
		return
	}
	q.unlink(n)
	delete(q.m, key)
	return n.v, true
}

// Range visits keys from the oldest to the newest until f returns false.
// f must not modify q.
func (q *LRU[K, V]) Range(f func(key K, v V) bool) {
	for n := q.root.next; n != &q.root; n = n.next {
		if !f(n.key, n.v) {
			return
		}
	}
}

// Keys returns all keys from the oldest to the newest.
func (q *LRU[K, V]) Keys() []K {
	keys := make([]K, 0, len(q.m))
	q.Range(func(key K, _ V) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

func (q *LRU[K, V]) Len() int {
	return len(q.m)
}
