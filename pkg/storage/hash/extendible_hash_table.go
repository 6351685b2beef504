// Package hash implements the dynamic-depth extendible hash table used as
// the buffer pool's page table (spec §4.1). Ported from
// original_source/bustub's container/hash/extendible_hash_table.{h,cpp},
// generalized from BusTub's C++ template to a Go generic type.
package hash

import (
	"hash/fnv"
	"sync"
)

// Hasher maps a key to its 64-bit hash. Keys only need to be comparable;
// FNV64Key builds a Hasher from a function that encodes a key as bytes.
type Hasher[K comparable] func(K) uint64

// ExtendibleHashTable is a single-writer-at-a-time, directory-doubling hash
// table. All three operations acquire one table-level mutex — the spec
// deliberately keeps this coarse; splitting is rare and cheap enough that a
// finer-grained scheme isn't worth the complexity for a teaching kernel.
type ExtendibleHashTable[K comparable, V any] struct {
	mu          sync.Mutex
	globalDepth int
	bucketSize  int
	numBuckets  int
	dir         []*bucket[K, V]
	hashFn      Hasher[K]
}

type entry[K comparable, V any] struct {
	key K
	val V
}

type bucket[K comparable, V any] struct {
	size  int
	depth int
	items []entry[K, V]
}

func newBucket[K comparable, V any](size, depth int) *bucket[K, V] {
	return &bucket[K, V]{size: size, depth: depth}
}

func (b *bucket[K, V]) isFull() bool { return len(b.items) >= b.size }

func (b *bucket[K, V]) find(key K) (V, bool) {
	for _, e := range b.items {
		if e.key == key {
			return e.val, true
		}
	}
	var zero V
	return zero, false
}

func (b *bucket[K, V]) remove(key K) bool {
	for i, e := range b.items {
		if e.key == key {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return true
		}
	}
	return false
}

// insert overwrites an existing key, or appends if there's room. Returns
// false only when the key is new and the bucket is already full.
func (b *bucket[K, V]) insert(key K, val V) bool {
	for i, e := range b.items {
		if e.key == key {
			b.items[i].val = val
			return true
		}
	}
	if b.isFull() {
		return false
	}
	b.items = append(b.items, entry[K, V]{key, val})
	return true
}

// New creates a table with one empty bucket at depth 0. hashFn must be
// deterministic and well-distributed; bucketSize is the per-bucket capacity.
func New[K comparable, V any](bucketSize int, hashFn Hasher[K]) *ExtendibleHashTable[K, V] {
	t := &ExtendibleHashTable[K, V]{
		bucketSize: bucketSize,
		numBuckets: 1,
		hashFn:     hashFn,
	}
	t.dir = append(t.dir, newBucket[K, V](bucketSize, 0))
	return t
}

func (t *ExtendibleHashTable[K, V]) indexOf(key K) int {
	mask := uint64(1<<t.globalDepth) - 1
	return int(t.hashFn(key) & mask)
}

func (t *ExtendibleHashTable[K, V]) GlobalDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.globalDepth
}

func (t *ExtendibleHashTable[K, V]) LocalDepth(dirIndex int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir[dirIndex].depth
}

func (t *ExtendibleHashTable[K, V]) NumBuckets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numBuckets
}

// Find returns the value for key, if present.
func (t *ExtendibleHashTable[K, V]) Find(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir[t.indexOf(key)].find(key)
}

// Remove deletes key, reporting whether it was present. Buckets are never
// merged back together (spec §4.1: "No bucket merging is required").
func (t *ExtendibleHashTable[K, V]) Remove(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir[t.indexOf(key)].remove(key)
}

// Insert sets key→val, splitting buckets (and doubling the directory when
// necessary) until there is room.
func (t *ExtendibleHashTable[K, V]) Insert(key K, val V) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.indexOf(key)
	if t.dir[idx].insert(key, val) {
		return
	}

	// The bucket is full and key is new: split until it fits. Multiple
	// splits can be required because redistribution may again concentrate
	// everything (including the new key) into one half.
	for t.dir[idx].isFull() {
		localDepth := t.dir[idx].depth
		if localDepth == t.globalDepth {
			t.dir = append(t.dir, t.dir...)
			t.globalDepth++
		}

		newBucket0 := newBucket[K, V](t.bucketSize, localDepth+1)
		newBucket1 := newBucket[K, V](t.bucketSize, localDepth+1)
		localMask := uint64(1) << localDepth

		old := t.dir[idx]
		for _, e := range old.items {
			if t.hashFn(e.key)&localMask != 0 {
				newBucket1.items = append(newBucket1.items, e)
			} else {
				newBucket0.items = append(newBucket0.items, e)
			}
		}
		t.numBuckets++

		// Every directory slot that used to point at the split bucket
		// gets repointed based on the localMask bit of its own index.
		start := int(t.hashFn(key) & (localMask - 1))
		for i := start; i < len(t.dir); i += int(localMask) {
			if uint64(i)&localMask != 0 {
				t.dir[i] = newBucket1
			} else {
				t.dir[i] = newBucket0
			}
		}

		idx = t.indexOf(key)
	}

	t.dir[idx].insert(key, val)
}

// FNV64Key builds a Hasher for any key type whose bytes are supplied by
// toBytes — a small adapter so callers don't repeat the hash/fnv boilerplate.
func FNV64Key[K comparable](toBytes func(K) []byte) Hasher[K] {
	return func(k K) uint64 {
		h := fnv.New64a()
		h.Write(toBytes(k))
		return h.Sum64()
	}
}
