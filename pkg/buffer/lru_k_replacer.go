package buffer

import (
	"container/list"
	"fmt"
	"sync"
)

// FrameID indexes the buffer pool's frame array.
type FrameID int32

// LRUKReplacer selects an eviction victim among evictable frames by
// backward K-distance: a frame with fewer than K accesses sits in the
// history list ("infinite" K-distance); once it has K accesses it migrates
// to the cache list. Both lists are ordered by most recent access. History
// is always scanned before cache when looking for a victim, and within each
// list the oldest (least-recently-touched) entry is preferred. Ported from
// original_source/bustub's buffer/lru_k_replacer.cpp.
type LRUKReplacer struct {
	mu sync.Mutex

	replacerSize int
	k            int
	currSize     int

	histList  *list.List // front = most recent; entries with hitCount < k
	cacheList *list.List // front = most recent; entries with hitCount >= k
	entries   map[FrameID]*entry
}

type entry struct {
	hitCount  int
	evictable bool
	elem      *list.Element // current position in whichever list holds it
}

func NewLRUKReplacer(numFrames, k int) *LRUKReplacer {
	return &LRUKReplacer{
		replacerSize: numFrames,
		k:            k,
		histList:     list.New(),
		cacheList:    list.New(),
		entries:      make(map[FrameID]*entry),
	}
}

func (r *LRUKReplacer) checkFrameID(frameID FrameID) {
	if int(frameID) >= r.replacerSize {
		panic(fmt.Sprintf("invalid frame id %d", frameID))
	}
}

// RecordAccess registers an access to frameID, possibly migrating it from
// the history list to the cache list.
func (r *LRUKReplacer) RecordAccess(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFrameID(frameID)

	e, ok := r.entries[frameID]
	if !ok {
		e = &entry{}
		r.entries[frameID] = e
	}
	e.hitCount++

	switch {
	case e.hitCount == 1:
		e.elem = r.histList.PushFront(frameID)
	case e.hitCount == r.k:
		r.histList.Remove(e.elem)
		e.elem = r.cacheList.PushFront(frameID)
	case e.hitCount > r.k:
		r.cacheList.Remove(e.elem)
		e.elem = r.cacheList.PushFront(frameID)
	}
}

// SetEvictable toggles whether frameID is a candidate for eviction,
// adjusting currSize on every true transition.
func (r *LRUKReplacer) SetEvictable(frameID FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFrameID(frameID)

	e, ok := r.entries[frameID]
	if !ok {
		return
	}
	if !e.evictable && evictable {
		r.currSize++
	} else if e.evictable && !evictable {
		r.currSize--
	}
	e.evictable = evictable
}

// Evict removes and returns the victim frame: the oldest evictable entry in
// the history list, or failing that, the oldest evictable entry in the
// cache list.
func (r *LRUKReplacer) Evict() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if frameID, ok := r.evictFrom(r.histList); ok {
		delete(r.entries, frameID)
		r.currSize--
		return frameID, true
	}
	if frameID, ok := r.evictFrom(r.cacheList); ok {
		delete(r.entries, frameID)
		r.currSize--
		return frameID, true
	}
	return 0, false
}

func (r *LRUKReplacer) evictFrom(l *list.List) (FrameID, bool) {
	for e := l.Back(); e != nil; e = e.Prev() {
		frameID := e.Value.(FrameID)
		if r.entries[frameID].evictable {
			l.Remove(e)
			return frameID, true
		}
	}
	return 0, false
}

// Remove deletes frameID's entry outright. Panics if the frame is currently
// inevictable, mirroring upstream's logic_error — calling Remove on a
// pinned frame is a caller bug, not a recoverable condition.
func (r *LRUKReplacer) Remove(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFrameID(frameID)

	e, ok := r.entries[frameID]
	if !ok {
		return
	}
	if !e.evictable {
		panic(fmt.Sprintf("cannot remove inevictable frame %d", frameID))
	}

	if e.hitCount < r.k {
		r.histList.Remove(e.elem)
	} else {
		r.cacheList.Remove(e.elem)
	}
	r.currSize--
	delete(r.entries, frameID)
}

// Size returns the number of currently evictable frames.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currSize
}
