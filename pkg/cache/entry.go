package cache

import (
	"fmt"
	"slices"
)

// StreamEntry is an Entry whose streams live in memory.
// It is not safe for concurrent use.
type StreamEntry struct {
	key     string
	streams [NumStreams][]byte

	// limit caps the sum of both streams. <= 0 means no limit.
	limit int64

	// shared streams are owned by a RecordStore and copied before the
	// first write.
	shared [NumStreams]bool

	dirty  bool
	doomed bool
}

var _ Entry = (*StreamEntry)(nil)

func NewStreamEntry(key string, limit int64) *StreamEntry {
	return &StreamEntry{key: key, limit: limit}
}

func (e *StreamEntry) Key() string {
	return e.key
}

func (e *StreamEntry) ReadData(index int, offset int64, buf []byte) (int, error) {
	if !validIndex(index) {
		return 0, ErrInvalidStream
	}
	if offset < 0 {
		return 0, fmt.Errorf("negative offset %d", offset)
	}
	s := e.streams[index]
	if offset >= int64(len(s)) {
		return 0, nil
	}
	return copy(buf, s[offset:]), nil
}

func (e *StreamEntry) WriteData(index int, offset int64, buf []byte, truncate bool) (int, error) {
	if !validIndex(index) {
		return 0, ErrInvalidStream
	}
	if offset < 0 {
		return 0, fmt.Errorf("negative offset %d", offset)
	}

	s := e.streams[index]
	if e.shared[index] {
		s = slices.Clone(s)
		e.shared[index] = false
	}
	end := offset + int64(len(buf))
	newLen := end
	if !truncate && int64(len(s)) > newLen {
		newLen = int64(len(s))
	}
	if e.limit > 0 {
		other := e.Size() - int64(len(s))
		if other+newLen > e.limit {
			return 0, ErrEntryTooLarge
		}
	}

	if int64(cap(s)) < newLen {
		ns := make([]byte, len(s), newLen)
		copy(ns, s)
		s = ns
	}
	if int64(len(s)) < newLen {
		// Gap between the old end and offset reads as zeros.
		old := len(s)
		s = s[:newLen]
		clear(s[old:])
	}
	copy(s[offset:], buf)
	e.streams[index] = s[:newLen]
	e.dirty = true
	return len(buf), nil
}

func (e *StreamEntry) GetDataSize(index int) int64 {
	if !validIndex(index) {
		return 0
	}
	return int64(len(e.streams[index]))
}

// Size returns the sum of both stream sizes.
func (e *StreamEntry) Size() int64 {
	var n int64
	for _, s := range e.streams {
		n += int64(len(s))
	}
	return n
}

func (e *StreamEntry) Doom() {
	e.doomed = true
}

func (e *StreamEntry) Doomed() bool {
	return e.doomed
}

// Dirty reports whether the entry was written since it was created or loaded.
func (e *StreamEntry) Dirty() bool {
	return e.dirty
}

func (e *StreamEntry) Close() error {
	return nil
}

// Stream returns the content of stream index. The caller must not modify it.
func (e *StreamEntry) Stream(index int) []byte {
	if !validIndex(index) {
		return nil
	}
	return e.streams[index]
}

// share marks all streams as owned by someone else.
func (e *StreamEntry) share() {
	for i := range e.shared {
		e.shared[i] = true
	}
}

func validIndex(i int) bool {
	return i >= 0 && i < NumStreams
}
