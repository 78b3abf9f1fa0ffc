// Package cache defines the entry store consumed by the cache engine and a
// generic implementation of it over a RecordStore.
//
// An entry is addressed by a string key and holds exactly two byte streams:
// IndexHeaders and IndexResponseBody.
package cache

import (
	"errors"
	"io"
)

const (
	IndexHeaders      = 0
	IndexResponseBody = 1

	NumStreams = 2
)

// DefaultMaxBytes is the size cap of a backend when none is configured.
const DefaultMaxBytes = 512 << 20

var (
	ErrNotFound          = errors.New("entry not found")
	ErrExists            = errors.New("entry already exists")
	ErrIteratorExhausted = errors.New("iterator exhausted")
	ErrClosed            = errors.New("backend closed")
	ErrEntryTooLarge     = errors.New("entry too large")
	ErrInvalidStream     = errors.New("invalid stream index")
	ErrCorruptRecord     = errors.New("corrupt record")
)

type Backend interface {
	// OpenEntry opens an existing entry. Returns ErrNotFound on a miss.
	OpenEntry(key string) (Entry, error)

	// CreateEntry creates a new, empty entry. Returns ErrExists if key
	// is present.
	CreateEntry(key string) (Entry, error)

	// DoomEntry deletes key. Returns ErrNotFound on a miss.
	DoomEntry(key string) error

	// NewIterator returns an iterator over the entries present when it
	// is created.
	NewIterator() Iterator

	// CalculateSizeOfAllEntries sums the stream sizes of all entries.
	CalculateSizeOfAllEntries() (int64, error)

	io.Closer
}

type Entry interface {
	Key() string

	// ReadData copies stream data starting at offset into buf and returns
	// the number of bytes copied. 0 means offset is at or past the end.
	ReadData(index int, offset int64, buf []byte) (int, error)

	// WriteData writes buf at offset. If truncate is true the stream ends
	// after the written data.
	WriteData(index int, offset int64, buf []byte, truncate bool) (int, error)

	GetDataSize(index int) int64

	// Doom deletes the entry. Writes made through a doomed entry are
	// discarded on Close.
	Doom()

	// Close releases the entry and persists pending writes.
	Close() error
}

type Iterator interface {
	// OpenNextEntry returns the next entry. Enumeration ends with
	// ErrIteratorExhausted; any other error is an I/O failure.
	OpenNextEntry() (Entry, error)
}
