package cache

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/pmkol/cachestorage/pkg/lru"
)

// RecordStore persists records. Implementations only need to be safe for
// use by one StoreBackend.
type RecordStore interface {
	// Load returns ErrNotFound if key is absent.
	Load(key string) (*Record, error)
	Save(r *Record) error
	// Remove returns ErrNotFound if key is absent.
	Remove(key string) error
	// List returns every stored record without its streams.
	List() ([]RecordInfo, error)
	Close() error
}

type RecordInfo struct {
	Key  string
	Seq  uint64
	Size int64
}

type StoreOpts struct {
	// MaxBytes caps the sum of all entry sizes. The oldest entries are
	// evicted when a write exceeds it. Default is DefaultMaxBytes.
	MaxBytes int64

	// MaxEntryBytes caps a single entry. Default is MaxBytes/8.
	MaxEntryBytes int64

	// EnumerateSize makes CalculateSizeOfAllEntries open every entry instead
	// of summing the index.
	EnumerateSize bool

	Logger *zap.Logger
}

var nopLogger = zap.NewNop()

func (opts *StoreOpts) init() {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.MaxEntryBytes <= 0 {
		opts.MaxEntryBytes = opts.MaxBytes / 8
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
}

type indexItem struct {
	seq  uint64
	size int64
}

// StoreBackend is a Backend over a RecordStore. It keeps an index of all
// records in sequence order and enforces the size cap.
type StoreBackend struct {
	opts  StoreOpts
	store RecordStore

	mu      sync.Mutex
	closed  bool
	nextSeq uint64
	total   int64
	index   *lru.LRU[string, indexItem] // insertion order, only Peek is used.
}

var _ Backend = (*StoreBackend)(nil)

// NewStoreBackend builds the index from store.List. store is closed by
// StoreBackend.Close.
func NewStoreBackend(store RecordStore, opts StoreOpts) (*StoreBackend, error) {
	opts.init()
	infos, err := store.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	slices.SortFunc(infos, func(a, b RecordInfo) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})

	b := &StoreBackend{
		opts:    opts,
		store:   store,
		nextSeq: 1,
		index:   lru.NewLRU[string, indexItem](math.MaxInt, nil),
	}
	for _, info := range infos {
		b.index.Add(info.Key, indexItem{seq: info.Seq, size: info.Size})
		b.total += info.Size
		if info.Seq >= b.nextSeq {
			b.nextSeq = info.Seq + 1
		}
	}
	if b.total > opts.MaxBytes {
		b.mu.Lock()
		b.evictLocked("")
		b.mu.Unlock()
	}
	return b, nil
}

func (b *StoreBackend) OpenEntry(key string) (Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	item, ok := b.index.Peek(key)
	if !ok {
		return nil, ErrNotFound
	}
	r, err := b.store.Load(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Removed behind our back.
			b.dropLocked(key, item)
		}
		return nil, err
	}
	if r.Seq != item.seq {
		return nil, fmt.Errorf("%w: stale record for %q", ErrCorruptRecord, key)
	}
	e := &storeEntry{StreamEntry: NewStreamEntry(key, b.opts.MaxEntryBytes), b: b, seq: r.Seq}
	e.streams = r.Streams
	e.share()
	return e, nil
}

func (b *StoreBackend) CreateEntry(key string) (Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if _, ok := b.index.Peek(key); ok {
		return nil, ErrExists
	}
	seq := b.nextSeq
	b.nextSeq++
	if err := b.store.Save(&Record{Key: key, Seq: seq}); err != nil {
		return nil, fmt.Errorf("failed to save record: %w", err)
	}
	b.index.Add(key, indexItem{seq: seq})
	return &storeEntry{StreamEntry: NewStreamEntry(key, b.opts.MaxEntryBytes), b: b, seq: seq}, nil
}

func (b *StoreBackend) DoomEntry(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	item, ok := b.index.Peek(key)
	if !ok {
		return ErrNotFound
	}
	b.dropLocked(key, item)
	if err := b.store.Remove(key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (b *StoreBackend) NewIterator() Iterator {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &storeIterator{b: b, keys: b.index.Keys()}
}

func (b *StoreBackend) CalculateSizeOfAllEntries() (int64, error) {
	if !b.opts.EnumerateSize {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed {
			return 0, ErrClosed
		}
		return b.total, nil
	}

	var n int64
	it := b.NewIterator()
	for {
		e, err := it.OpenNextEntry()
		if errors.Is(err, ErrIteratorExhausted) {
			return n, nil
		}
		if err != nil {
			return 0, err
		}
		n += e.GetDataSize(IndexHeaders) + e.GetDataSize(IndexResponseBody)
		e.Close()
	}
}

// Len returns the number of entries.
func (b *StoreBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Len()
}

func (b *StoreBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.store.Close()
}

func (b *StoreBackend) dropLocked(key string, item indexItem) {
	b.index.Del(key)
	b.total -= item.size
}

// commit persists e if it is still the live record of its key.
func (b *StoreBackend) commit(e *storeEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	item, ok := b.index.Peek(e.key)
	if !ok || item.seq != e.seq {
		return nil
	}
	r := &Record{Key: e.key, Seq: e.seq, Streams: e.streams}
	if err := b.store.Save(r); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	size := r.Size()
	b.total += size - item.size
	b.index.Update(e.key, indexItem{seq: e.seq, size: size})
	e.share()
	if b.total > b.opts.MaxBytes {
		b.evictLocked(e.key)
	}
	return nil
}

// doom removes e's record if it is still the live record of its key.
func (b *StoreBackend) doom(e *storeEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	item, ok := b.index.Peek(e.key)
	if !ok || item.seq != e.seq {
		return
	}
	b.dropLocked(e.key, item)
	if err := b.store.Remove(e.key); err != nil && !errors.Is(err, ErrNotFound) {
		b.opts.Logger.Warn("failed to remove doomed record", zap.String("key", e.key), zap.Error(err))
	}
}

// evictLocked removes the oldest records, except keep, until the total fits.
func (b *StoreBackend) evictLocked(keep string) {
	type victim struct {
		key  string
		item indexItem
	}
	var victims []victim
	total := b.total
	b.index.Range(func(key string, item indexItem) bool {
		if total <= b.opts.MaxBytes {
			return false
		}
		if key == keep {
			return true
		}
		victims = append(victims, victim{key: key, item: item})
		total -= item.size
		return true
	})
	for _, v := range victims {
		b.dropLocked(v.key, v.item)
		if err := b.store.Remove(v.key); err != nil && !errors.Is(err, ErrNotFound) {
			b.opts.Logger.Warn("failed to remove evicted record", zap.String("key", v.key), zap.Error(err))
		}
	}
	if len(victims) > 0 {
		b.opts.Logger.Debug("evicted records", zap.Int("num", len(victims)), zap.Int64("total", b.total))
	}
}

type storeEntry struct {
	*StreamEntry
	b   *StoreBackend
	seq uint64
}

func (e *storeEntry) Doom() {
	if e.doomed {
		return
	}
	e.StreamEntry.Doom()
	e.b.doom(e)
}

func (e *storeEntry) Close() error {
	if e.doomed || !e.dirty {
		return nil
	}
	e.dirty = false
	return e.b.commit(e)
}

type storeIterator struct {
	b    *StoreBackend
	keys []string
	pos  int
}

func (it *storeIterator) OpenNextEntry() (Entry, error) {
	for it.pos < len(it.keys) {
		key := it.keys[it.pos]
		it.pos++
		e, err := it.b.OpenEntry(key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, ErrIteratorExhausted
}
