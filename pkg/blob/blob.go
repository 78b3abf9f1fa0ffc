// Package blob is an in-process store of immutable response bodies.
//
// A body is built with a Builder, registered with Context.AddFinishedBlob and
// from then on referred to by its UUID. A Handle stays readable after the
// Context forgot its UUID.
package blob

import (
	"bytes"
	"hash/maphash"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/pmkol/cachestorage/pkg/lru"
)

const (
	shardNum        = 16
	defaultMaxBlobs = 4096
)

// Handle is a finished, immutable body.
type Handle struct {
	uuid string
	data []byte
}

func (h *Handle) UUID() string {
	return h.uuid
}

func (h *Handle) Size() int64 {
	return int64(len(h.data))
}

// NewReader returns an independent reader over the body.
func (h *Handle) NewReader() io.Reader {
	return bytes.NewReader(h.data)
}

// Bytes returns the body. The caller must not modify it.
func (h *Handle) Bytes() []byte {
	return h.data
}

// Builder accumulates a body before it is registered.
type Builder struct {
	uuid string
	buf  bytes.Buffer
}

// NewBuilder returns a Builder for a body identified by id.
// An empty id gets a fresh UUID.
func NewBuilder(id string) *Builder {
	if len(id) == 0 {
		id = NewUUID()
	}
	return &Builder{uuid: id}
}

func (b *Builder) UUID() string {
	return b.uuid
}

func (b *Builder) AppendData(p []byte) {
	b.buf.Write(p)
}

func (b *Builder) Len() int {
	return b.buf.Len()
}

// Context maps UUIDs to finished bodies. It keeps at most maxBlobs bodies and
// forgets the least recently used ones first. UUIDs are spread over
// independently locked shards.
type Context struct {
	seed   maphash.Seed
	shards [shardNum]shard
}

type shard struct {
	mu sync.Mutex
	l  *lru.LRU[string, *Handle]
}

func NewContext(maxBlobs int) *Context {
	if maxBlobs <= 0 {
		maxBlobs = defaultMaxBlobs
	}
	perShard := max(maxBlobs/shardNum, 1)
	c := &Context{seed: maphash.MakeSeed()}
	for i := range c.shards {
		c.shards[i].l = lru.NewLRU[string, *Handle](perShard, nil)
	}
	return c
}

func (c *Context) shard(id string) *shard {
	return &c.shards[maphash.String(c.seed, id)%shardNum]
}

// AddFinishedBlob registers the content of b. b must not be used afterwards.
func (c *Context) AddFinishedBlob(b *Builder) *Handle {
	h := &Handle{uuid: b.uuid, data: b.buf.Bytes()}
	s := c.shard(h.uuid)
	s.mu.Lock()
	s.l.Add(h.uuid, h)
	s.mu.Unlock()
	return h
}

// RegisterBytes registers a copy of p under a fresh UUID.
func (c *Context) RegisterBytes(p []byte) *Handle {
	b := NewBuilder("")
	b.AppendData(p)
	return c.AddFinishedBlob(b)
}

func (c *Context) GetBlobDataFromUUID(id string) (*Handle, bool) {
	s := c.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.Get(id)
}

// Release forgets id. Handles already returned stay valid.
func (c *Context) Release(id string) bool {
	s := c.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.l.Del(id)
	return ok
}

func (c *Context) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += s.l.Len()
		s.mu.Unlock()
	}
	return n
}

// NewUUID returns a random UUID string.
func NewUUID() string {
	return uuid.NewString()
}
