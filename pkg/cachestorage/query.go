package cachestorage

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pmkol/cachestorage/pkg/blob"
	"github.com/pmkol/cachestorage/pkg/cache"
	"github.com/pmkol/cachestorage/pkg/pool"
)

type queryMode int

const (
	// queryResponses decodes matching entries and reads their bodies.
	queryResponses queryMode = iota
	// queryRequests decodes matching entries.
	queryRequests
	// queryEntries keeps matching entries open and does not decode them.
	queryEntries
)

type queryOpts struct {
	mode queryMode

	// strict fails the query on a metadata decode error. Otherwise the
	// entry is doomed and skipped.
	strict bool

	// limit stops the query after this many results. 0 means no limit.
	limit int
}

type queryResult struct {
	request  Request
	response *Response

	// entry is only set in queryEntries mode. The caller must close it.
	entry cache.Entry
}

// queryCache returns the entries matching req. A nil req or an empty URL
// matches every entry.
func (c *Cache) queryCache(req *Request, params QueryParams, qo queryOpts) ([]queryResult, error) {
	if c.getState() != backendOpen {
		return nil, storageErr(errors.New("backend is not open"))
	}

	if req != nil && !params.IgnoreMethod && len(req.Method) > 0 && req.Method != "GET" {
		return nil, nil
	}

	var entries []cache.Entry
	if req != nil && len(req.URL) > 0 && !params.IgnoreSearch {
		e, err := c.backend.OpenEntry(req.URL)
		if err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				return nil, nil
			}
			return nil, storageErr(fmt.Errorf("open entry: %w", err))
		}
		entries = []cache.Entry{e}
	} else {
		var err error
		entries, err = c.openAllEntries()
		if err != nil {
			return nil, err
		}
	}
	defer func() {
		for _, e := range entries {
			if e != nil {
				e.Close()
			}
		}
	}()

	var results []queryResult
	for i, e := range entries {
		if qo.limit > 0 && len(results) >= qo.limit {
			break
		}
		if req != nil && len(req.URL) > 0 {
			want, got := req.URL, e.Key()
			if params.IgnoreSearch {
				want, got = stripSearch(want), stripSearch(got)
			}
			if want != got {
				continue
			}
		}

		if qo.mode == queryEntries {
			results = append(results, queryResult{request: Request{URL: e.Key()}, entry: e})
			entries[i] = nil
			continue
		}

		m, err := readMetadata(e)
		if err != nil {
			if qo.strict {
				return nil, storageErr(fmt.Errorf("entry %q: %w", e.Key(), err))
			}
			c.logger.Warn("dooming entry with bad metadata", zap.String("key", e.Key()), zap.Error(err))
			e.Doom()
			continue
		}
		stored := m.request(e.Key())
		resp := m.response()
		if req != nil && !params.IgnoreVary && !varyMatches(req.Headers, stored.Headers, resp.Headers) {
			continue
		}

		if qo.mode == queryResponses && e.GetDataSize(cache.IndexResponseBody) > 0 {
			if c.opts.BlobContext == nil {
				return nil, storageErr(errors.New("no blob context"))
			}
			h, err := c.readBody(e)
			if err != nil {
				return nil, storageErr(fmt.Errorf("entry %q: %w", e.Key(), err))
			}
			resp.Body = h
			resp.BlobUUID = h.UUID()
			resp.BlobSize = h.Size()
		}
		results = append(results, queryResult{request: stored, response: resp})
	}
	return results, nil
}

// openAllEntries opens every entry of the backend. The iterator is drained
// before any entry is read.
func (c *Cache) openAllEntries() ([]cache.Entry, error) {
	var entries []cache.Entry
	it := c.backend.NewIterator()
	for {
		e, err := it.OpenNextEntry()
		if err != nil {
			if errors.Is(err, cache.ErrIteratorExhausted) {
				return entries, nil
			}
			for _, e := range entries {
				e.Close()
			}
			return nil, storageErr(fmt.Errorf("open next entry: %w", err))
		}
		entries = append(entries, e)
	}
}

func readMetadata(e cache.Entry) (*Metadata, error) {
	size := e.GetDataSize(cache.IndexHeaders)
	buf := pool.GetBuf(int(size))
	defer buf.Release()
	n, err := e.ReadData(cache.IndexHeaders, 0, buf.Bytes())
	if err != nil {
		return nil, err
	}
	if int64(n) != size {
		return nil, fmt.Errorf("short read of headers, %d of %d", n, size)
	}
	return UnmarshalMetadata(buf.Bytes())
}

// readBody copies the body stream into a new blob.
func (c *Cache) readBody(e cache.Entry) (*blob.Handle, error) {
	buf := pool.GetBuf(BodyChunkSize)
	defer buf.Release()

	b := blob.NewBuilder("")
	var offset int64
	for {
		n, err := e.ReadData(cache.IndexResponseBody, offset, buf.Bytes())
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if n == 0 {
			break
		}
		b.AppendData(buf.Bytes()[:n])
		offset += int64(n)
	}
	return c.opts.BlobContext.AddFinishedBlob(b), nil
}
