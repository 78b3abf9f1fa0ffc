package cachestorage

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/pmkol/cachestorage/pkg/blob"
	"github.com/pmkol/cachestorage/pkg/cache"
	"github.com/pmkol/cachestorage/pkg/pool"
)

// putImpl replaces the entry of req with resp. Any failure after the entry
// was created dooms it, so an entry is either complete or absent.
func (c *Cache) putImpl(req *Request, resp *Response) error {
	if c.getState() != backendOpen {
		return storageErr(errors.New("backend is not open"))
	}
	if resp == nil {
		return storageErr(errors.New("nil response"))
	}

	var body *blob.Handle
	if len(resp.BlobUUID) > 0 {
		if c.opts.BlobContext == nil {
			return storageErr(errors.New("no blob context"))
		}
		h, ok := c.opts.BlobContext.GetBlobDataFromUUID(resp.BlobUUID)
		if !ok {
			return storageErr(fmt.Errorf("unknown blob %s", resp.BlobUUID))
		}
		body = h
	}

	if err := c.deleteImpl(req, QueryParams{IgnoreMethod: true}); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	e, err := c.backend.CreateEntry(req.URL)
	if err != nil {
		c.logger.Debug("failed to create entry", zap.String("url", req.URL), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrExists, err)
	}
	if err := c.writeEntry(e, req, resp, body); err != nil {
		e.Doom()
		e.Close()
		return storageErr(err)
	}

	size := e.GetDataSize(cache.IndexHeaders) + e.GetDataSize(cache.IndexResponseBody)
	if err := e.Close(); err != nil {
		e.Doom()
		return storageErr(fmt.Errorf("close entry: %w", err))
	}
	c.notifySize(size)
	return nil
}

func (c *Cache) writeEntry(e cache.Entry, req *Request, resp *Response, body *blob.Handle) error {
	b, err := MarshalMetadata(newMetadata(req, resp))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	n, err := e.WriteData(cache.IndexHeaders, 0, b, true)
	if err != nil || n != len(b) {
		return fmt.Errorf("short write of headers, %d of %d: %v", n, len(b), err)
	}
	if body == nil {
		return nil
	}
	return writeBody(e, body.NewReader())
}

// writeBody copies r into the body stream in BodyChunkSize chunks.
func writeBody(e cache.Entry, r io.Reader) error {
	buf := pool.GetBuf(BodyChunkSize)
	defer buf.Release()

	var offset int64
	truncate := true
	for {
		n, rerr := io.ReadFull(r, buf.Bytes())
		if n > 0 {
			wn, err := e.WriteData(cache.IndexResponseBody, offset, buf.Bytes()[:n], truncate)
			if err != nil || wn != n {
				return fmt.Errorf("short write of body at %d, %d of %d: %v", offset, wn, n, err)
			}
			offset += int64(wn)
			truncate = false
		}
		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("read body source: %w", rerr)
		}
	}
}
