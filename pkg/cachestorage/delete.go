package cachestorage

import (
	"github.com/pmkol/cachestorage/pkg/cache"
)

// deleteImpl dooms the entries matching req. Vary is not negotiated.
func (c *Cache) deleteImpl(req *Request, params QueryParams) error {
	params.IgnoreVary = true
	results, err := c.queryCache(req, params, queryOpts{mode: queryEntries})
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return ErrNotFound
	}
	for _, r := range results {
		e := r.entry
		size := e.GetDataSize(cache.IndexHeaders) + e.GetDataSize(cache.IndexResponseBody)
		c.notifySize(-size)
		e.Doom()
		e.Close()
	}
	return nil
}
