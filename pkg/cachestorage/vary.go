package cachestorage

import "strings"

// varyMatches reports whether req may be served a response stored for
// cachedReq. Every field listed in the Vary header of respHeaders must be
// absent from both requests or present in both with equal values.
// A "*" never matches.
func varyMatches(req, cachedReq, respHeaders HeaderMap) bool {
	vary, ok := respHeaders.Get("Vary")
	if !ok {
		return true
	}
	for _, field := range strings.Split(vary, ",") {
		field = strings.TrimSpace(field)
		if len(field) == 0 {
			continue
		}
		if field == "*" {
			return false
		}
		v1, ok1 := req.Get(field)
		v2, ok2 := cachedReq.Get(field)
		if ok1 != ok2 || v1 != v2 {
			return false
		}
	}
	return true
}
