package cachestorage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_varyMatches(t *testing.T) {
	tests := []struct {
		name      string
		req       HeaderMap
		cachedReq HeaderMap
		resp      HeaderMap
		want      bool
	}{
		{"no vary", HeaderMap{"Accept": "a"}, HeaderMap{"Accept": "b"}, HeaderMap{}, true},
		{"equal", HeaderMap{"Accept": "a"}, HeaderMap{"Accept": "a"}, HeaderMap{"Vary": "Accept"}, true},
		{"differ", HeaderMap{"Accept": "a"}, HeaderMap{"Accept": "b"}, HeaderMap{"Vary": "Accept"}, false},
		{"absent in both", HeaderMap{}, nil, HeaderMap{"Vary": "Accept"}, true},
		{"absent in one", HeaderMap{"Accept": "a"}, HeaderMap{}, HeaderMap{"Vary": "Accept"}, false},
		{"star", HeaderMap{}, HeaderMap{}, HeaderMap{"Vary": "*"}, false},
		{"star in list", HeaderMap{}, HeaderMap{}, HeaderMap{"Vary": "Accept, *"}, false},
		{"case insensitive names", HeaderMap{"accept": "a"}, HeaderMap{"ACCEPT": "a"}, HeaderMap{"vary": " Accept ,"}, true},
		{"values are case sensitive", HeaderMap{"Accept": "A"}, HeaderMap{"Accept": "a"}, HeaderMap{"Vary": "Accept"}, false},
		{"multiple", HeaderMap{"A": "1", "B": "2"}, HeaderMap{"A": "1", "B": "3"}, HeaderMap{"Vary": "A,B"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, varyMatches(tt.req, tt.cachedReq, tt.resp))
		})
	}
}

func TestHeaderMap_Get(t *testing.T) {
	h := HeaderMap{"Content-Type": "text/plain"}
	v, ok := h.Get("content-type")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", v)
	_, ok = h.Get("x")
	assert.False(t, ok)

	var nilMap HeaderMap
	_, ok = nilMap.Get("x")
	assert.False(t, ok)
}

func Test_stripSearch(t *testing.T) {
	assert.Equal(t, "http://x/a", stripSearch("http://x/a?b=1"))
	assert.Equal(t, "http://x/a", stripSearch("http://x/a#f"))
	assert.Equal(t, "http://x/a", stripSearch("http://x/a"))
}
