package cachestorage

import (
	"fmt"
	"strings"
	"time"

	"github.com/pmkol/cachestorage/pkg/blob"
)

// HeaderMap holds header fields with names as given. Get is case-insensitive.
type HeaderMap map[string]string

// Get returns the value of name, matched case-insensitively.
func (h HeaderMap) Get(name string) (string, bool) {
	if v, ok := h[name]; ok {
		return v, true
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func (h HeaderMap) Clone() HeaderMap {
	if h == nil {
		return nil
	}
	c := make(HeaderMap, len(h))
	for k, v := range h {
		c[k] = v
	}
	return c
}

// Request is a cache key. The backend key is URL.
type Request struct {
	URL      string    `json:"url" yaml:"url"`
	Method   string    `json:"method" yaml:"method"`
	Headers  HeaderMap `json:"headers,omitempty" yaml:"headers,omitempty"`
	Referrer string    `json:"referrer,omitempty" yaml:"referrer,omitempty"`
	IsReload bool      `json:"is_reload,omitempty" yaml:"is_reload,omitempty"`
}

type ResponseType int32

const (
	ResponseTypeBasic ResponseType = iota
	ResponseTypeCORS
	ResponseTypeDefault
	ResponseTypeError
	ResponseTypeOpaque
)

var responseTypeNames = [...]string{"basic", "cors", "default", "error", "opaque"}

func (t ResponseType) Valid() bool {
	return t >= ResponseTypeBasic && t <= ResponseTypeOpaque
}

func (t ResponseType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("ResponseType(%d)", int32(t))
	}
	return responseTypeNames[t]
}

func (t ResponseType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid response type %d", int32(t))
	}
	return []byte(responseTypeNames[t]), nil
}

func (t *ResponseType) UnmarshalText(b []byte) error {
	for i, n := range responseTypeNames {
		if n == string(b) {
			*t = ResponseType(i)
			return nil
		}
	}
	return fmt.Errorf("invalid response type %q", b)
}

// Response is a stored response. A nil Body is an empty body.
type Response struct {
	URL                    string       `json:"url,omitempty"`
	StatusCode             int32        `json:"status_code"`
	StatusText             string       `json:"status_text,omitempty"`
	Type                   ResponseType `json:"type"`
	Headers                HeaderMap    `json:"headers,omitempty"`
	ResponseTime           time.Time    `json:"response_time,omitzero"`
	CORSExposedHeaderNames []string     `json:"cors_exposed_header_names,omitempty"`

	// BlobUUID references a body registered in the blob context. Put reads
	// the body from there. Empty means no body.
	BlobUUID string `json:"blob_uuid,omitempty"`
	BlobSize int64  `json:"blob_size,omitempty"`

	// Body is set by Match when the stored body is not empty.
	Body *blob.Handle `json:"-"`
}

type QueryParams struct {
	// IgnoreSearch ignores the query string of URLs.
	IgnoreSearch bool `json:"ignore_search,omitempty"`
	// IgnoreMethod matches stored requests of any method.
	IgnoreMethod bool `json:"ignore_method,omitempty"`
	// IgnoreVary skips Vary negotiation.
	IgnoreVary bool `json:"ignore_vary,omitempty"`
}

type OperationType int

const (
	OperationTypeUndefined OperationType = iota
	OperationTypePut
	OperationTypeDelete
)

func (t OperationType) String() string {
	switch t {
	case OperationTypePut:
		return "put"
	case OperationTypeDelete:
		return "delete"
	default:
		return "undefined"
	}
}

func (t OperationType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *OperationType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "put":
		*t = OperationTypePut
	case "delete":
		*t = OperationTypeDelete
	default:
		*t = OperationTypeUndefined
	}
	return nil
}

type BatchOperation struct {
	Type     OperationType `json:"type"`
	Request  Request       `json:"request"`
	Response *Response     `json:"response,omitempty"`
	Params   QueryParams   `json:"params,omitempty"`
}

// stripSearch removes the query string and fragment of u.
func stripSearch(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}
