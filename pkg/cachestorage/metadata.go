package cachestorage

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Metadata is the content of the headers stream of an entry.
//
// It is encoded as a uvarint length followed by a protobuf message:
//
//	CacheMetadata  { 1: CacheRequest request; 2: CacheResponse response }
//	CacheRequest   { 1: string method; 2: repeated CacheHeaderMap headers }
//	CacheHeaderMap { 1: string name; 2: string value }
//	CacheResponse  { 1: int32 status_code; 2: string status_text;
//	                 3: enum response_type; 4: repeated CacheHeaderMap headers;
//	                 5: string url; 6: int64 response_time (unix micro);
//	                 7: repeated string cors_exposed_header_names }
type Metadata struct {
	Request  MetadataRequest
	Response MetadataResponse
}

type MetadataRequest struct {
	Method  string
	Headers HeaderMap
}

type MetadataResponse struct {
	StatusCode             int32
	StatusText             string
	Type                   ResponseType
	Headers                HeaderMap
	URL                    string
	ResponseTime           time.Time
	CORSExposedHeaderNames []string
}

var (
	errMetadataNUL       = errors.New("header contains NUL")
	errMetadataTruncated = errors.New("truncated metadata")
)

func newMetadata(req *Request, resp *Response) *Metadata {
	return &Metadata{
		Request: MetadataRequest{Method: req.Method, Headers: req.Headers},
		Response: MetadataResponse{
			StatusCode:             resp.StatusCode,
			StatusText:             resp.StatusText,
			Type:                   resp.Type,
			Headers:                resp.Headers,
			URL:                    resp.URL,
			ResponseTime:           resp.ResponseTime,
			CORSExposedHeaderNames: resp.CORSExposedHeaderNames,
		},
	}
}

// request rebuilds the request stored under url.
func (m *Metadata) request(url string) Request {
	return Request{URL: url, Method: m.Request.Method, Headers: m.Request.Headers}
}

func (m *Metadata) response() *Response {
	return &Response{
		URL:                    m.Response.URL,
		StatusCode:             m.Response.StatusCode,
		StatusText:             m.Response.StatusText,
		Type:                   m.Response.Type,
		Headers:                m.Response.Headers,
		ResponseTime:           m.Response.ResponseTime,
		CORSExposedHeaderNames: m.Response.CORSExposedHeaderNames,
	}
}

// MarshalMetadata encodes m. Headers are written sorted by name.
func MarshalMetadata(m *Metadata) ([]byte, error) {
	req, err := appendRequest(nil, &m.Request)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	resp, err := appendResponse(nil, &m.Response)
	if err != nil {
		return nil, fmt.Errorf("response: %w", err)
	}

	var msg []byte
	msg = protowire.AppendTag(msg, 1, protowire.BytesType)
	msg = protowire.AppendBytes(msg, req)
	msg = protowire.AppendTag(msg, 2, protowire.BytesType)
	msg = protowire.AppendBytes(msg, resp)

	b := make([]byte, 0, protowire.SizeVarint(uint64(len(msg)))+len(msg))
	b = protowire.AppendVarint(b, uint64(len(msg)))
	return append(b, msg...), nil
}

func appendRequest(b []byte, r *MetadataRequest) ([]byte, error) {
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, r.Method)
	return appendHeaders(b, 2, r.Headers)
}

func appendResponse(b []byte, r *MetadataResponse) ([]byte, error) {
	if !r.Type.Valid() {
		return nil, fmt.Errorf("invalid response type %d", int32(r.Type))
	}
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(r.StatusCode)))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, r.StatusText)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Type))
	b, err := appendHeaders(b, 4, r.Headers)
	if err != nil {
		return nil, err
	}
	if len(r.URL) > 0 {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, r.URL)
	}
	if !r.ResponseTime.IsZero() {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.ResponseTime.UnixMicro()))
	}
	for _, n := range r.CORSExposedHeaderNames {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendString(b, n)
	}
	return b, nil
}

func appendHeaders(b []byte, num protowire.Number, h HeaderMap) ([]byte, error) {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	slices.Sort(names)
	for _, k := range names {
		v := h[k]
		if strings.IndexByte(k, 0) >= 0 || strings.IndexByte(v, 0) >= 0 {
			return nil, fmt.Errorf("%w: %q", errMetadataNUL, k)
		}
		var hb []byte
		hb = protowire.AppendTag(hb, 1, protowire.BytesType)
		hb = protowire.AppendString(hb, k)
		hb = protowire.AppendTag(hb, 2, protowire.BytesType)
		hb = protowire.AppendString(hb, v)
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, hb)
	}
	return b, nil
}

// UnmarshalMetadata decodes b. Unknown fields are skipped. A message without
// a request or a response is an error.
func UnmarshalMetadata(b []byte) (*Metadata, error) {
	l, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return nil, fmt.Errorf("bad length prefix: %w", protowire.ParseError(n))
	}
	b = b[n:]
	if l != uint64(len(b)) {
		return nil, fmt.Errorf("%w: length prefix %d, got %d bytes", errMetadataTruncated, l, len(b))
	}

	m := new(Metadata)
	var hasReq, hasResp bool
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			sub, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			hasReq = true
			return n, consumeRequest(sub, &m.Request)
		case num == 2 && typ == protowire.BytesType:
			sub, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			hasResp = true
			return n, consumeResponse(sub, &m.Response)
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	if !hasReq || !hasResp {
		return nil, errors.New("missing request or response")
	}
	return m, nil
}

func consumeRequest(b []byte, r *MetadataRequest) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			r.Method = s
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			return consumeHeader(v, &r.Headers)
		}
		return -1, nil
	})
}

func consumeResponse(b []byte, r *MetadataResponse) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			r.StatusCode = int32(x)
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			r.StatusText = s
			return n, nil
		case num == 3 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			t := ResponseType(int32(x))
			if !t.Valid() {
				return 0, fmt.Errorf("invalid response type %d", x)
			}
			r.Type = t
			return n, nil
		case num == 4 && typ == protowire.BytesType:
			return consumeHeader(v, &r.Headers)
		case num == 5 && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			r.URL = s
			return n, nil
		case num == 6 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			r.ResponseTime = time.UnixMicro(int64(x))
			return n, nil
		case num == 7 && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			r.CORSExposedHeaderNames = append(r.CORSExposedHeaderNames, s)
			return n, nil
		}
		return -1, nil
	})
}

func consumeHeader(v []byte, h *HeaderMap) (int, error) {
	sub, n := protowire.ConsumeBytes(v)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	var name, value string
	err := consumeFields(sub, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.BytesType || (num != 1 && num != 2) {
			return -1, nil
		}
		s, n := protowire.ConsumeString(v)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		if num == 1 {
			name = s
		} else {
			value = s
		}
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	if *h == nil {
		*h = make(HeaderMap)
	}
	(*h)[name] = value
	return n, nil
}

// consumeFields calls f for every field in b. f returns the length of the
// value it consumed, or -1 to skip an unknown field.
func consumeFields(b []byte, f func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		vn, err := f(num, typ, b)
		if err != nil {
			return err
		}
		if vn < 0 {
			vn = protowire.ConsumeFieldValue(num, typ, b)
			if vn < 0 {
				return protowire.ParseError(vn)
			}
		}
		b = b[vn:]
	}
	return nil
}
