package http_handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pmkol/cachestorage/pkg/blob"
	"github.com/pmkol/cachestorage/pkg/cachestorage"
)

var nopLogger = zap.NewNop()

const (
	defaultMaxBodyBytes = 64 << 20

	headerResponseType = "X-Cache-Response-Type"
	headerResponseURL  = "X-Cache-Response-Url"
	headerResponseTime = "X-Cache-Response-Time"
	headerStatusText   = "X-Cache-Status-Text"
)

type HandlerOpts struct {
	// Storage holds the caches. Cannot be nil.
	Storage *cachestorage.Storage

	// BlobContext must be the one of Storage. Cannot be nil.
	BlobContext *blob.Context

	HealthPath string

	// MaxBodyBytes limits request bodies. Default is 64 MiB.
	MaxBodyBytes int64

	Logger *zap.Logger
}

func (opts *HandlerOpts) Init() error {
	if opts.Storage == nil {
		return errors.New("nil storage")
	}
	if opts.BlobContext == nil {
		return errors.New("nil blob context")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.HealthPath == "" {
		opts.HealthPath = "/health"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	return nil
}

// Handler serves the cache API.
type Handler struct {
	opts HandlerOpts
	mux  *http.ServeMux
}

func NewHandler(opts HandlerOpts) (*Handler, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	h := &Handler{opts: opts, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET "+opts.HealthPath, h.health)
	h.mux.HandleFunc("GET /caches", h.names)
	h.mux.HandleFunc("POST /caches/{name}/match", h.match)
	h.mux.HandleFunc("POST /caches/{name}/match_all", h.matchAll)
	h.mux.HandleFunc("POST /caches/{name}/keys", h.keys)
	h.mux.HandleFunc("POST /caches/{name}/batch", h.batch)
	h.mux.HandleFunc("GET /caches/{name}/size", h.size)
	h.mux.HandleFunc("GET /caches/{name}/stats", h.stats)
	h.mux.HandleFunc("DELETE /caches/{name}", h.drop)
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) warnErr(r *http.Request, err error) {
	h.opts.Logger.Warn(err.Error(), zap.String("from", r.RemoteAddr), zap.String("method", r.Method), zap.String("url", r.RequestURI))
}

// QueryRequest is the body of match, match_all and keys. A missing request
// matches every entry in match_all and keys.
type QueryRequest struct {
	Request *cachestorage.Request    `json:"request,omitempty"`
	Params  cachestorage.QueryParams `json:"params,omitempty"`
}

// WireResponse is a response with its body inlined.
type WireResponse struct {
	cachestorage.Response
	Body []byte `json:"body,omitempty"`
}

// WireBatchOperation is one element of the body of batch.
type WireBatchOperation struct {
	Type     cachestorage.OperationType `json:"type"`
	Request  cachestorage.Request       `json:"request"`
	Response *WireResponse              `json:"response,omitempty"`
	Params   cachestorage.QueryParams   `json:"params,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) names(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.opts.Storage.Names())
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) (*cachestorage.Cache, bool) {
	name := r.PathValue("name")
	c, err := h.opts.Storage.Open(r.Context(), name)
	if err != nil {
		h.warnErr(r, fmt.Errorf("open cache %q: %w", name, err))
		status := http.StatusInternalServerError
		if errors.Is(err, cachestorage.ErrStorageClosed) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, errorBody{Error: cachestorage.CodeStorage.String()})
		return nil, false
	}
	return c, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	d := json.NewDecoder(body)
	d.DisallowUnknownFields()
	if err := d.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		status := http.StatusBadRequest
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorBody{Error: fmt.Sprintf("invalid body: %v", err)})
		return false
	}
	return true
}

// match writes the stored response as is. Metadata without an HTTP
// equivalent goes to X-Cache-* headers.
func (h *Handler) match(w http.ResponseWriter, r *http.Request) {
	c, ok := h.open(w, r)
	if !ok {
		return
	}
	var q QueryRequest
	if !h.decode(w, r, &q) {
		return
	}
	if q.Request == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing request"})
		return
	}
	resp, err := c.MatchSync(r.Context(), q.Request, q.Params)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	body := h.takeBody(resp)

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set(headerResponseType, resp.Type.String())
	if len(resp.URL) > 0 {
		w.Header().Set(headerResponseURL, resp.URL)
	}
	if !resp.ResponseTime.IsZero() {
		w.Header().Set(headerResponseTime, resp.ResponseTime.UTC().Format(time.RFC3339Nano))
	}
	if len(resp.StatusText) > 0 {
		w.Header().Set(headerStatusText, resp.StatusText)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	status := int(resp.StatusCode)
	if status < 100 || status > 999 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *Handler) matchAll(w http.ResponseWriter, r *http.Request) {
	c, ok := h.open(w, r)
	if !ok {
		return
	}
	var q QueryRequest
	if !h.decode(w, r, &q) {
		return
	}
	resps, err := c.MatchAllSync(r.Context(), q.Request, q.Params)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	out := make([]WireResponse, 0, len(resps))
	for _, resp := range resps {
		body := h.takeBody(resp)
		out = append(out, WireResponse{Response: *resp, Body: body})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) keys(w http.ResponseWriter, r *http.Request) {
	c, ok := h.open(w, r)
	if !ok {
		return
	}
	var q QueryRequest
	if !h.decode(w, r, &q) {
		return
	}
	keys, err := c.KeysSync(r.Context(), q.Request, q.Params)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *Handler) batch(w http.ResponseWriter, r *http.Request) {
	c, ok := h.open(w, r)
	if !ok {
		return
	}
	var wireOps []WireBatchOperation
	if !h.decode(w, r, &wireOps) {
		return
	}

	ops := make([]cachestorage.BatchOperation, 0, len(wireOps))
	for _, wop := range wireOps {
		op := cachestorage.BatchOperation{Type: wop.Type, Request: wop.Request, Params: wop.Params}
		if wop.Response != nil {
			resp := wop.Response.Response
			resp.BlobUUID, resp.BlobSize, resp.Body = "", 0, nil
			if len(wop.Response.Body) > 0 {
				b := h.opts.BlobContext.RegisterBytes(wop.Response.Body)
				defer h.opts.BlobContext.Release(b.UUID())
				resp.BlobUUID = b.UUID()
				resp.BlobSize = b.Size()
			}
			op.Response = &resp
		}
		ops = append(ops, op)
	}

	if err := c.BatchSync(r.Context(), ops); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) size(w http.ResponseWriter, r *http.Request) {
	c, ok := h.open(w, r)
	if !ok {
		return
	}
	n, err := c.SizeSync(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"size": n})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	c, ok := h.opts.Storage.Get(r.PathValue("name"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: cachestorage.CodeNotFound.String()})
		return
	}
	writeJSON(w, http.StatusOK, c.LatencyStats())
}

func (h *Handler) drop(w http.ResponseWriter, r *http.Request) {
	if err := h.opts.Storage.Drop(r.Context(), r.PathValue("name")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// takeBody returns the body of resp and releases its blob.
func (h *Handler) takeBody(resp *cachestorage.Response) []byte {
	if resp.Body == nil {
		return nil
	}
	h.opts.BlobContext.Release(resp.BlobUUID)
	b := resp.Body.Bytes()
	resp.Body, resp.BlobUUID, resp.BlobSize = nil, "", 0
	return b
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	code := cachestorage.ErrorCode(err)
	var status int
	switch code {
	case cachestorage.CodeNotFound:
		status = http.StatusNotFound
	case cachestorage.CodeExists:
		status = http.StatusConflict
	case cachestorage.CodeQuotaExceeded:
		status = http.StatusInsufficientStorage
	default:
		status = http.StatusInternalServerError
		h.warnErr(r, err)
	}
	writeJSON(w, status, errorBody{Error: code.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
