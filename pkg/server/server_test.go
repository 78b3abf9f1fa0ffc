package server

import (
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/cachestorage/pkg/blob"
	"github.com/pmkol/cachestorage/pkg/cache"
	"github.com/pmkol/cachestorage/pkg/cache/mem_cache"
	"github.com/pmkol/cachestorage/pkg/cachestorage"
	H "github.com/pmkol/cachestorage/pkg/server/http_handler"
)

func newTestServer(t *testing.T, proxyProtocol bool) *Server {
	t.Helper()
	blobs := blob.NewContext(0)
	s, err := cachestorage.NewStorage(cachestorage.StorageOpts{
		Origin:      "https://example.com",
		NewBackend:  func(string) (cache.Backend, error) { return mem_cache.NewBackend(cache.StoreOpts{}) },
		BlobContext: blobs,
	})
	require.NoError(t, err)
	h, err := H.NewHandler(H.HandlerOpts{Storage: s, BlobContext: blobs})
	require.NoError(t, err)
	return NewServer(ServerOpts{HttpHandler: h, ProxyProtocol: proxyProtocol})
}

func serve(t *testing.T, s *Server) (string, chan error) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	errC := make(chan error, 1)
	go func() { errC <- s.ServeHTTP(l) }()
	return l.Addr().String(), errC
}

func TestServer_ServeHTTP(t *testing.T) {
	s := newTestServer(t, false)
	addr, errC := serve(t, s)

	var resp *http.Response
	require.Eventually(t, func() bool {
		var err error
		resp, err = http.Get("http://" + addr + "/health")
		return err == nil
	}, time.Second*5, time.Millisecond*20)
	b, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, "OK", string(b))

	s.Close()
	require.True(t, s.Closed())
	select {
	case err := <-errC:
		require.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(time.Second * 5):
		t.Fatal("server did not exit")
	}
}

func TestServer_ProxyProtocol(t *testing.T) {
	s := newTestServer(t, true)
	addr, _ := serve(t, s)
	defer s.Close()

	var c net.Conn
	require.Eventually(t, func() bool {
		var err error
		c, err = net.Dial("tcp", addr)
		return err == nil
	}, time.Second*5, time.Millisecond*20)
	defer c.Close()

	hdr := proxyproto.HeaderProxyFromAddrs(1,
		&net.TCPAddr{IP: net.ParseIP("10.1.1.1"), Port: 1000},
		&net.TCPAddr{IP: net.ParseIP("10.2.2.2"), Port: 80},
	)
	_, err := hdr.WriteTo(c)
	require.NoError(t, err)
	_, err = c.Write([]byte("GET /health HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)
	b, err := io.ReadAll(c)
	require.NoError(t, err)
	require.Contains(t, string(b), "200 OK")
}

func TestServer_Closed(t *testing.T) {
	s := newTestServer(t, false)
	s.Close()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.ErrorIs(t, s.ServeHTTP(l), ErrServerClosed)

	require.ErrorIs(t, NewServer(ServerOpts{}).ServeHTTP(l), errMissingHTTPHandler)
}
