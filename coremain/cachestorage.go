package coremain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pmkol/cachestorage/mlog"
	"github.com/pmkol/cachestorage/pkg/blob"
	"github.com/pmkol/cachestorage/pkg/cachestorage"
	"github.com/pmkol/cachestorage/pkg/quota"
	"github.com/pmkol/cachestorage/pkg/safe_close"
	"github.com/pmkol/cachestorage/pkg/server"
	H "github.com/pmkol/cachestorage/pkg/server/http_handler"
)

const shutdownTimeout = time.Second * 30

type CacheStorage struct {
	logger *zap.Logger

	storage      *cachestorage.Storage
	blobs        *blob.Context
	closeClients func() error

	httpAPIMux *http.ServeMux
	metricsReg *prometheus.Registry

	sc *safe_close.SafeClose
}

// NewCacheStorage builds everything cfg describes and opens cfg.Caches.
// Nothing is served yet.
func NewCacheStorage(ctx context.Context, cfg *Config, lg *zap.Logger) (*CacheStorage, error) {
	if lg == nil {
		lg = mlog.Nop()
	}
	cfg.setDefaults()
	m := &CacheStorage{
		logger:     lg,
		blobs:      blob.NewContext(cfg.Storage.MaxBlobs),
		httpAPIMux: http.NewServeMux(),
		metricsReg: newMetricsReg(),
		sc:         safe_close.NewSafeClose(),
	}

	q, err := quota.NewManager(quota.ManagerOpts{
		Quota:      cfg.Storage.Quota,
		Registerer: m.GetMetricsReg(),
		Logger:     lg.Named("quota"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init quota manager, %w", err)
	}
	metrics, err := cachestorage.NewMetrics(m.GetMetricsReg())
	if err != nil {
		return nil, fmt.Errorf("failed to init metrics, %w", err)
	}
	factory, closeClients, err := newBackendFactory(ctx, &cfg.Storage, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to init backend, %w", err)
	}
	m.closeClients = closeClients

	m.storage, err = cachestorage.NewStorage(cachestorage.StorageOpts{
		Origin:      cfg.Storage.Origin,
		NewBackend:  factory,
		BlobContext: m.blobs,
		Quota:       q,
		Metrics:     metrics,
		Logger:      lg.Named("storage"),
	})
	if err != nil {
		closeClients()
		return nil, err
	}

	for _, name := range cfg.Caches {
		m.logger.Info("opening cache", zap.String("cache", name))
		if _, err := m.storage.Open(ctx, name); err != nil {
			m.close()
			return nil, fmt.Errorf("failed to open cache %s, %w", name, err)
		}
	}

	m.httpAPIMux.Handle("/metrics", promhttp.HandlerFor(m.metricsReg, promhttp.HandlerOpts{}))
	m.httpAPIMux.HandleFunc("/debug/pprof/", pprof.Index)
	m.httpAPIMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	m.httpAPIMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	m.httpAPIMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	m.httpAPIMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return m, nil
}

// RunCacheStorage serves the cache API until sc receives a close signal and
// then closes every cache. sc may be nil.
func RunCacheStorage(cfg *Config, sc *safe_close.SafeClose) error {
	lg, err := mlog.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	m, err := NewCacheStorage(context.Background(), cfg, lg)
	if err != nil {
		return err
	}
	if sc != nil {
		m.sc = sc
	}

	if len(cfg.API.HTTP) == 0 {
		m.close()
		return errors.New("no api address is configured")
	}
	if err := m.startAPIServer(&cfg.API); err != nil {
		m.close()
		return fmt.Errorf("failed to start api server, %w", err)
	}

	<-m.sc.ReceiveCloseSignal()
	m.sc.Done()
	if err := m.sc.CloseWaitTimeout(shutdownTimeout); err != nil {
		m.logger.Warn("api server did not exit in time", zap.Error(err))
	}
	m.close()
	return m.sc.Err()
}

func (m *CacheStorage) startAPIServer(ac *APIConfig) error {
	h, err := H.NewHandler(H.HandlerOpts{
		Storage:     m.storage,
		BlobContext: m.blobs,
		Logger:      m.logger.Named("api"),
	})
	if err != nil {
		return err
	}
	m.httpAPIMux.Handle("/", h)

	s := server.NewServer(server.ServerOpts{
		Logger:        m.logger.Named("server"),
		HttpHandler:   m.httpAPIMux,
		ProxyProtocol: ac.ProxyProtocol,
		IdleTimeout:   time.Duration(ac.IdleTimeout) * time.Second,
	})
	l, err := net.Listen("tcp", ac.HTTP)
	if err != nil {
		return err
	}

	m.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		errChan := make(chan error, 1)
		go func() {
			m.logger.Info("starting api http server", zap.String("addr", ac.HTTP))
			errChan <- s.ServeHTTP(l)
		}()
		select {
		case err := <-errChan:
			m.sc.SendCloseSignal(err)
		case <-closeSignal:
			s.Close()
		}
	})
	return nil
}

func (m *CacheStorage) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := m.storage.Close(ctx); err != nil {
		m.logger.Warn("failed to close caches", zap.Error(err))
	}
	if err := m.closeClients(); err != nil {
		m.logger.Warn("failed to close backend clients", zap.Error(err))
	}
}

func (m *CacheStorage) GetStorage() *cachestorage.Storage {
	return m.storage
}

func (m *CacheStorage) GetSafeClose() *safe_close.SafeClose {
	return m.sc
}

func (m *CacheStorage) GetMetricsReg() prometheus.Registerer {
	return prometheus.WrapRegistererWithPrefix("cachestorage_", m.metricsReg)
}

func (m *CacheStorage) GetHTTPAPIMux() *http.ServeMux {
	return m.httpAPIMux
}

func newMetricsReg() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}
