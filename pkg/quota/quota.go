// Package quota tracks how many bytes each origin stores.
package quota

import (
	"context"
	"math"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ManagerProxy receives size changes and answers quota queries.
type ManagerProxy interface {
	// NotifyStorageModified adds delta (may be negative) to origin's usage.
	NotifyStorageModified(origin string, delta int64)

	// GetUsageAndQuota returns origin's current usage and its quota.
	GetUsageAndQuota(ctx context.Context, origin string) (usage, quota int64, err error)
}

// Nop ignores notifications and reports an unlimited quota.
type Nop struct{}

func (Nop) NotifyStorageModified(string, int64) {}

func (Nop) GetUsageAndQuota(context.Context, string) (int64, int64, error) {
	return 0, math.MaxInt64, nil
}

var nopLogger = zap.NewNop()

type ManagerOpts struct {
	// Quota is the per-origin limit in bytes. Zero means unlimited.
	Quota int64

	// Registerer optionally receives the usage gauge.
	Registerer prometheus.Registerer

	// Logger is optional.
	Logger *zap.Logger
}

// Manager keeps usage in memory.
type Manager struct {
	opts  ManagerOpts
	usage *prometheus.GaugeVec

	mu sync.Mutex
	m  map[string]int64
}

func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.Quota <= 0 {
		opts.Quota = math.MaxInt64
	}
	usage := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "origin_usage_bytes",
		Help: "Bytes stored per origin",
	}, []string{"origin"})
	if opts.Registerer != nil {
		if err := opts.Registerer.Register(usage); err != nil {
			return nil, err
		}
	}
	return &Manager{opts: opts, usage: usage, m: make(map[string]int64)}, nil
}

func (m *Manager) NotifyStorageModified(origin string, delta int64) {
	m.mu.Lock()
	u := m.m[origin] + delta
	if u < 0 {
		m.opts.Logger.Warn("negative origin usage", zap.String("origin", origin), zap.Int64("usage", u))
		u = 0
	}
	m.m[origin] = u
	m.mu.Unlock()
	m.usage.WithLabelValues(origin).Set(float64(u))
}

func (m *Manager) GetUsageAndQuota(_ context.Context, origin string) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[origin], m.opts.Quota, nil
}

// Usage returns origin's current usage.
func (m *Manager) Usage(origin string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[origin]
}
