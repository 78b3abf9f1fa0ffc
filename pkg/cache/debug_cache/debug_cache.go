// Package debug_cache wraps any cache.Backend and logs every call.
package debug_cache

import (
	"errors"

	"go.uber.org/zap"

	"github.com/pmkol/cachestorage/pkg/cache"
)

// Debug logs calls to the wrapped backend at debug level.
type Debug struct {
	backend cache.Backend
	logger  *zap.Logger
}

var _ cache.Backend = (*Debug)(nil)

func NewDebug(backend cache.Backend, logger *zap.Logger) *Debug {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Debug{backend: backend, logger: logger}
}

func (d *Debug) OpenEntry(key string) (cache.Entry, error) {
	e, err := d.backend.OpenEntry(key)
	if err != nil {
		d.logger.Debug("open entry", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	d.logger.Debug("open entry", zap.String("key", key),
		zap.Int64("headers", e.GetDataSize(cache.IndexHeaders)),
		zap.Int64("body", e.GetDataSize(cache.IndexResponseBody)))
	return &debugEntry{Entry: e, logger: d.logger}, nil
}

func (d *Debug) CreateEntry(key string) (cache.Entry, error) {
	e, err := d.backend.CreateEntry(key)
	d.logger.Debug("create entry", zap.String("key", key), zap.Error(err))
	if err != nil {
		return nil, err
	}
	return &debugEntry{Entry: e, logger: d.logger}, nil
}

func (d *Debug) DoomEntry(key string) error {
	err := d.backend.DoomEntry(key)
	d.logger.Debug("doom entry", zap.String("key", key), zap.Error(err))
	return err
}

func (d *Debug) NewIterator() cache.Iterator {
	d.logger.Debug("new iterator")
	return &debugIterator{it: d.backend.NewIterator(), logger: d.logger}
}

func (d *Debug) CalculateSizeOfAllEntries() (int64, error) {
	n, err := d.backend.CalculateSizeOfAllEntries()
	d.logger.Debug("calculate size", zap.Int64("size", n), zap.Error(err))
	return n, err
}

func (d *Debug) Close() error {
	err := d.backend.Close()
	d.logger.Debug("close backend", zap.Error(err))
	return err
}

type debugEntry struct {
	cache.Entry
	logger *zap.Logger
}

func (e *debugEntry) WriteData(index int, offset int64, buf []byte, truncate bool) (int, error) {
	n, err := e.Entry.WriteData(index, offset, buf, truncate)
	if err != nil || n != len(buf) {
		e.logger.Debug("short write",
			zap.String("key", e.Key()),
			zap.Int("index", index),
			zap.Int64("offset", offset),
			zap.Int("n", n),
			zap.Int("want", len(buf)),
			zap.Error(err))
	}
	return n, err
}

func (e *debugEntry) Doom() {
	e.logger.Debug("doom", zap.String("key", e.Key()))
	e.Entry.Doom()
}

func (e *debugEntry) Close() error {
	err := e.Entry.Close()
	if err != nil {
		e.logger.Debug("close entry", zap.String("key", e.Key()), zap.Error(err))
	}
	return err
}

type debugIterator struct {
	it     cache.Iterator
	logger *zap.Logger
}

func (it *debugIterator) OpenNextEntry() (cache.Entry, error) {
	e, err := it.it.OpenNextEntry()
	if err != nil {
		if !errors.Is(err, cache.ErrIteratorExhausted) {
			it.logger.Debug("iterator", zap.Error(err))
		}
		return nil, err
	}
	return &debugEntry{Entry: e, logger: it.logger}, nil
}
