package coremain

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pmkol/cachestorage/mlog"
)

const reloadDelay = 2 * time.Second

// watchLogLevel applies the log level of file whenever file changes. It
// returns when closeSignal is closed.
func watchLogLevel(file string, closeSignal <-chan struct{}) {
	logger := mlog.L()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("failed to create config watcher", zap.Error(err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(file); err != nil {
		logger.Warn("failed to watch config file", zap.String("file", file), zap.Error(err))
		return
	}

	timer := time.NewTimer(0)
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	defer timer.Stop()

	reload := func() {
		cfg, _, err := loadConfig(file)
		if err != nil {
			logger.Warn("failed to reload config", zap.String("file", file), zap.Error(err))
			return
		}
		if err := mlog.SetLevel(cfg.Log.Level); err != nil {
			logger.Warn("invalid log level", zap.Error(err))
			return
		}
		logger.Info("log level reloaded", zap.String("level", cfg.Log.Level))
	}

	needReWatch := false
	for {
		select {
		case e, ok := <-watcher.Events:
			if !ok {
				return
			}
			if e.Has(fsnotify.Chmod) {
				continue
			}
			// Editors often replace the file, which drops the watch.
			if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
				needReWatch = true
			}
			timer.Reset(reloadDelay)

		case <-timer.C:
			if needReWatch {
				if err := watcher.Add(file); err != nil {
					logger.Warn("failed to re-watch config file", zap.String("file", file), zap.Error(err))
					timer.Reset(reloadDelay)
					continue
				}
				needReWatch = false
			}
			reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", zap.Error(err))

		case <-closeSignal:
			return
		}
	}
}
