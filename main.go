package main

import (
	"os"

	"go.uber.org/zap"

	"github.com/pmkol/cachestorage/coremain"
	"github.com/pmkol/cachestorage/mlog"
)

func main() {
	if err := coremain.Run(); err != nil {
		mlog.L().Error("exited", zap.Error(err))
		os.Exit(1)
	}
}
