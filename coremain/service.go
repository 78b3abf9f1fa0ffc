package coremain

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pmkol/cachestorage/mlog"
	"github.com/pmkol/cachestorage/pkg/safe_close"
)

var svcCfg = &service.Config{
	Name:        "cachestorage",
	DisplayName: "cachestorage",
	Description: "An HTTP response cache server.",
}

var svc service.Service

type serverService struct {
	f    *serverFlags
	sc   *safe_close.SafeClose
	done chan struct{}
}

func (ss *serverService) Start(s service.Service) error {
	mlog.L().Info("starting service", zap.String("platform", s.Platform()))
	ss.sc = safe_close.NewSafeClose()
	ss.done = make(chan struct{})
	go func() {
		defer close(ss.done)
		if err := StartServer(ss.f, ss.sc); err != nil {
			mlog.L().Error("server exited", zap.Error(err))
			os.Exit(1)
		}
	}()
	return nil
}

func (ss *serverService) Stop(s service.Service) error {
	mlog.L().Info("service is shutting down")
	ss.sc.SendCloseSignal(nil)
	select {
	case <-ss.done:
	case <-time.After(shutdownTimeout + time.Second*5):
		return fmt.Errorf("service did not stop in time")
	}
	return nil
}

// initService must be called by the service sub commands before svc is used.
func initService(_ *cobra.Command, _ []string) error {
	s, err := service.New(&serverService{}, svcCfg)
	if err != nil {
		return fmt.Errorf("cannot init service, %w", err)
	}
	svc = s
	return nil
}

func newSvcInstallCmd() *cobra.Command {
	sf := new(serverFlags)
	c := &cobra.Command{
		Use:   "install [-d working_dir] [-c config_file]",
		Short: "Install cachestorage as a system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(sf.dir) == 0 {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to get current working directory, %w", err)
				}
				sf.dir = wd
			} else if !filepath.IsAbs(sf.dir) {
				abs, err := filepath.Abs(sf.dir)
				if err != nil {
					return fmt.Errorf("failed to resolve working directory, %w", err)
				}
				sf.dir = abs
			}
			svcCfg.Arguments = []string{"start", "--as-service", "-d", sf.dir}
			if len(sf.c) > 0 {
				svcCfg.Arguments = append(svcCfg.Arguments, "-c", sf.c)
			}
			s, err := service.New(&serverService{}, svcCfg)
			if err != nil {
				return fmt.Errorf("cannot init service, %w", err)
			}
			return s.Install()
		},
		SilenceUsage: true,
	}
	c.Flags().StringVarP(&sf.dir, "dir", "d", "", "working dir")
	c.Flags().StringVarP(&sf.c, "config", "c", "", "config file")
	return c
}

func newSvcUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall cachestorage from system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Uninstall()
		},
		SilenceUsage: true,
	}
}

func newSvcStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start cachestorage system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := svc.Start(); err != nil {
				return err
			}
			time.Sleep(time.Second)
			s, err := svc.Status()
			if err != nil {
				mlog.S().Warnf("cannot get service status, %v", err)
				return nil
			}
			if s != service.StatusRunning {
				mlog.S().Error("service is not running, check its log")
			}
			return nil
		},
		SilenceUsage: true,
	}
}

func newSvcStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop cachestorage system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Stop()
		},
		SilenceUsage: true,
	}
}

func newSvcRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart cachestorage system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Restart()
		},
		SilenceUsage: true,
	}
}

func newSvcStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Status of cachestorage system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := svc.Status()
			if err != nil {
				return fmt.Errorf("cannot get service status, %w", err)
			}
			var out string
			switch s {
			case service.StatusRunning:
				out = "running"
			case service.StatusStopped:
				out = "stopped"
			default:
				out = "unknown"
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
		SilenceUsage: true,
	}
}
