package coremain

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/go-viper/mapstructure/v2"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pmkol/cachestorage/mlog"
	"github.com/pmkol/cachestorage/pkg/cachestorage"
	"github.com/pmkol/cachestorage/pkg/safe_close"
)

// Version is set at build time.
var Version = "dev"

type serverFlags struct {
	c         string
	dir       string
	cpu       int
	asService bool
}

var rootCmd = &cobra.Command{
	Use: "cachestorage",
}

func init() {
	sf := new(serverFlags)
	startCmd := &cobra.Command{
		Use:   "start [-c config_file] [-d working_dir]",
		Short: "Start the cache storage server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sf.asService {
				svc, err := service.New(&serverService{f: sf}, svcCfg)
				if err != nil {
					return fmt.Errorf("failed to init service, %w", err)
				}
				return svc.Run()
			}
			sc := safe_close.NewSafeClose()
			go func() {
				c := make(chan os.Signal, 1)
				signal.Notify(c, os.Interrupt, syscall.SIGTERM)
				s := <-c
				mlog.L().Info("exiting", zap.Stringer("signal", s))
				sc.SendCloseSignal(nil)
			}()
			return StartServer(sf, sc)
		},
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}
	rootCmd.AddCommand(startCmd)
	fs := startCmd.Flags()
	fs.StringVarP(&sf.c, "config", "c", "", "config file")
	fs.StringVarP(&sf.dir, "dir", "d", "", "working dir")
	fs.IntVar(&sf.cpu, "cpu", 0, "set runtime.GOMAXPROCS")
	fs.BoolVar(&sf.asService, "as-service", false, "start as a service")
	fs.MarkHidden("as-service")

	kf := new(keysFlags)
	keysCmd := &cobra.Command{
		Use:   "keys --cache name [-c config_file]",
		Short: "Print the requests stored in a cache.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printKeys(cmd.Context(), kf, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}
	keysCmd.Flags().StringVarP(&kf.c, "config", "c", "", "config file")
	keysCmd.Flags().StringVar(&kf.cache, "cache", "", "cache name")
	keysCmd.Flags().StringVar(&kf.url, "url", "", "only print the keys of this url")
	keysCmd.MarkFlagRequired("cache")
	rootCmd.AddCommand(keysCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	})

	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage cachestorage as a system service.",
	}
	serviceCmd.PersistentPreRunE = initService
	serviceCmd.AddCommand(
		newSvcInstallCmd(),
		newSvcUninstallCmd(),
		newSvcStartCmd(),
		newSvcStopCmd(),
		newSvcRestartCmd(),
		newSvcStatusCmd(),
	)
	rootCmd.AddCommand(serviceCmd)
}

func AddSubCmd(c *cobra.Command) {
	rootCmd.AddCommand(c)
}

func Run() error {
	return rootCmd.Execute()
}

func StartServer(sf *serverFlags, sc *safe_close.SafeClose) error {
	if sf.cpu > 0 {
		runtime.GOMAXPROCS(sf.cpu)
	}

	if len(sf.dir) > 0 {
		err := os.Chdir(sf.dir)
		if err != nil {
			return fmt.Errorf("failed to change the current working directory, %w", err)
		}
		mlog.L().Info("working directory changed", zap.String("path", sf.dir))
	}

	cfg, fileUsed, err := loadFullConfig(sf.c)
	if err != nil {
		return err
	}

	sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		watchLogLevel(fileUsed, closeSignal)
	})

	err = RunCacheStorage(cfg, sc)
	sc.SendCloseSignal(nil)
	if err != nil {
		return fmt.Errorf("cachestorage exited, %w", err)
	}
	return nil
}

// loadFullConfig loads a config and all its includes.
func loadFullConfig(filePath string) (*Config, string, error) {
	cfg, fileUsed, err := loadConfig(filePath)
	if err != nil {
		return nil, "", fmt.Errorf("fail to load config, %w", err)
	}
	if err := mergeInclude(cfg, 0, []string{fileUsed}); err != nil {
		return nil, "", fmt.Errorf("failed to load sub config file, %w", err)
	}
	return cfg, fileUsed, nil
}

// loadConfig load a config from a file. If filePath is empty, it will
// automatically search and load a file which name start with "config".
func loadConfig(filePath string) (*Config, string, error) {
	v := viper.New()

	if len(filePath) > 0 {
		v.SetConfigFile(filePath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	decoderOpt := func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
		cfg.TagName = "yaml"
		cfg.WeaklyTypedInput = true
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg, decoderOpt); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, v.ConfigFileUsed(), nil
}

// mergeInclude prepends the caches of included files to cfg.Caches. Other
// sections of included files are ignored.
func mergeInclude(cfg *Config, depth int, paths []string) error {
	depth++
	if depth > 8 {
		return fmt.Errorf("maximum include depth reached, include path is %s", strings.Join(paths, " -> "))
	}

	var included []string
	for _, subCfgFile := range cfg.Include {
		subPaths := append(paths, subCfgFile)
		mlog.L().Info("reading sub config", zap.String("file", subCfgFile))
		subCfg, _, err := loadConfig(subCfgFile)
		if err != nil {
			return fmt.Errorf("failed to load sub config, %w", err)
		}
		if err := mergeInclude(subCfg, depth, subPaths); err != nil {
			return err
		}
		included = append(included, subCfg.Caches...)
	}

	cfg.Caches = dedup(append(included, cfg.Caches...))
	return nil
}

func dedup(s []string) []string {
	seen := make(map[string]struct{}, len(s))
	out := s[:0]
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

type keysFlags struct {
	c     string
	cache string
	url   string
}

func printKeys(ctx context.Context, kf *keysFlags, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, _, err := loadFullConfig(kf.c)
	if err != nil {
		return err
	}
	cfg.Caches = nil

	m, err := NewCacheStorage(ctx, cfg, mlog.Nop())
	if err != nil {
		return err
	}
	defer m.close()

	c, err := m.GetStorage().Open(ctx, kf.cache)
	if err != nil {
		return err
	}
	var req *cachestorage.Request
	if len(kf.url) > 0 {
		req = &cachestorage.Request{URL: kf.url}
	}
	keys, err := c.KeysSync(ctx, req, cachestorage.QueryParams{IgnoreMethod: true, IgnoreVary: true})
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(keys); err != nil {
		return err
	}
	return enc.Close()
}
