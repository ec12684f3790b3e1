package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/any-hub/p2-hub/internal/blob"
	"github.com/any-hub/p2-hub/internal/cache"
	"github.com/any-hub/p2-hub/internal/config"
	"github.com/any-hub/p2-hub/internal/content"
	"github.com/any-hub/p2-hub/internal/hubmodule"
	"github.com/any-hub/p2-hub/internal/logging"
	"github.com/any-hub/p2-hub/internal/proxy"
	"github.com/any-hub/p2-hub/internal/server"
	"github.com/any-hub/p2-hub/internal/server/routes"
	"github.com/any-hub/p2-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

const shutdownTimeout = 15 * time.Second

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["hubs"] = len(cfg.Hubs)
		fields["credentials"] = config.CredentialModes(cfg.Hubs)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	svc, err := newService(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "%v\n", err)
		return 1
	}
	defer svc.close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["hubs"] = len(cfg.Hubs)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["credentials"] = config.CredentialModes(cfg.Hubs)
	fields["database"] = cfg.Global.DatabasePath
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := svc.serve(ctx); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// service 持有运行期依赖。启动顺序：HubRegistry → blob 存储 → 记录库 → 代理 → Fiber app。
type service struct {
	cfg    *config.Config
	logger *logrus.Logger
	store  *content.Store
	app    *fiber.App
}

func newService(cfg *config.Config, logger *logrus.Logger) (*service, error) {
	registry, err := server.NewHubRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建 Hub 注册表失败: %w", err)
	}
	blobs, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}
	store, err := content.Open(content.DefaultConfig(cfg.Global.DatabasePath), blobs)
	if err != nil {
		return nil, fmt.Errorf("初始化组件数据库失败: %w", err)
	}
	svc := &service{cfg: cfg, logger: logger, store: store}

	proxyHandler, err := proxy.NewHandler(proxy.Options{
		Client:         server.NewUpstreamClient(cfg),
		Logger:         logger,
		Content:        store,
		Blobs:          blob.NewFactory(afero.NewOsFs(), cfg.Global.TempPath),
		MaxRetries:     cfg.Global.MaxRetries,
		InitialBackoff: cfg.Global.InitialBackoff.DurationValue(),
	})
	if err != nil {
		svc.close()
		return nil, fmt.Errorf("初始化代理失败: %w", err)
	}
	err = proxy.RegisterModule(proxy.ModuleRegistration{Key: hubmodule.DefaultModuleKey(), Handler: proxyHandler})
	if err != nil && !errors.Is(err, proxy.ErrModuleHandlerExists) {
		svc.close()
		return nil, fmt.Errorf("注册模块失败: %w", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxy.NewForwarder(proxyHandler, logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		svc.close()
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}
	routes.RegisterModuleRoutes(app, registry)
	routes.RegisterComponentRoutes(app, registry, store)
	svc.app = app
	return svc, nil
}

// serve 阻塞直到监听失败或 ctx 结束；ctx 结束后等待在途请求最多 shutdownTimeout。
func (s *service) serve(ctx context.Context) error {
	port := s.cfg.Global.ListenPort
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()
	s.logger.WithFields(logrus.Fields{"action": "listen", "port": port}).Info("Fiber 服务启动")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.WithFields(logrus.Fields{"action": "shutdown", "port": port}).Info("收到退出信号，停止接收新请求")
	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return err
	}
	return <-errCh
}

func (s *service) close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.WithError(err).Warn("close content store failed")
		}
	}
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := pflag.NewFlagSet("p2-hub", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVarP(&configFlag, "config", "c", "", "配置文件路径（默认 ./config.toml，可被 P2_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVarP(&showVer, "version", "v", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("P2_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}
