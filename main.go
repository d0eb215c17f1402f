package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/clock-cache/clock-cache/internal/agent"
	"github.com/clock-cache/clock-cache/internal/cache"
	"github.com/clock-cache/clock-cache/internal/config"
	"github.com/clock-cache/clock-cache/internal/logging"
	"github.com/clock-cache/clock-cache/internal/notify"
	"github.com/clock-cache/clock-cache/internal/proxy"
	"github.com/clock-cache/clock-cache/internal/server"
	"github.com/clock-cache/clock-cache/internal/server/routes"
	"github.com/clock-cache/clock-cache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// listen 由测试替换，避免真正占用端口。
var listen = startHTTPServer

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
		fields["origin"] = cfg.Agent.Origin
		fields["cache_name"] = cfg.Agent.CacheName
		fields["assets"] = len(cfg.Agent.Assets)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 缓存存储 → 回源客户端 → Agent install/activate → Fiber server。
	// install 与 activate 完成前不接受任何请求。
	store, err := buildStore(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}

	httpClient, err := server.NewUpstreamClient(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化回源客户端失败: %v\n", err)
		return 1
	}
	fetcher, err := proxy.NewFetcher(httpClient, cfg.Agent.Origin)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化回源失败: %v\n", err)
		return 1
	}

	events := notify.NewBroadcaster(cfg.Agent.NotifyBuffer, logger)
	cacheAgent, err := agent.New(agent.Options{
		Store:     store,
		Fetcher:   fetcher,
		Notifier:  events,
		Logger:    logger,
		CacheName: cfg.Agent.CacheName,
		Version:   cfg.Agent.Version,
		IndexPath: cfg.Agent.IndexPath,
		Assets:    cfg.Agent.AssetList(),
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化 Agent 失败: %v\n", err)
		return 1
	}

	ctx := context.Background()
	if err := cacheAgent.Install(ctx); err != nil {
		fmt.Fprintf(stdErr, "预缓存资源失败: %v\n", err)
		return 1
	}
	if _, err := cacheAgent.Activate(ctx); err != nil {
		fmt.Fprintf(stdErr, "清理旧缓存失败: %v\n", err)
		return 1
	}
	events.Claim()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origin"] = cfg.Agent.Origin
	fields["cache_name"] = cfg.Agent.CacheName
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("Agent 已激活")

	handler := proxy.NewHandler(cacheAgent, logger, cfg.Global.ListenPort)
	if err := listen(cfg, cacheAgent, events, handler, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("clock-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 CLOCK_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("CLOCK_CACHE_CONFIG")
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

func buildStore(cfg *config.Config) (cache.Store, error) {
	switch cfg.Global.StorageDriver {
	case config.StorageDriverMemory:
		return cache.NewMemoryStore(cfg.Global.MemoryMaxEntries), nil
	default:
		return cache.NewStore(cfg.Global.StoragePath)
	}
}

func startHTTPServer(
	cfg *config.Config,
	cacheAgent *agent.Agent,
	events *notify.Broadcaster,
	proxyHandler server.ProxyHandler,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxyHandler,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, cacheAgent, events, logger)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
