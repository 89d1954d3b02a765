package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/tile-arena/internal/api"
	"github.com/wfunc/tile-arena/internal/cache"
	"github.com/wfunc/tile-arena/internal/config"
	"github.com/wfunc/tile-arena/internal/database"
	"github.com/wfunc/tile-arena/internal/errors"
	"github.com/wfunc/tile-arena/internal/game"
	"github.com/wfunc/tile-arena/internal/logger"
	"github.com/wfunc/tile-arena/internal/repository"
	"github.com/wfunc/tile-arena/internal/settlement"
	"github.com/wfunc/tile-arena/internal/store"
	"github.com/wfunc/tile-arena/internal/utils"
	ws "github.com/wfunc/tile-arena/internal/websocket"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	db          *gorm.DB
	repos       *repository.Manager
	redis       *redis.Client
	mirror      *cache.RedisMirror
	persister   game.Persister
	hub         *ws.Hub
	dispatcher  *settlement.Dispatcher
	coordinator *game.Coordinator
	router      *api.Router
	httpServer  *http.Server

	// 关闭控制
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

func main() {
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	if *configPath == "" {
		*configPath = os.Getenv(config.EnvPrefix + "_CONFIG")
	}
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	setupSystem(&cfg.System)

	printStartInfo(cfg)

	server := NewServer(cfg)

	if err := server.Start(); err != nil {
		logger.Fatal("服务器启动失败", zap.Error(err))
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("服务器已安全关闭")
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:        cfg,
		logger:     logger.GetLogger(),
		shutdownCh: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动对局服务器...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
	)

	if err := s.initComponents(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "初始化组件失败")
	}

	if err := s.startServices(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "启动服务失败")
	}

	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", s.cfg.Server.Address()),
		zap.String("websocket", s.cfg.WebSocket.Path),
	)
	return nil
}

// initComponents 初始化组件
func (s *Server) initComponents() error {
	s.logger.Info("初始化组件...")

	if err := s.initDatabase(); err != nil {
		return err
	}
	if err := s.initCache(); err != nil {
		return err
	}
	s.initSettlement()
	s.initGame()
	s.initHTTP()

	s.logger.Info("所有组件初始化完成")
	return nil
}

// initDatabase 初始化数据库，未配置驱动时对局只保存在内存
func (s *Server) initDatabase() error {
	if s.cfg.Database.Driver == "" {
		s.logger.Warn("未配置数据库，对局记录不会持久化")
		s.persister = game.NewMemoryPersister()
		return nil
	}

	s.logger.Info("初始化数据库...", zap.String("driver", s.cfg.Database.Driver))
	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}
	s.db = database.DB

	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(s.db); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	s.repos = repository.NewManager(s.db)
	s.persister = game.NewDatabasePersister(s.repos.Match())
	s.logger.Info("数据库初始化成功")
	return nil
}

// initCache 初始化Redis快照缓存与事件镜像
func (s *Server) initCache() error {
	if !s.cfg.Redis.Enabled {
		return nil
	}

	s.logger.Info("初始化Redis...", zap.String("addr", s.cfg.Redis.Addr))
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	rdb, err := cache.NewClient(ctx, s.cfg.Redis)
	if err != nil {
		return errors.Wrap(err, errors.ErrStoreUnavailable, "连接Redis失败")
	}
	s.redis = rdb

	snapshots := cache.NewSnapshotCache(rdb, s.cfg.Redis.Prefix, s.cfg.Redis.SnapshotTTL)
	s.persister = game.NewCachedPersister(snapshots, s.persister)
	s.mirror = cache.NewRedisMirror(rdb, s.cfg.Redis.Prefix, s.cfg.Redis.SnapshotTTL, logger.GetModuleLogger("cache"))
	return nil
}

// initSettlement 初始化结算通知
func (s *Server) initSettlement() {
	cfg := s.cfg.Settlement
	if !cfg.Enabled {
		return
	}

	log := logger.GetModuleLogger("settlement")
	var sender settlement.Sender = settlement.NewLogSender(log)
	if cfg.WebhookURL != "" {
		sender = settlement.NewWebhookSender(cfg.WebhookURL, cfg.Secret, cfg.Timeout)
	}

	var repo repository.SettlementRepository
	if s.repos != nil {
		repo = s.repos.Settlement()
	}
	s.dispatcher = settlement.NewDispatcher(sender, repo, settlement.OptionsFromConfig(cfg), log)
}

// initGame 初始化对局协调器与消息中心
func (s *Server) initGame() {
	s.hub = ws.NewHub(logger.GetModuleLogger("websocket"))

	publishers := []game.Publisher{s.hub}
	if s.mirror != nil {
		publishers = append(publishers, s.mirror)
	}

	options := []game.CoordinatorOption{
		game.WithPersister(s.persister),
		game.WithLogger(logger.GetModuleLogger("game")),
	}
	if s.dispatcher != nil {
		options = append(options, game.WithSettler(s.dispatcher))
	}

	s.coordinator = game.NewCoordinator(
		store.NewMemoryStore(),
		game.MultiPublisher(publishers...),
		matchOptions(s.cfg.Match),
		options...,
	)
	pipeline := game.NewMovePipeline(s.coordinator)
	s.hub.SetMessageHandler(ws.NewMatchHandler(s.hub, s.coordinator, pipeline, logger.GetModuleLogger("websocket")))
}

// initHTTP 初始化HTTP路由
func (s *Server) initHTTP() {
	switch s.cfg.Server.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		gin.SetMode(s.cfg.Server.Mode)
	}

	deps := api.Dependencies{
		Config:      s.cfg,
		Coordinator: s.coordinator,
		Hub:         s.hub,
		Tokens:      utils.NewJWTManager(s.cfg.Security.JWT.Secret, s.cfg.Security.JWT.TokenExpiry()),
		DB:          s.db,
		Logger:      logger.GetModuleLogger("api"),
	}
	if s.redis != nil {
		deps.Redis = s.redis
	}
	s.router = api.NewRouter(deps)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.Address(),
		Handler:      s.router.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
}

// matchOptions 对局参数，未配置项使用默认值
func matchOptions(cfg config.MatchConfig) game.Options {
	opts := game.DefaultOptions()
	if cfg.Duration > 0 {
		opts.Duration = cfg.Duration
	}
	if cfg.Countdown > 0 {
		opts.Countdown = cfg.Countdown
	}
	if cfg.DefaultMaxPlayers > 0 {
		opts.DefaultMaxPlayers = cfg.DefaultMaxPlayers
	}
	if cfg.FinalizeRetries > 0 {
		opts.FinalizeRetries = cfg.FinalizeRetries
	}
	if cfg.FinalizeBackoff > 0 {
		opts.FinalizeBackoff = cfg.FinalizeBackoff
	}
	return opts
}

// startServices 启动服务
func (s *Server) startServices() error {
	s.logger.Info("启动服务...")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()

	if s.dispatcher != nil {
		s.dispatcher.Start(s.ctx)
		if n, err := s.dispatcher.ResumePending(s.ctx); err != nil {
			s.logger.Error("恢复待发送结算失败", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("已恢复待发送结算", zap.Int("count", n))
		}
	}

	if s.cfg.Match.RecoverOnStart {
		report, err := game.NewRecoveryManager(logger.GetModuleLogger("recovery"), s.coordinator).Recover(s.ctx)
		if err != nil {
			return errors.Wrap(err, errors.ErrStoreUnavailable, "恢复未完成对局失败")
		}
		s.logger.Info("未完成对局恢复完成",
			zap.Int("restored", report.Restored),
			zap.Int("rescheduled", report.Rescheduled),
			zap.Int("ended", report.Ended),
			zap.Int("skipped", report.Skipped),
		)
	}

	errCh := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 等待端口监听结果
	select {
	case err := <-errCh:
		return errors.Wrap(err, errors.ErrUnknown, "HTTP服务启动失败")
	case <-time.After(200 * time.Millisecond):
	}

	go func() {
		if err := <-errCh; err != nil {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
			s.triggerShutdown()
		}
	}()
	return nil
}

// triggerShutdown 触发关闭
func (s *Server) triggerShutdown() {
	select {
	case <-s.shutdownCh:
	default:
		close(s.shutdownCh)
	}
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case sig := <-sigCh:
		s.logger.Info("收到关闭信号", zap.String("signal", sig.String()))
	case <-s.shutdownCh:
		s.logger.Info("收到内部关闭请求")
	}
}

// Shutdown 优雅关闭
func (s *Server) Shutdown() error {
	s.logger.Info("正在关闭服务器...")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("关闭HTTP服务失败", zap.Error(err))
	}

	s.hub.Stop()
	s.coordinator.Shutdown()
	if s.dispatcher != nil {
		s.dispatcher.Stop()
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("所有服务已停止")
	case <-ctx.Done():
		s.logger.Warn("服务停止超时")
	}

	if err := s.closeComponents(); err != nil {
		return err
	}

	_ = logger.Sync()
	return nil
}

// closeComponents 关闭组件
func (s *Server) closeComponents() error {
	s.logger.Info("关闭组件...")

	if s.mirror != nil {
		s.mirror.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("关闭Redis失败", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "关闭数据库失败")
		}
	}

	s.logger.Info("所有组件已关闭")
	return nil
}

// reloadConfig 重新加载配置，仅日志级别支持热更新
func (s *Server) reloadConfig(newCfg *config.Config) {
	if newCfg.Log.Level != s.cfg.Log.Level {
		logger.SetLevel(newCfg.Log.Level)
		s.logger.Info("日志级别已更新", zap.String("level", newCfg.Log.Level))
	}
	if newCfg.Match != s.cfg.Match || newCfg.Server != s.cfg.Server {
		s.logger.Warn("对局与服务参数变更需要重启后生效")
	}
	s.cfg.Log = newCfg.Log
}

// setupSystem 设置系统参数
func setupSystem(cfg *config.SystemConfig) {
	if cfg.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			time.Local = loc
		}
	}

	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}

	// 每个WebSocket连接占用一个文件描述符
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err == nil {
		rLimit.Cur = rLimit.Max
		_ = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("Tile Arena 对局服务器\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("Tile Arena 对局服务器")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  tile-arena-server [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  TILE_ARENA_CONFIG            配置文件路径")
	fmt.Println("  TILE_ARENA_SERVER_PORT       监听端口，其余配置项同理")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  tile-arena-server -config=/path/to/config.yaml")
	fmt.Println("  tile-arena-server -version")
}

// printStartInfo 打印启动信息
func printStartInfo(cfg *config.Config) {
	banner := `
╔═══════════════════════════════════════════════════════════════╗
║                                                               ║
║     _____ _ _          _                                      ║
║    |_   _(_) | ___    / \   _ __ ___ _ __   __ _              ║
║      | | | | |/ _ \  / _ \ | '__/ _ \ '_ \ / _` + "`" + ` |             ║
║      | | | | |  __/ / ___ \| | |  __/ | | | (_| |             ║
║      |_| |_|_|\___|/_/   \_\_|  \___|_| |_|\__,_|             ║
║                                                               ║
║                   多人实时2048对局服务器                      ║
║                                                               ║
╚═══════════════════════════════════════════════════════════════╝
`
	fmt.Println(banner)
	fmt.Printf("版本: %s | 模式: %s | PID: %d\n", Version, cfg.Server.Mode, os.Getpid())
	configFile := config.ConfigFile()
	if configFile == "" {
		configFile = "(默认配置)"
	}
	fmt.Printf("配置文件: %s\n", configFile)
	fmt.Println("═══════════════════════════════════════════════════════════════")
}
