package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"qr-attendance/backend/config"
	"qr-attendance/backend/internal/api/handler"
	"qr-attendance/backend/internal/api/middleware"
	"qr-attendance/backend/internal/api/router"
	"qr-attendance/backend/internal/dto"
	"qr-attendance/backend/internal/qrsession"
	"qr-attendance/backend/internal/repository"
	"qr-attendance/backend/internal/service"
	"qr-attendance/backend/pkg/database"
	"qr-attendance/backend/pkg/docstore"
	"qr-attendance/backend/pkg/docstore/firestoredb"
	"qr-attendance/backend/pkg/docstore/gormstore"
	"qr-attendance/backend/pkg/docstore/memstore"
	"qr-attendance/backend/pkg/jwt"
	applogger "qr-attendance/backend/pkg/logger"
	"qr-attendance/backend/pkg/metrics"
	"qr-attendance/backend/pkg/redis"
)

func main() {
	// 0. 本地开发时从 .env 注入环境变量，文件不存在则忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "读取 .env 失败: %v\n", err)
		os.Exit(1)
	}

	// 1. 加载配置
	cfg, err := config.Load(os.Getenv("ATTEND_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("log_level", cfg.Log.Level),
	)

	if err := dto.RegisterValidators(); err != nil {
		logger.Fatal("注册校验规则失败", zap.Error(err))
	}
	m := metrics.New()

	// 3. 打开文档存储
	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("文档存储初始化失败", zap.Error(err))
	}

	// 4. 连接 Redis（可选：连接失败时降级运行，不中断启动）
	var (
		blacklist service.TokenBlacklist
		checker   middleware.TokenChecker
		limiter   middleware.RateLimiter
	)
	rdb, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis 连接失败，Token 黑名单与扫码限流将不可用", zap.Error(err))
		rdb = nil
	} else {
		blacklist, checker, limiter = rdb, rdb, rdb
	}

	// 5. 初始化 JWT 管理器与二维码倒计时
	jwtMgr := jwt.NewManager(&cfg.Auth)
	sessions := qrsession.NewManager(cfg.QR.BaseURL, logger, m)

	// 6. 依赖注入: Repository → Service → Handler
	repo := repository.NewRepository(store)
	svc := service.NewService(service.Deps{
		Config:    cfg,
		Repo:      repo,
		JWT:       jwtMgr,
		Blacklist: blacklist,
		Sessions:  sessions,
		Metrics:   m,
		Logger:    logger,
	})

	warmCtx, warmCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := svc.Warm(warmCtx); err != nil {
		// 缓存在首次读取时会重新加载
		logger.Warn("预热实体缓存失败", zap.Error(err))
	}
	warmCancel()

	runCtx, stopRun := context.WithCancel(context.Background())
	go sessions.Run(runCtx)

	origins := middleware.NewOriginPolicy(cfg.Server.CORS.AllowOrigins)
	h := handler.NewHandler(cfg, svc, origins, logger)

	// 7. 初始化路由
	engine := router.Setup(router.Deps{
		Config:    cfg,
		Handler:   h,
		Origins:   origins,
		JWT:       jwtMgr,
		Blacklist: checker,
		Limiter:   limiter,
		Metrics:   m,
		Logger:    logger,
	})

	// 8. 启动 HTTP 服务器（优雅关闭）
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 9. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	// 停止倒计时并关闭所有订阅
	stopRun()
	sessions.Stop()
	svc.Close()

	if err := store.Close(); err != nil {
		logger.Error("关闭文档存储失败", zap.Error(err))
	}
	if rdb != nil {
		rdb.Close()
	}

	logger.Info("服务器已关闭")
}

// openStore 按 store.driver 创建文档存储
func openStore(cfg *config.Config, logger *zap.Logger) (docstore.Backend, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverFirestore:
		store, err := firestoredb.New(&cfg.Firestore)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		logger.Info("Firestore 连接成功", zap.String("project_id", cfg.Firestore.ProjectID))
		return store, nil

	case config.StoreDriverMemory:
		logger.Warn("使用内存存储，重启后数据丢失")
		return memstore.New(), nil

	default:
		db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
		if err != nil {
			return nil, fmt.Errorf("数据库连接失败: %w", err)
		}
		logger.Info("数据库连接成功")

		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
		}
		if err := database.RunMigrations(sqlDB, logger); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("数据库迁移失败: %w", err)
		}
		return gormstore.New(db, repository.GormModels()), nil
	}
}
