package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"chainscan/internal/api"
	"chainscan/internal/config"
	"chainscan/internal/logging"
	"chainscan/internal/metadata"
	"chainscan/internal/metrics"
	"chainscan/internal/rpc"
	"chainscan/internal/shutdown"
)

var (
	configPath  = flag.String("config", "configs/config.yaml", "配置文件路径")
	listen      = flag.String("listen", "", "监听地址，设置后覆盖配置")
	metadataDir = flag.String("metadata-dir", "", "元数据JSON目录")
	logLevel    = flag.String("log-level", "", "日志级别，设置后覆盖配置")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}
	if *listen != "" {
		cfg.API.Listen = *listen
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger, err := logging.NewLogrusLogger(cfg.Logging)
	if err != nil {
		logrus.Fatalf("初始化日志失败: %v", err)
	}

	registry := metadata.DefaultRegistry()
	if *metadataDir != "" {
		if err := registry.LoadDir(*metadataDir); err != nil {
			logger.Fatalf("加载元数据目录失败: %v", err)
		}
		logger.Infof("已加载元数据目录: %s", *metadataDir)
	}

	pool := rpc.NewPool(cfg.Blockchain.Nodes, logger)
	if err := pool.Initialize(); err != nil {
		// 节点暂时不可用不阻止启动,解码端点离线也能服务
		logger.Warnf("初始化连接池失败，节点相关端点将降级: %v", err)
	}

	server := api.NewServer(cfg, pool, registry, metrics.New(), logger)

	// 数据库配置源可用时挂配置管理端点
	if dsn := os.Getenv("CHAINSCAN_DB_DSN"); dsn != "" {
		dbConfig, err := config.NewDatabaseConfig(dsn, logger)
		if err != nil {
			logger.Warnf("连接配置数据库失败，配置管理端点不可用: %v", err)
		} else {
			server.SetConfigManager(api.NewConfigManager(dbConfig, logger))
			defer dbConfig.Close()
		}
	}

	coordinator := shutdown.NewCoordinator(30*time.Second, logger)
	coordinator.Register("停止HTTP服务", shutdown.OrderStopServer, func(ctx context.Context) error {
		return server.Stop(ctx)
	})
	coordinator.Register("关闭连接池", shutdown.OrderClosePool, func(ctx context.Context) error {
		return pool.Close()
	})
	coordinator.Start()

	go func() {
		if err := server.Start(); err != nil {
			logger.Errorf("API服务器异常退出: %v", err)
			coordinator.Shutdown()
		}
	}()

	coordinator.Wait()
	logger.Info("服务已关闭")
}
