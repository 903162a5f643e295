package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"chainscan/internal/config"
	"chainscan/internal/decoder"
	"chainscan/internal/metadata"
	"chainscan/internal/metrics"
	"chainscan/internal/rpc"
	"chainscan/internal/runtime"
	"chainscan/internal/validation"
	"chainscan/pkg/models"
)

// 单个API请求内访问节点的超时
const nodeRequestTimeout = 10 * time.Second

// Server HTTP服务器
// 对外提供解码、运行时发现与链属性查询,解码端点不依赖节点可用
type Server struct {
	cfg        *config.Config
	pool       *rpc.Pool
	registry   *metadata.Registry
	discovery  *runtime.Discovery
	properties *runtime.PropertiesService
	extrinsics *decoder.ExtrinsicDecoder
	events     *decoder.EventDecoder
	digests    *decoder.DigestDecoder
	metrics    *metrics.Metrics
	validator  *validation.Validator
	logManager *LogManager
	configMgr  *ConfigManager
	logger     *logrus.Logger

	server  *http.Server
	started time.Time
}

// NewServer 创建API服务器
func NewServer(cfg *config.Config, pool *rpc.Pool, registry *metadata.Registry, m *metrics.Metrics, logger *logrus.Logger) *Server {
	logManager := NewLogManager(1000)
	logger.AddHook(NewLogHook(logManager))

	runtimeCache := runtime.NewCache(cfg.Cache.RuntimeTTLDuration(), nil, logger)
	propertiesCache := runtime.NewCache(cfg.Cache.PropertiesTTLDuration(), nil, logger)

	return &Server{
		cfg:        cfg,
		pool:       pool,
		registry:   registry,
		discovery:  runtime.NewDiscovery(runtime.NewWalker(logger), runtimeCache, logger),
		properties: runtime.NewPropertiesService(propertiesCache, cfg.Chain, logger),
		extrinsics: decoder.NewExtrinsicDecoder(logger, cfg.Decoder),
		events:     decoder.NewEventDecoder(logger),
		digests:    decoder.NewDigestDecoder(logger),
		metrics:    m,
		validator:  validation.NewValidator(logger, false),
		logManager: logManager,
		logger:     logger,
	}
}

// SetConfigManager 挂载数据库配置管理端点,仅在数据库配置源可用时调用
func (s *Server) SetConfigManager(cm *ConfigManager) {
	s.configMgr = cm
}

// Start 启动HTTP服务,阻塞到服务退出
func (s *Server) Start() error {
	if s.cfg.API.Mode != "" {
		gin.SetMode(s.cfg.API.Mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.corsMiddleware())

	s.setupRoutes(router)

	s.server = &http.Server{
		Addr:    s.cfg.API.Listen,
		Handler: router,
	}
	s.started = time.Now()

	s.logger.Infof("API服务器启动，监听地址: %s", s.cfg.API.Listen)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 优雅停止HTTP服务
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("API服务器正在停止")
	return s.server.Shutdown(ctx)
}

// corsMiddleware 允许跨域访问
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// setupRoutes 注册路由
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := router.Group("/api/v1")
	{
		api.GET("/status", s.getStatus)

		// 解码端点: 有节点时用链上属性与最新版本,离线时退回配置
		api.POST("/decode/extrinsic", s.decodeExtrinsic)
		api.POST("/decode/events", s.decodeEvents)
		api.POST("/decode/digest", s.decodeDigest)

		api.GET("/runtimes", s.getRuntimes)
		api.GET("/properties", s.getProperties)

		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)

		// 数据库配置源可用时才挂配置管理端点
		if s.configMgr != nil {
			api.GET("/config/:type", s.configMgr.GetConfig)
			api.PUT("/config/:type", s.configMgr.UpdateConfig)
			api.GET("/nodes", s.configMgr.GetBlockchainNodes)
			api.POST("/nodes", s.configMgr.AddBlockchainNode)
			api.PUT("/nodes/:id", s.configMgr.UpdateBlockchainNode)
			api.DELETE("/nodes/:id", s.configMgr.DeleteBlockchainNode)
			api.GET("/kafka/topics", s.configMgr.GetKafkaTopics)
			api.PUT("/kafka/topics/:id", s.configMgr.UpdateKafkaTopic)
		}
	}
}

// withNode 借一个节点连接执行fn,用完归还
func (s *Server) withNode(ctx context.Context, fn func(node rpc.Node) error) error {
	conn, err := s.pool.Acquire()
	if err != nil {
		return err
	}
	defer conn.Release()
	return fn(conn.Client())
}

// chainProperties 取链属性,节点不可用时退回配置与缺省值
func (s *Server) chainProperties(ctx context.Context) (*models.ChainProperties, bool) {
	var props *models.ChainProperties
	err := s.withNode(ctx, func(node rpc.Node) error {
		p, err := s.properties.Properties(ctx, node)
		if err != nil {
			return err
		}
		props = p
		return nil
	})
	if err != nil {
		s.logger.Debugf("取链属性失败，退回配置: %v", err)
		return s.properties.FromConfig(), false
	}
	return props, true
}

// governingVersion 请求未指定版本时,取最新区块处生效的规范版本
// 节点不可用时退回已注册的最高版本
func (s *Server) governingVersion(ctx context.Context) uint32 {
	var version uint32
	err := s.withNode(ctx, func(node rpc.Node) error {
		v, err := node.RuntimeVersionAt(ctx, "")
		if err != nil {
			return err
		}
		version = v.SpecVersion
		return nil
	})
	if err == nil {
		return version
	}

	s.logger.Debugf("取最新运行时版本失败，退回已注册版本: %v", err)
	versions := s.registry.CallVersions()
	if len(versions) == 0 {
		return 0
	}
	return versions[len(versions)-1]
}

// rejectInvalidHex 解码端点的入参统一先过验证器,不合法直接400
func (s *Server) rejectInvalidHex(c *gin.Context, payload string) bool {
	result := s.validator.ValidateHexPayload(payload)
	if result.Valid {
		return false
	}

	messages := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		messages = append(messages, e.Message)
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "负载格式无效", "details": messages})
	return true
}

// healthCheck 服务健康检查,顺带报告节点连通性
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := gin.H{
		"status":    "healthy",
		"service":   "chainscan-api",
		"timestamp": time.Now().Unix(),
	}

	var health *models.Health
	err := s.withNode(ctx, func(node rpc.Node) error {
		h, err := node.Health(ctx)
		if err != nil {
			return err
		}
		health = h
		return nil
	})
	if err != nil {
		resp["status"] = "degraded"
		resp["node_error"] = err.Error()
	} else {
		resp["node"] = gin.H{
			"peers":      health.Peers,
			"is_syncing": health.IsSyncing,
		}
	}

	c.JSON(http.StatusOK, resp)
}

// getStatus 服务状态: 运行时长、连接池与已注册的元数据版本
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":       "chainscan-api",
		"uptime":        time.Since(s.started).String(),
		"pool":          s.pool.GetStats(),
		"call_versions": s.registry.CallVersions(),
	})
}

// decodeExtrinsic 解码单笔交易hex
// 未指定spec_version时使用最新区块处生效的版本
func (s *Server) decodeExtrinsic(c *gin.Context) {
	var req struct {
		Hex         string `json:"hex" binding:"required"`
		SpecVersion uint32 `json:"spec_version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误", "message": err.Error()})
		return
	}
	if s.rejectInvalidHex(c, req.Hex) {
		return
	}

	raw, err := hexutil.Decode(req.Hex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hex解码失败", "message": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), nodeRequestTimeout)
	defer cancel()

	version := req.SpecVersion
	if version == 0 {
		version = s.governingVersion(ctx)
	}
	calls := s.registry.ResolveCalls(version)
	props, _ := s.chainProperties(ctx)

	parsed := s.extrinsics.ParseExtrinsic(raw, calls, props)
	if s.metrics != nil {
		s.metrics.ObserveDecode("extrinsic", parsed.OK)
	}

	c.JSON(http.StatusOK, gin.H{
		"spec_version": version,
		"extrinsic":    parsed,
	})
}

// decodeEvents 解码事件存储hex
func (s *Server) decodeEvents(c *gin.Context) {
	var req struct {
		Hex         string `json:"hex" binding:"required"`
		SpecVersion uint32 `json:"spec_version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误", "message": err.Error()})
		return
	}
	if s.rejectInvalidHex(c, req.Hex) {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), nodeRequestTimeout)
	defer cancel()

	version := req.SpecVersion
	if version == 0 {
		version = s.governingVersion(ctx)
	}
	layout := s.registry.ResolveEvents(version)
	props, _ := s.chainProperties(ctx)

	events := s.events.DecodeEvents(req.Hex, layout, props)
	if s.metrics != nil {
		s.metrics.ObserveDecode("events", events.Error == "")
	}

	c.JSON(http.StatusOK, gin.H{
		"spec_version": version,
		"events":       events,
	})
}

// decodeDigest 解码区块头摘要日志列表
func (s *Server) decodeDigest(c *gin.Context) {
	var req struct {
		Logs []string `json:"logs" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误", "message": err.Error()})
		return
	}
	for _, log := range req.Logs {
		if s.rejectInvalidHex(c, log) {
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), nodeRequestTimeout)
	defer cancel()

	props, _ := s.chainProperties(ctx)
	digest := s.digests.DecodeDigest(req.Logs, props)
	if s.metrics != nil {
		s.metrics.ObserveDecode("digest", true)
	}

	c.JSON(http.StatusOK, gin.H{"digest": digest})
}

// getRuntimes 运行时版本范围发现,max_height为0或缺省时发现到链上最新高度
func (s *Server) getRuntimes(c *gin.Context) {
	var maxHeight uint64
	if raw := c.Query("max_height"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_height无效", "message": err.Error()})
			return
		}
		maxHeight = parsed
	}

	// 整条链的发现可能要上百次远程调用,超时放宽
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	var result *models.DiscoveryResult
	err := s.withNode(ctx, func(node rpc.Node) error {
		r, err := s.discovery.Spans(ctx, node, maxHeight)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "运行时发现失败", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// getProperties 链属性,节点不可用时退回配置并标注来源
func (s *Server) getProperties(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), nodeRequestTimeout)
	defer cancel()

	props, fromNode := s.chainProperties(ctx)
	source := "node"
	if !fromNode {
		source = "config"
	}

	c.JSON(http.StatusOK, gin.H{
		"properties": props,
		"source":     source,
	})
}

// getLogs 分页查询内存日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")

	page := 1
	if raw := c.Query("page"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil && p > 0 {
			page = p
		}
	}
	pageSize := 20
	if raw := c.Query("pageSize"); raw != "" {
		if ps, err := strconv.Atoi(raw); err == nil && ps > 0 {
			pageSize = ps
		}
	}

	logs, total := s.logManager.Page(level, page, pageSize)
	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空内存日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "日志已清空"})
}
