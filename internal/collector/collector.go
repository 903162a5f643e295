package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chainscan/internal/config"
	"chainscan/internal/decoder"
	scanerrors "chainscan/internal/errors"
	"chainscan/internal/logging"
	"chainscan/internal/metadata"
	"chainscan/internal/metrics"
	"chainscan/internal/output"
	"chainscan/internal/progress"
	"chainscan/internal/retry"
	"chainscan/internal/rpc"
	"chainscan/internal/runtime"
	"chainscan/pkg/models"
)

// Collector 区块采集流水线
// 按高度范围拉取区块、区块头与事件存储,跑满三个解码器后写入输出
// 每个区块的处理相互独立,由工作协程池并行执行
type Collector struct {
	cfg        *config.Config
	pool       *rpc.Pool
	registry   *metadata.Registry
	discovery  *runtime.Discovery
	properties *runtime.PropertiesService
	extrinsics *decoder.ExtrinsicDecoder
	events     *decoder.EventDecoder
	digests    *decoder.DigestDecoder
	out        output.Output
	progress   *progress.Manager
	retrier    *retry.Retrier
	errHandler *scanerrors.ErrorHandler
	metrics    *metrics.Metrics
	logger     *logrus.Logger

	// acquire 借出一个节点连接,返回的释放函数用完必须调用
	// 默认走连接池,测试可注入假节点
	acquire func(ctx context.Context) (rpc.Node, func(), error)

	mu    sync.Mutex
	stats models.CollectStats
}

// NewCollector 创建采集器
func NewCollector(cfg *config.Config, registry *metadata.Registry, out output.Output, logger *logrus.Logger) (*Collector, error) {
	if cfg == nil || cfg.Blockchain == nil || cfg.Collector == nil || cfg.Cache == nil {
		return nil, scanerrors.NewScanError(scanerrors.ErrorTypeConfig, scanerrors.SeverityCritical,
			"CONFIG_INVALID", "采集器配置不完整")
	}
	if out == nil {
		return nil, scanerrors.NewScanError(scanerrors.ErrorTypeConfig, scanerrors.SeverityCritical,
			"CONFIG_INVALID", "采集器缺少输出器")
	}

	pool := rpc.NewPool(cfg.Blockchain.Nodes, logger)

	runtimeCache := runtime.NewCache(cfg.Cache.RuntimeTTLDuration(), nil, logger)
	propertiesCache := runtime.NewCache(cfg.Cache.PropertiesTTLDuration(), nil, logger)
	discovery := runtime.NewDiscovery(runtime.NewWalker(logger), runtimeCache, logger)
	properties := runtime.NewPropertiesService(propertiesCache, cfg.Chain, logger)

	progressManager, err := progress.NewManager(cfg.Collector.CheckpointPath, logger)
	if err != nil {
		return nil, err
	}

	c := &Collector{
		cfg:        cfg,
		pool:       pool,
		registry:   registry,
		discovery:  discovery,
		properties: properties,
		extrinsics: decoder.NewExtrinsicDecoder(logger, cfg.Decoder),
		events:     decoder.NewEventDecoder(logger),
		digests:    decoder.NewDigestDecoder(logger),
		out:        out,
		progress:   progressManager,
		retrier:    retry.NewRetrier(retry.RPCRetryConfig, logger),
		errHandler: scanerrors.NewErrorHandler(logger),
		logger:     logger,
	}

	c.acquire = func(ctx context.Context) (rpc.Node, func(), error) {
		conn, err := pool.Acquire()
		if err != nil {
			return nil, nil, err
		}
		return conn.Client(), conn.Release, nil
	}

	return c, nil
}

// Initialize 初始化连接池
func (c *Collector) Initialize() error {
	return c.pool.Initialize()
}

// SetMetrics 注入指标集,不注入则不计量
func (c *Collector) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// SetNodeSource 覆盖节点来源,测试用
func (c *Collector) SetNodeSource(acquire func(ctx context.Context) (rpc.Node, func(), error)) {
	c.acquire = acquire
}

// ResumeHeight 返回断点续传的起始高度,没有进度时返回0
func (c *Collector) ResumeHeight() uint64 {
	last := c.progress.GetLastProcessedHeight()
	if last == 0 {
		return 0
	}
	return last + 1
}

// ResetProgress 重置采集进度
func (c *Collector) ResetProgress() error {
	return c.progress.Reset()
}

// ProgressInfo 当前进度信息
func (c *Collector) ProgressInfo() *progress.ProgressInfo {
	return c.progress.GetProgress()
}

// Stats 当前采集统计快照
func (c *Collector) Stats() models.CollectStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// PoolStats 连接池统计
func (c *Collector) PoolStats() map[string]interface{} {
	return c.pool.GetStats()
}

// ErrorStats 采集过程累计的错误统计
func (c *Collector) ErrorStats() *scanerrors.ErrorStats {
	return c.errHandler.GetStats()
}

// OnError 注册错误回调,每个采集失败的区块触发一次
func (c *Collector) OnError(cb scanerrors.ErrorCallback) {
	c.errHandler.AddCallback(cb)
}

// CollectRange 采集闭区间[start, end]内的全部区块
// 先做一轮运行时发现确定各高度的规范版本,随后工作协程池并行拉取解码
func (c *Collector) CollectRange(ctx context.Context, start, end uint64) (*models.CollectStats, error) {
	if start > end {
		return nil, scanerrors.NewScanError(scanerrors.ErrorTypeValidation, scanerrors.SeverityMedium,
			"DATA_VALIDATION_FAILED", fmt.Sprintf("起始高度%d大于结束高度%d", start, end))
	}

	c.mu.Lock()
	c.stats = models.CollectStats{StartTime: time.Now()}
	c.mu.Unlock()

	node, release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	// 链属性与运行时范围只取一次,整个采集范围内复用
	props, err := c.properties.Properties(ctx, node)
	if err != nil {
		c.logger.Warnf("获取链属性失败，使用配置与缺省值: %v", err)
		props = c.properties.FromConfig()
	}

	spans, err := c.discovery.Spans(ctx, node, end)
	if err != nil {
		c.logger.Warnf("运行时发现失败，逐块查询版本兜底: %v", err)
		spans = nil
	} else if writeErr := c.out.WriteSpans(spans); writeErr != nil {
		c.logger.Warnf("写入运行时范围失败: %v", writeErr)
	}
	release()

	workers := c.cfg.Collector.Workers
	queueSize := c.cfg.Collector.QueueSize
	c.logger.Infof("开始采集区块 %d - %d，工作协程数%d", start, end, workers)

	taskChan := make(chan uint64, queueSize)
	resultChan := make(chan *models.DecodedBlock, queueSize)

	// 任务生产者
	go func() {
		defer close(taskChan)
		for height := start; height <= end; height++ {
			select {
			case taskChan <- height:
				c.observeQueueDepth(len(taskChan))
			case <-ctx.Done():
				return
			}
		}
	}()

	// 工作协程池,每个协程持有自己的连接
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c.worker(ctx, workerID, taskChan, resultChan, spans, props)
		}(i)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	// 写出在当前协程执行,区块按完成顺序写出
	// 工作协程完成顺序不定,进度高度只增不减
	var highest uint64
	for block := range resultChan {
		if err := c.out.WriteBlock(block); err != nil {
			c.logger.Errorf("写入区块%d失败: %v", block.Height, err)
			continue
		}
		if block.Height > highest {
			highest = block.Height
		}
		if err := c.progress.UpdateProgress(highest); err != nil {
			c.logger.Warnf("更新进度失败: %v", err)
		}
		c.progress.UpdateExtrinsicCount(uint64(block.ExtrinsicCount))
		c.progress.UpdateEventCount(uint64(block.EventCount))
	}

	c.mu.Lock()
	c.stats.EndTime = time.Now()
	elapsed := c.stats.EndTime.Sub(c.stats.StartTime)
	c.stats.Duration = elapsed.String()
	if elapsed.Seconds() > 0 {
		c.stats.BlocksPerSecond = float64(c.stats.TotalBlocks) / elapsed.Seconds()
	}
	stats := c.stats
	c.mu.Unlock()

	if ctx.Err() != nil {
		c.logger.Warnf("采集被取消，已完成%d个区块", stats.TotalBlocks)
		return &stats, ctx.Err()
	}

	c.logger.Infof("采集完成: %d个区块，%d笔交易，%d条事件，耗时%s",
		stats.TotalBlocks, stats.TotalExtrinsics, stats.TotalEvents, stats.Duration)
	return &stats, nil
}

// worker 工作协程: 借一条连接,循环处理任务通道里的高度
func (c *Collector) worker(ctx context.Context, workerID int, taskChan <-chan uint64,
	resultChan chan<- *models.DecodedBlock, spans *models.DiscoveryResult, props *models.ChainProperties) {

	node, release, err := c.acquire(ctx)
	if err != nil {
		c.logger.Errorf("工作协程%d获取连接失败: %v", workerID, err)
		return
	}
	defer release()

	for {
		select {
		case height, ok := <-taskChan:
			if !ok {
				return
			}
			c.observeQueueDepth(len(taskChan))

			block, err := c.collectOne(ctx, node, height, spans, props)
			if err != nil {
				// 重试器已经用尽,交给错误处理器记录统计并按策略处理
				c.errHandler.HandleError(ctx, err)
				c.recordBlock(nil, false)
				continue
			}
			c.errHandler.RecordSuccess()
			c.recordBlock(block, true)

			select {
			case resultChan <- block:
			case <-ctx.Done():
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// collectOne 带重试地采集单个区块
func (c *Collector) collectOne(ctx context.Context, node rpc.Node, height uint64,
	spans *models.DiscoveryResult, props *models.ChainProperties) (*models.DecodedBlock, error) {

	timeout := c.cfg.Collector.TimeoutDuration()

	var block *models.DecodedBlock
	err := c.retrier.Execute(ctx, fmt.Sprintf("采集区块%d", height), func() error {
		blockCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		specVersion, err := c.specVersionFor(blockCtx, node, height, spans)
		if err != nil {
			return err
		}

		decoded, err := c.CollectBlock(blockCtx, node, height, specVersion, props)
		if err != nil {
			return err
		}
		block = decoded
		return nil
	})
	return block, err
}

// specVersionFor 确定高度对应的运行时规范版本
// 优先查发现结果,范围缺失时退回逐块查询
func (c *Collector) specVersionFor(ctx context.Context, node rpc.Node, height uint64,
	spans *models.DiscoveryResult) (uint32, error) {

	if spans != nil {
		if span, ok := spans.SpanAt(height); ok {
			return span.SpecVersion, nil
		}
	}

	hash, err := c.timedBlockHash(ctx, node, height)
	if err != nil {
		return 0, err
	}
	started := time.Now()
	version, err := node.RuntimeVersionAt(ctx, hash)
	c.observeRPC("state_getRuntimeVersion", started, err)
	if err != nil {
		return 0, err
	}
	return version.SpecVersion, nil
}

// CollectBlock 采集并解码单个区块
// 拉取区块哈希、完整区块与事件存储,依次跑摘要、交易、事件解码器
func (c *Collector) CollectBlock(ctx context.Context, node rpc.Node, height uint64,
	specVersion uint32, props *models.ChainProperties) (*models.DecodedBlock, error) {

	log := logging.NewBlockLogger(c.logger, height)

	hash, err := c.timedBlockHash(ctx, node, height)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	blockData, err := node.BlockAt(ctx, hash)
	c.observeRPC("chain_getBlock", started, err)
	if err != nil {
		return nil, err
	}

	// 事件存储为空(创世或无事件区块)不是错误
	started = time.Now()
	eventsHex, err := node.StorageAt(ctx, rpc.WellKnownEventsKey, hash)
	c.observeRPC("state_getStorage", started, err)
	if err != nil {
		log.Debugf("无事件存储: %v", err)
		eventsHex = ""
	}

	calls := c.registry.ResolveCalls(specVersion)
	if calls == nil {
		log.Warnf("规范版本%d没有已注册的调用表，交易将以索引形式呈现", specVersion)
	}
	layout := c.registry.ResolveEvents(specVersion)

	header := blockData.Block.Header

	digest := c.digests.DecodeDigest(header.Digest.Logs, props)
	extrinsics := c.extrinsics.DecodeExtrinsics(blockData.Block.Extrinsics, calls, props)
	c.observeDecodes(extrinsics)

	var events *models.BlockEvents
	if eventsHex != "" {
		events = c.events.DecodeEvents(eventsHex, layout, props)
		c.observeDecode("events", events.Error == "")
	}

	decoded := &models.DecodedBlock{
		Height:          height,
		Hash:            hash,
		ParentHash:      header.ParentHash,
		StateRoot:       header.StateRoot,
		SpecVersion:     specVersion,
		Author:          digest.Author,
		ConsensusEngine: digest.ConsensusEngine,
		Extrinsics:      extrinsics,
		Events:          events,
		ExtrinsicCount:  len(extrinsics),
		CollectedAt:     time.Now(),
	}
	if events != nil {
		decoded.EventCount = events.EventCount
	}
	return decoded, nil
}

// timedBlockHash 带计量的区块哈希查询
func (c *Collector) timedBlockHash(ctx context.Context, node rpc.Node, height uint64) (string, error) {
	started := time.Now()
	hash, err := node.BlockHash(ctx, height)
	c.observeRPC("chain_getBlockHash", started, err)
	return hash, err
}

// recordBlock 累加区块级统计
func (c *Collector) recordBlock(block *models.DecodedBlock, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ObserveBlock(ok)
	}
	if !ok {
		c.stats.FailedBlocks++
		return
	}

	c.stats.TotalBlocks++
	c.stats.TotalExtrinsics += uint64(block.ExtrinsicCount)
	c.stats.TotalEvents += uint64(block.EventCount)
	c.stats.FailedExtrinsics += uint64(block.FailedExtrinsics())
	if block.Events != nil {
		for _, group := range block.Events.ByExtrinsic {
			c.stats.TotalTransfers += uint64(len(group.Transfers))
		}
	}
}

// observeDecodes 记录一批交易的解码结果
func (c *Collector) observeDecodes(extrinsics []*models.ParsedExtrinsic) {
	if c.metrics == nil {
		return
	}
	for _, ext := range extrinsics {
		c.metrics.ObserveDecode("extrinsic", ext.OK)
	}
}

func (c *Collector) observeDecode(kind string, ok bool) {
	if c.metrics != nil {
		c.metrics.ObserveDecode(kind, ok)
	}
}

func (c *Collector) observeRPC(method string, started time.Time, err error) {
	if c.metrics != nil {
		c.metrics.ObserveRPC(method, time.Since(started), err)
	}
}

func (c *Collector) observeQueueDepth(depth int) {
	if c.metrics != nil {
		c.metrics.SetQueueDepth(depth)
	}
}

// Close 释放连接池与进度管理器
func (c *Collector) Close() error {
	var errs []error
	if err := c.pool.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.progress.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("关闭采集器时发生错误: %v", errs)
	}
	return nil
}
