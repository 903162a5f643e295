package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"chainscan/internal/collector"
	"chainscan/internal/config"
	"chainscan/internal/decoder"
	"chainscan/internal/logging"
	"chainscan/internal/metadata"
	"chainscan/internal/metrics"
	"chainscan/internal/output"
	"chainscan/internal/rpc"
	"chainscan/internal/runtime"
	"chainscan/internal/shutdown"
	"chainscan/internal/validation"
	"chainscan/pkg/models"
)

var (
	// 全局参数
	configFile  string
	endpoint    string
	logLevel    string
	metadataDir string

	// collect参数
	startBlock    uint64
	endBlock      uint64
	workers       int
	outputDir     string
	format        string
	resume        bool
	resetProgress bool
	dryRun        bool

	// runtimes/decode参数
	maxHeight   uint64
	specVersion uint32
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chainscan",
		Short: "链数据解码采集工具",
		Long:  `面向Substrate系区块链的数据采集工具，解码交易、事件与区块头摘要，并发现运行时版本范围`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "节点地址，设置后覆盖配置里的节点列表")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别，设置后覆盖配置")
	rootCmd.PersistentFlags().StringVar(&metadataDir, "metadata-dir", "", "元数据JSON目录，追加注册到内置调用表之上")

	collectCmd := &cobra.Command{
		Use:   "collect",
		Short: "采集并解码指定高度范围的区块",
		RunE:  runCollect,
	}
	collectCmd.Flags().Uint64Var(&startBlock, "start-block", 0, "起始区块高度")
	collectCmd.Flags().Uint64Var(&endBlock, "end-block", 0, "结束区块高度")
	collectCmd.Flags().IntVar(&workers, "workers", 0, "工作协程数，0表示用配置值")
	collectCmd.Flags().StringVar(&outputDir, "output", "", "输出目录，设置后覆盖配置")
	collectCmd.Flags().StringVar(&format, "format", "", "输出格式 (json/json_async/kafka/kafka_async/null)")
	collectCmd.Flags().BoolVar(&resume, "resume", true, "从上次进度续采")
	collectCmd.Flags().BoolVar(&resetProgress, "reset-progress", false, "清除进度重新开始")
	collectCmd.Flags().BoolVar(&dryRun, "dry-run", false, "试运行，解码但不写出")

	runtimesCmd := &cobra.Command{
		Use:   "runtimes",
		Short: "发现运行时版本范围",
		RunE:  runRuntimes,
	}
	runtimesCmd.Flags().Uint64Var(&maxHeight, "max-height", 0, "发现的最高高度，0表示链上最新")

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "离线解码单条数据",
	}
	decodeExtrinsicCmd := &cobra.Command{
		Use:   "extrinsic <hex>",
		Short: "解码单笔交易",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecodeExtrinsic,
	}
	decodeEventsCmd := &cobra.Command{
		Use:   "events <hex>",
		Short: "解码事件存储",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecodeEvents,
	}
	decodeDigestCmd := &cobra.Command{
		Use:   "digest <hex> [hex...]",
		Short: "解码区块头摘要日志",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDecodeDigest,
	}
	for _, cmd := range []*cobra.Command{decodeExtrinsicCmd, decodeEventsCmd} {
		cmd.Flags().Uint32Var(&specVersion, "spec-version", 0, "规范版本，0表示用已注册的最高版本")
	}
	decodeCmd.AddCommand(decodeExtrinsicCmd, decodeEventsCmd, decodeDigestCmd)

	propertiesCmd := &cobra.Command{
		Use:   "properties",
		Short: "查询链属性",
		RunE:  runProperties,
	}

	progressCmd := &cobra.Command{
		Use:   "progress",
		Short: "查看采集进度",
		RunE:  runProgress,
	}

	rootCmd.AddCommand(collectCmd, runtimesCmd, decodeCmd, propertiesCmd, progressCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// setup 加载配置并构建日志器,套用命令行覆盖
func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}

	if endpoint != "" {
		cfg.Blockchain.Nodes = []*config.NodeConfig{
			{Name: "cli_node", URL: endpoint, Type: "ws", Priority: 1},
		}
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, err := logging.NewLogrusLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	if endpoint != "" {
		result := validation.NewValidator(logger, false).ValidateEndpoint(endpoint)
		if !result.Valid {
			return nil, nil, fmt.Errorf("节点地址无效: %s", result.Errors[0].Message)
		}
	}
	return cfg, logger, nil
}

// buildRegistry 内置调用表加可选的元数据目录
func buildRegistry(logger *logrus.Logger) (*metadata.Registry, error) {
	registry := metadata.DefaultRegistry()
	if metadataDir != "" {
		if err := registry.LoadDir(metadataDir); err != nil {
			return nil, fmt.Errorf("加载元数据目录失败: %w", err)
		}
		logger.Infof("已加载元数据目录: %s", metadataDir)
	}
	return registry, nil
}

// withNode 建池借一个连接执行fn,结束时整体关闭
func withNode(cfg *config.Config, logger *logrus.Logger, fn func(ctx context.Context, node rpc.Node) error) error {
	pool := rpc.NewPool(cfg.Blockchain.Nodes, logger)
	if err := pool.Initialize(); err != nil {
		return fmt.Errorf("初始化连接池失败: %w", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire()
	if err != nil {
		return err
	}
	defer conn.Release()

	return fn(context.Background(), conn.Client())
}

// printJSON 结果统一以缩进JSON打到标准输出
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	if workers > 0 {
		cfg.Collector.Workers = workers
	}
	if outputDir != "" {
		cfg.Output.Directory = outputDir
	}
	if format != "" {
		cfg.Output.Format = format
	}
	if dryRun {
		cfg.Output.Format = "null"
	}

	if endBlock == 0 {
		return fmt.Errorf("需要指定 --end-block")
	}
	rangeResult := validation.NewValidator(logger, false).
		ValidateHeightRange(&models.HeightRange{StartBlock: startBlock, EndBlock: endBlock})
	if !rangeResult.Valid {
		return fmt.Errorf("高度范围无效: %s", rangeResult.Errors[0].Message)
	}

	registry, err := buildRegistry(logger)
	if err != nil {
		return err
	}

	out, err := output.NewOutput(cfg.Output, logger)
	if err != nil {
		return fmt.Errorf("创建输出器失败: %w", err)
	}

	col, err := collector.NewCollector(cfg, registry, out, logger)
	if err != nil {
		return fmt.Errorf("创建采集器失败: %w", err)
	}
	col.SetMetrics(metrics.New())

	if err := col.Initialize(); err != nil {
		return fmt.Errorf("初始化连接池失败: %w", err)
	}

	if resetProgress {
		if err := col.ResetProgress(); err != nil {
			logger.Warnf("重置进度失败: %v", err)
		} else {
			logger.Info("进度已重置")
		}
	}

	start := startBlock
	if resume && !resetProgress {
		if h := col.ResumeHeight(); h > start {
			logger.Infof("从进度检查点续采，起始高度%d", h)
			start = h
		}
	}
	if start > endBlock {
		logger.Infof("起始高度%d已超过结束高度%d，无事可做", start, endBlock)
		return nil
	}

	coordinator := shutdown.NewCoordinator(30*time.Second, logger)
	coordinator.Register("停止采集器", shutdown.OrderStopCollector, func(ctx context.Context) error {
		return col.Close()
	})
	coordinator.Register("关闭输出器", shutdown.OrderFlushOutputs, func(ctx context.Context) error {
		return out.Close()
	})
	coordinator.Start()

	stats, err := col.CollectRange(coordinator.Context(), start, endBlock)
	if stats != nil {
		logger.Info("采集统计:")
		logger.Infof("  区块数: %d (失败%d)", stats.TotalBlocks, stats.FailedBlocks)
		logger.Infof("  交易数: %d (解码失败%d)", stats.TotalExtrinsics, stats.FailedExtrinsics)
		logger.Infof("  事件数: %d", stats.TotalEvents)
		logger.Infof("  转账数: %d", stats.TotalTransfers)
		logger.Infof("  耗时: %s (%.2f区块/秒)", stats.Duration, stats.BlocksPerSecond)
	}

	coordinator.Shutdown()
	coordinator.Wait()

	if err != nil && err != context.Canceled {
		return fmt.Errorf("采集失败: %w", err)
	}
	return nil
}

func runRuntimes(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	return withNode(cfg, logger, func(ctx context.Context, node rpc.Node) error {
		cache := runtime.NewCache(cfg.Cache.RuntimeTTLDuration(), nil, logger)
		discovery := runtime.NewDiscovery(runtime.NewWalker(logger), cache, logger)

		result, err := discovery.Spans(ctx, node, maxHeight)
		if err != nil {
			return fmt.Errorf("运行时发现失败: %w", err)
		}
		return printJSON(result)
	})
}

// offlineDeps 离线解码用的调用表与生效版本
func offlineDeps(logger *logrus.Logger) (*metadata.Registry, uint32, error) {
	registry, err := buildRegistry(logger)
	if err != nil {
		return nil, 0, err
	}

	version := specVersion
	if version == 0 {
		versions := registry.CallVersions()
		if len(versions) > 0 {
			version = versions[len(versions)-1]
		}
	}
	return registry, version, nil
}

func runDecodeExtrinsic(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	registry, version, err := offlineDeps(logger)
	if err != nil {
		return err
	}

	raw, err := hexutil.Decode(args[0])
	if err != nil {
		return fmt.Errorf("hex解码失败: %w", err)
	}

	propsCache := runtime.NewCache(cfg.Cache.PropertiesTTLDuration(), nil, logger)
	props := runtime.NewPropertiesService(propsCache, cfg.Chain, logger).FromConfig()

	parsed := decoder.NewExtrinsicDecoder(logger, cfg.Decoder).
		ParseExtrinsic(raw, registry.ResolveCalls(version), props)
	return printJSON(parsed)
}

func runDecodeEvents(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	registry, version, err := offlineDeps(logger)
	if err != nil {
		return err
	}

	propsCache := runtime.NewCache(cfg.Cache.PropertiesTTLDuration(), nil, logger)
	props := runtime.NewPropertiesService(propsCache, cfg.Chain, logger).FromConfig()

	events := decoder.NewEventDecoder(logger).
		DecodeEvents(args[0], registry.ResolveEvents(version), props)
	return printJSON(events)
}

func runDecodeDigest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	propsCache := runtime.NewCache(cfg.Cache.PropertiesTTLDuration(), nil, logger)
	props := runtime.NewPropertiesService(propsCache, cfg.Chain, logger).FromConfig()

	digest := decoder.NewDigestDecoder(logger).DecodeDigest(args, props)
	return printJSON(digest)
}

func runProperties(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	return withNode(cfg, logger, func(ctx context.Context, node rpc.Node) error {
		cache := runtime.NewCache(cfg.Cache.PropertiesTTLDuration(), nil, logger)
		service := runtime.NewPropertiesService(cache, cfg.Chain, logger)

		props, err := service.Properties(ctx, node)
		if err != nil {
			logger.Warnf("从节点取属性失败，使用配置与缺省值: %v", err)
			props = service.FromConfig()
		}
		return printJSON(props)
	})
}

func runProgress(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	registry := metadata.DefaultRegistry()
	col, err := collector.NewCollector(cfg, registry, output.NewNullOutput(), logger)
	if err != nil {
		return err
	}
	defer col.Close()

	return printJSON(col.ProgressInfo())
}
