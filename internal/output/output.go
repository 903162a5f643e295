package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chainscan/internal/config"
	scanerrors "chainscan/internal/errors"
	"chainscan/pkg/models"
)

// Output 解码结果输出接口
// 实现必须可被多协程并发调用
type Output interface {
	// WriteBlock 写入单个区块的解码结果
	WriteBlock(block *models.DecodedBlock) error
	// WriteSpans 写入一轮运行时发现的结果
	WriteSpans(result *models.DiscoveryResult) error
	// Close 关闭输出器并落盘未写完的数据
	Close() error
}

// NewOutput 按配置创建输出器
// 支持json/json_async/kafka/kafka_async/null五种格式
func NewOutput(cfg *config.OutputConfig, logger *logrus.Logger) (Output, error) {
	if cfg == nil {
		return nil, scanerrors.NewScanError(scanerrors.ErrorTypeConfig, scanerrors.SeverityHigh,
			"CONFIG_INVALID", "输出配置为空")
	}

	switch cfg.Format {
	case "json":
		return NewFileOutput(cfg.Directory, logger)
	case "json_async":
		return NewAsyncFileOutput(cfg.Directory, logger)
	case "kafka":
		if cfg.Kafka == nil || len(cfg.Kafka.Brokers) == 0 {
			return nil, scanerrors.NewScanError(scanerrors.ErrorTypeConfig, scanerrors.SeverityHigh,
				"CONFIG_INVALID", "kafka输出缺少broker配置")
		}
		return NewKafkaOutput(cfg.Kafka.Brokers, cfg.Kafka.Topics, logger)
	case "kafka_async":
		if cfg.Kafka == nil || len(cfg.Kafka.Brokers) == 0 {
			return nil, scanerrors.NewScanError(scanerrors.ErrorTypeConfig, scanerrors.SeverityHigh,
				"CONFIG_INVALID", "kafka输出缺少broker配置")
		}
		return NewAsyncKafkaOutput(cfg.Kafka.Brokers, cfg.Kafka.Topics, logger)
	case "null":
		return NewNullOutput(), nil
	default:
		return nil, scanerrors.NewScanError(scanerrors.ErrorTypeConfig, scanerrors.SeverityHigh,
			"CONFIG_INVALID", fmt.Sprintf("不支持的输出格式: %s", cfg.Format))
	}
}

// FileOutput JSON行文件输出器
// 区块与运行时范围分别写入带时间戳命名的文件,每条记录一行JSON
type FileOutput struct {
	outputDir string
	logger    *logrus.Logger

	mu        sync.Mutex
	blockFile *os.File
	spanFile  *os.File
}

// NewFileOutput 创建文件输出器
func NewFileOutput(outputDir string, logger *logrus.Logger) (*FileOutput, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, scanerrors.WrapError(err, scanerrors.ErrorTypeFileIO, scanerrors.SeverityHigh,
			"FILE_IO_FAILED", fmt.Sprintf("创建输出目录失败: %s", outputDir))
	}

	timestamp := time.Now().Format("20060102_150405")

	blockFile, err := os.Create(filepath.Join(outputDir, fmt.Sprintf("blocks_%s.json", timestamp)))
	if err != nil {
		return nil, scanerrors.WrapError(err, scanerrors.ErrorTypeFileIO, scanerrors.SeverityHigh,
			"FILE_IO_FAILED", "创建区块输出文件失败")
	}

	spanFile, err := os.Create(filepath.Join(outputDir, fmt.Sprintf("runtime_spans_%s.json", timestamp)))
	if err != nil {
		blockFile.Close()
		return nil, scanerrors.WrapError(err, scanerrors.ErrorTypeFileIO, scanerrors.SeverityHigh,
			"FILE_IO_FAILED", "创建运行时范围输出文件失败")
	}

	logger.Infof("文件输出器已创建，目录: %s", outputDir)

	return &FileOutput{
		outputDir: outputDir,
		logger:    logger,
		blockFile: blockFile,
		spanFile:  spanFile,
	}, nil
}

// WriteBlock 写入区块解码结果
func (o *FileOutput) WriteBlock(block *models.DecodedBlock) error {
	if block == nil {
		return nil
	}
	return o.writeLine(o.blockFile, block, "区块")
}

// WriteSpans 写入运行时发现结果
func (o *FileOutput) WriteSpans(result *models.DiscoveryResult) error {
	if result == nil {
		return nil
	}
	return o.writeLine(o.spanFile, result, "运行时范围")
}

// writeLine 序列化为一行JSON写入并刷盘
func (o *FileOutput) writeLine(file *os.File, v interface{}, what string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return scanerrors.WrapError(err, scanerrors.ErrorTypeSerialization, scanerrors.SeverityMedium,
			"SERIALIZATION_FAILED", fmt.Sprintf("序列化%s数据失败", what))
	}
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := file.Write(data); err != nil {
		return scanerrors.WrapError(err, scanerrors.ErrorTypeFileIO, scanerrors.SeverityHigh,
			"FILE_IO_FAILED", fmt.Sprintf("写入%s文件失败", what))
	}
	if err := file.Sync(); err != nil {
		return scanerrors.WrapError(err, scanerrors.ErrorTypeFileIO, scanerrors.SeverityHigh,
			"FILE_IO_FAILED", fmt.Sprintf("刷新%s文件失败", what))
	}
	return nil
}

// Close 关闭输出文件
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error
	if o.blockFile != nil {
		if err := o.blockFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭区块文件失败: %w", err))
		}
		o.blockFile = nil
	}
	if o.spanFile != nil {
		if err := o.spanFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭运行时范围文件失败: %w", err))
		}
		o.spanFile = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("关闭输出文件时发生错误: %v", errs)
	}
	return nil
}

// NullOutput 丢弃一切写入的空输出器,试运行模式使用
type NullOutput struct {
	mu     sync.Mutex
	blocks uint64
	spans  uint64
}

// NewNullOutput 创建空输出器
func NewNullOutput() *NullOutput {
	return &NullOutput{}
}

// WriteBlock 丢弃区块并计数
func (o *NullOutput) WriteBlock(block *models.DecodedBlock) error {
	if block == nil {
		return nil
	}
	o.mu.Lock()
	o.blocks++
	o.mu.Unlock()
	return nil
}

// WriteSpans 丢弃运行时范围并计数
func (o *NullOutput) WriteSpans(result *models.DiscoveryResult) error {
	if result == nil {
		return nil
	}
	o.mu.Lock()
	o.spans++
	o.mu.Unlock()
	return nil
}

// Written 返回丢弃的区块数与范围结果数
func (o *NullOutput) Written() (uint64, uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.blocks, o.spans
}

// Close 空输出器无需清理
func (o *NullOutput) Close() error {
	return nil
}
