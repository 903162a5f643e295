package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	scanerrors "chainscan/internal/errors"
	"chainscan/pkg/models"
)

// 异步文件输出的缓冲参数
const (
	asyncQueueSize     = 1024
	asyncFlushInterval = 500 * time.Millisecond
	asyncFlushBatch    = 64
)

// AsyncFileOutput 带缓冲的异步文件输出器
// 写入先进入内存队列,由单个写协程批量落盘,Close会排空队列后才返回
type AsyncFileOutput struct {
	outputDir string
	logger    *logrus.Logger

	blockFile *os.File
	spanFile  *os.File

	blockChan chan *models.DecodedBlock
	spanChan  chan *models.DiscoveryResult

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	written uint64
	dropped uint64
	closed  bool
}

// NewAsyncFileOutput 创建异步文件输出器
func NewAsyncFileOutput(outputDir string, logger *logrus.Logger) (*AsyncFileOutput, error) {
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

	ctx, cancel := context.WithCancel(context.Background())

	o := &AsyncFileOutput{
		outputDir: outputDir,
		logger:    logger,
		blockFile: blockFile,
		spanFile:  spanFile,
		blockChan: make(chan *models.DecodedBlock, asyncQueueSize),
		spanChan:  make(chan *models.DiscoveryResult, asyncQueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	o.wg.Add(2)
	go o.blockWriter()
	go o.spanWriter()

	logger.Infof("异步文件输出器已创建，目录: %s 队列容量: %d", outputDir, asyncQueueSize)
	return o, nil
}

// WriteBlock 区块进入写队列,队列满时丢弃并计数
func (o *AsyncFileOutput) WriteBlock(block *models.DecodedBlock) error {
	if block == nil {
		return nil
	}
	o.mu.RLock()
	closed := o.closed
	o.mu.RUnlock()
	if closed {
		return scanerrors.NewScanError(scanerrors.ErrorTypeFileIO, scanerrors.SeverityMedium,
			"OUTPUT_CLOSED", "输出器已关闭")
	}

	select {
	case o.blockChan <- block:
		return nil
	default:
		o.mu.Lock()
		o.dropped++
		o.mu.Unlock()
		return scanerrors.NewScanError(scanerrors.ErrorTypeFileIO, scanerrors.SeverityMedium,
			"OUTPUT_QUEUE_FULL", fmt.Sprintf("区块写队列已满，高度%d被丢弃", block.Height))
	}
}

// WriteSpans 运行时范围进入写队列
func (o *AsyncFileOutput) WriteSpans(result *models.DiscoveryResult) error {
	if result == nil {
		return nil
	}
	o.mu.RLock()
	closed := o.closed
	o.mu.RUnlock()
	if closed {
		return scanerrors.NewScanError(scanerrors.ErrorTypeFileIO, scanerrors.SeverityMedium,
			"OUTPUT_CLOSED", "输出器已关闭")
	}

	select {
	case o.spanChan <- result:
		return nil
	default:
		o.mu.Lock()
		o.dropped++
		o.mu.Unlock()
		return scanerrors.NewScanError(scanerrors.ErrorTypeFileIO, scanerrors.SeverityMedium,
			"OUTPUT_QUEUE_FULL", "运行时范围写队列已满")
	}
}

// blockWriter 区块写协程: 攒批落盘,定时器兜底刷新
func (o *AsyncFileOutput) blockWriter() {
	defer o.wg.Done()

	ticker := time.NewTicker(asyncFlushInterval)
	defer ticker.Stop()

	batch := make([]byte, 0, 64*1024)
	count := 0

	flush := func() {
		if count == 0 {
			return
		}
		o.flushBuffer(o.blockFile, batch, "区块")
		o.mu.Lock()
		o.written += uint64(count)
		o.mu.Unlock()
		batch = batch[:0]
		count = 0
	}

	for {
		select {
		case block := <-o.blockChan:
			data, err := json.Marshal(block)
			if err != nil {
				o.logger.Errorf("序列化区块%d失败: %v", block.Height, err)
				continue
			}
			batch = append(batch, data...)
			batch = append(batch, '\n')
			count++
			if count >= asyncFlushBatch {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-o.ctx.Done():
			// 排空队列再退出
			for {
				select {
				case block := <-o.blockChan:
					data, err := json.Marshal(block)
					if err != nil {
						continue
					}
					batch = append(batch, data...)
					batch = append(batch, '\n')
					count++
				default:
					flush()
					return
				}
			}
		}
	}
}

// spanWriter 运行时范围写协程,量小不攒批
func (o *AsyncFileOutput) spanWriter() {
	defer o.wg.Done()

	write := func(result *models.DiscoveryResult) {
		data, err := json.Marshal(result)
		if err != nil {
			o.logger.Errorf("序列化运行时范围失败: %v", err)
			return
		}
		o.flushBuffer(o.spanFile, append(data, '\n'), "运行时范围")
	}

	for {
		select {
		case result := <-o.spanChan:
			write(result)
		case <-o.ctx.Done():
			for {
				select {
				case result := <-o.spanChan:
					write(result)
				default:
					return
				}
			}
		}
	}
}

// flushBuffer 写入并刷盘,失败只记日志不中断写协程
func (o *AsyncFileOutput) flushBuffer(file *os.File, buf []byte, what string) {
	if len(buf) == 0 {
		return
	}
	if _, err := file.Write(buf); err != nil {
		o.logger.Errorf("写入%s文件失败: %v", what, err)
		return
	}
	if err := file.Sync(); err != nil {
		o.logger.Errorf("刷新%s文件失败: %v", what, err)
	}
}

// Stats 输出统计
func (o *AsyncFileOutput) Stats() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return map[string]interface{}{
		"written":     o.written,
		"dropped":     o.dropped,
		"block_queue": len(o.blockChan),
		"span_queue":  len(o.spanChan),
	}
}

// Close 停止写协程并排空队列后关闭文件
func (o *AsyncFileOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()

	var errs []error
	if err := o.blockFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("关闭区块文件失败: %w", err))
	}
	if err := o.spanFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("关闭运行时范围文件失败: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("关闭异步输出时发生错误: %v", errs)
	}

	o.logger.Infof("异步文件输出器已关闭，共写入%d条，丢弃%d条", o.written, o.dropped)
	return nil
}
