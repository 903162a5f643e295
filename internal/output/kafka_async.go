package output

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	scanerrors "chainscan/internal/errors"
	"chainscan/pkg/models"
)

// AsyncKafkaOutput 异步Kafka输出器
// 发送只进入生产者输入通道即返回,成功与失败由后台协程计数并记日志
type AsyncKafkaOutput struct {
	logger   *logrus.Logger
	topics   map[string]string
	producer sarama.AsyncProducer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.RWMutex
	sentCount  int64
	errorCount int64
}

// NewAsyncKafkaOutput 创建异步Kafka输出器
func NewAsyncKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*AsyncKafkaOutput, error) {
	logger.Infof("初始化异步Kafka输出器，brokers: %v", brokers)

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Timeout = 3 * time.Second
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V2_8_0_0

	// 批量与压缩
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Flush.Bytes = 1024 * 1024
	config.Producer.Compression = sarama.CompressionSnappy
	config.ChannelBufferSize = 1000

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, scanerrors.WrapError(err, scanerrors.ErrorTypeKafka, scanerrors.SeverityHigh,
			"KAFKA_PRODUCE_FAILED", "创建异步Kafka生产者失败")
	}

	ctx, cancel := context.WithCancel(context.Background())

	k := &AsyncKafkaOutput{
		logger:   logger,
		topics:   topics,
		producer: producer,
		ctx:      ctx,
		cancel:   cancel,
	}

	k.wg.Add(3)
	go k.handleSuccesses()
	go k.handleErrors()
	go k.reportStats()

	logger.Info("异步Kafka生产者已创建并启动")
	return k, nil
}

// handleSuccesses 统计成功发送的消息
func (k *AsyncKafkaOutput) handleSuccesses() {
	defer k.wg.Done()
	for {
		select {
		case success := <-k.producer.Successes():
			if success != nil {
				k.mu.Lock()
				k.sentCount++
				k.mu.Unlock()
				k.logger.Debugf("消息已发送到topic %s (partition=%d offset=%d)",
					success.Topic, success.Partition, success.Offset)
			}
		case <-k.ctx.Done():
			return
		}
	}
}

// handleErrors 统计并记录发送失败的消息
func (k *AsyncKafkaOutput) handleErrors() {
	defer k.wg.Done()
	for {
		select {
		case err := <-k.producer.Errors():
			if err != nil {
				k.mu.Lock()
				k.errorCount++
				k.mu.Unlock()
				k.logger.Errorf("Kafka发送失败: topic=%s error=%v", err.Msg.Topic, err.Err)
			}
		case <-k.ctx.Done():
			return
		}
	}
}

// reportStats 周期性报告发送统计
func (k *AsyncKafkaOutput) reportStats() {
	defer k.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			k.mu.RLock()
			sent, errors := k.sentCount, k.errorCount
			k.mu.RUnlock()
			if sent > 0 || errors > 0 {
				successRate := float64(sent) / float64(sent+errors) * 100
				k.logger.Infof("Kafka统计: 已发送%d条，失败%d条，成功率%.2f%%", sent, errors, successRate)
			}
		case <-k.ctx.Done():
			return
		}
	}
}

// topic 解析数据类型对应的topic
func (k *AsyncKafkaOutput) topic(kind, fallback string) string {
	if t, ok := k.topics[kind]; ok && t != "" {
		return t
	}
	return fallback
}

// sendAsync 序列化后投入生产者输入通道,通道满视为失败
func (k *AsyncKafkaOutput) sendAsync(topic, key string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return scanerrors.WrapError(err, scanerrors.ErrorTypeSerialization, scanerrors.SeverityMedium,
			"SERIALIZATION_FAILED", "序列化Kafka消息失败")
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(jsonData),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	select {
	case k.producer.Input() <- msg:
		return nil
	case <-k.ctx.Done():
		return scanerrors.NewScanError(scanerrors.ErrorTypeKafka, scanerrors.SeverityMedium,
			"KAFKA_PRODUCE_FAILED", "异步Kafka生产者已关闭")
	default:
		return scanerrors.NewScanError(scanerrors.ErrorTypeKafka, scanerrors.SeverityMedium,
			"KAFKA_PRODUCE_FAILED", fmt.Sprintf("topic %s的输入通道已满", topic))
	}
}

// WriteBlock 异步发送区块解码结果
func (k *AsyncKafkaOutput) WriteBlock(block *models.DecodedBlock) error {
	if block == nil {
		return nil
	}
	return k.sendAsync(k.topic("blocks", defaultBlockTopic),
		strconv.FormatUint(block.Height, 10), block)
}

// WriteSpans 异步发送运行时发现结果
func (k *AsyncKafkaOutput) WriteSpans(result *models.DiscoveryResult) error {
	if result == nil {
		return nil
	}
	return k.sendAsync(k.topic("runtime_spans", defaultSpanTopic), result.Endpoint, result)
}

// Stats 发送统计
func (k *AsyncKafkaOutput) Stats() (sent, errors int64) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.sentCount, k.errorCount
}

// Close 停止后台协程并关闭生产者
func (k *AsyncKafkaOutput) Close() error {
	k.cancel()
	k.wg.Wait()

	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
