package output

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	scanerrors "chainscan/internal/errors"
	"chainscan/pkg/models"
)

// 默认topic,配置缺失时使用
const (
	defaultBlockTopic = "chainscan_blocks"
	defaultSpanTopic  = "chainscan_runtime_spans"
)

// KafkaOutput 同步Kafka输出器
// 区块消息按高度做分区键,保证同一高度的重写落在同一分区
type KafkaOutput struct {
	logger   *logrus.Logger
	topics   map[string]string
	producer sarama.SyncProducer
}

// NewKafkaOutput 创建同步Kafka输出器
func NewKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaOutput, error) {
	logger.Infof("初始化Kafka输出器，brokers: %v", brokers)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, scanerrors.WrapError(err, scanerrors.ErrorTypeKafka, scanerrors.SeverityHigh,
			"KAFKA_PRODUCE_FAILED", "创建Kafka生产者失败")
	}

	logger.Info("Kafka生产者已创建")

	return &KafkaOutput{
		logger:   logger,
		topics:   topics,
		producer: producer,
	}, nil
}

// topic 解析数据类型对应的topic,未配置时回退默认名
func (k *KafkaOutput) topic(kind, fallback string) string {
	if t, ok := k.topics[kind]; ok && t != "" {
		return t
	}
	return fallback
}

// send 序列化并同步发送一条消息
func (k *KafkaOutput) send(topic, key string, data interface{}) error {
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

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return scanerrors.WrapError(err, scanerrors.ErrorTypeKafka, scanerrors.SeverityHigh,
			"KAFKA_PRODUCE_FAILED", fmt.Sprintf("发送消息到topic %s失败", topic))
	}

	k.logger.Debugf("消息已发送到topic %s (partition=%d offset=%d)", topic, partition, offset)
	return nil
}

// WriteBlock 发送区块解码结果
func (k *KafkaOutput) WriteBlock(block *models.DecodedBlock) error {
	if block == nil {
		return nil
	}
	return k.send(k.topic("blocks", defaultBlockTopic),
		strconv.FormatUint(block.Height, 10), block)
}

// WriteSpans 发送运行时发现结果
func (k *KafkaOutput) WriteSpans(result *models.DiscoveryResult) error {
	if result == nil {
		return nil
	}
	return k.send(k.topic("runtime_spans", defaultSpanTopic), result.Endpoint, result)
}

// Close 关闭生产者
func (k *KafkaOutput) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
