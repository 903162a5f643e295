package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置管理器
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// LoadConfig 从数据库加载完整配置
// 数据库里没有的段沿用默认值
func (dc *DatabaseConfig) LoadConfig() (*Config, error) {
	config := GetDefaultConfig()

	blockchainConfig, err := dc.loadBlockchainConfig()
	if err != nil {
		return nil, fmt.Errorf("加载节点配置失败: %w", err)
	}
	if len(blockchainConfig.Nodes) > 0 {
		config.Blockchain = blockchainConfig
	}

	if err := dc.loadChainConfig(config.Chain); err != nil {
		return nil, fmt.Errorf("加载链属性配置失败: %w", err)
	}

	if err := dc.loadCollectorConfig(config.Collector); err != nil {
		return nil, fmt.Errorf("加载采集器配置失败: %w", err)
	}

	if err := dc.loadDecoderConfig(config.Decoder); err != nil {
		return nil, fmt.Errorf("加载解码器配置失败: %w", err)
	}

	if err := dc.loadOutputConfig(config.Output); err != nil {
		return nil, fmt.Errorf("加载输出配置失败: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// loadBlockchainConfig 加载节点列表
func (dc *DatabaseConfig) loadBlockchainConfig() (*BlockchainConfig, error) {
	query := `SELECT name, url, node_type, rate_limit, priority FROM chain_nodes WHERE is_active = true ORDER BY priority`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*NodeConfig
	for rows.Next() {
		var node NodeConfig
		err := rows.Scan(&node.Name, &node.URL, &node.Type, &node.RateLimit, &node.Priority)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, &node)
	}

	return &BlockchainConfig{
		Nodes: nodes,
	}, nil
}

// loadKeyValues 读取键值表中的活跃配置项
func (dc *DatabaseConfig) loadKeyValues(table string) (map[string]string, error) {
	query := fmt.Sprintf(`SELECT config_key, config_value FROM %s WHERE is_active = true`, table)
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, nil
}

// loadChainConfig 加载链属性覆盖
func (dc *DatabaseConfig) loadChainConfig(config *ChainConfig) error {
	values, err := dc.loadKeyValues("chain_config")
	if err != nil {
		return err
	}

	for key, value := range values {
		switch key {
		case "ss58_format":
			if v, err := strconv.Atoi(value); err == nil {
				config.SS58Format = v
			}
		case "token_decimals":
			if v, err := strconv.Atoi(value); err == nil {
				config.TokenDecimals = v
			}
		case "token_symbol":
			config.TokenSymbol = value
		}
	}
	return nil
}

// loadCollectorConfig 加载采集器配置
func (dc *DatabaseConfig) loadCollectorConfig(config *CollectorConfig) error {
	values, err := dc.loadKeyValues("collector_config")
	if err != nil {
		return err
	}

	for key, value := range values {
		switch key {
		case "workers":
			if v, err := strconv.Atoi(value); err == nil {
				config.Workers = v
			}
		case "batch_size":
			if v, err := strconv.Atoi(value); err == nil {
				config.BatchSize = v
			}
		case "retry_limit":
			if v, err := strconv.Atoi(value); err == nil {
				config.RetryLimit = v
			}
		case "queue_size":
			if v, err := strconv.Atoi(value); err == nil {
				config.QueueSize = v
			}
		case "timeout":
			config.Timeout = value
		}
	}
	return nil
}

// loadDecoderConfig 加载解码器配置
func (dc *DatabaseConfig) loadDecoderConfig(config *DecoderConfig) error {
	values, err := dc.loadKeyValues("decoder_config")
	if err != nil {
		return err
	}

	for key, value := range values {
		switch key {
		case "scan_window":
			if v, err := strconv.Atoi(value); err == nil {
				config.ScanWindow = v
			}
		}
	}
	return nil
}

// loadOutputConfig 加载输出配置
func (dc *DatabaseConfig) loadOutputConfig(config *OutputConfig) error {
	values, err := dc.loadKeyValues("output_config")
	if err != nil {
		return err
	}

	for key, value := range values {
		switch key {
		case "format":
			config.Format = value
		case "directory":
			config.Directory = value
		case "compress":
			config.Compress = strings.ToLower(value) == "true"
		case "kafka_brokers":
			var brokers []string
			if err := json.Unmarshal([]byte(value), &brokers); err == nil {
				if config.Kafka == nil {
					config.Kafka = &KafkaConfig{}
				}
				config.Kafka.Brokers = brokers
			}
		}
	}

	// Kafka输出需要主题映射
	if config.Format == "kafka" || config.Format == "kafka_async" {
		topics, err := dc.loadKafkaTopics()
		if err != nil {
			return err
		}
		if len(topics) > 0 {
			if config.Kafka == nil {
				config.Kafka = &KafkaConfig{}
			}
			config.Kafka.Topics = topics
		}
	}

	return nil
}

// loadKafkaTopics 加载Kafka主题配置
func (dc *DatabaseConfig) loadKafkaTopics() (map[string]string, error) {
	query := `SELECT data_type, topic_name FROM kafka_topics WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	topics := make(map[string]string)
	for rows.Next() {
		var dataType, topicName string
		err := rows.Scan(&dataType, &topicName)
		if err != nil {
			return nil, err
		}
		topics[dataType] = topicName
	}

	return topics, nil
}

// configTable 配置类型对应的键值表
func configTable(configType string) (string, error) {
	switch configType {
	case "chain":
		return "chain_config", nil
	case "collector":
		return "collector_config", nil
	case "decoder":
		return "decoder_config", nil
	case "output":
		return "output_config", nil
	case "system":
		return "system_config", nil
	default:
		return "", fmt.Errorf("不支持的配置类型: %s", configType)
	}
}

// UpdateConfig 更新配置
func (dc *DatabaseConfig) UpdateConfig(configType, key, value string) error {
	tableName, err := configTable(configType)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (config_key, config_value, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (config_key)
		DO UPDATE SET config_value = $2, updated_at = CURRENT_TIMESTAMP
	`, tableName)

	_, err = dc.DB.Exec(query, key, value)
	return err
}

// GetConfig 获取配置值
func (dc *DatabaseConfig) GetConfig(configType, key string) (string, error) {
	tableName, err := configTable(configType)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf(`SELECT config_value FROM %s WHERE config_key = $1 AND is_active = true`, tableName)
	var value string
	err = dc.DB.QueryRow(query, key).Scan(&value)
	return value, err
}

// ListConfigs 列出所有配置
func (dc *DatabaseConfig) ListConfigs(configType string) (map[string]string, error) {
	tableName, err := configTable(configType)
	if err != nil {
		return nil, err
	}
	return dc.loadKeyValues(tableName)
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
