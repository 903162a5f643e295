package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"chainscan/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	scanerrors "chainscan/internal/errors"
)

// Config 主配置
type Config struct {
	Blockchain *BlockchainConfig  `mapstructure:"blockchain"`
	Chain      *ChainConfig       `mapstructure:"chain"`
	Collector  *CollectorConfig   `mapstructure:"collector"`
	Cache      *CacheConfig       `mapstructure:"cache"`
	Decoder    *DecoderConfig     `mapstructure:"decoder"`
	Output     *OutputConfig      `mapstructure:"output"`
	API        *APIConfig         `mapstructure:"api"`
	Logging    *logging.LogConfig `mapstructure:"logging"`
}

// BlockchainConfig 区块链配置
type BlockchainConfig struct {
	Nodes []*NodeConfig `mapstructure:"nodes"`
}

// NodeConfig 节点配置
type NodeConfig struct {
	Name      string `mapstructure:"name"`
	URL       string `mapstructure:"url"`
	Type      string `mapstructure:"type"`
	RateLimit int    `mapstructure:"rate_limit"`
	Priority  int    `mapstructure:"priority"`
}

// ChainConfig 链属性覆盖
// SS58Format与TokenDecimals取-1表示不覆盖节点返回值
type ChainConfig struct {
	SS58Format    int    `mapstructure:"ss58_format"`
	TokenDecimals int    `mapstructure:"token_decimals"`
	TokenSymbol   string `mapstructure:"token_symbol"`
}

// CollectorConfig 采集器配置
type CollectorConfig struct {
	Workers    int    `mapstructure:"workers"`
	BatchSize  int    `mapstructure:"batch_size"`
	RetryLimit int    `mapstructure:"retry_limit"`
	Timeout    string `mapstructure:"timeout"`
	QueueSize  int    `mapstructure:"queue_size"`
	// CheckpointPath 进度检查点文件路径,空则使用默认路径
	CheckpointPath string `mapstructure:"checkpoint_path"`
}

// TimeoutDuration 解析单块处理超时,非法值回退30秒
func (c *CollectorConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// CacheConfig 缓存TTL配置
type CacheConfig struct {
	RuntimeTTL    string `mapstructure:"runtime_ttl"`
	PropertiesTTL string `mapstructure:"properties_ttl"`
}

// RuntimeTTLDuration 运行时范围缓存TTL,非法值回退10分钟
func (c *CacheConfig) RuntimeTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.RuntimeTTL)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// PropertiesTTLDuration 链属性缓存TTL,非法值回退30分钟
func (c *CacheConfig) PropertiesTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.PropertiesTTL)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// DecoderConfig 解码器配置
// ScanWindow 限定签名交易中定位调用索引时的最大扫描字节数
type DecoderConfig struct {
	ScanWindow int `mapstructure:"scan_window"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"`
	Directory string       `mapstructure:"directory"`
	Compress  bool         `mapstructure:"compress"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// APIConfig HTTP服务配置
type APIConfig struct {
	Listen string `mapstructure:"listen"`
	Mode   string `mapstructure:"mode"`
}

// LoadConfig 加载配置（自动检测配置源）
func LoadConfig(configPath string) (*Config, error) {
	// 首先尝试从环境变量获取数据库配置
	dbDSN := os.Getenv("CHAINSCAN_DB_DSN")
	if dbDSN != "" {
		logger := logrus.New()
		dbConfig, err := NewDatabaseConfig(dbDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("连接数据库失败: %w", err)
		}
		defer dbConfig.Close()

		config, err := dbConfig.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
		}

		logger.Info("已从数据库加载配置")
		return config, nil
	}

	// 检查是否存在数据库配置文件
	dbConfigFile := "configs/database.yaml"
	if _, err := os.Stat(dbConfigFile); err == nil {
		dbViper := viper.New()
		dbViper.SetConfigFile(dbConfigFile)
		dbViper.SetConfigType("yaml")

		if err := dbViper.ReadInConfig(); err == nil {
			dbDSN := dbViper.GetString("database.dsn")
			if dbDSN != "" {
				logger := logrus.New()
				dbConfig, err := NewDatabaseConfig(dbDSN, logger)
				if err == nil {
					defer dbConfig.Close()

					config, err := dbConfig.LoadConfig()
					if err == nil {
						logger.Info("已从数据库加载配置")
						return config, nil
					}
				}
			}
		}
	}

	// 数据库配置不可用时回退到YAML文件
	return LoadConfigFromFile(configPath)
}

// LoadConfigFromFile 从文件加载配置
// configPath为空时仅使用默认值与CHAINSCAN_*环境变量
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CHAINSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	config := GetDefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// setDefaults 注册标量默认值
// 只有注册过的键才能被AutomaticEnv捕获进Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("chain.ss58_format", -1)
	v.SetDefault("chain.token_decimals", -1)
	v.SetDefault("chain.token_symbol", "")
	v.SetDefault("collector.workers", 4)
	v.SetDefault("collector.batch_size", 50)
	v.SetDefault("collector.retry_limit", 3)
	v.SetDefault("collector.timeout", "30s")
	v.SetDefault("collector.queue_size", 256)
	v.SetDefault("cache.runtime_ttl", "10m")
	v.SetDefault("cache.properties_ttl", "30m")
	v.SetDefault("decoder.scan_window", 4096)
	v.SetDefault("output.format", "json")
	v.SetDefault("output.directory", "./outputs")
	v.SetDefault("output.compress", false)
	v.SetDefault("api.listen", ":8080")
	v.SetDefault("api.mode", "release")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Blockchain: &BlockchainConfig{
			Nodes: []*NodeConfig{
				{
					Name:      "local_node",
					URL:       "ws://127.0.0.1:9944",
					Type:      "ws",
					RateLimit: 1000,
					Priority:  1,
				},
			},
		},
		Chain: &ChainConfig{
			SS58Format:    -1,
			TokenDecimals: -1,
			TokenSymbol:   "",
		},
		Collector: &CollectorConfig{
			Workers:    4,
			BatchSize:  50,
			RetryLimit: 3,
			Timeout:    "30s",
			QueueSize:  256,
		},
		Cache: &CacheConfig{
			RuntimeTTL:    "10m",
			PropertiesTTL: "30m",
		},
		Decoder: &DecoderConfig{
			ScanWindow: 4096,
		},
		Output: &OutputConfig{
			Format:    "json",
			Directory: "./outputs",
			Compress:  false,
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"blocks":        "chainscan_blocks",
					"events":        "chainscan_events",
					"runtime_spans": "chainscan_runtime_spans",
				},
			},
		},
		API: &APIConfig{
			Listen: ":8080",
			Mode:   "release",
		},
		Logging: &logging.LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			Rotation:   false,
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

// 输出格式白名单
var validOutputFormats = map[string]bool{
	"json":        true,
	"json_async":  true,
	"kafka":       true,
	"kafka_async": true,
	"null":        true,
}

// Validate 校验配置,失败时返回CONFIG_INVALID错误
func Validate(config *Config) error {
	if config == nil {
		return invalidConfig("配置为空")
	}

	if config.Blockchain == nil || len(config.Blockchain.Nodes) == 0 {
		return invalidConfig("未配置任何节点")
	}
	for _, node := range config.Blockchain.Nodes {
		if node.Name == "" {
			return invalidConfig("节点名称不能为空")
		}
		if !strings.HasPrefix(node.URL, "ws://") && !strings.HasPrefix(node.URL, "wss://") {
			return invalidConfig("节点%s的URL必须是ws或wss地址: %s", node.Name, node.URL)
		}
		if node.RateLimit < 0 {
			return invalidConfig("节点%s的限速不能为负数", node.Name)
		}
	}

	if config.Chain != nil {
		if config.Chain.SS58Format < -1 || config.Chain.SS58Format > 0x3FFF {
			return invalidConfig("ss58_format超出范围: %d", config.Chain.SS58Format)
		}
		if config.Chain.TokenDecimals < -1 || config.Chain.TokenDecimals > 38 {
			return invalidConfig("token_decimals超出范围: %d", config.Chain.TokenDecimals)
		}
	}

	if config.Collector != nil {
		if config.Collector.Workers <= 0 {
			return invalidConfig("采集器workers必须大于0")
		}
		if config.Collector.BatchSize <= 0 {
			return invalidConfig("采集器batch_size必须大于0")
		}
		if config.Collector.QueueSize <= 0 {
			return invalidConfig("采集器queue_size必须大于0")
		}
		if _, err := time.ParseDuration(config.Collector.Timeout); err != nil {
			return invalidConfig("采集器timeout无法解析: %s", config.Collector.Timeout)
		}
	}

	if config.Decoder != nil && config.Decoder.ScanWindow <= 0 {
		return invalidConfig("解码器scan_window必须大于0")
	}

	if config.Output != nil {
		if !validOutputFormats[config.Output.Format] {
			return invalidConfig("不支持的输出格式: %s", config.Output.Format)
		}
		if config.Output.Format == "kafka" || config.Output.Format == "kafka_async" {
			if config.Output.Kafka == nil || len(config.Output.Kafka.Brokers) == 0 {
				return invalidConfig("kafka输出缺少broker配置")
			}
			if len(config.Output.Kafka.Topics) == 0 {
				return invalidConfig("kafka输出缺少topic配置")
			}
		}
	}

	if config.API != nil && config.API.Listen == "" {
		return invalidConfig("api监听地址不能为空")
	}

	return nil
}

func invalidConfig(format string, args ...interface{}) error {
	return scanerrors.NewScanError(
		scanerrors.ErrorTypeConfig,
		scanerrors.SeverityHigh,
		"CONFIG_INVALID",
		fmt.Sprintf(format, args...),
	)
}
