package errors

import (
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 解码相关错误
	ErrorTypeDecode ErrorType = iota
	ErrorTypeUnderflow
	ErrorTypeUnknownTag
	ErrorTypeAlignment
	ErrorTypeImplausible

	// 传输相关错误
	ErrorTypeTransport
	ErrorTypeConnection
	ErrorTypeTimeout

	// 缓存相关错误
	ErrorTypeCache
	ErrorTypeStaleData

	// 数据相关错误
	ErrorTypeSerialization
	ErrorTypeValidation

	// 系统相关错误
	ErrorTypeSystem
	ErrorTypeFileIO
	ErrorTypeConfig

	// 外部服务错误
	ErrorTypeKafka
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// ScanError 自定义错误类型
type ScanError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   interface{}            `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"cause,omitempty"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component"`
	Height    *uint64                `json:"height,omitempty"`
	Endpoint  *string                `json:"endpoint,omitempty"`
}

// Error 实现error接口
func (e *ScanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// Is 支持errors.Is按错误码匹配预定义错误
func (e *ScanError) Is(target error) bool {
	t, ok := target.(*ScanError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// IsRetryable 判断是否可重试
func (e *ScanError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithHeight 添加区块高度
func (e *ScanError) WithHeight(height uint64) *ScanError {
	e.Height = &height
	return e
}

// WithEndpoint 添加节点端点
func (e *ScanError) WithEndpoint(endpoint string) *ScanError {
	e.Endpoint = &endpoint
	return e
}

// NewScanError 创建新的错误
func NewScanError(errorType ErrorType, severity ErrorSeverity, code, message string) *ScanError {
	return &ScanError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *ScanError {
	return &ScanError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(errorType),
	}
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransport, ErrorTypeConnection, ErrorTypeTimeout:
		return true
	case ErrorTypeKafka:
		return true
	default:
		// 解码错误是确定性的,重试同样的字节不会有不同结果
		return false
	}
}

// 预定义错误
var (
	// 解码错误
	ErrBufferUnderflow = NewScanError(
		ErrorTypeUnderflow,
		SeverityMedium,
		"BUFFER_UNDERFLOW",
		"读取越过缓冲区末尾",
	)

	ErrUnknownTag = NewScanError(
		ErrorTypeUnknownTag,
		SeverityMedium,
		"UNKNOWN_TAG",
		"无法识别的变体标签",
	)

	ErrAlignmentNotFound = NewScanError(
		ErrorTypeAlignment,
		SeverityLow,
		"ALIGNMENT_NOT_FOUND",
		"调用头扫描窗口内未找到有效对齐",
	)

	ErrImplausibleValue = NewScanError(
		ErrorTypeImplausible,
		SeverityLow,
		"IMPLAUSIBLE_VALUE",
		"数值超出合理范围",
	)

	// 传输错误
	ErrTransportFailure = NewScanError(
		ErrorTypeTransport,
		SeverityHigh,
		"TRANSPORT_FAILURE",
		"远程调用失败",
	)

	ErrRPCTimeout = NewScanError(
		ErrorTypeTimeout,
		SeverityMedium,
		"RPC_TIMEOUT",
		"远程调用超时",
	)

	ErrConnectionFailed = NewScanError(
		ErrorTypeConnection,
		SeverityHigh,
		"CONNECTION_FAILED",
		"节点连接失败",
	)

	ErrConnectionClosed = NewScanError(
		ErrorTypeConnection,
		SeverityHigh,
		"CONNECTION_CLOSED",
		"连接已关闭,未完成的调用被丢弃",
	)

	// 缓存错误
	ErrStaleDataServed = NewScanError(
		ErrorTypeStaleData,
		SeverityLow,
		"STALE_DATA_SERVED",
		"刷新失败,返回过期缓存数据",
	)

	ErrCacheMiss = NewScanError(
		ErrorTypeCache,
		SeverityLow,
		"CACHE_MISS",
		"缓存未命中且无可用的过期数据",
	)

	// 数据错误
	ErrSerializationFailed = NewScanError(
		ErrorTypeSerialization,
		SeverityMedium,
		"SERIALIZATION_FAILED",
		"数据序列化失败",
	)

	ErrDataValidation = NewScanError(
		ErrorTypeValidation,
		SeverityMedium,
		"DATA_VALIDATION_FAILED",
		"数据验证失败",
	)

	// 系统错误
	ErrFileIOFailed = NewScanError(
		ErrorTypeFileIO,
		SeverityHigh,
		"FILE_IO_FAILED",
		"文件操作失败",
	)

	ErrConfigInvalid = NewScanError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)

	// 外部服务错误
	ErrKafkaProduceFailed = NewScanError(
		ErrorTypeKafka,
		SeverityHigh,
		"KAFKA_PRODUCE_FAILED",
		"Kafka消息发送失败",
	)
)

// NewBufferUnderflow 创建带位置信息的越界错误
func NewBufferUnderflow(what string, offset, need, have int) *ScanError {
	err := NewScanError(
		ErrorTypeUnderflow,
		SeverityMedium,
		"BUFFER_UNDERFLOW",
		fmt.Sprintf("解码%s时越界: 偏移%d需要%d字节,剩余%d字节", what, offset, need, have),
	)
	return err.WithContext("offset", offset).WithContext("need", need).WithContext("have", have)
}

// NewUnknownTag 创建带标签值的未知变体错误
func NewUnknownTag(what string, tag byte) *ScanError {
	err := NewScanError(
		ErrorTypeUnknownTag,
		SeverityMedium,
		"UNKNOWN_TAG",
		fmt.Sprintf("无法识别的%s标签: 0x%02x", what, tag),
	)
	return err.WithContext("tag", tag)
}

// NewImplausibleValue 创建带字段值的数值越界错误
func NewImplausibleValue(what, value string) *ScanError {
	err := NewScanError(
		ErrorTypeImplausible,
		SeverityLow,
		"IMPLAUSIBLE_VALUE",
		fmt.Sprintf("%s超出合理范围: %s", what, value),
	)
	return err.WithContext("value", value)
}

// NewAlignmentNotFound 创建带扫描起点的对齐失败错误
func NewAlignmentNotFound(offset, window int) *ScanError {
	err := NewScanError(
		ErrorTypeAlignment,
		SeverityLow,
		"ALIGNMENT_NOT_FOUND",
		fmt.Sprintf("自偏移%d起%d字节窗口内未找到有效调用头", offset, window),
	)
	return err.WithContext("offset", offset).WithContext("window", window)
}

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeDecode:        "Decode",
	ErrorTypeUnderflow:     "BufferUnderflow",
	ErrorTypeUnknownTag:    "UnknownTag",
	ErrorTypeAlignment:     "AlignmentNotFound",
	ErrorTypeImplausible:   "ImplausibleValue",
	ErrorTypeTransport:     "Transport",
	ErrorTypeConnection:    "Connection",
	ErrorTypeTimeout:       "Timeout",
	ErrorTypeCache:         "Cache",
	ErrorTypeStaleData:     "StaleData",
	ErrorTypeSerialization: "Serialization",
	ErrorTypeValidation:    "Validation",
	ErrorTypeSystem:        "System",
	ErrorTypeFileIO:        "FileIO",
	ErrorTypeConfig:        "Config",
	ErrorTypeKafka:         "Kafka",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int                   `json:"total_errors"`
	ErrorsByType      map[ErrorType]int     `json:"errors_by_type"`
	ErrorsBySeverity  map[ErrorSeverity]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int        `json:"errors_by_component"`
	RecentErrors      []*ScanError          `json:"recent_errors"`
	LastError         *ScanError            `json:"last_error"`
	LastErrorTime     time.Time             `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[ErrorType]int),
		ErrorsBySeverity:  make(map[ErrorSeverity]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*ScanError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *ScanError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type]++
	es.ErrorsBySeverity[err.Severity]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0

	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	hours := duration.Hours()
	if hours == 0 {
		return float64(recentCount)
	}

	return float64(recentCount) / hours
}
