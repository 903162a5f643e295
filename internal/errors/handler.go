package errors

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器
// 统一记录统计、检查阈值、触发回调并按错误类型执行处理策略
// 重试不在这里做,可重试错误由调用方的重试器负责
type ErrorHandler struct {
	logger *logrus.Logger
	stats  *ErrorStats
	mu     sync.RWMutex

	// 每种错误类型的处理策略
	strategies map[ErrorType]ErrorStrategy

	// 错误回调
	callbacks []ErrorCallback

	// 按严重级别的阈值
	thresholds map[ErrorSeverity]ThresholdConfig

	// 连续错误计数,成功一次清零
	consecutive int
}

// ErrorStrategy 错误处理策略
type ErrorStrategy interface {
	Handle(ctx context.Context, err *ScanError) error
}

// ErrorCallback 错误回调函数
type ErrorCallback func(err *ScanError)

// ThresholdConfig 阈值配置
type ThresholdConfig struct {
	MaxErrorsPerHour     int `json:"max_errors_per_hour"`
	MaxConsecutiveErrors int `json:"max_consecutive_errors"`
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	eh := &ErrorHandler{
		logger:     logger,
		stats:      NewErrorStats(),
		strategies: make(map[ErrorType]ErrorStrategy),
		callbacks:  make([]ErrorCallback, 0),
		thresholds: make(map[ErrorSeverity]ThresholdConfig),
	}

	eh.setupDefaultThresholds()

	return eh
}

// setupDefaultThresholds 设置默认阈值
func (eh *ErrorHandler) setupDefaultThresholds() {
	eh.thresholds[SeverityLow] = ThresholdConfig{
		MaxErrorsPerHour:     100,
		MaxConsecutiveErrors: 20,
	}

	eh.thresholds[SeverityMedium] = ThresholdConfig{
		MaxErrorsPerHour:     50,
		MaxConsecutiveErrors: 10,
	}

	eh.thresholds[SeverityHigh] = ThresholdConfig{
		MaxErrorsPerHour:     20,
		MaxConsecutiveErrors: 5,
	}

	eh.thresholds[SeverityCritical] = ThresholdConfig{
		MaxErrorsPerHour:     5,
		MaxConsecutiveErrors: 2,
	}
}

// HandleError 处理错误
// 非ScanError会先被包装;返回原错误,由调用方决定是否继续
func (eh *ErrorHandler) HandleError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var scanErr *ScanError
	if se, ok := err.(*ScanError); ok {
		scanErr = se
	} else {
		scanErr = WrapError(err, ErrorTypeSystem, SeverityMedium, "UNKNOWN_ERROR", "未知错误")
	}

	eh.recordError(scanErr)

	if eh.checkThresholds(scanErr) {
		eh.logger.Warnf("错误达到阈值限制: %s", scanErr.Error())
	}

	eh.executeCallbacks(scanErr)

	return eh.executeStrategy(ctx, scanErr)
}

// RecordSuccess 报告一次成功操作,清零连续错误计数
func (eh *ErrorHandler) RecordSuccess() {
	eh.mu.Lock()
	eh.consecutive = 0
	eh.mu.Unlock()
}

// recordError 记录错误统计
func (eh *ErrorHandler) recordError(err *ScanError) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats.RecordError(err)
	eh.consecutive++
}

// checkThresholds 检查每小时错误数与连续错误数是否超限
func (eh *ErrorHandler) checkThresholds(err *ScanError) bool {
	eh.mu.RLock()
	threshold, exists := eh.thresholds[err.Severity]
	consecutive := eh.consecutive
	eh.mu.RUnlock()

	if !exists {
		return false
	}

	if consecutive >= threshold.MaxConsecutiveErrors {
		eh.logger.Warnf("连续错误数达到阈值: %d >= %d", consecutive, threshold.MaxConsecutiveErrors)
		return true
	}

	hourlyRate := eh.stats.GetErrorRate(time.Hour)
	if hourlyRate > float64(threshold.MaxErrorsPerHour) {
		eh.logger.Warnf("每小时错误数超过阈值: %.2f > %d", hourlyRate, threshold.MaxErrorsPerHour)
		return true
	}

	return false
}

// executeCallbacks 执行错误回调
func (eh *ErrorHandler) executeCallbacks(err *ScanError) {
	eh.mu.RLock()
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.RUnlock()

	for _, callback := range callbacks {
		go func(cb ErrorCallback) {
			defer func() {
				if r := recover(); r != nil {
					eh.logger.Errorf("错误回调执行时发生panic: %v", r)
				}
			}()
			cb(err)
		}(callback)
	}
}

// executeStrategy 执行处理策略,未注册类型走日志策略
func (eh *ErrorHandler) executeStrategy(ctx context.Context, err *ScanError) error {
	eh.mu.RLock()
	strategy, exists := eh.strategies[err.Type]
	eh.mu.RUnlock()

	if !exists {
		strategy = &LoggingStrategy{logger: eh.logger}
	}

	return strategy.Handle(ctx, err)
}

// AddCallback 添加错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// SetStrategy 设置错误处理策略
func (eh *ErrorHandler) SetStrategy(errorType ErrorType, strategy ErrorStrategy) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.strategies[errorType] = strategy
}

// GetStats 获取错误统计信息
func (eh *ErrorHandler) GetStats() *ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()
	return eh.stats
}

// SetThreshold 设置阈值
func (eh *ErrorHandler) SetThreshold(severity ErrorSeverity, config ThresholdConfig) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.thresholds[severity] = config
}

// ClearStats 清除统计信息
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
	eh.consecutive = 0
}

// LoggingStrategy 日志记录策略
// 严重级别决定日志级别;Critical也只记Error,进程去留由调用方决定
type LoggingStrategy struct {
	logger *logrus.Logger
}

// NewLoggingStrategy 创建日志策略
func NewLoggingStrategy(logger *logrus.Logger) *LoggingStrategy {
	return &LoggingStrategy{logger: logger}
}

// Handle 实现LoggingStrategy的处理方法
func (ls *LoggingStrategy) Handle(ctx context.Context, err *ScanError) error {
	logEntry := ls.logger.WithFields(logrus.Fields{
		"error_type": err.Type.String(),
		"error_code": err.Code,
		"component":  err.Component,
		"retryable":  err.Retryable,
		"height":     err.Height,
		"endpoint":   err.Endpoint,
	})

	switch err.Severity {
	case SeverityLow:
		logEntry.Debug(err.Message)
	case SeverityMedium:
		logEntry.Warn(err.Message)
	default:
		logEntry.Error(err.Message)
	}

	return err
}

// AlertStrategy 告警策略
type AlertStrategy struct {
	alertFunc func(err *ScanError)
	logger    *logrus.Logger
}

// NewAlertStrategy 创建告警策略
func NewAlertStrategy(alertFunc func(err *ScanError), logger *logrus.Logger) *AlertStrategy {
	return &AlertStrategy{
		alertFunc: alertFunc,
		logger:    logger,
	}
}

// Handle 实现AlertStrategy的处理方法
func (as *AlertStrategy) Handle(ctx context.Context, err *ScanError) error {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				as.logger.Errorf("告警函数执行时发生panic: %v", r)
			}
		}()
		as.alertFunc(err)
	}()

	return err
}
