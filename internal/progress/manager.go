package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	scanerrors "chainscan/internal/errors"
)

// DefaultCheckpointPath 默认检查点文件路径
const DefaultCheckpointPath = "./data/progress.json"

// ProgressInfo 进度信息
type ProgressInfo struct {
	LastProcessedHeight uint64    `json:"last_processed_height"`
	StartTime           time.Time `json:"start_time"`
	LastUpdateTime      time.Time `json:"last_update_time"`
	TotalBlocks         uint64    `json:"total_blocks"`
	TotalExtrinsics     uint64    `json:"total_extrinsics"`
	TotalEvents         uint64    `json:"total_events"`
	ProcessingRate      float64   `json:"processing_rate"` // 区块/秒
}

// Manager 进度管理器
// 检查点落在单个JSON文件里,写入走临时文件加改名保证完整性
type Manager struct {
	path   string
	logger *logrus.Logger
	mu     sync.RWMutex

	cache *ProgressInfo
}

// NewManager 创建进度管理器
func NewManager(path string, logger *logrus.Logger) (*Manager, error) {
	if path == "" {
		path = DefaultCheckpointPath
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, scanerrors.WrapError(err, scanerrors.ErrorTypeFileIO, scanerrors.SeverityHigh,
			"FILE_IO_FAILED", fmt.Sprintf("创建数据目录失败: %s", dir))
	}

	manager := &Manager{
		path:   path,
		logger: logger,
		cache:  &ProgressInfo{},
	}

	if err := manager.load(); err != nil {
		logger.Warnf("加载进度检查点失败，从零开始: %v", err)
		manager.cache = &ProgressInfo{}
	}

	logger.Infof("进度管理器已初始化，检查点路径: %s", path)
	return manager, nil
}

// load 读取检查点文件
func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return scanerrors.WrapError(err, scanerrors.ErrorTypeFileIO, scanerrors.SeverityMedium,
			"FILE_IO_FAILED", "读取检查点文件失败")
	}

	var info ProgressInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return scanerrors.WrapError(err, scanerrors.ErrorTypeSerialization, scanerrors.SeverityMedium,
			"SERIALIZATION_FAILED", "检查点文件内容损坏")
	}

	m.mu.Lock()
	m.cache = &info
	m.mu.Unlock()
	return nil
}

// persist 原子写入检查点文件
// 调用方必须持有m.mu
func (m *Manager) persist() error {
	data, err := json.MarshalIndent(m.cache, "", "  ")
	if err != nil {
		return scanerrors.WrapError(err, scanerrors.ErrorTypeSerialization, scanerrors.SeverityMedium,
			"SERIALIZATION_FAILED", "序列化进度信息失败")
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return scanerrors.WrapError(err, scanerrors.ErrorTypeFileIO, scanerrors.SeverityHigh,
			"FILE_IO_FAILED", "写入检查点临时文件失败")
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return scanerrors.WrapError(err, scanerrors.ErrorTypeFileIO, scanerrors.SeverityHigh,
			"FILE_IO_FAILED", "替换检查点文件失败")
	}
	return nil
}

// GetLastProcessedHeight 获取最后处理的区块高度
func (m *Manager) GetLastProcessedHeight() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.LastProcessedHeight
}

// UpdateProgress 更新进度并落盘
func (m *Manager) UpdateProgress(height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	m.cache.LastProcessedHeight = height
	m.cache.LastUpdateTime = now
	m.cache.TotalBlocks++

	if m.cache.StartTime.IsZero() {
		m.cache.StartTime = now
	}

	// 计算处理速率
	duration := now.Sub(m.cache.StartTime).Seconds()
	if duration > 0 {
		m.cache.ProcessingRate = float64(m.cache.TotalBlocks) / duration
	}

	return m.persist()
}

// UpdateExtrinsicCount 累加交易数量
func (m *Manager) UpdateExtrinsicCount(count uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.TotalExtrinsics += count
}

// UpdateEventCount 累加事件数量
func (m *Manager) UpdateEventCount(count uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.TotalEvents += count
}

// GetProgress 获取进度信息
func (m *Manager) GetProgress() *ProgressInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// 返回副本
	clone := *m.cache
	return &clone
}

// SetStartHeight 设置起始高度（用于初始化）
// 只在尚无进度时生效
func (m *Manager) SetStartHeight(height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache.LastProcessedHeight != 0 {
		return nil
	}

	m.cache.LastProcessedHeight = height
	m.cache.StartTime = time.Now()
	return m.persist()
}

// Reset 重置进度
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache = &ProgressInfo{}
	return m.persist()
}

// SaveCheckpoint 保存完整的进度信息
func (m *Manager) SaveCheckpoint(info *ProgressInfo) error {
	if info == nil {
		return scanerrors.NewScanError(scanerrors.ErrorTypeValidation, scanerrors.SeverityLow,
			"DATA_VALIDATION_FAILED", "进度信息为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *info
	m.cache = &clone
	return m.persist()
}

// Close 关闭管理器,落盘最终进度
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.persist(); err != nil {
		return err
	}
	m.logger.Infof("进度管理器已关闭，最终高度: %d", m.cache.LastProcessedHeight)
	return nil
}
