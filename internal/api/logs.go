package api

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntry 内存日志条目
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogManager 固定容量的内存日志环
// 写满后覆盖最旧的条目,供API的日志端点查询
type LogManager struct {
	mu       sync.RWMutex
	ring     []LogEntry
	capacity int
	next     int
	size     int
}

// NewLogManager 创建日志管理器
func NewLogManager(capacity int) *LogManager {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LogManager{
		ring:     make([]LogEntry, capacity),
		capacity: capacity,
	}
}

// Append 写入一条日志
func (lm *LogManager) Append(entry *logrus.Entry) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.ring[lm.next] = LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    entry.Data,
	}
	lm.next = (lm.next + 1) % lm.capacity
	if lm.size < lm.capacity {
		lm.size++
	}
}

// snapshot 按时间顺序复制当前全部条目,可按级别过滤
func (lm *LogManager) snapshot(level string) []LogEntry {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	out := make([]LogEntry, 0, lm.size)
	start := lm.next - lm.size
	if start < 0 {
		start += lm.capacity
	}
	for i := 0; i < lm.size; i++ {
		entry := lm.ring[(start+i)%lm.capacity]
		if level != "" && entry.Level != level {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// Page 按页取日志,返回该页条目与过滤后的总数
func (lm *LogManager) Page(level string, page, pageSize int) ([]LogEntry, int) {
	logs := lm.snapshot(level)
	total := len(logs)

	start := (page - 1) * pageSize
	if start >= total {
		return []LogEntry{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return logs[start:end], total
}

// Tail 取最新的limit条日志
func (lm *LogManager) Tail(level string, limit int) []LogEntry {
	logs := lm.snapshot(level)
	if limit <= 0 || limit >= len(logs) {
		return logs
	}
	return logs[len(logs)-limit:]
}

// Clear 清空日志
func (lm *LogManager) Clear() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.next = 0
	lm.size = 0
}

// LogHook 把logrus日志写入LogManager的钩子
type LogHook struct {
	manager *LogManager
}

// NewLogHook 创建日志钩子
func NewLogHook(manager *LogManager) *LogHook {
	return &LogHook{manager: manager}
}

// Fire 实现logrus.Hook
func (h *LogHook) Fire(entry *logrus.Entry) error {
	h.manager.Append(entry)
	return nil
}

// Levels 实现logrus.Hook
func (h *LogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}
