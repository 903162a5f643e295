package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	scanerrors "chainscan/internal/errors"
	"chainscan/pkg/models"
)

// Registry 管理按规范版本索引的调用表与事件布局表
// 解析时选择不超过请求版本的最高已注册版本
type Registry struct {
	mu     sync.RWMutex
	calls  map[uint32]*models.CallDispatchMap
	events map[uint32]*models.EventLayoutMap
}

// NewRegistry 创建空的元数据注册表
func NewRegistry() *Registry {
	return &Registry{
		calls:  make(map[uint32]*models.CallDispatchMap),
		events: make(map[uint32]*models.EventLayoutMap),
	}
}

// DefaultRegistry 创建带内置默认表的注册表
// 内置表覆盖常见链的System/Timestamp/Balances/TransactionPayment/Sudo布局
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterCalls(builtinCalls())
	r.RegisterEvents(builtinEvents())
	return r
}

// RegisterCalls 注册一个版本的调用表,同版本覆盖
func (r *Registry) RegisterCalls(m *models.CallDispatchMap) {
	if m == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[m.SpecVersion] = m
}

// RegisterEvents 注册一个版本的事件布局表,同版本覆盖
func (r *Registry) RegisterEvents(m *models.EventLayoutMap) {
	if m == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[m.SpecVersion] = m
}

// ResolveCalls 返回不超过请求版本的最高版本调用表,没有则返回nil
func (r *Registry) ResolveCalls(specVersion uint32) *models.CallDispatchMap {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *models.CallDispatchMap
	for version, m := range r.calls {
		if version > specVersion {
			continue
		}
		if best == nil || version > best.SpecVersion {
			best = m
		}
	}
	return best
}

// ResolveEvents 返回不超过请求版本的最高版本事件布局表,没有则返回nil
func (r *Registry) ResolveEvents(specVersion uint32) *models.EventLayoutMap {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *models.EventLayoutMap
	for version, m := range r.events {
		if version > specVersion {
			continue
		}
		if best == nil || version > best.SpecVersion {
			best = m
		}
	}
	return best
}

// CallVersions 返回已注册调用表版本的升序列表
func (r *Registry) CallVersions() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := make([]uint32, 0, len(r.calls))
	for version := range r.calls {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions
}

// registryFile 是元数据JSON文件的磁盘格式,键为十进制字符串
type registryFile struct {
	SpecVersion uint32                      `json:"spec_version"`
	Pallets     map[string]palletEntry      `json:"pallets"`
	Events      map[string]eventPalletEntry `json:"events"`
}

type palletEntry struct {
	Name      string            `json:"name"`
	CallCount int               `json:"call_count"`
	Calls     map[string]string `json:"calls"`
}

type eventPalletEntry struct {
	Name   string                `json:"name"`
	Events map[string]eventEntry `json:"events"`
}

type eventEntry struct {
	Name   string       `json:"name"`
	Fields []fieldEntry `json:"fields"`
}

type fieldEntry struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// LoadFile 从JSON文件加载一个版本的调用表与事件布局表
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return scanerrors.WrapError(err, scanerrors.ErrorTypeFileIO, scanerrors.SeverityHigh,
			"METADATA_READ_FAILED", fmt.Sprintf("读取元数据文件失败: %s", path))
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return scanerrors.WrapError(err, scanerrors.ErrorTypeSerialization, scanerrors.SeverityMedium,
			"METADATA_PARSE_FAILED", fmt.Sprintf("解析元数据文件失败: %s", path))
	}

	calls, events, err := file.build()
	if err != nil {
		return scanerrors.WrapError(err, scanerrors.ErrorTypeValidation, scanerrors.SeverityMedium,
			"METADATA_INVALID", fmt.Sprintf("元数据文件内容无效: %s", path))
	}

	if calls != nil {
		r.RegisterCalls(calls)
	}
	if events != nil {
		r.RegisterEvents(events)
	}
	return nil
}

// LoadDir 按文件名顺序加载目录下所有JSON元数据文件
func (r *Registry) LoadDir(dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return scanerrors.WrapError(err, scanerrors.ErrorTypeFileIO, scanerrors.SeverityHigh,
			"METADATA_SCAN_FAILED", fmt.Sprintf("扫描元数据目录失败: %s", dir))
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := r.LoadFile(path); err != nil {
			return err
		}
	}
	return nil
}

func (f *registryFile) build() (*models.CallDispatchMap, *models.EventLayoutMap, error) {
	var calls *models.CallDispatchMap
	if len(f.Pallets) > 0 {
		calls = &models.CallDispatchMap{
			SpecVersion: f.SpecVersion,
			Pallets:     make(map[uint8]models.PalletMeta, len(f.Pallets)),
		}
		for key, entry := range f.Pallets {
			index, err := parseIndexKey(key)
			if err != nil {
				return nil, nil, fmt.Errorf("模块索引%q无效: %w", key, err)
			}
			meta := models.PalletMeta{
				Name:            entry.Name,
				CallCount:       entry.CallCount,
				CallNameByIndex: make(map[uint8]string, len(entry.Calls)),
			}
			for callKey, name := range entry.Calls {
				callIndex, err := parseIndexKey(callKey)
				if err != nil {
					return nil, nil, fmt.Errorf("模块%s的调用索引%q无效: %w", entry.Name, callKey, err)
				}
				meta.CallNameByIndex[callIndex] = name
			}
			calls.Pallets[index] = meta
		}
	}

	var events *models.EventLayoutMap
	if len(f.Events) > 0 {
		events = &models.EventLayoutMap{
			SpecVersion: f.SpecVersion,
			Pallets:     make(map[uint8]models.EventPalletMeta, len(f.Events)),
		}
		for key, entry := range f.Events {
			index, err := parseIndexKey(key)
			if err != nil {
				return nil, nil, fmt.Errorf("事件模块索引%q无效: %w", key, err)
			}
			meta := models.EventPalletMeta{
				Name:   entry.Name,
				Events: make(map[uint8]models.EventDef, len(entry.Events)),
			}
			for eventKey, def := range entry.Events {
				eventIndex, err := parseIndexKey(eventKey)
				if err != nil {
					return nil, nil, fmt.Errorf("模块%s的事件索引%q无效: %w", entry.Name, eventKey, err)
				}
				fields := make([]models.EventField, 0, len(def.Fields))
				for _, field := range def.Fields {
					if !models.ValidFieldKind(field.Kind) {
						return nil, nil, fmt.Errorf("模块%s事件%s的字段类型%q无效", entry.Name, def.Name, field.Kind)
					}
					fields = append(fields, models.EventField{Name: field.Name, Kind: models.FieldKind(field.Kind)})
				}
				meta.Events[eventIndex] = models.EventDef{Name: def.Name, Fields: fields}
			}
			events.Pallets[index] = meta
		}
	}

	return calls, events, nil
}

func parseIndexKey(key string) (uint8, error) {
	value, err := strconv.ParseUint(key, 10, 8)
	if err != nil {
		return 0, err
	}
	return uint8(value), nil
}
