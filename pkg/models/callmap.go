package models

import "fmt"

// PalletMeta 调度表中单个模块的元数据
type PalletMeta struct {
	Name            string           `json:"name"`
	CallCount       int              `json:"call_count"`
	CallNameByIndex map[uint8]string `json:"calls"`
}

// CallDispatchMap 某个运行时版本的调用调度表
// 由元数据注册表构建,构建完成后不可变,可被多协程并发读取
type CallDispatchMap struct {
	SpecVersion uint32               `json:"spec_version"`
	Pallets     map[uint8]PalletMeta `json:"pallets"`
}

// Lookup 按模块索引查找模块元数据
func (m *CallDispatchMap) Lookup(palletIndex uint8) (PalletMeta, bool) {
	if m == nil || m.Pallets == nil {
		return PalletMeta{}, false
	}
	meta, ok := m.Pallets[palletIndex]
	return meta, ok
}

// ValidCall 判断 (模块索引, 调用索引) 是否落在调度表范围内
func (m *CallDispatchMap) ValidCall(palletIndex, callIndex uint8) bool {
	meta, ok := m.Lookup(palletIndex)
	if !ok {
		return false
	}
	return int(callIndex) < meta.CallCount
}

// Resolve 解析模块名与调用名
// 调用索引可以不连续,表中缺名时退化为 call_N 形式
func (m *CallDispatchMap) Resolve(palletIndex, callIndex uint8) (section string, method string, ok bool) {
	meta, found := m.Lookup(palletIndex)
	if !found || int(callIndex) >= meta.CallCount {
		return "", "", false
	}
	method, named := meta.CallNameByIndex[callIndex]
	if !named {
		method = fmt.Sprintf("call_%d", callIndex)
	}
	return meta.Name, method, true
}

// FieldKind 事件字段类型,决定事件负载的字节布局
type FieldKind string

// 事件字段类型常量
const (
	FieldAccount       FieldKind = "account"        // 32字节账户ID
	FieldBalance       FieldKind = "balance"        // u128 小端,按代币精度展示
	FieldU128          FieldKind = "u128"           // u128 小端,原样展示
	FieldU64           FieldKind = "u64"            // u64 小端
	FieldU32           FieldKind = "u32"            // u32 小端
	FieldU8            FieldKind = "u8"             // 单字节
	FieldBool          FieldKind = "bool"           // 单字节布尔
	FieldCompact       FieldKind = "compact"        // 紧凑整数
	FieldBytes         FieldKind = "bytes"          // 长度前缀字节串
	FieldHash          FieldKind = "hash"           // 32字节哈希
	FieldDispatchInfo  FieldKind = "dispatch_info"  // 权重+类别+付费标志
	FieldDispatchError FieldKind = "dispatch_error" // 调度错误变体
)

// ValidFieldKind 判断字符串是否为已知的事件字段类型
func ValidFieldKind(kind string) bool {
	switch FieldKind(kind) {
	case FieldAccount, FieldBalance, FieldU128, FieldU64, FieldU32, FieldU8,
		FieldBool, FieldCompact, FieldBytes, FieldHash, FieldDispatchInfo, FieldDispatchError:
		return true
	}
	return false
}

// EventField 事件字段定义
type EventField struct {
	Name string    `json:"name"`
	Kind FieldKind `json:"kind"`
}

// EventDef 单个事件的布局定义
type EventDef struct {
	Name   string       `json:"name"`
	Fields []EventField `json:"fields"`
}

// EventPalletMeta 单个模块的事件布局
type EventPalletMeta struct {
	Name   string             `json:"name"`
	Events map[uint8]EventDef `json:"events"`
}

// EventLayoutMap 某个运行时版本的事件布局表
// 事件解码器靠它推进游标;缺失的事件形状会终止结构化解码并保留原始字节
type EventLayoutMap struct {
	SpecVersion uint32                    `json:"spec_version"`
	Pallets     map[uint8]EventPalletMeta `json:"pallets"`
}

// LookupEvent 按 (模块索引, 事件索引) 查找事件定义
func (m *EventLayoutMap) LookupEvent(palletIndex, eventIndex uint8) (pallet string, def EventDef, ok bool) {
	if m == nil || m.Pallets == nil {
		return "", EventDef{}, false
	}
	meta, found := m.Pallets[palletIndex]
	if !found {
		return "", EventDef{}, false
	}
	def, found = meta.Events[eventIndex]
	if !found {
		return meta.Name, EventDef{}, false
	}
	return meta.Name, def, true
}
