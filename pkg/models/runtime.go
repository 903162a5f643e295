package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RuntimeVersion 节点返回的运行时版本信息
// 字段名与节点JSON-RPC线格式保持一致
type RuntimeVersion struct {
	SpecName           string `json:"specName"`
	ImplName           string `json:"implName"`
	SpecVersion        uint32 `json:"specVersion"`
	ImplVersion        uint32 `json:"implVersion"`
	TransactionVersion uint32 `json:"transactionVersion"`
	StateVersion       uint32 `json:"stateVersion"`
}

// RuntimeSpan 单个运行时版本的连续生效区块高度范围
// 同一条链的span按高度有序、连续且互不重叠;EndBlock 为闭区间端点
// CodeHash 是该范围内运行时代码的内容指纹,而非版本号
type RuntimeSpan struct {
	SpecName    string `json:"spec_name"`
	SpecVersion uint32 `json:"spec_version"`
	StartBlock  uint64 `json:"start_block"`
	EndBlock    uint64 `json:"end_block"`
	CodeHash    string `json:"code_hash,omitempty"`
}

// Blocks 返回该范围覆盖的区块数量
func (s *RuntimeSpan) Blocks() uint64 {
	if s.EndBlock < s.StartBlock {
		return 0
	}
	return s.EndBlock - s.StartBlock + 1
}

// Contains 判断高度是否落在该范围内
func (s *RuntimeSpan) Contains(height uint64) bool {
	return height >= s.StartBlock && height <= s.EndBlock
}

// DiscoveryResult 一次完整运行时发现的结果
type DiscoveryResult struct {
	Endpoint   string        `json:"endpoint"`
	MaxHeight  uint64        `json:"max_height"`
	Spans      []RuntimeSpan `json:"spans"`
	RemoteCall int           `json:"remote_calls"`
	FetchedAt  time.Time     `json:"fetched_at"`
	Stale      bool          `json:"stale,omitempty"`
}

// SpanAt 返回覆盖指定高度的span
func (r *DiscoveryResult) SpanAt(height uint64) (RuntimeSpan, bool) {
	for _, s := range r.Spans {
		if s.Contains(height) {
			return s, true
		}
	}
	return RuntimeSpan{}, false
}

// ChainProperties 链属性,来自节点并可被配置覆盖
// 字段名与节点JSON-RPC线格式保持一致
type ChainProperties struct {
	SS58Format    uint16 `json:"ss58Format"`
	TokenDecimals uint32 `json:"tokenDecimals"`
	TokenSymbol   string `json:"tokenSymbol"`
}

// Digest 区块头中的摘要日志列表,每条为hex编码
type Digest struct {
	Logs []string `json:"logs"`
}

// Header 区块头,字段名与节点JSON-RPC线格式保持一致
type Header struct {
	ParentHash     string         `json:"parentHash"`
	Number         hexutil.Uint64 `json:"number"`
	StateRoot      string         `json:"stateRoot"`
	ExtrinsicsRoot string         `json:"extrinsicsRoot"`
	Digest         Digest         `json:"digest"`
}

// SignedBlock 区块体,含区块头与交易hex列表
type SignedBlock struct {
	Header     Header   `json:"header"`
	Extrinsics []string `json:"extrinsics"`
}

// BlockData chain_getBlock 返回的外层结构
type BlockData struct {
	Block SignedBlock `json:"block"`
}

// Health system_health 返回的节点健康状态
type Health struct {
	Peers           int  `json:"peers"`
	IsSyncing       bool `json:"isSyncing"`
	ShouldHavePeers bool `json:"shouldHavePeers"`
}
