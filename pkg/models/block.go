package models

import "time"

// DecodedBlock 采集器输出的单个区块的完整解码结果
type DecodedBlock struct {
	Height      uint64 `json:"height"`
	Hash        string `json:"hash"`
	ParentHash  string `json:"parent_hash"`
	StateRoot   string `json:"state_root"`
	SpecVersion uint32 `json:"spec_version"`

	// 摘要解码结果
	Author          string `json:"author,omitempty"`
	ConsensusEngine string `json:"consensus_engine,omitempty"`

	// 交易与事件
	Extrinsics     []*ParsedExtrinsic `json:"extrinsics"`
	Events         *BlockEvents       `json:"events,omitempty"`
	ExtrinsicCount int                `json:"extrinsic_count"`
	EventCount     int                `json:"event_count"`

	CollectedAt time.Time `json:"collected_at"`
}

// FailedExtrinsics 统计解码失败的交易数
func (b *DecodedBlock) FailedExtrinsics() int {
	failed := 0
	for _, ext := range b.Extrinsics {
		if ext != nil && !ext.OK {
			failed++
		}
	}
	return failed
}

// HeightRange 采集的区块高度范围
type HeightRange struct {
	StartBlock uint64 `json:"start_block"`
	EndBlock   uint64 `json:"end_block"`
	Total      uint64 `json:"total"`
}

// CollectStats 采集统计
type CollectStats struct {
	TotalBlocks      uint64    `json:"total_blocks"`
	TotalExtrinsics  uint64    `json:"total_extrinsics"`
	TotalEvents      uint64    `json:"total_events"`
	TotalTransfers   uint64    `json:"total_transfers"`
	FailedBlocks     uint64    `json:"failed_blocks"`
	FailedExtrinsics uint64    `json:"failed_extrinsics"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	Duration         string    `json:"duration"`
	BlocksPerSecond  float64   `json:"blocks_per_second"`
}
