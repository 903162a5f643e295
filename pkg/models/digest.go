package models

// 摘要日志条目类型,与线格式的标签字节一一对应
const (
	DigestKindOther      = "Other"
	DigestKindConsensus  = "Consensus"
	DigestKindSeal       = "Seal"
	DigestKindPreRuntime = "PreRuntime"
	DigestKindRuntimeEnv = "RuntimeEnvironmentUpdated"
	DigestKindUnknown    = "Unknown"
)

// DecodedDigestLog 单条摘要日志的解码结果
// 解码失败的条目保留 Kind=Unknown 和原始字节,不影响其他条目
type DecodedDigestLog struct {
	Kind           string  `json:"kind"`
	Engine         string  `json:"engine,omitempty"`
	Slot           *uint64 `json:"slot,omitempty"`
	AuthorityIndex string  `json:"authority_index,omitempty"`
	Author         string  `json:"author,omitempty"`
	Payload        string  `json:"payload,omitempty"`
	Raw            string  `json:"raw"`
	Error          string  `json:"error,omitempty"`
}

// DecodedDigest 区块头摘要的整体解码结果
// Author 取所有日志中第一个成功解出的作者
type DecodedDigest struct {
	Author          string             `json:"author,omitempty"`
	ConsensusEngine string             `json:"consensus_engine,omitempty"`
	Logs            []DecodedDigestLog `json:"logs"`
}
