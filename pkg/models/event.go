package models

// PhaseKind 事件所处的区块阶段
type PhaseKind uint8

// 事件阶段,与线格式的标签字节一一对应
const (
	PhaseApplyExtrinsic PhaseKind = 0 // 随交易执行产生,携带交易索引
	PhaseFinalization   PhaseKind = 1 // 区块收尾阶段产生
	PhaseInitialization PhaseKind = 2 // 区块初始化阶段产生
)

// String 返回阶段名称
func (k PhaseKind) String() string {
	switch k {
	case PhaseApplyExtrinsic:
		return "ApplyExtrinsic"
	case PhaseFinalization:
		return "Finalization"
	case PhaseInitialization:
		return "Initialization"
	}
	return "Unknown"
}

// Phase 事件阶段与归属交易索引
type Phase struct {
	Kind           PhaseKind `json:"kind"`
	KindName       string    `json:"kind_name"`
	ExtrinsicIndex uint32    `json:"extrinsic_index"`
}

// EventRecord 单条事件记录
// 字段按布局表解码进 Data,同时保留本条记录的原始字节便于核对
type EventRecord struct {
	Phase       Phase                  `json:"phase"`
	PalletIndex uint8                  `json:"pallet_index"`
	EventIndex  uint8                  `json:"event_index"`
	Section     string                 `json:"section,omitempty"`
	Method      string                 `json:"method,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Raw         string                 `json:"raw,omitempty"`
	Topics      []string               `json:"topics,omitempty"`
}

// TransferEvent 转账事件的结构化提取结果
type TransferEvent struct {
	From         string `json:"from"`
	To           string `json:"to"`
	AmountPlanck string `json:"amount_planck"`
	AmountHuman  string `json:"amount_human"`
}

// FeePaidEvent 手续费支付事件的结构化提取结果
type FeePaidEvent struct {
	Payer        string `json:"payer"`
	AmountPlanck string `json:"amount_planck"`
	AmountHuman  string `json:"amount_human"`
	TipPlanck    string `json:"tip_planck,omitempty"`
	TipHuman     string `json:"tip_human,omitempty"`
}

// ExtrinsicEvents 按交易索引聚合的事件
// Transfers 保持事件出现顺序;FeePaid 同一交易后写覆盖先写
type ExtrinsicEvents struct {
	ExtrinsicIndex uint32          `json:"extrinsic_index"`
	Transfers      []TransferEvent `json:"transfers,omitempty"`
	FeePaid        *FeePaidEvent   `json:"fee_paid,omitempty"`
	Records        []EventRecord   `json:"records"`
}

// BlockEvents 单个区块事件向量的解码结果
type BlockEvents struct {
	Records     []EventRecord               `json:"records"`
	ByExtrinsic map[uint32]*ExtrinsicEvents `json:"by_extrinsic"`
	EventCount  int                         `json:"event_count"`

	// 结构化解码中途失败时,剩余未解码字节与原因
	Truncated bool   `json:"truncated,omitempty"`
	RawTail   string `json:"raw_tail,omitempty"`
	Error     string `json:"error,omitempty"`
}

// EventStats 事件解码统计
type EventStats struct {
	TotalEvents    uint64 `json:"total_events"`
	TotalTransfers uint64 `json:"total_transfers"`
	TotalFeePaid   uint64 `json:"total_fee_paid"`
	UnknownShapes  uint64 `json:"unknown_shapes"`
}
