package decoder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"chainscan/internal/codec"
	"chainscan/pkg/models"
)

// 摘要日志标签字节
const (
	digestTagOther      = 0
	digestTagConsensus  = 4
	digestTagSeal       = 5
	digestTagPreRuntime = 6
	digestTagRuntimeEnv = 8
)

// 按引擎标识区分的子解码方式
// 槽位引擎负载为u64小端槽位+紧凑权威索引,工作量证明引擎负载为32字节出块账户
var (
	slotEngines = map[string]bool{"aura": true, "BABE": true}
	powEngines  = map[string]bool{"pow_": true, "qpow": true}
)

// DigestDecoder 区块头摘要解码器
// 解码是纯计算,可被多协程并发调用
type DigestDecoder struct {
	logger *logrus.Logger
}

// NewDigestDecoder 创建摘要解码器
func NewDigestDecoder(logger *logrus.Logger) *DigestDecoder {
	return &DigestDecoder{logger: logger}
}

// DecodeDigest 解码区块头的摘要日志列表
// 单条解码失败记为Unknown并保留原始字节,不影响其余条目;首个成功解出的作者生效
func (d *DigestDecoder) DecodeDigest(logs []string, props *models.ChainProperties) *models.DecodedDigest {
	out := &models.DecodedDigest{}
	format, _ := chainParams(props)

	for i, logHex := range logs {
		entry := d.decodeEntry(logHex, format)
		if entry.Error != "" {
			d.logger.Debugf("第%d条摘要日志解码失败: %s", i, entry.Error)
		}
		if out.ConsensusEngine == "" && entry.Engine != "" {
			out.ConsensusEngine = entry.Engine
		}
		if out.Author == "" && entry.Author != "" {
			out.Author = entry.Author
		}
		out.Logs = append(out.Logs, entry)
	}
	return out
}

// decodeEntry 解码单条摘要日志
func (d *DigestDecoder) decodeEntry(logHex string, format uint16) models.DecodedDigestLog {
	entry := models.DecodedDigestLog{Kind: models.DigestKindUnknown, Raw: logHex}

	raw, err := hexutil.Decode(logHex)
	if err != nil {
		entry.Error = fmt.Sprintf("hex解码失败: %v", err)
		return entry
	}
	if len(raw) == 0 {
		entry.Error = "空日志条目"
		return entry
	}

	switch raw[0] {
	case digestTagOther:
		entry.Kind = models.DigestKindOther
		entry.Payload = hexutil.Encode(raw[1:])

	case digestTagRuntimeEnv:
		entry.Kind = models.DigestKindRuntimeEnv

	case digestTagConsensus, digestTagSeal, digestTagPreRuntime:
		switch raw[0] {
		case digestTagConsensus:
			entry.Kind = models.DigestKindConsensus
		case digestTagSeal:
			entry.Kind = models.DigestKindSeal
		case digestTagPreRuntime:
			entry.Kind = models.DigestKindPreRuntime
		}
		d.decodeEngine(raw, &entry, format)

	default:
		entry.Error = fmt.Sprintf("无法识别的摘要标签: 0x%02x", raw[0])
	}

	return entry
}

// decodeEngine 解码携带引擎标识的条目: 4字节引擎标识+引擎专属负载
func (d *DigestDecoder) decodeEngine(raw []byte, entry *models.DecodedDigestLog, format uint16) {
	if len(raw) < 5 {
		entry.Kind = models.DigestKindUnknown
		entry.Error = "引擎标识不足4字节"
		return
	}
	engine := string(raw[1:5])
	payload := raw[5:]
	entry.Engine = engine
	entry.Payload = hexutil.Encode(payload)

	switch {
	case slotEngines[engine]:
		if err := d.decodeSlotPayload(payload, entry); err != nil {
			entry.Error = err.Error()
		}
	case powEngines[engine]:
		if err := d.decodePowPayload(payload, entry, format); err != nil {
			entry.Error = err.Error()
		}
	}
}

// decodeSlotPayload 槽位引擎负载: u64小端槽位+紧凑权威索引
func (d *DigestDecoder) decodeSlotPayload(payload []byte, entry *models.DecodedDigestLog) error {
	slot, consumed, err := codec.ReadU64LE(payload, 0)
	if err != nil {
		return err
	}
	entry.Slot = &slot

	if consumed < len(payload) {
		index, _, err := codec.DecodeCompact(payload, consumed)
		if err != nil {
			return err
		}
		entry.AuthorityIndex = index.String()
	}
	return nil
}

// decodePowPayload 工作量证明引擎负载: 32字节出块账户,可能带紧凑长度前缀
func (d *DigestDecoder) decodePowPayload(payload []byte, entry *models.DecodedDigestLog, format uint16) error {
	account := payload
	if len(payload) != 32 {
		// 负载不是裸32字节时,检测并跳过与剩余长度吻合的紧凑长度前缀
		length, consumed, err := codec.DecodeCompact(payload, 0)
		if err != nil {
			return err
		}
		if !length.IsInt64() || int(length.Int64()) != len(payload)-consumed {
			return scanErrPowPayload(len(payload))
		}
		account = payload[consumed:]
	}
	if len(account) != 32 {
		return scanErrPowPayload(len(payload))
	}

	address, err := codec.EncodeAddress(account, format)
	if err != nil {
		return err
	}
	entry.Author = address
	return nil
}

func scanErrPowPayload(size int) error {
	return fmt.Errorf("出块账户负载长度不合理: %d字节", size)
}
