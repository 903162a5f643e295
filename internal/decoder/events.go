package decoder

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"chainscan/internal/codec"
	"chainscan/pkg/models"
)

// 调度信息的展示名映射
var (
	dispatchClassNames = map[uint8]string{0: "Normal", 1: "Operational", 2: "Mandatory"}
	paysFeeNames       = map[uint8]string{0: "Yes", 1: "No"}
)

// 调度错误变体名,变体3携带模块索引与4字节错误码,7/8/9携带单字节子码
var dispatchErrorNames = map[uint8]string{
	0:  "Other",
	1:  "CannotLookup",
	2:  "BadOrigin",
	3:  "Module",
	4:  "ConsumersRemaining",
	5:  "NoProviders",
	6:  "TooManyConsumers",
	7:  "Token",
	8:  "Arithmetic",
	9:  "Transactional",
	10: "Exhausted",
	11: "Corruption",
	12: "Unavailable",
	13: "RootNotAllowed",
}

// EventDecoder 区块事件向量解码器
// 解码是纯计算,可被多协程并发调用
type EventDecoder struct {
	logger *logrus.Logger
}

// NewEventDecoder 创建事件解码器
func NewEventDecoder(logger *logrus.Logger) *EventDecoder {
	return &EventDecoder{logger: logger}
}

// fieldSummary 单条事件里按出现顺序收集的可提取字段
type fieldSummary struct {
	accounts []string
	balances []*big.Int
}

// DecodeEvents 解码System.Events存储值的hex
// 未知事件形状或字节不足会终止结构化解码并保留剩余原始字节,绝不报硬错误
func (d *EventDecoder) DecodeEvents(eventsHex string, layout *models.EventLayoutMap, props *models.ChainProperties) *models.BlockEvents {
	out := &models.BlockEvents{ByExtrinsic: make(map[uint32]*models.ExtrinsicEvents)}

	raw, err := hexutil.Decode(eventsHex)
	if err != nil {
		out.Error = fmt.Sprintf("hex解码失败: %v", err)
		return out
	}
	if len(raw) == 0 {
		return out
	}

	count, consumed, err := codec.DecodeCompact(raw, 0)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	if !count.IsInt64() || count.Int64() < 0 {
		out.Error = fmt.Sprintf("事件数量不合理: %s", count.String())
		return out
	}

	_, decimals := chainParams(props)
	o := consumed
	total := int(count.Int64())
	for i := 0; i < total; i++ {
		recordStart := o
		record, summary, next, ok := d.decodeRecord(raw, o, layout, props)
		if !ok {
			out.Truncated = true
			out.RawTail = hexutil.Encode(raw[recordStart:])
			d.logger.Debugf("第%d条事件形状未知或字节不足，自偏移%d起保留原始字节", i, recordStart)
			break
		}
		o = next
		record.Raw = hexutil.Encode(raw[recordStart:next])
		out.Records = append(out.Records, *record)
		d.group(out, record, summary, decimals)
	}

	out.EventCount = len(out.Records)
	return out
}

/// decodeRecord 解码单条事件记录: 阶段、(模块,事件)索引、字段、主题
func (d *EventDecoder) decodeRecord(raw []byte, o int, layout *models.EventLayoutMap, props *models.ChainProperties) (*models.EventRecord, *fieldSummary, int, bool) {
	phaseTag, n, err := codec.ReadU8(raw, o)
	if err != nil {
		return nil, nil, 0, false
	}
	o += n

	record := &models.EventRecord{}
	switch models.PhaseKind(phaseTag) {
	case models.PhaseApplyExtrinsic:
		// 阶段0携带定宽u32小端交易索引,不是紧凑整数
		index, n, err := codec.ReadU32LE(raw, o)
		if err != nil {
			return nil, nil, 0, false
		}
		o += n
		record.Phase = models.Phase{Kind: models.PhaseApplyExtrinsic, ExtrinsicIndex: index}
	case models.PhaseFinalization, models.PhaseInitialization:
		record.Phase = models.Phase{Kind: models.PhaseKind(phaseTag)}
	default:
		return nil, nil, 0, false
	}
	record.Phase.KindName = record.Phase.Kind.String()

	palletIndex, n, err := codec.ReadU8(raw, o)
	if err != nil {
		return nil, nil, 0, false
	}
	o += n
	eventIndex, n, err := codec.ReadU8(raw, o)
	if err != nil {
		return nil, nil, 0, false
	}
	o += n
	record.PalletIndex = palletIndex
	record.EventIndex = eventIndex

	pallet, def, ok := layout.LookupEvent(palletIndex, eventIndex)
	if !ok {
		return nil, nil, 0, false
	}
	record.Section = pallet
	record.Method = def.Name

	summary := &fieldSummary{}
	if len(def.Fields) > 0 {
		record.Data = make(map[string]interface{}, len(def.Fields))
		for _, field := range def.Fields {
			o, ok = d.decodeField(raw, o, field, props, record.Data, summary)
			if !ok {
				return nil, nil, 0, false
			}
		}
	}

	topicCount, n, err := codec.DecodeCompact(raw, o)
	if err != nil || !topicCount.IsInt64() || topicCount.Int64() < 0 {
		return nil, nil, 0, false
	}
	o += n
	for t := int64(0); t < topicCount.Int64(); t++ {
		topic, n, err := codec.ReadBytes(raw, o, 32)
		if err != nil {
			return nil, nil, 0, false
		}
		o += n
		record.Topics = append(record.Topics, hexutil.Encode(topic))
	}

	return record, summary, o, true
}

// decodeField 按字段类型推进游标并填充展示数据
func (d *EventDecoder) decodeField(raw []byte, o int, field models.EventField, props *models.ChainProperties, data map[string]interface{}, summary *fieldSummary) (int, bool) {
	format, decimals := chainParams(props)

	switch field.Kind {
	case models.FieldAccount:
		b, n, err := codec.ReadBytes(raw, o, 32)
		if err != nil {
			return 0, false
		}
		address, addrErr := codec.EncodeAddress(b, format)
		if addrErr != nil {
			address = hexutil.Encode(b)
		}
		data[field.Name] = address
		summary.accounts = append(summary.accounts, address)
		return o + n, true

	case models.FieldBalance:
		v, n, err := codec.ReadU128LE(raw, o)
		if err != nil {
			return 0, false
		}
		data[field.Name] = v.String()
		data[field.Name+"_human"] = humanUnits(v, decimals)
		summary.balances = append(summary.balances, v)
		return o + n, true

	case models.FieldU128:
		v, n, err := codec.ReadU128LE(raw, o)
		if err != nil {
			return 0, false
		}
		data[field.Name] = v.String()
		return o + n, true

	case models.FieldU64:
		v, n, err := codec.ReadU64LE(raw, o)
		if err != nil {
			return 0, false
		}
		data[field.Name] = strconv.FormatUint(v, 10)
		return o + n, true

	case models.FieldU32:
		v, n, err := codec.ReadU32LE(raw, o)
		if err != nil {
			return 0, false
		}
		data[field.Name] = v
		return o + n, true

	case models.FieldU8:
		v, n, err := codec.ReadU8(raw, o)
		if err != nil {
			return 0, false
		}
		data[field.Name] = v
		return o + n, true

	case models.FieldBool:
		v, n, err := codec.ReadU8(raw, o)
		if err != nil {
			return 0, false
		}
		data[field.Name] = v != 0
		return o + n, true

	case models.FieldCompact:
		v, n, err := codec.DecodeCompact(raw, o)
		if err != nil {
			return 0, false
		}
		data[field.Name] = v.String()
		return o + n, true

	case models.FieldBytes:
		b, n, err := codec.DecodeLengthPrefixedBytes(raw, o)
		if err != nil {
			return 0, false
		}
		data[field.Name] = hexutil.Encode(b)
		return o + n, true

	case models.FieldHash:
		b, n, err := codec.ReadBytes(raw, o, 32)
		if err != nil {
			return 0, false
		}
		data[field.Name] = hexutil.Encode(b)
		return o + n, true

	case models.FieldDispatchInfo:
		return d.decodeDispatchInfo(raw, o, field.Name, data)

	case models.FieldDispatchError:
		return d.decodeDispatchError(raw, o, field.Name, data)
	}

	return 0, false
}

// decodeDispatchInfo 调度信息: 权重两个紧凑整数+类别+付费标志
func (d *EventDecoder) decodeDispatchInfo(raw []byte, o int, name string, data map[string]interface{}) (int, bool) {
	refTime, n, err := codec.DecodeCompact(raw, o)
	if err != nil {
		return 0, false
	}
	o += n
	proofSize, n, err := codec.DecodeCompact(raw, o)
	if err != nil {
		return 0, false
	}
	o += n
	class, n, err := codec.ReadU8(raw, o)
	if err != nil {
		return 0, false
	}
	o += n
	pays, n, err := codec.ReadU8(raw, o)
	if err != nil {
		return 0, false
	}
	o += n

	className, ok := dispatchClassNames[class]
	if !ok {
		return 0, false
	}
	paysName, ok := paysFeeNames[pays]
	if !ok {
		return 0, false
	}

	data[name] = map[string]interface{}{
		"ref_time":   refTime.String(),
		"proof_size": proofSize.String(),
		"class":      className,
		"pays_fee":   paysName,
	}
	return o, true
}

// decodeDispatchError 调度错误变体,Module变体额外携带模块索引与错误码
func (d *EventDecoder) decodeDispatchError(raw []byte, o int, name string, data map[string]interface{}) (int, bool) {
	variant, n, err := codec.ReadU8(raw, o)
	if err != nil {
		return 0, false
	}
	o += n

	variantName, ok := dispatchErrorNames[variant]
	if !ok {
		return 0, false
	}

	detail := map[string]interface{}{"kind": variantName}
	switch variant {
	case 3:
		index, n, err := codec.ReadU8(raw, o)
		if err != nil {
			return 0, false
		}
		o += n
		code, n, err := codec.ReadBytes(raw, o, 4)
		if err != nil {
			return 0, false
		}
		o += n
		detail["index"] = index
		detail["error"] = hexutil.Encode(code)
	case 7, 8, 9:
		sub, n, err := codec.ReadU8(raw, o)
		if err != nil {
			return 0, false
		}
		o += n
		detail["detail"] = sub
	}

	data[name] = detail
	return o, true
}

// group 把交易阶段的事件归入对应交易,并提取转账与手续费结构
func (d *EventDecoder) group(out *models.BlockEvents, record *models.EventRecord, summary *fieldSummary, decimals uint32) {
	if record.Phase.Kind != models.PhaseApplyExtrinsic {
		return
	}

	index := record.Phase.ExtrinsicIndex
	events, exists := out.ByExtrinsic[index]
	if !exists {
		events = &models.ExtrinsicEvents{ExtrinsicIndex: index}
		out.ByExtrinsic[index] = events
	}
	events.Records = append(events.Records, *record)

	switch {
	case record.Section == "Balances" && record.Method == "Transfer":
		if len(summary.accounts) >= 2 && len(summary.balances) >= 1 {
			amount := summary.balances[0]
			events.Transfers = append(events.Transfers, models.TransferEvent{
				From:         summary.accounts[0],
				To:           summary.accounts[1],
				AmountPlanck: amount.String(),
				AmountHuman:  humanUnits(amount, decimals),
			})
		}

	case record.Section == "TransactionPayment" && record.Method == "TransactionFeePaid":
		if len(summary.accounts) >= 1 && len(summary.balances) >= 1 {
			fee := summary.balances[0]
			paid := &models.FeePaidEvent{
				Payer:        summary.accounts[0],
				AmountPlanck: fee.String(),
				AmountHuman:  humanUnits(fee, decimals),
			}
			if len(summary.balances) >= 2 {
				paid.TipPlanck = summary.balances[1].String()
				paid.TipHuman = humanUnits(summary.balances[1], decimals)
			}
			// 同一交易只会支付一次手续费,后写覆盖先写
			events.FeePaid = paid
		}
	}
}
