package decoder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"chainscan/internal/codec"
	"chainscan/internal/config"
	scanerrors "chainscan/internal/errors"
	"chainscan/internal/logging"
	"chainscan/pkg/models"
)

// DefaultCallScanWindow 调用头扫描窗口的默认字节数
const DefaultCallScanWindow = 4096

// 链属性缺省值,属性服务不可用时使用
const (
	defaultSS58Format    = uint16(42)
	defaultTokenDecimals = uint32(12)
)

// 签名区候选长度,按优先级排列
// 前两个为传统定长方案,后三个为签名与内嵌公钥拼接的后量子方案
var signatureLengthCandidates = []int{65, 64, 3732, 5245, 7187}

// 支持的交易信封版本
var supportedVersions = map[uint8]bool{4: true, 5: true}

// ExtrinsicDecoder 交易信封解码器
// 解码是纯计算,无共享可变状态,可被多协程并发调用
type ExtrinsicDecoder struct {
	logger     *logrus.Logger
	scanWindow int
}

// NewExtrinsicDecoder 创建交易解码器
func NewExtrinsicDecoder(logger *logrus.Logger, decoderConfig *config.DecoderConfig) *ExtrinsicDecoder {
	scanWindow := DefaultCallScanWindow
	if decoderConfig != nil && decoderConfig.ScanWindow > 0 {
		scanWindow = decoderConfig.ScanWindow
	}
	return &ExtrinsicDecoder{
		logger:     logger,
		scanWindow: scanWindow,
	}
}

// DecodeExtrinsics 解码一个区块的全部交易hex
// 单笔失败不影响其余交易,失败项以ok=false记录在结果中
func (d *ExtrinsicDecoder) DecodeExtrinsics(extrinsics []string, calls *models.CallDispatchMap, props *models.ChainProperties) []*models.ParsedExtrinsic {
	parsed := make([]*models.ParsedExtrinsic, 0, len(extrinsics))
	for i, extrinsicHex := range extrinsics {
		log := logging.NewExtrinsicLogger(d.logger, i)
		raw, err := hexutil.Decode(extrinsicHex)
		if err != nil {
			log.Debugf("交易hex无效: %v", err)
			parsed = append(parsed, &models.ParsedExtrinsic{
				Error: fmt.Sprintf("hex解码失败: %v", err),
			})
			continue
		}
		p := d.ParseExtrinsic(raw, calls, props)
		if !p.OK {
			log.Debugf("交易解码失败: %s", p.Error)
		}
		parsed = append(parsed, p)
	}
	return parsed
}

// ParseExtrinsic 解码单笔交易的信封与调用头
// 任何畸形输入都不会越过函数边界,失败路径一律填充ok=false与错误信息
func (d *ExtrinsicDecoder) ParseExtrinsic(raw []byte, calls *models.CallDispatchMap, props *models.ChainProperties) *models.ParsedExtrinsic {
	parsed := &models.ParsedExtrinsic{}

	// 外层长度前缀声明其后的字节数
	length, consumed, err := codec.DecodeCompact(raw, 0)
	if err != nil {
		return d.fail(parsed, err)
	}
	if !length.IsInt64() || length.Int64() <= 0 {
		return d.fail(parsed, scanerrors.NewImplausibleValue("交易体长度", length.String()))
	}
	if int64(len(raw)-consumed) < length.Int64() {
		return d.fail(parsed, scanerrors.NewBufferUnderflow("交易体", consumed, int(length.Int64()), len(raw)-consumed))
	}
	body := raw[consumed : consumed+int(length.Int64())]
	parsed.ByteLength = consumed + len(body)

	// 版本字节: 最高位为签名标志,低7位为信封版本
	versionByte := body[0]
	parsed.Version = versionByte & 0x7F
	parsed.Signed = versionByte&0x80 != 0
	if !supportedVersions[parsed.Version] {
		d.logger.Warnf("交易信封版本%d不在支持范围，继续尽力解码", parsed.Version)
	}

	if !parsed.Signed {
		return d.parseUnsigned(parsed, body, calls)
	}
	return d.parseSigned(parsed, body, calls, props)
}

// parseUnsigned 无签名交易的调用头紧跟版本字节
func (d *ExtrinsicDecoder) parseUnsigned(parsed *models.ParsedExtrinsic, body []byte, calls *models.CallDispatchMap) *models.ParsedExtrinsic {
	if len(body) < 3 {
		return d.fail(parsed, scanerrors.NewBufferUnderflow("调用头", 1, 2, len(body)-1))
	}
	parsed.PalletIndex = body[1]
	parsed.CallIndex = body[2]
	d.resolveCall(parsed, calls)
	parsed.OK = true
	return parsed
}

// parseSigned 解码签名交易: 发送方、签名区消歧、era/nonce/tip、调用头扫描
func (d *ExtrinsicDecoder) parseSigned(parsed *models.ParsedExtrinsic, body []byte, calls *models.CallDispatchMap, props *models.ChainProperties) *models.ParsedExtrinsic {
	format, decimals := chainParams(props)

	o := 1
	sender, consumed, err := codec.DecodeAccountReference(body, o)
	if err != nil {
		return d.fail(parsed, err)
	}
	o += consumed
	parsed.Sender = sender
	if raw32, ok := sender.AddressBytes(); ok {
		if address, addrErr := codec.EncodeAddress(raw32, format); addrErr == nil {
			parsed.SenderAddress = address
		}
	}

	// 签名长度无线上前缀,只能逐个候选试探并验证自洽性
	maxTip := tipCeiling(decimals)
	var layout *signedLayout
	guessOffset := o
	for _, sigLen := range signatureLengthCandidates {
		candidate, reached := d.tryLayout(body, o, sigLen, calls, maxTip)
		if candidate != nil {
			layout = candidate
			break
		}
		if reached > 0 {
			guessOffset = reached
		}
	}
	if layout == nil {
		layout, guessOffset = d.tryLegacyLayout(body, o, calls, maxTip, guessOffset)
	}
	if layout == nil {
		// 对齐失败,从最后的游标位置取尽力而为的索引对
		if guessOffset < len(body) {
			parsed.PalletIndex = body[guessOffset]
		}
		if guessOffset+1 < len(body) {
			parsed.CallIndex = body[guessOffset+1]
		}
		return d.fail(parsed, scanerrors.NewAlignmentNotFound(guessOffset, d.scanWindow))
	}

	parsed.SignatureLength = layout.signatureLength
	parsed.Era = &layout.era
	parsed.Nonce = layout.nonce.String()
	if layout.tipImplausible {
		d.logger.Warnf("小费%s超出合理上限，按0处理", layout.tip.String())
		layout.tip = big.NewInt(0)
	}
	parsed.TipPlanck = layout.tip.String()
	parsed.TipHuman = humanUnits(layout.tip, decimals)
	parsed.PalletIndex = layout.palletIndex
	parsed.CallIndex = layout.callIndex
	d.resolveCall(parsed, calls)
	parsed.OK = true
	return parsed
}

// signedLayout 一次成功的签名区试探得到的布局
type signedLayout struct {
	signatureLength int
	era             models.Era
	nonce           *big.Int
	tip             *big.Int
	tipImplausible  bool
	callOffset      int
	palletIndex     uint8
	callIndex       uint8
}

// tryLayout 按给定签名区长度试探剩余布局
// 候选被接受的条件: era自洽、nonce低于2^64、调用头扫描命中
// 第二个返回值为本次试探推进到的小费后偏移,失败时供最佳猜测使用
func (d *ExtrinsicDecoder) tryLayout(body []byte, sigStart, sigLen int, calls *models.CallDispatchMap, maxTip *big.Int) (*signedLayout, int) {
	o := sigStart + sigLen
	if o >= len(body) {
		return nil, 0
	}

	era, consumed, err := codec.DecodeEra(body, o)
	if err != nil {
		return nil, 0
	}
	// 相位不小于周期说明签名长度猜错了
	if !era.Immortal && era.Phase >= era.Period {
		return nil, 0
	}
	o += consumed

	nonce, consumed, err := codec.DecodeCompact(body, o)
	if err != nil || nonce.BitLen() > 64 {
		return nil, 0
	}
	o += consumed

	tip, consumed, err := codec.DecodeCompact(body, o)
	if err != nil {
		return nil, 0
	}
	afterTip := o + consumed
	implausible := false
	if tip.Cmp(maxTip) > 0 {
		// 版本5的流在小费前可能多一个紧凑长度字段,跳过一字节重试
		retry, retryConsumed, retryErr := codec.DecodeCompact(body, o+1)
		if retryErr == nil && retry.Cmp(maxTip) <= 0 {
			tip = retry
			afterTip = o + 1 + retryConsumed
		} else {
			// 仍不合理则置零继续,误读的小费不应中断调用解码
			implausible = true
		}
	}

	callOffset, found := d.scanCallHeader(body, afterTip, calls)
	if !found {
		return nil, afterTip
	}

	return &signedLayout{
		signatureLength: sigLen,
		era:             era,
		nonce:           nonce,
		tip:             tip,
		tipImplausible:  implausible,
		callOffset:      callOffset,
		palletIndex:     body[callOffset],
		callIndex:       body[callOffset+1],
	}, afterTip
}

// tryLegacyLayout 传统单字节签名方案标签回退
// 标签0/1后跟64字节签名,标签2后跟65字节
func (d *ExtrinsicDecoder) tryLegacyLayout(body []byte, sigStart int, calls *models.CallDispatchMap, maxTip *big.Int, guess int) (*signedLayout, int) {
	if sigStart >= len(body) {
		return nil, guess
	}

	var sigLen int
	switch body[sigStart] {
	case 0, 1:
		sigLen = 1 + 64
	case 2:
		sigLen = 1 + 65
	default:
		return nil, guess
	}

	layout, reached := d.tryLayout(body, sigStart, sigLen, calls, maxTip)
	if layout == nil {
		if reached > 0 {
			guess = reached
		}
		return nil, guess
	}
	return layout, reached
}

// scanCallHeader 自起点逐字节在有界窗口内寻找第一个合法的(模块,调用)字节对
// 第一个匹配即被接受;窗口耗尽返回失败
// 已知歧义: 签名扩展区内的字节对可能先于真实调用头命中,保持首个命中策略不做二次校验
func (d *ExtrinsicDecoder) scanCallHeader(body []byte, start int, calls *models.CallDispatchMap) (int, bool) {
	if start < 0 {
		return 0, false
	}
	limit := start + d.scanWindow
	for p := start; p+1 < len(body) && p < limit; p++ {
		if calls.ValidCall(body[p], body[p+1]) {
			return p, true
		}
	}
	return 0, false
}

// resolveCall 解析模块名与调用名,表中不存在时退化为索引形式
func (d *ExtrinsicDecoder) resolveCall(parsed *models.ParsedExtrinsic, calls *models.CallDispatchMap) {
	if section, method, ok := calls.Resolve(parsed.PalletIndex, parsed.CallIndex); ok {
		parsed.Section = section
		parsed.Method = method
		return
	}
	parsed.Section = fmt.Sprintf("pallet_%d", parsed.PalletIndex)
	parsed.Method = fmt.Sprintf("call_%d", parsed.CallIndex)
}

func (d *ExtrinsicDecoder) fail(parsed *models.ParsedExtrinsic, err error) *models.ParsedExtrinsic {
	parsed.OK = false
	parsed.Error = err.Error()
	return parsed
}

// chainParams 从链属性取SS58格式与代币精度,属性缺失时用缺省值
func chainParams(props *models.ChainProperties) (uint16, uint32) {
	if props == nil {
		return defaultSS58Format, defaultTokenDecimals
	}
	return props.SS58Format, props.TokenDecimals
}

// tipCeiling 小费合理上限: 10^(精度+7),即一千万枚整币
func tipCeiling(decimals uint32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)+7), nil)
}

// humanUnits 按代币精度换算为人类可读单位,去除尾部无效零
func humanUnits(planck *big.Int, decimals uint32) string {
	return decimal.NewFromBigInt(planck, -int32(decimals)).String()
}
