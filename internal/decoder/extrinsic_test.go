package decoder

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainscan/internal/codec"
	"chainscan/pkg/models"
)

// balancesOnlyMap 只含Balances模块的调度表
func balancesOnlyMap() *models.CallDispatchMap {
	return &models.CallDispatchMap{
		SpecVersion: 1,
		Pallets: map[uint8]models.PalletMeta{
			2: {
				Name:            "Balances",
				CallCount:       11,
				CallNameByIndex: map[uint8]string{3: "transfer_keep_alive"},
			},
		},
	}
}

func testProps() *models.ChainProperties {
	return &models.ChainProperties{SS58Format: 42, TokenDecimals: 12, TokenSymbol: "UNIT"}
}

// wrapExtrinsic 给交易体加上外层紧凑长度前缀
func wrapExtrinsic(body []byte) []byte {
	return append(models.EncodeCompact(big.NewInt(int64(len(body)))), body...)
}

// seqBytes 生成递增测试字节
func seqBytes(n int, start byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = start + byte(i)
	}
	return out
}

func TestParseExtrinsic_SignedTransferEndToEnd(t *testing.T) {
	logger := logrus.New()
	d := NewExtrinsicDecoder(logger, nil)

	// 版本0x84 + Id发送方 + 64字节传统签名 + 永久era + nonce 3 + tip 0 + (2,3)调用 + 转账参数
	sender := seqBytes(32, 0xA1)
	dest := seqBytes(32, 0x10)
	body := []byte{0x84, 0x00}
	body = append(body, sender...)
	body = append(body, bytes.Repeat([]byte{0x9C}, 64)...)
	body = append(body, 0x00)       // era: 永久有效
	body = append(body, 0x0C)       // nonce: 3
	body = append(body, 0x00)       // tip: 0
	body = append(body, 0x02, 0x03) // Balances.transfer_keep_alive
	body = append(body, 0x00)       // 目标账户Id变体
	body = append(body, dest...)
	body = append(body, 0xFC) // 转账金额63

	wire := wrapExtrinsic(body)
	parsed := d.ParseExtrinsic(wire, balancesOnlyMap(), testProps())

	require.True(t, parsed.OK, "解码失败: %s", parsed.Error)
	assert.Equal(t, len(wire), parsed.ByteLength)
	assert.Equal(t, uint8(4), parsed.Version)
	assert.True(t, parsed.Signed)

	require.NotNil(t, parsed.Sender)
	assert.Equal(t, models.AccountTagID, parsed.Sender.Tag)
	expectedAddress, err := codec.EncodeAddress(sender, 42)
	require.NoError(t, err)
	assert.Equal(t, expectedAddress, parsed.SenderAddress)

	assert.Equal(t, 64, parsed.SignatureLength)
	require.NotNil(t, parsed.Era)
	assert.True(t, parsed.Era.Immortal)
	assert.Equal(t, "3", parsed.Nonce)
	assert.Equal(t, "0", parsed.TipPlanck)
	assert.Equal(t, "0", parsed.TipHuman)
	assert.Equal(t, uint8(2), parsed.PalletIndex)
	assert.Equal(t, uint8(3), parsed.CallIndex)
	assert.Equal(t, "Balances", parsed.Section)
	assert.Equal(t, "transfer_keep_alive", parsed.Method)
	assert.Equal(t, "Balances.transfer_keep_alive", parsed.CallLabel())
	assert.Empty(t, parsed.Error)
}

func TestParseExtrinsic_PostQuantumSignature(t *testing.T) {
	logger := logrus.New()
	d := NewExtrinsicDecoder(logger, nil)

	// 7187字节的后量子签名区,较短候选落在签名内部时era自洽检查失败
	body := []byte{0x84, 0x00}
	body = append(body, seqBytes(32, 0xA1)...)
	body = append(body, bytes.Repeat([]byte{0x41}, 7187)...)
	body = append(body, 0x46, 0x01) // era: 周期64,相位5
	body = append(body, 0x0C)       // nonce: 3
	body = append(body, 0x00)       // tip: 0
	body = append(body, 0x02, 0x03)
	body = append(body, seqBytes(8, 0x10)...)

	parsed := d.ParseExtrinsic(wrapExtrinsic(body), balancesOnlyMap(), testProps())

	require.True(t, parsed.OK, "解码失败: %s", parsed.Error)
	assert.Equal(t, 7187, parsed.SignatureLength)
	require.NotNil(t, parsed.Era)
	assert.False(t, parsed.Era.Immortal)
	assert.Equal(t, uint64(64), parsed.Era.Period)
	assert.Equal(t, uint64(5), parsed.Era.Phase)
	// 消歧路径接受的era必须满足相位小于周期
	assert.Less(t, parsed.Era.Phase, parsed.Era.Period)
	assert.Equal(t, "3", parsed.Nonce)
	assert.Equal(t, "Balances", parsed.Section)
	assert.Equal(t, "transfer_keep_alive", parsed.Method)
}

func TestParseExtrinsic_LegacySchemeTagFallback(t *testing.T) {
	logger := logrus.New()
	d := NewExtrinsicDecoder(logger, nil)

	// 所有候选长度都不自洽,回退到单字节方案标签: 标签2后跟65字节签名
	body := []byte{0x84, 0x00}
	body = append(body, seqBytes(32, 0xA1)...)
	body = append(body, 0x02)
	body = append(body, bytes.Repeat([]byte{0x41}, 65)...)
	body = append(body, 0x46, 0x01)
	body = append(body, 0x0C)
	body = append(body, 0x00)
	body = append(body, 0x02, 0x03)

	parsed := d.ParseExtrinsic(wrapExtrinsic(body), balancesOnlyMap(), testProps())

	require.True(t, parsed.OK, "解码失败: %s", parsed.Error)
	assert.Equal(t, 66, parsed.SignatureLength)
	require.NotNil(t, parsed.Era)
	assert.Equal(t, uint64(64), parsed.Era.Period)
	assert.Equal(t, uint64(5), parsed.Era.Phase)
	assert.Equal(t, "3", parsed.Nonce)
	assert.Equal(t, "transfer_keep_alive", parsed.Method)
}

func TestParseExtrinsic_ScanFirstMatchWins(t *testing.T) {
	logger := logrus.New()
	d := NewExtrinsicDecoder(logger, nil)

	// 签名扩展区里注入一个先于真实调用头的合法字节对,扫描按首个命中返回
	// 这是已知歧义,结果确定但可能偏离真实调用头
	body := []byte{0x84, 0x00}
	body = append(body, seqBytes(32, 0xA1)...)
	body = append(body, bytes.Repeat([]byte{0x41}, 64)...)
	body = append(body, 0x00)       // era
	body = append(body, 0x0C)       // nonce: 3
	body = append(body, 0x00)       // tip: 0
	body = append(body, 0x02, 0x05) // 注入的假调用头
	body = append(body, 0x02, 0x03) // 真实调用头

	parsed := d.ParseExtrinsic(wrapExtrinsic(body), balancesOnlyMap(), testProps())

	require.True(t, parsed.OK, "解码失败: %s", parsed.Error)
	assert.Equal(t, uint8(2), parsed.PalletIndex)
	assert.Equal(t, uint8(5), parsed.CallIndex)
	assert.Equal(t, "Balances", parsed.Section)
	assert.Equal(t, "call_5", parsed.Method)
}

func TestParseExtrinsic_AlignmentNotFound(t *testing.T) {
	logger := logrus.New()
	d := NewExtrinsicDecoder(logger, nil)

	// 签名区之后没有任何自洽布局,也没有合法的方案标签
	body := []byte{0x84, 0x00}
	body = append(body, seqBytes(32, 0xA1)...)
	body = append(body, bytes.Repeat([]byte{0x41}, 70)...)

	parsed := d.ParseExtrinsic(wrapExtrinsic(body), balancesOnlyMap(), testProps())

	assert.False(t, parsed.OK)
	assert.Contains(t, parsed.Error, "ALIGNMENT_NOT_FOUND")
	// 失败时仍给出尽力而为的索引对与已解出的发送方
	assert.Equal(t, uint8(0x41), parsed.PalletIndex)
	assert.Equal(t, uint8(0x41), parsed.CallIndex)
	assert.NotNil(t, parsed.Sender)
	assert.Empty(t, parsed.Section)
}

func TestParseExtrinsic_UnknownSenderTag(t *testing.T) {
	logger := logrus.New()
	d := NewExtrinsicDecoder(logger, nil)

	body := append([]byte{0x84, 0x09}, seqBytes(40, 0x01)...)
	parsed := d.ParseExtrinsic(wrapExtrinsic(body), balancesOnlyMap(), testProps())

	assert.False(t, parsed.OK)
	assert.Contains(t, parsed.Error, "UNKNOWN_TAG")
}

func TestParseExtrinsic_Unsigned(t *testing.T) {
	logger := logrus.New()
	d := NewExtrinsicDecoder(logger, nil)

	// 无签名交易的调用头紧跟版本字节
	body := []byte{0x04, 0x02, 0x03, 0x00}
	body = append(body, seqBytes(32, 0x10)...)

	parsed := d.ParseExtrinsic(wrapExtrinsic(body), balancesOnlyMap(), testProps())

	require.True(t, parsed.OK, "解码失败: %s", parsed.Error)
	assert.False(t, parsed.Signed)
	assert.Equal(t, uint8(4), parsed.Version)
	assert.Equal(t, "Balances", parsed.Section)
	assert.Equal(t, "transfer_keep_alive", parsed.Method)
	assert.Nil(t, parsed.Sender)
	assert.Empty(t, parsed.Nonce)
}

func TestParseExtrinsic_UnsignedUnknownCall(t *testing.T) {
	logger := logrus.New()
	d := NewExtrinsicDecoder(logger, nil)

	// 调度表之外的调用对退化为索引名,不视为失败
	parsed := d.ParseExtrinsic(wrapExtrinsic([]byte{0x04, 0x07, 0x09}), balancesOnlyMap(), testProps())

	require.True(t, parsed.OK)
	assert.Equal(t, "pallet_7", parsed.Section)
	assert.Equal(t, "call_9", parsed.Method)
	assert.Equal(t, "pallet_7.call_9", parsed.CallLabel())
}

func TestParseExtrinsic_UnsupportedVersionIsWarning(t *testing.T) {
	logger := logrus.New()
	d := NewExtrinsicDecoder(logger, nil)

	// 版本3不在支持范围,记日志但继续解码
	parsed := d.ParseExtrinsic(wrapExtrinsic([]byte{0x03, 0x02, 0x03}), balancesOnlyMap(), testProps())

	require.True(t, parsed.OK)
	assert.Equal(t, uint8(3), parsed.Version)
	assert.Equal(t, "Balances", parsed.Section)
}

func TestParseExtrinsic_ImplausibleTipClamped(t *testing.T) {
	logger := logrus.New()
	d := NewExtrinsicDecoder(logger, nil)

	// tip为10^20+23,重试一个字节后仍不合理,置零恢复而不中断解码
	tip := new(big.Int).Add(
		new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil),
		big.NewInt(23),
	)
	body := []byte{0x84, 0x00}
	body = append(body, seqBytes(32, 0xA1)...)
	body = append(body, bytes.Repeat([]byte{0x41}, 64)...)
	body = append(body, 0x00)
	body = append(body, 0x0C)
	body = append(body, models.EncodeCompact(tip)...)
	body = append(body, 0x02, 0x03)

	parsed := d.ParseExtrinsic(wrapExtrinsic(body), balancesOnlyMap(), testProps())

	require.True(t, parsed.OK, "解码失败: %s", parsed.Error)
	assert.Equal(t, "0", parsed.TipPlanck)
	assert.Equal(t, "0", parsed.TipHuman)
	assert.Equal(t, "3", parsed.Nonce)
	assert.Equal(t, "Balances", parsed.Section)
	assert.Equal(t, "transfer_keep_alive", parsed.Method)
}

func TestParseExtrinsic_VersionFiveExtraField(t *testing.T) {
	logger := logrus.New()
	d := NewExtrinsicDecoder(logger, nil)

	// 版本5在tip前多携带一个字段,首次读出的tip不合理时跳过一字节重试
	body := []byte{0x85, 0x00}
	body = append(body, seqBytes(32, 0xA1)...)
	body = append(body, bytes.Repeat([]byte{0x41}, 64)...)
	body = append(body, 0x00)
	body = append(body, 0x0C)
	body = append(body, 0x13) // 额外字段,首次按tip读出天文数字
	body = append(body, 0x14) // 真实tip: 5
	body = append(body, 0x02, 0x03)
	body = append(body, 0xD0, 0xD1, 0xD2, 0xD3, 0xD4)

	parsed := d.ParseExtrinsic(wrapExtrinsic(body), balancesOnlyMap(), testProps())

	require.True(t, parsed.OK, "解码失败: %s", parsed.Error)
	assert.Equal(t, uint8(5), parsed.Version)
	assert.Equal(t, "3", parsed.Nonce)
	assert.Equal(t, "5", parsed.TipPlanck)
	assert.Equal(t, "0.000000000005", parsed.TipHuman)
	assert.Equal(t, "transfer_keep_alive", parsed.Method)
}

func TestParseExtrinsic_TruncatedBody(t *testing.T) {
	logger := logrus.New()
	d := NewExtrinsicDecoder(logger, nil)

	tests := []struct {
		name string
		raw  []byte
	}{
		{"空输入", []byte{}},
		{"声明长度超出实际", []byte{0x28, 0x84, 0x00}},
		{"零长度交易体", []byte{0x00}},
		{"签名交易缺发送方", wrapExtrinsic([]byte{0x84, 0x00, 0x01})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := d.ParseExtrinsic(tt.raw, balancesOnlyMap(), testProps())
			assert.False(t, parsed.OK)
			assert.NotEmpty(t, parsed.Error)
		})
	}
}

func TestDecodeExtrinsics_MixedValidity(t *testing.T) {
	logger := logrus.New()
	d := NewExtrinsicDecoder(logger, nil)

	valid := hexutil.Encode(wrapExtrinsic([]byte{0x04, 0x02, 0x03}))
	parsed := d.DecodeExtrinsics([]string{"0xzz", valid}, balancesOnlyMap(), testProps())

	require.Len(t, parsed, 2)
	assert.False(t, parsed[0].OK)
	assert.NotEmpty(t, parsed[0].Error)
	assert.True(t, parsed[1].OK)
	assert.Equal(t, "Balances", parsed[1].Section)
}

func TestParseExtrinsic_NilProps(t *testing.T) {
	logger := logrus.New()
	d := NewExtrinsicDecoder(logger, nil)

	// 链属性缺失时使用缺省格式与精度
	parsed := d.ParseExtrinsic(wrapExtrinsic([]byte{0x04, 0x02, 0x03}), balancesOnlyMap(), nil)
	require.True(t, parsed.OK)
}

func TestTipCeiling(t *testing.T) {
	// 精度12的上限是10^19
	expected, ok := new(big.Int).SetString("10000000000000000000", 10)
	require.True(t, ok)
	assert.Equal(t, 0, tipCeiling(12).Cmp(expected))
}

func TestHumanUnits(t *testing.T) {
	tests := []struct {
		planck   string
		decimals uint32
		expected string
	}{
		{"0", 12, "0"},
		{"5", 12, "0.000000000005"},
		{"1500000000000", 12, "1.5"},
		{"5000000000000", 12, "5"},
		{"123456789", 6, "123.456789"},
	}

	for _, tt := range tests {
		v, ok := new(big.Int).SetString(tt.planck, 10)
		require.True(t, ok)
		assert.Equal(t, tt.expected, humanUnits(v, tt.decimals), "planck=%s", tt.planck)
	}
}

func BenchmarkParseExtrinsic_Legacy(b *testing.B) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	d := NewExtrinsicDecoder(logger, nil)

	body := []byte{0x84, 0x00}
	body = append(body, seqBytes(32, 0xA1)...)
	body = append(body, bytes.Repeat([]byte{0x9C}, 64)...)
	body = append(body, 0x00, 0x0C, 0x00, 0x02, 0x03)
	wire := wrapExtrinsic(body)
	callMap := balancesOnlyMap()
	props := testProps()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.ParseExtrinsic(wire, callMap, props)
	}
}

func BenchmarkParseExtrinsic_PostQuantum(b *testing.B) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	d := NewExtrinsicDecoder(logger, nil)

	body := []byte{0x84, 0x00}
	body = append(body, seqBytes(32, 0xA1)...)
	body = append(body, bytes.Repeat([]byte{0x41}, 7187)...)
	body = append(body, 0x46, 0x01, 0x0C, 0x00, 0x02, 0x03)
	wire := wrapExtrinsic(body)
	callMap := balancesOnlyMap()
	props := testProps()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.ParseExtrinsic(wire, callMap, props)
	}
}
