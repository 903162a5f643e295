package decoder

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainscan/internal/codec"
	"chainscan/pkg/models"
)

// sealLog 构造Seal条目: 标签5+引擎标识+负载
func sealLog(engine string, payload []byte) string {
	raw := append([]byte{0x05}, []byte(engine)...)
	return hexutil.Encode(append(raw, payload...))
}

func preRuntimeLog(engine string, payload []byte) string {
	raw := append([]byte{0x06}, []byte(engine)...)
	return hexutil.Encode(append(raw, payload...))
}

func u64LEBytes(v uint64) []byte {
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = byte(v >> (8 * i))
	}
	return out
}

func TestDecodeDigest_PowSeal(t *testing.T) {
	logger := logrus.New()
	d := NewDigestDecoder(logger)

	account := bytes.Repeat([]byte{0xEE}, 32)
	out := d.DecodeDigest([]string{sealLog("qpow", account)}, testProps())

	require.Len(t, out.Logs, 1)
	entry := out.Logs[0]
	assert.Equal(t, models.DigestKindSeal, entry.Kind)
	assert.Equal(t, "qpow", entry.Engine)
	assert.Empty(t, entry.Error)
	assert.Equal(t, hexutil.Encode(account), entry.Payload)

	expected, err := codec.EncodeAddress(account, 42)
	require.NoError(t, err)
	assert.Equal(t, expected, entry.Author)
	assert.Equal(t, expected, out.Author)
	assert.Equal(t, "qpow", out.ConsensusEngine)
}

func TestDecodeDigest_PowLengthPrefixed(t *testing.T) {
	logger := logrus.New()
	d := NewDigestDecoder(logger)

	// 出块账户藏在紧凑长度前缀之后,前缀值与剩余字节数吻合才被跳过
	account := bytes.Repeat([]byte{0xDD}, 32)
	payload := append([]byte{0x80}, account...)
	out := d.DecodeDigest([]string{preRuntimeLog("pow_", payload)}, testProps())

	require.Len(t, out.Logs, 1)
	entry := out.Logs[0]
	assert.Equal(t, models.DigestKindPreRuntime, entry.Kind)
	assert.Empty(t, entry.Error)

	expected, err := codec.EncodeAddress(account, 42)
	require.NoError(t, err)
	assert.Equal(t, expected, entry.Author)
}

func TestDecodeDigest_PowPayloadImplausible(t *testing.T) {
	logger := logrus.New()
	d := NewDigestDecoder(logger)

	// 负载既不是裸32字节,前缀也对不上剩余长度: 保留条目类型并记录错误
	out := d.DecodeDigest([]string{sealLog("qpow", []byte{0x04, 0x01, 0x02, 0x03, 0x04})}, testProps())

	require.Len(t, out.Logs, 1)
	entry := out.Logs[0]
	assert.Equal(t, models.DigestKindSeal, entry.Kind)
	assert.Equal(t, "qpow", entry.Engine)
	assert.NotEmpty(t, entry.Error)
	assert.Empty(t, entry.Author)
	assert.NotEmpty(t, entry.Payload)
	assert.Empty(t, out.Author)
}

func TestDecodeDigest_SlotEngine(t *testing.T) {
	logger := logrus.New()
	d := NewDigestDecoder(logger)

	payload := append(u64LEBytes(12345), 0x1C) // 槽位12345,权威索引7
	out := d.DecodeDigest([]string{preRuntimeLog("aura", payload)}, testProps())

	require.Len(t, out.Logs, 1)
	entry := out.Logs[0]
	assert.Equal(t, models.DigestKindPreRuntime, entry.Kind)
	assert.Equal(t, "aura", entry.Engine)
	assert.Empty(t, entry.Error)
	require.NotNil(t, entry.Slot)
	assert.Equal(t, uint64(12345), *entry.Slot)
	assert.Equal(t, "7", entry.AuthorityIndex)
	assert.Empty(t, entry.Author)
	assert.Equal(t, "aura", out.ConsensusEngine)
}

func TestDecodeDigest_SlotWithoutAuthorityIndex(t *testing.T) {
	logger := logrus.New()
	d := NewDigestDecoder(logger)

	// BABE共识条目只带8字节槽位
	raw := append([]byte{0x04}, []byte("BABE")...)
	raw = append(raw, u64LEBytes(777)...)
	out := d.DecodeDigest([]string{hexutil.Encode(raw)}, testProps())

	require.Len(t, out.Logs, 1)
	entry := out.Logs[0]
	assert.Equal(t, models.DigestKindConsensus, entry.Kind)
	require.NotNil(t, entry.Slot)
	assert.Equal(t, uint64(777), *entry.Slot)
	assert.Empty(t, entry.AuthorityIndex)
}

func TestDecodeDigest_SlotPayloadUnderflow(t *testing.T) {
	logger := logrus.New()
	d := NewDigestDecoder(logger)

	out := d.DecodeDigest([]string{preRuntimeLog("aura", []byte{0x01, 0x02})}, testProps())

	require.Len(t, out.Logs, 1)
	entry := out.Logs[0]
	assert.Equal(t, models.DigestKindPreRuntime, entry.Kind)
	assert.NotEmpty(t, entry.Error)
	assert.Nil(t, entry.Slot)
}

func TestDecodeDigest_FirstAuthorAndEngineWin(t *testing.T) {
	logger := logrus.New()
	d := NewDigestDecoder(logger)

	first := bytes.Repeat([]byte{0xA1}, 32)
	second := bytes.Repeat([]byte{0xB2}, 32)
	logs := []string{
		preRuntimeLog("aura", append(u64LEBytes(9), 0x04)),
		sealLog("qpow", first),
		sealLog("qpow", second),
	}

	out := d.DecodeDigest(logs, testProps())

	require.Len(t, out.Logs, 3)
	// 引擎取首个携带标识的条目,作者取首个解出出块账户的条目
	assert.Equal(t, "aura", out.ConsensusEngine)
	expected, err := codec.EncodeAddress(first, 42)
	require.NoError(t, err)
	assert.Equal(t, expected, out.Author)
}

func TestDecodeDigest_OtherAndRuntimeEnv(t *testing.T) {
	logger := logrus.New()
	d := NewDigestDecoder(logger)

	out := d.DecodeDigest([]string{"0x00abcd", "0x08"}, testProps())

	require.Len(t, out.Logs, 2)
	assert.Equal(t, models.DigestKindOther, out.Logs[0].Kind)
	assert.Equal(t, "0xabcd", out.Logs[0].Payload)
	assert.Empty(t, out.Logs[0].Error)
	assert.Equal(t, models.DigestKindRuntimeEnv, out.Logs[1].Kind)
	assert.Empty(t, out.Logs[1].Error)
}

func TestDecodeDigest_UnknownEngine(t *testing.T) {
	logger := logrus.New()
	d := NewDigestDecoder(logger)

	// 未知引擎只保留标识与负载,不做进一步解释
	out := d.DecodeDigest([]string{preRuntimeLog("nmbs", []byte{0x01, 0x02, 0x03})}, testProps())

	require.Len(t, out.Logs, 1)
	entry := out.Logs[0]
	assert.Equal(t, "nmbs", entry.Engine)
	assert.Empty(t, entry.Error)
	assert.Nil(t, entry.Slot)
	assert.Empty(t, entry.Author)
	assert.Equal(t, "0x010203", entry.Payload)
}

func TestDecodeDigest_MalformedEntriesTolerated(t *testing.T) {
	logger := logrus.New()
	d := NewDigestDecoder(logger)

	account := bytes.Repeat([]byte{0xCD}, 32)
	logs := []string{
		"0xzz",                   // 非法hex
		"0x",                     // 空条目
		"0x09010203",             // 未知标签
		"0x050102",               // 引擎标识不足4字节
		sealLog("qpow", account), // 合法条目
	}

	out := d.DecodeDigest(logs, testProps())

	require.Len(t, out.Logs, 5)
	for i := 0; i < 4; i++ {
		assert.Equal(t, models.DigestKindUnknown, out.Logs[i].Kind, "第%d条", i)
		assert.NotEmpty(t, out.Logs[i].Error, "第%d条", i)
	}
	assert.Equal(t, "0x09010203", out.Logs[2].Raw)

	expected, err := codec.EncodeAddress(account, 42)
	require.NoError(t, err)
	assert.Equal(t, expected, out.Author)
	assert.Equal(t, "qpow", out.ConsensusEngine)
}
