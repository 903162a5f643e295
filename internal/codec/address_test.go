package codec

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scanerrors "chainscan/internal/errors"
	"chainscan/pkg/models"
)

// makeAccountBytes 生成确定性的测试账户字节
func makeAccountBytes(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i)
	}
	return out
}

func TestDecodeAccountReference_AllTags(t *testing.T) {
	// 五种变体解码后重编码必须还原标签与负载字节
	tests := []struct {
		name string
		ref  *models.AccountReference
	}{
		{"Id变体", &models.AccountReference{Tag: models.AccountTagID, Bytes: makeAccountBytes(32, 0x10)}},
		{"Index变体", &models.AccountReference{Tag: models.AccountTagIndex, Index: big.NewInt(12345)}},
		{"Raw变体", &models.AccountReference{Tag: models.AccountTagRaw, Bytes: makeAccountBytes(7, 0x21)}},
		{"Address32变体", &models.AccountReference{Tag: models.AccountTagAddress32, Bytes: makeAccountBytes(32, 0x42)}},
		{"Address20变体", &models.AccountReference{Tag: models.AccountTagAddress20, Bytes: makeAccountBytes(20, 0x63)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := tt.ref.Encode()

			decoded, consumed, err := DecodeAccountReference(wire, 0)
			require.NoError(t, err)
			assert.Equal(t, len(wire), consumed, "必须消费全部编码字节")
			assert.Equal(t, tt.ref.Tag, decoded.Tag)

			// 重编码往返
			assert.Equal(t, wire, decoded.Encode())

			if tt.ref.Index != nil {
				assert.Equal(t, 0, tt.ref.Index.Cmp(decoded.Index))
			} else {
				assert.Equal(t, tt.ref.Bytes, decoded.Bytes)
			}
		})
	}
}

func TestDecodeAccountReference_UnknownTag(t *testing.T) {
	// 未知标签是硬性失败
	buf := append([]byte{0x09}, makeAccountBytes(32, 0x00)...)
	_, _, err := DecodeAccountReference(buf, 0)

	assert.Error(t, err)
	assert.True(t, errors.Is(err, scanerrors.ErrUnknownTag))
}

func TestDecodeAccountReference_Underflow(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"空缓冲区", []byte{}},
		{"Id变体负载不足", append([]byte{0x00}, makeAccountBytes(16, 0x00)...)},
		{"Address20变体负载不足", append([]byte{0x04}, makeAccountBytes(10, 0x00)...)},
		{"Raw变体声明长度超界", []byte{0x02, 0x28, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeAccountReference(tt.buf, 0)
			assert.Error(t, err)
			assert.True(t, errors.Is(err, scanerrors.ErrBufferUnderflow))
		})
	}
}

func TestDecodeAccountReference_CopiesPayload(t *testing.T) {
	// 解码结果不应与输入缓冲区共享底层数组
	wire := append([]byte{0x00}, makeAccountBytes(32, 0x10)...)
	decoded, _, err := DecodeAccountReference(wire, 0)
	require.NoError(t, err)

	wire[1] = 0xFF
	assert.Equal(t, byte(0x10), decoded.Bytes[0])
}

func TestDecodeEra_Immortal(t *testing.T) {
	era, consumed, err := DecodeEra([]byte{0x00}, 0)

	require.NoError(t, err)
	assert.True(t, era.Immortal)
	assert.Equal(t, 1, consumed)
}

func TestDecodeEra_Mortal(t *testing.T) {
	// 2字节小端: 低6位=周期指数,其余为量化相位
	tests := []struct {
		name   string
		input  []byte
		period uint64
		phase  uint64
	}{
		{"周期64相位0", []byte{0x06, 0x00}, 64, 0},
		{"周期64相位5", []byte{0x46, 0x01}, 64, 5},
		{"周期32768相位160", []byte{0x8F, 0x02}, 32768, 10 * (32768 >> 12)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			era, consumed, err := DecodeEra(tt.input, 0)

			require.NoError(t, err)
			assert.False(t, era.Immortal)
			assert.Equal(t, tt.period, era.Period)
			assert.Equal(t, tt.phase, era.Phase)
			assert.Equal(t, 2, consumed)
		})
	}
}

func TestDecodeEra_PeriodAlwaysPowerOfTwo(t *testing.T) {
	// 遍历全部2字节编码,周期恒为2的幂且不小于1
	for v := 1; v <= 0xFFFF; v += 97 {
		buf := []byte{byte(v), byte(v >> 8)}
		if buf[0] == 0 {
			continue // 首字节为零走永久有效分支
		}
		era, _, err := DecodeEra(buf, 0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, era.Period, uint64(1))
		assert.Zero(t, era.Period&(era.Period-1), "周期%d不是2的幂", era.Period)
	}
}

func TestDecodeEra_Underflow(t *testing.T) {
	// 非零首字节但缺第二字节
	_, _, err := DecodeEra([]byte{0x06}, 0)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, scanerrors.ErrBufferUnderflow))

	_, _, err = DecodeEra([]byte{}, 0)
	assert.Error(t, err)
}
