package codec

import (
	"math/big"

	"chainscan/internal/errors"
)

// 紧凑整数的四种编码模式,由首字节低2位选择
const (
	compactModeSingle = 0x00 // 1字节,6位值
	compactModeTwo    = 0x01 // 2字节,14位值
	compactModeFour   = 0x02 // 4字节,30位值
	compactModeBig    = 0x03 // 大整数,首字节高6位+4为负载字节数
)

// DecodeCompact 从缓冲区偏移处解码一个紧凑整数
// 纯函数,不修改缓冲区,返回值与消费的字节数
func DecodeCompact(buf []byte, offset int) (*big.Int, int, error) {
	if offset < 0 || offset >= len(buf) {
		return nil, 0, errors.NewBufferUnderflow("紧凑整数", offset, 1, remaining(buf, offset))
	}

	first := buf[offset]
	switch first & 0x03 {
	case compactModeSingle:
		return big.NewInt(int64(first >> 2)), 1, nil

	case compactModeTwo:
		if remaining(buf, offset) < 2 {
			return nil, 0, errors.NewBufferUnderflow("紧凑整数", offset, 2, remaining(buf, offset))
		}
		v := uint16(buf[offset]) | uint16(buf[offset+1])<<8
		return big.NewInt(int64(v >> 2)), 2, nil

	case compactModeFour:
		if remaining(buf, offset) < 4 {
			return nil, 0, errors.NewBufferUnderflow("紧凑整数", offset, 4, remaining(buf, offset))
		}
		v := uint32(buf[offset]) | uint32(buf[offset+1])<<8 |
			uint32(buf[offset+2])<<16 | uint32(buf[offset+3])<<24
		return big.NewInt(int64(v >> 2)), 4, nil

	default:
		// 大整数模式,负载长度由首字节声明,必须先校验不越界
		n := int(first>>2) + 4
		if remaining(buf, offset) < 1+n {
			return nil, 0, errors.NewBufferUnderflow("大整数负载", offset, 1+n, remaining(buf, offset))
		}
		// 小端负载转大端后构造大整数
		be := make([]byte, n)
		for i := 0; i < n; i++ {
			be[n-1-i] = buf[offset+1+i]
		}
		return new(big.Int).SetBytes(be), 1 + n, nil
	}
}

// DecodeLengthPrefixedBytes 解码长度前缀字节串: 紧凑整数长度+负载
// 声明长度超出剩余缓冲区时报越界错误,绝不读出界
func DecodeLengthPrefixedBytes(buf []byte, offset int) ([]byte, int, error) {
	length, consumed, err := DecodeCompact(buf, offset)
	if err != nil {
		return nil, 0, err
	}
	if !length.IsInt64() || length.Int64() < 0 {
		return nil, 0, errors.NewImplausibleValue("长度前缀", length.String())
	}
	n := int(length.Int64())
	if remaining(buf, offset+consumed) < n {
		return nil, 0, errors.NewBufferUnderflow("字节串负载", offset+consumed, n, remaining(buf, offset+consumed))
	}
	return buf[offset+consumed : offset+consumed+n], consumed + n, nil
}

// ReadU8 读取单字节
func ReadU8(buf []byte, offset int) (uint8, int, error) {
	if remaining(buf, offset) < 1 {
		return 0, 0, errors.NewBufferUnderflow("u8", offset, 1, remaining(buf, offset))
	}
	return buf[offset], 1, nil
}

// ReadU16LE 读取2字节小端整数
func ReadU16LE(buf []byte, offset int) (uint16, int, error) {
	if remaining(buf, offset) < 2 {
		return 0, 0, errors.NewBufferUnderflow("u16", offset, 2, remaining(buf, offset))
	}
	return uint16(buf[offset]) | uint16(buf[offset+1])<<8, 2, nil
}

// ReadU32LE 读取4字节小端整数
func ReadU32LE(buf []byte, offset int) (uint32, int, error) {
	if remaining(buf, offset) < 4 {
		return 0, 0, errors.NewBufferUnderflow("u32", offset, 4, remaining(buf, offset))
	}
	v := uint32(buf[offset]) | uint32(buf[offset+1])<<8 |
		uint32(buf[offset+2])<<16 | uint32(buf[offset+3])<<24
	return v, 4, nil
}

// ReadU64LE 读取8字节小端整数
func ReadU64LE(buf []byte, offset int) (uint64, int, error) {
	if remaining(buf, offset) < 8 {
		return 0, 0, errors.NewBufferUnderflow("u64", offset, 8, remaining(buf, offset))
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[offset+i]) << (8 * i)
	}
	return v, 8, nil
}

// ReadU128LE 读取16字节小端整数,返回大整数
func ReadU128LE(buf []byte, offset int) (*big.Int, int, error) {
	if remaining(buf, offset) < 16 {
		return nil, 0, errors.NewBufferUnderflow("u128", offset, 16, remaining(buf, offset))
	}
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[15-i] = buf[offset+i]
	}
	return new(big.Int).SetBytes(be), 16, nil
}

// ReadBytes 读取定长字节
func ReadBytes(buf []byte, offset, n int) ([]byte, int, error) {
	if n < 0 || remaining(buf, offset) < n {
		return nil, 0, errors.NewBufferUnderflow("定长字节", offset, n, remaining(buf, offset))
	}
	return buf[offset : offset+n], n, nil
}

// remaining 计算偏移之后的剩余字节数
func remaining(buf []byte, offset int) int {
	if offset < 0 || offset > len(buf) {
		return 0
	}
	return len(buf) - offset
}
