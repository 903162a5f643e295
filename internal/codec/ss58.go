package codec

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"chainscan/internal/errors"
)

// ss58Prefix SS58校验和的域分隔前缀
var ss58Prefix = []byte("SS58PRE")

// ss58MaxFormat 网络格式号的上限,2字节打包编码只能容纳14位
const ss58MaxFormat = 0x3FFF

// EncodeAddress 将原始账户字节编码为带网络前缀和校验和的SS58地址
// 格式号不超过63时用单字节前缀,否则用2字节打包前缀
// 纯函数:同样的输入永远产生同样的地址,且解码可完整还原
func EncodeAddress(raw []byte, format uint16) (string, error) {
	if format > ss58MaxFormat {
		return "", errors.NewImplausibleValue("SS58格式号", fmt.Sprintf("%d", format))
	}

	var prefixed []byte
	if format < 64 {
		prefixed = make([]byte, 0, 1+len(raw)+2)
		prefixed = append(prefixed, byte(format))
	} else {
		// 2字节打包编码: 高位分散到两个字节,首字节置0x40标志位
		first := byte((format&0x00FC)>>2) | 0x40
		second := byte(format>>8) | byte(format&0x03)<<6
		prefixed = make([]byte, 0, 2+len(raw)+2)
		prefixed = append(prefixed, first, second)
	}
	prefixed = append(prefixed, raw...)

	checksum, err := ss58Checksum(prefixed)
	if err != nil {
		return "", err
	}
	prefixed = append(prefixed, checksum[:2]...)

	return base58.Encode(prefixed), nil
}

// DecodeAddress 解码SS58地址,校验通过后返回原始字节与网络格式号
func DecodeAddress(address string) ([]byte, uint16, error) {
	decoded, err := base58.Decode(address)
	if err != nil {
		return nil, 0, errors.WrapError(err, errors.ErrorTypeDecode, errors.SeverityMedium,
			"SS58_DECODE_FAILED", "base58解码失败")
	}

	if len(decoded) < 4 {
		return nil, 0, errors.NewBufferUnderflow("ss58地址", 0, 4, len(decoded))
	}

	var format uint16
	var prefixLen int
	switch {
	case decoded[0] < 64:
		format = uint16(decoded[0])
		prefixLen = 1
	case decoded[0] < 128:
		lower := decoded[0]<<2 | decoded[1]>>6
		upper := decoded[1] & 0x3F
		format = uint16(lower) | uint16(upper)<<8
		prefixLen = 2
	default:
		return nil, 0, errors.NewUnknownTag("ss58前缀", decoded[0])
	}

	if len(decoded) < prefixLen+2 {
		return nil, 0, errors.NewBufferUnderflow("ss58地址", prefixLen, 2, len(decoded)-prefixLen)
	}

	body := decoded[:len(decoded)-2]
	gotChecksum := decoded[len(decoded)-2:]

	wantChecksum, err := ss58Checksum(body)
	if err != nil {
		return nil, 0, err
	}
	if !bytes.Equal(gotChecksum, wantChecksum[:2]) {
		return nil, 0, errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"SS58_CHECKSUM_MISMATCH",
			fmt.Sprintf("ss58校验和不匹配: 期望%x实际%x", wantChecksum[:2], gotChecksum))
	}

	raw := append([]byte(nil), body[prefixLen:]...)
	return raw, format, nil
}

// ss58Checksum 计算域分隔前缀+负载的宽哈希,取前2字节作校验和
func ss58Checksum(payload []byte) ([]byte, error) {
	hasher, err := blake2b.New512(nil)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSystem, errors.SeverityHigh,
			"HASHER_INIT_FAILED", "blake2b初始化失败")
	}
	hasher.Write(ss58Prefix)
	hasher.Write(payload)
	return hasher.Sum(nil), nil
}
