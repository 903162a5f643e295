package codec

import (
	"math/big"

	"chainscan/internal/errors"
	"chainscan/pkg/models"
)

// DecodeAccountReference 解码多格式账户引用
// 标签字节选择变体;未知标签是硬性解码失败,不做猜测
func DecodeAccountReference(buf []byte, offset int) (*models.AccountReference, int, error) {
	tag, _, err := ReadU8(buf, offset)
	if err != nil {
		return nil, 0, err
	}
	consumed := 1

	ref := &models.AccountReference{Tag: models.AccountRefTag(tag)}

	switch models.AccountRefTag(tag) {
	case models.AccountTagID, models.AccountTagAddress32:
		payload, n, err := ReadBytes(buf, offset+consumed, 32)
		if err != nil {
			return nil, 0, err
		}
		ref.Bytes = append([]byte(nil), payload...)
		consumed += n

	case models.AccountTagIndex:
		index, n, err := DecodeCompact(buf, offset+consumed)
		if err != nil {
			return nil, 0, err
		}
		ref.Index = new(big.Int).Set(index)
		consumed += n

	case models.AccountTagRaw:
		payload, n, err := DecodeLengthPrefixedBytes(buf, offset+consumed)
		if err != nil {
			return nil, 0, err
		}
		ref.Bytes = append([]byte(nil), payload...)
		consumed += n

	case models.AccountTagAddress20:
		payload, n, err := ReadBytes(buf, offset+consumed, 20)
		if err != nil {
			return nil, 0, err
		}
		ref.Bytes = append([]byte(nil), payload...)
		consumed += n

	default:
		return nil, 0, errors.NewUnknownTag("账户引用", tag)
	}

	ref.Fill()
	return ref, consumed, nil
}
