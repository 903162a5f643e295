package codec

import (
	"chainscan/internal/errors"
	"chainscan/pkg/models"
)

// DecodeEra 解码交易有效期
// 首字节为零表示永久有效,消费1字节;否则从2字节小端值解出周期与相位
// 周期恒为2的幂,不会解码失败,只可能越界
func DecodeEra(buf []byte, offset int) (models.Era, int, error) {
	first, _, err := ReadU8(buf, offset)
	if err != nil {
		return models.Era{}, 0, errors.NewBufferUnderflow("era", offset, 1, remaining(buf, offset))
	}
	if first == 0 {
		return models.Era{Immortal: true}, 1, nil
	}

	v, _, err := ReadU16LE(buf, offset)
	if err != nil {
		return models.Era{}, 0, errors.NewBufferUnderflow("era", offset, 2, remaining(buf, offset))
	}

	period := uint64(1) << (v & 0x3F)
	quantize := period >> 12
	if quantize < 1 {
		quantize = 1
	}
	phase := uint64(v>>6) * quantize

	return models.Era{Immortal: false, Period: period, Phase: phase}, 2, nil
}
