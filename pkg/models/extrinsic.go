package models

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AccountRefTag 多格式账户引用的变体标签,与线格式的标签字节一一对应
type AccountRefTag uint8

// 账户引用变体
const (
	AccountTagID        AccountRefTag = 0 // 32字节账户ID
	AccountTagIndex     AccountRefTag = 1 // 紧凑整数账户序号
	AccountTagRaw       AccountRefTag = 2 // 长度前缀原始字节
	AccountTagAddress32 AccountRefTag = 3 // 32字节地址
	AccountTagAddress20 AccountRefTag = 4 // 20字节地址
)

// 账户引用变体名称映射
var accountTagNames = map[AccountRefTag]string{
	AccountTagID:        "Id",
	AccountTagIndex:     "Index",
	AccountTagRaw:       "Raw",
	AccountTagAddress32: "Address32",
	AccountTagAddress20: "Address20",
}

// String 返回变体名称
func (t AccountRefTag) String() string {
	if name, ok := accountTagNames[t]; ok {
		return name
	}
	return "Unknown"
}

// AccountReference 多格式账户引用
// 解码后不再修改;Bytes 与 Index 二者按变体只有一个有效
type AccountReference struct {
	Tag   AccountRefTag `json:"tag"`
	Bytes []byte        `json:"-"`
	Index *big.Int      `json:"-"`

	// 展示字段
	TagName  string `json:"tag_name"`
	Hex      string `json:"hex,omitempty"`
	IndexDec string `json:"index,omitempty"`
}

// Fill 根据变体负载填充展示字段
func (a *AccountReference) Fill() {
	a.TagName = a.Tag.String()
	if len(a.Bytes) > 0 {
		a.Hex = hexutil.Encode(a.Bytes)
	}
	if a.Index != nil {
		a.IndexDec = a.Index.String()
	}
}

// Encode 重编码为线格式字节,用于往返校验
func (a *AccountReference) Encode() []byte {
	out := []byte{byte(a.Tag)}
	switch a.Tag {
	case AccountTagID, AccountTagAddress32, AccountTagAddress20:
		out = append(out, a.Bytes...)
	case AccountTagIndex:
		out = append(out, EncodeCompact(a.Index)...)
	case AccountTagRaw:
		out = append(out, EncodeCompact(big.NewInt(int64(len(a.Bytes))))...)
		out = append(out, a.Bytes...)
	}
	return out
}

// AddressBytes 返回可做SS58编码的32字节负载
func (a *AccountReference) AddressBytes() ([]byte, bool) {
	switch a.Tag {
	case AccountTagID, AccountTagAddress32:
		if len(a.Bytes) == 32 {
			return a.Bytes, true
		}
	}
	return nil, false
}

// EncodeCompact 按2比特模式选择器编码紧凑整数,是解码器的参考编码端
func EncodeCompact(v *big.Int) []byte {
	if v == nil || v.Sign() < 0 {
		return []byte{0x00}
	}
	u := v.Uint64()
	switch {
	case v.BitLen() <= 6:
		return []byte{byte(u) << 2}
	case v.BitLen() <= 14:
		x := uint16(u)<<2 | 0x01
		return []byte{byte(x), byte(x >> 8)}
	case v.BitLen() <= 30:
		x := uint32(u)<<2 | 0x02
		return []byte{byte(x), byte(x >> 8), byte(x >> 16), byte(x >> 24)}
	default:
		payload := v.Bytes() // 大端
		n := len(payload)
		out := make([]byte, 0, n+1)
		out = append(out, byte(n-4)<<2|0x03)
		// 小端负载
		for i := n - 1; i >= 0; i-- {
			out = append(out, payload[i])
		}
		return out
	}
}

// Era 交易有效期窗口
// Immortal 为真时 Period/Phase 无意义;Period 恒为2的幂
type Era struct {
	Immortal bool   `json:"immortal"`
	Period   uint64 `json:"period,omitempty"`
	Phase    uint64 `json:"phase,omitempty"`
}

// ParsedExtrinsic 交易信封解码结果
// 每次解码调用构造一个新实例,返回后不再修改
type ParsedExtrinsic struct {
	OK          bool   `json:"ok"`
	ByteLength  int    `json:"byte_length"`
	Version     uint8  `json:"version"`
	Signed      bool   `json:"signed"`
	PalletIndex uint8  `json:"pallet_index"`
	CallIndex   uint8  `json:"call_index"`
	Section     string `json:"section,omitempty"`
	Method      string `json:"method,omitempty"`

	// 签名交易附加字段
	Sender          *AccountReference `json:"sender,omitempty"`
	SenderAddress   string            `json:"sender_address,omitempty"`
	SignatureLength int               `json:"signature_length,omitempty"`
	Nonce           string            `json:"nonce,omitempty"`
	TipPlanck       string            `json:"tip_planck,omitempty"`
	TipHuman        string            `json:"tip_human,omitempty"`
	Era             *Era              `json:"era,omitempty"`

	Error string `json:"error,omitempty"`
}

// CallLabel 返回 "Section.method" 形式的调用标识,未解析时回退为索引形式
func (p *ParsedExtrinsic) CallLabel() string {
	if p.Section != "" && p.Method != "" {
		return p.Section + "." + p.Method
	}
	return fmt.Sprintf("pallet_%d.call_%d", p.PalletIndex, p.CallIndex)
}
