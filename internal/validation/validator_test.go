package validation

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"chainscan/internal/codec"
	"chainscan/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidator(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, true)

	assert.NotNil(t, validator)
	assert.True(t, validator.strictMode)
	assert.NotNil(t, validator.rules)
	assert.Equal(t, 5, len(validator.rules)) // 默认注册的规则数量
}

func TestValidateHexPayload(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	tests := []struct {
		name    string
		payload string
		valid   bool
		code    string
	}{
		{name: "合法负载", payload: "0x0400", valid: true},
		{name: "空hex体也合法", payload: "0x", valid: true},
		{name: "空负载", payload: "", valid: false, code: "EMPTY_PAYLOAD"},
		{name: "缺少前缀", payload: "0400", valid: false, code: "MISSING_HEX_PREFIX"},
		{name: "奇数长度", payload: "0x040", valid: false, code: "ODD_LENGTH_HEX"},
		{name: "非hex字符", payload: "0xzz00", valid: false, code: "INVALID_HEX"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validator.ValidateHexPayload(tt.payload)
			assert.Equal(t, tt.valid, result.Valid)
			assert.Equal(t, "hex_payload", result.DataType)
			if !tt.valid {
				require.NotEmpty(t, result.Errors)
				assert.Equal(t, tt.code, result.Errors[0].Code)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	pubkey := bytes.Repeat([]byte{0x7B}, 32)
	address, err := codec.EncodeAddress(pubkey, 42)
	require.NoError(t, err)

	// 合法地址且前缀匹配
	result := validator.ValidateAddress(address, 42)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)

	// 前缀不匹配在宽松模式下只产生警告
	result = validator.ValidateAddress(address, 189)
	assert.True(t, result.Valid)
	assert.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "网络前缀")

	// 不校验前缀
	result = validator.ValidateAddress(address, -1)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Warnings)

	// 非法地址
	result = validator.ValidateAddress("这不是地址", -1)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "INVALID_ADDRESS", result.Errors[0].Code)

	// 空地址
	result = validator.ValidateAddress("", -1)
	assert.False(t, result.Valid)
}

func TestValidateAddress_StrictModeUpgradesWarning(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, true)

	pubkey := bytes.Repeat([]byte{0x7B}, 32)
	address, err := codec.EncodeAddress(pubkey, 42)
	require.NoError(t, err)

	// 严格模式下前缀不匹配直接判失败
	result := validator.ValidateAddress(address, 189)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "ADDRESS_FORMAT_MISMATCH", result.Errors[0].Code)
}

func TestValidateHeightRange(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	result := validator.ValidateHeightRange(&models.HeightRange{StartBlock: 100, EndBlock: 200})
	assert.True(t, result.Valid)

	// 起点大于终点
	result = validator.ValidateHeightRange(&models.HeightRange{StartBlock: 200, EndBlock: 100})
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "INVALID_HEIGHT_RANGE", result.Errors[0].Code)

	// 跨度过大产生警告
	result = validator.ValidateHeightRange(&models.HeightRange{StartBlock: 0, EndBlock: 2_000_000})
	assert.True(t, result.Valid)
	assert.NotEmpty(t, result.Warnings)

	// 空范围
	result = validator.ValidateHeightRange(nil)
	assert.False(t, result.Valid)
}

func TestValidateEndpoint(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	tests := []struct {
		name     string
		endpoint string
		valid    bool
	}{
		{name: "ws地址", endpoint: "ws://127.0.0.1:9944", valid: true},
		{name: "wss地址", endpoint: "wss://rpc.example.com", valid: true},
		{name: "http协议", endpoint: "http://127.0.0.1:9944", valid: false},
		{name: "缺少主机", endpoint: "ws://", valid: false},
		{name: "空地址", endpoint: "", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validator.ValidateEndpoint(tt.endpoint)
			assert.Equal(t, tt.valid, result.Valid)
		})
	}
}

func TestValidateBlock_ValidBlock(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	block := &models.DecodedBlock{
		Height:         1000,
		Hash:           "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
		ParentHash:     "0xabcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890",
		SpecVersion:    101,
		Extrinsics:     []*models.ParsedExtrinsic{{OK: true}},
		ExtrinsicCount: 1,
		CollectedAt:    time.Now(),
	}

	result := validator.ValidateBlock(block)

	assert.NotNil(t, result)
	assert.True(t, result.Valid)
	assert.Equal(t, "block", result.DataType)
	assert.Empty(t, result.Errors)
}

func TestValidateBlock_InvalidHash(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	block := &models.DecodedBlock{
		Height:     1000,
		Hash:       "invalid_hash",
		ParentHash: "0xabcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890",
	}

	result := validator.ValidateBlock(block)

	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "INVALID_BLOCK_HASH", result.Errors[0].Code)
	require.NotNil(t, result.Errors[0].Height)
	assert.Equal(t, uint64(1000), *result.Errors[0].Height)
}

func TestValidateBlock_CountMismatchAndFailures(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	block := &models.DecodedBlock{
		Height:         7,
		Hash:           "0x" + strings.Repeat("ab", 32),
		ParentHash:     "0x" + strings.Repeat("cd", 32),
		Extrinsics:     []*models.ParsedExtrinsic{{OK: true}, {OK: false}},
		ExtrinsicCount: 3,
	}

	result := validator.ValidateBlock(block)

	// 计数不一致和解码失败都只是警告
	assert.True(t, result.Valid)
	assert.Len(t, result.Warnings, 2)
	assert.Contains(t, result.Warnings[0], "声明3笔交易")
	assert.Contains(t, result.Warnings[1], "1笔交易解码失败")
}

func TestValidateBlock_NilBlock(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	result := validator.ValidateBlock(nil)

	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "EMPTY_BLOCK", result.Errors[0].Code)
}

func TestBlockRule_TooManyExtrinsics(t *testing.T) {
	rule := NewBlockRule()

	block := &models.DecodedBlock{
		Extrinsics: make([]*models.ParsedExtrinsic, maxExtrinsicsPerBlk+1),
	}

	err := rule.Validate(block)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BLOCK_TOO_LARGE")

	// 类型不匹配
	err = rule.Validate("不是区块")
	assert.Error(t, err)
}

func TestSetStrictMode(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	validator.SetStrictMode(true)
	assert.True(t, validator.strictMode)

	stats := validator.GetValidationStats()
	assert.Equal(t, true, stats["strict_mode"])
	assert.Equal(t, 5, stats["registered_rules"])
}
