package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"chainscan/internal/codec"
	"chainscan/internal/errors"
	"chainscan/pkg/models"

	"github.com/sirupsen/logrus"
)

// 单次请求允许的最大负载、单块交易数与单轮采集跨度上限
const (
	maxPayloadBytes     = 10 * 1024 * 1024
	maxExtrinsicsPerBlk = 10000
	maxRangeBlocks      = 1_000_000
)

var (
	hashPattern = regexp.MustCompile("^0x[0-9a-fA-F]{64}$")
	hexPattern  = regexp.MustCompile("^[0-9a-fA-F]*$")
)

// Validator 数据验证器
// 校验进入解码器前的外部输入与采集产出的区块
type Validator struct {
	logger       *logrus.Logger
	strictMode   bool // 严格模式下警告升级为错误
	errorHandler *errors.ErrorHandler
	rules        map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(data interface{}) error
	Name() string
	Description() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                `json:"valid"`
	Errors   []*errors.ScanError `json:"errors,omitempty"`
	Warnings []string            `json:"warnings,omitempty"`
	DataType string              `json:"data_type"`
}

// NewValidator 创建数据验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	v := &Validator{
		logger:       logger,
		strictMode:   strictMode,
		errorHandler: errors.NewErrorHandler(logger),
		rules:        make(map[string]ValidationRule),
	}

	v.registerDefaultRules()

	return v
}

// registerDefaultRules 注册默认验证规则
func (v *Validator) registerDefaultRules() {
	v.AddRule(NewHexPayloadRule())
	v.AddRule(NewAddressRule())
	v.AddRule(NewHeightRangeRule())
	v.AddRule(NewEndpointRule())
	v.AddRule(NewBlockRule())
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

// newResult 初始化一个通过状态的结果
func newResult(dataType string) *ValidationResult {
	return &ValidationResult{
		Valid:    true,
		DataType: dataType,
		Errors:   make([]*errors.ScanError, 0),
		Warnings: make([]string, 0),
	}
}

// fail 把错误记入结果并标记失败
func (r *ValidationResult) fail(err *errors.ScanError) {
	r.Valid = false
	r.Errors = append(r.Errors, err)
}

// warn 记录警告,严格模式下升级为错误
func (v *Validator) warn(r *ValidationResult, code, message string) {
	if v.strictMode {
		r.fail(errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium, code, message))
		return
	}
	r.Warnings = append(r.Warnings, message)
}

// ValidateHexPayload 验证十六进制负载
// 解码接口只接受0x前缀的偶数长度hex串
func (v *Validator) ValidateHexPayload(payload string) *ValidationResult {
	result := newResult("hex_payload")

	if payload == "" {
		result.fail(errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"EMPTY_PAYLOAD", "负载为空"))
		return result
	}

	if !strings.HasPrefix(payload, "0x") {
		result.fail(errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"MISSING_HEX_PREFIX", "负载缺少0x前缀"))
		return result
	}

	body := payload[2:]
	if len(body)%2 != 0 {
		result.fail(errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"ODD_LENGTH_HEX", "hex字符数必须为偶数"))
	}

	if !hexPattern.MatchString(body) {
		result.fail(errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_HEX", "负载包含非hex字符"))
	}

	if len(body)/2 > maxPayloadBytes {
		v.warn(result, "PAYLOAD_TOO_LARGE", fmt.Sprintf("负载%d字节超过上限", len(body)/2))
	}

	return result
}

// ValidateAddress 验证SS58地址
// expectedFormat取-1表示不校验网络前缀
func (v *Validator) ValidateAddress(address string, expectedFormat int) *ValidationResult {
	result := newResult("address")

	if address == "" {
		result.fail(errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"EMPTY_ADDRESS", "地址为空"))
		return result
	}

	pubkey, format, err := codec.DecodeAddress(address)
	if err != nil {
		result.fail(errors.WrapError(err, errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_ADDRESS", "地址无法解码"))
		return result
	}

	if len(pubkey) != 32 {
		v.warn(result, "UNUSUAL_KEY_LENGTH", fmt.Sprintf("公钥长度%d不是32字节", len(pubkey)))
	}

	if expectedFormat >= 0 && int(format) != expectedFormat {
		v.warn(result, "ADDRESS_FORMAT_MISMATCH",
			fmt.Sprintf("地址网络前缀%d与期望的%d不符", format, expectedFormat))
	}

	return result
}

// ValidateHeightRange 验证采集高度范围
func (v *Validator) ValidateHeightRange(hr *models.HeightRange) *ValidationResult {
	result := newResult("height_range")

	if hr == nil {
		result.fail(errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"EMPTY_RANGE", "高度范围为空"))
		return result
	}

	if hr.StartBlock > hr.EndBlock {
		result.fail(errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_HEIGHT_RANGE",
			fmt.Sprintf("起始高度%d大于结束高度%d", hr.StartBlock, hr.EndBlock)))
		return result
	}

	if hr.EndBlock-hr.StartBlock+1 > maxRangeBlocks {
		v.warn(result, "RANGE_TOO_LARGE",
			fmt.Sprintf("单次采集%d个区块,超过%d", hr.EndBlock-hr.StartBlock+1, maxRangeBlocks))
	}

	return result
}

// ValidateEndpoint 验证节点地址
func (v *Validator) ValidateEndpoint(endpoint string) *ValidationResult {
	result := newResult("endpoint")

	if endpoint == "" {
		result.fail(errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"EMPTY_ENDPOINT", "节点地址为空"))
		return result
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		result.fail(errors.WrapError(err, errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_ENDPOINT", "节点地址无法解析"))
		return result
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		result.fail(errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_ENDPOINT", fmt.Sprintf("不支持的协议: %s", u.Scheme)))
	}
	if u.Host == "" {
		result.fail(errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_ENDPOINT", "节点地址缺少主机名"))
	}

	return result
}

// ValidateBlock 验证解码后的区块
func (v *Validator) ValidateBlock(block *models.DecodedBlock) *ValidationResult {
	result := newResult("block")

	if block == nil {
		result.fail(errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"EMPTY_BLOCK", "区块为空"))
		return result
	}

	if !isValidHash(block.Hash) {
		result.fail(errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"INVALID_BLOCK_HASH", "区块哈希格式无效").WithHeight(block.Height))
	}

	if !isValidHash(block.ParentHash) {
		result.fail(errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"INVALID_PARENT_HASH", "父区块哈希格式无效").WithHeight(block.Height))
	}

	if block.ExtrinsicCount != len(block.Extrinsics) {
		v.warn(result, "EXTRINSIC_COUNT_MISMATCH",
			fmt.Sprintf("高度%d声明%d笔交易,实际%d笔",
				block.Height, block.ExtrinsicCount, len(block.Extrinsics)))
	}

	if failed := block.FailedExtrinsics(); failed > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("高度%d有%d笔交易解码失败", block.Height, failed))
	}

	if block.Events != nil && block.EventCount != len(block.Events.Records) {
		v.warn(result, "EVENT_COUNT_MISMATCH",
			fmt.Sprintf("高度%d声明%d条事件,实际%d条",
				block.Height, block.EventCount, len(block.Events.Records)))
	}

	// 执行扩展验证规则
	if rule, exists := v.rules["block"]; exists {
		if err := rule.Validate(block); err != nil {
			if scanErr, ok := err.(*errors.ScanError); ok {
				result.fail(scanErr.WithHeight(block.Height))
			} else {
				result.fail(errors.WrapError(err,
					errors.ErrorTypeValidation, errors.SeverityMedium,
					"BLOCK_RULE_VALIDATION_FAILED", "区块规则验证失败").WithHeight(block.Height))
			}
		}
	}

	return result
}

// isValidHash 验证哈希格式
func isValidHash(hash string) bool {
	return hashPattern.MatchString(hash)
}

// HexPayloadRule 十六进制负载规则
type HexPayloadRule struct{}

func NewHexPayloadRule() *HexPayloadRule {
	return &HexPayloadRule{}
}

func (r *HexPayloadRule) Name() string {
	return "hex_payload"
}

func (r *HexPayloadRule) Description() string {
	return "十六进制负载格式规则"
}

func (r *HexPayloadRule) Validate(data interface{}) error {
	payload, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !strings.HasPrefix(payload, "0x") {
		return errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"MISSING_HEX_PREFIX", "负载缺少0x前缀")
	}
	if !hexPattern.MatchString(payload[2:]) {
		return errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_HEX", "负载包含非hex字符")
	}

	return nil
}

// AddressRule SS58地址规则
type AddressRule struct{}

func NewAddressRule() *AddressRule {
	return &AddressRule{}
}

func (r *AddressRule) Name() string {
	return "address"
}

func (r *AddressRule) Description() string {
	return "SS58地址校验规则"
}

func (r *AddressRule) Validate(data interface{}) error {
	address, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if _, _, err := codec.DecodeAddress(address); err != nil {
		return errors.WrapError(err, errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_ADDRESS", "地址无法解码")
	}

	return nil
}

// HeightRangeRule 高度范围规则
type HeightRangeRule struct{}

func NewHeightRangeRule() *HeightRangeRule {
	return &HeightRangeRule{}
}

func (r *HeightRangeRule) Name() string {
	return "height_range"
}

func (r *HeightRangeRule) Description() string {
	return "采集高度范围规则"
}

func (r *HeightRangeRule) Validate(data interface{}) error {
	hr, ok := data.(*models.HeightRange)
	if !ok {
		return fmt.Errorf("数据类型不是高度范围")
	}

	if hr.StartBlock > hr.EndBlock {
		return errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_HEIGHT_RANGE", "起始高度大于结束高度")
	}

	return nil
}

// EndpointRule 节点地址规则
type EndpointRule struct{}

func NewEndpointRule() *EndpointRule {
	return &EndpointRule{}
}

func (r *EndpointRule) Name() string {
	return "endpoint"
}

func (r *EndpointRule) Description() string {
	return "节点websocket地址规则"
}

func (r *EndpointRule) Validate(data interface{}) error {
	endpoint, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_ENDPOINT", "节点地址格式无效")
	}

	return nil
}

// BlockRule 区块规则
type BlockRule struct{}

func NewBlockRule() *BlockRule {
	return &BlockRule{}
}

func (r *BlockRule) Name() string {
	return "block"
}

func (r *BlockRule) Description() string {
	return "解码区块数据规则"
}

func (r *BlockRule) Validate(data interface{}) error {
	block, ok := data.(*models.DecodedBlock)
	if !ok {
		return fmt.Errorf("数据类型不是区块")
	}

	if len(block.Extrinsics) > maxExtrinsicsPerBlk {
		return errors.NewScanError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"BLOCK_TOO_LARGE", fmt.Sprintf("单块%d笔交易超出上限", len(block.Extrinsics)))
	}

	return nil
}

// GetValidationStats 获取验证统计信息
func (v *Validator) GetValidationStats() map[string]interface{} {
	return map[string]interface{}{
		"strict_mode":      v.strictMode,
		"registered_rules": len(v.rules),
		"error_stats":      v.errorHandler.GetStats(),
	}
}

// SetStrictMode 设置严格模式
func (v *Validator) SetStrictMode(strict bool) {
	v.strictMode = strict
	v.logger.Infof("验证器严格模式设置为: %t", strict)
}
