package metadata

import "chainscan/pkg/models"

// builtinCalls 内置的版本1调用表
// 覆盖标准FRAME链的基础模块布局,链方可用元数据文件按版本覆盖
func builtinCalls() *models.CallDispatchMap {
	return &models.CallDispatchMap{
		SpecVersion: 1,
		Pallets: map[uint8]models.PalletMeta{
			0: {
				Name:      "System",
				CallCount: 8,
				CallNameByIndex: map[uint8]string{
					0: "remark",
					1: "set_heap_pages",
					2: "set_code",
					3: "set_code_without_checks",
					4: "set_storage",
					5: "kill_storage",
					6: "kill_prefix",
					7: "remark_with_event",
				},
			},
			1: {
				Name:      "Timestamp",
				CallCount: 1,
				CallNameByIndex: map[uint8]string{
					0: "set",
				},
			},
			2: {
				Name:      "Balances",
				CallCount: 11,
				CallNameByIndex: map[uint8]string{
					0:  "transfer_allow_death",
					2:  "force_transfer",
					3:  "transfer_keep_alive",
					4:  "transfer_all",
					5:  "force_unreserve",
					6:  "upgrade_accounts",
					8:  "force_set_balance",
					9:  "force_adjust_total_issuance",
					10: "burn",
				},
			},
			3: {
				Name:      "TransactionPayment",
				CallCount: 0,
			},
			4: {
				Name:      "Sudo",
				CallCount: 5,
				CallNameByIndex: map[uint8]string{
					0: "sudo",
					1: "sudo_unchecked_weight",
					2: "set_key",
					3: "sudo_as",
					4: "remove_key",
				},
			},
		},
	}
}

// builtinEvents 内置的版本1事件布局表
// 未覆盖的事件形状由解码器降级保留原始字节,不影响已覆盖部分
func builtinEvents() *models.EventLayoutMap {
	return &models.EventLayoutMap{
		SpecVersion: 1,
		Pallets: map[uint8]models.EventPalletMeta{
			0: {
				Name: "System",
				Events: map[uint8]models.EventDef{
					0: {Name: "ExtrinsicSuccess", Fields: []models.EventField{
						{Name: "dispatch_info", Kind: models.FieldDispatchInfo},
					}},
					1: {Name: "ExtrinsicFailed", Fields: []models.EventField{
						{Name: "dispatch_error", Kind: models.FieldDispatchError},
						{Name: "dispatch_info", Kind: models.FieldDispatchInfo},
					}},
					2: {Name: "CodeUpdated"},
					3: {Name: "NewAccount", Fields: []models.EventField{
						{Name: "account", Kind: models.FieldAccount},
					}},
					4: {Name: "KilledAccount", Fields: []models.EventField{
						{Name: "account", Kind: models.FieldAccount},
					}},
					5: {Name: "Remarked", Fields: []models.EventField{
						{Name: "sender", Kind: models.FieldAccount},
						{Name: "hash", Kind: models.FieldHash},
					}},
				},
			},
			2: {
				Name: "Balances",
				Events: map[uint8]models.EventDef{
					0: {Name: "Endowed", Fields: []models.EventField{
						{Name: "account", Kind: models.FieldAccount},
						{Name: "free_balance", Kind: models.FieldBalance},
					}},
					1: {Name: "DustLost", Fields: []models.EventField{
						{Name: "account", Kind: models.FieldAccount},
						{Name: "amount", Kind: models.FieldBalance},
					}},
					2: {Name: "Transfer", Fields: []models.EventField{
						{Name: "from", Kind: models.FieldAccount},
						{Name: "to", Kind: models.FieldAccount},
						{Name: "amount", Kind: models.FieldBalance},
					}},
					3: {Name: "BalanceSet", Fields: []models.EventField{
						{Name: "who", Kind: models.FieldAccount},
						{Name: "free", Kind: models.FieldBalance},
					}},
					4: {Name: "Reserved", Fields: []models.EventField{
						{Name: "who", Kind: models.FieldAccount},
						{Name: "amount", Kind: models.FieldBalance},
					}},
					5: {Name: "Unreserved", Fields: []models.EventField{
						{Name: "who", Kind: models.FieldAccount},
						{Name: "amount", Kind: models.FieldBalance},
					}},
					7: {Name: "Deposit", Fields: []models.EventField{
						{Name: "who", Kind: models.FieldAccount},
						{Name: "amount", Kind: models.FieldBalance},
					}},
					8: {Name: "Withdraw", Fields: []models.EventField{
						{Name: "who", Kind: models.FieldAccount},
						{Name: "amount", Kind: models.FieldBalance},
					}},
					9: {Name: "Slashed", Fields: []models.EventField{
						{Name: "who", Kind: models.FieldAccount},
						{Name: "amount", Kind: models.FieldBalance},
					}},
				},
			},
			3: {
				Name: "TransactionPayment",
				Events: map[uint8]models.EventDef{
					0: {Name: "TransactionFeePaid", Fields: []models.EventField{
						{Name: "who", Kind: models.FieldAccount},
						{Name: "actual_fee", Kind: models.FieldBalance},
						{Name: "tip", Kind: models.FieldBalance},
					}},
				},
			},
		},
	}
}
