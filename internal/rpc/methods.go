package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"chainscan/pkg/models"
)

// 链上公认的存储键
const (
	// WellKnownCodeKey 运行时代码存储键":code",其存储哈希是运行时代码指纹
	WellKnownCodeKey = "0x3a636f6465"
	// WellKnownEventsKey System.Events存储项,区块事件的存放处
	WellKnownEventsKey = "0x26aa394eea5630e07c48ae0c9558cef780d41e5e16056765bc8461851072c9d7"
)

// Node 运行时发现与区块采集所需的节点方法面
type Node interface {
	// TipNumber 最新区块高度
	TipNumber(ctx context.Context) (uint64, error)
	// BlockHash 指定高度的区块哈希
	BlockHash(ctx context.Context, height uint64) (string, error)
	// RuntimeVersionAt 指定区块哈希处生效的运行时版本,哈希为空取最新
	RuntimeVersionAt(ctx context.Context, blockHash string) (*models.RuntimeVersion, error)
	// StorageHashAt 指定区块哈希处某存储项的内容哈希
	StorageHashAt(ctx context.Context, key, blockHash string) (string, error)
	// HeaderAt 指定区块哈希的区块头,哈希为空取最新
	HeaderAt(ctx context.Context, blockHash string) (*models.Header, error)
	// BlockAt 指定区块哈希的完整区块
	BlockAt(ctx context.Context, blockHash string) (*models.BlockData, error)
	// StorageAt 指定区块哈希处某存储项的值hex
	StorageAt(ctx context.Context, key, blockHash string) (string, error)
	// Properties 链属性
	Properties(ctx context.Context) (*models.ChainProperties, error)
	// Health 节点健康状态
	Health(ctx context.Context) (*models.Health, error)
	// ChainName 链名称
	ChainName(ctx context.Context) (string, error)
	// Endpoint 节点地址
	Endpoint() string
	// Close 关闭连接
	Close() error
}

var _ Node = (*Client)(nil)

// TipNumber 取最新区块头并返回其高度
func (c *Client) TipNumber(ctx context.Context) (uint64, error) {
	header, err := c.HeaderAt(ctx, "")
	if err != nil {
		return 0, err
	}
	return uint64(header.Number), nil
}

// BlockHash 查询指定高度的区块哈希
func (c *Client) BlockHash(ctx context.Context, height uint64) (string, error) {
	var hash string
	if err := c.Call(ctx, &hash, "chain_getBlockHash", hexutil.Uint64(height)); err != nil {
		return "", err
	}
	return hash, nil
}

// RuntimeVersionAt 查询指定区块处生效的运行时版本
func (c *Client) RuntimeVersionAt(ctx context.Context, blockHash string) (*models.RuntimeVersion, error) {
	version := &models.RuntimeVersion{}
	var err error
	if blockHash == "" {
		err = c.Call(ctx, version, "state_getRuntimeVersion")
	} else {
		err = c.Call(ctx, version, "state_getRuntimeVersion", blockHash)
	}
	if err != nil {
		return nil, err
	}
	return version, nil
}

// StorageHashAt 查询指定区块处存储项的内容哈希
func (c *Client) StorageHashAt(ctx context.Context, key, blockHash string) (string, error) {
	var hash string
	if err := c.Call(ctx, &hash, "state_getStorageHash", key, blockHash); err != nil {
		return "", err
	}
	return hash, nil
}

// HeaderAt 查询区块头,哈希为空时返回最新区块头
func (c *Client) HeaderAt(ctx context.Context, blockHash string) (*models.Header, error) {
	header := &models.Header{}
	var err error
	if blockHash == "" {
		err = c.Call(ctx, header, "chain_getHeader")
	} else {
		err = c.Call(ctx, header, "chain_getHeader", blockHash)
	}
	if err != nil {
		return nil, err
	}
	return header, nil
}

// BlockAt 查询完整区块
func (c *Client) BlockAt(ctx context.Context, blockHash string) (*models.BlockData, error) {
	block := &models.BlockData{}
	if err := c.Call(ctx, block, "chain_getBlock", blockHash); err != nil {
		return nil, err
	}
	return block, nil
}

// StorageAt 查询存储项的值
func (c *Client) StorageAt(ctx context.Context, key, blockHash string) (string, error) {
	var value string
	if err := c.Call(ctx, &value, "state_getStorage", key, blockHash); err != nil {
		return "", err
	}
	return value, nil
}

// Properties 查询链属性
func (c *Client) Properties(ctx context.Context) (*models.ChainProperties, error) {
	props := &models.ChainProperties{}
	if err := c.Call(ctx, props, "system_properties"); err != nil {
		return nil, err
	}
	return props, nil
}

// Health 查询节点健康状态
func (c *Client) Health(ctx context.Context) (*models.Health, error) {
	health := &models.Health{}
	if err := c.Call(ctx, health, "system_health"); err != nil {
		return nil, err
	}
	return health, nil
}

// ChainName 查询链名称
func (c *Client) ChainName(ctx context.Context) (string, error) {
	var name string
	if err := c.Call(ctx, &name, "system_chain"); err != nil {
		return "", err
	}
	return name, nil
}
