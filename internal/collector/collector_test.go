package collector

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainscan/internal/config"
	scanerrors "chainscan/internal/errors"
	"chainscan/internal/metadata"
	"chainscan/internal/rpc"
	"chainscan/pkg/models"
)

// fakeChainNode 可编排的假节点
// 区块哈希即高度的hex,所有按哈希的查询都能还原出高度
type fakeChainNode struct {
	tip        uint64
	specFor    func(height uint64) (string, uint32)
	extrinsics []string
	digestLogs []string
	eventsHex  string
	failMethod string

	mu        sync.Mutex
	callCount int
}

func newFakeChainNode(tip uint64) *fakeChainNode {
	return &fakeChainNode{
		tip:     tip,
		specFor: func(uint64) (string, uint32) { return "testchain", 100 },
		// 单笔无签名交易: 长度3,信封v4,模块5调用3
		extrinsics: []string{"0x0c040503"},
		// PreRuntime + qpow + 32字节出块账户
		digestLogs: []string{"0x0671706f77" + strings.Repeat("aa", 32)},
		// 空事件向量
		eventsHex: "0x00",
	}
}

func (f *fakeChainNode) record(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	if f.failMethod == method {
		return fmt.Errorf("注入的%s失败", method)
	}
	return nil
}

func (f *fakeChainNode) heightOf(blockHash string) (uint64, error) {
	return strconv.ParseUint(blockHash[2:], 16, 64)
}

func (f *fakeChainNode) TipNumber(ctx context.Context) (uint64, error) {
	if err := f.record("TipNumber"); err != nil {
		return 0, err
	}
	return f.tip, nil
}

func (f *fakeChainNode) BlockHash(ctx context.Context, height uint64) (string, error) {
	if err := f.record("BlockHash"); err != nil {
		return "", err
	}
	return fmt.Sprintf("0x%016x", height), nil
}

func (f *fakeChainNode) RuntimeVersionAt(ctx context.Context, blockHash string) (*models.RuntimeVersion, error) {
	if err := f.record("RuntimeVersionAt"); err != nil {
		return nil, err
	}
	height, err := f.heightOf(blockHash)
	if err != nil {
		return nil, err
	}
	name, version := f.specFor(height)
	return &models.RuntimeVersion{SpecName: name, SpecVersion: version}, nil
}

func (f *fakeChainNode) StorageHashAt(ctx context.Context, key, blockHash string) (string, error) {
	if err := f.record("StorageHashAt"); err != nil {
		return "", err
	}
	height, err := f.heightOf(blockHash)
	if err != nil {
		return "", err
	}
	_, version := f.specFor(height)
	return fmt.Sprintf("0xc0de%08x", version), nil
}

func (f *fakeChainNode) HeaderAt(ctx context.Context, blockHash string) (*models.Header, error) {
	if err := f.record("HeaderAt"); err != nil {
		return nil, err
	}
	block, err := f.BlockAt(ctx, blockHash)
	if err != nil {
		return nil, err
	}
	return &block.Block.Header, nil
}

func (f *fakeChainNode) BlockAt(ctx context.Context, blockHash string) (*models.BlockData, error) {
	if err := f.record("BlockAt"); err != nil {
		return nil, err
	}
	height, err := f.heightOf(blockHash)
	if err != nil {
		return nil, err
	}
	var parentHash string
	if height > 0 {
		parentHash = fmt.Sprintf("0x%016x", height-1)
	}
	return &models.BlockData{
		Block: models.SignedBlock{
			Header: models.Header{
				ParentHash: parentHash,
				Number:     hexutil.Uint64(height),
				StateRoot:  "0x5707",
				Digest:     models.Digest{Logs: f.digestLogs},
			},
			Extrinsics: f.extrinsics,
		},
	}, nil
}

func (f *fakeChainNode) StorageAt(ctx context.Context, key, blockHash string) (string, error) {
	if err := f.record("StorageAt"); err != nil {
		return "", err
	}
	if f.eventsHex == "" {
		return "", fmt.Errorf("存储项为空")
	}
	return f.eventsHex, nil
}

func (f *fakeChainNode) Properties(ctx context.Context) (*models.ChainProperties, error) {
	if err := f.record("Properties"); err != nil {
		return nil, err
	}
	return &models.ChainProperties{SS58Format: 42, TokenDecimals: 12, TokenSymbol: "UNIT"}, nil
}

func (f *fakeChainNode) Health(ctx context.Context) (*models.Health, error) {
	return &models.Health{Peers: 1}, nil
}

func (f *fakeChainNode) ChainName(ctx context.Context) (string, error) {
	return "testchain", nil
}

func (f *fakeChainNode) Endpoint() string { return "ws://fake-node" }

func (f *fakeChainNode) Close() error { return nil }

var _ rpc.Node = (*fakeChainNode)(nil)

// captureOutput 把写入留在内存里供断言
type captureOutput struct {
	mu     sync.Mutex
	blocks []*models.DecodedBlock
	spans  []*models.DiscoveryResult
}

func (o *captureOutput) WriteBlock(block *models.DecodedBlock) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blocks = append(o.blocks, block)
	return nil
}

func (o *captureOutput) WriteSpans(result *models.DiscoveryResult) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spans = append(o.spans, result)
	return nil
}

func (o *captureOutput) Close() error { return nil }

// sortedBlocks 按高度排序的已写区块副本
func (o *captureOutput) sortedBlocks() []*models.DecodedBlock {
	o.mu.Lock()
	defer o.mu.Unlock()
	blocks := make([]*models.DecodedBlock, len(o.blocks))
	copy(blocks, o.blocks)
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Height < blocks[j].Height })
	return blocks
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Collector.Workers = 2
	cfg.Collector.QueueSize = 8
	cfg.Collector.CheckpointPath = filepath.Join(t.TempDir(), "progress.json")
	return cfg
}

// testRegistry 注册版本100与200的调用表
func testRegistry() *metadata.Registry {
	r := metadata.NewRegistry()
	for _, version := range []uint32{100, 200} {
		r.RegisterCalls(&models.CallDispatchMap{
			SpecVersion: version,
			Pallets: map[uint8]models.PalletMeta{
				5: {
					Name:            "Balances",
					CallCount:       10,
					CallNameByIndex: map[uint8]string{3: "transfer_keep_alive"},
				},
			},
		})
	}
	return r
}

func newTestCollector(t *testing.T, node *fakeChainNode) (*Collector, *captureOutput) {
	out := &captureOutput{}
	c, err := NewCollector(testConfig(t), testRegistry(), out, testLogger())
	require.NoError(t, err)

	c.SetNodeSource(func(ctx context.Context) (rpc.Node, func(), error) {
		return node, func() {}, nil
	})
	return c, out
}

func TestCollectBlock(t *testing.T) {
	node := newFakeChainNode(10)
	c, _ := newTestCollector(t, node)

	props := &models.ChainProperties{SS58Format: 42, TokenDecimals: 12, TokenSymbol: "UNIT"}
	block, err := c.CollectBlock(context.Background(), node, 2, 100, props)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), block.Height)
	assert.Equal(t, fmt.Sprintf("0x%016x", 2), block.Hash)
	assert.Equal(t, fmt.Sprintf("0x%016x", 1), block.ParentHash)
	assert.Equal(t, uint32(100), block.SpecVersion)

	// 摘要解出qpow引擎与出块账户
	assert.Equal(t, "qpow", block.ConsensusEngine)
	assert.NotEmpty(t, block.Author)

	// 无签名交易解到Balances.transfer_keep_alive
	require.Equal(t, 1, block.ExtrinsicCount)
	ext := block.Extrinsics[0]
	assert.True(t, ext.OK)
	assert.False(t, ext.Signed)
	assert.Equal(t, "Balances", ext.Section)
	assert.Equal(t, "transfer_keep_alive", ext.Method)

	// 空事件向量
	require.NotNil(t, block.Events)
	assert.Equal(t, 0, block.EventCount)
}

func TestCollectBlockMissingEventsStorage(t *testing.T) {
	node := newFakeChainNode(10)
	node.eventsHex = ""
	c, _ := newTestCollector(t, node)

	props := &models.ChainProperties{SS58Format: 42, TokenDecimals: 12, TokenSymbol: "UNIT"}
	block, err := c.CollectBlock(context.Background(), node, 1, 100, props)
	require.NoError(t, err)

	// 事件存储缺失不视为错误
	assert.Nil(t, block.Events)
	assert.Equal(t, 0, block.EventCount)
}

func TestCollectRange(t *testing.T) {
	node := newFakeChainNode(10)
	c, out := newTestCollector(t, node)

	stats, err := c.CollectRange(context.Background(), 1, 4)
	require.NoError(t, err)

	assert.Equal(t, uint64(4), stats.TotalBlocks)
	assert.Equal(t, uint64(4), stats.TotalExtrinsics)
	assert.Equal(t, uint64(0), stats.FailedBlocks)
	assert.NotEmpty(t, stats.Duration)

	blocks := out.sortedBlocks()
	require.Len(t, blocks, 4)
	for i, block := range blocks {
		assert.Equal(t, uint64(i+1), block.Height)
		assert.Equal(t, uint32(100), block.SpecVersion)
	}

	// 发现结果也被写出: 单一版本从创世覆盖到目标高度
	require.Len(t, out.spans, 1)
	require.Len(t, out.spans[0].Spans, 1)
	assert.Equal(t, uint64(0), out.spans[0].Spans[0].StartBlock)
	assert.Equal(t, uint64(4), out.spans[0].Spans[0].EndBlock)

	// 进度推进到范围末尾
	assert.Equal(t, uint64(5), c.ResumeHeight())
}

func TestCollectRangeVersionSwitch(t *testing.T) {
	node := newFakeChainNode(10)
	node.specFor = func(height uint64) (string, uint32) {
		if height >= 3 {
			return "testchain", 200
		}
		return "testchain", 100
	}
	c, out := newTestCollector(t, node)

	stats, err := c.CollectRange(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), stats.TotalBlocks)

	blocks := out.sortedBlocks()
	require.Len(t, blocks, 5)
	for _, block := range blocks {
		expected := uint32(100)
		if block.Height >= 3 {
			expected = 200
		}
		assert.Equal(t, expected, block.SpecVersion, "高度%d的规范版本", block.Height)
	}

	// 发现结果包含两个相邻不重叠的版本范围
	require.Len(t, out.spans, 1)
	spans := out.spans[0].Spans
	require.Len(t, spans, 2)
	assert.Equal(t, uint64(2), spans[0].EndBlock)
	assert.Equal(t, uint64(3), spans[1].StartBlock)
}

func TestCollectRangeInvalidRange(t *testing.T) {
	node := newFakeChainNode(10)
	c, _ := newTestCollector(t, node)

	_, err := c.CollectRange(context.Background(), 5, 1)
	require.Error(t, err)
}

func TestCollectRangeDiscoveryFallback(t *testing.T) {
	node := newFakeChainNode(10)
	// 运行时发现依赖的指纹查询失败,采集应退回逐块查版本
	node.failMethod = "StorageHashAt"
	c, out := newTestCollector(t, node)

	stats, err := c.CollectRange(context.Background(), 1, 3)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), stats.TotalBlocks)
	blocks := out.sortedBlocks()
	require.Len(t, blocks, 3)
	for _, block := range blocks {
		assert.Equal(t, uint32(100), block.SpecVersion)
	}
	// 发现失败时没有范围结果可写
	assert.Empty(t, out.spans)
}

func TestCollectRangeRoutesFailuresToErrorHandler(t *testing.T) {
	node := newFakeChainNode(10)
	// 区块拉取持续失败,每个失败的高度都应进入错误处理器
	node.failMethod = "BlockAt"
	c, _ := newTestCollector(t, node)

	var mu sync.Mutex
	var codes []string
	c.OnError(func(err *scanerrors.ScanError) {
		mu.Lock()
		codes = append(codes, err.Code)
		mu.Unlock()
	})

	stats, err := c.CollectRange(context.Background(), 1, 3)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), stats.TotalBlocks)
	assert.Equal(t, uint64(3), stats.FailedBlocks)

	errStats := c.ErrorStats()
	assert.Equal(t, 3, errStats.TotalErrors)
	// 假节点返回普通错误,被包装为系统错误
	assert.Equal(t, 3, errStats.ErrorsByType[scanerrors.ErrorTypeSystem])

	// 回调在独立协程里执行
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(codes) == 3
	}, 2*time.Second, 10*time.Millisecond)
}
