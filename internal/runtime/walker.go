package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	scanerrors "chainscan/internal/errors"
	"chainscan/internal/logging"
	"chainscan/internal/rpc"
	"chainscan/pkg/models"
)

// WalkOptions 运行时发现的参数
type WalkOptions struct {
	// Ceiling 发现的最高区块高度,0表示取链上最新高度
	Ceiling uint64
}

// Walker 运行时版本范围发现器
// 用跳跃试探加二分查找定位版本切换边界,整条链的发现开销是O(切换数×log高度)
type Walker struct {
	logger *logrus.Logger
}

// NewWalker 创建发现器
func NewWalker(logger *logrus.Logger) *Walker {
	return &Walker{logger: logger}
}

// WalkRuntimeSpans 发现从创世到目标高度的全部运行时版本范围
// 产出的范围按高度有序、连续且互不重叠;任何一次远程调用失败都会中止本轮发现
func (w *Walker) WalkRuntimeSpans(ctx context.Context, node rpc.Node, opts WalkOptions) (*models.DiscoveryResult, error) {
	run := &walkRun{
		node:     node,
		hashes:   make(map[uint64]string),
		versions: make(map[uint64]*models.RuntimeVersion),
	}

	ceiling := opts.Ceiling
	if ceiling == 0 {
		tip, err := node.TipNumber(ctx)
		if err != nil {
			return nil, err
		}
		run.calls++
		ceiling = tip
	}

	log := logging.NewWalkerLogger(w.logger, node.Endpoint())
	log.Infof("开始运行时发现: 目标高度=%d", ceiling)

	var spans []models.RuntimeSpan
	start := uint64(0)
	current, err := run.versionAt(ctx, start)
	if err != nil {
		return nil, err
	}

	for {
		boundary, reachedCeiling, err := w.findBoundary(ctx, run, start, ceiling, current.SpecVersion)
		if err != nil {
			return nil, err
		}

		if reachedCeiling {
			spans = append(spans, models.RuntimeSpan{
				SpecName:    current.SpecName,
				SpecVersion: current.SpecVersion,
				StartBlock:  start,
				EndBlock:    ceiling,
			})
			break
		}

		// boundary是第一个版本不同的高度,当前范围在它前一格收尾
		spans = append(spans, models.RuntimeSpan{
			SpecName:    current.SpecName,
			SpecVersion: current.SpecVersion,
			StartBlock:  start,
			EndBlock:    boundary - 1,
		})
		log.Debugf("版本切换: %d -> 高度%d", current.SpecVersion, boundary)

		start = boundary
		current, err = run.versionAt(ctx, start)
		if err != nil {
			return nil, err
		}
	}

	// 为每个范围取起始高度处的运行时代码指纹
	for i := range spans {
		blockHash, err := run.blockHash(ctx, spans[i].StartBlock)
		if err != nil {
			return nil, err
		}
		codeHash, err := node.StorageHashAt(ctx, rpc.WellKnownCodeKey, blockHash)
		if err != nil {
			return nil, err
		}
		run.calls++
		spans[i].CodeHash = codeHash
	}

	log.Infof("运行时发现完成: %d个版本范围，%d次远程调用", len(spans), run.calls)

	return &models.DiscoveryResult{
		Endpoint:   node.Endpoint(),
		MaxHeight:  ceiling,
		Spans:      spans,
		RemoteCall: run.calls,
		FetchedAt:  time.Now(),
	}, nil
}

// findBoundary 从start起定位第一个版本不同的高度
// 跳跃试探以指数步长逼近边界,再在最后一段窗口内二分
// 返回reachedCeiling=true表示直到目标高度版本都未变化
func (w *Walker) findBoundary(ctx context.Context, run *walkRun, start, ceiling uint64, specVersion uint32) (uint64, bool, error) {
	step := uint64(1)
	lastSame := start
	var probedDiff uint64

	for {
		var probe uint64
		if step >= ceiling-start {
			probe = ceiling
		} else {
			probe = start + step
		}

		v, err := run.versionAt(ctx, probe)
		if err != nil {
			return 0, false, err
		}

		if v.SpecVersion == specVersion {
			lastSame = probe
			if probe == ceiling {
				return 0, true, nil
			}
			step *= 2
			continue
		}

		probedDiff = probe
		break
	}

	// 边界落在(lastSame, probedDiff]内,二分找第一个不同的高度
	lo, hi := lastSame+1, probedDiff
	for lo < hi {
		mid := lo + (hi-lo)/2
		v, err := run.versionAt(ctx, mid)
		if err != nil {
			return 0, false, err
		}
		if v.SpecVersion == specVersion {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, false, nil
}

// walkRun 单轮发现的远程调用记账与备忘
type walkRun struct {
	node     rpc.Node
	calls    int
	hashes   map[uint64]string
	versions map[uint64]*models.RuntimeVersion
}

// blockHash 查区块哈希,同一高度只查一次
func (r *walkRun) blockHash(ctx context.Context, height uint64) (string, error) {
	if hash, ok := r.hashes[height]; ok {
		return hash, nil
	}
	hash, err := r.node.BlockHash(ctx, height)
	if err != nil {
		return "", err
	}
	r.calls++
	r.hashes[height] = hash
	return hash, nil
}

// versionAt 查指定高度生效的运行时版本,同一高度只查一次
func (r *walkRun) versionAt(ctx context.Context, height uint64) (*models.RuntimeVersion, error) {
	if v, ok := r.versions[height]; ok {
		return v, nil
	}
	hash, err := r.blockHash(ctx, height)
	if err != nil {
		return nil, err
	}
	v, err := r.node.RuntimeVersionAt(ctx, hash)
	if err != nil {
		return nil, err
	}
	r.calls++
	r.versions[height] = v
	return v, nil
}

// Discovery 带缓存的运行时发现服务
// 同一节点与目标高度的发现结果在TTL内复用;刷新失败时沿用过期结果并打上标记
type Discovery struct {
	walker *Walker
	cache  *Cache
	logger *logrus.Logger
}

// NewDiscovery 创建发现服务
func NewDiscovery(walker *Walker, cache *Cache, logger *logrus.Logger) *Discovery {
	return &Discovery{walker: walker, cache: cache, logger: logger}
}

// Spans 返回节点的运行时版本范围,优先走缓存
func (d *Discovery) Spans(ctx context.Context, node rpc.Node, ceiling uint64) (*models.DiscoveryResult, error) {
	key := fmt.Sprintf("spans:%s#%d", node.Endpoint(), ceiling)
	v, err := d.cache.Get(ctx, key, func(ctx context.Context) (interface{}, error) {
		return d.walker.WalkRuntimeSpans(ctx, node, WalkOptions{Ceiling: ceiling})
	})
	if err != nil {
		if v != nil && errors.Is(err, scanerrors.ErrStaleDataServed) {
			d.logger.Warnf("运行时发现刷新失败，沿用过期结果: %v", err)
			stale := *(v.(*models.DiscoveryResult))
			stale.Stale = true
			return &stale, nil
		}
		return nil, err
	}
	return v.(*models.DiscoveryResult), nil
}

// VersionFor 返回覆盖指定高度的运行时版本号
func (d *Discovery) VersionFor(ctx context.Context, node rpc.Node, height, ceiling uint64) (uint32, error) {
	result, err := d.Spans(ctx, node, ceiling)
	if err != nil {
		return 0, err
	}
	span, ok := result.SpanAt(height)
	if !ok {
		return 0, scanerrors.NewScanError(scanerrors.ErrorTypeValidation, scanerrors.SeverityMedium,
			"HEIGHT_OUT_OF_RANGE", fmt.Sprintf("高度%d不在已发现的范围内(最高%d)", height, result.MaxHeight))
	}
	return span.SpecVersion, nil
}
