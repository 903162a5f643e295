package runtime

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"chainscan/internal/config"
	scanerrors "chainscan/internal/errors"
	"chainscan/internal/rpc"
	"chainscan/pkg/models"
)

// 链属性缺省值,节点未设置属性且配置未覆盖时使用
const (
	defaultSS58Format    = 42
	defaultTokenDecimals = 12
	defaultTokenSymbol   = "UNIT"
)

// PropertiesService 链属性服务
// 节点返回的属性可被配置覆盖,结果带TTL缓存与过期兜底
type PropertiesService struct {
	cache  *Cache
	chain  *config.ChainConfig
	logger *logrus.Logger
}

// NewPropertiesService 创建链属性服务
func NewPropertiesService(cache *Cache, chain *config.ChainConfig, logger *logrus.Logger) *PropertiesService {
	return &PropertiesService{cache: cache, chain: chain, logger: logger}
}

// Properties 取链属性,优先走缓存
func (s *PropertiesService) Properties(ctx context.Context, node rpc.Node) (*models.ChainProperties, error) {
	key := "properties:" + node.Endpoint()
	v, err := s.cache.Get(ctx, key, func(ctx context.Context) (interface{}, error) {
		props, err := node.Properties(ctx)
		if err != nil {
			return nil, err
		}
		return s.finalize(props), nil
	})
	if err != nil {
		if v != nil && errors.Is(err, scanerrors.ErrStaleDataServed) {
			s.logger.Warnf("链属性刷新失败，沿用过期数据: %v", err)
			return v.(*models.ChainProperties), nil
		}
		return nil, err
	}
	return v.(*models.ChainProperties), nil
}

// FromConfig 不访问节点,仅用配置与缺省值组装链属性
// 离线解码场景使用
func (s *PropertiesService) FromConfig() *models.ChainProperties {
	return s.finalize(&models.ChainProperties{})
}

// finalize 整体为空的属性回退到缺省值,再套用配置覆盖
func (s *PropertiesService) finalize(props *models.ChainProperties) *models.ChainProperties {
	out := *props
	if out.SS58Format == 0 && out.TokenDecimals == 0 && out.TokenSymbol == "" {
		out = models.ChainProperties{
			SS58Format:    defaultSS58Format,
			TokenDecimals: defaultTokenDecimals,
			TokenSymbol:   defaultTokenSymbol,
		}
	}

	if s.chain != nil {
		if s.chain.SS58Format >= 0 {
			out.SS58Format = uint16(s.chain.SS58Format)
		}
		if s.chain.TokenDecimals >= 0 {
			out.TokenDecimals = uint32(s.chain.TokenDecimals)
		}
		if s.chain.TokenSymbol != "" {
			out.TokenSymbol = s.chain.TokenSymbol
		}
	}
	return &out
}
