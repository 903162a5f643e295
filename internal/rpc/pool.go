package rpc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chainscan/internal/config"
)

// Pool 多节点websocket连接池
type Pool struct {
	nodes       []*config.NodeConfig
	pools       map[string]*NodePool
	logger      *logrus.Logger
	mu          sync.RWMutex
	healthCheck time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NodePool 单个节点的连接池
type NodePool struct {
	nodeConfig *config.NodeConfig
	clients    chan *Client
	maxSize    int
	current    int
	logger     *logrus.Logger
	mu         sync.Mutex
	closed     bool
	isHealthy  bool
	lastCheck  time.Time
}

// NewPool 创建连接池
func NewPool(nodes []*config.NodeConfig, logger *logrus.Logger) *Pool {
	return &Pool{
		nodes:       nodes,
		pools:       make(map[string]*NodePool),
		logger:      logger,
		healthCheck: 30 * time.Second,
		stop:        make(chan struct{}),
	}
}

// Initialize 初始化各节点的连接池并启动健康检查
func (p *Pool) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, node := range p.nodes {
		pool, err := NewNodePool(node, 10, p.logger) // 每个节点最多10个连接
		if err != nil {
			p.logger.Warnf("初始化节点 %s 连接池失败: %v", node.Name, err)
			continue
		}

		p.pools[node.Name] = pool
		p.logger.Infof("节点 %s 连接池已初始化", node.Name)
	}

	if len(p.pools) == 0 {
		return fmt.Errorf("没有可用的节点连接池")
	}

	go p.healthChecker()

	return nil
}

// NewNodePool 创建节点连接池
func NewNodePool(nodeConfig *config.NodeConfig, maxSize int, logger *logrus.Logger) (*NodePool, error) {
	pool := &NodePool{
		nodeConfig: nodeConfig,
		clients:    make(chan *Client, maxSize),
		maxSize:    maxSize,
		logger:     logger,
		isHealthy:  true,
	}

	// 预创建一部分连接
	initialSize := maxSize / 2
	if initialSize < 1 {
		initialSize = 1
	}

	for i := 0; i < initialSize; i++ {
		client, err := pool.createClient()
		if err != nil {
			logger.Warnf("预创建连接失败: %v", err)
			break
		}

		select {
		case pool.clients <- client:
			pool.current++
		default:
			client.Close()
		}
	}

	return pool, nil
}

// createClient 建立新连接并验证节点可达
func (np *NodePool) createClient() (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := Dial(ctx, np.nodeConfig.URL, 0, np.logger)
	if err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}

	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("测试连接失败: %w", err)
	}

	return client, nil
}

// GetClient 获取一个健康节点的连接
// 节点按配置的优先级排序,同级之间先到先用
func (p *Pool) GetClient() (*Client, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var availablePools []*NodePool
	var availableNames []string

	for name, pool := range p.pools {
		if pool.IsHealthy() {
			availablePools = append(availablePools, pool)
			availableNames = append(availableNames, name)
		}
	}

	if len(availablePools) == 0 {
		return nil, "", fmt.Errorf("没有可用的健康节点")
	}

	order := make([]int, len(availablePools))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return availablePools[order[a]].nodeConfig.Priority < availablePools[order[b]].nodeConfig.Priority
	})

	for _, i := range order {
		client, err := availablePools[i].GetClient()
		if err != nil {
			p.logger.Debugf("从节点 %s 获取连接失败: %v", availableNames[i], err)
			continue
		}
		return client, availableNames[i], nil
	}

	return nil, "", fmt.Errorf("所有节点都无法提供连接")
}

// GetClient 从节点池取出连接,必要时新建
func (np *NodePool) GetClient() (*Client, error) {
	select {
	case client := <-np.clients:
		// 通道已关闭时取出的是nil
		if client == nil {
			return nil, fmt.Errorf("连接池已关闭")
		}

		// 检查连接是否仍然有效
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := client.Health(ctx); err != nil {
			client.Close()
			np.mu.Lock()
			np.current--
			np.mu.Unlock()
			return np.createNewClient()
		}

		return client, nil
	default:
		return np.createNewClient()
	}
}

// createNewClient 在容量限制内新建连接
func (np *NodePool) createNewClient() (*Client, error) {
	np.mu.Lock()
	defer np.mu.Unlock()

	if np.closed {
		return nil, fmt.Errorf("连接池已关闭")
	}
	if np.current >= np.maxSize {
		return nil, fmt.Errorf("连接池已满")
	}

	client, err := np.createClient()
	if err != nil {
		np.isHealthy = false
		return nil, err
	}

	np.current++
	return client, nil
}

// ReturnClient 归还连接
func (p *Pool) ReturnClient(client *Client, nodeName string) {
	if client == nil {
		return
	}

	p.mu.RLock()
	pool, exists := p.pools[nodeName]
	p.mu.RUnlock()

	if !exists {
		client.Close()
		return
	}

	pool.ReturnClient(client)
}

// ReturnClient 归还连接到节点池,池满或池已关闭则直接关掉连接
// 入池操作在锁内完成,避免与Close的关闭通道竞争
func (np *NodePool) ReturnClient(client *Client) {
	if client == nil {
		return
	}

	np.mu.Lock()
	if np.closed {
		np.mu.Unlock()
		client.Close()
		return
	}

	select {
	case np.clients <- client:
		np.mu.Unlock()
	default:
		np.current--
		np.mu.Unlock()
		client.Close()
	}
}

// IsHealthy 检查节点是否健康,带30秒结果缓存
func (np *NodePool) IsHealthy() bool {
	np.mu.Lock()
	defer np.mu.Unlock()

	if time.Since(np.lastCheck) < 30*time.Second && np.isHealthy {
		return np.isHealthy
	}

	client, err := np.createClient()
	if err != nil {
		np.isHealthy = false
		np.lastCheck = time.Now()
		return false
	}
	client.Close()

	np.isHealthy = true
	np.lastCheck = time.Now()

	return np.isHealthy
}

// healthChecker 周期性健康检查
func (p *Pool) healthChecker() {
	ticker := time.NewTicker(p.healthCheck)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		p.mu.RLock()
		pools := make(map[string]*NodePool)
		for name, pool := range p.pools {
			pools[name] = pool
		}
		p.mu.RUnlock()

		for name, pool := range pools {
			if pool.IsHealthy() {
				p.logger.Debugf("节点 %s 健康检查通过", name)
			} else {
				p.logger.Warnf("节点 %s 健康检查失败", name)
			}
		}
	}
}

// GetStats 连接池统计信息
func (p *Pool) GetStats() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make(map[string]interface{})

	for name, pool := range p.pools {
		stats[name] = map[string]interface{}{
			"max_size":     pool.maxSize,
			"current_size": pool.current,
			"available":    len(pool.clients),
			"is_healthy":   pool.IsHealthy(),
			"last_check":   pool.lastCheck.Format(time.RFC3339),
		}
	}

	return stats
}

// Close 关闭连接池与健康检查
func (p *Pool) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })

	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error

	for name, pool := range p.pools {
		if err := pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭节点 %s 连接池失败: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("关闭连接池时发生错误: %v", errs)
	}

	p.logger.Info("连接池已关闭")
	return nil
}

// Close 关闭节点池中的所有连接,重复关闭无副作用
func (np *NodePool) Close() error {
	np.mu.Lock()
	defer np.mu.Unlock()

	if np.closed {
		return nil
	}
	np.closed = true

	close(np.clients)
	for client := range np.clients {
		client.Close()
	}

	np.current = 0
	return nil
}

// Conn 借出的连接,用完应归还
type Conn struct {
	client   *Client
	nodeName string
	pool     *Pool
}

// Acquire 借出一个连接
func (p *Pool) Acquire() (*Conn, error) {
	client, nodeName, err := p.GetClient()
	if err != nil {
		return nil, err
	}

	return &Conn{
		client:   client,
		nodeName: nodeName,
		pool:     p,
	}, nil
}

// Client 连接上的节点客户端
func (c *Conn) Client() *Client {
	return c.client
}

// NodeName 连接所属节点名
func (c *Conn) NodeName() string {
	return c.nodeName
}

// Release 归还连接
func (c *Conn) Release() {
	if c.client != nil {
		c.pool.ReturnClient(c.client, c.nodeName)
		c.client = nil
	}
}
