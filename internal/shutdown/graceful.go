package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// 停机阶段顺序,数字小的先执行
const (
	OrderStopServer    = 10 // 停止HTTP服务,不再接受新请求
	OrderStopCollector = 20 // 停止采集,等待在途区块写完
	OrderFlushOutputs  = 30 // 排空输出缓冲(文件/Kafka)
	OrderClosePool     = 40 // 关闭节点连接池
	OrderSaveProgress  = 50 // 落盘采集进度
)

// hook 一个命名的停机步骤
type hook struct {
	name  string
	order int
	fn    func(ctx context.Context) error
}

// Coordinator 优雅停机协调器
// 收到SIGINT/SIGTERM/SIGQUIT后按注册顺序执行各停机步骤,整体受超时约束
type Coordinator struct {
	logger  *logrus.Logger
	timeout time.Duration

	mu       sync.Mutex
	hooks    []hook
	shutting bool

	signals chan os.Signal
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewCoordinator 创建停机协调器
func NewCoordinator(timeout time.Duration, logger *logrus.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		logger:  logger,
		timeout: timeout,
		signals: make(chan os.Signal, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	signal.Notify(c.signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	return c
}

// Register 注册一个停机步骤
func (c *Coordinator) Register(name string, order int, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook{name: name, order: order, fn: fn})
	c.logger.Debugf("注册停机步骤: %s (顺序%d)", name, order)
}

// Start 后台监听停机信号
func (c *Coordinator) Start() {
	go func() {
		sig := <-c.signals
		c.logger.Infof("收到停机信号: %v", sig)
		c.Shutdown()
	}()
}

// Context 返回停机时被取消的上下文,长任务应该监听它
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Wait 阻塞到停机流程完成
func (c *Coordinator) Wait() {
	<-c.done
}

// Shutdown 触发停机流程,重复调用只生效一次
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.shutting {
		c.mu.Unlock()
		return
	}
	c.shutting = true
	hooks := make([]hook, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.Unlock()

	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].order < hooks[j].order })

	// 先取消主上下文让长任务开始收尾,各步骤在超时内完成清理
	c.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var failed []error
	for _, h := range hooks {
		if shutdownCtx.Err() != nil {
			c.logger.Warnf("停机超时，跳过剩余步骤(从%s起)", h.name)
			break
		}

		start := time.Now()
		if err := h.fn(shutdownCtx); err != nil {
			c.logger.Errorf("停机步骤%s失败(耗时%v): %v", h.name, time.Since(start), err)
			failed = append(failed, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		c.logger.Infof("停机步骤%s完成(耗时%v)", h.name, time.Since(start))
	}

	if len(failed) > 0 {
		c.logger.Errorf("停机流程完成，%d个步骤失败", len(failed))
	} else {
		c.logger.Info("停机流程完成")
	}

	signal.Stop(c.signals)
	close(c.done)
}

// IsShuttingDown 是否正在停机
func (c *Coordinator) IsShuttingDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutting
}
