package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	scanerrors "chainscan/internal/errors"
	"chainscan/internal/logging"
)

const (
	defaultCallTimeout      = 15 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

// rpcRequest JSON-RPC 2.0请求
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcError 节点返回的调用错误
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcResponse JSON-RPC 2.0响应,结果原样保留交由调用方反序列化
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// Client 与单个节点之间的一条持久websocket连接
// 请求按自增id与响应关联,读泵协程把乱序到达的响应分发回各自的等待者
// 所有方法可被多协程并发调用
type Client struct {
	endpoint    string
	conn        *websocket.Conn
	logger      *logrus.Entry
	callTimeout time.Duration

	// websocket不允许并发写,所有请求串行写出
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan *rpcResponse
	closed  bool

	nextID    uint64
	closeOnce sync.Once
	closeErr  error
}

// Dial 建立到节点的websocket连接并启动读泵
func Dial(ctx context.Context, endpoint string, callTimeout time.Duration, logger *logrus.Logger) (*Client, error) {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, scanerrors.WrapError(err, scanerrors.ErrorTypeConnection, scanerrors.SeverityHigh,
			"CONNECTION_FAILED", fmt.Sprintf("连接节点%s失败", endpoint)).WithEndpoint(endpoint)
	}

	c := &Client{
		endpoint:    endpoint,
		conn:        conn,
		logger:      logging.NewRPCLogger(logger, endpoint),
		callTimeout: callTimeout,
		pending:     make(map[uint64]chan *rpcResponse),
	}
	go c.readPump()

	c.logger.Debug("已连接节点")
	return c, nil
}

// Endpoint 返回连接的节点地址
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Call 发起一次JSON-RPC调用并等待对应id的响应
// ctx取消或超时会释放关联表中的占位,迟到的响应被读泵丢弃
func (c *Client) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	id := atomic.AddUint64(&c.nextID, 1)
	ch := make(chan *rpcResponse, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return scanerrors.NewScanError(scanerrors.ErrorTypeConnection, scanerrors.SeverityHigh,
			"CONNECTION_CLOSED", "连接已关闭").WithEndpoint(c.endpoint)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if params == nil {
		// 节点要求params字段必须是数组
		params = []interface{}{}
	}
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.release(id)
		return scanerrors.WrapError(err, scanerrors.ErrorTypeTransport, scanerrors.SeverityHigh,
			"TRANSPORT_FAILURE", fmt.Sprintf("发送%s请求失败", method)).WithEndpoint(c.endpoint)
	}

	callCtx := ctx
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	select {
	case resp := <-ch:
		if resp == nil {
			return scanerrors.NewScanError(scanerrors.ErrorTypeConnection, scanerrors.SeverityHigh,
				"CONNECTION_CLOSED", fmt.Sprintf("等待%s响应期间连接关闭", method)).WithEndpoint(c.endpoint)
		}
		if resp.Error != nil {
			return scanerrors.NewScanError(scanerrors.ErrorTypeTransport, scanerrors.SeverityMedium,
				"RPC_ERROR", fmt.Sprintf("%s调用失败: %s (code=%d)", method, resp.Error.Message, resp.Error.Code)).
				WithEndpoint(c.endpoint)
		}
		if result == nil {
			return nil
		}
		if len(resp.Result) == 0 || string(resp.Result) == "null" {
			return scanerrors.NewScanError(scanerrors.ErrorTypeTransport, scanerrors.SeverityMedium,
				"NULL_RESULT", fmt.Sprintf("%s返回空结果", method)).WithEndpoint(c.endpoint)
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return scanerrors.WrapError(err, scanerrors.ErrorTypeSerialization, scanerrors.SeverityMedium,
				"SERIALIZATION_FAILED", fmt.Sprintf("解析%s响应失败", method)).WithEndpoint(c.endpoint)
		}
		return nil

	case <-callCtx.Done():
		c.release(id)
		return scanerrors.WrapError(callCtx.Err(), scanerrors.ErrorTypeTimeout, scanerrors.SeverityMedium,
			"RPC_TIMEOUT", fmt.Sprintf("%s调用超时", method)).WithEndpoint(c.endpoint)
	}
}

// readPump 持续读取连接上的消息并按id分发
// 读失败视为连接终结,所有等待中的调用立即失败
func (c *Client) readPump() {
	for {
		var resp rpcResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.failAll(err)
			return
		}
		c.dispatch(&resp)
	}
}

// dispatch 把响应交给对应id的等待者,无人等待的响应丢弃
func (c *Client) dispatch(resp *rpcResponse) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		// 等待方已超时放弃,或是未订阅的推送
		c.logger.Debugf("丢弃无人等待的响应 id=%d", resp.ID)
		return
	}
	ch <- resp
}

// release 取消等待时释放关联表占位
func (c *Client) release(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failAll 连接终结时让所有等待中的调用失败
func (c *Client) failAll(cause error) {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint64]chan *rpcResponse)
	c.mu.Unlock()

	if len(pending) > 0 {
		c.logger.Debugf("连接终结，%d个等待中的调用失败: %v", len(pending), cause)
	}
	for _, ch := range pending {
		close(ch)
	}
}

// Close 关闭连接,等待中的调用全部以连接关闭失败
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
