package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainscan/internal/config"
	scanerrors "chainscan/internal/errors"
)

// newWSServer 启动一个websocket假节点,handler负责脚本化应答
func newWSServer(t *testing.T, handler func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// respond 按id回写结果
func respond(conn *websocket.Conn, id uint64, result string) error {
	return conn.WriteJSON(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  json.RawMessage(result),
	})
}

// autoResponder 按方法名应答的通用假节点
func autoResponder(conn *websocket.Conn) {
	for {
		var req rpcRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		var result string
		switch req.Method {
		case "system_health":
			result = `{"peers":3,"isSyncing":false,"shouldHavePeers":true}`
		case "chain_getHeader":
			result = `{"parentHash":"0x00","number":"0x2a","stateRoot":"0x01","extrinsicsRoot":"0x02","digest":{"logs":[]}}`
		case "chain_getBlockHash":
			result = `"0xabc123"`
		case "system_properties":
			result = `{"ss58Format":189,"tokenDecimals":12,"tokenSymbol":"RES"}`
		case "system_chain":
			result = `"resonance-local"`
		default:
			result = `null`
		}
		if err := respond(conn, req.ID, result); err != nil {
			return
		}
	}
}

func TestClient_OutOfOrderCorrelation(t *testing.T) {
	logger := logrus.New()

	// 假节点攒齐两个请求后按相反顺序应答
	_, wsURL := newWSServer(t, func(conn *websocket.Conn) {
		var reqs []rpcRequest
		for len(reqs) < 2 {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			reqs = append(reqs, req)
		}
		for i := len(reqs) - 1; i >= 0; i-- {
			if err := respond(conn, reqs[i].ID, `"`+reqs[i].Method+`-result"`); err != nil {
				return
			}
		}
		autoResponder(conn)
	})

	client, err := Dial(context.Background(), wsURL, 5*time.Second, logger)
	require.NoError(t, err)
	defer client.Close()

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	for i, method := range []string{"method_one", "method_two"} {
		wg.Add(1)
		go func(i int, method string) {
			defer wg.Done()
			errs[i] = client.Call(context.Background(), &results[i], method)
		}(i, method)
	}
	wg.Wait()

	// 乱序到达的响应仍按id送回各自的调用方
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, "method_one-result", results[0])
	assert.Equal(t, "method_two-result", results[1])
}

func TestClient_TimeoutReleasesPending(t *testing.T) {
	logger := logrus.New()

	release := make(chan uint64, 1)
	_, wsURL := newWSServer(t, func(conn *websocket.Conn) {
		var req rpcRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		// 第一个请求压着不答,等测试确认超时后补发迟到响应
		id := <-release
		_ = respond(conn, id, `"late"`)
		autoResponder(conn)
	})

	client, err := Dial(context.Background(), wsURL, 150*time.Millisecond, logger)
	require.NoError(t, err)
	defer client.Close()

	var out string
	err = client.Call(context.Background(), &out, "slow_method")
	require.Error(t, err)
	assert.True(t, errors.Is(err, scanerrors.ErrRPCTimeout))

	// 超时后关联表不应残留占位
	client.mu.Lock()
	remaining := len(client.pending)
	client.mu.Unlock()
	assert.Equal(t, 0, remaining)

	// 迟到响应被读泵丢弃,连接仍然可用
	release <- 1
	var name string
	require.NoError(t, client.Call(context.Background(), &name, "system_chain"))
	assert.Equal(t, "resonance-local", name)
}

func TestClient_CloseFailsAllPending(t *testing.T) {
	logger := logrus.New()

	// 假节点只收不答
	_, wsURL := newWSServer(t, func(conn *websocket.Conn) {
		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
		}
	})

	client, err := Dial(context.Background(), wsURL, 30*time.Second, logger)
	require.NoError(t, err)

	const calls = 3
	var wg sync.WaitGroup
	errs := make([]error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Call(context.Background(), nil, "never_answered")
		}(i)
	}

	// 等所有调用挂上关联表再关闭
	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.pending) == calls
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())
	wg.Wait()

	for i := 0; i < calls; i++ {
		require.Error(t, errs[i], "第%d个调用", i)
		assert.True(t, errors.Is(errs[i], scanerrors.ErrConnectionClosed), "第%d个调用: %v", i, errs[i])
	}

	// 关闭后的新调用立即失败
	err = client.Call(context.Background(), nil, "after_close")
	require.Error(t, err)
	assert.True(t, errors.Is(err, scanerrors.ErrConnectionClosed))
}

func TestClient_RPCError(t *testing.T) {
	logger := logrus.New()

	_, wsURL := newWSServer(t, func(conn *websocket.Conn) {
		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			err := conn.WriteJSON(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]interface{}{"code": -32601, "message": "Method not found"},
			})
			if err != nil {
				return
			}
		}
	})

	client, err := Dial(context.Background(), wsURL, 5*time.Second, logger)
	require.NoError(t, err)
	defer client.Close()

	err = client.Call(context.Background(), nil, "no_such_method")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RPC_ERROR")
	assert.Contains(t, err.Error(), "Method not found")
}

func TestClient_NullResult(t *testing.T) {
	logger := logrus.New()

	_, wsURL := newWSServer(t, autoResponder)

	client, err := Dial(context.Background(), wsURL, 5*time.Second, logger)
	require.NoError(t, err)
	defer client.Close()

	var out string
	err = client.Call(context.Background(), &out, "state_getStorage", "0x00", "0x01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NULL_RESULT")
}

func TestClient_TypedMethods(t *testing.T) {
	logger := logrus.New()

	var mu sync.Mutex
	var seenParams [][]interface{}
	_, wsURL := newWSServer(t, func(conn *websocket.Conn) {
		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Method == "chain_getBlockHash" {
				mu.Lock()
				seenParams = append(seenParams, req.Params)
				mu.Unlock()
			}
			autoRespondOne(conn, &req)
		}
	})

	client, err := Dial(context.Background(), wsURL, 5*time.Second, logger)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()

	tip, err := client.TipNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), tip)

	hash, err := client.BlockHash(ctx, 16)
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", hash)

	// 高度参数以hex字符串形式发出
	mu.Lock()
	require.Len(t, seenParams, 1)
	require.Len(t, seenParams[0], 1)
	assert.Equal(t, "0x10", seenParams[0][0])
	mu.Unlock()

	props, err := client.Properties(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(189), props.SS58Format)
	assert.Equal(t, uint32(12), props.TokenDecimals)
	assert.Equal(t, "RES", props.TokenSymbol)

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, health.Peers)
	assert.False(t, health.IsSyncing)

	name, err := client.ChainName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "resonance-local", name)
}

// autoRespondOne 对单个请求按方法名应答
func autoRespondOne(conn *websocket.Conn, req *rpcRequest) {
	var result string
	switch req.Method {
	case "system_health":
		result = `{"peers":3,"isSyncing":false,"shouldHavePeers":true}`
	case "chain_getHeader":
		result = `{"parentHash":"0x00","number":"0x2a","stateRoot":"0x01","extrinsicsRoot":"0x02","digest":{"logs":[]}}`
	case "chain_getBlockHash":
		result = `"0xabc123"`
	case "system_properties":
		result = `{"ss58Format":189,"tokenDecimals":12,"tokenSymbol":"RES"}`
	case "system_chain":
		result = `"resonance-local"`
	default:
		result = `null`
	}
	_ = respond(conn, req.ID, result)
}

func TestPool_AcquireAndRelease(t *testing.T) {
	logger := logrus.New()

	_, wsURL := newWSServer(t, autoResponder)

	pool := NewPool([]*config.NodeConfig{
		{Name: "test_node", URL: wsURL, Type: "ws", Priority: 1},
	}, logger)
	require.NoError(t, pool.Initialize())
	defer pool.Close()

	conn, err := pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "test_node", conn.NodeName())

	health, err := conn.Client().Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, health.Peers)

	conn.Release()
	assert.Nil(t, conn.client)

	stats := pool.GetStats()
	require.Contains(t, stats, "test_node")
}
