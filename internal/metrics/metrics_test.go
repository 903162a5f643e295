package metrics

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveDecode(t *testing.T) {
	m := New()

	m.ObserveDecode("extrinsic", true)
	m.ObserveDecode("extrinsic", true)
	m.ObserveDecode("extrinsic", false)
	m.ObserveDecode("events", true)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.decodeTotal.WithLabelValues("extrinsic", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.decodeTotal.WithLabelValues("extrinsic", "failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.decodeTotal.WithLabelValues("events", "ok")))
}

func TestObserveRPC(t *testing.T) {
	m := New()

	m.ObserveRPC("chain_getBlock", 10*time.Millisecond, nil)
	m.ObserveRPC("chain_getBlock", 20*time.Millisecond, fmt.Errorf("超时"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.rpcTotal.WithLabelValues("chain_getBlock", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rpcTotal.WithLabelValues("chain_getBlock", "failed")))
}

func TestObserveCacheAndBlocks(t *testing.T) {
	m := New()

	m.ObserveCacheHit()
	m.ObserveCacheHit()
	m.ObserveCacheMiss()
	m.ObserveStaleServe()
	m.ObserveBlock(true)
	m.ObserveBlock(false)
	m.SetQueueDepth(7)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheMisses))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheStaleServe))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.blocksProcessed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.blocksFailed))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.queueDepth))
}

func TestHandlerExposesPrivateRegistry(t *testing.T) {
	m := New()
	m.ObserveDecode("digest", true)

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, recorder.Code)
	body := recorder.Body.String()
	assert.Contains(t, body, "chainscan_decode_total")
	// 私有registry,不带默认的go_*指标
	assert.NotContains(t, body, "go_goroutines")
}
