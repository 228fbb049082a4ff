package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/airchains-network/simnode/config"
	"github.com/airchains-network/simnode/engine"
	"github.com/airchains-network/simnode/metrics"
	"github.com/airchains-network/simnode/rpc"
	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := logtest.NewNullLogger()
	mock := clock.NewMock()
	mock.Set(time.Unix(1_600_000_000, 0))

	cfg := config.DefaultConfig()
	cfg.Accounts.Count = 2
	m := metrics.New()
	e := engine.New(cfg, engine.Options{Log: log, Metrics: m, Clock: mock})
	require.NoError(t, e.Ready(context.Background()))

	s := NewServer(e, m, log)
	t.Cleanup(func() {
		s.Close()
		e.Close()
	})
	return s
}

func post(t *testing.T, url, body string) []byte {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return out
}

func TestHTTPRequest(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).RPCHandler())
	defer srv.Close()

	var resp Response
	require.NoError(t, json.Unmarshal(post(t, srv.URL, `{"jsonrpc":"2.0","id":7,"method":"eth_blockNumber","params":[]}`), &resp))
	assert.Nil(t, resp.Error)
	assert.JSONEq(t, `7`, string(resp.ID))
	assert.JSONEq(t, `"0x0"`, string(resp.Result))
}

func TestHTTPNullResult(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).RPCHandler())
	defer srv.Close()

	body := post(t, srv.URL, `{"jsonrpc":"2.0","id":1,"method":"eth_getTransactionByHash","params":["0x`+strings.Repeat("ab", 32)+`"]}`)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":null}`, string(body))
}

func TestHTTPBatch(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).RPCHandler())
	defer srv.Close()

	body := post(t, srv.URL, `[
		{"jsonrpc":"2.0","id":1,"method":"net_version","params":[]},
		{"jsonrpc":"2.0","id":2,"method":"eth_mineBlock","params":[]},
		{"jsonrpc":"2.0","id":3}
	]`)
	var resps []Response
	require.NoError(t, json.Unmarshal(body, &resps))
	require.Len(t, resps, 3)

	assert.JSONEq(t, `"1337"`, string(resps[0].Result))
	require.NotNil(t, resps[1].Error)
	assert.Equal(t, rpc.CodeMethodNotFound, resps[1].Error.Code)
	assert.Equal(t, "Method eth_mineBlock not supported.", resps[1].Error.Message)
	require.NotNil(t, resps[2].Error)
	assert.Equal(t, rpc.CodeInvalidRequest, resps[2].Error.Code)
}

func TestHTTPMalformed(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).RPCHandler())
	defer srv.Close()

	tests := []struct {
		body string
		code int
	}{
		{`{"jsonrpc":`, rpc.CodeParseError},
		{`[]`, rpc.CodeInvalidRequest},
		{`{"jsonrpc":"2.0","id":1,"method":"eth_subscribe","params":["newHeads"]}`, rpc.CodeMethodNotFound},
	}
	for _, tt := range tests {
		var resp Response
		require.NoError(t, json.Unmarshal(post(t, srv.URL, tt.body), &resp), tt.body)
		require.NotNil(t, resp.Error, tt.body)
		assert.Equal(t, tt.code, resp.Error.Code, tt.body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).RPCHandler())
	defer srv.Close()

	post(t, srv.URL, `{"jsonrpc":"2.0","id":1,"method":"eth_accounts","params":[]}`)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `simnode_rpc_requests_total{method="eth_accounts",result="ok"} 1`)
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.WSHandler())
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type message struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *rpc.Error      `json:"error"`
	Params struct {
		Subscription string                 `json:"subscription"`
		Result       map[string]interface{} `json:"result"`
	} `json:"params"`
}

func roundTrip(t *testing.T, conn *websocket.Conn, req string) message {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(req)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketRequest(t *testing.T) {
	conn := dial(t, newTestServer(t))

	msg := roundTrip(t, conn, `{"jsonrpc":"2.0","id":1,"method":"eth_chainId","params":[]}`)
	assert.Nil(t, msg.Error)
	assert.JSONEq(t, `"0x539"`, string(msg.Result))

	msg = roundTrip(t, conn, `{"jsonrpc":"2.0","id":2,"method":"eth_subscribe","params":[]}`)
	require.NotNil(t, msg.Error)
	assert.Equal(t, rpc.CodeInvalidParams, msg.Error.Code)

	msg = roundTrip(t, conn, `{"jsonrpc":"2.0","id":3,"method":"eth_subscribe","params":["pendingBlocks"]}`)
	require.NotNil(t, msg.Error)
	assert.Contains(t, msg.Error.Message, "unsupported subscription type")
}

func TestWebSocketNewHeads(t *testing.T) {
	conn := dial(t, newTestServer(t))

	msg := roundTrip(t, conn, `{"jsonrpc":"2.0","id":1,"method":"eth_subscribe","params":["newHeads"]}`)
	require.Nil(t, msg.Error)
	var id string
	require.NoError(t, json.Unmarshal(msg.Result, &id))
	require.NotEmpty(t, id)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":2,"method":"evm_mine","params":[]}`)))

	var gotResponse, gotHead bool
	for !(gotResponse && gotHead) {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg message
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg.Method {
		case "eth_subscription":
			assert.Equal(t, id, msg.Params.Subscription)
			assert.Equal(t, "0x1", msg.Params.Result["number"])
			gotHead = true
		default:
			assert.JSONEq(t, `2`, string(msg.ID))
			assert.JSONEq(t, `"0x0"`, string(msg.Result))
			gotResponse = true
		}
	}

	msg = roundTrip(t, conn, `{"jsonrpc":"2.0","id":3,"method":"eth_unsubscribe","params":["`+id+`"]}`)
	assert.JSONEq(t, `true`, string(msg.Result))
	msg = roundTrip(t, conn, `{"jsonrpc":"2.0","id":4,"method":"eth_unsubscribe","params":["`+id+`"]}`)
	assert.JSONEq(t, `false`, string(msg.Result))
}
