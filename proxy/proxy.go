package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/airchains-network/simnode/engine"
	"github.com/airchains-network/simnode/metrics"
	"github.com/airchains-network/simnode/rpc"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// Request is a JSON-RPC 2.0 request.
type Request struct {
	Jsonrpc string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error is set.
type Response struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpc.Error      `json:"error,omitempty"`
}

func errorResponse(id json.RawMessage, err *rpc.Error) *Response {
	return &Response{Jsonrpc: "2.0", ID: id, Error: err}
}

func newResponse(id json.RawMessage, result interface{}, err error) *Response {
	if err != nil {
		return errorResponse(id, rpc.ErrorOf(err))
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, &rpc.Error{Code: rpc.CodeServerError, Message: fmt.Sprintf("failed to encode result: %v", err)})
	}
	return &Response{Jsonrpc: "2.0", ID: id, Result: raw}
}

// Server serves the dispatcher over HTTP and WebSocket.
type Server struct {
	engine     *engine.Engine
	dispatcher *rpc.Dispatcher
	metrics    *metrics.Metrics
	log        *logrus.Logger
	hub        *Hub
	upgrader   websocket.Upgrader
}

// NewServer starts the WebSocket hub of a server for e. Close stops it.
func NewServer(e *engine.Engine, m *metrics.Metrics, log *logrus.Logger) *Server {
	s := &Server{
		engine:     e,
		dispatcher: rpc.NewDispatcher(e, m, log),
		metrics:    m,
		log:        log,
		hub:        NewHub(log),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	go s.hub.Run()
	return s
}

// Close disconnects every WebSocket client.
func (s *Server) Close() {
	s.hub.Stop()
}

func logger(prefix string) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("[%s] %s - %s %s %d\n",
				prefix,
				param.TimeStamp.Format("2006-01-02 15:04:05"),
				param.Method,
				param.Path,
				param.StatusCode,
			)
		},
	})
}

// RPCHandler answers JSON-RPC over HTTP POST and exposes /metrics.
func (s *Server) RPCHandler() http.Handler {
	router := gin.New()
	router.Use(logger("GIN"))
	router.Use(gin.Recovery())
	router.POST("/", s.handleRPC)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	return router
}

// WSHandler upgrades GET / to a JSON-RPC WebSocket session.
func (s *Server) WSHandler() http.Handler {
	router := gin.New()
	router.Use(logger("WS"))
	router.Use(gin.Recovery())
	router.GET("/", s.handleWebSocket)
	return router
}

// Start serves HTTP on rpcAddr and WebSocket on wsAddr until ctx is done.
func (s *Server) Start(ctx context.Context, rpcAddr, wsAddr string) error {
	gin.SetMode(gin.ReleaseMode)

	rpcServer := &http.Server{Addr: rpcAddr, Handler: s.RPCHandler()}
	wsServer := &http.Server{Addr: wsAddr, Handler: s.WSHandler()}

	go func() {
		s.log.Infof("Starting WebSocket server on %s", wsAddr)
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("WebSocket server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := wsServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("WebSocket server shutdown: %v", err)
		}
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("RPC server shutdown: %v", err)
		}
		s.Close()
	}()

	s.log.Infof("Starting RPC server on %s", rpcAddr)
	if err := rpcServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleRPC processes incoming RPC requests
func (s *Server) handleRPC(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		s.log.Errorf("Failed to read JSON-RPC request: %v", err)
		c.JSON(http.StatusBadRequest, errorResponse(nil, &rpc.Error{Code: rpc.CodeInvalidRequest, Message: "invalid request"}))
		return
	}
	c.JSON(http.StatusOK, s.handleMessage(c.Request.Context(), body, s.call))
}

func (s *Server) call(ctx context.Context, req *Request) *Response {
	result, err := s.dispatcher.Handle(ctx, req.Method, req.Params)
	return newResponse(req.ID, result, err)
}

// handleMessage answers a single request or a batch of them with call.
func (s *Server) handleMessage(ctx context.Context, body []byte, call func(context.Context, *Request) *Response) interface{} {
	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		return errorResponse(nil, &rpc.Error{Code: rpc.CodeParseError, Message: "parse error"})
	}
	if len(body) > 0 && body[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil || len(batch) == 0 {
			return errorResponse(nil, &rpc.Error{Code: rpc.CodeInvalidRequest, Message: "empty batch"})
		}
		responses := make([]*Response, len(batch))
		for i, raw := range batch {
			responses[i] = handleOne(ctx, raw, call)
		}
		return responses
	}
	return handleOne(ctx, body, call)
}

func handleOne(ctx context.Context, raw json.RawMessage, call func(context.Context, *Request) *Response) *Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil || req.Method == "" {
		return errorResponse(req.ID, &rpc.Error{Code: rpc.CodeInvalidRequest, Message: "invalid request"})
	}
	return call(ctx, &req)
}
