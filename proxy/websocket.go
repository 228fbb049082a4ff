package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/airchains-network/simnode/rpc"
	"github.com/airchains-network/simnode/types"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	maxMessageSize = 512 * 1024
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBuffer     = 256
	notifyBuffer   = 16
)

var errClientClosed = errors.New("connection closed")

// Hub tracks the connected WebSocket clients.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	stopOnce   sync.Once
	log        *logrus.Logger
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		log:        log,
	}
}

// Run serves registrations until Stop, then disconnects every client.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.log.Infof("New WebSocket client connected. Total clients: %d", len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				h.log.Infof("WebSocket client disconnected. Total clients: %d", len(h.clients))
			}
		case <-h.quit:
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			return
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// Client is one WebSocket connection and its subscriptions.
type Client struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	closed        bool
	subscriptions map[gethrpc.ID]event.Subscription
}

// handleWebSocket processes WebSocket connections
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Errorf("Failed to upgrade connection to WebSocket: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		server:        s,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		ctx:           ctx,
		cancel:        cancel,
		subscriptions: make(map[gethrpc.ID]event.Subscription),
	}
	select {
	case s.hub.register <- client:
	case <-s.hub.quit:
		cancel()
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// close ends every subscription and stops the write pump.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	subs := make([]event.Subscription, 0, len(c.subscriptions))
	for id, sub := range c.subscriptions {
		subs = append(subs, sub)
		delete(c.subscriptions, id)
	}
	close(c.send)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// queue hands msg to the write pump, dropping it if the client lags.
func (c *Client) queue(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.server.log.Warnf("Dropping WebSocket message: client send buffer full")
	}
}

// readPump pumps messages from the WebSocket connection to the dispatcher
func (c *Client) readPump() {
	hub := c.server.hub
	defer func() {
		select {
		case hub.unregister <- c:
		case <-hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.log.Errorf("WebSocket read error: %v", err)
			}
			return
		}

		resp := c.server.handleMessage(c.ctx, message, c.call)
		out, err := json.Marshal(resp)
		if err != nil {
			c.server.log.Errorf("Failed to marshal WebSocket response: %v", err)
			continue
		}
		c.queue(out)
	}
}

// writePump pumps messages from the client to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// call serves subscriptions on the connection and everything else through
// the dispatcher.
func (c *Client) call(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "eth_subscribe", "eth_unsubscribe":
	default:
		return c.server.call(ctx, req)
	}

	var (
		result interface{}
		err    = rpc.CheckArity(req.Method, req.Params)
	)
	if err == nil {
		if req.Method == "eth_subscribe" {
			result, err = c.subscribe(ctx, req.Params)
		} else {
			result, err = c.unsubscribe(req.Params)
		}
	}
	c.server.metrics.ObserveRequest(req.Method, err)
	return newResponse(req.ID, result, err)
}

func (c *Client) subscribe(ctx context.Context, params []json.RawMessage) (gethrpc.ID, error) {
	var kind string
	if err := json.Unmarshal(params[0], &kind); err != nil {
		return "", &types.ValidationError{Op: "eth_subscribe", Msg: fmt.Sprintf("invalid subscription type: %v", err)}
	}

	id := gethrpc.NewID()
	var (
		sub  event.Subscription
		pump func()
		err  error
	)
	switch kind {
	case "newHeads":
		heads := make(chan *ethtypes.Header, notifyBuffer)
		sub, err = c.server.engine.SubscribeNewHeads(ctx, heads)
		pump = func() {
			for {
				select {
				case head := <-heads:
					c.notify(id, rpc.MarshalHeader(head))
				case <-sub.Err():
					return
				}
			}
		}
	case "logs":
		var crit rpc.FilterArgs
		if len(params) > 1 {
			if err := json.Unmarshal(params[1], &crit); err != nil {
				return "", &types.ValidationError{Op: "eth_subscribe", Msg: fmt.Sprintf("invalid filter: %v", err)}
			}
		}
		logs := make(chan []*ethtypes.Log, notifyBuffer)
		sub, err = c.server.engine.SubscribeLogs(ctx, crit.Query(), logs)
		pump = func() {
			for {
				select {
				case batch := <-logs:
					for _, log := range batch {
						c.notify(id, log)
					}
				case <-sub.Err():
					return
				}
			}
		}
	default:
		return "", &types.ValidationError{Op: "eth_subscribe", Msg: fmt.Sprintf("unsupported subscription type %q", kind)}
	}
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		sub.Unsubscribe()
		return "", errClientClosed
	}
	c.subscriptions[id] = sub
	go pump()
	return id, nil
}

func (c *Client) unsubscribe(params []json.RawMessage) (bool, error) {
	var id gethrpc.ID
	if err := json.Unmarshal(params[0], &id); err != nil {
		return false, &types.ValidationError{Op: "eth_unsubscribe", Msg: fmt.Sprintf("invalid subscription id: %v", err)}
	}
	c.mu.Lock()
	sub, ok := c.subscriptions[id]
	delete(c.subscriptions, id)
	c.mu.Unlock()

	if ok {
		sub.Unsubscribe()
	}
	return ok, nil
}

type subscriptionResult struct {
	ID     gethrpc.ID  `json:"subscription"`
	Result interface{} `json:"result"`
}

type notification struct {
	Jsonrpc string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  subscriptionResult `json:"params"`
}

// notify sends an eth_subscription message for subscription id.
func (c *Client) notify(id gethrpc.ID, result interface{}) {
	msg, err := json.Marshal(notification{
		Jsonrpc: "2.0",
		Method:  "eth_subscription",
		Params:  subscriptionResult{ID: id, Result: result},
	})
	if err != nil {
		c.server.log.Errorf("Failed to marshal notification: %v", err)
		return
	}
	c.queue(msg)
}
