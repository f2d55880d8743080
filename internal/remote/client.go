// Package remote 远程命令同步通道。
//
// 作为 WebSocket 客户端连接远端同步服务, 接收 submit/resume/interrupt
// 命令转发给引擎, 会话到达终态时把结果回传给远端。URL 未配置时整个
// 通道禁用, 引擎不感知差别。
package remote

import (
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentdeck/go-deck-v2/internal/bus"
	"github.com/agentdeck/go-deck-v2/internal/config"
	"github.com/agentdeck/go-deck-v2/pkg/logger"
	"github.com/agentdeck/go-deck-v2/pkg/util"
)

const readIdleTimeout = 90 * time.Second

// Commander remote 需要的引擎操作面。
type Commander interface {
	SubmitRemote(commandID, text, cwd string) (string, error)
	ResumeSession(id, text string) error
	InterruptSession(id string) error
}

// Command 远端下发的命令。
type Command struct {
	Type      string `json:"type"` // "submit" | "resume" | "interrupt"
	CommandID string `json:"commandId"`
	SessionID string `json:"sessionId,omitempty"`
	Text      string `json:"text,omitempty"`
	Cwd       string `json:"cwd,omitempty"`
}

// Result 回传给远端的命令结果。
type Result struct {
	Type      string `json:"type"` // 固定 "result"
	CommandID string `json:"commandId"`
	SessionID string `json:"sessionId,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Client 远程命令通道客户端。
type Client struct {
	url           string
	engine        Commander
	bus           *bus.MessageBus
	reconnectBase time.Duration
	reconnectMax  time.Duration
	writeDeadline time.Duration

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex // gorilla 连接只允许单并发写
	stopped atomic.Bool
	stop    chan struct{}
}

// NewClient 创建。cfg.RemoteSyncURL 为空时 Start 为 no-op。
func NewClient(cfg *config.Config, eng Commander, mbus *bus.MessageBus) *Client {
	return &Client{
		url:           cfg.RemoteSyncURL,
		engine:        eng,
		bus:           mbus,
		reconnectBase: time.Duration(cfg.RemoteReconnectSec) * time.Second,
		reconnectMax:  time.Duration(cfg.RemoteReconnectMax) * time.Second,
		writeDeadline: time.Duration(cfg.RemoteWriteDeadlines) * time.Second,
		stop:          make(chan struct{}),
	}
}

// Start 启动连接维护与结果转发。
func (c *Client) Start() {
	if c.url == "" {
		logger.Info("remote: sync channel disabled (no url configured)")
		return
	}
	util.SafeGo("remote.connLoop", c.connLoop)
	util.SafeGo("remote.resultLoop", c.resultLoop)
	logger.Infow("remote: sync channel starting", logger.FieldURL, c.url)
}

// Shutdown 关闭通道。
func (c *Client) Shutdown() {
	if c.stopped.Swap(true) {
		return
	}
	close(c.stop)
	c.closeConn()
}

// ========================================
// 连接维护
// ========================================

// connLoop 维持连接: 断开后按指数退避重连, 上限 reconnectMax。
func (c *Client) connLoop() {
	attempt := 0
	for !c.stopped.Load() {
		conn, err := c.dial()
		if err != nil {
			attempt++
			delay := c.reconnectDelay(attempt)
			logger.Warn("remote: connect failed",
				logger.FieldURL, c.url,
				logger.FieldError, err,
				logger.FieldCount, attempt,
			)
			if !c.sleep(delay) {
				return
			}
			continue
		}

		attempt = 0
		c.setConn(conn)
		logger.Infow("remote: connected", logger.FieldURL, c.url)

		c.readPump(conn)
		c.closeConn()
		if c.stopped.Load() {
			return
		}
		if !c.sleep(c.reconnectDelay(1)) {
			return
		}
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
		NetDialContext:   (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
	}
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		return nil
	})
	return conn, nil
}

// reconnectDelay 指数退避: base, 2*base, 4*base ... 封顶 max。
func (c *Client) reconnectDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := c.reconnectBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.reconnectMax {
			return c.reconnectMax
		}
	}
	if delay > c.reconnectMax {
		return c.reconnectMax
	}
	return delay
}

func (c *Client) sleep(d time.Duration) bool {
	if d <= 0 {
		return !c.stopped.Load()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.stop:
		return false
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	prev := c.conn
	c.conn = conn
	c.connMu.Unlock()
	if prev != nil && prev != conn {
		_ = prev.Close()
	}
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// ========================================
// 命令接收
// ========================================

func (c *Client) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.stopped.Load() {
				logger.Warn("remote: read failed", logger.FieldError, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			logger.Warn("remote: malformed command dropped",
				logger.FieldRaw, util.CompactOneLine(string(data), 200),
				logger.FieldError, err,
			)
			continue
		}
		c.dispatch(cmd)
	}
}

// dispatch 执行远端命令。submit 的最终结果由引擎在会话终态时经
// 总线回报; resume/interrupt 立即回执。
func (c *Client) dispatch(cmd Command) {
	logger.Infow("remote: command received",
		logger.FieldCommandID, cmd.CommandID,
		logger.FieldEventType, cmd.Type,
	)

	switch cmd.Type {
	case "submit":
		sessionID, err := c.engine.SubmitRemote(cmd.CommandID, cmd.Text, cmd.Cwd)
		if err != nil {
			c.sendResult(Result{Type: "result", CommandID: cmd.CommandID, Status: "failed", Error: err.Error()})
			return
		}
		// 仅确认受理, 终态结果走 resultLoop
		c.sendResult(Result{Type: "result", CommandID: cmd.CommandID, SessionID: sessionID, Status: "accepted"})
	case "resume":
		if err := c.engine.ResumeSession(cmd.SessionID, cmd.Text); err != nil {
			c.sendResult(Result{Type: "result", CommandID: cmd.CommandID, SessionID: cmd.SessionID, Status: "failed", Error: err.Error()})
			return
		}
		c.sendResult(Result{Type: "result", CommandID: cmd.CommandID, SessionID: cmd.SessionID, Status: "accepted"})
	case "interrupt":
		if err := c.engine.InterruptSession(cmd.SessionID); err != nil {
			c.sendResult(Result{Type: "result", CommandID: cmd.CommandID, SessionID: cmd.SessionID, Status: "failed", Error: err.Error()})
			return
		}
		c.sendResult(Result{Type: "result", CommandID: cmd.CommandID, SessionID: cmd.SessionID, Status: "interrupted"})
	default:
		logger.Warn("remote: unknown command type",
			logger.FieldCommandID, cmd.CommandID,
			logger.FieldEventType, cmd.Type,
		)
	}
}

// ========================================
// 结果回传
// ========================================

// resultLoop 订阅引擎命令结果并回传远端。连接断开时结果丢弃
// (远端可按 commandId 查询补偿)。
func (c *Client) resultLoop() {
	sub := c.bus.Subscribe("remote-results", bus.TopicEngine+".commands")
	defer c.bus.Unsubscribe("remote-results")

	for {
		select {
		case msg, ok := <-sub.Ch:
			if !ok {
				return
			}
			var payload struct {
				CommandID string `json:"commandId"`
				SessionID string `json:"sessionId"`
				Status    string `json:"status"`
			}
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			c.sendResult(Result{
				Type:      "result",
				CommandID: payload.CommandID,
				SessionID: payload.SessionID,
				Status:    payload.Status,
			})
		case <-c.stop:
			return
		}
	}
}

func (c *Client) sendResult(res Result) {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		logger.Warn("remote: result dropped (not connected)",
			logger.FieldCommandID, res.CommandID,
			logger.FieldStatus, res.Status,
		)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.writeDeadline))
	if err := conn.WriteJSON(res); err != nil {
		logger.Warn("remote: result write failed",
			logger.FieldCommandID, res.CommandID,
			logger.FieldError, err,
		)
	}
}
