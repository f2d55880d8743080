// Package dashboard 提供引擎观测面板 HTTP 服务。
//
// 只读视图走引擎的只读快照接口, 历史数据走 store; 写操作 (提交/中断/回复)
// 全部转发给引擎, dashboard 自身不持有任何会话状态。
package dashboard

import (
	"github.com/gin-gonic/gin"

	"github.com/agentdeck/go-deck-v2/internal/bus"
	"github.com/agentdeck/go-deck-v2/internal/engine"
	"github.com/agentdeck/go-deck-v2/internal/store"
)

// EngineAPI dashboard 需要的引擎操作面 (测试可注入假实现)。
type EngineAPI interface {
	SubmitIntent(text, cwd string) (string, error)
	ResumeSession(id, text string) error
	SwitchToSession(id string) error
	InterruptSession(id string) error
	DeleteSession(id string) error
	ReplyToPrompt(id string, answers []string, decision string) error
	ResetUsage()
	Sessions() []engine.SessionView
	Messages(id string) ([]engine.ConversationMessage, error)
	Usage() engine.UsageTotals
	SessionUsage(id string) engine.UsageTotals
}

// Stores 聚合 store 依赖。无数据库运行模式下为 nil, 历史类接口返回 404。
type Stores struct {
	Session  *store.SessionStore
	EventLog *store.EventLogStore
	Usage    *store.UsageStore
}

// Server 面板 HTTP 服务。
type Server struct {
	router *gin.Engine
	engine EngineAPI
	stores *Stores
	bus    *bus.MessageBus
}

// NewServer 创建。stores 可为 nil。
func NewServer(eng EngineAPI, stores *Stores, mbus *bus.MessageBus) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{router: r, engine: eng, stores: stores, bus: mbus}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎 (测试与启动入口使用)。
func (s *Server) Engine() *gin.Engine { return s.router }

// Run 监听 addr。阻塞直到监听失败。
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
