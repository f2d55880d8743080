// handler.go — 面板 REST API handlers。
package dashboard

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// registerRoutes 注册 API 路由。
func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/sessions", s.listSessions)
	api.POST("/sessions", s.submitSession)
	api.GET("/sessions/history", s.listSessionHistory)

	api.GET("/sessions/:id/messages", s.getMessages)
	api.GET("/sessions/:id/events", s.listSessionEvents)
	api.GET("/sessions/:id/usage", s.getSessionUsage)
	api.POST("/sessions/:id/resume", s.resumeSession)
	api.POST("/sessions/:id/interrupt", s.interruptSession)
	api.POST("/sessions/:id/switch", s.switchSession)
	api.POST("/sessions/:id/reply", s.replyToPrompt)
	api.DELETE("/sessions/:id", s.deleteSession)

	api.GET("/usage", s.getUsage)
	api.GET("/usage/persisted", s.getPersistedUsage)
	api.POST("/usage/reset", s.resetUsage)

	api.GET("/events", s.sseHandler)
}

func queryLimit(c *gin.Context, def int) int {
	v, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if v < 1 {
		return def
	}
	if v > 2000 {
		return 2000
	}
	return v
}

// ========================================
// 会话
// ========================================

func (s *Server) listSessions(c *gin.Context) {
	success(c, s.engine.Sessions())
}

func (s *Server) submitSession(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
		Cwd  string `json:"cwd"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if req.Text == "" {
		badRequest(c, "invalid_request", "text is required")
		return
	}
	id, err := s.engine.SubmitIntent(req.Text, req.Cwd)
	if err != nil {
		serverError(c, err)
		return
	}
	created(c, gin.H{"sessionId": id})
}

// listSessionHistory 持久化会话历史 (含快照), 支持状态过滤与关键词搜索。
func (s *Server) listSessionHistory(c *gin.Context) {
	if s.stores == nil || s.stores.Session == nil {
		notFound(c, "持久化未启用")
		return
	}
	items, err := s.stores.Session.List(c.Request.Context(),
		c.Query("status"), c.Query("keyword"), queryLimit(c, 100))
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, items)
}

// getMessages 会话消息缓冲。活跃会话直接读引擎; 不在内存中的
// 回退到持久化快照。
func (s *Server) getMessages(c *gin.Context) {
	id := c.Param("id")
	msgs, err := s.engine.Messages(id)
	if err == nil {
		success(c, msgs)
		return
	}

	if s.stores != nil && s.stores.Session != nil {
		rec, dbErr := s.stores.Session.Get(c.Request.Context(), id)
		if dbErr != nil {
			serverError(c, dbErr)
			return
		}
		if rec != nil {
			success(c, rec.Snapshot)
			return
		}
	}
	notFound(c, "会话不存在: "+id)
}

func (s *Server) listSessionEvents(c *gin.Context) {
	if s.stores == nil || s.stores.EventLog == nil {
		notFound(c, "持久化未启用")
		return
	}
	before, _ := strconv.ParseInt(c.DefaultQuery("before", "0"), 10, 64)
	items, err := s.stores.EventLog.ListBySession(c.Request.Context(),
		c.Param("id"), queryLimit(c, 100), before)
	if err != nil {
		serverError(c, err)
		return
	}
	total, err := s.stores.EventLog.CountBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"items": items, "total": total})
}

func (s *Server) resumeSession(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		badRequest(c, "invalid_request", "text is required")
		return
	}
	if err := s.engine.ResumeSession(c.Param("id"), req.Text); err != nil {
		respondOpError(c, err)
		return
	}
	success(c, nil)
}

func (s *Server) interruptSession(c *gin.Context) {
	if err := s.engine.InterruptSession(c.Param("id")); err != nil {
		respondOpError(c, err)
		return
	}
	success(c, nil)
}

func (s *Server) switchSession(c *gin.Context) {
	if err := s.engine.SwitchToSession(c.Param("id")); err != nil {
		respondOpError(c, err)
		return
	}
	success(c, nil)
}

func (s *Server) replyToPrompt(c *gin.Context) {
	var req struct {
		Answers  []string `json:"answers"`
		Decision string   `json:"decision"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if len(req.Answers) == 0 && req.Decision == "" {
		badRequest(c, "invalid_request", "answers or decision is required")
		return
	}
	if err := s.engine.ReplyToPrompt(c.Param("id"), req.Answers, req.Decision); err != nil {
		respondOpError(c, err)
		return
	}
	success(c, nil)
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.engine.DeleteSession(c.Param("id")); err != nil {
		respondOpError(c, err)
		return
	}
	success(c, nil)
}

// ========================================
// 用量
// ========================================

func (s *Server) getUsage(c *gin.Context) {
	success(c, s.engine.Usage())
}

func (s *Server) getSessionUsage(c *gin.Context) {
	success(c, s.engine.SessionUsage(c.Param("id")))
}

// getPersistedUsage 落库口径的累计 (跨重启; 可按 session 过滤)。
func (s *Server) getPersistedUsage(c *gin.Context) {
	if s.stores == nil || s.stores.Usage == nil {
		notFound(c, "持久化未启用")
		return
	}
	if sessionID := c.Query("session"); sessionID != "" {
		totals, err := s.stores.Usage.TotalsBySession(c.Request.Context(), sessionID)
		if err != nil {
			serverError(c, err)
			return
		}
		success(c, totals)
		return
	}
	totals, err := s.stores.Usage.TotalsAll(c.Request.Context())
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, totals)
}

func (s *Server) resetUsage(c *gin.Context) {
	s.engine.ResetUsage()
	success(c, nil)
}
