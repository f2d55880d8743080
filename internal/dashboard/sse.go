// sse.go — 引擎消息总线到浏览器的 SSE 桥。
package dashboard

import (
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentdeck/go-deck-v2/internal/bus"
	"github.com/agentdeck/go-deck-v2/pkg/logger"
)

// sseHandler 订阅消息总线并以 SSE 推送。topic query 参数指定过滤
// (默认 "*" 全量; "session.{id}" 只看单会话)。
func (s *Server) sseHandler(c *gin.Context) {
	filter := c.DefaultQuery("topic", bus.TopicAll)
	clientID := fmt.Sprintf("sse-%d", time.Now().UnixNano())
	sub := s.bus.Subscribe(clientID, filter)
	defer func() {
		s.bus.Unsubscribe(clientID)
		logger.Info("dashboard: SSE client disconnected", "client_id", clientID)
	}()

	logger.Info("dashboard: SSE client connected",
		"client_id", clientID,
		logger.FieldTopic, filter,
	)

	c.Stream(func(w io.Writer) bool {
		// 复用 timer 避免每次循环创建新定时器
		keepalive := time.NewTimer(30 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case msg, ok := <-sub.Ch:
				if !ok {
					return false
				}
				c.SSEvent(msg.Type, msg)
				if !keepalive.Stop() {
					select {
					case <-keepalive.C:
					default:
					}
				}
				keepalive.Reset(30 * time.Second)
				return true
			case <-keepalive.C:
				c.SSEvent("ping", "keepalive")
				keepalive.Reset(30 * time.Second)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		}
	})
}
