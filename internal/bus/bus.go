// Package bus 提供进程内消息总线。
//
// 引擎每次合并/状态变化后向 session.{id}.* topic 发布增量, dashboard SSE 与
// remote 同步通道各自订阅并转发, 互不阻塞 sequencer。
//
// 桥接:
//   - dashboard/sse.go — bus 消息自动转发到 SSE 客户端
//   - remote/sync.go   — bus 消息自动转发到远端 WebSocket
package bus

import (
	"encoding/json"
	"sync"
	"time"
)

// ========================================
// 消息类型
// ========================================

// Message 总线消息。
type Message struct {
	Topic     string          `json:"topic"` // session.{id}.messages / engine.usage
	SessionID string          `json:"sessionId,omitempty"`
	Type      string          `json:"type"`    // 消息类型 (messages_changed / status_changed / ...)
	Payload   json.RawMessage `json:"payload"` // 具体数据
	Timestamp time.Time       `json:"timestamp"`
	Seq       int64           `json:"seq"` // 全局序列号
}

// 消息类型常量。
const (
	// MsgMessagesChanged 会话消息缓冲变化 (payload 为整个缓冲或增量)。
	MsgMessagesChanged = "messages_changed"
	// MsgStatusChanged 会话状态变化。
	MsgStatusChanged = "status_changed"
	// MsgTransientChanged 瞬态区变化 (思考缓冲 / 当前工具)。
	MsgTransientChanged = "transient_changed"
	// MsgAlert 会话级告警 (watchdog / 错误事件)。
	MsgAlert = "alert"
	// MsgUsageUpdate 用量更新。
	MsgUsageUpdate = "usage_update"
	// MsgSessionCreated 新会话注册。
	MsgSessionCreated = "session_created"
	// MsgSessionRemoved 会话移除。
	MsgSessionRemoved = "session_removed"
	// MsgPromptRequest 等待用户回复的 question/permission 请求。
	MsgPromptRequest = "prompt_request"
)

// Topic 模式常量。
const (
	// TopicSessionPrefix 会话消息前缀: session.{id}.{subtopic}。
	TopicSessionPrefix = "session."
	// TopicEngine 引擎全局消息 (engine.usage / engine.sessions)。
	TopicEngine = "engine"
	// TopicAll 广播 (所有订阅者收到)。
	TopicAll = "*"
)

// SessionTopic 构造会话 topic: session.{id}.{subtopic}。
func SessionTopic(sessionID, subtopic string) string {
	return TopicSessionPrefix + sessionID + "." + subtopic
}

// ========================================
// Subscriber
// ========================================

// Subscriber 订阅者。
type Subscriber struct {
	ID     string       // 唯一标识
	Filter string       // topic 前缀过滤 ("session.s1" / "*" / "engine")
	Ch     chan Message // 消息通道
}

// ========================================
// MessageBus — topic pub/sub
// ========================================

// MessageBus 进程内消息总线。
//
// 支持 topic 前缀匹配和广播:
//   - 订阅 "session.s1" → 收到 session.s1.messages, session.s1.status 等
//   - 订阅 "*" → 收到所有消息
type MessageBus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber // key = subscriber ID
	seq         int64
	onPublish   func(Message) // 可选: 每条消息的全局回调 (用于桥接 SSE/远端)
}

// NewMessageBus 创建消息总线。
func NewMessageBus() *MessageBus {
	return &MessageBus{
		subscribers: make(map[string]*Subscriber),
	}
}

// SetOnPublish 设置全局发布回调。
func (b *MessageBus) SetOnPublish(fn func(Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = fn
}

// Publish 发布消息到匹配的订阅者。
//
// seq 递增和 fan-out 在同一把锁下执行, 保证消息到达顺序与 seq 一致。
func (b *MessageBus) Publish(msg Message) {
	b.mu.Lock()
	b.seq++
	msg.Seq = b.seq
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	onPub := b.onPublish

	for _, sub := range b.subscribers {
		if matchTopic(sub.Filter, msg.Topic) {
			select {
			case sub.Ch <- msg:
			default:
				// 通道满, 丢弃 (避免阻塞发布者)
			}
		}
	}
	b.mu.Unlock()

	// 全局回调在锁外执行 (回调可能耗时, 避免持锁太久)
	if onPub != nil {
		onPub(msg)
	}
}

// Subscribe 订阅消息。filter 为 topic 前缀 ("session.s1" / "*" / "engine")。
func (b *MessageBus) Subscribe(id, filter string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:     id,
		Filter: filter,
		Ch:     make(chan Message, 64),
	}
	b.subscribers[id] = sub
	return sub
}

// Unsubscribe 取消订阅。
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount 返回当前订阅者数量。
func (b *MessageBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Seq 返回当前序列号。
func (b *MessageBus) Seq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// ========================================
// Topic 匹配
// ========================================

// matchTopic 检查 topic 是否匹配 filter。
//
// 规则:
//   - filter "*" 匹配所有 topic
//   - filter "session.s1" 匹配 "session.s1", "session.s1.messages" 等
//   - filter "engine" 匹配 "engine", "engine.usage"
func matchTopic(filter, topic string) bool {
	if filter == TopicAll {
		return true
	}
	if topic == filter {
		return true
	}
	if len(topic) > len(filter) && topic[:len(filter)] == filter && topic[len(filter)] == '.' {
		return true
	}
	return false
}
