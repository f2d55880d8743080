// Package engine 实现会话事件处理引擎。
//
// 并发模型: 单一 sequencer goroutine 独占 registry / BindQueue / 全部消息缓冲,
// 事件、用户操作、定时 tick 都经 tasks 通道进入, 逐个处理 — 不需要任何
// per-buffer 锁。持久层是唯一被多个逻辑角色触碰的资源, 写入为幂等整体覆盖。
package engine

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agentdeck/go-deck-v2/internal/agentproc"
	"github.com/agentdeck/go-deck-v2/internal/bus"
	"github.com/agentdeck/go-deck-v2/internal/config"
	apperrors "github.com/agentdeck/go-deck-v2/pkg/errors"
	"github.com/agentdeck/go-deck-v2/pkg/logger"
	"github.com/agentdeck/go-deck-v2/pkg/util"
)

// AgentClient 引擎对 agent 子进程的回调面。agentproc.Client 的子集接口,
// 便于测试注入假客户端。
type AgentClient interface {
	Submit(text, cwd string) error
	Resume(sessionID, text, cwd string) error
	Interrupt() error
	ReplyToQuestion(requestID string, answers []string) error
	ReplyToPermission(requestID, decision string) error
	SetSessionID(sessionID *string) error
}

// Persistence 持久化出口。失败只记日志不阻断内存态运行 (由实现保证)。
type Persistence interface {
	LoadSessions(limit int) ([]*Session, error)
	CreateSession(s *Session) error
	BindAgentSession(id, agentSID string) error
	UpdateMeta(id, model, agentName string) error
	UpdateStatus(id string, status SessionStatus, errMsg string) error
	SaveSnapshot(id string, snapshot []byte, lastEventAt time.Time) error
	AppendEvent(id, kind string, payload []byte) error
	RecordUsage(sessionID, messageID, model string, u agentproc.Usage) error
	DeleteSession(id string) error
}

// Engine 会话事件处理引擎。
type Engine struct {
	cfg     *config.Config
	client  AgentClient
	persist Persistence
	bus     *bus.MessageBus

	registry  *SessionRegistry
	queue     *BindQueue
	router    *EventRouter
	messages  *MessageStore
	usage     *UsageDeduplicator
	transient *TransientState
	processor *UnifiedEventProcessor
	scheduler *SnapshotScheduler
	watchdog  *Watchdog

	tasks   chan func()
	stop    chan struct{}
	stopped atomic.Bool
}

// New 组装引擎。所有协作者显式注入, 无进程级全局状态。
func New(cfg *config.Config, client AgentClient, persist Persistence, mbus *bus.MessageBus) *Engine {
	if persist == nil {
		persist = NopPersistence{}
	}
	e := &Engine{
		cfg:       cfg,
		client:    client,
		persist:   persist,
		bus:       mbus,
		registry:  NewSessionRegistry(),
		queue:     NewBindQueue(cfg.BindQueueCap),
		messages:  NewMessageStore(),
		usage:     NewUsageDeduplicator(),
		transient: NewTransientState(time.Duration(cfg.ReasoningHoldSec) * time.Second),
		watchdog:  NewWatchdog(time.Duration(cfg.WatchdogQuietSec) * time.Second),
		tasks:     make(chan func(), cfg.EventChanCapacity),
		stop:      make(chan struct{}),
	}
	e.router = NewEventRouter(e.registry, e.queue)
	e.processor = NewUnifiedEventProcessor(e.messages, e.usage, e.transient, e)
	e.scheduler = NewSnapshotScheduler(
		time.Duration(cfg.SnapshotPeriodSec)*time.Second,
		func() { e.post(e.snapshotRunning) },
	)
	return e
}

// Start 启动 sequencer 与周期 tick。
func (e *Engine) Start() {
	util.SafeGo("engine.sequencer", e.run)
	util.SafeGo("engine.housekeeping", e.housekeeping)
	logger.Infow("engine started",
		logger.FieldComponent, "engine",
		logger.FieldCount, e.cfg.BindQueueCap,
	)
}

// Shutdown 停止引擎。进行中的任务处理完后退出。
func (e *Engine) Shutdown() {
	if e.stopped.Swap(true) {
		return
	}
	close(e.stop)
	e.scheduler.Stop()
}

func (e *Engine) run() {
	for {
		select {
		case task := <-e.tasks:
			task()
		case <-e.stop:
			return
		}
	}
}

// housekeeping 周期投递 bind 清扫 / watchdog 检查 / 瞬态消隐 tick。
func (e *Engine) housekeeping() {
	sweep := time.NewTicker(time.Duration(e.cfg.BindSweepSec) * time.Second)
	watch := time.NewTicker(time.Duration(e.cfg.WatchdogTickSec) * time.Second)
	fade := time.NewTicker(time.Second)
	defer sweep.Stop()
	defer watch.Stop()
	defer fade.Stop()

	for {
		select {
		case <-sweep.C:
			e.post(e.sweepBindQueue)
		case <-watch.C:
			e.post(e.checkWatchdog)
		case <-fade.C:
			e.post(e.tickTransient)
		case <-e.stop:
			return
		}
	}
}

// post 投递任务到 sequencer。引擎已停止时丢弃。
func (e *Engine) post(task func()) {
	select {
	case e.tasks <- task:
	case <-e.stop:
	}
}

// call 投递并等待完成 (用于需要返回值的操作)。
func (e *Engine) call(task func()) error {
	done := make(chan struct{})
	select {
	case e.tasks <- func() { task(); close(done) }:
	case <-e.stop:
		return apperrors.Wrap(apperrors.ErrSessionClosed, "Engine.call", "engine stopped")
	}
	select {
	case <-done:
		return nil
	case <-e.stop:
		return apperrors.Wrap(apperrors.ErrSessionClosed, "Engine.call", "engine stopped")
	}
}

// Restore 启动时从持久层恢复历史会话 (崩溃恢复)。
// 崩溃时仍处于 running 的会话恢复为 interrupted, 避免幽灵 running 状态。
func (e *Engine) Restore() {
	sessions, err := e.persist.LoadSessions(200)
	if err != nil {
		logger.Warn("engine: session restore failed", logger.FieldError, err)
		return
	}
	if len(sessions) == 0 {
		return
	}
	e.post(func() {
		restored := 0
		for _, s := range sessions {
			if e.registry.ByLocal(s.ID) != nil {
				continue
			}
			if !s.Status.IsTerminal() {
				s.Status = SessionInterrupted
				if err := e.persist.UpdateStatus(s.ID, s.Status, "engine restarted"); err != nil {
					logger.Warn("engine: restore status persist failed",
						logger.FieldSessionID, s.ID, logger.FieldError, err)
				}
			}
			e.registry.Add(s)
			restored++
		}
		logger.Infow("engine: sessions restored", logger.FieldCount, restored)
	})
}

// ========================================
// 事件入口
// ========================================

// HandleEvent agent 事件入口 (由 agentproc 读循环调用, 立即返回)。
func (e *Engine) HandleEvent(ev agentproc.Event) {
	e.post(func() { e.handleEvent(ev) })
}

func (e *Engine) handleEvent(ev agentproc.Event) {
	s := e.router.Route(ev)
	if s == nil {
		return
	}
	e.logRawEvent(s, ev)
	e.processor.Process(s, ev, e.registry.IsForeground(s))
}

// logRawEvent 原始事件进 append-only 日志 (回放/审计), 超大 payload 截断。
func (e *Engine) logRawEvent(s *Session, ev agentproc.Event) {
	payload := []byte(ev.Raw)
	if max := e.cfg.EventLogMaxPayload; max > 0 && len(payload) > max {
		truncated := map[string]any{"truncated": true, "bytes": len(payload), "kind": ev.Kind}
		payload, _ = json.Marshal(truncated)
	}
	if err := e.persist.AppendEvent(s.ID, ev.Kind, payload); err != nil {
		logger.Warn("engine: event log append failed",
			logger.FieldSessionID, s.ID,
			logger.FieldError, err,
		)
	}
}

// ========================================
// 用户操作
// ========================================

// SubmitIntent 提交新意图: 建会话 → 入 BindQueue → 通知 agent。
// 返回本地会话 ID。
func (e *Engine) SubmitIntent(text, cwd string) (string, error) {
	return e.submit(text, cwd, "")
}

// SubmitRemote 远端命令发起的提交, 终态时回报 commandID 对应结果。
func (e *Engine) SubmitRemote(commandID, text, cwd string) (string, error) {
	return e.submit(text, cwd, commandID)
}

func (e *Engine) submit(text, cwd, remoteCommandID string) (string, error) {
	var sessionID string
	var submitErr error

	err := e.call(func() {
		s := &Session{
			ID:              uuid.NewString(),
			Title:           util.CompactOneLine(text, 80),
			Cwd:             cwd,
			Status:          SessionRunning,
			RemoteCommandID: remoteCommandID,
			CreatedAt:       time.Now(),
		}
		s.Buffer = e.messages.Merge(s.Buffer, ConversationMessage{
			Type:    MessageUser,
			Content: text,
		})

		e.registry.Add(s)
		if evicted := e.queue.Push(s, time.Now()); evicted != nil {
			e.failOrphan(evicted, "bind queue overflow")
		}
		e.registry.MarkRunning(s.ID)
		if e.registry.Foreground() == nil {
			e.registry.SetForeground(s.ID)
		}
		e.scheduler.Start()

		if err := e.persist.CreateSession(s); err != nil {
			logger.Warn("engine: create session persist failed",
				logger.FieldSessionID, s.ID, logger.FieldError, err)
		}
		e.publishSession(s, bus.MsgSessionCreated)
		e.BufferChanged(s)

		if err := e.client.Submit(text, cwd); err != nil {
			submitErr = err
			e.processor.Transition(s, SessionFailed, err.Error(), e.registry.IsForeground(s))
			e.queue.Remove(s.ID)
			return
		}
		sessionID = s.ID
	})
	if err != nil {
		return "", err
	}
	if submitErr != nil {
		return "", apperrors.Wrap(submitErr, "Engine.SubmitIntent", "agent submit")
	}
	return sessionID, nil
}

// ResumeSession 在已绑定的会话上继续对话。
func (e *Engine) ResumeSession(id, text string) error {
	var opErr error
	err := e.call(func() {
		s := e.registry.ByLocal(id)
		if s == nil {
			opErr = apperrors.Wrapf(apperrors.ErrNotFound, "Engine.ResumeSession", "session %s", id)
			return
		}
		if s.AgentSessionID == "" {
			opErr = apperrors.New("Engine.ResumeSession", "session not bound yet")
			return
		}

		e.processor.ClearInterrupted(s)
		s.Status = SessionRunning
		s.touch(time.Now())
		e.registry.MarkRunning(s.ID)
		e.scheduler.Start()

		s.Buffer = e.messages.Merge(s.Buffer, ConversationMessage{
			Type:    MessageUser,
			Content: text,
		})
		e.BufferChanged(s)
		e.StatusChanged(s, "")

		if err := e.client.Resume(s.AgentSessionID, text, s.Cwd); err != nil {
			opErr = apperrors.Wrap(err, "Engine.ResumeSession", "agent resume")
			e.processor.Transition(s, SessionFailed, err.Error(), e.registry.IsForeground(s))
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// SwitchToSession 切换前台会话。
func (e *Engine) SwitchToSession(id string) error {
	var opErr error
	err := e.call(func() {
		s := e.registry.ByLocal(id)
		if s == nil {
			opErr = apperrors.Wrapf(apperrors.ErrNotFound, "Engine.SwitchToSession", "session %s", id)
			return
		}
		e.transient.Clear("")
		e.registry.SetForeground(id)
		e.TransientChanged(s)
	})
	if err != nil {
		return err
	}
	return opErr
}

// InterruptSession 用户中断。会话转 interrupted, 通知 agent 停止,
// 本回合后续事件只记日志。
func (e *Engine) InterruptSession(id string) error {
	var opErr error
	err := e.call(func() {
		s := e.registry.ByLocal(id)
		if s == nil {
			opErr = apperrors.Wrapf(apperrors.ErrNotFound, "Engine.InterruptSession", "session %s", id)
			return
		}
		e.queue.Remove(s.ID)
		e.processor.Interrupt(s, e.registry.IsForeground(s))
		if err := e.client.Interrupt(); err != nil {
			logger.Warn("engine: agent interrupt failed",
				logger.FieldSessionID, id, logger.FieldError, err)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// DeleteSession 显式删除会话 (唯一的会话销毁途径)。
func (e *Engine) DeleteSession(id string) error {
	var opErr error
	err := e.call(func() {
		s := e.registry.ByLocal(id)
		if s == nil {
			opErr = apperrors.Wrapf(apperrors.ErrNotFound, "Engine.DeleteSession", "session %s", id)
			return
		}
		e.queue.Remove(id)
		e.registry.Remove(id)
		if e.registry.RunningCount() == 0 {
			e.scheduler.Stop()
		}
		if err := e.persist.DeleteSession(id); err != nil {
			logger.Warn("engine: delete session persist failed",
				logger.FieldSessionID, id, logger.FieldError, err)
		}
		e.publishSession(s, bus.MsgSessionRemoved)
	})
	if err != nil {
		return err
	}
	return opErr
}

// ReplyToPrompt 回复挂起的 question/permission 请求。
// answers 用于 question, decision 用于 permission。
func (e *Engine) ReplyToPrompt(id string, answers []string, decision string) error {
	var opErr error
	err := e.call(func() {
		s := e.registry.ByLocal(id)
		if s == nil {
			opErr = apperrors.Wrapf(apperrors.ErrNotFound, "Engine.ReplyToPrompt", "session %s", id)
			return
		}
		response := decision
		if len(answers) > 0 {
			response = util.FirstNonEmpty(answers...)
		}
		req := e.processor.ResolvePrompt(s, response)
		if req == nil {
			opErr = apperrors.New("Engine.ReplyToPrompt", "no pending prompt")
			return
		}
		var err error
		if req.Kind == "permission" {
			err = e.client.ReplyToPermission(req.RequestID, decision)
		} else {
			err = e.client.ReplyToQuestion(req.RequestID, answers)
		}
		if err != nil {
			opErr = apperrors.Wrap(err, "Engine.ReplyToPrompt", "agent reply")
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// ResetUsage 显式清空用量累计与去重集合。
func (e *Engine) ResetUsage() {
	e.post(func() { e.usage.Reset() })
}

// ========================================
// 只读快照 (经 sequencer 拷贝, 调用方拿到的都是副本)
// ========================================

// SessionView 会话只读视图。
type SessionView struct {
	ID              string        `json:"id"`
	AgentSessionID  string        `json:"agentSessionId,omitempty"`
	Title           string        `json:"title"`
	Cwd             string        `json:"cwd"`
	Model           string        `json:"model,omitempty"`
	AgentName       string        `json:"agentName,omitempty"`
	Status          SessionStatus `json:"status"`
	RemoteCommandID string        `json:"remoteCommandId,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	LastEventAt     time.Time     `json:"lastEventAt,omitempty"`
	Foreground      bool          `json:"foreground"`
}

func (e *Engine) viewOf(s *Session) SessionView {
	return SessionView{
		ID:              s.ID,
		AgentSessionID:  s.AgentSessionID,
		Title:           s.Title,
		Cwd:             s.Cwd,
		Model:           s.Model,
		AgentName:       s.AgentName,
		Status:          s.Status,
		RemoteCommandID: s.RemoteCommandID,
		CreatedAt:       s.CreatedAt,
		LastEventAt:     s.LastEventAt,
		Foreground:      e.registry.IsForeground(s),
	}
}

// Sessions 返回全部会话视图。
func (e *Engine) Sessions() []SessionView {
	var out []SessionView
	_ = e.call(func() {
		for _, s := range e.registry.All() {
			out = append(out, e.viewOf(s))
		}
	})
	return out
}

// Messages 返回会话消息缓冲的副本。
func (e *Engine) Messages(id string) ([]ConversationMessage, error) {
	var out []ConversationMessage
	var opErr error
	err := e.call(func() {
		s := e.registry.ByLocal(id)
		if s == nil {
			opErr = apperrors.Wrapf(apperrors.ErrNotFound, "Engine.Messages", "session %s", id)
			return
		}
		out = append([]ConversationMessage{}, s.Buffer...)
	})
	if err != nil {
		return nil, err
	}
	return out, opErr
}

// Transient 返回前台瞬态状态副本。
func (e *Engine) Transient() TransientState {
	var out TransientState
	_ = e.call(func() { out = *e.transient })
	return out
}

// Usage 返回全局用量累计。
func (e *Engine) Usage() UsageTotals {
	var out UsageTotals
	_ = e.call(func() { out = e.usage.Totals() })
	return out
}

// SessionUsage 返回单会话用量累计。
func (e *Engine) SessionUsage(id string) UsageTotals {
	var out UsageTotals
	_ = e.call(func() { out = e.usage.SessionTotals(id) })
	return out
}

// ========================================
// 周期任务 (sequencer 上执行)
// ========================================

// sweepBindQueue 清理排队超时的未绑定会话。
func (e *Engine) sweepBindQueue() {
	timeout := time.Duration(e.cfg.BindTimeoutSec) * time.Second
	for _, s := range e.queue.SweepExpired(time.Now(), timeout) {
		e.failOrphan(s, "bind timeout")
	}
}

// failOrphan 孤儿会话 (溢出挤出 / 绑定超时) 判定失败。
func (e *Engine) failOrphan(s *Session, reason string) {
	logger.Warn("engine: orphaned session failed",
		logger.FieldSessionID, s.ID,
		logger.FieldStatus, reason,
	)
	e.processor.Transition(s, SessionFailed, reason, e.registry.IsForeground(s))
}

// checkWatchdog 静默看门狗: 超时只告警不判失败。
func (e *Engine) checkWatchdog() {
	for _, s := range e.watchdog.Check(e.registry.RunningSessions(), time.Now()) {
		logger.Warn("engine: session quiet too long",
			logger.FieldSessionID, s.ID,
			logger.FieldDurationMS, time.Since(s.LastEventAt).Milliseconds(),
		)
		e.Alert(s, "watchdog", "长时间无响应, agent 可能仍在工作")
	}
}

// tickTransient 思考文本消隐检查。
func (e *Engine) tickTransient() {
	if e.transient.Tick(time.Now()) {
		if s := e.registry.ByLocal(e.transient.SessionID); s != nil {
			e.TransientChanged(s)
		}
	}
}

// snapshotRunning 周期快照: 全部运行中缓冲整体落库。
func (e *Engine) snapshotRunning() {
	for _, s := range e.registry.RunningSessions() {
		e.PersistSnapshot(s)
	}
}

// ========================================
// ProcessorSink 实现
// ========================================

// BufferChanged 发布整个缓冲副本。
func (e *Engine) BufferChanged(s *Session) {
	payload, err := json.Marshal(s.Buffer)
	if err != nil {
		return
	}
	e.bus.Publish(bus.Message{
		Topic:     bus.SessionTopic(s.ID, "messages"),
		SessionID: s.ID,
		Type:      bus.MsgMessagesChanged,
		Payload:   payload,
	})
}

// StatusChanged 持久化并发布状态变化。
func (e *Engine) StatusChanged(s *Session, errText string) {
	if err := e.persist.UpdateStatus(s.ID, s.Status, errText); err != nil {
		logger.Warn("engine: status persist failed",
			logger.FieldSessionID, s.ID, logger.FieldError, err)
	}
	payload, _ := json.Marshal(e.viewOf(s))
	e.bus.Publish(bus.Message{
		Topic:     bus.SessionTopic(s.ID, "status"),
		SessionID: s.ID,
		Type:      bus.MsgStatusChanged,
		Payload:   payload,
	})
}

// TransientChanged 发布瞬态状态。
func (e *Engine) TransientChanged(s *Session) {
	payload, _ := json.Marshal(e.transient)
	e.bus.Publish(bus.Message{
		Topic:     bus.SessionTopic(s.ID, "transient"),
		SessionID: s.ID,
		Type:      bus.MsgTransientChanged,
		Payload:   payload,
	})
}

// Alert 发布会话级告警。
func (e *Engine) Alert(s *Session, level, text string) {
	payload, _ := json.Marshal(map[string]string{"level": level, "text": text})
	e.bus.Publish(bus.Message{
		Topic:     bus.SessionTopic(s.ID, "alert"),
		SessionID: s.ID,
		Type:      bus.MsgAlert,
		Payload:   payload,
	})
}

// PromptRequested 发布挂起的提示请求。
func (e *Engine) PromptRequested(s *Session, req PromptRequest) {
	payload, _ := json.Marshal(req)
	e.bus.Publish(bus.Message{
		Topic:     bus.SessionTopic(s.ID, "alert"),
		SessionID: s.ID,
		Type:      bus.MsgPromptRequest,
		Payload:   payload,
	})
}

// SessionBound 持久化绑定与补充元信息。
func (e *Engine) SessionBound(s *Session) {
	if err := e.persist.BindAgentSession(s.ID, s.AgentSessionID); err != nil {
		logger.Warn("engine: bind persist failed",
			logger.FieldSessionID, s.ID, logger.FieldError, err)
	}
	if s.Model != "" || s.AgentName != "" {
		if err := e.persist.UpdateMeta(s.ID, s.Model, s.AgentName); err != nil {
			logger.Warn("engine: meta persist failed",
				logger.FieldSessionID, s.ID, logger.FieldError, err)
		}
	}
	e.publishSession(s, bus.MsgStatusChanged)
}

// RecordUsage 落库首次观察到的用量并发布累计。
func (e *Engine) RecordUsage(s *Session, ev agentproc.Event) {
	if err := e.persist.RecordUsage(s.ID, ev.MessageID, ev.Model, *ev.Usage); err != nil {
		logger.Warn("engine: usage persist failed",
			logger.FieldSessionID, s.ID, logger.FieldError, err)
	}
	payload, _ := json.Marshal(e.usage.SessionTotals(s.ID))
	e.bus.Publish(bus.Message{
		Topic:     bus.TopicEngine + ".usage",
		SessionID: s.ID,
		Type:      bus.MsgUsageUpdate,
		Payload:   payload,
	})
}

// PersistSnapshot 同步整体落库缓冲快照。失败记日志, 不阻断内存态。
func (e *Engine) PersistSnapshot(s *Session) {
	snapshot, err := EncodeBuffer(s.Buffer)
	if err != nil {
		logger.Error("engine: snapshot encode failed",
			logger.FieldSessionID, s.ID, logger.FieldError, err)
		return
	}
	if err := e.persist.SaveSnapshot(s.ID, snapshot, s.LastEventAt); err != nil {
		logger.Warn("engine: snapshot persist failed",
			logger.FieldSessionID, s.ID, logger.FieldError, err)
	}
}

// SessionFinished 终态收尾: 移出 running 集合, 必要时停快照调度器,
// 远端命令回报结果。
func (e *Engine) SessionFinished(s *Session) {
	e.registry.UnmarkRunning(s.ID)
	e.queue.Remove(s.ID)
	if e.registry.RunningCount() == 0 {
		e.scheduler.Stop()
	}
	if s.RemoteCommandID != "" {
		payload, _ := json.Marshal(map[string]string{
			"commandId": s.RemoteCommandID,
			"sessionId": s.ID,
			"status":    string(s.Status),
		})
		e.bus.Publish(bus.Message{
			Topic:     bus.TopicEngine + ".commands",
			SessionID: s.ID,
			Type:      "command_result",
			Payload:   payload,
		})
	}
}

func (e *Engine) publishSession(s *Session, msgType string) {
	payload, _ := json.Marshal(e.viewOf(s))
	e.bus.Publish(bus.Message{
		Topic:     bus.TopicEngine + ".sessions",
		SessionID: s.ID,
		Type:      msgType,
		Payload:   payload,
	})
}

// ========================================
// NopPersistence — 无数据库运行模式
// ========================================

// NopPersistence 丢弃所有持久化写入 (无 DB 配置时引擎仍可全功能运行)。
type NopPersistence struct{}

func (NopPersistence) LoadSessions(int) ([]*Session, error)             { return nil, nil }
func (NopPersistence) CreateSession(*Session) error                     { return nil }
func (NopPersistence) BindAgentSession(string, string) error            { return nil }
func (NopPersistence) UpdateMeta(string, string, string) error          { return nil }
func (NopPersistence) UpdateStatus(string, SessionStatus, string) error { return nil }
func (NopPersistence) SaveSnapshot(string, []byte, time.Time) error     { return nil }
func (NopPersistence) AppendEvent(string, string, []byte) error         { return nil }
func (NopPersistence) RecordUsage(string, string, string, agentproc.Usage) error {
	return nil
}
func (NopPersistence) DeleteSession(string) error { return nil }
