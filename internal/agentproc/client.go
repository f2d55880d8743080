// client.go — agent 子进程客户端 (stdin 命令 / stdout NDJSON 事件)。
//
// 生命周期: Spawn → (事件回调循环) → Submit/Resume/... → Shutdown
package agentproc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	apperrors "github.com/agentdeck/go-deck-v2/pkg/errors"
	"github.com/agentdeck/go-deck-v2/pkg/logger"
	"github.com/agentdeck/go-deck-v2/pkg/util"
)

// EventHandler 事件回调。在读循环 goroutine 上调用, 不得阻塞。
type EventHandler func(ev Event)

// ExitHandler 进程退出回调。
type ExitHandler func(err error)

// Client agent 子进程客户端。
//
// 所有写操作 (stdin) 由 writeMu 串行化; 读循环单 goroutine 持有 stdout。
type Client struct {
	ProcessID string // 进程标识, 用于日志关联

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	handler   EventHandler
	onExit    ExitHandler
	handlerMu sync.RWMutex
	writeMu   sync.Mutex
	stopped   atomic.Bool

	command    string
	scanBufKiB int
	spawnWait  time.Duration
	exited     chan struct{} // readLoop Wait() 完成后关闭
	ready      chan struct{} // 首个事件到达后关闭
	readyOnce  sync.Once

	stderrCollector *logger.StderrCollector
	stderrLimiter   *util.LimitedWriter
}

// stderrByteCap 限制收集的 stderr 总量, 超出后丢弃 (防止失控 agent 刷爆日志)。
const stderrByteCap = 1 << 20

// Option Client 构造选项。
type Option func(*Client)

// WithScanBuffer 设置 stdout 扫描缓冲上限 (KiB)。大 diff/工具输出可能超过默认 64KiB。
func WithScanBuffer(kib int) Option {
	return func(c *Client) { c.scanBufKiB = kib }
}

// WithSpawnWait 设置等待首个事件的启动超时。
func WithSpawnWait(d time.Duration) Option {
	return func(c *Client) { c.spawnWait = d }
}

// NewClient 创建客户端 (不启动进程)。
func NewClient(command, processID string, opts ...Option) *Client {
	c := &Client{
		ProcessID:  processID,
		command:    command,
		scanBufKiB: 1024,
		spawnWait:  15 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetEventHandler 注册事件回调 (线程安全)。
func (c *Client) SetEventHandler(h EventHandler) {
	c.handlerMu.Lock()
	c.handler = h
	c.handlerMu.Unlock()
}

// SetExitHandler 注册进程退出回调 (线程安全)。
func (c *Client) SetExitHandler(h ExitHandler) {
	c.handlerMu.Lock()
	c.onExit = h
	c.handlerMu.Unlock()
}

// ========================================
// 进程管理
// ========================================

// Spawn 启动 agent 子进程并开始事件读循环。
//
// 子进程加入独立进程组, 便于 Kill 时连同孙进程一起清理。
func (c *Client) Spawn(ctx context.Context) error {
	c.cmd = exec.CommandContext(ctx, c.command, "stream")
	c.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.cmd.Env = os.Environ()

	var err error
	c.stdin, err = c.cmd.StdinPipe()
	if err != nil {
		return apperrors.Wrap(err, "Client.Spawn", "stdin pipe")
	}
	c.stdout, err = c.cmd.StdoutPipe()
	if err != nil {
		return apperrors.Wrap(err, "Client.Spawn", "stdout pipe")
	}

	c.stderrCollector = logger.NewStderrCollector(c.ProcessID)
	c.stderrLimiter = util.NewLimitedWriter(c.stderrCollector, stderrByteCap)
	c.cmd.Stderr = c.stderrLimiter

	if err := c.cmd.Start(); err != nil {
		return apperrors.Wrap(err, "Client.Spawn", "spawn agent process")
	}
	c.exited = make(chan struct{})
	c.ready = make(chan struct{})

	logger.Infow("agentproc: process spawned",
		logger.FieldComponent, "agentproc",
		logger.FieldPID, c.cmd.Process.Pid,
	)

	util.SafeGo("agentproc.readLoop", func() { c.readLoop() })

	// 等待首个事件作为就绪信号 (类似 health check), 超时仅告警不失败。
	select {
	case <-c.ready:
	case <-c.exited:
		// 进程可能在输出首个事件后立即退出 — 收到过事件就不算启动失败
		select {
		case <-c.ready:
		default:
			return apperrors.New("Client.Spawn", "agent process exited before first event")
		}
	case <-time.After(c.spawnWait):
		logger.Warn("agentproc: no event within spawn wait",
			logger.FieldComponent, "agentproc",
			logger.FieldPID, c.cmd.Process.Pid,
		)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// readLoop 逐行读取 stdout, 解码并分发事件。进程退出时触发 ExitHandler。
func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 64*1024), c.scanBufKiB*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := DecodeLine(line)
		if err != nil {
			logger.Warn("agentproc: undecodable event line",
				logger.FieldComponent, "agentproc",
				logger.FieldError, err,
				logger.FieldBytes, len(line),
			)
			continue
		}
		c.readyOnce.Do(func() { close(c.ready) })
		c.dispatch(ev)
	}

	scanErr := scanner.Err()
	waitErr := c.cmd.Wait()
	close(c.exited)

	if c.stopped.Load() {
		return
	}
	logger.Warn("agentproc: process exited",
		logger.FieldComponent, "agentproc",
		logger.FieldError, util.FirstNonEmpty(errString(scanErr), errString(waitErr)),
	)
	c.handlerMu.RLock()
	onExit := c.onExit
	c.handlerMu.RUnlock()
	if onExit != nil {
		if waitErr != nil {
			onExit(waitErr)
		} else {
			onExit(scanErr)
		}
	}
}

func (c *Client) dispatch(ev Event) {
	c.handlerMu.RLock()
	h := c.handler
	c.handlerMu.RUnlock()
	if h != nil {
		h(ev)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ========================================
// 命令发送
// ========================================

// send 序列化命令并写入 stdin (换行分隔)。
func (c *Client) send(op string, cmd any) error {
	if c.stopped.Load() {
		return apperrors.New(op, "client stopped")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return apperrors.Wrap(err, op, "marshal command")
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.stdin == nil {
		return apperrors.New(op, "process not spawned")
	}
	if _, err := c.stdin.Write(data); err != nil {
		return apperrors.Wrap(err, op, "write stdin")
	}
	return nil
}

// Submit 提交新会话意图。
func (c *Client) Submit(text, cwd string) error {
	return c.send("Client.Submit", SubmitCommand{Type: "submit", Text: text, Cwd: cwd})
}

// Resume 在已有 agent 会话上继续。
func (c *Client) Resume(sessionID, text, cwd string) error {
	if sessionID == "" {
		return apperrors.New("Client.Resume", "resume requires session_id")
	}
	return c.send("Client.Resume", ResumeCommand{Type: "resume", SessionID: sessionID, Text: text, Cwd: cwd})
}

// Interrupt 中断当前生成。
func (c *Client) Interrupt() error {
	return c.send("Client.Interrupt", InterruptCommand{Type: "interrupt"})
}

// ReplyToQuestion 回复 native question。
func (c *Client) ReplyToQuestion(requestID string, answers []string) error {
	if requestID == "" {
		return apperrors.New("Client.ReplyToQuestion", "reply requires request_id")
	}
	return c.send("Client.ReplyToQuestion", QuestionReply{Type: "question_reply", RequestID: requestID, Answers: answers})
}

// ReplyToPermission 回复 native permission request。
func (c *Client) ReplyToPermission(requestID, decision string) error {
	if requestID == "" {
		return apperrors.New("Client.ReplyToPermission", "reply requires request_id")
	}
	return c.send("Client.ReplyToPermission", PermissionReply{Type: "permission_reply", RequestID: requestID, Decision: decision})
}

// SetSessionID 预设 (或传 nil 清除) agent 侧会话 ID。
func (c *Client) SetSessionID(sessionID *string) error {
	return c.send("Client.SetSessionID", SetSessionCommand{Type: "set_session", SessionID: sessionID})
}

// ========================================
// 关闭
// ========================================

// Shutdown 优雅关闭: 关 stdin 通知退出, 超时后强杀。
func (c *Client) Shutdown() error {
	if c.stopped.Swap(true) {
		return nil
	}
	logger.Infow("agentproc: shutting down", logger.FieldComponent, "agentproc")
	if c.stderrCollector != nil {
		if c.stderrLimiter != nil && c.stderrLimiter.Overflow() {
			logger.Warn("agentproc: stderr output truncated",
				logger.FieldComponent, c.ProcessID,
				logger.FieldBytes, c.stderrLimiter.Written())
		}
		_ = c.stderrCollector.Close()
	}

	c.writeMu.Lock()
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	c.writeMu.Unlock()

	if c.cmd == nil || c.cmd.Process == nil || c.exited == nil {
		return nil
	}
	select {
	case <-c.exited:
		return nil
	case <-time.After(5 * time.Second):
		return c.Kill()
	}
}

// Kill 强制终止子进程 (含进程组)。
func (c *Client) Kill() error {
	c.stopped.Store(true)
	if c.cmd != nil && c.cmd.Process != nil {
		pid := c.cmd.Process.Pid
		logger.Warn("agentproc: force killing process", logger.FieldPID, pid)
		// 杀整个进程组, 回退到单进程 kill。
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
			_ = c.cmd.Process.Kill()
		}
	}
	return nil
}

// Running 返回客户端是否在运行。
func (c *Client) Running() bool {
	return !c.stopped.Load() && c.cmd != nil && c.cmd.Process != nil
}
