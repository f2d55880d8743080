package util

import "io"

// LimitedWriter 包装 io.Writer, 累计写入达到上限后丢弃剩余数据。
//
// 超限写入返回 (len(p), nil) 而非错误: 接给 exec.Cmd.Stderr 时,
// 报错会让子进程收到 EPIPE, 丢弃对它必须是透明的。
type LimitedWriter struct {
	dst   io.Writer
	limit int
	n     int
}

// NewLimitedWriter 创建写入上限为 limit 字节的 LimitedWriter。
func NewLimitedWriter(dst io.Writer, limit int) *LimitedWriter {
	return &LimitedWriter{dst: dst, limit: limit}
}

func (lw *LimitedWriter) Write(p []byte) (int, error) {
	remain := lw.limit - lw.n
	if remain <= 0 {
		return len(p), nil
	}
	if len(p) > remain {
		p = p[:remain]
	}
	n, err := lw.dst.Write(p)
	lw.n += n
	return n, err
}

// Overflow 报告是否已达上限 (后续写入被丢弃)。
func (lw *LimitedWriter) Overflow() bool { return lw.n >= lw.limit }

// Written 返回实际写入底层 writer 的字节数。
func (lw *LimitedWriter) Written() int { return lw.n }
