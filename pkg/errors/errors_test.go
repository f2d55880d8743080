// errors_test.go — 验证 AppError / Wrap / Wrapf 的行为契约。
package errors

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// TestWrapUnwrap 验证 Wrap 保留原始错误链，errors.Is 和 errors.As 正常工作。
func TestWrapUnwrap(t *testing.T) {
	original := ErrNotFound
	wrapped := Wrap(original, "SessionStore.Get", "session not found")

	if !errors.Is(wrapped, ErrNotFound) {
		t.Errorf("errors.Is(wrapped, ErrNotFound) = false, want true")
	}
	if errors.Is(wrapped, ErrTimeout) {
		t.Errorf("errors.Is(wrapped, ErrTimeout) = true, want false")
	}

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatalf("errors.As failed to extract *AppError")
	}
	if appErr.Op != "SessionStore.Get" {
		t.Errorf("Op = %q, want %q", appErr.Op, "SessionStore.Get")
	}
	if appErr.Message != "session not found" {
		t.Errorf("Message = %q, want %q", appErr.Message, "session not found")
	}
}

// TestWrapErrorString 验证 Error() 输出包含 op、message 和 cause。
func TestWrapErrorString(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	wrapped := Wrap(cause, "Client.ReadLoop", "read failed")

	s := wrapped.Error()
	for _, want := range []string{"Client.ReadLoop", "read failed", "unexpected EOF"} {
		if !strings.Contains(s, want) {
			t.Errorf("Error() = %q, missing %q", s, want)
		}
	}
}

// TestWrapfFormat 验证 Wrapf 格式化消息。
func TestWrapfFormat(t *testing.T) {
	cause := ErrQueueFull
	wrapped := Wrapf(cause, "BindQueue.Push", "capacity %d exceeded", 10)

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As failed")
	}
	if !strings.Contains(appErr.Message, "capacity 10 exceeded") {
		t.Errorf("Message = %q, want to contain 'capacity 10 exceeded'", appErr.Message)
	}
}

// TestNewWithoutCause 验证 New 创建无 cause 的错误。
func TestNewWithoutCause(t *testing.T) {
	err := New("Engine.Run", "already running")
	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatal("errors.As failed")
	}
	if appErr.Err != nil {
		t.Errorf("Err = %v, want nil", appErr.Err)
	}
	if errors.Unwrap(err) != nil {
		t.Errorf("Unwrap = %v, want nil", errors.Unwrap(err))
	}
}

// TestDoubleWrap 验证二次包装时 errors.Is 仍能找到最深层哨兵。
func TestDoubleWrap(t *testing.T) {
	inner := Wrap(ErrRowMissing, "SessionStore.Get", "row missing")
	outer := Wrap(inner, "Engine.Resume", "session lookup failed")

	if !errors.Is(outer, ErrRowMissing) {
		t.Error("errors.Is(outer, ErrRowMissing) = false after double wrap")
	}

	var appErr *AppError
	if !errors.As(outer, &appErr) {
		t.Fatal("errors.As failed on outer")
	}
	if appErr.Op != "Engine.Resume" {
		t.Errorf("Op = %q, want Engine.Resume", appErr.Op)
	}
}
