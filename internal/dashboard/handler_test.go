package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentdeck/go-deck-v2/internal/bus"
	"github.com/agentdeck/go-deck-v2/internal/engine"
	apperrors "github.com/agentdeck/go-deck-v2/pkg/errors"
)

// fakeEngine EngineAPI 假实现。
type fakeEngine struct {
	sessions   []engine.SessionView
	messages   map[string][]engine.ConversationMessage
	submits    []string
	interrupts []string
	deleted    []string
	replies    []string
	resets     int
}

func (f *fakeEngine) SubmitIntent(text, cwd string) (string, error) {
	f.submits = append(f.submits, text)
	return "s-new", nil
}

func (f *fakeEngine) ResumeSession(id, text string) error {
	if _, ok := f.messages[id]; !ok {
		return apperrors.Wrapf(apperrors.ErrNotFound, "fake", "session %s", id)
	}
	return nil
}

func (f *fakeEngine) SwitchToSession(id string) error { return nil }

func (f *fakeEngine) InterruptSession(id string) error {
	f.interrupts = append(f.interrupts, id)
	return nil
}

func (f *fakeEngine) DeleteSession(id string) error {
	if _, ok := f.messages[id]; !ok {
		return apperrors.Wrapf(apperrors.ErrNotFound, "fake", "session %s", id)
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeEngine) ReplyToPrompt(id string, answers []string, decision string) error {
	f.replies = append(f.replies, decision)
	return nil
}

func (f *fakeEngine) ResetUsage() { f.resets++ }

func (f *fakeEngine) Sessions() []engine.SessionView { return f.sessions }

func (f *fakeEngine) Messages(id string) ([]engine.ConversationMessage, error) {
	if msgs, ok := f.messages[id]; ok {
		return msgs, nil
	}
	return nil, apperrors.Wrapf(apperrors.ErrNotFound, "fake", "session %s", id)
}

func (f *fakeEngine) Usage() engine.UsageTotals { return engine.UsageTotals{InputTokens: 42} }

func (f *fakeEngine) SessionUsage(id string) engine.UsageTotals {
	return engine.UsageTotals{InputTokens: 7}
}

func newTestServer() (*Server, *fakeEngine) {
	eng := &fakeEngine{
		sessions: []engine.SessionView{{ID: "s1", Status: engine.SessionRunning}},
		messages: map[string][]engine.ConversationMessage{
			"s1": {{ID: "m1", Type: engine.MessageUser, Content: "hi"}},
		},
	}
	return NewServer(eng, nil, bus.NewMessageBus()), eng
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return resp
}

func TestListSessions(t *testing.T) {
	s, _ := newTestServer()
	w := doRequest(t, s, http.MethodGet, "/api/sessions", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeData(t, w)
	data := resp["data"].([]any)
	if len(data) != 1 {
		t.Errorf("sessions = %v", data)
	}
}

func TestSubmitSession(t *testing.T) {
	s, eng := newTestServer()
	w := doRequest(t, s, http.MethodPost, "/api/sessions", `{"text":"帮我修个 bug","cwd":"/work"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", w.Code, w.Body.String())
	}
	if len(eng.submits) != 1 || eng.submits[0] != "帮我修个 bug" {
		t.Errorf("submits = %v", eng.submits)
	}
}

func TestSubmitSessionRequiresText(t *testing.T) {
	s, _ := newTestServer()
	w := doRequest(t, s, http.MethodPost, "/api/sessions", `{"cwd":"/work"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetMessages(t *testing.T) {
	s, _ := newTestServer()
	w := doRequest(t, s, http.MethodGet, "/api/sessions/s1/messages", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeData(t, w)
	data := resp["data"].([]any)
	if len(data) != 1 {
		t.Errorf("messages = %v", data)
	}
}

func TestGetMessagesUnknownSession(t *testing.T) {
	s, _ := newTestServer()
	w := doRequest(t, s, http.MethodGet, "/api/sessions/ghost/messages", "")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestDeleteSessionNotFound(t *testing.T) {
	s, _ := newTestServer()
	w := doRequest(t, s, http.MethodDelete, "/api/sessions/ghost", "")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestInterruptSession(t *testing.T) {
	s, eng := newTestServer()
	w := doRequest(t, s, http.MethodPost, "/api/sessions/s1/interrupt", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(eng.interrupts) != 1 || eng.interrupts[0] != "s1" {
		t.Errorf("interrupts = %v", eng.interrupts)
	}
}

func TestReplyRequiresAnswerOrDecision(t *testing.T) {
	s, _ := newTestServer()
	w := doRequest(t, s, http.MethodPost, "/api/sessions/s1/reply", `{}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestUsageEndpoints(t *testing.T) {
	s, eng := newTestServer()

	w := doRequest(t, s, http.MethodGet, "/api/usage", "")
	if w.Code != http.StatusOK {
		t.Fatalf("usage status = %d, want 200", w.Code)
	}
	resp := decodeData(t, w)
	data := resp["data"].(map[string]any)
	if data["inputTokens"].(float64) != 42 {
		t.Errorf("usage = %v", data)
	}

	w = doRequest(t, s, http.MethodPost, "/api/usage/reset", "")
	if w.Code != http.StatusOK || eng.resets != 1 {
		t.Errorf("reset status = %d, resets = %d", w.Code, eng.resets)
	}
}

func TestHistoryWithoutStores(t *testing.T) {
	s, _ := newTestServer()
	w := doRequest(t, s, http.MethodGet, "/api/sessions/history", "")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when persistence disabled", w.Code)
	}
}
