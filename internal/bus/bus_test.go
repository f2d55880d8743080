package bus

import (
	"testing"
	"time"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"*", "session.s1.messages", true},
		{"session.s1", "session.s1", true},
		{"session.s1", "session.s1.messages", true},
		{"session.s1", "session.s10.messages", false},
		{"engine", "engine.usage", true},
		{"engine", "engineering", false},
		{"session.s2", "session.s1.messages", false},
	}
	for _, tt := range tests {
		if got := matchTopic(tt.filter, tt.topic); got != tt.want {
			t.Errorf("matchTopic(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestPublishFanOut(t *testing.T) {
	b := NewMessageBus()
	s1 := b.Subscribe("sub1", "session.s1")
	all := b.Subscribe("sub-all", "*")
	other := b.Subscribe("sub2", "session.s2")
	defer func() {
		b.Unsubscribe("sub1")
		b.Unsubscribe("sub-all")
		b.Unsubscribe("sub2")
	}()

	b.Publish(Message{Topic: SessionTopic("s1", "messages"), SessionID: "s1", Type: MsgMessagesChanged})

	recv := func(sub *Subscriber) *Message {
		select {
		case m := <-sub.Ch:
			return &m
		case <-time.After(time.Second):
			return nil
		}
	}

	if m := recv(s1); m == nil || m.Type != MsgMessagesChanged {
		t.Errorf("prefix subscriber did not receive message: %+v", m)
	}
	if m := recv(all); m == nil {
		t.Error("wildcard subscriber did not receive message")
	}
	select {
	case m := <-other.Ch:
		t.Errorf("unrelated subscriber received message: %+v", m)
	default:
	}
}

func TestSeqMonotonic(t *testing.T) {
	b := NewMessageBus()
	sub := b.Subscribe("seq", "*")
	defer b.Unsubscribe("seq")

	for i := 0; i < 5; i++ {
		b.Publish(Message{Topic: "engine.usage", Type: MsgUsageUpdate})
	}

	var prev int64
	for i := 0; i < 5; i++ {
		m := <-sub.Ch
		if m.Seq <= prev {
			t.Fatalf("seq not monotonic: %d after %d", m.Seq, prev)
		}
		prev = m.Seq
	}
	if b.Seq() != 5 {
		t.Errorf("Seq() = %d, want 5", b.Seq())
	}
}

func TestFullChannelDropsInsteadOfBlocking(t *testing.T) {
	b := NewMessageBus()
	b.Subscribe("slow", "*")
	defer b.Unsubscribe("slow")

	done := make(chan struct{})
	go func() {
		// 订阅者缓冲 64, 发 100 条不能阻塞发布者
		for i := 0; i < 100; i++ {
			b.Publish(Message{Topic: "engine.usage", Type: MsgUsageUpdate})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on full subscriber channel")
	}
}

func TestOnPublishBridge(t *testing.T) {
	b := NewMessageBus()
	got := make(chan Message, 1)
	b.SetOnPublish(func(m Message) { got <- m })

	b.Publish(Message{Topic: SessionTopic("s9", "status"), Type: MsgStatusChanged})
	select {
	case m := <-got:
		if m.Seq != 1 || m.Timestamp.IsZero() {
			t.Errorf("bridge message not stamped: %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("onPublish not invoked")
	}
}
