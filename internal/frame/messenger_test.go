package frame

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

const testOrigin = "https://parent.example.com"

// fakeTransport records every envelope sent through the messenger.
type fakeTransport struct {
	mu   sync.Mutex
	sent []Envelope
}

func (f *fakeTransport) Send(data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) lastSent(t *testing.T) Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return f.sent[len(f.sent)-1]
}

func newTestMessenger() (*Messenger, *fakeTransport) {
	ft := &fakeTransport{}
	return NewMessenger(ft, []string{testOrigin}), ft
}

func deliver(m *Messenger, origin string, env Envelope) {
	data, _ := json.Marshal(env)
	m.Deliver(origin, data)
}

func TestListen_SecondRegistrationRejected(t *testing.T) {
	m, _ := newTestMessenger()

	if err := m.Listen(func(Envelope) {}); err != nil {
		t.Fatalf("first Listen failed: %v", err)
	}
	if err := m.Listen(func(Envelope) {}); err != ErrAlreadyListening {
		t.Errorf("expected ErrAlreadyListening, got %v", err)
	}
}

func TestDeliver_UnauthorizedOriginDropped(t *testing.T) {
	m, _ := newTestMessenger()

	var got []Envelope
	_ = m.Listen(func(env Envelope) { got = append(got, env) })

	deliver(m, "https://evil.example.com", Envelope{Type: TypeInit})
	if len(got) != 0 {
		t.Errorf("message from unauthorized origin was delivered")
	}

	deliver(m, testOrigin, Envelope{Type: TypeInit})
	if len(got) != 1 {
		t.Errorf("message from allowed origin was not delivered")
	}
}

func TestDeliver_MalformedDropped(t *testing.T) {
	m, _ := newTestMessenger()

	delivered := false
	_ = m.Listen(func(Envelope) { delivered = true })

	m.Deliver(testOrigin, []byte("not json"))
	m.Deliver(testOrigin, []byte(`{"payload": {}}`)) // missing type
	m.Deliver(testOrigin, []byte(`{"type": "BOGUS", "payload": {}}`))

	if delivered {
		t.Error("malformed or unknown-type message reached the handler")
	}
}

func TestDeliver_TypedHandlers(t *testing.T) {
	m, _ := newTestMessenger()
	_ = m.Listen(func(Envelope) {})

	var initCount, saveCount int
	m.On(TypeInit, func(Envelope) { initCount++ })
	m.On(TypeSaveData, func(Envelope) { saveCount++ })

	deliver(m, testOrigin, Envelope{Type: TypeInit})
	deliver(m, testOrigin, Envelope{Type: TypeInit})

	if initCount != 2 || saveCount != 0 {
		t.Errorf("expected initCount=2 saveCount=0, got %d/%d", initCount, saveCount)
	}
}

func TestSendReady_EnvelopeShape(t *testing.T) {
	m, ft := newTestMessenger()

	if err := m.SendReady([]string{"avatar-selection", "video-generation"}); err != nil {
		t.Fatalf("SendReady failed: %v", err)
	}

	env := ft.lastSent(t)
	if env.Type != TypeReady {
		t.Errorf("expected type READY, got %s", env.Type)
	}
	if env.Timestamp == 0 {
		t.Error("envelope missing timestamp")
	}
	if env.RequestID != "" {
		t.Error("READY should not carry a requestId")
	}

	var p ReadyPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("bad READY payload: %v", err)
	}
	if len(p.Features) != 2 || p.Features[0] != "avatar-selection" {
		t.Errorf("unexpected features: %v", p.Features)
	}
}

func TestSendCorrelated_AttachesRequestID(t *testing.T) {
	m, ft := newTestMessenger()

	id, err := m.RequestPermission("microphone", "record narration audio")
	if err != nil {
		t.Fatalf("RequestPermission failed: %v", err)
	}
	if !strings.HasPrefix(id, "req_") {
		t.Errorf("unexpected request id format: %s", id)
	}

	env := ft.lastSent(t)
	if env.RequestID != id {
		t.Errorf("envelope requestId %q does not match returned id %q", env.RequestID, id)
	}
}

func TestNewRequestID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewRequestID()
		if seen[id] {
			t.Fatalf("duplicate request id generated: %s", id)
		}
		seen[id] = true
	}
}
