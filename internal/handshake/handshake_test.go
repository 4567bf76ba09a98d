package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fpang/heygen-widget/internal/frame"
	"github.com/fpang/heygen-widget/internal/state"
)

const hostOrigin = "https://parent.example.com"

type captureTransport struct {
	mu   sync.Mutex
	sent []frame.Envelope
}

func (c *captureTransport) Send(data []byte) error {
	var env frame.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, env)
	c.mu.Unlock()
	return nil
}

func (c *captureTransport) sentTypes() []frame.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]frame.Type, len(c.sent))
	for i, e := range c.sent {
		out[i] = e.Type
	}
	return out
}

func sendInit(m *frame.Messenger, p InitPayload) {
	raw, _ := json.Marshal(p)
	env, _ := json.Marshal(frame.Envelope{
		Type:      frame.TypeInit,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	})
	m.Deliver(hostOrigin, env)
}

func validInit() InitPayload {
	return InitPayload{
		ProjectID:         "proj-1",
		OrganizationID:    "org-1",
		UserID:            "user-1",
		AppInstallationID: "install-1",
		Permissions:       []string{"media.read"},
		Project: &InitProject{
			UUID:    "proj-1",
			Content: "<p>Hello</p>",
			Media: []state.MediaItem{
				{MediaUUID: "m1", Kind: "audio", Name: "jingle.mp3", URL: "https://cdn/jingle.mp3"},
				{MediaUUID: "m2", Kind: "video", Name: "intro.mp4", URL: "https://cdn/intro.mp4"},
			},
		},
	}
}

func TestEstablish_Success(t *testing.T) {
	ct := &captureTransport{}
	m := frame.NewMessenger(ct, []string{hostOrigin})
	c := NewController(m, time.Second)

	done := make(chan struct{})
	var pc *state.ParentContext
	var err error
	go func() {
		pc, err = c.Establish(context.Background())
		close(done)
	}()

	// READY goes out before any INIT can exist; give the goroutine a moment
	// to register the listener, then reply.
	waitFor(t, func() bool { return len(ct.sentTypes()) > 0 })
	sendInit(m, validInit())

	<-done
	if err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	if got := ct.sentTypes()[0]; got != frame.TypeReady {
		t.Errorf("first outbound message should be READY, got %s", got)
	}
	if pc.OrganizationID != "org-1" || pc.ProjectID != "proj-1" {
		t.Errorf("parent context ids wrong: %+v", pc)
	}
	if pc.ProjectContent != "<p>Hello</p>" {
		t.Errorf("project content not extracted: %q", pc.ProjectContent)
	}
	if len(pc.ProjectAudio) != 1 || pc.ProjectAudio[0].MediaUUID != "m1" {
		t.Errorf("expected only the audio media item, got %+v", pc.ProjectAudio)
	}
}

func TestEstablish_Timeout(t *testing.T) {
	ct := &captureTransport{}
	m := frame.NewMessenger(ct, []string{hostOrigin})
	c := NewController(m, 30*time.Millisecond)

	_, err := c.Establish(context.Background())
	if !errors.Is(err, ErrInitTimeout) {
		t.Fatalf("expected ErrInitTimeout, got %v", err)
	}
}

func TestEstablish_SecondInitIgnored(t *testing.T) {
	ct := &captureTransport{}
	m := frame.NewMessenger(ct, []string{hostOrigin})
	c := NewController(m, time.Second)

	done := make(chan struct{})
	var pc *state.ParentContext
	go func() {
		pc, _ = c.Establish(context.Background())
		close(done)
	}()

	waitFor(t, func() bool { return len(ct.sentTypes()) > 0 })
	first := validInit()
	sendInit(m, first)

	second := validInit()
	second.OrganizationID = "org-2"
	sendInit(m, second)

	<-done
	if pc == nil || pc.OrganizationID != "org-1" {
		t.Fatalf("parent context should reflect the first INIT only, got %+v", pc)
	}
}

func TestEstablish_DefaultsApplied(t *testing.T) {
	ct := &captureTransport{}
	m := frame.NewMessenger(ct, []string{hostOrigin})
	c := NewController(m, time.Second)

	done := make(chan struct{})
	var pc *state.ParentContext
	var err error
	go func() {
		pc, err = c.Establish(context.Background())
		close(done)
	}()

	waitFor(t, func() bool { return len(ct.sentTypes()) > 0 })
	sendInit(m, InitPayload{OrganizationID: "org-1"}) // no permissions, no project

	<-done
	if err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	if pc.Permissions == nil || len(pc.Permissions) != 0 {
		t.Errorf("missing permissions should default to empty list, got %v", pc.Permissions)
	}
	if pc.ProjectAudio == nil || len(pc.ProjectAudio) != 0 {
		t.Errorf("missing media should default to empty audio list, got %v", pc.ProjectAudio)
	}
}

func TestEstablish_MissingOrganizationRejected(t *testing.T) {
	ct := &captureTransport{}
	m := frame.NewMessenger(ct, []string{hostOrigin})
	c := NewController(m, time.Second)

	done := make(chan struct{})
	var err error
	go func() {
		_, err = c.Establish(context.Background())
		close(done)
	}()

	waitFor(t, func() bool { return len(ct.sentTypes()) > 0 })
	sendInit(m, InitPayload{ProjectID: "proj-1"})

	<-done
	if !errors.Is(err, ErrMissingOrganization) {
		t.Fatalf("expected ErrMissingOrganization, got %v", err)
	}
}

func TestEstablish_ContextCancel(t *testing.T) {
	ct := &captureTransport{}
	m := frame.NewMessenger(ct, []string{hostOrigin})
	c := NewController(m, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Establish(ctx)
		done <- err
	}()

	waitFor(t, func() bool { return len(ct.sentTypes()) > 0 })
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// waitFor polls a condition with a deadline; avoids sleeping a fixed amount
// and flaking under load.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
