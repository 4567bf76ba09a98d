package frame

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrAlreadyListening is returned when Listen is called more than once.
// A second subscription would double-deliver every inbound message.
var ErrAlreadyListening = errors.New("frame: listener already registered")

// Transport delivers marshalled envelopes to the counterpart window.
// Implementations must be safe for concurrent Send calls.
type Transport interface {
	Send(data []byte) error
}

// Messenger is the widget side of the host message channel. Outbound sends
// are fire-and-forget; synchronization (e.g. the INIT handshake) happens in
// the layers above. Inbound envelopes pass through origin and shape
// validation before any handler sees them.
type Messenger struct {
	transport Transport
	allowed   map[string]bool

	mu        sync.Mutex
	listening bool
	onMessage func(Envelope)
	handlers  map[Type][]func(Envelope)
}

// NewMessenger creates a messenger bound to one transport and one origin
// allow-list. Messages from origins outside the list are dropped
// unconditionally.
func NewMessenger(t Transport, allowedOrigins []string) *Messenger {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Messenger{
		transport: t,
		allowed:   allowed,
		handlers:  make(map[Type][]func(Envelope)),
	}
}

// Listen registers the single inbound message handler for this messenger.
// Exactly one registration is allowed per messenger lifetime; a second call
// returns ErrAlreadyListening and has no effect.
func (m *Messenger) Listen(onMessage func(Envelope)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listening {
		log.Warn().Msg("Frame listener already registered")
		return ErrAlreadyListening
	}
	m.listening = true
	m.onMessage = onMessage
	return nil
}

// On registers an additional handler for a specific message type. Handlers
// run after the Listen handler, in registration order.
func (m *Messenger) On(t Type, fn func(Envelope)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = append(m.handlers[t], fn)
}

// Deliver feeds one raw inbound message into the messenger. The transport's
// read loop calls this with the sender's origin. Invalid input is dropped:
// unknown origins, malformed envelopes, and unrecognized types all return
// without an observable effect beyond a debug log. No error is surfaced to
// the sender.
func (m *Messenger) Deliver(origin string, data []byte) {
	if !m.allowed[origin] {
		log.Warn().Str("origin", origin).Msg("Dropped message from unauthorized origin")
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Msg("Dropped malformed frame message")
		return
	}
	if !knownTypes[env.Type] {
		log.Debug().Str("type", string(env.Type)).Msg("Dropped frame message with unknown type")
		return
	}

	m.mu.Lock()
	onMessage := m.onMessage
	listening := m.listening
	typed := make([]func(Envelope), len(m.handlers[env.Type]))
	copy(typed, m.handlers[env.Type])
	m.mu.Unlock()

	if !listening {
		log.Debug().Str("type", string(env.Type)).Msg("Frame message arrived before listener setup; dropped")
		return
	}

	log.Debug().Str("type", string(env.Type)).Msg("Frame message received")
	onMessage(env)
	for _, fn := range typed {
		fn(env)
	}
}

// Send constructs an envelope and dispatches it to the host. Fire-and-forget:
// no acknowledgment is awaited here.
func (m *Messenger) Send(t Type, payload any) error {
	return m.send(t, payload, "")
}

// SendCorrelated sends an envelope carrying a fresh requestId and returns the
// id so the caller can match the host's eventual response.
func (m *Messenger) SendCorrelated(t Type, payload any) (string, error) {
	id := NewRequestID()
	if err := m.send(t, payload, id); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Messenger) send(t Type, payload any, requestID string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := Envelope{
		Type:      t,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
		RequestID: requestID,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return m.transport.Send(data)
}

// --- Typed send helpers ---

// SendReady announces the widget's capability list. Sent exactly once per
// session, before any response from the host can exist.
func (m *Messenger) SendReady(features []string) error {
	return m.Send(TypeReady, ReadyPayload{
		AppVersion: "1.0.0",
		Features:   features,
	})
}

// SaveData asks the host to persist widget settings.
func (m *Messenger) SaveData(settings map[string]any, merge bool) error {
	return m.Send(TypeSaveData, SaveDataPayload{Settings: settings, Merge: merge})
}

// ReportError forwards a widget failure to the host.
func (m *Messenger) ReportError(message, code string) error {
	if code == "" {
		code = "HEYGEN_ERROR"
	}
	return m.Send(TypeError, ErrorPayload{Message: message, Code: code})
}

// SendLog forwards a log line to the host.
func (m *Messenger) SendLog(level, message string, data any) error {
	return m.Send(TypeLog, LogPayload{Level: level, Message: message, Data: data})
}

// Navigate asks the host to open a URL.
func (m *Messenger) Navigate(url string, external bool) error {
	return m.Send(TypeNavigate, NavigatePayload{URL: url, External: external})
}

// RequestPermission asks the host for a named permission and returns the
// request id for correlating the response.
func (m *Messenger) RequestPermission(permission, reason string) (string, error) {
	return m.SendCorrelated(TypeRequestPermission, PermissionPayload{
		Permission: permission,
		Reason:     reason,
	})
}

// UploadToProject asks the host to import generated media into the project
// and returns the request id for correlating the response.
func (m *Messenger) UploadToProject(url, name string, metadata map[string]any) (string, error) {
	return m.SendCorrelated(TypeUploadToProject, UploadPayload{
		URL:      url,
		Name:     name,
		Metadata: metadata,
	})
}

// Resize asks the host to resize the widget viewport.
func (m *Messenger) Resize(height int) error {
	return m.Send(TypeResize, ResizePayload{Height: height})
}
