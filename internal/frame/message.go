// Package frame implements the typed message channel between the embedded
// widget and its host application. Every message travels in an Envelope with
// a closed set of types; inbound traffic is validated against an origin
// allow-list and silently dropped when it fails validation.
package frame

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies a host<->widget message. The set is closed: envelopes with
// any other type are discarded on receipt.
type Type string

const (
	// TypeInit is the host's one-time context payload (host -> widget).
	TypeInit Type = "INIT"
	// TypeReady announces the widget is loaded and listening (widget -> host).
	TypeReady Type = "READY"
	// TypeSaveData asks the host to persist widget settings (widget -> host).
	TypeSaveData Type = "SAVE_DATA"
	// TypeError reports a widget error to the host (widget -> host).
	TypeError Type = "ERROR"
	// TypeLog forwards a structured log line to the host (widget -> host).
	TypeLog Type = "LOG"
	// TypeNavigate asks the host to navigate to a URL (widget -> host).
	TypeNavigate Type = "NAVIGATE"
	// TypeRequestPermission asks the host for a permission; correlated by requestId.
	TypeRequestPermission Type = "REQUEST_PERMISSION"
	// TypeUploadToProject asks the host to import media into the project;
	// correlated by requestId.
	TypeUploadToProject Type = "UPLOAD_TO_PROJECT"
	// TypeResize asks the host to resize the widget viewport (widget -> host).
	TypeResize Type = "RESIZE"
)

var knownTypes = map[Type]bool{
	TypeInit:              true,
	TypeReady:             true,
	TypeSaveData:          true,
	TypeError:             true,
	TypeLog:               true,
	TypeNavigate:          true,
	TypeRequestPermission: true,
	TypeUploadToProject:   true,
	TypeResize:            true,
}

// Envelope is the wire format for every host<->widget message.
type Envelope struct {
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// ReadyPayload announces widget capabilities to the host.
type ReadyPayload struct {
	AppVersion string   `json:"appVersion"`
	Features   []string `json:"features"`
}

// SaveDataPayload carries settings for the host to persist.
type SaveDataPayload struct {
	Settings map[string]any `json:"settings"`
	Merge    bool           `json:"merge"`
}

// ErrorPayload reports a widget failure to the host.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Stack   string `json:"stack,omitempty"`
}

// LogPayload forwards a log line to the host.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NavigatePayload asks the host to open a URL.
type NavigatePayload struct {
	URL      string `json:"url"`
	External bool   `json:"external"`
}

// PermissionPayload asks the host for a named permission.
type PermissionPayload struct {
	Permission string `json:"permission"`
	Reason     string `json:"reason"`
}

// PermissionResponsePayload is the host's reply to a permission request,
// sent back under the same message type.
type PermissionResponsePayload struct {
	Permission string `json:"permission"`
	Granted    bool   `json:"granted"`
}

// UploadPayload asks the host to import generated media into the project.
type UploadPayload struct {
	URL      string         `json:"url"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ResizePayload asks the host to resize the widget viewport.
type ResizePayload struct {
	Height int `json:"height"`
}

// NewRequestID generates a request correlation id for outbound messages that
// expect a matched response. Collision resistance within a session is enough;
// the id is a millisecond timestamp plus a random suffix.
func NewRequestID() string {
	b := make([]byte, 4)
	// rand.Read never fails on supported platforms.
	_, _ = rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}
