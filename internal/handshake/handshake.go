// Package handshake implements the one-time READY/INIT rendezvous between
// the widget and its host. The widget announces readiness immediately, then
// waits a bounded time for the host's INIT context payload. Whichever fires
// first — the INIT message or the timeout — decides the session's fate; the
// loser is cancelled and later arrivals are ignored.
package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/heygen-widget/internal/frame"
	"github.com/fpang/heygen-widget/internal/state"
)

// DefaultTimeout bounds the wait for the host's INIT message. The host and
// widget load independently; without a bound, a misconfigured host would
// leave the widget stuck forever.
const DefaultTimeout = 10 * time.Second

// ErrInitTimeout means no INIT arrived within the window. Fatal to the
// session: the user must reload. Not retried automatically, since a silent
// retry risks double-registering listeners.
var ErrInitTimeout = errors.New("handshake: no INIT message received from parent app")

// ErrMissingOrganization means the INIT payload carried no organization id.
// The widget requires explicit parent context; there is no fallback identity.
var ErrMissingOrganization = errors.New("handshake: INIT payload missing organizationId")

// Capabilities is the feature list announced in the READY message.
var Capabilities = []string{
	"avatar-selection",
	"video-generation",
	"project-content-integration",
	"project-audio-integration",
	"audio-recording",
}

// InitPayload is the wire shape of the host's INIT message.
type InitPayload struct {
	ProjectID         string         `json:"projectId"`
	OrganizationID    string         `json:"organizationId"`
	UserID            string         `json:"userId"`
	AppInstallationID string         `json:"appInstallationId"`
	Permissions       []string       `json:"permissions"`
	Settings          map[string]any `json:"settings,omitempty"`
	Project           *InitProject   `json:"project,omitempty"`
}

// InitProject is the project block of the INIT payload.
type InitProject struct {
	UUID             string            `json:"uuid"`
	Name             string            `json:"name"`
	Status           string            `json:"status"`
	Content          string            `json:"content"`
	OrganizationUUID string            `json:"organization_uuid"`
	Media            []state.MediaItem `json:"media"`
}

// Controller runs the handshake for one session.
type Controller struct {
	messenger *frame.Messenger
	timeout   time.Duration
}

// NewController creates a handshake controller. A zero timeout selects
// DefaultTimeout.
func NewController(m *frame.Messenger, timeout time.Duration) *Controller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Controller{messenger: m, timeout: timeout}
}

// Establish sends READY, registers the INIT listener, and blocks until the
// first INIT arrives or the timeout elapses. The timer is stopped on
// success so a late expiry cannot produce a spurious failure, and INIT
// application is at-most-once: a second INIT is a no-op.
func (c *Controller) Establish(ctx context.Context) (*state.ParentContext, error) {
	if err := c.messenger.SendReady(Capabilities); err != nil {
		return nil, err
	}
	log.Info().Msg("Sent READY message to parent app")

	initCh := make(chan InitPayload, 1)
	var received atomic.Bool

	err := c.messenger.Listen(func(env frame.Envelope) {
		if env.Type != frame.TypeInit {
			return
		}
		if !received.CompareAndSwap(false, true) {
			log.Debug().Msg("Duplicate INIT message ignored")
			return
		}
		var p InitPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn().Err(err).Msg("INIT payload failed to decode; dropped")
			received.Store(false)
			return
		}
		initCh <- p
	})
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case p := <-initCh:
		log.Info().
			Str("organizationId", p.OrganizationID).
			Str("projectId", p.ProjectID).
			Msg("INIT message received from parent")
		return parentContextFrom(p)
	case <-timer.C:
		log.Error().Dur("timeout", c.timeout).Msg("Handshake timed out waiting for INIT")
		return nil, ErrInitTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// parentContextFrom applies the boundary defaulting rules: missing
// permissions mean an empty list, a missing media list means no project
// audio, and only audio-kind media survives the filter.
func parentContextFrom(p InitPayload) (*state.ParentContext, error) {
	if p.OrganizationID == "" {
		return nil, ErrMissingOrganization
	}

	pc := &state.ParentContext{
		ProjectID:         p.ProjectID,
		OrganizationID:    p.OrganizationID,
		UserID:            p.UserID,
		AppInstallationID: p.AppInstallationID,
		Permissions:       p.Permissions,
		ProjectAudio:      []state.MediaItem{},
	}
	if pc.Permissions == nil {
		pc.Permissions = []string{}
	}

	if p.Project != nil {
		pc.ProjectContent = p.Project.Content
		for _, m := range p.Project.Media {
			if m.Kind == "audio" {
				pc.ProjectAudio = append(pc.ProjectAudio, m)
			}
		}
	}

	log.Debug().
		Int("permissions", len(pc.Permissions)).
		Int("audioFiles", len(pc.ProjectAudio)).
		Int("contentLength", len(pc.ProjectContent)).
		Msg("Parent context extracted")
	return pc, nil
}
