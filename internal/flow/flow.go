// Package flow drives the widget's view navigation: Home -> Select -> Group
// -> Review, with the entry/exit side effects each transition requires and
// the derived can-generate predicate. All user intents funnel through one
// Controller so transitions serialize and the composer invariants in the
// state package cannot be bypassed.
package flow

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fpang/heygen-widget/internal/state"
	"github.com/fpang/heygen-widget/internal/textutil"
)

// ErrNoSelection means the intent requires at least one selected avatar.
var ErrNoSelection = errors.New("flow: no avatars selected")

// ErrNoProjectContent means the parent project carries no content document.
var ErrNoProjectContent = errors.New("flow: parent project has no content")

// ErrNoSuchAudio means the requested project media item does not exist.
var ErrNoSuchAudio = errors.New("flow: project audio item not found")

// AvatarLister fetches the avatars of one group from the provider.
type AvatarLister interface {
	ListGroupAvatars(ctx context.Context, groupID string) ([]state.Avatar, error)
}

// Controller owns navigation and composer intents for one session.
type Controller struct {
	st      *state.Store
	avatars AvatarLister

	mu          sync.Mutex
	fetchGen    int
	cancelFetch context.CancelFunc
	loading     bool
	loadErr     string
}

// NewController wires a controller to a session store and provider client.
func NewController(st *state.Store, avatars AvatarLister) *Controller {
	return &Controller{st: st, avatars: avatars}
}

// StartNewVideo moves Home -> Select. Selection is already empty at Home,
// so no reset is needed.
func (c *Controller) StartNewVideo() {
	c.st.SetView(state.ViewSelect)
}

// OpenGroup moves Select -> Group: the active group is set, the selection
// cleared, and the group's avatars fetched in the background. A fetch
// generation counter guards against a stale response landing after the user
// has navigated to a different group.
func (c *Controller) OpenGroup(ctx context.Context, g state.Group) {
	c.mu.Lock()
	c.fetchGen++
	gen := c.fetchGen
	if c.cancelFetch != nil {
		c.cancelFetch()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	c.cancelFetch = cancel
	c.loading = true
	c.loadErr = ""
	c.mu.Unlock()

	c.st.SetGroup(&g)
	c.st.ClearSelection()
	c.st.SetAvatars(nil)
	c.st.SetView(state.ViewGroup)

	go func() {
		avatars, err := c.avatars.ListGroupAvatars(fetchCtx, g.ID)

		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.fetchGen {
			// The user moved on; this response belongs to an abandoned view.
			log.Debug().Str("groupId", g.ID).Msg("Discarded stale avatar fetch")
			return
		}
		c.loading = false
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.loadErr = err.Error()
			log.Warn().Err(err).Str("groupId", g.ID).Msg("Avatar fetch failed")
			return
		}
		c.st.SetAvatars(avatars)
		log.Debug().Str("groupId", g.ID).Int("count", len(avatars)).Msg("Avatars loaded")
	}()
}

// AvatarsStatus reports the in-flight/failed state of the current group's
// avatar fetch, for the banner on the Group screen.
func (c *Controller) AvatarsStatus() (loading bool, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading, c.loadErr
}

// BackToSelect moves Group -> Select: selection and active group clear, and
// any in-flight avatar fetch becomes stale.
func (c *Controller) BackToSelect() {
	c.mu.Lock()
	c.fetchGen++
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}
	c.loading = false
	c.loadErr = ""
	c.mu.Unlock()

	c.st.ClearSelection()
	c.st.SetGroup(nil)
	c.st.SetAvatars(nil)
	c.st.SetView(state.ViewSelect)
}

// SubmitToReview moves Group -> Review. Only reachable with a non-empty
// selection.
func (c *Controller) SubmitToReview() error {
	if c.st.SelectionCount() == 0 {
		return ErrNoSelection
	}
	c.st.SetView(state.ViewReview)
	return nil
}

// BackToGroup moves Review -> Group. No attachment state resets: the user
// can return to Review without re-choosing.
func (c *Controller) BackToGroup() {
	c.st.SetView(state.ViewGroup)
}

// ToggleAvatar flips an avatar in the selection.
func (c *Controller) ToggleAvatar(id string) {
	c.st.ToggleAvatar(id)
}

// EditScript records freehand typing; the state store clears any staged
// attachment (typing signals intent to go manual).
func (c *Controller) EditScript(text string) {
	c.st.SetScriptText(text)
}

// ImportProjectContent stages the parent project's content document as the
// script. The state store clears any audio attachment as part of the same
// transition.
func (c *Controller) ImportProjectContent() error {
	pc := c.st.ParentContext()
	if pc == nil || pc.ProjectContent == "" {
		return ErrNoProjectContent
	}
	stripped := textutil.StripMarkup(pc.ProjectContent)
	c.st.SetContentAttachment("Project Content", stripped)
	log.Debug().Int("length", len(stripped)).Msg("Project content imported into composer")
	return nil
}

// ImportProjectAudio stages a project audio item as the narration. The state
// store clears any content attachment as part of the same transition.
func (c *Controller) ImportProjectAudio(mediaUUID string) error {
	pc := c.st.ParentContext()
	if pc == nil {
		return ErrNoSuchAudio
	}
	for _, m := range pc.ProjectAudio {
		if m.MediaUUID == mediaUUID {
			c.st.SetAudioAttachment(&state.AudioAttachment{
				URL:      m.URL,
				Name:     m.Name,
				Duration: m.Duration,
				MIMEType: m.MIMEType,
			}, state.VoiceProjectAudio)
			return nil
		}
	}
	return ErrNoSuchAudio
}

// AttachRecording routes a saved microphone clip through the same
// audio-attachment path as imported audio.
func (c *Controller) AttachRecording(a *state.AudioAttachment) {
	c.st.SetAudioAttachment(a, state.VoiceRecorded)
}

// RemoveAudio clears the staged narration audio.
func (c *Controller) RemoveAudio() {
	c.st.RemoveAudioAttachment()
}

// RemoveContent clears the imported content attachment.
func (c *Controller) RemoveContent() {
	c.st.RemoveContentAttachment()
}

// CanGenerate is the enablement rule for the Generate action: a non-empty
// selection and either resolvable script text or a staged audio attachment.
// Re-checked at submit time by the assembler; this predicate only drives the
// control's enabled state.
func (c *Controller) CanGenerate() bool {
	if c.st.SelectionCount() == 0 {
		return false
	}
	return c.st.ResolvedScript() != "" || c.st.AudioAttachment() != nil
}
