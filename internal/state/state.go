// Package state holds the widget's session state: the current view, the
// parent context received during the handshake, the avatar selection, and the
// script/audio composer slots.
//
// Mutation methods that touch the composer go through SetContentAttachment,
// SetAudioAttachment, and SetScriptText so the mutual-exclusion rule (at most
// one of content attachment / audio attachment) holds after every action.
// Call sites never clear the opposite slot themselves.
package state

// View is the single cursor controlling which screen is visible.
type View string

const (
	ViewHome   View = "HOME"
	ViewSelect View = "SELECT"
	ViewGroup  View = "GROUP"
	ViewReview View = "REVIEW"
)

// ScriptSource selects where the script text originates.
type ScriptSource string

const (
	ScriptManual         ScriptSource = "manual"
	ScriptProjectContent ScriptSource = "project_content"
)

// VoiceSource selects where the narration audio originates.
type VoiceSource string

const (
	VoiceHeygen       VoiceSource = "heygen"
	VoiceProjectAudio VoiceSource = "project_audio"
	VoiceRecorded     VoiceSource = "recorded"
)

// MediaItem is one project media entry from the host's INIT payload.
type MediaItem struct {
	MediaUUID string  `json:"media_uuid"`
	Kind      string  `json:"type"` // "video" | "audio" | "image"
	Name      string  `json:"name"`
	URL       string  `json:"url"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Size      int64   `json:"size"`
	MIMEType  string  `json:"mime_type"`
	CreatedAt string  `json:"created_at"`
}

// ParentContext is the host-provided context received once during the
// handshake. Immutable for the session lifetime after receipt.
type ParentContext struct {
	ProjectID         string
	OrganizationID    string
	UserID            string
	AppInstallationID string
	Permissions       []string

	// ProjectContent is the project's rich-text document, raw as received.
	ProjectContent string
	// ProjectAudio is the project media list filtered to audio items.
	ProjectAudio []MediaItem
}

// Group is an avatar group from the generation provider.
type Group struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// Avatar belongs to exactly one group.
type Avatar struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
	Video string `json:"video,omitempty"`
}

// ContentAttachment marks the composer text as imported from project content
// rather than typed freehand.
type ContentAttachment struct {
	Source string `json:"source"` // always "project_content"
	Label  string `json:"label"`
}

// AudioAttachment is the narration audio staged for the pending job. Data is
// non-nil only for a fresh recording that has not been uploaded yet.
type AudioAttachment struct {
	URL      string  `json:"url"`
	Name     string  `json:"name"`
	Duration float64 `json:"duration"`
	Data     []byte  `json:"-"`
	MIMEType string  `json:"-"`
}
