package state

import (
	"sort"
	"sync"
)

// Store is the single source of truth for one widget session. All methods
// are safe for concurrent use; each method is one atomic transition, so
// rapid-fire intents (e.g. import content immediately followed by import
// audio) serialize instead of interleaving their clearing side effects.
type Store struct {
	mu sync.Mutex

	view   View
	parent *ParentContext
	apiKey string

	group    *Group
	avatars  []Avatar
	selected map[string]struct{}

	scriptText   string
	scriptSource ScriptSource
	voiceSource  VoiceSource
	content      *ContentAttachment
	audio        *AudioAttachment
}

// NewStore returns a store at the Home view with empty composer slots.
func NewStore() *Store {
	return &Store{
		view:         ViewHome,
		selected:     make(map[string]struct{}),
		scriptSource: ScriptManual,
		voiceSource:  VoiceHeygen,
	}
}

// --- View cursor ---

func (s *Store) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// SetView moves the view cursor. Dependent-state resets are the caller's
// responsibility (the flow package owns transition side effects).
func (s *Store) SetView(v View) {
	s.mu.Lock()
	s.view = v
	s.mu.Unlock()
}

// --- Parent context ---

// SetParentContext stores the host context. Written once by the handshake;
// nothing else may call this.
func (s *Store) SetParentContext(pc *ParentContext) {
	s.mu.Lock()
	s.parent = pc
	s.mu.Unlock()
}

func (s *Store) ParentContext() *ParentContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parent
}

// GrantPermission records a permission the host granted after the handshake.
// No-op without a parent context or when the permission is already present.
// The context is replaced, not mutated, so holders of a previous pointer
// never observe a partial write.
func (s *Store) GrantPermission(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parent == nil || name == "" {
		return
	}
	for _, p := range s.parent.Permissions {
		if p == name {
			return
		}
	}
	next := *s.parent
	next.Permissions = append(append([]string{}, s.parent.Permissions...), name)
	s.parent = &next
}

func (s *Store) SetAPIKey(key string) {
	s.mu.Lock()
	s.apiKey = key
	s.mu.Unlock()
}

func (s *Store) APIKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiKey
}

// --- Group and avatars ---

func (s *Store) SetGroup(g *Group) {
	s.mu.Lock()
	s.group = g
	s.mu.Unlock()
}

func (s *Store) Group() *Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.group
}

func (s *Store) SetAvatars(list []Avatar) {
	s.mu.Lock()
	s.avatars = list
	s.mu.Unlock()
}

func (s *Store) Avatars() []Avatar {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Avatar, len(s.avatars))
	copy(out, s.avatars)
	return out
}

// --- Selection ---

// ToggleAvatar flips membership of the avatar id in the selection set.
func (s *Store) ToggleAvatar(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.selected[id]; ok {
		delete(s.selected, id)
	} else {
		s.selected[id] = struct{}{}
	}
}

func (s *Store) ClearSelection() {
	s.mu.Lock()
	s.selected = make(map[string]struct{})
	s.mu.Unlock()
}

// SelectedIDs returns the selection in stable (sorted) order.
func (s *Store) SelectedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.selected))
	for id := range s.selected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) SelectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.selected)
}

func (s *Store) IsSelected(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.selected[id]
	return ok
}

// --- Composer: script and attachments ---

func (s *Store) ScriptText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scriptText
}

func (s *Store) ScriptSource() ScriptSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scriptSource
}

func (s *Store) VoiceSource() VoiceSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voiceSource
}

func (s *Store) ContentAttachment() *ContentAttachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

func (s *Store) AudioAttachment() *AudioAttachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// SetScriptText records freehand typing. Non-empty input signals intent to
// go manual: any staged content or audio attachment is cleared and both
// sources reset.
func (s *Store) SetScriptText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scriptText = text
	if text == "" {
		return
	}
	if s.audio != nil {
		s.audio = nil
		s.voiceSource = VoiceHeygen
	}
	if s.content != nil {
		s.content = nil
		s.scriptSource = ScriptManual
	}
}

// SetContentAttachment stages imported project content as the script. The
// script text is replaced with the stripped import and any audio attachment
// is cleared (voice falls back to provider synthesis).
func (s *Store) SetContentAttachment(label, strippedText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = &ContentAttachment{Source: string(ScriptProjectContent), Label: label}
	s.scriptSource = ScriptProjectContent
	s.scriptText = strippedText
	s.audio = nil
	s.voiceSource = VoiceHeygen
}

// SetAudioAttachment stages narration audio. Any content attachment and any
// free-typed script text are cleared; the script source resets to manual.
func (s *Store) SetAudioAttachment(a *AudioAttachment, source VoiceSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = a
	s.voiceSource = source
	s.content = nil
	s.scriptSource = ScriptManual
	s.scriptText = ""
}

// RemoveAudioAttachment clears the staged audio and falls back to
// provider-synthesized voice.
func (s *Store) RemoveAudioAttachment() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = nil
	s.voiceSource = VoiceHeygen
}

// RemoveContentAttachment clears the imported content, resets the script
// source to manual, and clears the script text that came with the import.
func (s *Store) RemoveContentAttachment() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = nil
	s.scriptSource = ScriptManual
	s.scriptText = ""
}

// ResetComposer returns the composer to a fresh slate after a successful
// submission: selection, script, attachments, and sources all clear.
func (s *Store) ResetComposer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = make(map[string]struct{})
	s.scriptText = ""
	s.scriptSource = ScriptManual
	s.voiceSource = VoiceHeygen
	s.content = nil
	s.audio = nil
}

// Snapshot is a read-only copy of the fields the UI renders.
type Snapshot struct {
	View              View               `json:"view"`
	Group             *Group             `json:"group,omitempty"`
	Avatars           []Avatar           `json:"avatars"`
	SelectedIDs       []string           `json:"selectedIds"`
	ScriptText        string             `json:"scriptText"`
	ScriptSource      ScriptSource       `json:"scriptSource"`
	VoiceSource       VoiceSource        `json:"voiceSource"`
	ContentAttachment *ContentAttachment `json:"contentAttachment,omitempty"`
	AudioAttachment   *AudioAttachment   `json:"audioAttachment,omitempty"`
}

// Snap captures the current state in one lock acquisition.
func (s *Store) Snap() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	avatars := make([]Avatar, len(s.avatars))
	copy(avatars, s.avatars)
	return Snapshot{
		View:              s.view,
		Group:             s.group,
		Avatars:           avatars,
		SelectedIDs:       ids,
		ScriptText:        s.scriptText,
		ScriptSource:      s.scriptSource,
		VoiceSource:       s.voiceSource,
		ContentAttachment: s.content,
		AudioAttachment:   s.audio,
	}
}
