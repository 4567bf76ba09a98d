package state

import (
	"strings"

	"github.com/fpang/heygen-widget/internal/textutil"
)

// ResolvedScript returns the effective script text for submission: the
// markup-stripped project content when the script source is project content,
// otherwise the free-typed text. Always trimmed.
func (s *Store) ResolvedScript() string {
	s.mu.Lock()
	source := s.scriptSource
	text := s.scriptText
	parent := s.parent
	s.mu.Unlock()

	if source == ScriptProjectContent && parent != nil {
		return strings.TrimSpace(textutil.StripMarkup(parent.ProjectContent))
	}
	return strings.TrimSpace(text)
}
