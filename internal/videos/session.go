// Package videos drives the generated-videos pane: paginated listing,
// thumbnail population, and background polling of in-flight generation jobs.
package videos

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/heygen-widget/internal/heygen"
)

// DefaultPageSize is the number of videos requested per page.
const DefaultPageSize = 12

// thumbnailBatchSize caps concurrent video_status lookups per batch.
const thumbnailBatchSize = 8

// Provider is the subset of the HeyGen client the session needs.
type Provider interface {
	ListVideos(ctx context.Context, limit int, token string) ([]heygen.Video, string, error)
	VideoStatus(ctx context.Context, videoID string) (*heygen.VideoDetail, error)
}

// Session holds the listing state for one widget connection's videos pane.
type Session struct {
	provider Provider
	pageSize int

	mu         sync.Mutex
	videos     []heygen.Video
	token      string
	exhausted  bool
	loading    bool
	populating bool
	suppressed map[string]bool // video IDs whose thumbnail lookup 4xx'd

	// batchDelay spaces thumbnail batches apart. Tests set it to zero.
	batchDelay time.Duration
}

// NewSession creates a Session backed by the given provider.
func NewSession(provider Provider) *Session {
	return &Session{
		provider:   provider,
		pageSize:   DefaultPageSize,
		suppressed: make(map[string]bool),
		batchDelay: 500 * time.Millisecond,
	}
}

// Videos returns a copy of the currently loaded videos.
func (s *Session) Videos() []heygen.Video {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]heygen.Video, len(s.videos))
	copy(out, s.videos)
	return out
}

// HasMore reports whether another page is available.
func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.exhausted
}

// Load fetches the first page, replacing any previously loaded state.
func (s *Session) Load(ctx context.Context) ([]heygen.Video, error) {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return s.videosLocked(), nil
	}
	s.loading = true
	s.mu.Unlock()

	page, token, err := s.provider.ListVideos(ctx, s.pageSize, "")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		return nil, err
	}
	s.videos = page
	s.token = token
	s.exhausted = token == ""
	return s.videosLocked(), nil
}

// LoadMore appends the next page. Calls while a fetch is already in flight,
// or after the listing is exhausted, return the current videos unchanged.
func (s *Session) LoadMore(ctx context.Context) ([]heygen.Video, error) {
	s.mu.Lock()
	if s.loading || s.exhausted {
		defer s.mu.Unlock()
		return s.videosLocked(), nil
	}
	s.loading = true
	token := s.token
	s.mu.Unlock()

	page, next, err := s.provider.ListVideos(ctx, s.pageSize, token)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		return nil, err
	}
	s.videos = append(s.videos, page...)
	s.token = next
	s.exhausted = next == ""
	return s.videosLocked(), nil
}

// videosLocked returns a copy of s.videos. Caller must hold s.mu.
func (s *Session) videosLocked() []heygen.Video {
	out := make([]heygen.Video, len(s.videos))
	copy(out, s.videos)
	return out
}

// PopulateThumbnails fills in missing thumbnails via video_status lookups,
// in batches of at most eight concurrent requests. A 4xx response for a
// video suppresses further lookups for that video permanently; transient
// failures are retried on the next call. A call while a previous run is
// still in flight is a no-op, so overlapping runs cannot exceed the batch
// bound or double-fetch a video.
func (s *Session) PopulateThumbnails(ctx context.Context) {
	s.mu.Lock()
	if s.populating {
		s.mu.Unlock()
		return
	}
	s.populating = true
	var pending []string
	for _, v := range s.videos {
		if v.Thumb == "" && !s.suppressed[v.ID] {
			pending = append(pending, v.ID)
		}
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.populating = false
		s.mu.Unlock()
	}()

	for start := 0; start < len(pending); start += thumbnailBatchSize {
		if ctx.Err() != nil {
			return
		}
		end := start + thumbnailBatchSize
		if end > len(pending) {
			end = len(pending)
		}

		var wg sync.WaitGroup
		for _, id := range pending[start:end] {
			wg.Add(1)
			go func(videoID string) {
				defer wg.Done()
				s.fetchThumbnail(ctx, videoID)
			}(id)
		}
		wg.Wait()

		if end < len(pending) && s.batchDelay > 0 {
			select {
			case <-time.After(s.batchDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Session) fetchThumbnail(ctx context.Context, videoID string) {
	detail, err := s.provider.VideoStatus(ctx, videoID)
	if err != nil {
		if heygen.IsClientError(err) {
			s.mu.Lock()
			s.suppressed[videoID] = true
			s.mu.Unlock()
			log.Debug().Str("videoId", videoID).Err(err).Msg("Thumbnail lookup rejected, suppressing")
		}
		return
	}
	if detail.ThumbnailURL == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.videos {
		if s.videos[i].ID == videoID {
			s.videos[i].Thumb = detail.ThumbnailURL
			break
		}
	}
}
