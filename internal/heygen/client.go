// Package heygen is a thin client for the HeyGen avatar/video API. All calls
// carry the caller-supplied API key in the x-api-key header; the package does
// no retrying — callers decide how a failure surfaces in their view.
package heygen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/heygen-widget/internal/state"
	"github.com/fpang/heygen-widget/internal/textutil"
)

// DefaultBaseURL is the production HeyGen API host.
const DefaultBaseURL = "https://api.heygen.com"

// APIError is a non-2xx response from HeyGen. Callers inspect Status to
// distinguish client errors (suppress, don't retry) from transient failures.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("heygen: API returned %d: %s", e.Status, e.Body)
}

// IsClientError reports whether the error is a HeyGen 4xx response.
func IsClientError(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status >= 400 && apiErr.Status < 500
}

// Client calls the HeyGen API on behalf of one organization's key.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API host (tests point this at a local server).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a client for the given API key.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Video is one entry of the generated-video listing.
type Video struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
	Type      string `json:"type"`
	Thumb     string `json:"thumb,omitempty"`
}

// VideoDetail is the status record for a single video.
type VideoDetail struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ThumbnailURL string `json:"thumbnailUrl"`
	VideoURL     string `json:"videoUrl"`
}

// --- Wire shapes ---

type groupListResponse struct {
	Data struct {
		AvatarGroupList []struct {
			ID              string `json:"id"`
			Name            string `json:"name"`
			PreviewImage    string `json:"preview_image"`
			PreviewImageURL string `json:"preview_image_url"`
			PreviewVideoURL string `json:"preview_video_url"`
		} `json:"avatar_group_list"`
	} `json:"data"`
}

type avatarListResponse struct {
	Data struct {
		AvatarList []struct {
			AvatarID        string `json:"avatar_id"`
			AvatarName      string `json:"avatar_name"`
			PreviewImageURL string `json:"preview_image_url"`
			PreviewVideoURL string `json:"preview_video_url"`
		} `json:"avatar_list"`
	} `json:"data"`
}

type videoListResponse struct {
	Data struct {
		Videos []struct {
			VideoID    string `json:"video_id"`
			VideoTitle string `json:"video_title"`
			Status     string `json:"status"`
			CreatedAt  int64  `json:"created_at"`
			Type       string `json:"type"`
		} `json:"videos"`
		Token string `json:"token"`
	} `json:"data"`
}

type videoStatusResponse struct {
	Data struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		ThumbnailURL string `json:"thumbnail_url"`
		VideoURL     string `json:"video_url"`
	} `json:"data"`
}

// ListAvatarGroups returns the organization's private avatar groups with
// names start-cased and the best available preview image.
func (c *Client) ListAvatarGroups(ctx context.Context) ([]state.Group, error) {
	var resp groupListResponse
	if err := c.getJSON(ctx, "/v2/avatar_group.list?include_public=false", &resp); err != nil {
		return nil, err
	}

	groups := make([]state.Group, 0, len(resp.Data.AvatarGroupList))
	for _, g := range resp.Data.AvatarGroupList {
		image := g.PreviewImage
		if image == "" {
			image = g.PreviewImageURL
		}
		if image == "" {
			image = g.PreviewVideoURL
		}
		name := g.Name
		if name == "" {
			name = "Unnamed"
		}
		groups = append(groups, state.Group{
			ID:    g.ID,
			Name:  textutil.StartCase(name),
			Image: image,
		})
	}
	log.Debug().Int("count", len(groups)).Msg("Avatar groups fetched")
	return groups, nil
}

// ListGroupAvatars returns the avatars belonging to one group.
func (c *Client) ListGroupAvatars(ctx context.Context, groupID string) ([]state.Avatar, error) {
	var resp avatarListResponse
	path := "/v2/avatar_group/" + url.PathEscape(groupID) + "/avatars"
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}

	avatars := make([]state.Avatar, 0, len(resp.Data.AvatarList))
	for _, a := range resp.Data.AvatarList {
		avatars = append(avatars, state.Avatar{
			ID:    a.AvatarID,
			Name:  a.AvatarName,
			Image: a.PreviewImageURL,
			Video: a.PreviewVideoURL,
		})
	}
	return avatars, nil
}

// ListVideos returns one page of generated videos plus the continuation
// token for the next page ("" when exhausted). Pass token="" for the first
// page.
func (c *Client) ListVideos(ctx context.Context, limit int, token string) ([]Video, string, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if token != "" {
		q.Set("token", token)
	}

	var resp videoListResponse
	if err := c.getJSON(ctx, "/v1/video.list?"+q.Encode(), &resp); err != nil {
		return nil, "", err
	}

	videos := make([]Video, 0, len(resp.Data.Videos))
	for _, v := range resp.Data.Videos {
		title := v.VideoTitle
		if title == "" {
			title = "Untitled"
		}
		kind := v.Type
		if kind == "" {
			kind = "GENERATED"
		}
		videos = append(videos, Video{
			ID:        v.VideoID,
			Title:     title,
			Status:    v.Status,
			CreatedAt: v.CreatedAt,
			Type:      kind,
		})
	}
	return videos, resp.Data.Token, nil
}

// VideoStatus fetches the status/thumbnail record for a single video.
func (c *Client) VideoStatus(ctx context.Context, videoID string) (*VideoDetail, error) {
	q := url.Values{}
	q.Set("video_id", videoID)

	var resp videoStatusResponse
	if err := c.getJSON(ctx, "/v1/video_status.get?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return &VideoDetail{
		ID:           resp.Data.ID,
		Status:       resp.Data.Status,
		ThumbnailURL: resp.Data.ThumbnailURL,
		VideoURL:     resp.Data.VideoURL,
	}, nil
}

// Proxy forwards an arbitrary request to the HeyGen API and returns the raw
// response body. Backs the widget's generic proxy endpoint.
func (c *Client) Proxy(ctx context.Context, method, rawURL string, body []byte) ([]byte, error) {
	var reader io.Reader
	if len(body) > 0 && method != http.MethodGet {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	if reader != nil {
		req.Header.Set("content-type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: truncate(string(data), 200)}
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
