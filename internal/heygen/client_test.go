package heygen

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", WithBaseURL(srv.URL))
}

func TestListAvatarGroups_StartCasesNamesAndPicksImage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/avatar_group.list" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("include_public"); got != "false" {
			t.Errorf("include_public = %q, want false", got)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		w.Write([]byte(`{"data":{"avatar_group_list":[
			{"id":"g1","name":"my_cool group","preview_image":"img1"},
			{"id":"g2","name":"plain","preview_image_url":"img2"},
			{"id":"g3","name":"","preview_video_url":"vid3"}
		]}}`))
	})

	groups, err := client.ListAvatarGroups(context.Background())
	if err != nil {
		t.Fatalf("ListAvatarGroups: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}
	if groups[0].Name != "My Cool Group" {
		t.Errorf("name = %q, want start-cased", groups[0].Name)
	}
	if groups[0].Image != "img1" || groups[1].Image != "img2" || groups[2].Image != "vid3" {
		t.Errorf("image fallback order wrong: %q %q %q", groups[0].Image, groups[1].Image, groups[2].Image)
	}
	if groups[2].Name != "Unnamed" {
		t.Errorf("empty name = %q, want Unnamed", groups[2].Name)
	}
}

func TestListGroupAvatars(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/avatar_group/g1/avatars" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"data":{"avatar_list":[
			{"avatar_id":"a1","avatar_name":"Anna","preview_image_url":"u1","preview_video_url":"v1"}
		]}}`))
	})

	avatars, err := client.ListGroupAvatars(context.Background(), "g1")
	if err != nil {
		t.Fatalf("ListGroupAvatars: %v", err)
	}
	if len(avatars) != 1 || avatars[0].ID != "a1" || avatars[0].Name != "Anna" {
		t.Fatalf("unexpected avatars: %+v", avatars)
	}
}

func TestListVideos_Pagination(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/video.list" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "12" {
			t.Errorf("limit = %q, want 12", got)
		}
		switch r.URL.Query().Get("token") {
		case "":
			w.Write([]byte(`{"data":{"videos":[
				{"video_id":"v1","video_title":"First","status":"completed","created_at":1700000000,"type":"GENERATED"},
				{"video_id":"v2","video_title":"","status":"processing","created_at":1700000100,"type":""}
			],"token":"next-1"}}`))
		case "next-1":
			w.Write([]byte(`{"data":{"videos":[
				{"video_id":"v3","video_title":"Third","status":"completed","created_at":1700000200,"type":"GENERATED"}
			],"token":""}}`))
		default:
			t.Errorf("unexpected token %q", r.URL.Query().Get("token"))
		}
	})

	videos, token, err := client.ListVideos(context.Background(), 12, "")
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(videos) != 2 || token != "next-1" {
		t.Fatalf("first page: %d videos, token %q", len(videos), token)
	}
	if videos[1].Title != "Untitled" || videos[1].Type != "GENERATED" {
		t.Errorf("defaults not applied: %+v", videos[1])
	}

	videos, token, err = client.ListVideos(context.Background(), 12, "next-1")
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(videos) != 1 || token != "" {
		t.Fatalf("second page: %d videos, token %q", len(videos), token)
	}
}

func TestVideoStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/video_status.get" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("video_id"); got != "v1" {
			t.Errorf("video_id = %q", got)
		}
		w.Write([]byte(`{"data":{"id":"v1","status":"completed","thumbnail_url":"thumb","video_url":"play"}}`))
	})

	detail, err := client.VideoStatus(context.Background(), "v1")
	if err != nil {
		t.Fatalf("VideoStatus: %v", err)
	}
	if detail.ThumbnailURL != "thumb" || detail.VideoURL != "play" {
		t.Fatalf("unexpected detail: %+v", detail)
	}
}

func TestAPIError_ClientError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	})

	_, err := client.ListAvatarGroups(context.Background())
	if err == nil {
		t.Fatal("expected error for 401")
	}
	if !IsClientError(err) {
		t.Errorf("IsClientError = false for 401: %v", err)
	}
}

func TestAPIError_ServerErrorNotClient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, _, err := client.ListVideos(context.Background(), 10, "")
	if err == nil {
		t.Fatal("expected error for 500")
	}
	if IsClientError(err) {
		t.Errorf("IsClientError = true for 500: %v", err)
	}
}
