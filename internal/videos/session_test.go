package videos

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fpang/heygen-widget/internal/heygen"
	"github.com/fpang/heygen-widget/internal/store"
)

// fakeProvider serves canned pages and video details, recording calls.
type fakeProvider struct {
	mu          sync.Mutex
	pages       map[string]fakePage // token → page ("" = first)
	details     map[string]*heygen.VideoDetail
	detailErrs  map[string]error
	listCalls   int32
	statusCalls map[string]int
	listGate    chan struct{} // when set, ListVideos blocks until closed
	statusGate  chan struct{} // when set, VideoStatus blocks until closed
}

type fakePage struct {
	videos []heygen.Video
	next   string
}

func (f *fakeProvider) ListVideos(ctx context.Context, limit int, token string) ([]heygen.Video, string, error) {
	atomic.AddInt32(&f.listCalls, 1)
	if f.listGate != nil {
		<-f.listGate
	}
	page := f.pages[token]
	return page.videos, page.next, nil
}

func (f *fakeProvider) VideoStatus(ctx context.Context, videoID string) (*heygen.VideoDetail, error) {
	f.mu.Lock()
	if f.statusCalls == nil {
		f.statusCalls = make(map[string]int)
	}
	f.statusCalls[videoID]++
	f.mu.Unlock()

	if f.statusGate != nil {
		<-f.statusGate
	}

	if err := f.detailErrs[videoID]; err != nil {
		return nil, err
	}
	if d := f.details[videoID]; d != nil {
		return d, nil
	}
	return &heygen.VideoDetail{ID: videoID}, nil
}

func vids(ids ...string) []heygen.Video {
	out := make([]heygen.Video, len(ids))
	for i, id := range ids {
		out[i] = heygen.Video{ID: id, Title: id}
	}
	return out
}

func TestSession_LoadThenLoadMore(t *testing.T) {
	provider := &fakeProvider{pages: map[string]fakePage{
		"":   {videos: vids("v1", "v2"), next: "t1"},
		"t1": {videos: vids("v3"), next: ""},
	}}
	s := NewSession(provider)

	page, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(page) != 2 || !s.HasMore() {
		t.Fatalf("after Load: %d videos, HasMore=%v", len(page), s.HasMore())
	}

	page, err = s.LoadMore(context.Background())
	if err != nil {
		t.Fatalf("LoadMore: %v", err)
	}
	if len(page) != 3 || s.HasMore() {
		t.Fatalf("after LoadMore: %d videos, HasMore=%v", len(page), s.HasMore())
	}

	// Exhausted listing: further LoadMore calls issue no requests.
	before := atomic.LoadInt32(&provider.listCalls)
	if _, err := s.LoadMore(context.Background()); err != nil {
		t.Fatalf("LoadMore exhausted: %v", err)
	}
	if got := atomic.LoadInt32(&provider.listCalls); got != before {
		t.Errorf("exhausted LoadMore issued a request (%d → %d)", before, got)
	}
}

func TestSession_LoadMoreInFlightGuard(t *testing.T) {
	gate := make(chan struct{})
	provider := &fakeProvider{
		listGate: gate,
		pages: map[string]fakePage{
			"":   {videos: vids("v1"), next: "t1"},
			"t1": {videos: vids("v2"), next: ""},
		},
	}
	s := NewSession(provider)
	s.token = "t1" // pretend first page already loaded

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.LoadMore(context.Background())
	}()

	// Wait for the first call to be in flight.
	for atomic.LoadInt32(&provider.listCalls) == 0 {
		time.Sleep(time.Millisecond)
	}

	// Second call while in flight must not issue a request.
	if _, err := s.LoadMore(context.Background()); err != nil {
		t.Fatalf("guarded LoadMore: %v", err)
	}
	if got := atomic.LoadInt32(&provider.listCalls); got != 1 {
		t.Fatalf("in-flight guard failed: %d list calls", got)
	}

	close(gate)
	<-done
}

func TestPopulateThumbnails_FillsAndSuppresses(t *testing.T) {
	provider := &fakeProvider{
		pages: map[string]fakePage{
			"": {videos: vids("v1", "v2", "v3"), next: ""},
		},
		details: map[string]*heygen.VideoDetail{
			"v1": {ID: "v1", ThumbnailURL: "thumb-1"},
			"v3": {ID: "v3", ThumbnailURL: "thumb-3"},
		},
		detailErrs: map[string]error{
			"v2": &heygen.APIError{Status: http.StatusNotFound, Body: "gone"},
		},
	}
	s := NewSession(provider)
	s.batchDelay = 0

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	s.PopulateThumbnails(context.Background())
	videos := s.Videos()
	if videos[0].Thumb != "thumb-1" || videos[2].Thumb != "thumb-3" {
		t.Errorf("thumbnails missing: %+v", videos)
	}
	if videos[1].Thumb != "" {
		t.Errorf("4xx video got a thumbnail: %+v", videos[1])
	}

	// Second pass must not retry the suppressed video.
	s.PopulateThumbnails(context.Background())
	if got := provider.statusCalls["v2"]; got != 1 {
		t.Errorf("suppressed video looked up %d times, want 1", got)
	}
}

func TestPopulateThumbnails_TransientErrorRetried(t *testing.T) {
	provider := &fakeProvider{
		pages: map[string]fakePage{
			"": {videos: vids("v1"), next: ""},
		},
		detailErrs: map[string]error{
			"v1": &heygen.APIError{Status: http.StatusInternalServerError, Body: "boom"},
		},
	}
	s := NewSession(provider)
	s.batchDelay = 0

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	s.PopulateThumbnails(context.Background())
	s.PopulateThumbnails(context.Background())
	if got := provider.statusCalls["v1"]; got != 2 {
		t.Errorf("transient-error video looked up %d times, want 2", got)
	}
}

func TestPopulateThumbnails_ConcurrentCallIsNoOp(t *testing.T) {
	gate := make(chan struct{})
	provider := &fakeProvider{
		pages: map[string]fakePage{
			"": {videos: vids("v1", "v2", "v3", "v4"), next: ""},
		},
		statusGate: gate,
	}
	s := NewSession(provider)
	s.batchDelay = 0

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.PopulateThumbnails(context.Background())
	}()

	// Wait for the first run's batch to be in flight.
	for {
		provider.mu.Lock()
		n := len(provider.statusCalls)
		provider.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	// A second call while the first is running must not issue lookups.
	s.PopulateThumbnails(context.Background())

	close(gate)
	<-done

	provider.mu.Lock()
	defer provider.mu.Unlock()
	for id, n := range provider.statusCalls {
		if n != 1 {
			t.Errorf("video %s looked up %d times, want 1", id, n)
		}
	}
}

func TestPoller_AdvancesJobsAndStops(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := st.CreateJob(ctx, &store.JobRequest{
		ID:             "job-1",
		OrganizationID: "org-1",
		ExternalJobID:  "v1",
		Status:         store.JobStatusProcessing,
	}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	provider := &fakeProvider{
		details: map[string]*heygen.VideoDetail{
			"v1": {ID: "v1", Status: "completed", VideoURL: "play-1"},
		},
	}
	p := NewPoller(st, provider, "org-1")

	active, err := p.poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if active != 0 {
		t.Errorf("active = %d after completion, want 0", active)
	}

	job, err := st.GetJob(ctx, "org-1", "job-1")
	if err != nil || job == nil {
		t.Fatalf("GetJob: %v, %v", job, err)
	}
	if job.Status != store.JobStatusCompleted {
		t.Errorf("status = %q, want completed", job.Status)
	}
	if job.Metadata["videoUrl"] != "play-1" {
		t.Errorf("videoUrl metadata = %q", job.Metadata["videoUrl"])
	}
}

func TestPoller_KeepsWatchingProcessing(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := st.CreateJob(ctx, &store.JobRequest{
		ID:             "job-1",
		OrganizationID: "org-1",
		ExternalJobID:  "v1",
		Status:         store.JobStatusPending,
	}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	provider := &fakeProvider{
		details: map[string]*heygen.VideoDetail{
			"v1": {ID: "v1", Status: "processing"},
		},
	}
	p := NewPoller(st, provider, "org-1")

	active, err := p.poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if active != 1 {
		t.Errorf("active = %d, want 1", active)
	}

	job, _ := st.GetJob(ctx, "org-1", "job-1")
	if job.Status != store.JobStatusProcessing {
		t.Errorf("status = %q, want processing", job.Status)
	}
}

func TestPoller_EnsureRunsAtMostOneLoop(t *testing.T) {
	st := store.NewMemoryStore()
	provider := &fakeProvider{}
	p := NewPoller(st, provider, "org-1")
	p.interval = time.Hour // ticks never fire; loop exits after first poll

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Ensure(ctx)
	if p.running.CompareAndSwap(false, true) {
		// Loop already exited (no active jobs) — restore and accept.
		p.running.Store(false)
		return
	}
	// While running, a second Ensure must not start another loop.
	p.Ensure(ctx)
}

func TestPoller_StopsOnContextCancel(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	// A pending job with no external id never reaches a terminal status,
	// so only context cancellation can stop the loop.
	if err := st.CreateJob(ctx, &store.JobRequest{
		ID:             "job-1",
		OrganizationID: "org-1",
		Status:         store.JobStatusPending,
	}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	p := NewPoller(st, &fakeProvider{}, "org-1")
	p.interval = time.Millisecond

	runCtx, cancel := context.WithCancel(ctx)
	p.Ensure(runCtx)
	if !p.running.Load() {
		t.Fatal("poller did not start")
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for p.running.Load() {
		if time.Now().After(deadline) {
			t.Fatal("poller still running after context cancel")
		}
		time.Sleep(time.Millisecond)
	}
}
