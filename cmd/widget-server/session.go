package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/heygen-widget/internal/assemble"
	"github.com/fpang/heygen-widget/internal/flow"
	"github.com/fpang/heygen-widget/internal/frame"
	"github.com/fpang/heygen-widget/internal/handshake"
	"github.com/fpang/heygen-widget/internal/heygen"
	"github.com/fpang/heygen-widget/internal/recorder"
	"github.com/fpang/heygen-widget/internal/secrets"
	"github.com/fpang/heygen-widget/internal/state"
	"github.com/fpang/heygen-widget/internal/store"
	"github.com/fpang/heygen-widget/internal/textutil"
	"github.com/fpang/heygen-widget/internal/upload"
	"github.com/fpang/heygen-widget/internal/videos"
)

// server holds the shared dependencies and the live session registry.
type server struct {
	store       store.WidgetStore
	box         *secrets.Box
	uploader    upload.Uploader
	origins     []string
	callbackURL string

	// heygenBase overrides the provider host; tests point it at a local server.
	heygenBase string

	mu       sync.Mutex
	sessions map[string]*session
}

// session is one widget connection: frame channel, handshake outcome, and
// the controllers layered on top. The intent mutex serializes all state
// transitions for the session, so each intent observes the previous one's
// complete effect.
type session struct {
	id        string
	srv       *server
	messenger *frame.Messenger
	transport *frame.WSTransport

	st  *state.Store
	rec *recorder.Recorder

	// ctx lives as long as the frame channel; cancel tears the session down.
	// Background work (the job poller) binds to ctx, not to the intent
	// request that started it.
	ctx    context.Context
	cancel context.CancelFunc

	intentMu  sync.Mutex
	ready     bool
	readyErr  string
	flow      *flow.Controller
	videos    *videos.Session
	poller    *videos.Poller
	assembler *assemble.Assembler
	provider  *heygen.Client
}

func (s *server) addSession(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.id] = sess
}

func (s *server) removeSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *server) getSession(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.cancel()
		sess.transport.Close()
	}
	s.sessions = make(map[string]*session)
}

// newSession wires a fresh session around an upgraded frame transport.
func (s *server) newSession(transport *frame.WSTransport, messenger *frame.Messenger) *session {
	return &session{
		id:        uuid.NewString(),
		srv:       s,
		messenger: messenger,
		transport: transport,
		st:        state.NewStore(),
		rec:       recorder.New(),
	}
}

// run performs the handshake and, on success, arms the session's
// controllers. Handshake failures are reported to the host over the frame
// channel; the session stays registered so its status is inspectable.
func (sess *session) run(ctx context.Context) {
	hs := handshake.NewController(sess.messenger, 0)
	parent, err := hs.Establish(ctx)
	if err != nil {
		sess.intentMu.Lock()
		sess.readyErr = err.Error()
		sess.intentMu.Unlock()

		sess.messenger.ReportError(err.Error(), "HEYGEN_INIT_FAILED")
		log.Error().Err(err).Str("sessionId", sess.id).Msg("Session handshake failed")
		return
	}

	sess.st.SetParentContext(parent)

	// The host replies to permission requests under the same message type;
	// grants extend the parent context so e.g. the recorder can proceed.
	sess.messenger.On(frame.TypeRequestPermission, func(env frame.Envelope) {
		var resp frame.PermissionResponsePayload
		if err := json.Unmarshal(env.Payload, &resp); err != nil {
			log.Debug().Err(err).Str("sessionId", sess.id).Msg("Malformed permission response")
			return
		}
		if resp.Granted {
			sess.st.GrantPermission(resp.Permission)
		}
		log.Info().
			Str("sessionId", sess.id).
			Str("permission", resp.Permission).
			Bool("granted", resp.Granted).
			Msg("Permission response received")
	})

	// Keep the organization record fresh; the host is the source of truth.
	if err := sess.srv.store.UpsertOrganization(ctx, &store.Organization{ID: parent.OrganizationID}); err != nil {
		log.Warn().Err(err).Str("organizationId", parent.OrganizationID).Msg("Organization sync failed")
	}

	apiKey, err := sess.srv.resolveAPIKey(ctx, parent.OrganizationID)
	if err != nil {
		sess.intentMu.Lock()
		sess.readyErr = err.Error()
		sess.intentMu.Unlock()

		sess.messenger.ReportError(err.Error(), "HEYGEN_CREDENTIALS_MISSING")
		log.Error().Err(err).Str("sessionId", sess.id).Msg("No provider credential for session")
		return
	}
	sess.st.SetAPIKey(apiKey)

	var opts []heygen.Option
	if sess.srv.heygenBase != "" {
		opts = append(opts, heygen.WithBaseURL(sess.srv.heygenBase))
	}
	provider := heygen.NewClient(apiKey, opts...)

	uploader := sess.srv.uploader
	if uploader == nil {
		uploader = disabledUploader{}
	}
	assembler := assemble.New(sess.st, sess.srv.store, uploader)
	assembler.CallbackURL = sess.srv.callbackURL

	sess.intentMu.Lock()
	sess.provider = provider
	sess.flow = flow.NewController(sess.st, provider)
	sess.videos = videos.NewSession(provider)
	sess.poller = videos.NewPoller(sess.srv.store, provider, parent.OrganizationID)
	sess.assembler = assembler
	sess.ready = true
	sess.intentMu.Unlock()

	log.Info().
		Str("sessionId", sess.id).
		Str("organizationId", parent.OrganizationID).
		Msg("Session established")
}

// resolveAPIKey looks up and decrypts the organization's provider key.
func (s *server) resolveAPIKey(ctx context.Context, orgID string) (string, error) {
	cred, err := s.store.GetCredential(ctx, orgID, "heygen")
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", fmt.Errorf("no heygen credential stored for organization %s", orgID)
	}
	if s.box == nil {
		return "", errors.New("credential storage is not configured")
	}
	return s.box.Open(cred.Ciphertext)
}

// --- Intents ---

// intentRequest is the body of POST /api/session/{id}/intent.
type intentRequest struct {
	Intent    string `json:"intent"`
	GroupID   string `json:"groupId,omitempty"`
	GroupName string `json:"groupName,omitempty"`
	AvatarID  string `json:"avatarId,omitempty"`
	MediaUUID string `json:"mediaUuid,omitempty"`
	Text      string `json:"text,omitempty"`
	Name      string `json:"name,omitempty"`
	MIMEType  string `json:"mimeType,omitempty"`
	Chunk     string `json:"chunk,omitempty"` // base64 audio bytes

	// Host-bound message fields.
	Height   int            `json:"height,omitempty"`
	URL      string         `json:"url,omitempty"`
	External bool           `json:"external,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
	Merge    bool           `json:"merge,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// sessionStatus is the render model returned by session endpoints.
type sessionStatus struct {
	SessionID     string         `json:"sessionId"`
	Ready         bool           `json:"ready"`
	Error         string         `json:"error,omitempty"`
	State         state.Snapshot `json:"state"`
	AvatarsStatus avatarsStatus  `json:"avatarsStatus"`
	CanGenerate   bool           `json:"canGenerate"`
	Recorder      recorderStatus `json:"recorder"`
}

type avatarsStatus struct {
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
}

type recorderStatus struct {
	Phase      recorder.Phase `json:"phase"`
	DurationMS int64          `json:"durationMs"`
}

// videoItem is a provider video plus the relative age label the list pane
// shows under each title.
type videoItem struct {
	heygen.Video
	Ago string `json:"ago"`
}

func videoItems(list []heygen.Video) []videoItem {
	now := time.Now()
	items := make([]videoItem, len(list))
	for i, v := range list {
		items[i] = videoItem{Video: v, Ago: textutil.TimeAgo(v.CreatedAt, now)}
	}
	return items
}

// errUnknownIntent marks intents the dispatcher does not recognize.
var errUnknownIntent = errors.New("unknown intent")

// errNotReady rejects intents before the handshake completes.
var errNotReady = errors.New("session not established")

// status builds the session render model. Callers need not hold intentMu.
func (sess *session) status() sessionStatus {
	sess.intentMu.Lock()
	ready, readyErr, fc := sess.ready, sess.readyErr, sess.flow
	sess.intentMu.Unlock()

	out := sessionStatus{
		SessionID: sess.id,
		Ready:     ready,
		Error:     readyErr,
		State:     sess.st.Snap(),
		Recorder: recorderStatus{
			Phase:      sess.rec.Phase(),
			DurationMS: sess.rec.Duration().Milliseconds(),
		},
	}
	if fc != nil {
		loading, errMsg := fc.AvatarsStatus()
		out.AvatarsStatus = avatarsStatus{Loading: loading, Error: errMsg}
		out.CanGenerate = fc.CanGenerate()
	}
	return out
}

// dispatch runs one intent. Intents are serialized per session: the mutex
// is held across the whole transition, so intents are atomic with respect
// to each other.
func (sess *session) dispatch(ctx context.Context, req intentRequest) (any, error) {
	sess.intentMu.Lock()
	defer sess.intentMu.Unlock()

	if !sess.ready {
		return nil, errNotReady
	}

	switch req.Intent {
	case "start_new_video":
		sess.flow.StartNewVideo()

	case "open_group":
		if req.GroupID == "" {
			return nil, errors.New("open_group: groupId required")
		}
		sess.flow.OpenGroup(ctx, state.Group{ID: req.GroupID, Name: req.GroupName})

	case "back_to_select":
		sess.flow.BackToSelect()

	case "toggle_avatar":
		if req.AvatarID == "" {
			return nil, errors.New("toggle_avatar: avatarId required")
		}
		sess.flow.ToggleAvatar(req.AvatarID)

	case "submit_to_review":
		if err := sess.flow.SubmitToReview(); err != nil {
			return nil, err
		}

	case "back_to_group":
		sess.flow.BackToGroup()

	case "edit_script":
		sess.flow.EditScript(req.Text)

	case "import_project_content":
		if err := sess.flow.ImportProjectContent(); err != nil {
			return nil, err
		}

	case "import_project_audio":
		if err := sess.flow.ImportProjectAudio(req.MediaUUID); err != nil {
			return nil, err
		}

	case "remove_audio":
		sess.flow.RemoveAudio()

	case "remove_content":
		sess.flow.RemoveContent()

	case "list_groups":
		groups, err := sess.provider.ListAvatarGroups(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"groups": groups}, nil

	case "record_start":
		if err := sess.rec.Start(req.MIMEType); err != nil {
			return nil, err
		}

	case "record_chunk":
		chunk, err := base64.StdEncoding.DecodeString(req.Chunk)
		if err != nil {
			return nil, fmt.Errorf("record_chunk: invalid base64: %w", err)
		}
		sess.rec.Append(chunk)

	case "record_pause":
		if err := sess.rec.Pause(); err != nil {
			return nil, err
		}

	case "record_resume":
		if err := sess.rec.Resume(); err != nil {
			return nil, err
		}

	case "record_stop":
		clip, err := sess.rec.Stop(req.Name)
		if err != nil {
			return nil, err
		}
		sess.flow.AttachRecording(&state.AudioAttachment{
			Name:     clip.Name,
			MIMEType: clip.MIMEType,
			Data:     clip.Data,
			Duration: clip.Duration.Seconds(),
		})

	case "record_discard":
		sess.rec.Discard()

	case "generate":
		job, err := sess.assembler.Generate(ctx)
		if err != nil {
			return nil, err
		}
		// The poller outlives the intent request but not the session:
		// closing the frame channel stops it.
		sess.poller.Ensure(sess.ctx)
		return map[string]any{"job": job}, nil

	case "videos_load":
		list, err := sess.videos.Load(ctx)
		if err != nil {
			return nil, err
		}
		go sess.videos.PopulateThumbnails(sess.ctx)
		return map[string]any{"videos": videoItems(list), "hasMore": sess.videos.HasMore()}, nil

	case "resize":
		if err := sess.messenger.Resize(req.Height); err != nil {
			return nil, err
		}

	case "navigate":
		if req.URL == "" {
			return nil, errors.New("navigate: url required")
		}
		if err := sess.messenger.Navigate(req.URL, req.External); err != nil {
			return nil, err
		}

	case "save_data":
		if err := sess.messenger.SaveData(req.Settings, req.Merge); err != nil {
			return nil, err
		}

	case "upload_to_project":
		if req.URL == "" {
			return nil, errors.New("upload_to_project: url required")
		}
		requestID, err := sess.messenger.UploadToProject(req.URL, req.Name, req.Metadata)
		if err != nil {
			return nil, err
		}
		return map[string]any{"requestId": requestID}, nil

	case "request_permission":
		if req.Name == "" {
			return nil, errors.New("request_permission: name required")
		}
		requestID, err := sess.messenger.RequestPermission(req.Name, req.Text)
		if err != nil {
			return nil, err
		}
		return map[string]any{"requestId": requestID}, nil

	case "videos_load_more":
		list, err := sess.videos.LoadMore(ctx)
		if err != nil {
			return nil, err
		}
		go sess.videos.PopulateThumbnails(sess.ctx)
		return map[string]any{"videos": videoItems(list), "hasMore": sess.videos.HasMore()}, nil

	default:
		return nil, fmt.Errorf("%w: %q", errUnknownIntent, req.Intent)
	}

	return nil, nil
}

// disabledUploader rejects uploads when no audio bucket is configured.
type disabledUploader struct{}

func (disabledUploader) UploadAudio(context.Context, string, string, string, []byte) (string, error) {
	return "", errors.New("audio upload is not configured")
}
