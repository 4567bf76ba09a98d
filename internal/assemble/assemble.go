// Package assemble turns the composer state into a persisted video
// generation job request. It is the single exit point of the review view:
// everything the user selected, typed, imported, or recorded funnels
// through Generate.
package assemble

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/heygen-widget/internal/state"
	"github.com/fpang/heygen-widget/internal/store"
	"github.com/fpang/heygen-widget/internal/upload"
)

var (
	// ErrNoAvatars is returned when no avatars are selected.
	ErrNoAvatars = errors.New("assemble: no avatars selected")

	// ErrNoContent is returned when the request has neither a script nor
	// an audio attachment.
	ErrNoContent = errors.New("assemble: script or audio required")
)

// Jobs is the slice of the widget store the assembler needs.
type Jobs interface {
	CreateJob(ctx context.Context, job *store.JobRequest) error
}

// Assembler builds and persists generation requests for one session.
type Assembler struct {
	st       *state.Store
	jobs     Jobs
	uploader upload.Uploader

	// CallbackURL is attached to every job so the provider can report
	// completion. Optional.
	CallbackURL string
}

// New creates an Assembler over the given session state.
func New(st *state.Store, jobs Jobs, uploader upload.Uploader) *Assembler {
	return &Assembler{st: st, jobs: jobs, uploader: uploader}
}

// Generate validates the composer state, uploads any recorded audio, and
// persists a pending job request. On success the composer is reset and the
// session returns to the home view. Any failure leaves the state untouched
// so the user can retry.
func (a *Assembler) Generate(ctx context.Context) (*store.JobRequest, error) {
	snap := a.st.Snap()
	if len(snap.SelectedIDs) == 0 {
		return nil, ErrNoAvatars
	}

	parent := a.st.ParentContext()
	orgID := ""
	if parent != nil {
		orgID = parent.OrganizationID
	}

	script := a.st.ResolvedScript()
	audio := snap.AudioAttachment
	if script == "" && audio == nil {
		return nil, ErrNoContent
	}

	// Recorded clips carry raw bytes and must be uploaded before the job
	// exists; an upload failure aborts the whole attempt.
	audioURL, audioName := "", ""
	if audio != nil {
		audioURL, audioName = audio.URL, audio.Name
		if len(audio.Data) > 0 {
			uploaded, err := a.uploader.UploadAudio(ctx, orgID, audio.Name, audio.MIMEType, audio.Data)
			if err != nil {
				return nil, fmt.Errorf("assemble: upload recorded audio: %w", err)
			}
			audioURL = uploaded
		}
	}

	// A fresh correlation ID per attempt keeps retries distinguishable
	// downstream.
	correlationID := uuid.NewString()

	job := &store.JobRequest{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		CorrelationID:  correlationID,
		CallbackURL:    a.CallbackURL,
		Status:         store.JobStatusPending,
		Metadata:       a.metadata(snap, script, audioURL, audioName),
	}

	if err := a.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("assemble: persist job: %w", err)
	}

	log.Info().
		Str("jobId", job.ID).
		Str("organizationId", job.OrganizationID).
		Str("correlationId", correlationID).
		Int("avatars", len(snap.SelectedIDs)).
		Bool("hasAudio", audioURL != "").
		Msg("Generation request created")

	a.st.ResetComposer()
	a.st.SetView(state.ViewHome)
	return job, nil
}

// metadata builds the job's metadata bag from the snapshot. Avatar ids and
// names stay arrays on the wire; list consumers index into them directly.
func (a *Assembler) metadata(snap state.Snapshot, script, audioURL, audioName string) map[string]any {
	names := make([]string, 0, len(snap.SelectedIDs))
	for _, id := range snap.SelectedIDs {
		for _, av := range snap.Avatars {
			if av.ID == id {
				names = append(names, av.Name)
				break
			}
		}
	}

	md := map[string]any{
		"avatarIds":   snap.SelectedIDs,
		"avatarNames": names,
	}
	if snap.Group != nil {
		md["groupId"] = snap.Group.ID
		md["groupName"] = snap.Group.Name
	}
	if script != "" {
		md["script"] = script
	}
	if audioURL != "" {
		md["audioUrl"] = audioURL
		md["audioName"] = audioName
	}
	return md
}
