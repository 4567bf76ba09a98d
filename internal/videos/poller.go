package videos

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/heygen-widget/internal/store"
)

// DefaultPollInterval is how often in-flight jobs are re-checked.
const DefaultPollInterval = 10 * time.Second

// statusForVideo maps a HeyGen video status onto a job status. Unknown
// statuses map to processing so the poller keeps watching them.
func statusForVideo(videoStatus string) string {
	switch videoStatus {
	case "completed":
		return store.JobStatusCompleted
	case "failed", "error":
		return store.JobStatusFailed
	default:
		return store.JobStatusProcessing
	}
}

// Poller watches an organization's non-terminal jobs and advances their
// status from HeyGen's video_status endpoint. The loop runs only while
// active jobs exist and exits on its own once every job is terminal.
type Poller struct {
	store    store.WidgetStore
	provider Provider
	orgID    string
	interval time.Duration

	running atomic.Bool
}

// NewPoller creates a Poller for one organization.
func NewPoller(st store.WidgetStore, provider Provider, orgID string) *Poller {
	return &Poller{
		store:    st,
		provider: provider,
		orgID:    orgID,
		interval: DefaultPollInterval,
	}
}

// Ensure starts the polling loop if it is not already running. Safe to call
// after every job creation; at most one loop runs per Poller.
func (p *Poller) Ensure(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	go p.run(ctx)
}

func (p *Poller) run(ctx context.Context) {
	defer p.running.Store(false)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Debug().Str("organizationId", p.orgID).Msg("Job poller started")
	for {
		active, err := p.poll(ctx)
		if err != nil {
			log.Warn().Err(err).Str("organizationId", p.orgID).Msg("Job poll failed")
		} else if active == 0 {
			log.Debug().Str("organizationId", p.orgID).Msg("No active jobs, poller stopping")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll advances every non-terminal job once and returns the number of jobs
// still active afterwards.
func (p *Poller) poll(ctx context.Context) (int, error) {
	jobs, err := p.store.ListJobs(ctx, p.orgID, "", 0)
	if err != nil {
		return 0, err
	}

	active := 0
	for _, job := range jobs {
		if store.IsTerminal(job.Status) {
			continue
		}
		if job.ExternalJobID == "" {
			// Not yet handed to the provider; nothing to check.
			active++
			continue
		}

		detail, err := p.provider.VideoStatus(ctx, job.ExternalJobID)
		if err != nil {
			log.Warn().Err(err).
				Str("jobId", job.ID).
				Str("externalJobId", job.ExternalJobID).
				Msg("Video status check failed")
			active++
			continue
		}

		next := statusForVideo(detail.Status)
		if next != job.Status {
			update := store.JobUpdate{Status: next}
			if detail.VideoURL != "" {
				update.Metadata = map[string]any{"videoUrl": detail.VideoURL}
			}
			if _, err := p.store.UpdateJob(ctx, p.orgID, job.ID, update); err != nil {
				log.Warn().Err(err).Str("jobId", job.ID).Msg("Job status update failed")
				active++
				continue
			}
			log.Info().
				Str("jobId", job.ID).
				Str("status", next).
				Msg("Job status advanced")
		}
		if !store.IsTerminal(next) {
			active++
		}
	}
	return active, nil
}
