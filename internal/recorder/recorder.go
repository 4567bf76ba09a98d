// Package recorder implements the audio capture state machine used by the
// script composer. The widget streams audio chunks over the frame channel;
// the recorder accumulates them and produces a single clip on stop.
package recorder

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Phase is the lifecycle state of a recorder.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRecording Phase = "recording"
	PhasePaused    Phase = "paused"
	PhaseStopped   Phase = "stopped"
)

// ErrNoClip is returned by Clip before a recording has been stopped.
var ErrNoClip = errors.New("recorder: no clip available")

// Clip is a finished recording.
type Clip struct {
	Name     string
	MIMEType string
	Data     []byte
	Duration time.Duration
}

// Recorder accumulates audio chunks across start/pause/resume cycles.
// At most one recording is in progress at a time; Start while recording
// or paused is rejected. All methods are safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	phase    Phase
	mimeType string
	chunks   [][]byte
	elapsed  time.Duration // accumulated across pauses
	started  time.Time     // start of the current recording segment

	// now is stubbed in tests.
	now func() time.Time
}

// New creates an idle Recorder.
func New() *Recorder {
	return &Recorder{
		phase: PhaseIdle,
		now:   time.Now,
	}
}

// Phase returns the current lifecycle state.
func (r *Recorder) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Start begins a new recording. Only valid from idle or stopped; starting
// over from stopped discards the previous clip.
func (r *Recorder) Start(mimeType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.phase {
	case PhaseIdle, PhaseStopped:
	default:
		return fmt.Errorf("recorder: cannot start while %s", r.phase)
	}

	if mimeType == "" {
		mimeType = "audio/webm"
	}
	r.phase = PhaseRecording
	r.mimeType = mimeType
	r.chunks = nil
	r.elapsed = 0
	r.started = r.now()
	return nil
}

// Append adds an audio chunk. Chunks arriving while paused or stopped are
// dropped — the capture source may flush a trailing buffer after pause.
func (r *Recorder) Append(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseRecording || len(chunk) == 0 {
		return
	}
	copied := make([]byte, len(chunk))
	copy(copied, chunk)
	r.chunks = append(r.chunks, copied)
}

// Pause suspends the recording, banking the elapsed time so far.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseRecording {
		return fmt.Errorf("recorder: cannot pause while %s", r.phase)
	}
	r.elapsed += r.now().Sub(r.started)
	r.phase = PhasePaused
	return nil
}

// Resume continues a paused recording.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhasePaused {
		return fmt.Errorf("recorder: cannot resume while %s", r.phase)
	}
	r.started = r.now()
	r.phase = PhaseRecording
	return nil
}

// Stop ends the recording and returns the assembled clip. Valid from
// recording or paused.
func (r *Recorder) Stop(name string) (*Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.phase {
	case PhaseRecording:
		r.elapsed += r.now().Sub(r.started)
	case PhasePaused:
	default:
		return nil, fmt.Errorf("recorder: cannot stop while %s", r.phase)
	}
	r.phase = PhaseStopped

	if name == "" {
		name = fmt.Sprintf("recording-%d.webm", r.now().UnixMilli())
	}

	total := 0
	for _, c := range r.chunks {
		total += len(c)
	}
	data := make([]byte, 0, total)
	for _, c := range r.chunks {
		data = append(data, c...)
	}

	return &Clip{
		Name:     name,
		MIMEType: r.mimeType,
		Data:     data,
		Duration: r.elapsed,
	}, nil
}

// Clip re-returns the last stopped clip, or ErrNoClip when none exists.
func (r *Recorder) Clip(name string) (*Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseStopped {
		return nil, ErrNoClip
	}

	total := 0
	for _, c := range r.chunks {
		total += len(c)
	}
	data := make([]byte, 0, total)
	for _, c := range r.chunks {
		data = append(data, c...)
	}
	if name == "" {
		name = fmt.Sprintf("recording-%d.webm", r.now().UnixMilli())
	}
	return &Clip{
		Name:     name,
		MIMEType: r.mimeType,
		Data:     data,
		Duration: r.elapsed,
	}, nil
}

// Duration returns the captured duration so far, including the in-progress
// segment when recording.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.elapsed
	if r.phase == PhaseRecording {
		d += r.now().Sub(r.started)
	}
	return d
}

// Discard throws away all captured audio and returns to idle.
func (r *Recorder) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.phase = PhaseIdle
	r.chunks = nil
	r.elapsed = 0
	r.mimeType = ""
}
