package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"audio-transcriber/internal/domain"
)

// Transcriber runs the external transcription operation. It may block for
// seconds to minutes and is assumed to be billed, so the manager never
// invokes it more than once per job.
type Transcriber interface {
	Transcribe(ctx context.Context, path, language, conversationType string) (domain.Result, error)
}

// Submission carries one upload: its metadata plus the payload to stage.
type Submission struct {
	Filename         string
	Language         string
	ConversationType string
	Payload          io.Reader
}

// Config controls manager resources.
type Config struct {
	// UploadDir is where payloads are staged until the job finishes.
	UploadDir string
	// MaxWorkers bounds concurrently executing jobs; submissions beyond the
	// bound stay queued in the uploading state.
	MaxWorkers int64
	Logger     *slog.Logger
}

// Manager owns the job store and progress broadcaster, and drives each
// submitted job through an executor goroutine to a terminal state.
type Manager struct {
	store       *Store
	events      *Broadcaster
	transcriber Transcriber
	uploadDir   string
	sem         *semaphore.Weighted
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager executing jobs through the given transcriber.
func NewManager(transcriber Transcriber, cfg Config) *Manager {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:       NewStore(),
		events:      NewBroadcaster(),
		transcriber: transcriber,
		uploadDir:   cfg.UploadDir,
		sem:         semaphore.NewWeighted(cfg.MaxWorkers),
		logger:      cfg.Logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Submit creates a job, stages the payload, and starts its executor. It
// returns the job id without waiting on the transcription call. When
// staging fails the job is marked failed and the error is returned.
func (m *Manager) Submit(sub Submission) (string, error) {
	job := m.store.Create(Metadata{
		Filename:         sub.Filename,
		Language:         sub.Language,
		ConversationType: sub.ConversationType,
	})
	// The fresh pending job always accepts the uploading transition.
	_ = m.advance(job.ID, domain.JobStatusUploading)

	path, err := m.stagePayload(job.ID, sub)
	if err != nil {
		err = fmt.Errorf("stage upload: %w", err)
		m.fail(job.ID, err)
		return "", err
	}

	m.logger.Info("job submitted", "job_id", job.ID, "filename", sub.Filename)

	m.wg.Add(1)
	go m.run(job.ID, path, sub.Language, sub.ConversationType)
	return job.ID, nil
}

// Status returns a snapshot of the job or ErrJobNotFound.
func (m *Manager) Status(id string) (domain.Job, error) {
	return m.store.Get(id)
}

// Subscribe attaches an observer to the job's progress stream. The first
// event replays the job's current state; a finished job yields only its
// terminal event.
func (m *Manager) Subscribe(id string) (*Subscription, error) {
	job, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	return m.events.Subscribe(id, SnapshotEvent(job)), nil
}

// Cleanup evicts terminal jobs older than maxAge together with their
// broadcast state and returns the number removed.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	removed := m.store.CleanupOlderThan(maxAge)
	for _, id := range removed {
		m.events.Forget(id)
	}
	if len(removed) > 0 {
		m.logger.Info("evicted finished jobs", "count", len(removed))
	}
	return len(removed)
}

// Close cancels in-flight transcriptions and waits for all executors to
// reach a terminal state.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// run is the executor for one job: it drives the lifecycle chain, invokes
// the transcriber once, and converts any failure, including a panic, into
// the job's terminal failed state. Errors never escape to other jobs.
func (m *Manager) run(jobID, path, language, conversationType string) {
	defer m.wg.Done()
	defer m.removeStaged(path)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("executor panic", "job_id", jobID, "panic", r)
			m.fail(jobID, fmt.Errorf("internal error: %v", r))
		}
	}()

	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		m.fail(jobID, fmt.Errorf("acquire worker slot: %w", err))
		return
	}
	defer m.sem.Release(1)

	for _, status := range []domain.JobStatus{
		domain.JobStatusProcessing,
		domain.JobStatusInitializing,
		domain.JobStatusTranscribing,
	} {
		if err := m.advance(jobID, status); err != nil {
			m.fail(jobID, err)
			return
		}
	}

	result, err := m.transcriber.Transcribe(m.ctx, path, language, conversationType)
	if err != nil {
		m.logger.Error("transcription failed", "job_id", jobID, "error", err)
		m.fail(jobID, err)
		return
	}

	m.complete(jobID, result)
	m.logger.Info("job completed", "job_id", jobID)
}

// advance applies one forward transition and publishes the progress event.
func (m *Manager) advance(jobID string, status domain.JobStatus) error {
	job, err := m.store.Update(jobID, func(j *domain.Job) error {
		if !isValidTransition(j.Status, status) {
			return fmt.Errorf("invalid transition: %s -> %s", j.Status, status)
		}
		j.Status = status
		j.Stage = stageFor(status)
		j.Progress = percentFor(status)
		return nil
	})
	if err != nil {
		return err
	}

	m.events.Publish(jobID, Event{Type: EventTypeProgress, Stage: job.Stage, Percent: job.Progress})
	return nil
}

// complete records the result, then publishes the terminal event. The
// result is stored before notifying so observers reading the snapshot
// always see it.
func (m *Manager) complete(jobID string, result domain.Result) {
	job, err := m.store.Update(jobID, func(j *domain.Job) error {
		if !isValidTransition(j.Status, domain.JobStatusCompleted) {
			return fmt.Errorf("invalid transition: %s -> %s", j.Status, domain.JobStatusCompleted)
		}
		j.Status = domain.JobStatusCompleted
		j.Stage = stageFor(domain.JobStatusCompleted)
		j.Progress = percentCompleted
		j.Result = &result
		return nil
	})
	if err != nil {
		m.fail(jobID, err)
		return
	}

	m.events.Publish(jobID, Event{Type: EventTypeCompleted, Result: job.Result})
}

// fail moves the job to failed with a human-readable message and publishes
// the terminal error event. Safe from any non-terminal state; a job that
// already finished is left untouched.
func (m *Manager) fail(jobID string, cause error) {
	job, err := m.store.Update(jobID, func(j *domain.Job) error {
		j.Status = domain.JobStatusFailed
		j.Stage = stageFor(domain.JobStatusFailed)
		j.Error = cause.Error()
		return nil
	})
	if err != nil {
		m.logger.Error("mark job failed", "job_id", jobID, "error", err)
		return
	}

	m.events.Publish(jobID, Event{Type: EventTypeError, Message: job.Error})
}

// stagePayload copies the submission payload into the upload directory.
func (m *Manager) stagePayload(jobID string, sub Submission) (string, error) {
	if err := os.MkdirAll(m.uploadDir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(m.uploadDir, jobID+filepath.Ext(sub.Filename))
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(dst, sub.Payload); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}

	return path, dst.Close()
}

// removeStaged deletes the staged payload once the job is terminal.
func (m *Manager) removeStaged(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("remove staged upload", "path", path, "error", err)
	}
}
