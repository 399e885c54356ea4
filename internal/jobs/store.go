package jobs

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"audio-transcriber/internal/domain"
)

// ErrJobNotFound is returned when a job id is unknown to the store.
var ErrJobNotFound = errors.New("job not found")

// ErrJobTerminal is returned when an update targets a finished job.
var ErrJobTerminal = errors.New("job is in a terminal state")

// Metadata carries the immutable submission fields recorded at creation.
type Metadata struct {
	Filename         string
	Language         string
	ConversationType string
}

// Store is a concurrency-safe registry of jobs keyed by id.
//
// Each job record carries its own lock, so updates to distinct jobs never
// contend; the outer lock only guards the map itself.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*storeEntry
}

type storeEntry struct {
	mu  sync.Mutex
	job domain.Job
}

// NewStore creates an empty in-memory job store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*storeEntry)}
}

// Create registers a new pending job with a generated id and returns a snapshot.
func (s *Store) Create(meta Metadata) domain.Job {
	job := domain.Job{
		ID:               uuid.NewString(),
		Status:           domain.JobStatusPending,
		Progress:         percentPending,
		Stage:            stageFor(domain.JobStatusPending),
		Filename:         meta.Filename,
		Language:         meta.Language,
		ConversationType: meta.ConversationType,
		CreatedAt:        time.Now().UTC(),
	}

	s.mu.Lock()
	s.jobs[job.ID] = &storeEntry{job: job}
	s.mu.Unlock()

	return job
}

// Get returns a snapshot of the job or ErrJobNotFound.
func (s *Store) Get(id string) (domain.Job, error) {
	entry, err := s.entry(id)
	if err != nil {
		return domain.Job{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.job, nil
}

// Exists reports whether the id is known to the store.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.jobs[id]
	return ok
}

// Update applies mutate atomically to a single job and returns the updated
// snapshot. The mutation is discarded when mutate returns an error. Jobs in
// a terminal state reject all further updates with ErrJobTerminal.
func (s *Store) Update(id string, mutate func(*domain.Job) error) (domain.Job, error) {
	entry, err := s.entry(id)
	if err != nil {
		return domain.Job{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.job.Status.Terminal() {
		return domain.Job{}, ErrJobTerminal
	}

	updated := entry.job
	if err := mutate(&updated); err != nil {
		return domain.Job{}, err
	}

	entry.job = updated
	return updated, nil
}

// CleanupOlderThan removes terminal jobs created more than maxAge ago and
// returns their ids. Active jobs are never evicted.
func (s *Store) CleanupOlderThan(maxAge time.Duration) []string {
	cutoff := time.Now().UTC().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, entry := range s.jobs {
		entry.mu.Lock()
		expired := entry.job.Status.Terminal() && entry.job.CreatedAt.Before(cutoff)
		entry.mu.Unlock()

		if expired {
			delete(s.jobs, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// entry resolves the locked record for one job id.
func (s *Store) entry(id string) (*storeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return entry, nil
}
