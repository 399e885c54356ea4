package jobs

import "audio-transcriber/internal/domain"

// Stage percents reported while a job advances. The first executor-owned
// stage starts at a nonzero value so observers see liveness immediately.
const (
	percentPending      = 0
	percentUploading    = 5
	percentProcessing   = 10
	percentInitializing = 20
	percentTranscribing = 30
	percentCompleted    = 100
)

// isValidTransition enforces the allowed job state machine edges: strictly
// forward along the lifecycle chain, with failed reachable from any
// non-terminal state. Terminal states accept nothing.
func isValidTransition(from, to domain.JobStatus) bool {
	if to == domain.JobStatusFailed {
		return !from.Terminal()
	}

	switch from {
	case domain.JobStatusPending:
		return to == domain.JobStatusUploading
	case domain.JobStatusUploading:
		return to == domain.JobStatusProcessing
	case domain.JobStatusProcessing:
		return to == domain.JobStatusInitializing
	case domain.JobStatusInitializing:
		return to == domain.JobStatusTranscribing
	case domain.JobStatusTranscribing:
		return to == domain.JobStatusCompleted
	default:
		return false
	}
}

// percentFor maps a status to its reported progress percent.
func percentFor(status domain.JobStatus) int {
	switch status {
	case domain.JobStatusUploading:
		return percentUploading
	case domain.JobStatusProcessing:
		return percentProcessing
	case domain.JobStatusInitializing:
		return percentInitializing
	case domain.JobStatusTranscribing:
		return percentTranscribing
	case domain.JobStatusCompleted:
		return percentCompleted
	default:
		return percentPending
	}
}

// stageFor returns the human-readable stage label for a status. The label
// is carried verbatim in broadcast events.
func stageFor(status domain.JobStatus) string {
	return string(status)
}
