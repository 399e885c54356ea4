package jobs

import (
	"math/rand"
	"testing"

	"audio-transcriber/internal/domain"
)

// lifecycleChain is the forward order every job must follow.
var lifecycleChain = []domain.JobStatus{
	domain.JobStatusPending,
	domain.JobStatusUploading,
	domain.JobStatusProcessing,
	domain.JobStatusInitializing,
	domain.JobStatusTranscribing,
	domain.JobStatusCompleted,
}

// chainIndex returns the position of a status in the forward chain.
func chainIndex(s domain.JobStatus) int {
	for i, status := range lifecycleChain {
		if status == s {
			return i
		}
	}
	return -1
}

// TestTransitionTableExhaustive checks every status pair against the state
// machine contract: exactly one step forward along the chain, failed from
// any non-terminal state, nothing out of a terminal state.
func TestTransitionTableExhaustive(t *testing.T) {
	all := append([]domain.JobStatus{domain.JobStatusFailed}, lifecycleChain...)

	for _, from := range all {
		for _, to := range all {
			want := false
			if !from.Terminal() {
				if to == domain.JobStatusFailed {
					want = true
				} else if chainIndex(to) == chainIndex(from)+1 {
					want = true
				}
			}

			if got := isValidTransition(from, to); got != want {
				t.Fatalf("isValidTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

// TestRandomTransitionSequences drives random walks through the state
// machine and asserts accepted moves never go backward, never skip to a
// terminal state early, and stop at terminal states.
func TestRandomTransitionSequences(t *testing.T) {
	all := append([]domain.JobStatus{domain.JobStatusFailed}, lifecycleChain...)
	rng := rand.New(rand.NewSource(1))

	for walk := 0; walk < 200; walk++ {
		current := domain.JobStatusPending
		progress := 0

		for step := 0; step < 20; step++ {
			next := all[rng.Intn(len(all))]
			if !isValidTransition(current, next) {
				continue
			}

			if current.Terminal() {
				t.Fatalf("transition accepted out of terminal state %s", current)
			}
			if next != domain.JobStatusFailed && chainIndex(next) != chainIndex(current)+1 {
				t.Fatalf("non-adjacent transition accepted: %s -> %s", current, next)
			}
			if percentFor(next) != 0 && percentFor(next) < progress {
				t.Fatalf("progress regressed: %s(%d) -> %s(%d)", current, progress, next, percentFor(next))
			}

			if p := percentFor(next); p > progress {
				progress = p
			}
			current = next
		}
	}
}

// TestPercentForCompletion verifies only completion reaches 100 percent.
func TestPercentForCompletion(t *testing.T) {
	if percentFor(domain.JobStatusCompleted) != 100 {
		t.Fatalf("completed percent = %d, want 100", percentFor(domain.JobStatusCompleted))
	}
	for _, status := range lifecycleChain[:len(lifecycleChain)-1] {
		if percentFor(status) >= 100 {
			t.Fatalf("%s percent = %d, want < 100", status, percentFor(status))
		}
	}
	if percentFor(domain.JobStatusFailed) != 0 {
		t.Fatalf("failed percent = %d, want 0", percentFor(domain.JobStatusFailed))
	}
}
