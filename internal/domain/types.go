package domain

import "time"

// JobStatus tracks each lifecycle stage of a single transcription job.
type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"
	JobStatusUploading    JobStatus = "uploading"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusInitializing JobStatus = "initializing"
	JobStatusTranscribing JobStatus = "transcribing"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
)

// Terminal reports whether the status allows no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Result contains the transcript together with token usage and cost accounting.
type Result struct {
	Text         string  `json:"text"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	TotalCost    float64 `json:"total_cost"`
}

// Job stores one transcription request and its evolving state.
//
// The id and submission metadata are immutable after creation. Exactly one
// of Error/Result is set once the job reaches a terminal status.
type Job struct {
	ID               string    `json:"id"`
	Status           JobStatus `json:"status"`
	Progress         int       `json:"progress"`
	Stage            string    `json:"stage"`
	Filename         string    `json:"filename,omitempty"`
	Language         string    `json:"language,omitempty"`
	ConversationType string    `json:"conversation_type,omitempty"`
	Error            string    `json:"error,omitempty"`
	Result           *Result   `json:"result,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
